package app

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func noop(context.Context) error { return nil }

func TestSchedulerRejectsBadSpec(t *testing.T) {
	_, err := NewScheduler(context.Background(), []Job{{Name: "broken", Spec: "every day", Run: noop}}, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestSchedulerSkipsDisabledJobs(t *testing.T) {
	s, err := NewScheduler(context.Background(), []Job{
		{Name: "daily_scrape", Spec: "0 6 * * *", Run: noop},
		{Name: "price_backfill", Spec: "", Run: noop},
	}, zap.NewNop())
	require.NoError(t, err)

	s.Start()
	defer s.Stop()

	next, ok := s.Next("daily_scrape")
	require.True(t, ok)
	assert.False(t, next.IsZero())
	assert.Equal(t, 6, next.Hour())

	_, ok = s.Next("price_backfill")
	assert.False(t, ok)
}

func TestSchedulerPassesContext(t *testing.T) {
	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "tracker")

	var got any
	calls := 0
	s, err := NewScheduler(ctx, nil, zap.NewNop())
	require.NoError(t, err)

	s.wrap(Job{Name: "daily_scrape", Run: func(ctx context.Context) error {
		calls++
		got = ctx.Value(key{})
		return errors.New("boom")
	}})()

	assert.Equal(t, 1, calls)
	assert.Equal(t, "tracker", got)
}
