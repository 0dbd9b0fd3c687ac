package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func recordingPolicy(attempts int, base time.Duration, delays *[]time.Duration) Policy {
	p := NewPolicy(attempts, base, zap.NewNop())
	p.sleep = func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
	return p
}

func TestRandomDelay_WithinBounds(t *testing.T) {
	for i := 0; i < 200; i++ {
		d := RandomDelay(10*time.Millisecond, 20*time.Millisecond)
		assert.GreaterOrEqual(t, d, 10*time.Millisecond)
		assert.LessOrEqual(t, d, 20*time.Millisecond)
	}
	assert.Equal(t, 5*time.Millisecond, RandomDelay(5*time.Millisecond, time.Millisecond))
}

func TestWithRetry_AlwaysFailing(t *testing.T) {
	var delays []time.Duration
	calls := 0
	boom := errors.New("boom")

	_, err := WithRetry(context.Background(), recordingPolicy(3, 100*time.Millisecond, &delays),
		func(context.Context) (int, error) {
			calls++
			return 0, boom
		})

	require.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, delays)
}

func TestWithRetry_SucceedsAfterFailure(t *testing.T) {
	var delays []time.Duration
	calls := 0

	val, err := WithRetry(context.Background(), recordingPolicy(3, time.Second, &delays),
		func(context.Context) (string, error) {
			calls++
			if calls == 1 {
				return "", errors.New("flaky")
			}
			return "ok", nil
		})

	require.NoError(t, err)
	assert.Equal(t, "ok", val)
	assert.Equal(t, 2, calls)
	assert.Equal(t, []time.Duration{time.Second}, delays)
}

func TestWithRetry_PermanentNotRetried(t *testing.T) {
	var delays []time.Duration
	calls := 0
	blocked := errors.New("challenge")

	err := Do(context.Background(), recordingPolicy(5, time.Millisecond, &delays),
		func(context.Context) error {
			calls++
			return Permanent(blocked)
		})

	require.ErrorIs(t, err, blocked)
	assert.True(t, IsPermanent(err))
	assert.Equal(t, 1, calls)
	assert.Empty(t, delays)
}

func TestWithRetry_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	err := Do(ctx, NewPolicy(3, time.Hour, zap.NewNop()), func(context.Context) error {
		calls++
		cancel()
		return errors.New("fail")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, Backoff(100*time.Millisecond, 1))
	assert.Equal(t, 400*time.Millisecond, Backoff(100*time.Millisecond, 3))
}

func TestPacer_LongPauseEveryN(t *testing.T) {
	p := NewPacer(time.Millisecond, 2*time.Millisecond, 3, time.Minute, 2*time.Minute)

	for i := 1; i <= 6; i++ {
		d := p.Next()
		if i%3 == 0 {
			assert.GreaterOrEqual(t, d, time.Minute, "request %d", i)
		} else {
			assert.LessOrEqual(t, d, 2*time.Millisecond, "request %d", i)
		}
	}
}

func TestSleep_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
}
