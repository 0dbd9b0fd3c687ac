package performance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vic_tracker/internal/models"
)

var t0 = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

func TestXIRRDoublingInOneYear(t *testing.T) {
	r, ok := XIRR([]CashFlow{
		{Date: t0, Amount: -1},
		{Date: t0.AddDate(0, 0, 365), Amount: 2},
	})
	require.True(t, ok)
	assert.InDelta(t, 1.0, r, 1e-6)
}

func TestXIRRTenPercent(t *testing.T) {
	r, ok := XIRR([]CashFlow{
		{Date: t0, Amount: -1},
		{Date: t0.AddDate(0, 0, 365), Amount: 1.1},
	})
	require.True(t, ok)
	assert.InDelta(t, 0.1, r, 1e-6)
}

func TestXIRRTotalLoss(t *testing.T) {
	r, ok := XIRR([]CashFlow{
		{Date: t0, Amount: -1},
		{Date: t0.AddDate(0, 0, 365), Amount: 0.01},
	})
	require.True(t, ok)
	assert.InDelta(t, -0.99, r, 1e-4)
}

func TestXIRRUndetermined(t *testing.T) {
	cases := map[string][]CashFlow{
		"single flow":  {{Date: t0, Amount: -1}},
		"all outflows": {{Date: t0, Amount: -1}, {Date: t0.AddDate(1, 0, 0), Amount: -1}},
		"same day":     {{Date: t0, Amount: -1}, {Date: t0, Amount: 2}},
	}
	for name, flows := range cases {
		t.Run(name, func(t *testing.T) {
			_, ok := XIRR(flows)
			assert.False(t, ok)
		})
	}
}

func TestBisectFallback(t *testing.T) {
	r, ok := bisect(func(r float64) float64 { return 2/(1+r) - 1 })
	require.True(t, ok)
	assert.InDelta(t, 1.0, r, 1e-6)
}

func TestReturnAndValue(t *testing.T) {
	assert.InDelta(t, 100.0, Return(models.PositionLong, 10, 20), 1e-9)
	assert.InDelta(t, 50.0, Return(models.PositionShort, 10, 5), 1e-9)
	assert.InDelta(t, 2.0, Value(models.PositionLong, 10, 20), 1e-9)
	assert.InDelta(t, 1.5, Value(models.PositionShort, 10, 5), 1e-9)
	assert.Equal(t, 0.0, Value(models.PositionShort, 10, 25), "a short never goes below zero")
}

func ptr(v float64) *float64 { return &v }

func posted(now time.Time, days int) *time.Time {
	d := now.AddDate(0, 0, -days)
	return &d
}

func TestCalculatorForAuthor(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	calc := Calculator{Now: func() time.Time { return now }}

	ideas := []models.Idea{
		{ExternalIdeaID: "1", Ticker: "ACME", PositionType: models.PositionLong, PostedDate: posted(now, 730), PriceAtRec: ptr(10)},
		{ExternalIdeaID: "2", Ticker: "BOLT", PositionType: models.PositionShort, PostedDate: posted(now, 1460), PriceAtRec: ptr(50)},
		{ExternalIdeaID: "3", Ticker: "OLDY", PositionType: models.PositionLong, PostedDate: posted(now, 2500), PriceAtRec: ptr(1)},
		{ExternalIdeaID: "4", Ticker: "NOPX", PositionType: models.PositionLong, PostedDate: posted(now, 100)},
		{ExternalIdeaID: "5", Ticker: "DEAD", PositionType: models.PositionLong, PostedDate: posted(now, 100), PriceAtRec: ptr(models.PriceFetchFailed)},
	}
	prices := map[string]float64{"ACME": 20, "BOLT": 25, "OLDY": 100, "DEAD": 3}

	m := calc.ForAuthor("Mack885", ideas, prices)

	assert.Equal(t, "mack885", m.UsernameLower)
	assert.Equal(t, 5, m.TotalPicks)
	assert.Equal(t, 2, m.ValidPicks)
	assert.Nil(t, m.XIRR1yr)
	require.NotNil(t, m.XIRR3yr)
	assert.Equal(t, 41.4, *m.XIRR3yr)
	require.NotNil(t, m.XIRR5yr)
	assert.Greater(t, *m.XIRR5yr, 0.0)
	require.NotNil(t, m.WinRate)
	assert.Equal(t, 100.0, *m.WinRate)
	assert.Equal(t, "ACME", m.BestPickTicker)
	assert.Equal(t, 100.0, *m.BestPickReturn)
}

func TestWindowXIRRIsCapped(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	calc := Calculator{Now: func() time.Time { return now }}
	ideas := []models.Idea{
		{Ticker: "MOON", PositionType: models.PositionLong, PostedDate: posted(now, 30), PriceAtRec: ptr(1)},
	}

	x := calc.WindowXIRR(ideas, map[string]float64{"MOON": 1000}, 1)
	require.NotNil(t, x)
	assert.Equal(t, 1000.0, *x)
}

func TestCalculatorWithoutPrices(t *testing.T) {
	calc := Calculator{}
	m := calc.ForAuthor("nobody", []models.Idea{{Ticker: "ACME"}}, nil)
	assert.Equal(t, 1, m.TotalPicks)
	assert.Zero(t, m.ValidPicks)
	assert.Nil(t, m.XIRR5yr)
	assert.Nil(t, m.WinRate)
}

type fakeStore struct {
	authors   []models.Author
	ideas     map[string][]models.Idea
	saved     map[string]models.AuthorMetrics
	refreshed bool
	runStatus models.RunStatus
	failIdeas bool
}

func (f *fakeStore) ListAuthors(context.Context) ([]models.Author, error) { return f.authors, nil }

func (f *fakeStore) IdeasByAuthor(_ context.Context, username string) ([]models.Idea, error) {
	if f.failIdeas && username == "broken" {
		return nil, errors.New("cursor died")
	}
	return f.ideas[username], nil
}

func (f *fakeStore) CurrentPrices(context.Context) (map[string]float64, error) {
	return map[string]float64{"ACME": 20}, nil
}

func (f *fakeStore) SaveMetrics(_ context.Context, m models.AuthorMetrics) error {
	f.saved[m.Username] = m
	return nil
}

func (f *fakeStore) RefreshStats(context.Context) (models.Stats, error) {
	f.refreshed = true
	return models.Stats{ID: models.StatsID, TotalAuthors: int64(len(f.authors))}, nil
}

func (f *fakeStore) StartRun(context.Context, models.JobType, string) (string, error) {
	f.runStatus = models.RunPending
	return "run-1", nil
}

func (f *fakeStore) FinishRun(_ context.Context, _ string, status models.RunStatus, _ int, _ string) error {
	f.runStatus = status
	return nil
}

func TestServiceUpdateAll(t *testing.T) {
	recent := time.Now().UTC().AddDate(0, -6, 0)
	store := &fakeStore{
		authors: []models.Author{{Username: "alpha"}, {Username: "quiet"}, {Username: "broken"}},
		ideas: map[string][]models.Idea{
			"alpha": {{Ticker: "ACME", PositionType: models.PositionLong, PostedDate: &recent, PriceAtRec: ptr(10)}},
		},
		saved:     make(map[string]models.AuthorMetrics),
		failIdeas: true,
	}

	res, err := NewService(store, Calculator{}, zap.NewNop()).UpdateAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.Failed)
	assert.True(t, store.refreshed)
	assert.Equal(t, int64(3), res.Stats.TotalAuthors)
	assert.Equal(t, models.RunSuccess, store.runStatus)
	require.Contains(t, store.saved, "alpha")
	assert.NotNil(t, store.saved["alpha"].XIRR1yr)
}
