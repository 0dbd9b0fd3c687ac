package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vic_tracker/internal/app"
	"vic_tracker/internal/browser"
	"vic_tracker/internal/models"
	"vic_tracker/internal/performance"
	"vic_tracker/internal/prices"
	"vic_tracker/internal/session"
)

type fakeStore struct {
	pingErr     error
	metrics     []models.AuthorMetrics
	authors     map[string]models.Author
	ideas       map[string][]models.Idea
	prices      map[string]float64
	gotLimit    int
	gotOffset   int
	gotSort     string
	searchQuery string
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func (f *fakeStore) GetStats(context.Context) (*models.Stats, error) {
	return &models.Stats{ID: models.StatsID, TotalAuthors: int64(len(f.authors))}, nil
}

func (f *fakeStore) Leaderboard(_ context.Context, sortField string, limit, offset int) ([]models.AuthorMetrics, int64, error) {
	f.gotSort, f.gotLimit, f.gotOffset = sortField, limit, offset
	return f.metrics, int64(len(f.metrics) + offset), nil
}

func (f *fakeStore) SearchLeaderboard(_ context.Context, q string, _ int) ([]models.AuthorMetrics, error) {
	f.searchQuery = q
	return f.metrics, nil
}

func (f *fakeStore) GetAuthor(_ context.Context, username string) (*models.Author, error) {
	a, ok := f.authors[username]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (f *fakeStore) GetMetrics(_ context.Context, username string) (*models.AuthorMetrics, error) {
	for _, m := range f.metrics {
		if m.Username == username {
			return &m, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) IdeasByAuthor(_ context.Context, username string) ([]models.Idea, error) {
	return f.ideas[username], nil
}

func (f *fakeStore) CurrentPrices(context.Context) (map[string]float64, error) {
	return f.prices, nil
}

func (f *fakeStore) LatestRun(context.Context, models.JobType) (*models.ScrapeRun, error) {
	return &models.ScrapeRun{ID: "run-1", JobType: models.JobDailyScrape, Status: models.RunSuccess, ItemsProcessed: 2}, nil
}

type fakeScraper struct {
	startErr error
	started  int
}

func (f *fakeScraper) Start(context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started++
	return nil
}

func (f *fakeScraper) Status() app.Snapshot {
	return app.Snapshot{CurrentStep: app.StepIdle, Errors: []string{}}
}

type fakeSessions struct{ has bool }

func (f fakeSessions) HasStoredSession() bool { return f.has }

func (f fakeSessions) Health(now time.Time) (session.Health, error) {
	if !f.has {
		return session.ComputeHealth(nil, now), nil
	}
	return session.Health{Status: session.StatusValid, HasSessionToken: true}, nil
}

type fakeTracker struct {
	state         session.State
	importErr     error
	imported      []browser.Cookie
	priceUpdates  atomic.Int32
	metricUpdates atomic.Int32
}

func (f *fakeTracker) ImportSession(_ context.Context, cookies []browser.Cookie) (session.State, error) {
	f.imported = cookies
	return f.state, f.importErr
}

func (f *fakeTracker) UpdatePrices(context.Context) (prices.UpdateResult, error) {
	f.priceUpdates.Add(1)
	return prices.UpdateResult{}, nil
}

func (f *fakeTracker) UpdateMetrics(context.Context) (performance.UpdateResult, error) {
	f.metricUpdates.Add(1)
	return performance.UpdateResult{}, nil
}

type fixture struct {
	server  *Server
	store   *fakeStore
	scraper *fakeScraper
	tracker *fakeTracker
}

func ptr(v float64) *float64 { return &v }

func newFixture(t *testing.T, hasSession bool) *fixture {
	t.Helper()
	f := &fixture{
		store: &fakeStore{
			metrics: []models.AuthorMetrics{
				{Username: "mack885", XIRR5yr: ptr(31.2)},
				{Username: "valuehawk", XIRR5yr: ptr(12.5)},
			},
			authors: map[string]models.Author{"mack885": {Username: "mack885", ExternalID: "2190"}},
			ideas: map[string][]models.Idea{"mack885": {
				{ExternalIdeaID: "1003001", Ticker: "ACME", PositionType: models.PositionLong, PriceAtRec: ptr(10)},
				{ExternalIdeaID: "1003002", Ticker: "BOLT", PositionType: models.PositionShort, PriceAtRec: ptr(10)},
				{ExternalIdeaID: "1003003", Ticker: "CRUX", PositionType: models.PositionLong},
			}},
			prices: map[string]float64{"ACME": 15, "BOLT": 15, "CRUX": 4},
		},
		scraper: &fakeScraper{},
		tracker: &fakeTracker{state: session.LoggedIn},
	}
	f.server = NewServer(context.Background(), ":0", Deps{
		Store:    f.store,
		Scraper:  f.scraper,
		Sessions: fakeSessions{has: hasSession},
		Tracker:  f.tracker,
		Gatherer: prometheus.NewRegistry(),
	}, zap.NewNop())
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 && rec.Header().Get("Content-Type") != "" && bytes.HasPrefix(rec.Body.Bytes(), []byte("{")) {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestHealth(t *testing.T) {
	f := newFixture(t, true)

	rec, body := f.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["hasSession"])
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	f.store.pingErr = errors.New("no primary")
	rec, body = f.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", body["status"])
}

func TestLeaderboardRanksFromOffset(t *testing.T) {
	f := newFixture(t, true)

	rec, body := f.do(t, http.MethodGet, "/api/leaderboard?sort=xirr3yr&limit=2&offset=25", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "xirr3yr", f.store.gotSort)
	assert.Equal(t, 2, f.store.gotLimit)
	assert.Equal(t, 25, f.store.gotOffset)

	data := body["data"].([]any)
	require.Len(t, data, 2)
	first := data[0].(map[string]any)
	assert.Equal(t, 26.0, first["rank"])
	assert.Equal(t, "mack885", first["username"])
	assert.Equal(t, 27.0, data[1].(map[string]any)["rank"])
	assert.Equal(t, 27.0, body["total"])
}

func TestLeaderboardDefaultsAndLimits(t *testing.T) {
	f := newFixture(t, true)

	rec, body := f.do(t, http.MethodGet, "/api/leaderboard?limit=500&offset=-3", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultSort, f.store.gotSort)
	assert.Equal(t, maxPageSize, f.store.gotLimit)
	assert.Equal(t, 0, f.store.gotOffset)
	assert.Equal(t, 1.0, body["data"].([]any)[0].(map[string]any)["rank"])

	rec, _ = f.do(t, http.MethodGet, "/api/leaderboard?sort=totalPicks", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLeaderboardSearch(t *testing.T) {
	f := newFixture(t, true)

	rec, _ := f.do(t, http.MethodGet, "/api/leaderboard/search", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body := f.do(t, http.MethodGet, "/api/leaderboard/search?q=Mack", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Mack", f.store.searchQuery)
	assert.Len(t, body["data"], 2)
}

func TestAuthorDetail(t *testing.T) {
	f := newFixture(t, true)

	rec, _ := f.do(t, http.MethodGet, "/api/author/nobody", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body := f.do(t, http.MethodGet, "/api/author/mack885", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "2190", body["author"].(map[string]any)["externalId"])
	assert.Equal(t, 31.2, body["metrics"].(map[string]any)["xirr5yr"])

	ideas := body["ideas"].([]any)
	require.Len(t, ideas, 3)
	long := ideas[0].(map[string]any)
	assert.Equal(t, "1003001", long["id"])
	assert.Equal(t, 15.0, long["currentPrice"])
	assert.Equal(t, 50.0, long["return"])

	short := ideas[1].(map[string]any)
	assert.Equal(t, -50.0, short["return"])

	unpriced := ideas[2].(map[string]any)
	assert.Equal(t, 4.0, unpriced["currentPrice"])
	assert.Nil(t, unpriced["return"])
}

func TestScrapeStart(t *testing.T) {
	f := newFixture(t, false)
	rec, _ := f.do(t, http.MethodPost, "/api/scrape/start", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, f.scraper.started)

	f = newFixture(t, true)
	rec, _ = f.do(t, http.MethodPost, "/api/scrape/start", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, f.scraper.started)

	f.scraper.startErr = app.ErrRunInProgress
	rec, body := f.do(t, http.MethodPost, "/api/scrape/start", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, body["error"], "in progress")
}

func TestScrapeStatus(t *testing.T) {
	f := newFixture(t, true)

	rec, body := f.do(t, http.MethodGet, "/api/scrape/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	status := body["status"].(map[string]any)
	assert.Equal(t, false, status["is_running"])
	assert.Equal(t, "idle", status["current_step"])

	database := body["database"].(map[string]any)
	assert.Equal(t, "run-1", database["lastRun"].(map[string]any)["id"])
	assert.Contains(t, database, "stats")
}

func TestGetCookies(t *testing.T) {
	f := newFixture(t, false)

	rec, body := f.do(t, http.MethodGet, "/api/cookies", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["hasCookies"])
	assert.Equal(t, string(session.StatusNoSession), body["health"].(map[string]any)["status"])
}

func TestImportCookies(t *testing.T) {
	cookies := []browser.Cookie{{Name: session.SessionCookie, Value: "abc", Domain: "valueinvestorsclub.com", Expires: -1}}

	t.Run("empty", func(t *testing.T) {
		f := newFixture(t, true)
		rec, _ := f.do(t, http.MethodPost, "/api/cookies", map[string]any{"cookies": []any{}})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing session cookie", func(t *testing.T) {
		f := newFixture(t, true)
		f.tracker.importErr = session.ErrMissingSessionCookie
		rec, _ := f.do(t, http.MethodPost, "/api/cookies", map[string]any{"cookies": cookies})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("not logged in", func(t *testing.T) {
		f := newFixture(t, true)
		f.tracker.state = session.Expired
		rec, body := f.do(t, http.MethodPost, "/api/cookies", map[string]any{"cookies": cookies, "startScrape": true})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, string(session.Expired), body["state"])
		assert.Zero(t, f.scraper.started)
	})

	t.Run("logged in and start", func(t *testing.T) {
		f := newFixture(t, true)
		rec, body := f.do(t, http.MethodPost, "/api/cookies", map[string]any{"cookies": cookies, "startScrape": true})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, body["scrapeStarted"])
		assert.Equal(t, 1, f.scraper.started)
		require.Len(t, f.tracker.imported, 1)
		assert.Equal(t, "abc", f.tracker.imported[0].Value)
	})
}

func TestManualUpdates(t *testing.T) {
	f := newFixture(t, true)

	rec, _ := f.do(t, http.MethodPost, "/api/update/prices", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	rec, _ = f.do(t, http.MethodPost, "/api/update/metrics", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	f.server.jobs.Wait()

	assert.Equal(t, int32(1), f.tracker.priceUpdates.Load())
	assert.Equal(t, int32(1), f.tracker.metricUpdates.Load())

	f.server.priceUpdate.Lock()
	rec, _ = f.do(t, http.MethodPost, "/api/update/prices", nil)
	f.server.priceUpdate.Unlock()
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, int32(1), f.tracker.priceUpdates.Load())
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := app.NewMetrics(reg)
	metrics.RunsTotal.WithLabelValues("success").Inc()

	s := NewServer(context.Background(), ":0", Deps{
		Store:    &fakeStore{},
		Scraper:  &fakeScraper{},
		Sessions: fakeSessions{},
		Tracker:  &fakeTracker{},
		Gatherer: reg,
	}, zap.NewNop())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `vic_tracker_scrape_runs_total{outcome="success"} 1`)
}
