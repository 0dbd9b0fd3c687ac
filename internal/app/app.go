package app

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"vic_tracker/internal/browser"
	"vic_tracker/internal/config"
	"vic_tracker/internal/db"
	"vic_tracker/internal/models"
	"vic_tracker/internal/performance"
	"vic_tracker/internal/prices"
	"vic_tracker/internal/queue"
	"vic_tracker/internal/ratelimit"
	"vic_tracker/internal/scraper"
	"vic_tracker/internal/session"
)

// TrackerApp owns the long-lived components of the tracker.
type TrackerApp struct {
	config   *config.TrackerConfig
	log      *zap.Logger
	db       *db.MongoDB
	sessions *session.Store
	auth     *session.Authenticator
	queue    *queue.AuthorQueue
	coord    *Coordinator
	backfill *prices.Backfill
	updater  *prices.Updater
	perf     *performance.Service
	registry *prometheus.Registry
	metrics  *Metrics
}

func NewTrackerApp(ctx context.Context, cfg *config.TrackerConfig, log *zap.Logger) (*TrackerApp, error) {
	if log == nil {
		log = zap.NewNop()
	}

	mongoDB, err := db.NewMongoDB(ctx, cfg.DB, log)
	if err != nil {
		return nil, err
	}

	logic := cfg.Logic
	retry := ratelimit.NewPolicy(logic.MaxRetries, ms(logic.RetryBaseDelayMS), log.Named("retry"))
	pacer := ratelimit.NewPacer(
		ms(logic.MinDelayMS), ms(logic.MaxDelayMS),
		logic.LongPauseEvery, ms(logic.LongPauseMinMS), ms(logic.LongPauseMaxMS))

	sessions := session.NewStore(cfg.Session.Dir)
	auth := NewAuthenticator(cfg, sessions, log)

	authors := queue.NewAuthorQueue(mongoDB, log)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := NewMetrics(registry)

	coord := NewCoordinator(Deps{
		Queue:    authors,
		Sessions: sessions,
		Auth:     auth,
		Profiles: scraper.NewProfileCrawler(scraper.ProfileConfig{
			Rules:              cfg.Site.ProfileRules,
			ProfileURLTemplate: cfg.Site.ProfileURLTemplate,
			Retry:              retry,
			SettleDelay:        ms(logic.SettleDelayMS),
		}, log),
		Details: scraper.NewIdeaCrawler(scraper.IdeaConfig{
			Rules: cfg.Site.IdeaRules,
			Retry: retry,
			Pacer: pacer,
		}, log),
		Ideas:   mongoDB,
		Runs:    mongoDB,
		Metrics: metrics,
	}, log)

	priceClient := prices.NewClient(prices.Options{
		BaseURL:           cfg.Prices.BaseURL,
		UserAgent:         cfg.Site.UserAgent,
		RequestsPerSecond: cfg.Prices.RequestsPerSecond,
		Timeout:           time.Duration(cfg.Prices.TimeoutSec) * time.Second,
		Retry:             retry,
	}, log)

	return &TrackerApp{
		config:   cfg,
		log:      log,
		db:       mongoDB,
		sessions: sessions,
		auth:     auth,
		queue:    authors,
		coord:    coord,
		backfill: prices.NewBackfill(mongoDB, priceClient, cfg.Prices.MaxIdeasPerRun, cfg.Prices.WindowYears, log),
		updater:  prices.NewUpdater(mongoDB, priceClient, log),
		perf:     performance.NewService(mongoDB, performance.Calculator{}, log),
		registry: registry,
		metrics:  metrics,
	}, nil
}

// NewAuthenticator builds the session authenticator from the site config.
// It needs no database, so session commands use it directly.
func NewAuthenticator(cfg *config.TrackerConfig, store *session.Store, log *zap.Logger) *session.Authenticator {
	markers := session.Markers{
		Challenge: cfg.Site.Markers.Challenge,
		Logout:    cfg.Site.Markers.Logout,
		Login:     cfg.Site.Markers.Login,
		Member:    cfg.Site.Markers.Member,
	}
	return session.NewAuthenticator(store, browser.Options{
		BaseURL:          cfg.Site.BaseURL,
		UserAgent:        cfg.Site.UserAgent,
		Timeout:          time.Duration(cfg.Logic.TimeoutSec) * time.Second,
		ChallengeMarkers: markers.Challenge,
		RespectRobots:    cfg.Site.RespectRobots,
	}, markers, cfg.Site.BaseURL, log)
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

func (a *TrackerApp) DB() *db.MongoDB { return a.db }
func (a *TrackerApp) Sessions() *session.Store { return a.sessions }
func (a *TrackerApp) Coordinator() *Coordinator { return a.coord }
func (a *TrackerApp) Registry() *prometheus.Registry { return a.registry }

// Seed loads the configured seed file (or path, when set) into the author
// queue and returns how many authors were new.
func (a *TrackerApp) Seed(ctx context.Context, path string) (int, error) {
	if path == "" {
		path = a.config.SeedFile
	}
	if path == "" {
		return 0, eris.New("no seed file configured")
	}
	authors, err := queue.LoadSeedFile(path, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return a.queue.Discover(ctx, authors)
}

// ImportSession replaces the stored cookies and checks the result against
// the site.
func (a *TrackerApp) ImportSession(ctx context.Context, cookies []browser.Cookie) (session.State, error) {
	if err := a.sessions.Replace(cookies); err != nil {
		return session.Unknown, err
	}
	return a.auth.Verify(ctx)
}

// UpdatePrices refreshes stale current prices and records a price_update run.
func (a *TrackerApp) UpdatePrices(ctx context.Context) (prices.UpdateResult, error) {
	maxAge := time.Duration(a.config.Prices.MaxAgeHours) * time.Hour

	runID, err := a.db.StartRun(ctx, models.JobPriceUpdate, "")
	if err != nil {
		return prices.UpdateResult{}, err
	}
	res, err := a.updater.UpdateAll(ctx, maxAge)
	status, msg := models.RunSuccess, ""
	if err != nil {
		status, msg = models.RunFailed, err.Error()
	}
	if ferr := a.db.FinishRun(context.WithoutCancel(ctx), runID, status, res.Updated, msg); ferr != nil {
		a.log.Error("could not close price update run", zap.String("run_id", runID), zap.Error(ferr))
	}
	a.metrics.job(string(models.JobPriceUpdate), err)
	return res, err
}

func (a *TrackerApp) UpdateMetrics(ctx context.Context) (performance.UpdateResult, error) {
	res, err := a.perf.UpdateAll(ctx)
	a.metrics.job(string(models.JobMetrics), err)
	return res, err
}

func (a *TrackerApp) RunBackfill(ctx context.Context) (*prices.BackfillResult, error) {
	res, err := a.backfill.RunOnce(ctx)
	a.metrics.job(string(models.JobPriceBackfill), err)
	return res, err
}

func (a *TrackerApp) RunScrape(ctx context.Context) (*Result, error) {
	res, err := a.coord.RunOnce(ctx)
	if !errors.Is(err, ErrRunInProgress) {
		a.metrics.job(string(models.JobDailyScrape), err)
	}
	return res, err
}

// Close disconnects from MongoDB.
func (a *TrackerApp) Close() error {
	return a.db.Close()
}
