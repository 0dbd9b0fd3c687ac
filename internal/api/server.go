package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"vic_tracker/internal/app"
	"vic_tracker/internal/browser"
	"vic_tracker/internal/models"
	"vic_tracker/internal/performance"
	"vic_tracker/internal/prices"
	"vic_tracker/internal/session"
)

const shutdownTimeout = 10 * time.Second

// Store is the read side of the database the API serves from.
type Store interface {
	Ping(ctx context.Context) error
	GetStats(ctx context.Context) (*models.Stats, error)
	Leaderboard(ctx context.Context, sortField string, limit, offset int) ([]models.AuthorMetrics, int64, error)
	SearchLeaderboard(ctx context.Context, q string, limit int) ([]models.AuthorMetrics, error)
	GetAuthor(ctx context.Context, username string) (*models.Author, error)
	GetMetrics(ctx context.Context, username string) (*models.AuthorMetrics, error)
	IdeasByAuthor(ctx context.Context, username string) ([]models.Idea, error)
	CurrentPrices(ctx context.Context) (map[string]float64, error)
	LatestRun(ctx context.Context, jobType models.JobType) (*models.ScrapeRun, error)
}

type Scraper interface {
	Start(ctx context.Context) error
	Status() app.Snapshot
}

type SessionStore interface {
	HasStoredSession() bool
	Health(now time.Time) (session.Health, error)
}

// Tracker runs the operator actions.
type Tracker interface {
	ImportSession(ctx context.Context, cookies []browser.Cookie) (session.State, error)
	UpdatePrices(ctx context.Context) (prices.UpdateResult, error)
	UpdateMetrics(ctx context.Context) (performance.UpdateResult, error)
}

type Deps struct {
	Store    Store
	Scraper  Scraper
	Sessions SessionStore
	Tracker  Tracker
	Gatherer prometheus.Gatherer
}

// Server serves the dashboard API. Work started by a request runs on the
// server's base context, not the request's.
type Server struct {
	deps    Deps
	log     *zap.Logger
	router  *gin.Engine
	http    *http.Server
	baseCtx context.Context

	priceUpdate  sync.Mutex
	metricUpdate sync.Mutex
	jobs         sync.WaitGroup
}

func NewServer(ctx context.Context, addr string, deps Deps, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		deps:    deps,
		log:     log.Named("api"),
		router:  gin.New(),
		baseCtx: ctx,
	}
	s.router.Use(recovery(s.log), requestID(), requestLogger(s.log))
	s.routes()

	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))

	api := s.router.Group("/api")
	api.GET("/health", s.health)
	api.GET("/leaderboard", s.leaderboard)
	api.GET("/leaderboard/search", s.searchLeaderboard)
	api.GET("/author/:username", s.author)

	api.GET("/scrape/status", s.scrapeStatus)
	api.POST("/scrape/start", s.startScrape)

	api.GET("/cookies", s.cookies)
	api.POST("/cookies", s.importCookies)

	api.POST("/update/prices", s.updatePrices)
	api.POST("/update/metrics", s.updateMetrics)
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is done, then shuts down and waits for background
// updates started by requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", zap.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return eris.Wrap(err, "http server")
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "http shutdown")
	}
	s.jobs.Wait()
	s.log.Info("http server stopped")
	return nil
}

// background runs fn on the base context unless guard is already held.
func (s *Server) background(guard *sync.Mutex, name string, fn func(ctx context.Context) error) bool {
	if !guard.TryLock() {
		return false
	}
	s.jobs.Add(1)
	go func() {
		defer s.jobs.Done()
		defer guard.Unlock()
		if err := fn(s.baseCtx); err != nil {
			s.log.Error("background job failed", zap.String("job", name), zap.Error(err))
			return
		}
		s.log.Info("background job finished", zap.String("job", name))
	}()
	return true
}
