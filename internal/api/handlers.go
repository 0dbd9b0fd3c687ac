package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vic_tracker/internal/app"
	"vic_tracker/internal/browser"
	"vic_tracker/internal/db"
	"vic_tracker/internal/models"
	"vic_tracker/internal/performance"
	"vic_tracker/internal/session"
)

const (
	defaultLeaderboardLimit = 25
	defaultSearchLimit      = 20
	defaultSort             = "xirr5yr"
)

func (s *Server) health(c *gin.Context) {
	ctx := c.Request.Context()
	if err := s.deps.Store.Ping(ctx); err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": "unreachable"})
		return
	}
	stats, err := s.deps.Store.GetStats(ctx)
	if err != nil {
		respondInternalError(c, "could not load stats", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"database":   "connected",
		"stats":      stats,
		"hasSession": s.deps.Sessions.HasStoredSession(),
		"timestamp":  time.Now().UTC(),
	})
}

type leaderboardEntry struct {
	Rank int `json:"rank"`
	models.AuthorMetrics
}

func ranked(rows []models.AuthorMetrics, offset int) []leaderboardEntry {
	out := make([]leaderboardEntry, len(rows))
	for i, m := range rows {
		out[i] = leaderboardEntry{Rank: offset + i + 1, AuthorMetrics: m}
	}
	return out
}

func (s *Server) leaderboard(c *gin.Context) {
	sortField := c.DefaultQuery("sort", defaultSort)
	if !db.LeaderboardSorts[sortField] {
		respondBadRequest(c, "sort must be one of xirr5yr, xirr3yr, xirr1yr")
		return
	}
	limit, offset := parseLimitOffset(c, defaultLeaderboardLimit, 0)

	rows, total, err := s.deps.Store.Leaderboard(c.Request.Context(), sortField, limit, offset)
	if err != nil {
		respondInternalError(c, "could not load leaderboard", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":   ranked(rows, offset),
		"total":  total,
		"limit":  limit,
		"offset": offset,
		"sort":   sortField,
	})
}

func (s *Server) searchLeaderboard(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		respondBadRequest(c, "q is required")
		return
	}
	limit, _ := parseLimitOffset(c, defaultSearchLimit, 0)

	rows, err := s.deps.Store.SearchLeaderboard(c.Request.Context(), q, limit)
	if err != nil {
		respondInternalError(c, "could not search leaderboard", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rows, "query": q})
}

// ideaView is an idea with its current price and return since posting.
type ideaView struct {
	models.Idea
	CurrentPrice *float64 `json:"currentPrice"`
	Return       *float64 `json:"return"`
}

func ideaViews(ideas []models.Idea, current map[string]float64) []ideaView {
	out := make([]ideaView, len(ideas))
	for i, idea := range ideas {
		out[i].Idea = idea
		p, ok := current[idea.Ticker]
		if !ok {
			continue
		}
		out[i].CurrentPrice = &p
		if idea.HasUsablePrice() {
			r := performance.Round1(performance.Return(idea.PositionType, *idea.PriceAtRec, p))
			out[i].Return = &r
		}
	}
	return out
}

func (s *Server) author(c *gin.Context) {
	ctx := c.Request.Context()
	username := c.Param("username")

	author, err := s.deps.Store.GetAuthor(ctx, username)
	if err != nil {
		respondInternalError(c, "could not load author", err)
		return
	}
	if author == nil {
		respondNotFound(c, "author")
		return
	}
	metrics, err := s.deps.Store.GetMetrics(ctx, username)
	if err != nil {
		respondInternalError(c, "could not load metrics", err)
		return
	}
	ideas, err := s.deps.Store.IdeasByAuthor(ctx, username)
	if err != nil {
		respondInternalError(c, "could not load ideas", err)
		return
	}
	current, err := s.deps.Store.CurrentPrices(ctx)
	if err != nil {
		respondInternalError(c, "could not load prices", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"author":  author,
		"metrics": metrics,
		"ideas":   ideaViews(ideas, current),
	})
}

func (s *Server) scrapeStatus(c *gin.Context) {
	ctx := c.Request.Context()
	database := gin.H{}

	if run, err := s.deps.Store.LatestRun(ctx, models.JobDailyScrape); err != nil {
		s.log.Warn("latest run unavailable", zap.Error(err))
	} else {
		database["lastRun"] = run
	}
	if stats, err := s.deps.Store.GetStats(ctx); err != nil {
		s.log.Warn("stats unavailable", zap.Error(err))
	} else {
		database["stats"] = stats
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   s.deps.Scraper.Status(),
		"database": database,
	})
}

func (s *Server) startScrape(c *gin.Context) {
	if !s.deps.Sessions.HasStoredSession() {
		respondBadRequest(c, app.ErrNoSession.Error())
		return
	}
	if err := s.deps.Scraper.Start(s.baseCtx); err != nil {
		if errors.Is(err, app.ErrRunInProgress) {
			respondError(c, http.StatusConflict, err.Error())
			return
		}
		respondInternalError(c, "could not start scrape", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "scrape started"})
}

func (s *Server) cookies(c *gin.Context) {
	health, err := s.deps.Sessions.Health(time.Now())
	if err != nil {
		respondInternalError(c, "could not read stored session", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"hasCookies": s.deps.Sessions.HasStoredSession(),
		"health":     health,
	})
}

type importRequest struct {
	Cookies     []browser.Cookie `json:"cookies"`
	StartScrape bool             `json:"startScrape"`
}

func (s *Server) importCookies(c *gin.Context) {
	var req importRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body: "+err.Error())
		return
	}
	if len(req.Cookies) == 0 {
		respondBadRequest(c, "cookies are required")
		return
	}

	state, err := s.deps.Tracker.ImportSession(c.Request.Context(), req.Cookies)
	if err != nil {
		if errors.Is(err, session.ErrMissingSessionCookie) {
			respondBadRequest(c, err.Error())
			return
		}
		respondInternalError(c, "could not import cookies", err)
		return
	}
	if state != session.LoggedIn {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "imported session is not logged in",
			"state": state,
		})
		return
	}

	started := false
	if req.StartScrape {
		err := s.deps.Scraper.Start(s.baseCtx)
		switch {
		case err == nil:
			started = true
		case errors.Is(err, app.ErrRunInProgress):
		default:
			s.log.Error("could not start scrape after import", zap.Error(err))
		}
	}
	c.JSON(http.StatusOK, gin.H{"state": state, "scrapeStarted": started})
}

func (s *Server) updatePrices(c *gin.Context) {
	s.trigger(c, &s.priceUpdate, "price_update", func(ctx context.Context) error {
		_, err := s.deps.Tracker.UpdatePrices(ctx)
		return err
	})
}

func (s *Server) updateMetrics(c *gin.Context) {
	s.trigger(c, &s.metricUpdate, "metrics", func(ctx context.Context) error {
		_, err := s.deps.Tracker.UpdateMetrics(ctx)
		return err
	})
}

func (s *Server) trigger(c *gin.Context, guard *sync.Mutex, name string, fn func(ctx context.Context) error) {
	if !s.background(guard, name, fn) {
		respondError(c, http.StatusConflict, name+" already running")
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": name + " started"})
}
