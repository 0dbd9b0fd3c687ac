package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"vic_tracker/internal/browser"
	"vic_tracker/internal/models"
	"vic_tracker/internal/scraper"
	"vic_tracker/internal/session"
)

var (
	ErrNoSession      = eris.New("no stored session; import cookies first")
	ErrSessionInvalid = eris.New("session is not logged in")
	ErrRunInProgress  = eris.New("a scrape run is already in progress")
)

const sessionHint = "session expired or blocked; refresh cookies / login"

type Queue interface {
	Next(ctx context.Context) (*models.Author, error)
	MarkScraped(ctx context.Context, username string) error
}

type SessionStore interface {
	HasStoredSession() bool
}

type Authenticator interface {
	CreateAuthenticatedContext(ctx context.Context) (browser.Browser, error)
	ClassifySessionState(ctx context.Context, nav browser.Navigator) session.State
	Persist(b browser.Browser) error
}

type ProfileScraper interface {
	ScrapeAuthorProfile(ctx context.Context, nav browser.Navigator, author models.Author) ([]models.Idea, error)
}

type DetailScraper interface {
	ScrapeMultipleIdeas(ctx context.Context, nav browser.Navigator, ideas []models.Idea) ([]scraper.EnrichedIdea, error)
}

type IdeaStore interface {
	IdeaIDsByAuthor(ctx context.Context, username string) (map[string]struct{}, error)
	InsertIdea(ctx context.Context, idea models.Idea) (bool, error)
}

type RunLog interface {
	StartRun(ctx context.Context, jobType models.JobType, username string) (string, error)
	FinishRun(ctx context.Context, id string, status models.RunStatus, items int, errMsg string) error
}

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeNoOp    Outcome = "noop"
	OutcomeFailed  Outcome = "failed"
)

// Result summarizes one scrape run.
type Result struct {
	Outcome    Outcome `json:"outcome"`
	Reason     string  `json:"reason,omitempty"`
	Author     string  `json:"author,omitempty"`
	RunID      string  `json:"runId,omitempty"`
	Discovered int     `json:"discovered"`
	New        int     `json:"new"`
	Persisted  int     `json:"persisted"`
	Failed     int     `json:"failed"`
}

type Deps struct {
	Queue    Queue
	Sessions SessionStore
	Auth     Authenticator
	Profiles ProfileScraper
	Details  DetailScraper
	Ideas    IdeaStore
	Runs     RunLog
	Status   *Status
	Metrics  *Metrics
}

// Coordinator runs one author through discovery, enrichment and
// persistence per call. Only one run executes at a time.
type Coordinator struct {
	deps Deps
	log  *zap.Logger
	mu   sync.Mutex
}

func NewCoordinator(deps Deps, log *zap.Logger) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	if deps.Status == nil {
		deps.Status = NewStatus()
	}
	return &Coordinator{deps: deps, log: log.Named("coordinator")}
}

func (c *Coordinator) Status() Snapshot {
	return c.deps.Status.Snapshot()
}

// RunOnce scrapes the next author in the queue. It returns
// ErrRunInProgress without waiting when another run holds the lock.
func (c *Coordinator) RunOnce(ctx context.Context) (*Result, error) {
	if !c.mu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer c.mu.Unlock()
	return c.execute(ctx)
}

// Start launches a run in the background. ctx must outlive the caller's
// request; HTTP handlers pass the server's base context.
func (c *Coordinator) Start(ctx context.Context) error {
	if !c.mu.TryLock() {
		return ErrRunInProgress
	}
	go func() {
		defer c.mu.Unlock()
		res, err := c.execute(ctx)
		if err != nil {
			c.log.Error("background run failed", zap.Error(err))
			return
		}
		c.log.Info("background run finished", zap.String("outcome", string(res.Outcome)), zap.String("author", res.Author))
	}()
	return nil
}

func (c *Coordinator) execute(ctx context.Context) (*Result, error) {
	started := time.Now()
	c.deps.Status.Begin()

	res, err := c.run(ctx)
	c.deps.Status.Finish(err)

	outcome := OutcomeFailed
	if res != nil {
		outcome = res.Outcome
	}
	c.deps.Metrics.observeRun(outcome, time.Since(started).Seconds())
	return res, err
}

func (c *Coordinator) run(ctx context.Context) (*Result, error) {
	st := c.deps.Status

	if !c.deps.Sessions.HasStoredSession() {
		return nil, ErrNoSession
	}

	st.Step(StepSelectAuthor)
	author, err := c.deps.Queue.Next(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "select author")
	}
	if author == nil {
		c.log.Info("no authors to scrape")
		return &Result{Outcome: OutcomeNoOp, Reason: "no_authors"}, nil
	}
	st.SetAuthor(author.Username)
	log := c.log.With(zap.String("author", author.Username))

	runID, err := c.deps.Runs.StartRun(ctx, models.JobDailyScrape, author.Username)
	if err != nil {
		return nil, eris.Wrap(err, "start run log")
	}
	res := &Result{Author: author.Username, RunID: runID}

	fail := func(err error) (*Result, error) {
		res.Outcome = OutcomeFailed
		if ferr := c.deps.Runs.FinishRun(context.WithoutCancel(ctx), runID, models.RunFailed, res.Persisted, err.Error()); ferr != nil {
			log.Error("could not close run log", zap.String("run_id", runID), zap.Error(ferr))
		}
		log.Error("scrape run failed", zap.Error(err))
		return res, err
	}

	st.Step(StepAuthenticate)
	b, err := c.deps.Auth.CreateAuthenticatedContext(ctx)
	if err != nil {
		return fail(eris.Wrap(err, "create browsing context"))
	}
	defer b.Close()

	state := c.deps.Auth.ClassifySessionState(ctx, b)
	c.deps.Metrics.sessionChecked(string(state))
	if state != session.LoggedIn {
		return fail(eris.Wrapf(ErrSessionInvalid, "state %s: %s", state, sessionHint))
	}

	st.Step(StepCrawlProfile)
	discovered, err := c.deps.Profiles.ScrapeAuthorProfile(ctx, b, *author)
	if err != nil {
		return fail(eris.Wrap(err, "crawl profile"))
	}
	res.Discovered = len(discovered)

	if err := c.deps.Auth.Persist(b); err != nil {
		log.Warn("could not save session snapshot", zap.Error(err))
	}

	st.Step(StepDiffNew)
	existing, err := c.deps.Ideas.IdeaIDsByAuthor(ctx, author.Username)
	if err != nil {
		return fail(eris.Wrap(err, "load known ideas"))
	}
	fresh := newIdeas(discovered, existing)
	res.New = len(fresh)
	log.Info("profile crawled",
		zap.Int("discovered", res.Discovered),
		zap.Int("known", len(existing)),
		zap.Int("new", res.New))

	if len(fresh) > 0 {
		st.Step(StepCrawlDetails)
		st.SetTotal(len(fresh))
		enriched, blocked := c.deps.Details.ScrapeMultipleIdeas(ctx, b, fresh)

		st.Step(StepPersist)
		for _, e := range enriched {
			st.Advance(e.Idea.ExternalIdeaID)
			if e.Err != nil {
				res.Failed++
				st.Error(e.Idea.ExternalIdeaID + ": " + e.Err.Error())
				log.Warn("idea not enriched", zap.String("idea_id", e.Idea.ExternalIdeaID), zap.Error(e.Err))
				continue
			}
			inserted, err := c.deps.Ideas.InsertIdea(ctx, e.Idea)
			if err != nil {
				return fail(eris.Wrapf(err, "persist idea %s", e.Idea.ExternalIdeaID))
			}
			if inserted {
				res.Persisted++
			}
		}
		if blocked != nil {
			c.deps.Metrics.ideas(res.Discovered, res.Persisted, res.Failed)
			c.deps.Metrics.sessionChecked(string(session.BotChallengeBlocked))
			return fail(eris.Wrapf(ErrSessionInvalid, "state %s during idea crawl: %s: %v",
				session.BotChallengeBlocked, sessionHint, blocked))
		}
	}
	c.deps.Metrics.ideas(res.Discovered, res.Persisted, res.Failed)

	if err := ctx.Err(); err != nil {
		return fail(eris.Wrap(err, "run interrupted"))
	}

	st.Step(StepMarkComplete)
	if err := c.deps.Queue.MarkScraped(ctx, author.Username); err != nil {
		return fail(eris.Wrap(err, "mark author scraped"))
	}
	if err := c.deps.Runs.FinishRun(context.WithoutCancel(ctx), runID, models.RunSuccess, res.Persisted, ""); err != nil {
		log.Error("could not close run log", zap.String("run_id", runID), zap.Error(err))
		return res, eris.Wrap(err, "close run log")
	}

	res.Outcome = OutcomeSuccess
	log.Info("scrape run complete",
		zap.Int("persisted", res.Persisted),
		zap.Int("failed", res.Failed))
	return res, nil
}

// newIdeas keeps the discovered ideas whose id is not yet stored.
func newIdeas(discovered []models.Idea, existing map[string]struct{}) []models.Idea {
	var out []models.Idea
	for _, idea := range discovered {
		if _, ok := existing[idea.ExternalIdeaID]; ok {
			continue
		}
		out = append(out, idea)
	}
	return out
}

// ManualResult is what a manual author scrape found. Nothing in it is stored.
type ManualResult struct {
	Author  string                 `json:"author"`
	Ideas   []models.Idea          `json:"ideas"`
	Details []scraper.EnrichedIdea `json:"-"`
}

// ScrapeAuthor crawls one named author's profile and the first sample idea
// pages without touching the queue or the store.
func (c *Coordinator) ScrapeAuthor(ctx context.Context, username, externalID string, sample int) (*ManualResult, error) {
	if !c.mu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer c.mu.Unlock()

	if !c.deps.Sessions.HasStoredSession() {
		return nil, ErrNoSession
	}

	b, err := c.deps.Auth.CreateAuthenticatedContext(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "create browsing context")
	}
	defer b.Close()

	if state := c.deps.Auth.ClassifySessionState(ctx, b); state != session.LoggedIn {
		return nil, eris.Wrapf(ErrSessionInvalid, "state %s: %s", state, sessionHint)
	}

	author := models.NewAuthor(username, externalID, time.Now().UTC())
	ideas, err := c.deps.Profiles.ScrapeAuthorProfile(ctx, b, author)
	if err != nil {
		return nil, eris.Wrap(err, "crawl profile")
	}
	out := &ManualResult{Author: username, Ideas: ideas}

	if sample > len(ideas) {
		sample = len(ideas)
	}
	if sample > 0 {
		details, blocked := c.deps.Details.ScrapeMultipleIdeas(ctx, b, ideas[:sample])
		out.Details = details
		for i, e := range details {
			if e.Err == nil {
				out.Ideas[i] = e.Idea
			}
		}
		if blocked != nil {
			return out, eris.Wrapf(ErrSessionInvalid, "state %s during idea crawl: %s: %v",
				session.BotChallengeBlocked, sessionHint, blocked)
		}
	}
	return out, nil
}

// IsSessionError reports whether err means the operator must refresh the
// stored session.
func IsSessionError(err error) bool {
	return errors.Is(err, ErrSessionInvalid) || errors.Is(err, ErrNoSession)
}
