package prices

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"vic_tracker/internal/models"
)

// Source is a price lookup service.
type Source interface {
	CurrentPrice(ctx context.Context, ticker string) (float64, error)
	HistoricalPrice(ctx context.Context, ticker string, date time.Time) (float64, error)
}

type BackfillStore interface {
	NextAuthorForPriceBackfill(ctx context.Context) (*models.Author, error)
	HasIdeasSince(ctx context.Context, username string, since time.Time) (bool, error)
	IdeasMissingPrice(ctx context.Context, username string, since time.Time, limit int) ([]models.Idea, error)
	SetIdeaPrice(ctx context.Context, ideaID string, price float64) error
	MarkPricesFetched(ctx context.Context, username string, noRecentIdeas bool, at time.Time) error
	SavePrice(ctx context.Context, p models.Price) error
	StartRun(ctx context.Context, jobType models.JobType, username string) (string, error)
	FinishRun(ctx context.Context, id string, status models.RunStatus, items int, errMsg string) error
}

type BackfillResult struct {
	Author        string `json:"author,omitempty"`
	Priced        int    `json:"priced"`
	Failed        int    `json:"failed"`
	Deferred      int    `json:"deferred"`
	Complete      bool   `json:"complete"`
	NoRecentIdeas bool   `json:"noRecentIdeas,omitempty"`
	NoOp          bool   `json:"noOp,omitempty"`
}

// Backfill fills entry prices one author at a time, a bounded number of
// ideas per run, so that a daily schedule stays inside API quotas.
type Backfill struct {
	store       BackfillStore
	src         Source
	maxIdeas    int
	windowYears int
	log         *zap.Logger
	now         func() time.Time
}

func NewBackfill(store BackfillStore, src Source, maxIdeas, windowYears int, log *zap.Logger) *Backfill {
	if log == nil {
		log = zap.NewNop()
	}
	if maxIdeas <= 0 {
		maxIdeas = 10
	}
	if windowYears <= 0 {
		windowYears = 5
	}
	return &Backfill{
		store:       store,
		src:         src,
		maxIdeas:    maxIdeas,
		windowYears: windowYears,
		log:         log.Named("backfill"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (b *Backfill) RunOnce(ctx context.Context) (*BackfillResult, error) {
	author, err := b.store.NextAuthorForPriceBackfill(ctx)
	if err != nil {
		return nil, err
	}
	if author == nil {
		b.log.Info("every author has entry prices")
		return &BackfillResult{NoOp: true}, nil
	}

	runID, err := b.store.StartRun(ctx, models.JobPriceBackfill, author.Username)
	if err != nil {
		return nil, err
	}

	res, err := b.backfillAuthor(ctx, author.Username)
	if err != nil {
		if ferr := b.store.FinishRun(context.WithoutCancel(ctx), runID, models.RunFailed, res.Priced+res.Failed, err.Error()); ferr != nil {
			b.log.Error("finish run", zap.String("run_id", runID), zap.Error(ferr))
		}
		return res, err
	}
	if err := b.store.FinishRun(ctx, runID, models.RunSuccess, res.Priced+res.Failed, ""); err != nil {
		return res, err
	}
	return res, nil
}

func (b *Backfill) backfillAuthor(ctx context.Context, username string) (*BackfillResult, error) {
	res := &BackfillResult{Author: username}
	now := b.now()
	since := now.AddDate(-b.windowYears, 0, 0)
	log := b.log.With(zap.String("author", username))

	recent, err := b.store.HasIdeasSince(ctx, username, since)
	if err != nil {
		return res, err
	}
	if !recent {
		log.Info("no ideas inside the window, marking complete")
		res.Complete, res.NoRecentIdeas = true, true
		return res, b.store.MarkPricesFetched(ctx, username, true, now)
	}

	ideas, err := b.store.IdeasMissingPrice(ctx, username, since, b.maxIdeas)
	if err != nil {
		return res, err
	}
	log.Info("backfilling entry prices", zap.Int("ideas", len(ideas)))

	refreshed := make(map[string]bool)
	for _, idea := range ideas {
		if idea.PostedDate == nil || idea.Ticker == "" {
			continue
		}
		ilog := log.With(zap.String("idea_id", idea.ExternalIdeaID), zap.String("ticker", idea.Ticker))

		price, err := b.src.HistoricalPrice(ctx, idea.Ticker, *idea.PostedDate)
		switch {
		case err == nil:
			if err := b.store.SetIdeaPrice(ctx, idea.ExternalIdeaID, price); err != nil {
				return res, err
			}
			res.Priced++
			ilog.Debug("entry price stored", zap.Float64("price", price))
		case errors.Is(err, ErrNoData):
			if err := b.store.SetIdeaPrice(ctx, idea.ExternalIdeaID, models.PriceFetchFailed); err != nil {
				return res, err
			}
			res.Failed++
			ilog.Info("no historical data, marked failed")
			continue
		case ctx.Err() != nil:
			return res, eris.Wrap(ctx.Err(), "backfill interrupted")
		default:
			res.Deferred++
			ilog.Warn("historical price lookup failed, will retry next run", zap.Error(err))
			continue
		}

		if !refreshed[idea.Ticker] {
			refreshed[idea.Ticker] = true
			b.refreshCurrent(ctx, idea.Ticker, ilog)
		}
	}

	remaining, err := b.store.IdeasMissingPrice(ctx, username, since, 1)
	if err != nil {
		return res, err
	}
	if len(remaining) == 0 {
		res.Complete = true
		if err := b.store.MarkPricesFetched(ctx, username, false, b.now()); err != nil {
			return res, err
		}
		log.Info("author backfill complete")
	}
	return res, nil
}

// refreshCurrent stores the latest price for a ticker that just got an entry
// price. Failures only cost a later update.
func (b *Backfill) refreshCurrent(ctx context.Context, ticker string, log *zap.Logger) {
	price, err := b.src.CurrentPrice(ctx, ticker)
	if err != nil {
		log.Debug("current price unavailable", zap.Error(err))
		return
	}
	if err := b.store.SavePrice(ctx, models.Price{Ticker: Symbol(ticker), CurrentPrice: &price, UpdatedAt: b.now()}); err != nil {
		log.Warn("save current price", zap.Error(err))
	}
}
