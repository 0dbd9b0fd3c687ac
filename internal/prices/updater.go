package prices

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"vic_tracker/internal/models"
)

type UpdaterStore interface {
	Tickers(ctx context.Context) ([]string, error)
	FreshTickers(ctx context.Context, since time.Time) ([]string, error)
	SavePrice(ctx context.Context, p models.Price) error
}

type UpdateResult struct {
	Checked int `json:"checked"`
	Updated int `json:"updated"`
	Missing int `json:"missing"`
	Failed  int `json:"failed"`
}

// Updater refreshes current prices for every ticker that has an idea.
type Updater struct {
	store   UpdaterStore
	src     Source
	workers int
	log     *zap.Logger
	now     func() time.Time
}

func NewUpdater(store UpdaterStore, src Source, log *zap.Logger) *Updater {
	if log == nil {
		log = zap.NewNop()
	}
	return &Updater{
		store:   store,
		src:     src,
		workers: 4,
		log:     log.Named("price_updater"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// UpdateAll fetches tickers whose stored price is older than maxAge. Lookups
// run on a small worker group; the client's limiter still paces requests.
func (u *Updater) UpdateAll(ctx context.Context, maxAge time.Duration) (UpdateResult, error) {
	var res UpdateResult

	tickers, err := u.store.Tickers(ctx)
	if err != nil {
		return res, err
	}
	fresh, err := u.store.FreshTickers(ctx, u.now().Add(-maxAge))
	if err != nil {
		return res, err
	}
	skip := make(map[string]bool, len(fresh))
	for _, t := range fresh {
		skip[t] = true
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.workers)

	for _, t := range tickers {
		symbol := Symbol(t)
		if skip[symbol] {
			continue
		}
		res.Checked++

		g.Go(func() error {
			price, err := u.src.CurrentPrice(gctx, symbol)
			p := models.Price{Ticker: symbol, UpdatedAt: u.now()}

			switch {
			case err == nil:
				p.CurrentPrice = &price
			case errors.Is(err, ErrNoData):
				p.FetchFailed = true
			case gctx.Err() != nil:
				return gctx.Err()
			default:
				u.log.Warn("price lookup failed", zap.String("ticker", symbol), zap.Error(err))
				mu.Lock()
				res.Failed++
				mu.Unlock()
				return nil
			}

			if err := u.store.SavePrice(gctx, p); err != nil {
				return err
			}
			mu.Lock()
			if p.FetchFailed {
				res.Missing++
			} else {
				res.Updated++
			}
			mu.Unlock()
			return nil
		})
	}

	err = g.Wait()
	u.log.Info("price update finished",
		zap.Int("checked", res.Checked),
		zap.Int("updated", res.Updated),
		zap.Int("missing", res.Missing),
		zap.Int("failed", res.Failed))
	return res, err
}
