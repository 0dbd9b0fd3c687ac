package performance

import (
	"context"

	"go.uber.org/zap"

	"vic_tracker/internal/models"
)

type Store interface {
	ListAuthors(ctx context.Context) ([]models.Author, error)
	IdeasByAuthor(ctx context.Context, username string) ([]models.Idea, error)
	CurrentPrices(ctx context.Context) (map[string]float64, error)
	SaveMetrics(ctx context.Context, m models.AuthorMetrics) error
	RefreshStats(ctx context.Context) (models.Stats, error)
	StartRun(ctx context.Context, jobType models.JobType, username string) (string, error)
	FinishRun(ctx context.Context, id string, status models.RunStatus, items int, errMsg string) error
}

type UpdateResult struct {
	Processed int          `json:"processed"`
	Skipped   int          `json:"skipped"`
	Failed    int          `json:"failed"`
	Stats     models.Stats `json:"stats"`
}

// Service recomputes every author's metrics and the aggregate stats.
type Service struct {
	store Store
	calc  Calculator
	log   *zap.Logger
}

func NewService(store Store, calc Calculator, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, calc: calc, log: log.Named("metrics")}
}

func (s *Service) UpdateAll(ctx context.Context) (UpdateResult, error) {
	var res UpdateResult

	runID, err := s.store.StartRun(ctx, models.JobMetrics, "")
	if err != nil {
		return res, err
	}
	finish := func(status models.RunStatus, msg string) {
		if err := s.store.FinishRun(context.WithoutCancel(ctx), runID, status, res.Processed, msg); err != nil {
			s.log.Error("finish run", zap.String("run_id", runID), zap.Error(err))
		}
	}

	if err := s.updateAll(ctx, &res); err != nil {
		finish(models.RunFailed, err.Error())
		return res, err
	}
	finish(models.RunSuccess, "")
	return res, nil
}

func (s *Service) updateAll(ctx context.Context, res *UpdateResult) error {
	authors, err := s.store.ListAuthors(ctx)
	if err != nil {
		return err
	}
	prices, err := s.store.CurrentPrices(ctx)
	if err != nil {
		return err
	}
	s.log.Info("recomputing metrics", zap.Int("authors", len(authors)), zap.Int("prices", len(prices)))

	for _, a := range authors {
		if err := ctx.Err(); err != nil {
			return err
		}
		ideas, err := s.store.IdeasByAuthor(ctx, a.Username)
		if err != nil {
			res.Failed++
			s.log.Warn("load ideas", zap.String("author", a.Username), zap.Error(err))
			continue
		}
		if len(ideas) == 0 {
			res.Skipped++
			continue
		}

		m := s.calc.ForAuthor(a.Username, ideas, prices)
		if err := s.store.SaveMetrics(ctx, m); err != nil {
			res.Failed++
			s.log.Warn("save metrics", zap.String("author", a.Username), zap.Error(err))
			continue
		}
		res.Processed++
		s.log.Debug("metrics updated",
			zap.String("author", a.Username),
			zap.Int("valid_picks", m.ValidPicks),
			zap.Any("xirr_5yr", m.XIRR5yr))
	}

	stats, err := s.store.RefreshStats(ctx)
	if err != nil {
		return err
	}
	res.Stats = stats
	return nil
}
