package app

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Job is a named unit of scheduled work. An empty Spec disables it.
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context) error
}

// Scheduler runs jobs on five-field cron specs. A job that is still running
// when its next tick arrives skips that tick.
type Scheduler struct {
	cron    *cron.Cron
	ctx     context.Context
	log     *zap.Logger
	entries map[string]cron.EntryID
}

func NewScheduler(ctx context.Context, jobs []Job, log *zap.Logger) (*Scheduler, error) {
	if log == nil {
		log = zap.NewNop()
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(
		cron.WithParser(parser),
		cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
	)

	s := &Scheduler{cron: c, ctx: ctx, log: log.Named("scheduler"), entries: make(map[string]cron.EntryID)}
	for _, job := range jobs {
		if job.Spec == "" {
			s.log.Info("job disabled", zap.String("job", job.Name))
			continue
		}
		id, err := c.AddFunc(job.Spec, s.wrap(job))
		if err != nil {
			return nil, eris.Wrapf(err, "schedule %s with %q", job.Name, job.Spec)
		}
		s.entries[job.Name] = id
	}
	return s, nil
}

func (s *Scheduler) wrap(job Job) func() {
	return func() {
		log := s.log.With(zap.String("job", job.Name))
		started := time.Now()
		log.Info("job started")
		if err := job.Run(s.ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				log.Warn("job cancelled", zap.Error(err))
				return
			}
			log.Error("job failed", zap.Error(err), zap.Duration("took", time.Since(started)))
			return
		}
		log.Info("job finished", zap.Duration("took", time.Since(started)))
	}
}

// Next returns the next activation of a scheduled job.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	id, ok := s.entries[name]
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}

func (s *Scheduler) Start() {
	s.cron.Start()
	for name := range s.entries {
		next, _ := s.Next(name)
		s.log.Info("job scheduled", zap.String("job", name), zap.Time("next", next))
	}
}

// Stop prevents new activations and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Jobs returns the tracker's scheduled work: the daily scrape, the daily
// price and metrics update, and the price backfill.
func (a *TrackerApp) Jobs() []Job {
	sched := a.config.Schedule
	return []Job{
		{Name: "daily_scrape", Spec: sched.DailyScrape, Run: func(ctx context.Context) error {
			res, err := a.RunScrape(ctx)
			if err == nil {
				a.log.Info("scheduled scrape done", zap.String("outcome", string(res.Outcome)), zap.Int("persisted", res.Persisted))
			}
			return err
		}},
		{Name: "daily_update", Spec: sched.DailyUpdate, Run: func(ctx context.Context) error {
			if _, err := a.UpdatePrices(ctx); err != nil {
				return err
			}
			_, err := a.UpdateMetrics(ctx)
			return err
		}},
		{Name: "price_backfill", Spec: sched.Backfill, Run: func(ctx context.Context) error {
			_, err := a.RunBackfill(ctx)
			return err
		}},
	}
}
