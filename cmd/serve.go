package main

import (
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"vic_tracker/internal/api"
	"vic_tracker/internal/app"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serves the API and runs the scheduled jobs until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer closeApp(a)

		g, ctx := errgroup.WithContext(cmd.Context())

		sched, err := app.NewScheduler(ctx, a.Jobs(), log)
		if err != nil {
			return err
		}
		srv := api.NewServer(ctx, cfg.Server.Addr, api.Deps{
			Store:    a.DB(),
			Scraper:  a.Coordinator(),
			Sessions: a.Sessions(),
			Tracker:  a,
			Gatherer: a.Registry(),
		}, log)

		sched.Start()
		g.Go(func() error {
			return srv.Run(ctx)
		})
		g.Go(func() error {
			<-ctx.Done()
			log.Info("shutting down scheduler")
			sched.Stop()
			return nil
		})

		if err := g.Wait(); err != nil {
			return err
		}
		log.Info("tracker stopped")
		return nil
	},
}
