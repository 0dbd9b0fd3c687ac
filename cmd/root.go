package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vic_tracker/internal/app"
	"vic_tracker/internal/config"
	"vic_tracker/internal/logger"
)

var (
	configPath string
	cfg        *config.TrackerConfig
	log        *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:           "vic-tracker",
	Short:         "Tracks the stock picks of Value Investors Club authors.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadConfig(configPath)
		if err != nil {
			return err
		}
		log, err = logger.New(cfg.Log)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			_ = log.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML config")
}

// openApp connects to MongoDB and wires the tracker. Callers must Close it.
func openApp(cmd *cobra.Command) (*app.TrackerApp, error) {
	log.Info("starting tracker",
		zap.String("database", cfg.DB.Database),
		zap.Int("min_delay_ms", cfg.Logic.MinDelayMS),
		zap.Int("max_delay_ms", cfg.Logic.MaxDelayMS))
	return app.NewTrackerApp(cmd.Context(), cfg, log)
}

func closeApp(a *app.TrackerApp) {
	if err := a.Close(); err != nil {
		log.Warn("mongo disconnect failed", zap.Error(err))
	}
}
