package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"herald/internal/config"
	"herald/internal/constants"
	"herald/internal/logger"
	"herald/pkg/logging"
)

var (
	configFile string
)

// @title           Herald Delivery Service API
// @version         1.0
// @description     Admin API for queued notification delivery: submissions, queue control and rule sweeps
// @BasePath        /api/v1

func main() {
	rootCmd := &cobra.Command{
		Use:   "delivery-service",
		Short: "Notification delivery pipeline",
		Long:  "Delivery service queues tenant messages and sends them with human-like pacing",
		RunE:  serveCmd().RunE,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (required)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(sweepCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the delivery service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfigAndLogger()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			log.InfowCtx(ctx, "Starting Delivery Service")

			app := NewApp(cfg, log)
			if err := app.Initialize(ctx); err != nil {
				log.Errorw("Failed to initialize application", "error", err)
				_ = app.Shutdown(ctx)
				return err
			}

			if err := app.Run(ctx); err != nil {
				log.ErrorwCtx(ctx, "Application error", "error", err)
				return err
			}
			return nil
		},
	}
}

// sweepCmd runs one rule sweep and exits, for hosts that schedule it with the OS.
func sweepCmd() *cobra.Command {
	var at string

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run a single rule sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfigAndLogger()
			if err != nil {
				return err
			}
			defer log.Sync()

			now := time.Now()
			if at != "" {
				now, err = time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("invalid --at value: %w", err)
				}
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			app := NewApp(cfg, log)
			if err := app.Initialize(ctx); err != nil {
				log.Errorw("Failed to initialize application", "error", err)
				_ = app.Shutdown(ctx)
				return err
			}

			res, err := app.SweepOnce(ctx, now)
			if err != nil {
				log.ErrorwCtx(ctx, "Sweep failed", "error", err)
				return err
			}
			log.InfowCtx(ctx, "Sweep complete",
				"rules_checked", res.RulesChecked,
				"rules_fired", res.RulesFired,
				"submitted", res.Submitted,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&at, "at", "", "Evaluate rules as of this RFC3339 time")
	return cmd
}

func loadConfigAndLogger() (*config.Config, logger.Logger, error) {
	earlyLog := logging.NewEarlyLogger()
	defer earlyLog.Sync()

	if configFile == "" {
		configFile = os.Getenv("CONFIG_FILE")
		if configFile == "" {
			earlyLog.Error("Config file is required. Use --config flag or CONFIG_FILE environment variable")
			return nil, nil, fmt.Errorf("config file is required")
		}
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		earlyLog.Errorw("Failed to load config", "file", configFile, "error", err)
		return nil, nil, err
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		earlyLog.Errorw("Failed to init logger", "error", err)
		return nil, nil, err
	}

	if sl, ok := log.(*logger.SugaredLogger); ok {
		sl.SetServiceName(constants.ServiceName)
	}
	return cfg, log, nil
}
