package main

import (
	"context"
	"fmt"
	"log/slog"

	"RoleplayChat/internal/config"
	"RoleplayChat/internal/telemetry"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

type rootOptions struct {
	cfgFile  string
	debug    bool
	logLevel string
	stderr   bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "roleplaychat",
		Short: "AI roleplay chat server and terminal client",
		Long: "roleplaychat runs the session API that stores roleplay conversations and " +
			"generates replies, and a terminal client that manages sessions against it.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.cfgFile, "config", "c", "", "config file path (default ~/.config/roleplaychat/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().BoolVar(&opts.stderr, "log-stderr", false, "also write logs to stderr")

	rootCmd.AddCommand(newServeCmd(opts))
	rootCmd.AddCommand(newChatCmd(opts))
	rootCmd.AddCommand(newHistoryCmd(opts))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// loadConfig reads the config file and applies the global flag overrides.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.cfgFile)
	if err != nil {
		return nil, err
	}
	if o.debug {
		cfg.Debug = true
		cfg.Log.Level = "debug"
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.stderr {
		cfg.Log.Stderr = true
	}
	return cfg, nil
}

// observability bundles what every command sets up before doing work.
type observability struct {
	logger  *slog.Logger
	tracer  trace.Tracer
	meter   metric.Meter
	cleanup func()
}

func setupObservability(ctx context.Context, cfg *config.Config) (*observability, error) {
	telemetry.Version = version

	logger, closeLog, err := telemetry.InitLogger(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	tracer, meter, shutdown, err := telemetry.InitTelemetry(ctx, cfg.Telemetry, cfg.Log)
	if err != nil {
		closeLog()
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	if cfg.Debug {
		logger.Info("Debug mode enabled")
	}

	return &observability{
		logger: logger,
		tracer: tracer,
		meter:  meter,
		cleanup: func() {
			shutdown()
			closeLog()
		},
	}, nil
}
