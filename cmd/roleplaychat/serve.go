package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"RoleplayChat/internal/backend"
	"RoleplayChat/internal/chatapi"
	"RoleplayChat/internal/store"

	"github.com/spf13/cobra"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var (
		addr     string
		driver   string
		dsn      string
		provider string
		model    string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the session API server",
		Example: `  roleplaychat serve
  roleplaychat serve --addr :8000 --provider anthropic
  DATABASE_URL=postgres://localhost/roleplay roleplaychat serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if driver != "" {
				cfg.Database.Driver = driver
			}
			if dsn != "" {
				cfg.Database.DSN = dsn
			}
			if provider != "" {
				cfg.Backend.Provider = provider
			}
			if model != "" {
				cfg.Backend.Model = model
			}
			cfg.ResolveAPIKey()
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			obs, err := setupObservability(ctx, cfg)
			if err != nil {
				return err
			}
			defer obs.cleanup()

			st, err := store.Open(ctx, store.OptionsFrom(cfg.Database, obs.logger))
			if err != nil {
				return fmt.Errorf("failed to initialize database: %w", err)
			}
			defer st.Close()

			completer, err := backend.New(cfg.Backend)
			if err != nil {
				return fmt.Errorf("failed to initialize backend: %w", err)
			}

			svc := chatapi.NewService(chatapi.Deps{
				Store:   st,
				Gateway: backend.Instrument(completer, obs.logger, obs.tracer, obs.meter),
				Logger:  obs.logger,
				Tracer:  obs.tracer,
				Meter:   obs.meter,
			})
			srv := chatapi.NewServer(cfg.Server, svc, obs.logger, obs.tracer, obs.meter)

			obs.logger.Info("starting session API",
				"addr", cfg.Server.Addr,
				"driver", cfg.Database.Driver,
				"backend", completer.Name(),
			)
			fmt.Fprintf(cmd.OutOrStdout(), "Serving on http://%s (backend: %s)\n", cfg.Server.Addr, completer.Name())
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default localhost:8000)")
	cmd.Flags().StringVar(&driver, "db-driver", "", "database driver (sqlite3|pgx)")
	cmd.Flags().StringVar(&dsn, "db-dsn", "", "database file path or connection URL")
	cmd.Flags().StringVarP(&provider, "provider", "p", "", "LLM backend (gemini|openai|anthropic|grok|ollama)")
	cmd.Flags().StringVarP(&model, "model", "m", "", "override model")

	return cmd
}
