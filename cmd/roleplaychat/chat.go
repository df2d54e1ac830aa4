package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"RoleplayChat/internal/chatbot"
	"RoleplayChat/internal/client"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newChatCmd(opts *rootOptions) *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start the interactive roleplay client",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if serverURL != "" {
				cfg.Client.ServerURL = serverURL
			}
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

			local, err := client.OpenBoltStore(cfg.Client.StatePath)
			if err != nil {
				return err
			}

			api := client.NewAPI(cfg.Client.ServerURL, &http.Client{Timeout: cfg.Client.Timeout})
			manager := client.NewManager(api, local, obs.logger)
			if err := manager.Load(); err != nil {
				obs.logger.Warn("starting with no saved sessions", "path", local.Path(), "error", err)
			}

			obs.logger.Info("chat client started", "server_url", cfg.Client.ServerURL, "state", local.Path())
			bot := chatbot.NewChatBot(manager, obs.logger, cmd.InOrStdin(), cmd.OutOrStdout())
			bot.SetPrompt(term.IsTerminal(int(os.Stdin.Fd())))
			return bot.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "", "session API base URL (default http://localhost:8000)")
	return cmd
}
