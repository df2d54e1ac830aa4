package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"RoleplayChat/internal/store"

	"github.com/spf13/cobra"
)

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history [session-id]",
		Short: "List stored sessions, or print one session's messages",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			ctx := context.Background()
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

			out := cmd.OutOrStdout()

			if len(args) == 1 {
				msgs, err := st.List(ctx, args[0])
				if err != nil {
					return err
				}
				if len(msgs) == 0 {
					fmt.Fprintf(out, "No messages stored for session %s\n", args[0])
					return nil
				}
				for _, m := range msgs {
					fmt.Fprintf(out, "[%s] %s: %s\n", m.Timestamp.Local().Format(time.DateTime), m.Role, m.Content)
				}
				return nil
			}

			summaries, err := st.Sessions(ctx)
			if err != nil {
				return err
			}
			if len(summaries) == 0 {
				fmt.Fprintln(out, "No sessions stored.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SESSION\tMESSAGES\tFIRST\tLAST")
			for _, s := range summaries {
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", s.SessionID, s.MessageCount,
					s.FirstAt.Local().Format(time.DateTime), s.LastAt.Local().Format(time.DateTime))
			}
			return tw.Flush()
		},
	}
}
