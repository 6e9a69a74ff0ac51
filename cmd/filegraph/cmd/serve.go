package cmd

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Resume persisted subscriptions and keep them in sync",
		Long: `Reads subscriptions from the graph store, restarts their watchers
and keeps indexing filesystem changes until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())

	if err := rt.manager.Resume(ctx); err != nil {
		return err
	}

	slog.Info("serving", slog.String("store", cfg.Graph.Backend))
	<-ctx.Done()
	slog.Info("shutting down")
	return nil
}
