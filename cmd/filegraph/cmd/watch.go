package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/filegraph/filegraph/internal/watch"
)

// watchOptions holds CLI flags for watch.
type watchOptions struct {
	recursive  bool
	debounceMS int
	includes   []string
	ignores    []string
	embeddings bool
	oneShot    bool
}

func newWatchCmd() *cobra.Command {
	var opts watchOptions

	cmd := &cobra.Command{
		Use:   "watch <path>",
		Short: "Subscribe a directory tree and index it",
		Long: `Registers a subscription for the given directory, indexes the whole
tree and then keeps it in sync with filesystem changes. Progress is
printed as it happens. With --one-shot the command exits once the
initial indexing job reaches a terminal state.

Examples:
  filegraph watch ./src --include "*.go" --include "*.md"
  filegraph watch /var/docs --ignore "drafts/" --one-shot`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), cmd, args[0], opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.recursive, "recursive", "r", true, "Watch subdirectories too")
	cmd.Flags().IntVar(&opts.debounceMS, "debounce-ms", 0, "Write-stabilisation quiet window in milliseconds")
	cmd.Flags().StringSliceVar(&opts.includes, "include", nil, "Only index files matching these globs (repeatable)")
	cmd.Flags().StringSliceVar(&opts.ignores, "ignore", nil, "Additional ignore patterns (repeatable)")
	cmd.Flags().BoolVar(&opts.embeddings, "embeddings", false, "Generate embeddings for this subscription")
	cmd.Flags().BoolVar(&opts.oneShot, "one-shot", false, "Exit after the initial indexing job finishes")

	return cmd
}

func runWatch(ctx context.Context, cmd *cobra.Command, path string, opts watchOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if opts.embeddings && !cfg.Embeddings.Enabled {
		return fmt.Errorf("--embeddings requires embeddings to be enabled in configuration")
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())

	out := cmd.OutOrStdout()
	done := make(chan watch.Status, 1)
	unsubscribe := rt.manager.OnProgress(func(p watch.Progress) {
		switch p.Status {
		case watch.StatusIndexing:
			if p.CurrentFile != "" {
				fmt.Fprintf(out, "\rindexing %d/%d  %s", p.Indexed+p.Skipped+p.Errored, p.TotalFiles, p.CurrentFile)
			}
		case watch.StatusCompleted, watch.StatusCancelled, watch.StatusError:
			fmt.Fprintf(out, "\n%s: %d indexed, %d skipped, %d fast-skipped, %d errored\n",
				p.Status, p.Indexed, p.Skipped, p.FastSkipped, p.Errored)
			select {
			case done <- p.Status:
			default:
			}
		}
	})
	defer unsubscribe()

	if err := rt.manager.Subscribe(ctx, watch.SubscribeRequest{
		Path:               path,
		Recursive:          opts.recursive,
		DebounceMillis:     opts.debounceMS,
		IncludePatterns:    opts.includes,
		IgnorePatterns:     opts.ignores,
		GenerateEmbeddings: opts.embeddings,
	}); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return nil
	case status := <-done:
		if opts.oneShot {
			if status == watch.StatusError {
				return fmt.Errorf("indexing finished with errors")
			}
			return nil
		}
	}

	// Keep watching for filesystem changes until interrupted.
	fmt.Fprintln(out, "watching for changes, Ctrl-C to stop")
	<-ctx.Done()
	return nil
}
