package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/filegraph/filegraph/internal/search"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	limit  int
	types  []string
	format string
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run a hybrid query against the graph",
		Long: `Runs the hybrid pipeline: semantic KNN and BM25 keyword ranking,
fused with Reciprocal Rank Fusion. Falls back to keyword-only results
when the embedding backend is unavailable.

Examples:
  filegraph search "retry backoff"
  filegraph search "token refresh" --limit 5 --format json
  filegraph search "handler" --type file`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum number of results")
	cmd.Flags().StringSliceVarP(&opts.types, "type", "t", nil, "Filter by node type (file, file_chunk)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())

	resp := rt.searcher.Search(ctx, query, search.Options{
		Types:         opts.types,
		Limit:         opts.limit,
		MinSimilarity: cfg.Search.MinSimilarity,
		RRFK:          cfg.Search.RRFK,
		VectorWeight:  cfg.Search.VectorWeight,
		BM25Weight:    cfg.Search.BM25Weight,
		MinScore:      cfg.Search.MinScore,
	})

	out := cmd.OutOrStdout()
	if opts.format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	if resp.Message != "" {
		fmt.Fprintln(out, resp.Message)
	}
	if len(resp.Results) == 0 {
		fmt.Fprintln(out, "no results")
		return nil
	}

	for i, r := range resp.Results {
		score := r.Similarity
		if score == 0 {
			score = r.Relevance
		}
		fmt.Fprintf(out, "%2d. %s  (%.3f)\n", i+1, r.ID, score)
		if r.ChunkIndex != nil {
			fmt.Fprintf(out, "    chunk %d, %d matched\n", *r.ChunkIndex, r.ChunksMatched)
		}
		if r.ContentPreview != "" {
			fmt.Fprintf(out, "    %s\n", strings.ReplaceAll(r.ContentPreview, "\n", " "))
		}
	}
	fmt.Fprintf(out, "\n%d of %d candidates (%s)\n", resp.Returned, resp.TotalCandidates, resp.SearchMethod)
	return nil
}
