package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/filegraph/filegraph/internal/config"
	"github.com/filegraph/filegraph/internal/embed"
	"github.com/filegraph/filegraph/internal/graph"
	"github.com/filegraph/filegraph/internal/indexer"
	"github.com/filegraph/filegraph/internal/search"
	"github.com/filegraph/filegraph/internal/watch"
)

// runtime wires the configured components together for one command
// invocation.
type runtime struct {
	cfg      *config.Config
	store    graph.Store
	embedder embed.Client
	manager  *watch.Manager
	searcher *search.Service
}

// buildRuntime constructs the store, clients, indexer and manager from
// configuration. Close must be called when done.
func buildRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	store, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var embedder embed.Client
	if cfg.Embeddings.Enabled {
		embedder = embed.NewHTTPClient(embed.Config{
			BaseURL:    cfg.Embeddings.BaseURL,
			Path:       cfg.Embeddings.Path,
			APIKey:     cfg.Embeddings.APIKey,
			Model:      cfg.Embeddings.Model,
			Dimensions: cfg.Embeddings.Dimensions,
			Multimodal: cfg.Embeddings.Multimodal,
			MaxRetries: cfg.Embeddings.MaxRetries,
			Timeout:    config.Duration(cfg.Embeddings.Timeout),
		})
		if cfg.Embeddings.CacheSize > 0 {
			cached, err := embed.NewCachedClient(embedder, cfg.Embeddings.CacheSize)
			if err != nil {
				_ = store.Close(ctx)
				return nil, fmt.Errorf("creating embedding cache: %w", err)
			}
			embedder = cached
		}
	}

	// Keyword-only search still queries the full-text index, so the
	// schema is bootstrapped regardless of the embedding switch. A zero
	// dimension skips only the vector index.
	if err := store.EnsureSchema(ctx, cfg.Embeddings.Dimensions); err != nil {
		_ = store.Close(ctx)
		return nil, fmt.Errorf("ensuring graph schema: %w", err)
	}

	var describer indexer.ImageDescriber
	if cfg.VL.Enabled {
		describer = embed.NewVLClient(embed.VLConfig{
			BaseURL: cfg.VL.BaseURL,
			APIKey:  cfg.VL.APIKey,
			Model:   cfg.VL.Model,
			Timeout: config.Duration(cfg.VL.Timeout),
		})
	}

	ix := indexer.New(store, embedder, describer, indexer.Options{
		ChunkSize:    cfg.Indexing.ChunkSize,
		ChunkOverlap: cfg.Indexing.ChunkOverlap,
		DisablePDF:   cfg.Indexing.DisablePDF,
		VLPrompt:     cfg.VL.Prompt,
	})

	manager := watch.NewManager(store, ix, watch.ManagerOptions{
		ScanConcurrency:       cfg.Indexing.ScanConcurrency,
		IndexConcurrency:      cfg.Indexing.IndexConcurrency,
		MaxConcurrentIndexing: int64(cfg.Indexing.MaxConcurrentIndexing),
		InterCallDelay:        config.Duration(cfg.Embeddings.InterCallDelay),
		DefaultDebounce:       config.Duration(cfg.Indexing.Debounce),
		ExtraIgnores:          cfg.Indexing.SensitiveFilenames,
	})

	return &runtime{
		cfg:      cfg,
		store:    store,
		embedder: embedder,
		manager:  manager,
		searcher: search.NewService(store, embedder),
	}, nil
}

func buildStore(ctx context.Context, cfg *config.Config) (graph.Store, error) {
	switch strings.ToLower(cfg.Graph.Backend) {
	case "neo4j":
		return graph.NewNeo4jStore(ctx, graph.Neo4jConfig{
			URI:      cfg.Graph.URI,
			Username: cfg.Graph.Username,
			Password: cfg.Graph.Password,
			Database: cfg.Graph.Database,
		})
	case "memory":
		return graph.NewMemoryStore()
	default:
		return nil, fmt.Errorf("unknown graph backend %q", cfg.Graph.Backend)
	}
}

// Close drains the manager and releases the store and clients.
func (r *runtime) Close(ctx context.Context) {
	r.manager.Close()
	if r.embedder != nil {
		_ = r.embedder.Close()
	}
	_ = r.store.Close(ctx)
}
