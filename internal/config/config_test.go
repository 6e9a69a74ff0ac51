package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Graph.Backend)
	assert.False(t, cfg.Embeddings.Enabled)
	assert.Equal(t, 768, cfg.Indexing.ChunkSize)
	assert.Equal(t, 50, cfg.Indexing.ScanConcurrency)
	assert.Equal(t, 3, cfg.Indexing.IndexConcurrency)
	assert.Equal(t, 1, cfg.Indexing.MaxConcurrentIndexing)
	assert.Equal(t, 0.75, cfg.Search.MinSimilarity)
	assert.Equal(t, 60, cfg.Search.RRFK)
	assert.Contains(t, cfg.Indexing.SensitiveFilenames, ".env")
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	yaml := `
graph:
  backend: neo4j
  uri: neo4j://db.internal:7687
embeddings:
  enabled: true
  dimensions: 1024
indexing:
  chunk_size: 512
  disable_pdf: true
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(yaml), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "neo4j", cfg.Graph.Backend)
	assert.Equal(t, "neo4j://db.internal:7687", cfg.Graph.URI)
	assert.True(t, cfg.Embeddings.Enabled)
	assert.Equal(t, 1024, cfg.Embeddings.Dimensions)
	assert.Equal(t, 512, cfg.Indexing.ChunkSize)
	assert.True(t, cfg.Indexing.DisablePDF)

	// Untouched sections keep their defaults.
	assert.Equal(t, 60, cfg.Search.RRFK)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	yaml := "indexing:\n  chunk_size: 512\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, AltFileName), []byte(yaml), 0o644))

	t.Setenv("FILEGRAPH_CHUNK_SIZE", "256")
	t.Setenv("FILEGRAPH_EMBEDDING_BASE_URL", "http://embed.internal:8080")
	t.Setenv("FILEGRAPH_DISABLE_PDF", "true")
	t.Setenv("FILEGRAPH_VL_TIMEOUT", "90s")
	t.Setenv("FILEGRAPH_SENSITIVE_FILES", "*.secret, vault.yml")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 256, cfg.Indexing.ChunkSize)
	assert.Equal(t, "http://embed.internal:8080", cfg.Embeddings.BaseURL)
	assert.True(t, cfg.Indexing.DisablePDF)
	assert.Equal(t, "90s", cfg.VL.Timeout)
	assert.Equal(t, []string{"*.secret", "vault.yml"}, cfg.Indexing.SensitiveFilenames)
}

func TestLoad_DotEnvFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("FILEGRAPH_EMBEDDING_API_KEY=sk-local-test\n"), 0o644))
	t.Setenv("FILEGRAPH_EMBEDDING_API_KEY", "")
	os.Unsetenv("FILEGRAPH_EMBEDDING_API_KEY")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "sk-local-test", cfg.Embeddings.APIKey)
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "unknown backend",
			mutate: func(c *Config) { c.Graph.Backend = "postgres" },
			want:   "graph.backend",
		},
		{
			name:   "zero chunk size",
			mutate: func(c *Config) { c.Indexing.ChunkSize = 0 },
			want:   "chunk_size",
		},
		{
			name:   "overlap not below size",
			mutate: func(c *Config) { c.Indexing.ChunkOverlap = 768 },
			want:   "chunk_overlap",
		},
		{
			name: "embeddings without dimensions",
			mutate: func(c *Config) {
				c.Embeddings.Enabled = true
				c.Embeddings.Dimensions = 0
			},
			want: "dimensions",
		},
		{
			name:   "similarity out of range",
			mutate: func(c *Config) { c.Search.MinSimilarity = 1.5 },
			want:   "min_similarity",
		},
		{
			name:   "bad duration",
			mutate: func(c *Config) { c.VL.Timeout = "soon" },
			want:   "vl.timeout",
		},
		{
			name:   "bad log level",
			mutate: func(c *Config) { c.Logging.Level = "verbose" },
			want:   "logging.level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDuration(t *testing.T) {
	assert.Equal(t, 0, int(Duration("garbage")))
	assert.Equal(t, int64(90000000000), int64(Duration("90s")))
}
