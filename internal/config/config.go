// Package config loads layered configuration: built-in defaults, an
// optional YAML file, then FILEGRAPH_* environment variables, with a
// .env file read first via godotenv.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config file names probed in the working directory.
const (
	FileName    = "filegraph.yaml"
	AltFileName = ".filegraph.yaml"
)

// Config is the complete runtime configuration.
type Config struct {
	Graph      GraphConfig      `yaml:"graph"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	VL         VLConfig         `yaml:"vl"`
	Indexing   IndexingConfig   `yaml:"indexing"`
	Search     SearchConfig     `yaml:"search"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// GraphConfig selects and parameterises the graph store.
type GraphConfig struct {
	// Backend is "neo4j" or "memory".
	Backend  string `yaml:"backend"`
	URI      string `yaml:"uri"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// EmbeddingsConfig configures the embedding HTTP client.
type EmbeddingsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	BaseURL    string `yaml:"base_url"`
	Path       string `yaml:"path"`
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	Multimodal bool   `yaml:"multimodal"`
	MaxRetries int    `yaml:"max_retries"`
	Timeout    string `yaml:"timeout"`
	// InterCallDelay pauses between indexed files to protect the backend.
	InterCallDelay string `yaml:"inter_call_delay"`
	// CacheSize is the embedding LRU entry count; 0 disables the cache.
	CacheSize int `yaml:"cache_size"`
}

// VLConfig configures the vision-language description client.
type VLConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	Prompt  string `yaml:"prompt"`
	Timeout string `yaml:"timeout"`
}

// IndexingConfig tunes the per-file pipeline and the two-phase walk.
type IndexingConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`

	ScanConcurrency       int `yaml:"scan_concurrency"`
	IndexConcurrency      int `yaml:"index_concurrency"`
	MaxConcurrentIndexing int `yaml:"max_concurrent_indexing"`

	DisablePDF bool   `yaml:"disable_pdf"`
	Debounce   string `yaml:"debounce"`

	// SensitiveFilenames are ignore patterns applied to every
	// subscription on top of its own rules, keeping secrets out of the
	// graph. Overridable per deployment.
	SensitiveFilenames []string `yaml:"sensitive_filenames"`
}

// SearchConfig holds default query parameters.
type SearchConfig struct {
	Limit         int     `yaml:"limit"`
	MinSimilarity float64 `yaml:"min_similarity"`
	RRFK          int     `yaml:"rrf_k"`
	VectorWeight  float64 `yaml:"vector_weight"`
	BM25Weight    float64 `yaml:"bm25_weight"`
	MinScore      float64 `yaml:"min_score"`
}

// LoggingConfig configures the slog setup.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	File   string `yaml:"file"`
	Stderr bool   `yaml:"stderr"`
}

// defaultSensitiveFilenames cover common credential files.
var defaultSensitiveFilenames = []string{
	".env",
	".env.*",
	"*.pem",
	"*.key",
	"id_rsa",
	"id_dsa",
	"id_ed25519",
	"*.p12",
	"*.pfx",
	"credentials.json",
	".netrc",
	".npmrc",
	".pypirc",
}

// NewConfig returns the built-in defaults.
func NewConfig() *Config {
	return &Config{
		Graph: GraphConfig{
			Backend:  "memory",
			URI:      "neo4j://localhost:7687",
			Username: "neo4j",
			Database: "neo4j",
		},
		Embeddings: EmbeddingsConfig{
			Enabled:        false,
			BaseURL:        "http://localhost:1234",
			Path:           "/v1/embeddings",
			Model:          "text-embedding-nomic-embed-text-v1.5",
			Dimensions:     768,
			MaxRetries:     3,
			Timeout:        "60s",
			InterCallDelay: "0s",
			CacheSize:      1024,
		},
		VL: VLConfig{
			Enabled: false,
			BaseURL: "http://localhost:1234",
			Model:   "qwen2.5-vl",
			Timeout: "2m",
		},
		Indexing: IndexingConfig{
			ChunkSize:             768,
			ChunkOverlap:          10,
			ScanConcurrency:       50,
			IndexConcurrency:      3,
			MaxConcurrentIndexing: 1,
			Debounce:              "2s",
			SensitiveFilenames:    defaultSensitiveFilenames,
		},
		Search: SearchConfig{
			Limit:         10,
			MinSimilarity: 0.75,
			RRFK:          60,
			VectorWeight:  1.0,
			BM25Weight:    1.0,
			MinScore:      0.01,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Stderr: true,
		},
	}
}

// Load builds the effective configuration for dir, in order of
// increasing precedence: defaults, YAML file, environment variables.
// A .env file in dir is loaded into the process environment first.
func Load(dir string) (*Config, error) {
	// Existing environment wins over .env entries.
	_ = godotenv.Load(filepath.Join(dir, ".env"))

	cfg := NewConfig()
	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadFromFile merges filegraph.yaml or .filegraph.yaml when present.
func (c *Config) loadFromFile(dir string) error {
	for _, name := range []string{FileName, AltFileName} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parsing config file %s: %w", path, err)
		}
		return nil
	}
	return nil
}

// applyEnvOverrides applies FILEGRAPH_* variables, highest precedence.
func (c *Config) applyEnvOverrides() {
	setString(&c.Graph.Backend, "FILEGRAPH_STORE")
	setString(&c.Graph.URI, "FILEGRAPH_NEO4J_URI")
	setString(&c.Graph.Username, "FILEGRAPH_NEO4J_USERNAME")
	setString(&c.Graph.Password, "FILEGRAPH_NEO4J_PASSWORD")
	setString(&c.Graph.Database, "FILEGRAPH_NEO4J_DATABASE")

	setBool(&c.Embeddings.Enabled, "FILEGRAPH_EMBEDDINGS_ENABLED")
	setString(&c.Embeddings.BaseURL, "FILEGRAPH_EMBEDDING_BASE_URL")
	setString(&c.Embeddings.Path, "FILEGRAPH_EMBEDDING_PATH")
	setString(&c.Embeddings.APIKey, "FILEGRAPH_EMBEDDING_API_KEY")
	setString(&c.Embeddings.Model, "FILEGRAPH_EMBEDDING_MODEL")
	setInt(&c.Embeddings.Dimensions, "FILEGRAPH_EMBEDDING_DIMENSIONS")
	setBool(&c.Embeddings.Multimodal, "FILEGRAPH_EMBEDDING_MULTIMODAL")
	setInt(&c.Embeddings.MaxRetries, "FILEGRAPH_EMBEDDING_RETRIES")
	setDuration(&c.Embeddings.Timeout, "FILEGRAPH_EMBEDDING_TIMEOUT")
	setDuration(&c.Embeddings.InterCallDelay, "FILEGRAPH_INTER_CALL_DELAY")
	setInt(&c.Embeddings.CacheSize, "FILEGRAPH_EMBEDDING_CACHE_SIZE")

	setBool(&c.VL.Enabled, "FILEGRAPH_VL_ENABLED")
	setString(&c.VL.BaseURL, "FILEGRAPH_VL_BASE_URL")
	setString(&c.VL.APIKey, "FILEGRAPH_VL_API_KEY")
	setString(&c.VL.Model, "FILEGRAPH_VL_MODEL")
	setDuration(&c.VL.Timeout, "FILEGRAPH_VL_TIMEOUT")

	setInt(&c.Indexing.ChunkSize, "FILEGRAPH_CHUNK_SIZE")
	setInt(&c.Indexing.ChunkOverlap, "FILEGRAPH_CHUNK_OVERLAP")
	setInt(&c.Indexing.ScanConcurrency, "FILEGRAPH_SCAN_CONCURRENCY")
	setInt(&c.Indexing.IndexConcurrency, "FILEGRAPH_INDEX_CONCURRENCY")
	setInt(&c.Indexing.MaxConcurrentIndexing, "FILEGRAPH_MAX_CONCURRENT_INDEXING")
	setBool(&c.Indexing.DisablePDF, "FILEGRAPH_DISABLE_PDF")
	setDuration(&c.Indexing.Debounce, "FILEGRAPH_DEBOUNCE")
	if v := os.Getenv("FILEGRAPH_SENSITIVE_FILES"); v != "" {
		c.Indexing.SensitiveFilenames = splitList(v)
	}

	setInt(&c.Search.Limit, "FILEGRAPH_SEARCH_LIMIT")
	setFloat(&c.Search.MinSimilarity, "FILEGRAPH_MIN_SIMILARITY")
	setInt(&c.Search.RRFK, "FILEGRAPH_RRF_K")
	setFloat(&c.Search.VectorWeight, "FILEGRAPH_RRF_VECTOR_WEIGHT")
	setFloat(&c.Search.BM25Weight, "FILEGRAPH_RRF_BM25_WEIGHT")
	setFloat(&c.Search.MinScore, "FILEGRAPH_RRF_MIN_SCORE")

	setString(&c.Logging.Level, "FILEGRAPH_LOG_LEVEL")
	setString(&c.Logging.File, "FILEGRAPH_LOG_FILE")
}

// Validate rejects configurations the runtime cannot honor.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Graph.Backend) {
	case "neo4j", "memory":
	default:
		return fmt.Errorf("graph.backend must be 'neo4j' or 'memory', got %q", c.Graph.Backend)
	}

	if c.Indexing.ChunkSize <= 0 {
		return fmt.Errorf("indexing.chunk_size must be positive, got %d", c.Indexing.ChunkSize)
	}
	if c.Indexing.ChunkOverlap < 0 || c.Indexing.ChunkOverlap >= c.Indexing.ChunkSize {
		return fmt.Errorf("indexing.chunk_overlap must be in [0, chunk_size), got %d", c.Indexing.ChunkOverlap)
	}
	if c.Embeddings.Enabled && c.Embeddings.Dimensions <= 0 {
		return fmt.Errorf("embeddings.dimensions must be positive when embeddings are enabled, got %d", c.Embeddings.Dimensions)
	}
	if c.Search.MinSimilarity < 0 || c.Search.MinSimilarity > 1 {
		return fmt.Errorf("search.min_similarity must be in [0, 1], got %f", c.Search.MinSimilarity)
	}

	for _, field := range []struct {
		name  string
		value string
	}{
		{"embeddings.timeout", c.Embeddings.Timeout},
		{"embeddings.inter_call_delay", c.Embeddings.InterCallDelay},
		{"vl.timeout", c.VL.Timeout},
		{"indexing.debounce", c.Indexing.Debounce},
	} {
		if field.value == "" {
			continue
		}
		if _, err := time.ParseDuration(field.value); err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	return nil
}

// Duration parses a duration field that Validate has already checked.
func Duration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = strings.ToLower(v) == "true" || v == "1"
	}
}

func setDuration(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		if _, err := time.ParseDuration(v); err == nil {
			*dst = v
		}
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
