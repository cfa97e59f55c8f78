package papergraph

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/brunobiangulo/papergraph/llm"
	"github.com/brunobiangulo/papergraph/publish"
	"github.com/brunobiangulo/papergraph/validation"
)

// EnvPrefix prefixes environment overrides, e.g. PAPERGRAPH_CHAT_MODEL
// for chat.model.
const EnvPrefix = "PAPERGRAPH"

// Config holds all configuration for the papergraph engine.
type Config struct {
	Storage    StorageConfig    `json:"storage" yaml:"storage" mapstructure:"storage"`
	Chat       llm.Config       `json:"chat" yaml:"chat" mapstructure:"chat"`
	Embedding  llm.Config       `json:"embedding" yaml:"embedding" mapstructure:"embedding"`
	Cache      CacheConfig      `json:"cache" yaml:"cache" mapstructure:"cache"`
	Sources    SourcesConfig    `json:"sources" yaml:"sources" mapstructure:"sources"`
	Extraction ExtractionConfig `json:"extraction" yaml:"extraction" mapstructure:"extraction"`
	Validation ValidationConfig `json:"validation" yaml:"validation" mapstructure:"validation"`
	Publish    PublishConfig    `json:"publish" yaml:"publish" mapstructure:"publish"`
	Search     SearchConfig     `json:"search" yaml:"search" mapstructure:"search"`
	Export     ExportConfig     `json:"export" yaml:"export" mapstructure:"export"`
	Logging    LoggingConfig    `json:"logging" yaml:"logging" mapstructure:"logging"`
}

// StorageConfig selects and configures the record store.
type StorageConfig struct {
	// Backend is "sqlite" (default) or "postgres".
	Backend string `json:"backend" yaml:"backend" mapstructure:"backend"`

	// DBPath is the full path to the SQLite database file. If empty it is
	// <DBName>.db inside the storage directory.
	DBPath string `json:"db_path" yaml:"db_path" mapstructure:"db_path"`
	DBName string `json:"db_name" yaml:"db_name" mapstructure:"db_name"`
	// StorageDir is "home" (~/.papergraph/) or "local" (working directory).
	StorageDir string `json:"storage_dir" yaml:"storage_dir" mapstructure:"storage_dir"`

	// EmbeddingDim must match the embedding model.
	EmbeddingDim int `json:"embedding_dim" yaml:"embedding_dim" mapstructure:"embedding_dim"`

	Postgres PostgresConfig `json:"postgres" yaml:"postgres" mapstructure:"postgres"`
}

// PostgresConfig configures the PostgreSQL backend. An empty URL falls back
// to the PG* environment variables.
type PostgresConfig struct {
	URL      string `json:"url,omitempty" yaml:"url,omitempty" mapstructure:"url"`
	MaxConns int32  `json:"max_conns" yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32  `json:"min_conns" yaml:"min_conns" mapstructure:"min_conns"`
}

// CacheConfig enables the Redis response cache for deterministic model
// calls. An empty Addr disables it.
type CacheConfig struct {
	Addr     string        `json:"addr" yaml:"addr" mapstructure:"addr"`
	Password string        `json:"password,omitempty" yaml:"password,omitempty" mapstructure:"password"`
	DB       int           `json:"db" yaml:"db" mapstructure:"db"`
	TTL      time.Duration `json:"ttl" yaml:"ttl" mapstructure:"ttl"`
}

// SourcesConfig configures paper acquisition.
type SourcesConfig struct {
	PDFDir      string `json:"pdf_dir" yaml:"pdf_dir" mapstructure:"pdf_dir"`
	CatalogPath string `json:"catalog_path" yaml:"catalog_path" mapstructure:"catalog_path"`
	// ArxivDelay spaces arXiv API requests.
	ArxivDelay       time.Duration `json:"arxiv_delay" yaml:"arxiv_delay" mapstructure:"arxiv_delay"`
	SemanticAPIKey   string        `json:"semantic_scholar_api_key,omitempty" yaml:"semantic_scholar_api_key,omitempty" mapstructure:"semantic_scholar_api_key"`
	SemanticDelay    time.Duration `json:"semantic_scholar_delay" yaml:"semantic_scholar_delay" mapstructure:"semantic_scholar_delay"`
	MaxCitingPerSeed int           `json:"max_citing_per_seed" yaml:"max_citing_per_seed" mapstructure:"max_citing_per_seed"`
}

// ExtractionConfig tunes concept extraction and relationship discovery.
type ExtractionConfig struct {
	Concurrency int           `json:"concurrency" yaml:"concurrency" mapstructure:"concurrency"`
	ItemTimeout time.Duration `json:"item_timeout" yaml:"item_timeout" mapstructure:"item_timeout"`
	// RequestDelay is the minimum spacing between model calls.
	RequestDelay time.Duration `json:"request_delay" yaml:"request_delay" mapstructure:"request_delay"`
	MaxTextChars int           `json:"max_text_chars" yaml:"max_text_chars" mapstructure:"max_text_chars"`
	// MinRelevance is the per-side relevance a concept needs to count as
	// shared between two papers.
	MinRelevance float64 `json:"min_relevance" yaml:"min_relevance" mapstructure:"min_relevance"`
	MinShared    int     `json:"min_shared" yaml:"min_shared" mapstructure:"min_shared"`
	MaxPairs     int     `json:"max_pairs" yaml:"max_pairs" mapstructure:"max_pairs"`
	PriorWeight  float64 `json:"prior_weight" yaml:"prior_weight" mapstructure:"prior_weight"`
}

// ValidationConfig configures the review policy of validation runs.
type ValidationConfig struct {
	ReviewThreshold  float64  `json:"review_threshold" yaml:"review_threshold" mapstructure:"review_threshold"`
	ExemptFromReview []string `json:"exempt_from_review" yaml:"exempt_from_review" mapstructure:"exempt_from_review"`
	Concurrency      int      `json:"concurrency" yaml:"concurrency" mapstructure:"concurrency"`
}

// Policy returns the validation policy described by c.
func (c ValidationConfig) Policy() validation.Policy {
	return validation.Policy{ReviewThreshold: c.ReviewThreshold, ExemptFromReview: c.ExemptFromReview}
}

// PublishConfig configures the optional external sinks. Empty addresses
// disable a sink.
type PublishConfig struct {
	Neo4j   publish.Neo4jConfig  `json:"neo4j" yaml:"neo4j" mapstructure:"neo4j"`
	Qdrant  publish.QdrantConfig `json:"qdrant" yaml:"qdrant" mapstructure:"qdrant"`
	NATSURL string               `json:"nats_url" yaml:"nats_url" mapstructure:"nats_url"`
}

// SearchConfig weights the full-text and embedding rankings fused by
// Search. A zero VectorWeight disables the embedding ranking.
type SearchConfig struct {
	FTSWeight    float64 `json:"fts_weight" yaml:"fts_weight" mapstructure:"fts_weight"`
	VectorWeight float64 `json:"vector_weight" yaml:"vector_weight" mapstructure:"vector_weight"`
}

// ExportConfig configures report export.
type ExportConfig struct {
	OutputDir string `json:"output_dir" yaml:"output_dir" mapstructure:"output_dir"`
	Format    string `json:"format" yaml:"format" mapstructure:"format"`
}

// LoggingConfig configures the CLI logger. An empty File logs to stderr.
type LoggingConfig struct {
	Level      string `json:"level" yaml:"level" mapstructure:"level"`
	Format     string `json:"format" yaml:"format" mapstructure:"format"`
	File       string `json:"file" yaml:"file" mapstructure:"file"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days" mapstructure:"max_age_days"`
}

// DefaultConfig returns a Config for local inference with Ollama and a
// SQLite database in ~/.papergraph/.
func DefaultConfig() Config {
	return Config{
		Storage: StorageConfig{
			Backend:      "sqlite",
			DBName:       "papergraph",
			StorageDir:   "home",
			EmbeddingDim: 768,
			Postgres:     PostgresConfig{MaxConns: 10, MinConns: 1},
		},
		Chat: llm.Config{
			Provider: "ollama",
			Model:    "llama3.1:8b",
			BaseURL:  "http://localhost:11434",
		},
		Embedding: llm.Config{
			Provider: "ollama",
			Model:    "nomic-embed-text",
			BaseURL:  "http://localhost:11434",
		},
		Cache: CacheConfig{TTL: 7 * 24 * time.Hour},
		Sources: SourcesConfig{
			PDFDir:           "data/pdfs",
			CatalogPath:      "data/papers_metadata.json",
			ArxivDelay:       3 * time.Second,
			SemanticDelay:    time.Second,
			MaxCitingPerSeed: 30,
		},
		Extraction: ExtractionConfig{
			Concurrency:  4,
			ItemTimeout:  90 * time.Second,
			RequestDelay: time.Second,
			MaxTextChars: 12000,
			MinRelevance: validation.DefaultMinSharedWeight,
			MinShared:    2,
			MaxPairs:     500,
			PriorWeight:  0.3,
		},
		Validation: ValidationConfig{
			ReviewThreshold: validation.LowConfidence,
		},
		Publish: PublishConfig{
			Neo4j:  publish.Neo4jConfig{User: "neo4j", Database: "neo4j", BatchSize: 500},
			Qdrant: publish.QdrantConfig{Collection: "papers"},
		},
		Search: SearchConfig{FTSWeight: 1.0, VectorWeight: 1.0},
		Export: ExportConfig{OutputDir: "reports", Format: "json"},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  20,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// LoadConfig reads a YAML or JSON config file over DefaultConfig and
// applies PAPERGRAPH_* environment overrides. An empty path loads defaults
// and environment only.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := setDefaults(v, DefaultConfig()); err != nil {
		return Config{}, err
	}
	_ = v.BindEnv("storage.postgres.url", EnvPrefix+"_STORAGE_POSTGRES_URL", "DATABASE_URL")
	_ = v.BindEnv("sources.semantic_scholar_api_key", EnvPrefix+"_SOURCES_SEMANTIC_SCHOLAR_API_KEY", "SEMANTIC_SCHOLAR_API_KEY")

	if path != "" {
		v.SetConfigFile(path)
		if strings.EqualFold(filepath.Ext(path), ".json") {
			v.SetConfigType("json")
		} else {
			v.SetConfigType("yaml")
		}
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every leaf of def so AutomaticEnv can override
// keys that the config file does not mention.
func setDefaults(v *viper.Viper, def Config) error {
	b, err := yaml.Marshal(def)
	if err != nil {
		return fmt.Errorf("encoding default config: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(b, &tree); err != nil {
		return fmt.Errorf("decoding default config: %w", err)
	}
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, val := range m {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			if sub, ok := val.(map[string]any); ok {
				walk(key, sub)
				continue
			}
			v.SetDefault(key, val)
		}
	}
	walk("", tree)

	// Keys omitted from the YAML encoding still need an entry.
	for _, key := range []string{
		"storage.postgres.url", "cache.password", "sources.semantic_scholar_api_key",
		"chat.api_key", "embedding.api_key", "publish.neo4j.password",
		"validation.exempt_from_review",
	} {
		if !v.IsSet(key) {
			v.SetDefault(key, nil)
		}
	}
	return nil
}

// SaveConfig writes cfg as YAML, creating parent directories.
func SaveConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return os.WriteFile(path, b, 0o600)
}

// Validate checks value ranges and required fields.
func (c *Config) Validate() error {
	var problems []string
	switch c.Storage.Backend {
	case "sqlite", "":
		if c.Storage.EmbeddingDim <= 0 {
			problems = append(problems, "storage.embedding_dim must be positive")
		}
	case "postgres":
		if c.Storage.Postgres.MaxConns < c.Storage.Postgres.MinConns {
			problems = append(problems, "storage.postgres.max_conns must be >= min_conns")
		}
	default:
		problems = append(problems, fmt.Sprintf("storage.backend %q is not sqlite or postgres", c.Storage.Backend))
	}
	if c.Chat.Provider == "" {
		problems = append(problems, "chat.provider is required")
	}
	if w := c.Extraction.PriorWeight; w < 0 || w > 1 {
		problems = append(problems, "extraction.prior_weight must be in [0, 1]")
	}
	if r := c.Extraction.MinRelevance; r < 0 || r > 1 {
		problems = append(problems, "extraction.min_relevance must be in [0, 1]")
	}
	if c.Search.FTSWeight < 0 || c.Search.VectorWeight < 0 {
		problems = append(problems, "search weights must not be negative")
	}
	if t := c.Validation.ReviewThreshold; t < 0 || t > 1 {
		problems = append(problems, "validation.review_threshold must be in [0, 1]")
	}
	if c.Extraction.Concurrency < 0 || c.Validation.Concurrency < 0 {
		problems = append(problems, "concurrency must not be negative")
	}
	if c.Publish.Qdrant.Addr != "" && c.Publish.Qdrant.Dimension <= 0 && c.Storage.EmbeddingDim <= 0 {
		problems = append(problems, "publish.qdrant.dimension must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// ResolveDBPath computes the SQLite database path from the storage fields.
func (c *Config) ResolveDBPath() string {
	s := c.Storage
	if s.DBPath != "" {
		return s.DBPath
	}
	name := s.DBName
	if name == "" {
		name = "papergraph"
	}
	switch s.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default:
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db"
		}
		return filepath.Join(home, ".papergraph", name+".db")
	}
}
