package papergraph

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/brunobiangulo/papergraph/validation"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	def := DefaultConfig()
	if cfg.Chat != def.Chat {
		t.Errorf("chat = %+v, want %+v", cfg.Chat, def.Chat)
	}
	if cfg.Extraction.ItemTimeout != 90*time.Second {
		t.Errorf("item timeout = %v", cfg.Extraction.ItemTimeout)
	}
	if cfg.Validation.ReviewThreshold != validation.LowConfidence {
		t.Errorf("review threshold = %v", cfg.Validation.ReviewThreshold)
	}
	if cfg.Storage.EmbeddingDim != 768 {
		t.Errorf("embedding dim = %d", cfg.Storage.EmbeddingDim)
	}
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "papergraph.yaml")
	content := `
storage:
  backend: postgres
  postgres:
    max_conns: 20
chat:
  provider: groq
  model: llama-3.1-70b-versatile
extraction:
  prior_weight: 0.5
  request_delay: 250ms
validation:
  exempt_from_review: [explanation-too-short]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PAPERGRAPH_CHAT_MODEL", "llama-3.3-70b")
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/papers")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"backend", cfg.Storage.Backend, "postgres"},
		{"max conns", cfg.Storage.Postgres.MaxConns, int32(20)},
		{"min conns default", cfg.Storage.Postgres.MinConns, int32(1)},
		{"database url", cfg.Storage.Postgres.URL, "postgres://u:p@db:5432/papers"},
		{"chat provider", cfg.Chat.Provider, "groq"},
		{"chat model from env", cfg.Chat.Model, "llama-3.3-70b"},
		{"prior weight", cfg.Extraction.PriorWeight, 0.5},
		{"request delay", cfg.Extraction.RequestDelay, 250 * time.Millisecond},
		{"embedding untouched", cfg.Embedding.Model, "nomic-embed-text"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
	if len(cfg.Validation.ExemptFromReview) != 1 || cfg.Validation.ExemptFromReview[0] != validation.RuleExplanationTooShort {
		t.Errorf("exempt = %v", cfg.Validation.ExemptFromReview)
	}
}

func TestLoadConfigJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "papergraph.json")
	if err := os.WriteFile(path, []byte(`{"storage": {"db_name": "survey"}, "export": {"format": "xlsx"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Storage.DBName != "survey" || cfg.Export.Format != "xlsx" {
		t.Errorf("got db_name %q format %q", cfg.Storage.DBName, cfg.Export.Format)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "papergraph.yaml")
	cfg := DefaultConfig()
	cfg.Chat.Model = "qwen3:8b"
	cfg.Extraction.ItemTimeout = 2 * time.Minute
	cfg.Publish.Neo4j.URL = "neo4j://localhost:7687"

	if err := SaveConfig(path, cfg); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}

	got, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got.Chat.Model != "qwen3:8b" || got.Extraction.ItemTimeout != 2*time.Minute || got.Publish.Neo4j.URL != cfg.Publish.Neo4j.URL {
		t.Errorf("round trip lost values: %+v", got)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"bad backend", func(c *Config) { c.Storage.Backend = "mysql" }, "storage.backend"},
		{"no chat provider", func(c *Config) { c.Chat.Provider = "" }, "chat.provider"},
		{"prior weight", func(c *Config) { c.Extraction.PriorWeight = 1.5 }, "prior_weight"},
		{"min relevance", func(c *Config) { c.Extraction.MinRelevance = -0.1 }, "min_relevance"},
		{"threshold", func(c *Config) { c.Validation.ReviewThreshold = 2 }, "review_threshold"},
		{"pool sizes", func(c *Config) {
			c.Storage.Backend = "postgres"
			c.Storage.Postgres.MaxConns = 1
			c.Storage.Postgres.MinConns = 4
		}, "max_conns"},
		{"zero dim", func(c *Config) { c.Storage.EmbeddingDim = 0 }, "embedding_dim"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("err = %v, want ErrInvalidConfig", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestResolveDBPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	tests := []struct {
		storage StorageConfig
		want    string
	}{
		{StorageConfig{DBPath: "/tmp/x.db", DBName: "ignored"}, "/tmp/x.db"},
		{StorageConfig{DBName: "survey", StorageDir: "local"}, "survey.db"},
		{StorageConfig{StorageDir: "local"}, "papergraph.db"},
		{StorageConfig{DBName: "survey"}, filepath.Join(home, ".papergraph", "survey.db")},
	}
	for _, tt := range tests {
		cfg := Config{Storage: tt.storage}
		if got := cfg.ResolveDBPath(); got != tt.want {
			t.Errorf("ResolveDBPath(%+v) = %q, want %q", tt.storage, got, tt.want)
		}
	}
}
