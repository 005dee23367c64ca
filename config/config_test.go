package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"localrag/internal/domain"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Chunking.ChunkSize != 1000 {
		t.Errorf("expected ChunkSize=1000, got %d", cfg.Chunking.ChunkSize)
	}
	if cfg.Chunking.Overlap != 200 {
		t.Errorf("expected Overlap=200, got %d", cfg.Chunking.Overlap)
	}
	if cfg.Search.DefaultLimit != 5 {
		t.Errorf("expected DefaultLimit=5, got %d", cfg.Search.DefaultLimit)
	}
	if cfg.Embedding.Dimension != 384 {
		t.Errorf("expected Dimension=384, got %d", cfg.Embedding.Dimension)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

func TestLoad_NonExistent(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	if err != nil {
		t.Errorf("expected no error for non-existent file, got %v", err)
	}
	if cfg == nil {
		t.Error("expected default config, got nil")
	}
}

func TestLoad_ValidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "localrag.yaml")

	content := `
data_directory: /var/lib/localrag
chunking:
  chunk_size: 50
  overlap: 10
search:
  default_limit: 3
vector_index:
  backend: bolt
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Chunking.ChunkSize != 50 || cfg.Chunking.Overlap != 10 {
		t.Errorf("expected chunking 50/10, got %d/%d", cfg.Chunking.ChunkSize, cfg.Chunking.Overlap)
	}
	if cfg.Search.DefaultLimit != 3 {
		t.Errorf("expected DefaultLimit=3, got %d", cfg.Search.DefaultLimit)
	}
	// Untouched sections keep their defaults.
	if cfg.Embedding.Model != "hash-bow-v1" {
		t.Errorf("expected default model, got %s", cfg.Embedding.Model)
	}
	if got := cfg.VectorMirrorPath(); got != filepath.Join("/var/lib/localrag", "embeddings.bolt") {
		t.Errorf("unexpected mirror path %s", got)
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "localrag.yaml")
	if err := os.WriteFile(configPath, []byte("chunking: [1, 2"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(configPath)
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestLoadFromDir(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(tmpDir, ".localrag"), 0755); err != nil {
		t.Fatal(err)
	}
	configPath := filepath.Join(tmpDir, ".localrag", "config.yaml")

	content := `
search:
  default_limit: 8
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromDir(tmpDir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Search.DefaultLimit != 8 {
		t.Errorf("expected DefaultLimit=8, got %d", cfg.Search.DefaultLimit)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "localrag.yaml")
	cfg := DefaultConfig()
	cfg.Embedding.Dimension = 64

	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Embedding.Dimension != 64 {
		t.Errorf("expected Dimension=64, got %d", loaded.Embedding.Dimension)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty data dir", func(c *Config) { c.DataDirectory = "" }},
		{"unknown provider", func(c *Config) { c.Embedding.Provider = "word2vec" }},
		{"zero dimension", func(c *Config) { c.Embedding.Dimension = 0 }},
		{"overlap equals size", func(c *Config) { c.Chunking.Overlap = c.Chunking.ChunkSize }},
		{"negative overlap", func(c *Config) { c.Chunking.Overlap = -1 }},
		{"zero chunk size", func(c *Config) { c.Chunking.ChunkSize = 0 }},
		{"zero default limit", func(c *Config) { c.Search.DefaultLimit = 0 }},
		{"unknown backend", func(c *Config) { c.VectorIndex.Backend = "faiss" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, domain.ErrValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestDatabasePath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDirectory = "/home/user/rag"
	expected := filepath.Join("/home/user/rag", "rag_database.db")
	if path := cfg.DatabasePath(); path != expected {
		t.Errorf("expected %s, got %s", expected, path)
	}
}
