package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"localrag/internal/domain"
)

// Config holds all configuration for the local RAG service.
type Config struct {
	DataDirectory string            `yaml:"data_directory"`
	Embedding     EmbeddingConfig   `yaml:"embedding"`
	Chunking      ChunkingConfig    `yaml:"chunking"`
	Search        SearchConfig      `yaml:"search"`
	VectorIndex   VectorIndexConfig `yaml:"vector_index"`
	Ingest        IngestConfig      `yaml:"ingest"`
	Logging       LoggingConfig     `yaml:"logging"`
	Server        ServerConfig      `yaml:"server"`
}

// EmbeddingConfig holds embedding configuration.
type EmbeddingConfig struct {
	Provider    string `yaml:"provider"` // "hash", "openai", "deepseek", "jina", "ollama"
	Model       string `yaml:"model"`
	Dimension   int    `yaml:"dimension"`
	APIKeyEnv   string `yaml:"api_key_env"` // Environment variable for API key
	BaseURL     string `yaml:"base_url"`
	BatchSize   int    `yaml:"batch_size"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// ChunkingConfig holds the sliding window parameters, in characters.
type ChunkingConfig struct {
	ChunkSize int `yaml:"chunk_size"`
	Overlap   int `yaml:"overlap"`
}

// SearchConfig holds retrieval configuration.
type SearchConfig struct {
	DefaultLimit int `yaml:"default_limit"`
	CacheSize    int `yaml:"cache_size"` // 0 disables the result cache
	CacheTTLSecs int `yaml:"cache_ttl_secs"`
}

// VectorIndexConfig selects the durable mirror of the vector index.
type VectorIndexConfig struct {
	Backend string `yaml:"backend"` // "blob" or "bolt"
}

// IngestConfig holds the glob patterns used by directory ingest.
type IngestConfig struct {
	Includes []string `yaml:"includes"`
	Excludes []string `yaml:"excludes"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// ServerConfig holds the HTTP facade configuration.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

const (
	ProviderHash     = "hash"
	ProviderOpenAI   = "openai"
	ProviderDeepSeek = "deepseek"
	ProviderJina     = "jina"
	ProviderOllama   = "ollama"

	BackendBlob = "blob"
	BackendBolt = "bolt"
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		DataDirectory: filepath.Join(".", "data", "local_rag"),
		Embedding: EmbeddingConfig{
			Provider:    ProviderHash,
			Model:       "hash-bow-v1",
			Dimension:   384,
			APIKeyEnv:   "OPENAI_API_KEY",
			BatchSize:   32,
			TimeoutSecs: 60,
		},
		Chunking: ChunkingConfig{
			ChunkSize: 1000,
			Overlap:   200,
		},
		Search: SearchConfig{
			DefaultLimit: 5,
			CacheSize:    128,
			CacheTTLSecs: 300,
		},
		VectorIndex: VectorIndexConfig{
			Backend: BackendBlob,
		},
		Ingest: IngestConfig{
			Includes: []string{"**/*.md", "**/*.txt", "**/*.markdown", "**/*.rst"},
			Excludes: []string{"**/node_modules/**", "**/vendor/**", "**/.git/**", "**/dist/**", "**/build/**"},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8000",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Return defaults if no config file
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %w", domain.ErrValidation, path, err)
	}

	return cfg, nil
}

// LoadFromDir loads configuration from a directory (looks for localrag.yaml).
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, "localrag.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	path = filepath.Join(dir, ".localrag", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	return DefaultConfig(), nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks option ranges and enumerations.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", domain.ErrValidation, fmt.Sprintf(format, args...))
	}

	if c.DataDirectory == "" {
		return invalid("data_directory must be set")
	}

	switch c.Embedding.Provider {
	case ProviderHash, ProviderOpenAI, ProviderDeepSeek, ProviderJina, ProviderOllama:
	default:
		return invalid("unsupported embedding provider %q", c.Embedding.Provider)
	}
	if c.Embedding.Model == "" {
		return invalid("embedding.model must be set")
	}
	if c.Embedding.Dimension <= 0 {
		return invalid("embedding.dimension must be positive, got %d", c.Embedding.Dimension)
	}
	if c.Embedding.BatchSize <= 0 {
		return invalid("embedding.batch_size must be positive, got %d", c.Embedding.BatchSize)
	}

	if c.Chunking.ChunkSize <= 0 {
		return invalid("chunking.chunk_size must be positive, got %d", c.Chunking.ChunkSize)
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.ChunkSize {
		return invalid("chunking.overlap must be in [0, chunk_size), got %d", c.Chunking.Overlap)
	}

	if c.Search.DefaultLimit <= 0 {
		return invalid("search.default_limit must be positive, got %d", c.Search.DefaultLimit)
	}
	if c.Search.CacheSize < 0 {
		return invalid("search.cache_size must not be negative, got %d", c.Search.CacheSize)
	}

	switch c.VectorIndex.Backend {
	case BackendBlob, BackendBolt:
	default:
		return invalid("unsupported vector_index.backend %q", c.VectorIndex.Backend)
	}

	return nil
}

// DatabasePath returns the path to the metadata database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDirectory, "rag_database.db")
}

// VectorMirrorPath returns the path of the vector index mirror for the
// configured backend.
func (c *Config) VectorMirrorPath() string {
	if c.VectorIndex.Backend == BackendBolt {
		return filepath.Join(c.DataDirectory, "embeddings.bolt")
	}
	return filepath.Join(c.DataDirectory, "embeddings.bin")
}

// DocumentCachePath returns the path of the document cache mirror.
func (c *Config) DocumentCachePath() string {
	return filepath.Join(c.DataDirectory, "documents.json")
}

// EnsureDataDir ensures the data directory exists.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDirectory, 0755)
}
