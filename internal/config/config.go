// Package config loads and validates Biblio configuration.
//
// Configuration is layered, in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User config (~/.config/biblio/config.yaml)
//  3. Library config (.biblio.yaml in the library directory)
//  4. Environment variables (BIBLIO_*, GEMINI_API_KEY)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete Biblio configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Library    LibraryConfig    `yaml:"library" json:"library"`
	Chunking   ChunkingConfig   `yaml:"chunking" json:"chunking"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Store      StoreConfig      `yaml:"store" json:"store"`
	Index      IndexConfig      `yaml:"index" json:"index"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Server     ServerConfig     `yaml:"server" json:"server"`
}

// LibraryConfig configures where books live on disk.
type LibraryConfig struct {
	// Dir is the directory scanned for EPUB and PDF files.
	Dir string `yaml:"dir" json:"dir"`
	// Exclude lists glob patterns skipped during scanning.
	Exclude []string `yaml:"exclude" json:"exclude"`
}

// ChunkingConfig configures how extracted text is split.
type ChunkingConfig struct {
	// Window is the chunk size in runes.
	Window int `yaml:"window" json:"window"`
	// Overlap is how many runes each chunk shares with its predecessor.
	Overlap int `yaml:"overlap" json:"overlap"`
}

// EmbeddingsConfig configures the embedding providers.
type EmbeddingsConfig struct {
	// Models lists the providers to index and query with.
	// Options: "local" (384 dims, offline) and "gemini" (768 dims, remote).
	Models []string `yaml:"models" json:"models"`

	// BatchSize is how many chunks are embedded per provider call.
	BatchSize int `yaml:"batch_size" json:"batch_size"`

	// CacheSize is the LRU embedding cache capacity per provider.
	CacheSize int `yaml:"cache_size" json:"cache_size"`

	// Gemini settings (used when "gemini" is enabled).
	Gemini GeminiConfig `yaml:"gemini" json:"gemini"`
}

// GeminiConfig configures the remote Gemini embedding provider.
type GeminiConfig struct {
	// Model is the Gemini embedding model name.
	Model string `yaml:"model" json:"model"`
	// Endpoint overrides the API base URL. Empty uses the public endpoint.
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	// APIKey authenticates requests. GEMINI_API_KEY overrides this;
	// prefer the env var over putting keys in config files.
	APIKey string `yaml:"api_key" json:"-"`
}

// StoreConfig configures the vector store backend.
type StoreConfig struct {
	// Backend selects the store: "elastic" or "local".
	Backend string `yaml:"backend" json:"backend"`
	// DataDir is where local indexes, the registry, and locks live.
	// Defaults to ~/.biblio.
	DataDir string `yaml:"data_dir" json:"data_dir"`
	// Elastic settings (used when backend is "elastic").
	Elastic ElasticConfig `yaml:"elastic" json:"elastic"`
}

// ElasticConfig configures the Elasticsearch backend.
type ElasticConfig struct {
	// Address is the Elasticsearch base URL.
	Address string `yaml:"address" json:"address"`
	// Index is the index name holding chunk documents.
	Index string `yaml:"index" json:"index"`
}

// IndexConfig configures indexing runs.
type IndexConfig struct {
	// Workers is the number of books processed concurrently.
	Workers int `yaml:"workers" json:"workers"`
}

// SearchConfig configures retrieval.
type SearchConfig struct {
	// TopK is the default number of results returned.
	TopK int `yaml:"top_k" json:"top_k"`
	// MaxTopK caps the per-request result count.
	MaxTopK int `yaml:"max_top_k" json:"max_top_k"`
	// RRFConstant is the rank fusion smoothing parameter (k).
	// Default: 60.
	RRFConstant int `yaml:"rrf_constant" json:"rrf_constant"`
	// SnippetLength is the maximum snippet size in runes for display.
	SnippetLength int `yaml:"snippet_length" json:"snippet_length"`
	// Timeout bounds one search request end to end.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// ServerConfig configures the MCP server.
type ServerConfig struct {
	Transport string `yaml:"transport" json:"transport"`
	LogLevel  string `yaml:"log_level" json:"log_level"`
}

// ModelLocal and ModelGemini are the supported embedding providers.
const (
	ModelLocal  = "local"
	ModelGemini = "gemini"
)

// Store backends.
const (
	BackendElastic = "elastic"
	BackendLocal   = "local"
)

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Library: LibraryConfig{
			Dir:     "",
			Exclude: []string{".*", "*.tmp"},
		},
		Chunking: ChunkingConfig{
			Window:  1000,
			Overlap: 200,
		},
		Embeddings: EmbeddingsConfig{
			Models:    []string{ModelLocal},
			BatchSize: 32,
			CacheSize: 1000,
			Gemini: GeminiConfig{
				Model:    "text-embedding-004",
				Endpoint: "",
				APIKey:   "",
			},
		},
		Store: StoreConfig{
			Backend: BackendLocal,
			DataDir: defaultDataDir(),
			Elastic: ElasticConfig{
				Address: "http://localhost:9200",
				Index:   "ebooks",
			},
		},
		Index: IndexConfig{
			Workers: runtime.NumCPU(),
		},
		Search: SearchConfig{
			TopK:          5,
			MaxTopK:       50,
			RRFConstant:   60,
			SnippetLength: 300,
			Timeout:       10 * time.Second,
		},
		Server: ServerConfig{
			Transport: "stdio",
			LogLevel:  "info",
		},
	}
}

// defaultDataDir returns the default data directory (~/.biblio).
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".biblio")
	}
	return filepath.Join(home, ".biblio")
}

// GetUserConfigPath returns the path to the user configuration file.
// It follows the XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/biblio/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/biblio/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "biblio", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "biblio", "config.yaml")
	}
	return filepath.Join(home, ".config", "biblio", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// loadUserConfig loads the user configuration file if it exists.
// Returns nil config and nil error if the file doesn't exist.
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()

	if !fileExists(configPath) {
		return nil, nil
	}

	cfg := NewConfig()
	if err := cfg.loadYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}

	return cfg, nil
}

// Load loads configuration for the given library directory.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User config (~/.config/biblio/config.yaml)
//  3. Library config (.biblio.yaml in the library directory)
//  4. Environment variables (BIBLIO_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, err
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if dir != "" {
		if err := cfg.loadFromFile(dir); err != nil {
			return nil, err
		}
		if cfg.Library.Dir == "" {
			cfg.Library.Dir = dir
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile attempts to load configuration from .biblio.yaml or .biblio.yml.
func (c *Config) loadFromFile(dir string) error {
	yamlPath := filepath.Join(dir, ".biblio.yaml")
	if fileExists(yamlPath) {
		return c.loadYAML(yamlPath)
	}

	ymlPath := filepath.Join(dir, ".biblio.yml")
	if fileExists(ymlPath) {
		return c.loadYAML(ymlPath)
	}

	// No config file is fine, defaults apply
	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	if other.Library.Dir != "" {
		c.Library.Dir = other.Library.Dir
	}
	if len(other.Library.Exclude) > 0 {
		c.Library.Exclude = append(c.Library.Exclude, other.Library.Exclude...)
	}

	if other.Chunking.Window != 0 {
		c.Chunking.Window = other.Chunking.Window
	}
	if other.Chunking.Overlap != 0 {
		c.Chunking.Overlap = other.Chunking.Overlap
	}

	if len(other.Embeddings.Models) > 0 {
		c.Embeddings.Models = other.Embeddings.Models
	}
	if other.Embeddings.BatchSize != 0 {
		c.Embeddings.BatchSize = other.Embeddings.BatchSize
	}
	if other.Embeddings.CacheSize != 0 {
		c.Embeddings.CacheSize = other.Embeddings.CacheSize
	}
	if other.Embeddings.Gemini.Model != "" {
		c.Embeddings.Gemini.Model = other.Embeddings.Gemini.Model
	}
	if other.Embeddings.Gemini.Endpoint != "" {
		c.Embeddings.Gemini.Endpoint = other.Embeddings.Gemini.Endpoint
	}
	if other.Embeddings.Gemini.APIKey != "" {
		c.Embeddings.Gemini.APIKey = other.Embeddings.Gemini.APIKey
	}

	if other.Store.Backend != "" {
		c.Store.Backend = other.Store.Backend
	}
	if other.Store.DataDir != "" {
		c.Store.DataDir = other.Store.DataDir
	}
	if other.Store.Elastic.Address != "" {
		c.Store.Elastic.Address = other.Store.Elastic.Address
	}
	if other.Store.Elastic.Index != "" {
		c.Store.Elastic.Index = other.Store.Elastic.Index
	}

	if other.Index.Workers != 0 {
		c.Index.Workers = other.Index.Workers
	}

	if other.Search.TopK != 0 {
		c.Search.TopK = other.Search.TopK
	}
	if other.Search.MaxTopK != 0 {
		c.Search.MaxTopK = other.Search.MaxTopK
	}
	if other.Search.RRFConstant != 0 {
		c.Search.RRFConstant = other.Search.RRFConstant
	}
	if other.Search.SnippetLength != 0 {
		c.Search.SnippetLength = other.Search.SnippetLength
	}
	if other.Search.Timeout != 0 {
		c.Search.Timeout = other.Search.Timeout
	}

	if other.Server.Transport != "" {
		c.Server.Transport = other.Server.Transport
	}
	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}
}

// applyEnvOverrides applies BIBLIO_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("BIBLIO_LIBRARY_DIR"); v != "" {
		c.Library.Dir = v
	}
	if v := os.Getenv("BIBLIO_MODELS"); v != "" {
		var models []string
		for _, m := range strings.Split(v, ",") {
			if m = strings.TrimSpace(m); m != "" {
				models = append(models, m)
			}
		}
		if len(models) > 0 {
			c.Embeddings.Models = models
		}
	}
	if v := os.Getenv("BIBLIO_STORE_BACKEND"); v != "" {
		c.Store.Backend = v
	}
	if v := os.Getenv("BIBLIO_DATA_DIR"); v != "" {
		c.Store.DataDir = v
	}
	if v := os.Getenv("BIBLIO_ELASTIC_ADDRESS"); v != "" {
		c.Store.Elastic.Address = v
	}
	if v := os.Getenv("BIBLIO_ELASTIC_INDEX"); v != "" {
		c.Store.Elastic.Index = v
	}
	if v := os.Getenv("BIBLIO_INDEX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Index.Workers = n
		}
	}
	if v := os.Getenv("BIBLIO_RRF_CONSTANT"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Search.RRFConstant = k
		}
	}
	if v := os.Getenv("BIBLIO_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.Embeddings.Gemini.APIKey = v
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.Chunking.Window <= 0 {
		return fmt.Errorf("chunking.window must be positive, got %d", c.Chunking.Window)
	}
	if c.Chunking.Overlap < 0 {
		return fmt.Errorf("chunking.overlap must be non-negative, got %d", c.Chunking.Overlap)
	}
	if c.Chunking.Overlap >= c.Chunking.Window {
		return fmt.Errorf("chunking.overlap (%d) must be smaller than chunking.window (%d)",
			c.Chunking.Overlap, c.Chunking.Window)
	}
	if c.Chunking.Overlap > c.Chunking.Window/2 {
		return fmt.Errorf("chunking.overlap (%d) must not exceed half the window (%d)",
			c.Chunking.Overlap, c.Chunking.Window/2)
	}

	if len(c.Embeddings.Models) == 0 {
		return fmt.Errorf("embeddings.models must list at least one model")
	}
	seen := map[string]bool{}
	for _, m := range c.Embeddings.Models {
		switch strings.ToLower(m) {
		case ModelLocal, ModelGemini:
		default:
			return fmt.Errorf("embeddings.models entries must be %q or %q, got %q",
				ModelLocal, ModelGemini, m)
		}
		if seen[m] {
			return fmt.Errorf("embeddings.models lists %q twice", m)
		}
		seen[m] = true
	}

	switch strings.ToLower(c.Store.Backend) {
	case BackendElastic, BackendLocal:
	default:
		return fmt.Errorf("store.backend must be %q or %q, got %q",
			BackendElastic, BackendLocal, c.Store.Backend)
	}

	if c.Index.Workers <= 0 {
		return fmt.Errorf("index.workers must be positive, got %d", c.Index.Workers)
	}

	if c.Search.TopK <= 0 {
		return fmt.Errorf("search.top_k must be positive, got %d", c.Search.TopK)
	}
	if c.Search.MaxTopK < c.Search.TopK {
		return fmt.Errorf("search.max_top_k (%d) must be at least search.top_k (%d)",
			c.Search.MaxTopK, c.Search.TopK)
	}
	if c.Search.RRFConstant <= 0 {
		return fmt.Errorf("search.rrf_constant must be positive, got %d", c.Search.RRFConstant)
	}
	if c.Search.Timeout <= 0 {
		return fmt.Errorf("search.timeout must be positive, got %s", c.Search.Timeout)
	}

	if strings.ToLower(c.Server.Transport) != "stdio" {
		return fmt.Errorf("server.transport must be 'stdio', got %s", c.Server.Transport)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}

	return nil
}

// UsesModel reports whether the given provider is enabled.
func (c *Config) UsesModel(model string) bool {
	for _, m := range c.Embeddings.Models {
		if strings.EqualFold(m, model) {
			return true
		}
	}
	return false
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
