package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolateHome(t *testing.T) {
	t.Helper()
	// Keep the user config layer out of the way.
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("GEMINI_API_KEY", "")
}

func TestNewConfig_Defaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, 1000, cfg.Chunking.Window)
	assert.Equal(t, 200, cfg.Chunking.Overlap)
	assert.Equal(t, []string{ModelLocal}, cfg.Embeddings.Models)
	assert.Equal(t, "text-embedding-004", cfg.Embeddings.Gemini.Model)
	assert.Equal(t, BackendLocal, cfg.Store.Backend)
	assert.Equal(t, "ebooks", cfg.Store.Elastic.Index)
	assert.Equal(t, 5, cfg.Search.TopK)
	assert.Equal(t, 60, cfg.Search.RRFConstant)
	assert.Equal(t, "stdio", cfg.Server.Transport)

	require.NoError(t, cfg.Validate())
}

func TestLoad_LibraryConfigOverridesDefaults(t *testing.T) {
	isolateHome(t)
	dir := t.TempDir()

	yaml := `
chunking:
  window: 2000
  overlap: 400
embeddings:
  models: [local, gemini]
store:
  backend: elastic
  elastic:
    address: http://search.internal:9200
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".biblio.yaml"), []byte(yaml), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 2000, cfg.Chunking.Window)
	assert.Equal(t, 400, cfg.Chunking.Overlap)
	assert.Equal(t, []string{"local", "gemini"}, cfg.Embeddings.Models)
	assert.Equal(t, BackendElastic, cfg.Store.Backend)
	assert.Equal(t, "http://search.internal:9200", cfg.Store.Elastic.Address)
	// Untouched values keep defaults.
	assert.Equal(t, "ebooks", cfg.Store.Elastic.Index)
	assert.Equal(t, dir, cfg.Library.Dir)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	isolateHome(t)
	dir := t.TempDir()

	yaml := "embeddings:\n  models: [local]\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".biblio.yaml"), []byte(yaml), 0o644))

	t.Setenv("BIBLIO_MODELS", "gemini, local")
	t.Setenv("BIBLIO_ELASTIC_INDEX", "books-test")
	t.Setenv("GEMINI_API_KEY", "test-key-123")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, []string{"gemini", "local"}, cfg.Embeddings.Models)
	assert.Equal(t, "books-test", cfg.Store.Elastic.Index)
	assert.Equal(t, "test-key-123", cfg.Embeddings.Gemini.APIKey)
}

func TestLoad_NoConfigFileUsesDefaults(t *testing.T) {
	isolateHome(t)
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 1000, cfg.Chunking.Window)
	assert.Equal(t, dir, cfg.Library.Dir)
}

func TestLoad_MalformedYAML(t *testing.T) {
	isolateHome(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".biblio.yaml"), []byte("chunking: ["), 0o644))

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestValidate_Chunking(t *testing.T) {
	tests := []struct {
		name    string
		window  int
		overlap int
		wantErr bool
	}{
		{"defaults", 1000, 200, false},
		{"zero window", 0, 0, true},
		{"negative overlap", 1000, -1, true},
		{"overlap equals window", 1000, 1000, true},
		{"overlap above half window", 1000, 501, true},
		{"overlap at half window", 1000, 500, false},
		{"zero overlap", 1000, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			cfg.Chunking.Window = tt.window
			cfg.Chunking.Overlap = tt.overlap

			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidate_Models(t *testing.T) {
	cfg := NewConfig()

	cfg.Embeddings.Models = nil
	assert.Error(t, cfg.Validate())

	cfg.Embeddings.Models = []string{"openai"}
	assert.Error(t, cfg.Validate())

	cfg.Embeddings.Models = []string{"local", "local"}
	assert.Error(t, cfg.Validate())

	cfg.Embeddings.Models = []string{"local", "gemini"}
	assert.NoError(t, cfg.Validate())
}

func TestValidate_Backend(t *testing.T) {
	cfg := NewConfig()
	cfg.Store.Backend = "redis"
	assert.Error(t, cfg.Validate())
}

func TestValidate_SearchBounds(t *testing.T) {
	cfg := NewConfig()
	cfg.Search.TopK = 0
	assert.Error(t, cfg.Validate())

	cfg = NewConfig()
	cfg.Search.MaxTopK = 3
	cfg.Search.TopK = 5
	assert.Error(t, cfg.Validate())
}

func TestUsesModel(t *testing.T) {
	cfg := NewConfig()
	cfg.Embeddings.Models = []string{"local", "gemini"}

	assert.True(t, cfg.UsesModel("local"))
	assert.True(t, cfg.UsesModel("Gemini"))
	assert.False(t, cfg.UsesModel("openai"))
}

func TestWriteYAML_RoundTrip(t *testing.T) {
	isolateHome(t)
	dir := t.TempDir()
	path := filepath.Join(dir, ".biblio.yaml")

	cfg := NewConfig()
	cfg.Chunking.Window = 1500
	cfg.Embeddings.Models = []string{"gemini"}
	require.NoError(t, cfg.WriteYAML(path))

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 1500, loaded.Chunking.Window)
	assert.Equal(t, []string{"gemini"}, loaded.Embeddings.Models)
}
