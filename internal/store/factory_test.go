package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biblio-mcp/biblio/internal/config"
)

func TestFactoryLocal(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Store.Backend = config.BackendLocal
	cfg.Store.DataDir = t.TempDir()

	s, err := New(cfg, nil)
	require.NoError(t, err)
	defer s.Close()

	_, ok := s.(*LocalStore)
	assert.True(t, ok)
}

func TestFactoryElastic(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Store.Backend = config.BackendElastic
	cfg.Store.Elastic.Address = "http://localhost:9200"
	cfg.Store.Elastic.Index = "ebooks"

	s, err := New(cfg, nil)
	require.NoError(t, err)
	defer s.Close()

	_, ok := s.(*ElasticStore)
	assert.True(t, ok)
}

func TestFactoryUnknownBackend(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Store.Backend = "redis"

	_, err := New(cfg, nil)
	require.Error(t, err)
}
