package embed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biblio-mcp/biblio/internal/config"
	"github.com/biblio-mcp/biblio/internal/errors"
)

func TestNew_Local(t *testing.T) {
	cfg := config.NewConfig()

	e, err := New("local", cfg)
	require.NoError(t, err)
	defer e.Close()

	assert.Equal(t, "local", e.ModelName())
	assert.Equal(t, LocalDimensions, e.Dimensions())
}

func TestNew_GeminiWithoutKey(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Embeddings.Gemini.APIKey = ""

	_, err := New("gemini", cfg)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeProviderAuth, errors.GetCode(err))
}

func TestNew_GeminiWithKey(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Embeddings.Gemini.APIKey = "some-key"

	e, err := New("gemini", cfg)
	require.NoError(t, err)
	defer e.Close()

	assert.Equal(t, "gemini", e.ModelName())
	assert.Equal(t, GeminiDimensions, e.Dimensions())
}

func TestNew_UnknownModel(t *testing.T) {
	_, err := New("openai", config.NewConfig())
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeUnknownModel, errors.GetCode(err))
}

func TestNewAll(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Embeddings.Models = []string{"local", "gemini"}
	cfg.Embeddings.Gemini.APIKey = "k"

	embedders, err := NewAll(cfg)
	require.NoError(t, err)
	defer func() {
		for _, e := range embedders {
			_ = e.Close()
		}
	}()

	require.Len(t, embedders, 2)
	assert.Equal(t, LocalDimensions, embedders["local"].Dimensions())
	assert.Equal(t, GeminiDimensions, embedders["gemini"].Dimensions())
}

func TestNewAll_FailureClosesCreated(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Embeddings.Models = []string{"local", "gemini"}
	cfg.Embeddings.Gemini.APIKey = "" // gemini creation fails

	_, err := NewAll(cfg)
	assert.Error(t, err)
}
