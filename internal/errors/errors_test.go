package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBiblioError_Unwrap_PreservesOriginalError(t *testing.T) {
	originalErr := errors.New("original error")

	bibErr := New(ErrCodeFileNotFound, "file not found: moby-dick.epub", originalErr)

	require.NotNil(t, bibErr)
	assert.Equal(t, originalErr, errors.Unwrap(bibErr))
	assert.True(t, errors.Is(bibErr, originalErr))
}

func TestBiblioError_Error_ReturnsFormattedMessage(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		message  string
		expected string
	}{
		{
			name:     "config error",
			code:     ErrCodeConfigNotFound,
			message:  "config file not found",
			expected: "[ERR_101_CONFIG_NOT_FOUND] config file not found",
		},
		{
			name:     "extract error",
			code:     ErrCodeExtractFailed,
			message:  "malformed container.xml",
			expected: "[ERR_203_EXTRACT_FAILED] malformed container.xml",
		},
		{
			name:     "provider error",
			code:     ErrCodeProviderTimeout,
			message:  "request timed out",
			expected: "[ERR_301_PROVIDER_TIMEOUT] request timed out",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, tt.message, nil)
			assert.Equal(t, tt.expected, err.Error())
		})
	}
}

func TestBiblioError_Is_MatchesByCode(t *testing.T) {
	err1 := New(ErrCodeProviderAuth, "key rejected", nil)
	err2 := New(ErrCodeProviderAuth, "different message", nil)
	err3 := New(ErrCodeProviderTimeout, "timeout", nil)

	assert.True(t, errors.Is(err1, err2))
	assert.False(t, errors.Is(err1, err3))
}

func TestCategoryFromCode(t *testing.T) {
	tests := []struct {
		code     string
		category Category
	}{
		{ErrCodeConfigInvalid, CategoryConfig},
		{ErrCodeFileNotFound, CategoryIO},
		{ErrCodeExtractFailed, CategoryIO},
		{ErrCodeProviderRateLimited, CategoryProvider},
		{ErrCodeDimensionMismatch, CategoryValidation},
		{ErrCodeStaleRun, CategoryInternal},
		{"garbage", CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.category, categoryFromCode(tt.code))
		})
	}
}

func TestRetryableAndFatal(t *testing.T) {
	// Rate limits and outages are worth retrying, auth failures are not.
	assert.True(t, IsRetryable(New(ErrCodeProviderRateLimited, "429", nil)))
	assert.True(t, IsRetryable(New(ErrCodeProviderUnavailable, "503", nil)))
	assert.False(t, IsRetryable(New(ErrCodeProviderAuth, "401", nil)))
	assert.False(t, IsRetryable(errors.New("plain error")))
	assert.False(t, IsRetryable(nil))

	assert.True(t, IsFatal(New(ErrCodeProviderAuth, "401", nil)))
	assert.True(t, IsFatal(New(ErrCodeStoreUnavailable, "store down", nil)))
	assert.False(t, IsFatal(New(ErrCodeEmbeddingFailed, "embed", nil)))
	assert.False(t, IsFatal(nil))
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestWithDetailAndSuggestion(t *testing.T) {
	err := ProviderError("gemini unreachable", nil).
		WithDetail("model", "gemini").
		WithSuggestion("check GEMINI_API_KEY")

	assert.Equal(t, "gemini", err.Details["model"])
	assert.Equal(t, "check GEMINI_API_KEY", err.Suggestion)
	assert.Equal(t, CategoryProvider, err.Category)
	assert.True(t, err.Retryable)
}

func TestGetCode(t *testing.T) {
	assert.Equal(t, ErrCodeQueryEmpty, GetCode(New(ErrCodeQueryEmpty, "empty", nil)))
	assert.Equal(t, "", GetCode(errors.New("plain")))
}

func TestGetCodeSeesThroughWrapping(t *testing.T) {
	be := New(ErrCodeProviderUnavailable, "provider down", nil)
	wrapped := fmt.Errorf("failed after 3 retries: %w", be)

	assert.Equal(t, ErrCodeProviderUnavailable, GetCode(wrapped))
	assert.Equal(t, CategoryProvider, GetCategory(wrapped))
	assert.True(t, IsRetryable(wrapped))
}
