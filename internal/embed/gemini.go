package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/biblio-mcp/biblio/internal/errors"
)

// DefaultGeminiEndpoint is the public Generative Language API base URL.
const DefaultGeminiEndpoint = "https://generativelanguage.googleapis.com"

// DefaultGeminiModel is the embedding model used when none is configured.
const DefaultGeminiModel = "text-embedding-004"

// GeminiConfig configures the remote Gemini embedder.
type GeminiConfig struct {
	// APIKey authenticates requests. Required.
	APIKey string
	// Model is the embedding model name (default: text-embedding-004).
	Model string
	// Endpoint is the API base URL (default: DefaultGeminiEndpoint).
	Endpoint string
	// BatchSize is texts per batchEmbedContents call (max 100).
	BatchSize int
	// Timeout bounds a single HTTP request.
	Timeout time.Duration
	// MaxRetries is the retry budget for transient failures.
	MaxRetries int
}

// GeminiEmbedder generates embeddings via the Gemini HTTP API.
type GeminiEmbedder struct {
	client    *http.Client
	transport *http.Transport
	breaker   *errors.CircuitBreaker
	config    GeminiConfig

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*GeminiEmbedder)(nil)

// NewGeminiEmbedder creates a new Gemini embedder.
// Fails immediately when no API key is configured: a missing key can
// never succeed, so it must not degrade into per-request retries.
func NewGeminiEmbedder(cfg GeminiConfig) (*GeminiEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, errors.New(errors.ErrCodeProviderAuth,
			"gemini API key is not configured", nil).
			WithSuggestion("set GEMINI_API_KEY or embeddings.gemini.api_key")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultGeminiEndpoint
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = MaxBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRequestTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}

	// Pooled transport; timeouts are applied per request via context
	// so retries can use the full budget each attempt.
	transport := &http.Transport{
		MaxIdleConns:        8,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     30 * time.Second,
	}

	return &GeminiEmbedder{
		client:    &http.Client{Transport: transport},
		transport: transport,
		breaker:   errors.NewCircuitBreaker("gemini"),
		config:    cfg,
	}, nil
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiEmbedRequest struct {
	Model   string        `json:"model"`
	Content geminiContent `json:"content"`
}

type geminiBatchRequest struct {
	Requests []geminiEmbedRequest `json:"requests"`
}

type geminiBatchResponse struct {
	Embeddings []struct {
		Values []float32 `json:"values"`
	} `json:"embeddings"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Embed generates an embedding for a single text.
func (e *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts. Requests are
// split into API-sized batches; transient failures are retried with
// backoff, auth failures abort immediately.
func (e *GeminiEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	e.mu.RUnlock()

	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	retryCfg := errors.DefaultRetryConfig()
	retryCfg.MaxRetries = e.config.MaxRetries

	results := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.config.BatchSize {
		end := start + e.config.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		vecs, err := errors.RetryWithResult(ctx, retryCfg, func() ([][]float32, error) {
			return errors.Execute(e.breaker, func() ([][]float32, error) {
				return e.doBatch(ctx, batch)
			})
		})
		if err != nil {
			return nil, err
		}
		results = append(results, vecs...)
	}

	return results, nil
}

// doBatch performs one batchEmbedContents call.
func (e *GeminiEmbedder) doBatch(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody := geminiBatchRequest{Requests: make([]geminiEmbedRequest, len(texts))}
	for i, t := range texts {
		reqBody.Requests[i] = geminiEmbedRequest{
			Model:   "models/" + e.config.Model,
			Content: geminiContent{Parts: []geminiPart{{Text: t}}},
		}
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, errors.New(errors.ErrCodeEmbeddingFailed, "marshal embed request", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:batchEmbedContents?key=%s",
		e.config.Endpoint, e.config.Model, e.config.APIKey)

	reqCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.New(errors.ErrCodeEmbeddingFailed, "create embed request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		if reqCtx.Err() == context.DeadlineExceeded {
			return nil, errors.New(errors.ErrCodeProviderTimeout,
				"gemini request timed out", err)
		}
		return nil, errors.New(errors.ErrCodeProviderUnavailable,
			"gemini is unreachable", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, classifyGeminiStatus(resp.StatusCode, body)
	}

	var result geminiBatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errors.New(errors.ErrCodeEmbeddingFailed, "decode embed response", err)
	}

	if len(result.Embeddings) != len(texts) {
		return nil, errors.New(errors.ErrCodeEmbeddingFailed,
			fmt.Sprintf("gemini returned %d embeddings for %d texts",
				len(result.Embeddings), len(texts)), nil)
	}

	vecs := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		if len(emb.Values) != GeminiDimensions {
			return nil, errors.New(errors.ErrCodeDimensionMismatch,
				fmt.Sprintf("expected %d dimensions, got %d", GeminiDimensions, len(emb.Values)), nil)
		}
		vecs[i] = emb.Values
	}
	return vecs, nil
}

// classifyGeminiStatus maps an API error response to the provider
// error taxonomy. Auth failures are fatal; rate limits and server
// errors are retryable.
func classifyGeminiStatus(status int, body []byte) *errors.BiblioError {
	message := fmt.Sprintf("gemini returned status %d", status)
	var apiErr geminiErrorResponse
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
		message = apiErr.Error.Message
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errors.New(errors.ErrCodeProviderAuth, message, nil).
			WithDetail("status", fmt.Sprint(status)).
			WithSuggestion("check GEMINI_API_KEY")
	case status == http.StatusTooManyRequests:
		return errors.New(errors.ErrCodeProviderRateLimited, message, nil).
			WithDetail("status", fmt.Sprint(status))
	case status >= 500:
		return errors.New(errors.ErrCodeProviderUnavailable, message, nil).
			WithDetail("status", fmt.Sprint(status))
	default:
		return errors.New(errors.ErrCodeEmbeddingFailed, message, nil).
			WithDetail("status", fmt.Sprint(status))
	}
}

// Dimensions returns the embedding dimension.
func (e *GeminiEmbedder) Dimensions() int {
	return GeminiDimensions
}

// ModelName returns the model identifier.
func (e *GeminiEmbedder) ModelName() string {
	return "gemini"
}

// Available checks whether the API answers for the configured model.
func (e *GeminiEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return false
	}
	e.mu.RUnlock()

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	url := fmt.Sprintf("%s/v1beta/models/%s?key=%s",
		e.config.Endpoint, e.config.Model, e.config.APIKey)
	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}

	resp, err := e.client.Do(req)
	if err != nil {
		slog.Debug("gemini availability check failed", slog.String("error", err.Error()))
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Close releases resources.
func (e *GeminiEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		e.transport.CloseIdleConnections()
	}
	return nil
}
