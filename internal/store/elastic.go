package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/biblio-mcp/biblio/internal/errors"
)

const elasticRequestTimeout = 30 * time.Second

// ElasticStore talks to Elasticsearch over its REST API. Each embedding
// model gets its own index named "<base>-<model>" because dense_vector
// dimensionality is fixed per index and models disagree on it.
type ElasticStore struct {
	baseURL   string
	indexBase string
	client    *http.Client
	logger    *slog.Logger
}

// NewElasticStore builds a store against the given Elasticsearch URL.
// indexBase is the index name prefix, e.g. "ebooks".
func NewElasticStore(baseURL, indexBase string, logger *slog.Logger) (*ElasticStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.New(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("invalid elasticsearch url %q", baseURL), err)
	}
	if indexBase == "" {
		return nil, errors.New(errors.ErrCodeConfigInvalid,
			"elasticsearch index name is empty", nil)
	}

	return &ElasticStore{
		baseURL:   strings.TrimRight(baseURL, "/"),
		indexBase: indexBase,
		// Timeouts are applied per request via context, not on the
		// client, so long bulk writes are not cut short.
		client: &http.Client{},
		logger: logger,
	}, nil
}

func (s *ElasticStore) indexName(model string) string {
	return s.indexBase + "-" + model
}

func (s *ElasticStore) Ping(ctx context.Context) error {
	_, err := s.do(ctx, http.MethodGet, "/_cluster/health", nil)
	return err
}

// EnsureModel creates the model's index with a dense_vector mapping if
// it does not exist yet.
func (s *ElasticStore) EnsureModel(ctx context.Context, model string, dims int) error {
	index := s.indexName(model)

	req, err := http.NewRequestWithContext(ctx, http.MethodHead,
		s.baseURL+"/"+index, nil)
	if err != nil {
		return errors.New(errors.ErrCodeInternal, "build index check request", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return s.unreachable(err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	mapping := map[string]any{
		"mappings": map[string]any{
			"properties": map[string]any{
				"book_id":      map[string]any{"type": "keyword"},
				"run_token":    map[string]any{"type": "keyword"},
				"chunk_index":  map[string]any{"type": "integer"},
				"total_chunks": map[string]any{"type": "integer"},
				"model":        map[string]any{"type": "keyword"},
				"content":      map[string]any{"type": "text"},
				"start_offset": map[string]any{"type": "integer"},
				"end_offset":   map[string]any{"type": "integer"},
				"section":      map[string]any{"type": "text"},
				"title":        map[string]any{"type": "text"},
				"author":       map[string]any{"type": "text"},
				"file_path":    map[string]any{"type": "keyword"},
				"file_type":    map[string]any{"type": "keyword"},
				"chars":        map[string]any{"type": "long"},
				"embedding": map[string]any{
					"type": "dense_vector",
					"dims": dims,
				},
			},
		},
	}
	if _, err := s.do(ctx, http.MethodPut, "/"+index, mapping); err != nil {
		return err
	}
	s.logger.Info("created elasticsearch index",
		slog.String("index", index), slog.Int("dims", dims))
	return nil
}

// UpsertChunks writes a batch through the _bulk API. refresh=true makes
// the documents searchable before the call returns, which the indexer's
// verify step depends on.
func (s *ElasticStore) UpsertChunks(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	model := chunks[0].Model
	index := s.indexName(model)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, c := range chunks {
		if c.Model != model {
			return errors.New(errors.ErrCodeInvalidInput,
				"mixed models in one upsert batch", nil)
		}
		action := map[string]any{
			"index": map[string]any{"_id": DocID(c.BookID, c.RunToken, c.Index)},
		}
		doc := map[string]any{
			"book_id":      c.BookID,
			"run_token":    c.RunToken,
			"chunk_index":  c.Index,
			"total_chunks": c.TotalChunks,
			"model":        c.Model,
			"content":      c.Text,
			"start_offset": c.Start,
			"end_offset":   c.End,
			"section":      c.Section,
			"title":        c.Title,
			"author":       c.Author,
			"file_path":    c.FilePath,
			"file_type":    c.FileType,
			"chars":        len([]rune(c.Text)),
			"embedding":    c.Vector,
		}
		if err := enc.Encode(action); err != nil {
			return errors.New(errors.ErrCodeInternal, "encode bulk action", err)
		}
		if err := enc.Encode(doc); err != nil {
			return errors.New(errors.ErrCodeInternal, "encode bulk document", err)
		}
	}

	body, err := s.doRaw(ctx, http.MethodPost,
		"/"+index+"/_bulk?refresh=true", buf.Bytes(), "application/x-ndjson")
	if err != nil {
		return err
	}

	var bulkResp struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Status int `json:"status"`
			Error  *struct {
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.Unmarshal(body, &bulkResp); err != nil {
		return errors.New(errors.ErrCodeStoreUnavailable, "decode bulk response", err)
	}
	if bulkResp.Errors {
		for _, item := range bulkResp.Items {
			for _, r := range item {
				if r.Error != nil {
					return errors.New(errors.ErrCodeIndexFailed,
						fmt.Sprintf("bulk item failed: %s", r.Error.Reason), nil)
				}
			}
		}
		return errors.New(errors.ErrCodeIndexFailed, "bulk write reported errors", nil)
	}
	return nil
}

func (s *ElasticStore) DeleteBook(ctx context.Context, bookID, model string) error {
	return s.deleteByQuery(ctx, model, map[string]any{
		"bool": map[string]any{
			"filter": []any{
				term("book_id", bookID),
			},
		},
	})
}

func (s *ElasticStore) DeleteRun(ctx context.Context, bookID, model, runToken string) error {
	return s.deleteByQuery(ctx, model, map[string]any{
		"bool": map[string]any{
			"filter": []any{
				term("book_id", bookID),
				term("run_token", runToken),
			},
		},
	})
}

func (s *ElasticStore) PurgeStaleRuns(ctx context.Context, bookID, model, keepToken string) error {
	return s.deleteByQuery(ctx, model, map[string]any{
		"bool": map[string]any{
			"filter":   []any{term("book_id", bookID)},
			"must_not": []any{term("run_token", keepToken)},
		},
	})
}

func (s *ElasticStore) deleteByQuery(ctx context.Context, model string, query map[string]any) error {
	path := "/" + s.indexName(model) + "/_delete_by_query?refresh=true"
	_, err := s.do(ctx, http.MethodPost, path, map[string]any{"query": query})
	return err
}

// Search runs a script_score query. cosineSimilarity returns [-1,1], so
// +1.0 keeps scores non-negative as Elasticsearch requires; the shift
// is undone before returning.
func (s *ElasticStore) Search(ctx context.Context, model string, vector []float32, k int) ([]Hit, error) {
	query := map[string]any{
		"size": k,
		"query": map[string]any{
			"script_score": map[string]any{
				"query": map[string]any{"match_all": map[string]any{}},
				"script": map[string]any{
					"source": "cosineSimilarity(params.query_vector, 'embedding') + 1.0",
					"params": map[string]any{"query_vector": vector},
				},
			},
		},
		"_source": []string{
			"book_id", "run_token", "chunk_index", "content",
			"start_offset", "end_offset", "section",
			"title", "author", "file_path",
		},
	}

	body, err := s.do(ctx, http.MethodPost, "/"+s.indexName(model)+"/_search", query)
	if err != nil {
		return nil, err
	}

	var searchResp struct {
		Hits struct {
			Hits []struct {
				Score  float64 `json:"_score"`
				Source struct {
					BookID     string `json:"book_id"`
					RunToken   string `json:"run_token"`
					ChunkIndex int    `json:"chunk_index"`
					Content    string `json:"content"`
					Start      int    `json:"start_offset"`
					End        int    `json:"end_offset"`
					Section    string `json:"section"`
					Title      string `json:"title"`
					Author     string `json:"author"`
					FilePath   string `json:"file_path"`
				} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.Unmarshal(body, &searchResp); err != nil {
		return nil, errors.New(errors.ErrCodeSearchFailed, "decode search response", err)
	}

	hits := make([]Hit, 0, len(searchResp.Hits.Hits))
	for _, h := range searchResp.Hits.Hits {
		hits = append(hits, Hit{
			BookID:     h.Source.BookID,
			RunToken:   h.Source.RunToken,
			ChunkIndex: h.Source.ChunkIndex,
			Text:       h.Source.Content,
			Start:      h.Source.Start,
			End:        h.Source.End,
			Section:    h.Source.Section,
			Title:      h.Source.Title,
			Author:     h.Source.Author,
			FilePath:   h.Source.FilePath,
			Score:      h.Score - 1.0,
			Model:      model,
		})
	}
	return hits, nil
}

func (s *ElasticStore) BookStats(ctx context.Context, bookID, model string) (BookStats, error) {
	query := map[string]any{
		"size":             0,
		"track_total_hits": true,
		"query":            map[string]any{"bool": map[string]any{"filter": []any{term("book_id", bookID)}}},
		"aggs": map[string]any{
			"chars": map[string]any{
				"sum": map[string]any{"field": "chars"},
			},
		},
	}

	body, err := s.do(ctx, http.MethodPost, "/"+s.indexName(model)+"/_search", query)
	if err != nil {
		return BookStats{}, err
	}

	var statsResp struct {
		Hits struct {
			Total struct {
				Value int `json:"value"`
			} `json:"total"`
		} `json:"hits"`
		Aggregations struct {
			Chars struct {
				Value float64 `json:"value"`
			} `json:"chars"`
		} `json:"aggregations"`
	}
	if err := json.Unmarshal(body, &statsResp); err != nil {
		return BookStats{}, errors.New(errors.ErrCodeStoreUnavailable,
			"decode stats response", err)
	}

	return BookStats{
		BookID: bookID,
		Model:  model,
		Chunks: statsResp.Hits.Total.Value,
		Chars:  int64(statsResp.Aggregations.Chars.Value),
	}, nil
}

func (s *ElasticStore) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// do sends a JSON request and returns the response body.
func (s *ElasticStore) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, errors.New(errors.ErrCodeInternal, "marshal request", err)
		}
	}
	return s.doRaw(ctx, method, path, payload, "application/json")
}

func (s *ElasticStore) doRaw(ctx context.Context, method, path string, payload []byte, contentType string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, elasticRequestTimeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return nil, errors.New(errors.ErrCodeInternal, "build request", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, s.unreachable(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.New(errors.ErrCodeStoreUnavailable, "read response", err)
	}

	if resp.StatusCode >= 400 {
		reason := elasticErrorReason(respBody)
		switch {
		case resp.StatusCode == http.StatusNotFound:
			return nil, errors.New(errors.ErrCodeSearchFailed,
				fmt.Sprintf("index not found: %s", reason), nil).
				WithSuggestion("Run 'biblio index' to build the index first")
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return nil, errors.New(errors.ErrCodeStoreUnavailable,
				fmt.Sprintf("elasticsearch rejected credentials: %s", reason), nil)
		default:
			return nil, errors.New(errors.ErrCodeStoreUnavailable,
				fmt.Sprintf("elasticsearch returned %d: %s", resp.StatusCode, reason), nil)
		}
	}
	return respBody, nil
}

func (s *ElasticStore) unreachable(err error) error {
	return errors.New(errors.ErrCodeStoreUnavailable,
		fmt.Sprintf("elasticsearch unreachable at %s", s.baseURL), err).
		WithSuggestion("Check that Elasticsearch is running and elastic.url is correct")
}

func term(field string, value any) map[string]any {
	return map[string]any{"term": map[string]any{field: value}}
}

func elasticErrorReason(body []byte) string {
	var e struct {
		Error struct {
			Reason string `json:"reason"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error.Reason != "" {
		return e.Error.Reason
	}
	return strings.TrimSpace(string(body))
}
