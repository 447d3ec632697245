package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.IndexStore = (*Store)(nil)

// Store implements driven.IndexStore against an Elasticsearch-compatible
// HTTP endpoint. Requests that come back 429 or 503 are retried with
// exponential backoff; every other failure propagates immediately.
type Store struct {
	baseURL         string
	httpClient      *http.Client
	maxElapsed      time.Duration
	initialInterval time.Duration
}

// Config holds connection configuration
type Config struct {
	// BaseURL is the store endpoint (e.g., http://localhost:9200)
	BaseURL string

	// Timeout for HTTP requests
	Timeout time.Duration

	// RetryMaxElapsed bounds the total backoff time for transient
	// (429/503) responses
	RetryMaxElapsed time.Duration

	// RetryInitialInterval is the first backoff delay. Zero means the
	// backoff library default.
	RetryInitialInterval time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:         baseURL,
		Timeout:         30 * time.Second,
		RetryMaxElapsed: 15 * time.Second,
	}
}

// NewStore creates a new Elasticsearch-backed IndexStore
func NewStore(cfg Config) *Store {
	maxElapsed := cfg.RetryMaxElapsed
	if maxElapsed == 0 {
		maxElapsed = 15 * time.Second
	}
	return &Store{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		maxElapsed:      maxElapsed,
		initialInterval: cfg.RetryInitialInterval,
	}
}

// esBulkResponse is the provider's bulk response shape: items are keyed
// by the action name they answered.
type esBulkResponse struct {
	Took   int                     `json:"took"`
	Errors bool                    `json:"errors"`
	Items  []map[string]esBulkItem `json:"items"`
}

type esBulkItem struct {
	ID     string            `json:"_id"`
	Status int               `json:"status"`
	Error  *driven.BulkError `json:"error,omitempty"`
}

// Bulk executes one batched request against index.
func (s *Store) Bulk(ctx context.Context, index string, body []byte, opts driven.BulkOptions) (*driven.BulkResponse, error) {
	params := url.Values{}
	if opts.Refresh {
		params.Set("refresh", "true")
	}
	if opts.Timeout > 0 {
		params.Set("timeout", opts.Timeout.String())
	}
	if opts.Routing != "" {
		params.Set("routing", opts.Routing)
	}
	if opts.Consistency != "" {
		params.Set("wait_for_active_shards", opts.Consistency)
	}

	endpoint := fmt.Sprintf("%s/%s/_bulk", s.baseURL, url.PathEscape(index))
	if encoded := params.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}

	respBody, err := s.do(ctx, http.MethodPost, endpoint, body, "application/x-ndjson")
	if err != nil {
		return nil, err
	}

	var raw esBulkResponse
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return nil, fmt.Errorf("malformed bulk response: %w", err)
	}

	resp := &driven.BulkResponse{Took: raw.Took, Errors: raw.Errors}
	for _, item := range raw.Items {
		for action, inner := range item {
			resp.Items = append(resp.Items, driven.BulkItem{
				Op:     domain.OpType(action),
				ID:     inner.ID,
				Status: inner.Status,
				Error:  inner.Error,
			})
		}
	}
	return resp, nil
}

// esSearchResponse is the provider's search response shape.
type esSearchResponse struct {
	Hits struct {
		Hits []struct {
			ID      string          `json:"_id"`
			Routing string          `json:"_routing"`
			Source  json.RawMessage `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Search runs a query against index and returns the raw hits.
func (s *Store) Search(ctx context.Context, index string, query map[string]any) ([]driven.Hit, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/%s/_search", s.baseURL, url.PathEscape(index))
	respBody, err := s.do(ctx, http.MethodPost, endpoint, body, "application/json")
	if err != nil {
		return nil, err
	}

	var raw esSearchResponse
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return nil, fmt.Errorf("malformed search response: %w", err)
	}

	hits := make([]driven.Hit, 0, len(raw.Hits.Hits))
	for _, hit := range raw.Hits.Hits {
		hits = append(hits, driven.Hit{
			ID:      hit.ID,
			Routing: hit.Routing,
			Source:  hit.Source,
		})
	}
	return hits, nil
}

// DeleteByQuery removes every document matching query.
func (s *Store) DeleteByQuery(ctx context.Context, index string, query map[string]any) (int, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return 0, err
	}

	endpoint := fmt.Sprintf("%s/%s/_delete_by_query", s.baseURL, url.PathEscape(index))
	respBody, err := s.do(ctx, http.MethodPost, endpoint, body, "application/json")
	if err != nil {
		return 0, err
	}

	var raw struct {
		Deleted int `json:"deleted"`
	}
	if err := json.Unmarshal(respBody, &raw); err != nil {
		return 0, fmt.Errorf("malformed delete-by-query response: %w", err)
	}
	return raw.Deleted, nil
}

// CreateIndex creates an index with the given settings.
func (s *Store) CreateIndex(ctx context.Context, name string, settings map[string]any) error {
	var body []byte
	if len(settings) > 0 {
		encoded, err := json.Marshal(settings)
		if err != nil {
			return err
		}
		body = encoded
	}

	endpoint := fmt.Sprintf("%s/%s", s.baseURL, url.PathEscape(name))
	_, err := s.do(ctx, http.MethodPut, endpoint, body, "application/json")
	return err
}

// IndexExists reports whether the index is present.
func (s *Store) IndexExists(ctx context.Context, name string) (bool, error) {
	endpoint := fmt.Sprintf("%s/%s", s.baseURL, url.PathEscape(name))

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, endpoint, nil)
	if err != nil {
		return false, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return true, nil
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("index check failed: %s", resp.Status)
	}
}

// HealthCheck verifies the store is reachable.
func (s *Store) HealthCheck(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/_cluster/health", s.baseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("store unhealthy: %s", resp.Status)
	}
	return nil
}

// do sends one request, retrying 429/503 responses with exponential
// backoff until maxElapsed runs out. Any other non-2xx status fails
// permanently with the response body in the error.
func (s *Store) do(ctx context.Context, method, endpoint string, body []byte, contentType string) ([]byte, error) {
	var result []byte

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = s.maxElapsed
	if s.initialInterval > 0 {
		policy.InitialInterval = s.initialInterval
	}

	operation := func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return backoff.Permanent(err)
		}
		if body != nil {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := s.httpClient.Do(req)
		if err != nil {
			return backoff.Permanent(err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return backoff.Permanent(err)
		}

		switch {
		case resp.StatusCode < 300:
			result = respBody
			return nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
			return fmt.Errorf("transient %s: %s", resp.Status, string(respBody))
		default:
			return backoff.Permanent(fmt.Errorf("request failed: %s - %s", resp.Status, string(respBody)))
		}
	}

	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return nil, err
	}
	return result, nil
}
