package driven

import (
	"context"
	"encoding/json"
	"time"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
)

// IndexStore is the remote search index store (Elasticsearch-compatible).
// Transport-level failures (network, auth, wholesale request rejection)
// are returned as errors; per-document failures travel inside BulkResponse.
type IndexStore interface {
	// Bulk executes one batched request against index. The body is the
	// already-serialized operation stream (NDJSON). A returned error
	// means nothing in the batch is known to have been applied.
	Bulk(ctx context.Context, index string, body []byte, opts BulkOptions) (*BulkResponse, error)

	// Search runs a query against index and returns the raw hits.
	Search(ctx context.Context, index string, query map[string]any) ([]Hit, error)

	// DeleteByQuery removes every document matching query and returns
	// the number deleted.
	DeleteByQuery(ctx context.Context, index string, query map[string]any) (int, error)

	// CreateIndex creates an index with the given settings.
	CreateIndex(ctx context.Context, name string, settings map[string]any) error

	// IndexExists reports whether the index is present.
	IndexExists(ctx context.Context, name string) (bool, error)

	// HealthCheck verifies the store is reachable.
	HealthCheck(ctx context.Context) error
}

// BulkOptions are the pass-through request options merged into every bulk
// request.
type BulkOptions struct {
	// Refresh makes the changes searchable before the call returns
	Refresh bool

	// Timeout bounds the store-side execution of the request
	Timeout time.Duration

	// Routing overrides the request-level routing value
	Routing string

	// Consistency is the write consistency pass-through
	Consistency string
}

// BulkResponse is the structured result of one bulk request.
type BulkResponse struct {
	// Took is the store-side execution time in milliseconds
	Took int `json:"took"`

	// Errors reports whether any item failed
	Errors bool `json:"errors"`

	// Items are the per-operation results, in request order
	Items []BulkItem `json:"items"`
}

// BulkItem is the result of a single operation inside a bulk request.
type BulkItem struct {
	Op     domain.OpType `json:"op"`
	ID     string        `json:"id"`
	Status int           `json:"status"`
	Error  *BulkError    `json:"error,omitempty"`
}

// BulkError is the provider's per-item error shape.
type BulkError struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// ErrorItems extracts the failed items as domain error items.
func (r *BulkResponse) ErrorItems() []domain.ErrorItem {
	if r == nil || !r.Errors {
		return nil
	}
	var items []domain.ErrorItem
	for _, item := range r.Items {
		if item.Error == nil {
			continue
		}
		items = append(items, domain.ErrorItem{
			Op:     item.Op,
			ID:     item.ID,
			Kind:   item.Error.Type,
			Reason: item.Error.Reason,
		})
	}
	return items
}

// Hit is one search result.
type Hit struct {
	// ID is the document id
	ID string `json:"id"`

	// Routing is the routing parent the document is stored under, when
	// the index routes by parent.
	Routing string `json:"routing,omitempty"`

	// Source is the raw document body
	Source json.RawMessage `json:"source,omitempty"`
}
