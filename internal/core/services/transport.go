package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-sync/internal/metrics"
)

// headerReserve is held back from the configured maximum request size to
// leave room for request metadata and newline overhead.
const headerReserve = 1024

// BulkTransport slices an operation sequence into byte-bounded chunks,
// executes them against the store's bulk endpoint in input order, and
// extracts the per-item errors.
type BulkTransport struct {
	store   driven.IndexStore
	index   string
	maxSize int
	opts    driven.BulkOptions
	logger  *slog.Logger
}

// BulkTransportConfig holds construction parameters for BulkTransport.
type BulkTransportConfig struct {
	Store driven.IndexStore

	// Index is the request-level target index or alias
	Index string

	// MaxSize caps the serialized byte size of one request. Zero
	// disables chunking; a positive value must exceed the header
	// reserve.
	MaxSize int

	// Options are merged into every request
	Options driven.BulkOptions

	Logger *slog.Logger
}

// NewBulkTransport validates the configuration and creates a transport.
func NewBulkTransport(cfg BulkTransportConfig) (*BulkTransport, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("%w: bulk transport needs a store", domain.ErrInvalidConfig)
	}
	if cfg.Index == "" {
		return nil, fmt.Errorf("%w: bulk transport needs a target index", domain.ErrInvalidConfig)
	}
	if cfg.MaxSize > 0 && cfg.MaxSize <= headerReserve {
		return nil, fmt.Errorf("%w: bulk max size %d must exceed the %d byte header reserve",
			domain.ErrInvalidConfig, cfg.MaxSize, headerReserve)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &BulkTransport{
		store:   cfg.Store,
		index:   cfg.Index,
		maxSize: cfg.MaxSize,
		opts:    cfg.Options,
		logger:  logger,
	}, nil
}

// Execute runs the operations as one or more bulk requests and returns the
// per-item errors. A returned error is a transport-level failure: the
// request in flight was not applied and nothing partial is recorded.
func (t *BulkTransport) Execute(ctx context.Context, ops []domain.Operation) ([]domain.ErrorItem, error) {
	if len(ops) == 0 {
		return nil, nil
	}

	encoded := make([][]byte, len(ops))
	for i, op := range ops {
		body, err := encodeOperation(op)
		if err != nil {
			return nil, fmt.Errorf("encode operation %s/%s: %w", op.Type, op.ID, err)
		}
		encoded[i] = body
	}

	var items []domain.ErrorItem
	for _, chunk := range t.chunk(ops, encoded) {
		metrics.ObserveBulkRequest(t.index, len(chunk))

		resp, err := t.store.Bulk(ctx, t.index, chunk, t.opts)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", domain.ErrTransport, err)
		}
		items = append(items, resp.ErrorItems()...)
	}
	return items, nil
}

// chunk groups the encoded operations into request bodies no larger than
// maxSize - headerReserve. Chunk boundaries fall only between operations,
// and never inside a linked pair; a single oversized unit still becomes
// its own chunk. Concatenating the chunks in order reproduces the input.
func (t *BulkTransport) chunk(ops []domain.Operation, encoded [][]byte) [][]byte {
	if t.maxSize == 0 {
		return [][]byte{bytes.Join(encoded, nil)}
	}
	limit := t.maxSize - headerReserve

	// A unit is one operation plus any operations linked to it; linked
	// units are indivisible.
	type unit struct {
		body []byte
	}
	var units []unit
	for i := 0; i < len(ops); {
		j := i
		for j < len(ops)-1 && ops[j].Linked {
			j++
		}
		units = append(units, unit{body: bytes.Join(encoded[i:j+1], nil)})
		i = j + 1
	}

	var chunks [][]byte
	var current []byte
	for _, u := range units {
		if len(current) > 0 && len(current)+len(u.body) > limit {
			chunks = append(chunks, current)
			current = nil
		}
		current = append(current, u.body...)
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}

// bulkAction is the metadata line preceding each operation body in the
// store's bulk wire format.
type bulkAction struct {
	Index   string `json:"_index,omitempty"`
	ID      string `json:"_id,omitempty"`
	Routing string `json:"routing,omitempty"`
}

// encodeOperation serializes one operation into its wire lines: an action
// line, then the payload line for index, a doc wrapper for update, nothing
// for delete.
func encodeOperation(op domain.Operation) ([]byte, error) {
	meta := bulkAction{Index: op.Index, ID: op.ID, Routing: op.Parent}
	action, err := json.Marshal(map[string]bulkAction{string(op.Type): meta})
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Write(action)
	buf.WriteByte('\n')

	switch op.Type {
	case domain.OpIndex:
		buf.Write(op.Payload)
		buf.WriteByte('\n')
	case domain.OpUpdate:
		doc, err := json.Marshal(map[string]json.RawMessage{"doc": op.Payload})
		if err != nil {
			return nil, err
		}
		buf.Write(doc)
		buf.WriteByte('\n')
	case domain.OpDelete:
		// Action line only.
	default:
		return nil, fmt.Errorf("unknown operation type %q", op.Type)
	}
	return buf.Bytes(), nil
}
