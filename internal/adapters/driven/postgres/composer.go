package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.Composer = (*RowComposer)(nil)

// RowComposer renders row maps produced by DataSource into documents.
// Full composition serializes every selected column; partial composition
// keeps only the requested fields.
type RowComposer struct {
	// Exclude drops columns from composed documents (bookkeeping columns
	// like soft-delete flags that should not be indexed).
	Exclude []string
}

// NewRowComposer creates a composer for table rows.
func NewRowComposer(exclude ...string) *RowComposer {
	return &RowComposer{Exclude: exclude}
}

// Crutches has nothing to precompute for plain rows.
func (c *RowComposer) Crutches(ctx context.Context, objects []any) (driven.Crutches, error) {
	return nil, nil
}

// Compose renders one row as a JSON document.
func (c *RowComposer) Compose(obj any, crutches driven.Crutches, fields []string) (json.RawMessage, error) {
	row, ok := obj.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("cannot compose %T: expected a row map", obj)
	}

	doc := make(map[string]any, len(row))
	if len(fields) > 0 {
		for _, field := range fields {
			if value, present := row[field]; present {
				doc[field] = value
			}
		}
	} else {
		for col, value := range row {
			doc[col] = value
		}
		for _, col := range c.Exclude {
			delete(doc, col)
		}
	}

	return json.Marshal(doc)
}
