package domain

import "encoding/json"

// OpType identifies a primitive bulk operation
type OpType string

const (
	// OpIndex replaces the full document body
	OpIndex OpType = "index"
	// OpUpdate applies a partial document body
	OpUpdate OpType = "update"
	// OpDelete removes the document
	OpDelete OpType = "delete"
)

// Operation is one primitive action inside a bulk request. Operations are
// ordered; the transport preserves that order end to end.
type Operation struct {
	// Type is the action variant
	Type OpType `json:"type"`

	// ID is the target document id. Empty means the store assigns one
	// (used for append-only journal entries).
	ID string `json:"id,omitempty"`

	// Parent is the routing parent, empty when the index does not route
	// by parent.
	Parent string `json:"parent,omitempty"`

	// Index overrides the request-level target index for this single
	// operation. Used to fold journal writes into the same request.
	Index string `json:"index,omitempty"`

	// Payload is the full document for Index, the partial document for
	// Update, nil for Delete.
	Payload json.RawMessage `json:"payload,omitempty"`

	// Linked marks an operation that must stay in the same request chunk
	// as the operation that follows it. The builder sets it on the delete
	// half of a parent-migration pair.
	Linked bool `json:"-"`
}
