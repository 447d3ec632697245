package driven

import (
	"context"
	"encoding/json"
)

// Crutches are batch-scoped precomputed lookup tables (name tables,
// joined attributes) handed to payload composition so it never issues
// per-object queries.
type Crutches map[string]any

// Composer turns domain objects into index payloads.
type Composer interface {
	// Crutches precomputes batch-scoped auxiliary data for the given
	// objects. Called once per batch, before any Compose call.
	Crutches(ctx context.Context, objects []any) (Crutches, error)

	// Compose serializes one object into its document payload. A
	// non-empty fields list restricts the payload to those fields
	// (partial-update semantics).
	Compose(obj any, crutches Crutches, fields []string) (json.RawMessage, error)
}
