package driven

import (
	"context"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
)

// Batch is one data-source iteration step, already partitioned by object
// state into records to upsert and records (or raw ids) to delete.
type Batch struct {
	Upserts []any
	Deletes []any
}

// Empty reports whether the batch carries no records at all.
func (b Batch) Empty() bool {
	return len(b.Upserts) == 0 && len(b.Deletes) == 0
}

// DataSource is the primary-store adapter feeding imports. Implementations
// exist per backing store (SQL tables, in-memory fixtures in tests); the
// engine never probes objects for their origin - bindings are explicit.
type DataSource interface {
	// Iterate walks the records selected by scope in batches of at most
	// batchSize, invoking fn per batch. A nil scope means the default
	// scope (all records); a []string scope means exactly those ids,
	// where ids with no backing record are yielded as deletes (the
	// record is gone from the primary store, so the document must go
	// too). Iteration stops at the first fn error.
	Iterate(ctx context.Context, scope domain.Scope, batchSize int, fn func(Batch) error) error

	// Identify derives the primary-key ids for the given objects, in
	// order. An empty string marks an object with no derivable id.
	Identify(objects []any) []string

	// Load fetches objects by id for journal replay and failover
	// recovery. Missing ids are skipped, not errors.
	Load(ctx context.Context, ids []string) ([]any, error)
}
