package services

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
)

// OperationBuilder converts a changeset into the ordered primitive
// operations of one bulk request. For a fixed changeset and fixed store
// state the output is deterministic; the only side effect is a single
// batched parent lookup when the index routes by parent.
type OperationBuilder struct {
	binding *Binding
	store   driven.IndexStore
	logger  *slog.Logger
}

// NewOperationBuilder creates a builder for one binding.
func NewOperationBuilder(binding *Binding, store driven.IndexStore, logger *slog.Logger) *OperationBuilder {
	if logger == nil {
		logger = slog.Default()
	}
	return &OperationBuilder{binding: binding, store: store, logger: logger}
}

// BuildResult carries the operations plus the per-call caches the importer
// needs for recovery and journaling.
type BuildResult struct {
	Operations []domain.Operation

	// Objects maps resolved document id to the originating object, so
	// the importer can re-compose full documents during update failover
	// without re-running the id function.
	Objects map[string]any

	// UpsertIDs and DeleteIDs are the resolved ids in input order,
	// skipped entries removed. The journal records these.
	UpsertIDs []string
	DeleteIDs []string
}

// Build resolves ids, detects parent reassignment and produces the
// operation sequence for one changeset.
func (b *OperationBuilder) Build(ctx context.Context, cs *domain.Changeset) (*BuildResult, error) {
	result := &BuildResult{Objects: make(map[string]any)}
	if cs.Empty() {
		return result, nil
	}

	index := b.binding.Index

	upsertIDs := b.resolveObjectIDs(cs.Upserts)
	deleteIDs := make([]string, len(cs.Deletes))
	for i, raw := range cs.Deletes {
		deleteIDs[i] = b.resolveDeleteID(raw)
	}

	// One lookup for the whole changeset: which parent is each document
	// currently stored under.
	var currentParents map[string]string
	if index.Routed() {
		ids := make([]string, 0, len(upsertIDs)+len(deleteIDs))
		for _, id := range append(append([]string(nil), upsertIDs...), deleteIDs...) {
			if id != "" {
				ids = append(ids, id)
			}
		}
		parents, err := b.lookupParents(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("parent lookup for %s: %w", index.Name, err)
		}
		currentParents = parents
	}

	var crutches driven.Crutches
	if len(cs.Upserts) > 0 {
		c, err := b.binding.Composer.Crutches(ctx, cs.Upserts)
		if err != nil {
			return nil, fmt.Errorf("crutches for %s: %w", index.Name, err)
		}
		crutches = c
	}

	for i, obj := range cs.Upserts {
		id := upsertIDs[i]
		if id == "" {
			if cs.Partial() {
				// Nothing to update against.
				b.logger.Debug("skipping partial update for unidentifiable object", "index", index.Name)
				continue
			}
			b.logger.Debug("skipping upsert for unidentifiable object", "index", index.Name)
			continue
		}
		result.Objects[id] = obj
		result.UpsertIDs = append(result.UpsertIDs, id)

		payload, err := b.binding.Composer.Compose(obj, crutches, cs.Fields)
		if err != nil {
			return nil, fmt.Errorf("compose %s/%s: %w", index.Name, id, err)
		}

		if cs.Partial() {
			result.Operations = append(result.Operations, domain.Operation{
				Type:    domain.OpUpdate,
				ID:      id,
				Parent:  b.updateParent(index, obj, currentParents, id),
				Payload: payload,
			})
			continue
		}

		desired := ""
		if index.Routed() {
			desired, _ = index.ParentFor(obj)
		}
		current, known := currentParents[id]
		if known && current != desired {
			// Re-parented: the stale copy under the old parent must go
			// first, in the same request chunk.
			result.Operations = append(result.Operations,
				domain.Operation{Type: domain.OpDelete, ID: id, Parent: current, Linked: true},
				domain.Operation{Type: domain.OpIndex, ID: id, Parent: desired, Payload: payload},
			)
			continue
		}
		result.Operations = append(result.Operations, domain.Operation{
			Type:    domain.OpIndex,
			ID:      id,
			Parent:  desired,
			Payload: payload,
		})
	}

	for i := range cs.Deletes {
		id := deleteIDs[i]
		if id == "" {
			b.logger.Debug("skipping delete with no identity", "index", index.Name)
			continue
		}
		parent := ""
		if index.Routed() {
			current, known := currentParents[id]
			if !known {
				// A delete with no routable parent cannot be delivered.
				b.logger.Debug("skipping delete with unknown parent", "index", index.Name, "id", id)
				continue
			}
			parent = current
		}
		result.DeleteIDs = append(result.DeleteIDs, id)
		result.Operations = append(result.Operations, domain.Operation{
			Type:   domain.OpDelete,
			ID:     id,
			Parent: parent,
		})
	}

	return result, nil
}

// resolveObjectIDs derives ids for the upsert objects, once per Build call.
// The custom id function wins; otherwise the data source identifies the
// whole batch at once.
func (b *OperationBuilder) resolveObjectIDs(objects []any) []string {
	if b.binding.Index.IDFor != nil {
		ids := make([]string, len(objects))
		for i, obj := range objects {
			if id, ok := b.binding.Index.IDFor(obj); ok {
				ids[i] = id
			}
		}
		return ids
	}
	return b.binding.Source.Identify(objects)
}

// resolveDeleteID derives the id for one delete input, which may be a full
// object or a raw id. Unidentifiable non-nil inputs fall back to a content
// fingerprint so the delete is not silently dropped.
func (b *OperationBuilder) resolveDeleteID(raw any) string {
	if raw == nil {
		return ""
	}
	if b.binding.Index.IDFor != nil {
		if id, ok := b.binding.Index.IDFor(raw); ok {
			return id
		}
	}
	if ids := b.binding.Source.Identify([]any{raw}); len(ids) == 1 && ids[0] != "" {
		return ids[0]
	}
	return fingerprint(raw)
}

// updateParent picks the routing for a partial update: the stored parent
// when known, otherwise the desired one.
func (b *OperationBuilder) updateParent(index *domain.Index, obj any, currentParents map[string]string, id string) string {
	if !index.Routed() {
		return ""
	}
	if current, known := currentParents[id]; known {
		return current
	}
	desired, _ := index.ParentFor(obj)
	return desired
}

// lookupParents asks the store which parent each id is currently stored
// under. One query per changeset, not per object.
func (b *OperationBuilder) lookupParents(ctx context.Context, ids []string) (map[string]string, error) {
	if len(ids) == 0 {
		return map[string]string{}, nil
	}
	query := map[string]any{
		"query": map[string]any{
			"ids": map[string]any{"values": ids},
		},
		"_source": false,
		"size":    len(ids),
	}
	hits, err := b.store.Search(ctx, b.binding.Index.Name, query)
	if err != nil {
		return nil, err
	}
	parents := make(map[string]string, len(hits))
	for _, hit := range hits {
		parents[hit.ID] = hit.Routing
	}
	return parents, nil
}

// fingerprint derives a stable content-based id for inputs with no
// derivable identity.
func fingerprint(raw any) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%#v", raw)
	return fmt.Sprintf("fp-%016x", h.Sum64())
}
