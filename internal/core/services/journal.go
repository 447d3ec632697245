package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
)

// DefaultJournalIndex is the system index journal entries live in.
const DefaultJournalIndex = "sercha_sync_journal"

// journalSettings is the schema for the journal's own system index.
var journalSettings = map[string]any{
	"mappings": map[string]any{
		"properties": map[string]any{
			"index_name": map[string]any{"type": "keyword"},
			"action":     map[string]any{"type": "keyword"},
			"references": map[string]any{"type": "keyword", "index": false},
			"created_at": map[string]any{"type": "date"},
		},
	},
}

// Journal records every applied changeset in a dedicated append-only
// system index so a consistency gap can be replayed later. Entries are
// written through the same bulk request as the import that produced them,
// with journaling forced off for the journal index itself.
type Journal struct {
	store     driven.IndexStore
	indexName string
}

// NewJournal creates a journal over the given system index name; an empty
// name selects the default.
func NewJournal(store driven.IndexStore, indexName string) *Journal {
	if indexName == "" {
		indexName = DefaultJournalIndex
	}
	return &Journal{store: store, indexName: indexName}
}

// IndexName returns the journal's system index name.
func (j *Journal) IndexName() string {
	return j.indexName
}

// EnsureIndex creates the journal index when absent.
func (j *Journal) EnsureIndex(ctx context.Context) error {
	exists, err := j.store.IndexExists(ctx, j.indexName)
	if err != nil {
		return fmt.Errorf("journal index check: %w", err)
	}
	if exists {
		return nil
	}
	return j.store.CreateIndex(ctx, j.indexName, journalSettings)
}

// Operations builds the journal's own bulk operations for one batch: up to
// one entry for the upserted ids and one for the deleted ids. The
// operations carry a per-operation index override so the importer can fold
// them into the batch's request; ids are store-assigned since entries are
// append-only.
func (j *Journal) Operations(indexName string, upsertIDs, deleteIDs []string, now time.Time) []domain.Operation {
	var ops []domain.Operation
	if entry := j.entry(indexName, domain.JournalActionIndex, upsertIDs, now); entry != nil {
		ops = append(ops, *entry)
	}
	if entry := j.entry(indexName, domain.JournalActionDelete, deleteIDs, now); entry != nil {
		ops = append(ops, *entry)
	}
	return ops
}

func (j *Journal) entry(indexName string, action domain.JournalAction, ids []string, now time.Time) *domain.Operation {
	if len(ids) == 0 {
		return nil
	}
	refs := make([]string, len(ids))
	for i, id := range ids {
		refs[i] = domain.EncodeReference(id)
	}
	payload, _ := json.Marshal(domain.JournalEntry{
		IndexName:  indexName,
		Action:     action,
		References: refs,
		CreatedAt:  now.UTC(),
	})
	return &domain.Operation{
		Type:    domain.OpIndex,
		Index:   j.indexName,
		Payload: payload,
	}
}

// Entries fetches all journal entries created at or after since,
// optionally restricted to a subset of indices, oldest first.
func (j *Journal) Entries(ctx context.Context, since time.Time, onlyIndexes []string) ([]*domain.JournalEntry, error) {
	filters := []any{
		map[string]any{"range": map[string]any{
			"created_at": map[string]any{"gte": since.UTC().Format(time.RFC3339Nano)},
		}},
	}
	if len(onlyIndexes) > 0 {
		filters = append(filters, map[string]any{"terms": map[string]any{"index_name": onlyIndexes}})
	}
	query := map[string]any{
		"query": map[string]any{"bool": map[string]any{"filter": filters}},
		"sort":  []any{map[string]any{"created_at": "asc"}},
		"size":  10000,
	}

	hits, err := j.store.Search(ctx, j.indexName, query)
	if err != nil {
		return nil, fmt.Errorf("journal query: %w", err)
	}

	entries := make([]*domain.JournalEntry, 0, len(hits))
	for _, hit := range hits {
		var entry domain.JournalEntry
		if err := json.Unmarshal(hit.Source, &entry); err != nil {
			return nil, fmt.Errorf("malformed journal entry %s: %w", hit.ID, err)
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}

// Clean is the retention sweep: it removes every entry created before
// until and returns the number deleted.
func (j *Journal) Clean(ctx context.Context, until time.Time) (int, error) {
	query := map[string]any{
		"query": map[string]any{"range": map[string]any{
			"created_at": map[string]any{"lt": until.UTC().Format(time.RFC3339Nano)},
		}},
	}
	return j.store.DeleteByQuery(ctx, j.indexName, query)
}
