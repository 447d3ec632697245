package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven/mocks"
)

func newImporterFixture(t *testing.T) (*Importer, *mocks.MockDataSource, *mocks.MockIndexStore) {
	t.Helper()

	source := mocks.NewMockDataSource()
	store := mocks.NewMockIndexStore()
	binding := &Binding{
		Index:    &domain.Index{Name: "users"},
		Source:   source,
		Composer: mocks.NewMockComposer(),
	}

	importer, err := NewImporter(ImporterConfig{
		Binding: binding,
		Store:   store,
		Journal: NewJournal(store, ""),
	})
	if err != nil {
		t.Fatalf("new importer: %v", err)
	}
	return importer, source, store
}

func TestPerform_FullImport(t *testing.T) {
	importer, source, store := newImporterFixture(t)

	source.AddBatch(driven.Batch{Upserts: []any{
		&mocks.Record{ID: "1", Fields: map[string]any{"name": "a"}},
		&mocks.Record{ID: "2", Fields: map[string]any{"name": "b"}},
	}})
	source.AddBatch(driven.Batch{
		Upserts: []any{&mocks.Record{ID: "3", Fields: map[string]any{"name": "c"}}},
		Deletes: []any{"4"},
	})

	result, err := importer.Perform(context.Background(), nil, domain.ImportOptions{})
	if err != nil {
		t.Fatalf("perform: %v", err)
	}

	if result.Stats.Indexed != 3 {
		t.Errorf("expected 3 indexed, got %d", result.Stats.Indexed)
	}
	if result.Stats.Deleted != 1 {
		t.Errorf("expected 1 deleted, got %d", result.Stats.Deleted)
	}
	if !result.Ok() {
		t.Errorf("expected clean result, got errors %v", result.Errors)
	}
	if len(store.BulkCalls) != 2 {
		t.Errorf("expected one request per batch, got %d", len(store.BulkCalls))
	}
	if _, created := store.CreatedIndexes["users"]; !created {
		t.Error("expected target index created")
	}
}

func TestPerform_SkipIndexCreation(t *testing.T) {
	importer, source, store := newImporterFixture(t)
	source.AddBatch(driven.Batch{Upserts: []any{&mocks.Record{ID: "1"}}})

	_, err := importer.Perform(context.Background(), nil, domain.ImportOptions{SkipIndexCreation: true})
	if err != nil {
		t.Fatalf("perform: %v", err)
	}
	if len(store.CreatedIndexes) != 0 {
		t.Errorf("expected no index creation, got %v", store.CreatedIndexes)
	}
}

func TestPerform_IDScope_MissingIDsDeleted(t *testing.T) {
	importer, source, store := newImporterFixture(t)

	source.AddRecord(&mocks.Record{ID: "1", Fields: map[string]any{"name": "a"}})
	// id 2 has no backing record

	result, err := importer.Perform(context.Background(), []string{"1", "2"}, domain.ImportOptions{})
	if err != nil {
		t.Fatalf("perform: %v", err)
	}

	if result.Stats.Indexed != 1 || result.Stats.Deleted != 1 {
		t.Errorf("expected 1 indexed and 1 deleted, got %+v", result.Stats)
	}
	body := string(store.BulkCalls[0].Body)
	if !strings.Contains(body, `"delete"`) {
		t.Errorf("expected delete for the vanished record, got %s", body)
	}
}

func TestPerform_JournalFoldedIntoRequest(t *testing.T) {
	importer, source, store := newImporterFixture(t)

	source.AddBatch(driven.Batch{
		Upserts: []any{&mocks.Record{ID: "1", Fields: map[string]any{"name": "a"}}},
		Deletes: []any{"2"},
	})

	result, err := importer.Perform(context.Background(), nil, domain.ImportOptions{Journal: domain.Bool(true)})
	if err != nil {
		t.Fatalf("perform: %v", err)
	}

	if len(store.BulkCalls) != 1 {
		t.Fatalf("expected journal entries folded into the batch request, got %d requests", len(store.BulkCalls))
	}
	body := string(store.BulkCalls[0].Body)
	if strings.Count(body, `"_index":"`+DefaultJournalIndex+`"`) != 2 {
		t.Errorf("expected one journal entry per action kind in the same body, got %s", body)
	}
	if _, created := store.CreatedIndexes[DefaultJournalIndex]; !created {
		t.Error("expected journal index created")
	}

	// Journal writes do not count as documents.
	if result.Stats.Indexed != 1 || result.Stats.Deleted != 1 {
		t.Errorf("expected document-only stats, got %+v", result.Stats)
	}
}

func TestPerform_ReimportProducesSameBodies(t *testing.T) {
	importer, source, store := newImporterFixture(t)

	source.AddBatch(driven.Batch{
		Upserts: []any{
			&mocks.Record{ID: "1", Fields: map[string]any{"name": "a"}},
			&mocks.Record{ID: "2", Fields: map[string]any{"name": "b"}},
		},
		Deletes: []any{"3"},
	})

	first, err := importer.Perform(context.Background(), nil, domain.ImportOptions{})
	if err != nil {
		t.Fatalf("first perform: %v", err)
	}
	second, err := importer.Perform(context.Background(), nil, domain.ImportOptions{})
	if err != nil {
		t.Fatalf("second perform: %v", err)
	}

	if len(store.BulkCalls) != 2 {
		t.Fatalf("expected one request per run, got %d", len(store.BulkCalls))
	}
	if string(store.BulkCalls[0].Body) != string(store.BulkCalls[1].Body) {
		t.Errorf("expected identical bodies on re-import:\n%s\n%s",
			store.BulkCalls[0].Body, store.BulkCalls[1].Body)
	}
	if first.Stats.Indexed != second.Stats.Indexed || first.Stats.Deleted != second.Stats.Deleted {
		t.Errorf("expected identical stats on re-import, got %+v then %+v", first.Stats, second.Stats)
	}
}

func TestPerform_JournalWriteFailureKeepsDocumentCounts(t *testing.T) {
	importer, source, store := newImporterFixture(t)

	source.AddBatch(driven.Batch{Upserts: []any{
		&mocks.Record{ID: "1", Fields: map[string]any{"name": "a"}},
	}})

	// The document lands but the store-assigned journal entry is rejected.
	store.QueueBulkResponse(&driven.BulkResponse{
		Errors: true,
		Items: []driven.BulkItem{
			{Op: domain.OpIndex, ID: "1", Status: 200},
			{Op: domain.OpIndex, ID: "kYx3fJgB", Status: 429, Error: &driven.BulkError{
				Type: "es_rejected_execution_exception", Reason: "queue full",
			}},
		},
	}, nil)

	result, err := importer.Perform(context.Background(), nil, domain.ImportOptions{Journal: domain.Bool(true)})
	if err != nil {
		t.Fatalf("perform: %v", err)
	}

	if result.Stats.Indexed != 1 {
		t.Errorf("expected journal failure not to touch document counts, got %d indexed", result.Stats.Indexed)
	}
	if len(result.Errors) != 1 || result.Errors[0].Kind != "es_rejected_execution_exception" {
		t.Errorf("expected journal failure surfaced as an error item, got %v", result.Errors)
	}
}

func TestPerform_JournalDisabledByDefault(t *testing.T) {
	importer, source, store := newImporterFixture(t)
	source.AddBatch(driven.Batch{Upserts: []any{&mocks.Record{ID: "1"}}})

	if _, err := importer.Perform(context.Background(), nil, domain.ImportOptions{}); err != nil {
		t.Fatalf("perform: %v", err)
	}
	if strings.Contains(string(store.BulkCalls[0].Body), DefaultJournalIndex) {
		t.Error("expected no journal entries without opting in")
	}
}

func TestPerform_UpdateFailover(t *testing.T) {
	importer, source, store := newImporterFixture(t)

	source.AddBatch(driven.Batch{Upserts: []any{
		&mocks.Record{ID: "1", Fields: map[string]any{"name": "a"}},
		&mocks.Record{ID: "2", Fields: map[string]any{"name": "b"}},
	}})

	// The partial update for 2 hits a missing document.
	store.QueueBulkResponse(&driven.BulkResponse{
		Errors: true,
		Items: []driven.BulkItem{
			{Op: domain.OpUpdate, ID: "1", Status: 200},
			{Op: domain.OpUpdate, ID: "2", Status: 404, Error: &driven.BulkError{
				Type: domain.DocumentMissing, Reason: "[2]: document missing",
			}},
		},
	}, nil)

	result, err := importer.Perform(context.Background(), nil, domain.ImportOptions{Fields: []string{"name"}})
	if err != nil {
		t.Fatalf("perform: %v", err)
	}

	if len(store.BulkCalls) != 2 {
		t.Fatalf("expected the recovery to run as a trailing request, got %d requests", len(store.BulkCalls))
	}

	recovery := string(store.BulkCalls[1].Body)
	if !strings.Contains(recovery, `"index"`) || !strings.Contains(recovery, `"_id":"2"`) {
		t.Errorf("expected full index of document 2 in the recovery request, got %s", recovery)
	}
	// The recovered document carries the full body, not the field subset.
	if !strings.Contains(recovery, `"id":"2"`) {
		t.Errorf("expected full composition in recovery, got %s", recovery)
	}

	if !result.Ok() {
		t.Errorf("expected recovered result to be clean, got %v", result.Errors)
	}
	if result.Stats.Indexed != 2 {
		t.Errorf("expected both documents counted once, got %d", result.Stats.Indexed)
	}
}

func TestPerform_FailoverCarriesIntoNextBatch(t *testing.T) {
	importer, source, store := newImporterFixture(t)

	source.AddBatch(driven.Batch{Upserts: []any{&mocks.Record{ID: "1", Fields: map[string]any{"name": "a"}}}})
	source.AddBatch(driven.Batch{Upserts: []any{&mocks.Record{ID: "2", Fields: map[string]any{"name": "b"}}}})

	store.QueueBulkResponse(&driven.BulkResponse{
		Errors: true,
		Items: []driven.BulkItem{
			{Op: domain.OpUpdate, ID: "1", Status: 404, Error: &driven.BulkError{
				Type: domain.DocumentMissing, Reason: "missing",
			}},
		},
	}, nil)

	result, err := importer.Perform(context.Background(), nil, domain.ImportOptions{Fields: []string{"name"}})
	if err != nil {
		t.Fatalf("perform: %v", err)
	}

	// Two batch requests, no extra trailing one: the recovery rode along
	// with the second batch.
	if len(store.BulkCalls) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(store.BulkCalls))
	}
	second := string(store.BulkCalls[1].Body)
	if !strings.Contains(second, `"_id":"1"`) || !strings.Contains(second, `"_id":"2"`) {
		t.Errorf("expected recovery of 1 alongside batch of 2, got %s", second)
	}
	if !result.Ok() {
		t.Errorf("expected clean result, got %v", result.Errors)
	}
}

func TestPerform_FailoverDisabled(t *testing.T) {
	importer, source, store := newImporterFixture(t)

	source.AddBatch(driven.Batch{Upserts: []any{&mocks.Record{ID: "1", Fields: map[string]any{"name": "a"}}}})
	store.QueueBulkResponse(&driven.BulkResponse{
		Errors: true,
		Items: []driven.BulkItem{
			{Op: domain.OpUpdate, ID: "1", Status: 404, Error: &driven.BulkError{
				Type: domain.DocumentMissing, Reason: "missing",
			}},
		},
	}, nil)

	result, err := importer.Perform(context.Background(), nil, domain.ImportOptions{
		Fields:         []string{"name"},
		UpdateFailover: domain.Bool(false),
	})
	if err != nil {
		t.Fatalf("perform: %v", err)
	}

	if len(store.BulkCalls) != 1 {
		t.Errorf("expected no recovery request, got %d", len(store.BulkCalls))
	}
	if len(result.Errors) != 1 || result.Errors[0].Kind != domain.DocumentMissing {
		t.Errorf("expected the failure surfaced, got %v", result.Errors)
	}
	if result.Stats.Indexed != 0 {
		t.Errorf("expected failed update not counted, got %d", result.Stats.Indexed)
	}
}

func TestPerform_NoFailoverForFullImports(t *testing.T) {
	importer, source, store := newImporterFixture(t)

	source.AddBatch(driven.Batch{Upserts: []any{&mocks.Record{ID: "1", Fields: map[string]any{"name": "a"}}}})
	store.QueueBulkResponse(&driven.BulkResponse{
		Errors: true,
		Items: []driven.BulkItem{
			{Op: domain.OpIndex, ID: "1", Status: 400, Error: &driven.BulkError{
				Type: "mapper_parsing_exception", Reason: "bad field",
			}},
		},
	}, nil)

	result, err := importer.Perform(context.Background(), nil, domain.ImportOptions{})
	if err != nil {
		t.Fatalf("perform: %v", err)
	}
	if len(result.Errors) != 1 {
		t.Errorf("expected mapping failure surfaced, got %v", result.Errors)
	}
	if len(store.BulkCalls) != 1 {
		t.Errorf("expected no recovery attempt, got %d requests", len(store.BulkCalls))
	}
}

func TestPerform_TransportErrorAborts(t *testing.T) {
	importer, source, store := newImporterFixture(t)

	source.AddBatch(driven.Batch{Upserts: []any{&mocks.Record{ID: "1"}}})
	store.QueueBulkResponse(nil, errors.New("connection refused"))

	_, err := importer.Perform(context.Background(), nil, domain.ImportOptions{})
	if !errors.Is(err, domain.ErrTransport) {
		t.Errorf("expected ErrTransport, got %v", err)
	}
}

func TestPerform_Parallel(t *testing.T) {
	importer, source, store := newImporterFixture(t)

	for _, id := range []string{"1", "2", "3", "4"} {
		source.AddBatch(driven.Batch{Upserts: []any{
			&mocks.Record{ID: id, Fields: map[string]any{"name": id}},
		}})
	}

	result, err := importer.Perform(context.Background(), nil, domain.ImportOptions{Parallel: 2})
	if err != nil {
		t.Fatalf("perform: %v", err)
	}

	if result.Stats.Indexed != 4 {
		t.Errorf("expected 4 indexed, got %d", result.Stats.Indexed)
	}
	if len(store.BulkCalls) != 4 {
		t.Errorf("expected 4 requests, got %d", len(store.BulkCalls))
	}
}

func TestPerform_Parallel_TransportErrorAborts(t *testing.T) {
	importer, source, store := newImporterFixture(t)

	for _, id := range []string{"1", "2", "3"} {
		source.AddBatch(driven.Batch{Upserts: []any{&mocks.Record{ID: id}}})
	}
	store.QueueBulkResponse(nil, errors.New("connection refused"))

	_, err := importer.Perform(context.Background(), nil, domain.ImportOptions{Parallel: 2})
	if err == nil {
		t.Fatal("expected transport failure to abort the import")
	}
}

func TestPerform_MergesOptionLayers(t *testing.T) {
	source := mocks.NewMockDataSource()
	store := mocks.NewMockIndexStore()
	binding := &Binding{
		Index: &domain.Index{
			Name:     "users",
			Defaults: domain.ImportOptions{Routing: "type-level"},
		},
		Source:   source,
		Composer: mocks.NewMockComposer(),
	}
	importer, err := NewImporter(ImporterConfig{
		Binding:  binding,
		Store:    store,
		Defaults: domain.ImportOptions{Refresh: domain.Bool(false)},
	})
	if err != nil {
		t.Fatalf("new importer: %v", err)
	}

	source.AddBatch(driven.Batch{Upserts: []any{&mocks.Record{ID: "1"}}})

	if _, err := importer.Perform(context.Background(), nil, domain.ImportOptions{Timeout: 0}); err != nil {
		t.Fatalf("perform: %v", err)
	}

	opts := store.BulkCalls[0].Opts
	if opts.Refresh {
		t.Error("expected engine-level refresh=false to apply")
	}
	if opts.Routing != "type-level" {
		t.Errorf("expected type-level routing, got %q", opts.Routing)
	}
}
