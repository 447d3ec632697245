package mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
)

// Record is the domain object used by the mock source and composer.
type Record struct {
	ID     string
	Parent string
	Fields map[string]any
}

// MockDataSource is a mock implementation of DataSource for testing.
// With a nil scope it yields the seeded batches verbatim; with an id-slice
// scope it yields the matching records as one upsert batch.
type MockDataSource struct {
	mu sync.Mutex

	Batches []driven.Batch
	records map[string]*Record

	IterateErr error
	LoadErr    error
}

// Verify interface compliance
var _ driven.DataSource = (*MockDataSource)(nil)

// NewMockDataSource creates a new MockDataSource
func NewMockDataSource() *MockDataSource {
	return &MockDataSource{records: make(map[string]*Record)}
}

// AddRecord seeds a record for Load and id-scoped iteration.
func (m *MockDataSource) AddRecord(r *Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[r.ID] = r
}

// AddBatch appends a batch yielded by default-scope iteration.
func (m *MockDataSource) AddBatch(b driven.Batch) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Batches = append(m.Batches, b)
	for _, obj := range b.Upserts {
		if r, ok := obj.(*Record); ok {
			m.records[r.ID] = r
		}
	}
}

func (m *MockDataSource) Iterate(ctx context.Context, scope domain.Scope, batchSize int, fn func(driven.Batch) error) error {
	if m.IterateErr != nil {
		return m.IterateErr
	}

	if ids, ok := scope.([]string); ok {
		m.mu.Lock()
		var upserts, deletes []any
		for _, id := range ids {
			if r, found := m.records[id]; found {
				upserts = append(upserts, r)
			} else {
				deletes = append(deletes, id)
			}
		}
		m.mu.Unlock()

		for start := 0; start < len(upserts); start += batchSize {
			end := start + batchSize
			if end > len(upserts) {
				end = len(upserts)
			}
			batch := driven.Batch{Upserts: upserts[start:end]}
			if end >= len(upserts) {
				batch.Deletes = deletes
			}
			if err := fn(batch); err != nil {
				return err
			}
		}
		if len(upserts) == 0 && len(deletes) > 0 {
			if err := fn(driven.Batch{Deletes: deletes}); err != nil {
				return err
			}
		}
		return nil
	}

	m.mu.Lock()
	batches := append([]driven.Batch(nil), m.Batches...)
	m.mu.Unlock()

	for _, batch := range batches {
		if err := fn(batch); err != nil {
			return err
		}
	}
	return nil
}

func (m *MockDataSource) Identify(objects []any) []string {
	ids := make([]string, len(objects))
	for i, obj := range objects {
		switch v := obj.(type) {
		case *Record:
			ids[i] = v.ID
		case string:
			ids[i] = v
		case int:
			ids[i] = fmt.Sprintf("%d", v)
		default:
			ids[i] = ""
		}
	}
	return ids
}

func (m *MockDataSource) Load(ctx context.Context, ids []string) ([]any, error) {
	if m.LoadErr != nil {
		return nil, m.LoadErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var objects []any
	for _, id := range ids {
		if r, ok := m.records[id]; ok {
			objects = append(objects, r)
		}
	}
	return objects, nil
}
