package mocks

import (
	"context"
	"sync"

	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
)

// BulkCall records one Bulk invocation for assertions.
type BulkCall struct {
	Index string
	Body  []byte
	Opts  driven.BulkOptions
}

// DeleteByQueryCall records one DeleteByQuery invocation.
type DeleteByQueryCall struct {
	Index string
	Query map[string]any
}

type bulkScript struct {
	resp *driven.BulkResponse
	err  error
}

// MockIndexStore is a mock implementation of IndexStore for testing.
// Bulk responses can be scripted per call; unscripted calls succeed with
// an empty item list.
type MockIndexStore struct {
	mu sync.Mutex

	BulkCalls        []BulkCall
	DeleteCalls      []DeleteByQueryCall
	CreatedIndexes   map[string]map[string]any
	SearchCalls      []map[string]any
	bulkScripts      []bulkScript
	hits             map[string][]driven.Hit
	exists           map[string]bool
	deleteByQueryCnt int

	// SearchFunc, when set, overrides hit lookup entirely
	SearchFunc func(index string, query map[string]any) ([]driven.Hit, error)

	SearchErr error
	HealthErr error
	CreateErr error
}

// Verify interface compliance
var _ driven.IndexStore = (*MockIndexStore)(nil)

// NewMockIndexStore creates a new MockIndexStore
func NewMockIndexStore() *MockIndexStore {
	return &MockIndexStore{
		CreatedIndexes: make(map[string]map[string]any),
		hits:           make(map[string][]driven.Hit),
		exists:         make(map[string]bool),
	}
}

// QueueBulkResponse scripts the response for the next unscripted Bulk call.
func (m *MockIndexStore) QueueBulkResponse(resp *driven.BulkResponse, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bulkScripts = append(m.bulkScripts, bulkScript{resp: resp, err: err})
}

// SetHits seeds search hits for an index.
func (m *MockIndexStore) SetHits(index string, hits []driven.Hit) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hits[index] = hits
}

// SetExists seeds index existence.
func (m *MockIndexStore) SetExists(name string, exists bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exists[name] = exists
}

// SetDeleteByQueryCount seeds the count DeleteByQuery reports.
func (m *MockIndexStore) SetDeleteByQueryCount(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteByQueryCnt = n
}

func (m *MockIndexStore) Bulk(ctx context.Context, index string, body []byte, opts driven.BulkOptions) (*driven.BulkResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bodyCopy := append([]byte(nil), body...)
	m.BulkCalls = append(m.BulkCalls, BulkCall{Index: index, Body: bodyCopy, Opts: opts})

	if len(m.bulkScripts) > 0 {
		script := m.bulkScripts[0]
		m.bulkScripts = m.bulkScripts[1:]
		return script.resp, script.err
	}
	return &driven.BulkResponse{}, nil
}

func (m *MockIndexStore) Search(ctx context.Context, index string, query map[string]any) ([]driven.Hit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SearchCalls = append(m.SearchCalls, query)
	if m.SearchErr != nil {
		return nil, m.SearchErr
	}
	if m.SearchFunc != nil {
		return m.SearchFunc(index, query)
	}
	return m.hits[index], nil
}

func (m *MockIndexStore) DeleteByQuery(ctx context.Context, index string, query map[string]any) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeleteCalls = append(m.DeleteCalls, DeleteByQueryCall{Index: index, Query: query})
	return m.deleteByQueryCnt, nil
}

func (m *MockIndexStore) CreateIndex(ctx context.Context, name string, settings map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return m.CreateErr
	}
	m.CreatedIndexes[name] = settings
	m.exists[name] = true
	return nil
}

func (m *MockIndexStore) IndexExists(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exists[name], nil
}

func (m *MockIndexStore) HealthCheck(ctx context.Context) error {
	return m.HealthErr
}
