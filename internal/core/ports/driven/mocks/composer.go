package mocks

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
)

// MockComposer is a mock implementation of Composer for testing. It
// serializes Record fields, honouring the partial-update field subset, and
// records every Crutches call for N+1 assertions.
type MockComposer struct {
	mu sync.Mutex

	CrutchCalls [][]any

	ComposeErr error
}

// Verify interface compliance
var _ driven.Composer = (*MockComposer)(nil)

// NewMockComposer creates a new MockComposer
func NewMockComposer() *MockComposer {
	return &MockComposer{}
}

func (m *MockComposer) Crutches(ctx context.Context, objects []any) (driven.Crutches, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CrutchCalls = append(m.CrutchCalls, objects)
	return driven.Crutches{"batch_size": len(objects)}, nil
}

func (m *MockComposer) Compose(obj any, crutches driven.Crutches, fields []string) (json.RawMessage, error) {
	if m.ComposeErr != nil {
		return nil, m.ComposeErr
	}

	record, ok := obj.(*Record)
	if !ok {
		return nil, fmt.Errorf("unexpected object type %T", obj)
	}

	body := make(map[string]any, len(record.Fields)+1)
	if len(fields) > 0 {
		for _, field := range fields {
			if v, ok := record.Fields[field]; ok {
				body[field] = v
			}
		}
	} else {
		body["id"] = record.ID
		for k, v := range record.Fields {
			body[k] = v
		}
	}
	return json.Marshal(body)
}
