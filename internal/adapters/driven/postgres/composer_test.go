package postgres

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeDoc(t *testing.T, raw json.RawMessage) map[string]any {
	t.Helper()
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	return doc
}

func TestCompose_FullDocument(t *testing.T) {
	composer := NewRowComposer()
	row := map[string]any{"id": "1", "name": "alice", "age": int64(30)}

	raw, err := composer.Compose(row, nil, nil)
	require.NoError(t, err)

	doc := decodeDoc(t, raw)
	assert.Equal(t, "1", doc["id"])
	assert.Equal(t, "alice", doc["name"])
	assert.Len(t, doc, 3)
}

func TestCompose_PartialFields(t *testing.T) {
	composer := NewRowComposer()
	row := map[string]any{"id": "1", "name": "alice", "age": int64(30)}

	raw, err := composer.Compose(row, nil, []string{"name"})
	require.NoError(t, err)

	doc := decodeDoc(t, raw)
	assert.Equal(t, map[string]any{"name": "alice"}, doc)
}

func TestCompose_PartialSkipsAbsentFields(t *testing.T) {
	composer := NewRowComposer()
	row := map[string]any{"id": "1"}

	raw, err := composer.Compose(row, nil, []string{"name", "id"})
	require.NoError(t, err)

	doc := decodeDoc(t, raw)
	assert.Equal(t, map[string]any{"id": "1"}, doc)
}

func TestCompose_ExcludedColumns(t *testing.T) {
	composer := NewRowComposer("deleted_at", "internal_notes")
	row := map[string]any{"id": "1", "name": "alice", "deleted_at": nil, "internal_notes": "x"}

	raw, err := composer.Compose(row, nil, nil)
	require.NoError(t, err)

	doc := decodeDoc(t, raw)
	assert.NotContains(t, doc, "deleted_at")
	assert.NotContains(t, doc, "internal_notes")
	assert.Equal(t, "alice", doc["name"])
}

func TestCompose_ExcludeIgnoredForPartial(t *testing.T) {
	composer := NewRowComposer("notes")
	row := map[string]any{"id": "1", "notes": "keep me"}

	// Explicitly requested fields win over the exclusion list.
	raw, err := composer.Compose(row, nil, []string{"notes"})
	require.NoError(t, err)

	doc := decodeDoc(t, raw)
	assert.Equal(t, "keep me", doc["notes"])
}

func TestCompose_RejectsNonRow(t *testing.T) {
	composer := NewRowComposer()

	_, err := composer.Compose("not a row", nil, nil)
	assert.Error(t, err)
}

func TestCrutches_Empty(t *testing.T) {
	composer := NewRowComposer()

	crutches, err := composer.Crutches(context.Background(), []any{map[string]any{"id": "1"}})
	require.NoError(t, err)
	assert.Nil(t, crutches)
}
