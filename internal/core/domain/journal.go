package domain

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// JournalAction distinguishes the two kinds of journal records.
type JournalAction string

const (
	JournalActionIndex  JournalAction = "index"
	JournalActionDelete JournalAction = "delete"
)

// JournalEntry is one append-only record of applied index work. Entries are
// immutable once written; merging and subtraction happen only on in-memory
// copies during journal replay.
type JournalEntry struct {
	IndexName string        `json:"index_name"`
	Action    JournalAction `json:"action"`

	// References are base64-encoded serialized document identifiers.
	References []string `json:"references"`

	CreatedAt time.Time `json:"created_at"`
}

// Merge folds another entry for the same index into this one: references
// are unioned, CreatedAt takes the maximum.
func (e *JournalEntry) Merge(other *JournalEntry) error {
	if other == nil {
		return nil
	}
	if other.IndexName != e.IndexName {
		return fmt.Errorf("cannot merge journal entries for %q and %q", e.IndexName, other.IndexName)
	}
	e.References = unionRefs(e.References, other.References)
	if other.CreatedAt.After(e.CreatedAt) {
		e.CreatedAt = other.CreatedAt
	}
	return nil
}

// Subtract removes every reference already present in prev. Used during
// replay to skip documents whose journal entry has not rotated out yet.
func (e *JournalEntry) Subtract(prev *JournalEntry) {
	if prev == nil || len(prev.References) == 0 || len(e.References) == 0 {
		return
	}
	seen := make(map[string]struct{}, len(prev.References))
	for _, ref := range prev.References {
		seen[ref] = struct{}{}
	}
	kept := e.References[:0]
	for _, ref := range e.References {
		if _, ok := seen[ref]; !ok {
			kept = append(kept, ref)
		}
	}
	e.References = kept
}

// GroupEntries merges entries by index identity, preserving first-seen
// index order. The input entries are not modified.
func GroupEntries(entries []*JournalEntry) []*JournalEntry {
	byIndex := make(map[string]*JournalEntry)
	var order []string
	for _, entry := range entries {
		if entry == nil {
			continue
		}
		grouped, ok := byIndex[entry.IndexName]
		if !ok {
			clone := *entry
			clone.References = append([]string(nil), entry.References...)
			byIndex[entry.IndexName] = &clone
			order = append(order, entry.IndexName)
			continue
		}
		_ = grouped.Merge(entry)
	}
	result := make([]*JournalEntry, 0, len(order))
	for _, name := range order {
		result = append(result, byIndex[name])
	}
	return result
}

// SubtractEntries removes from each entry the references covered by the
// previous pass's entry for the same index, dropping entries that end up
// empty.
func SubtractEntries(entries, previous []*JournalEntry) []*JournalEntry {
	prevByIndex := make(map[string]*JournalEntry, len(previous))
	for _, entry := range previous {
		prevByIndex[entry.IndexName] = entry
	}
	var result []*JournalEntry
	for _, entry := range entries {
		entry.Subtract(prevByIndex[entry.IndexName])
		if len(entry.References) > 0 {
			result = append(result, entry)
		}
	}
	return result
}

// EncodeReference serializes a document id into the opaque reference form
// stored in the journal.
func EncodeReference(id string) string {
	raw, _ := json.Marshal(id)
	return base64.StdEncoding.EncodeToString(raw)
}

// DecodeReference recovers a document id from its journal reference.
func DecodeReference(ref string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ref)
	if err != nil {
		return "", fmt.Errorf("malformed journal reference: %w", err)
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		return "", fmt.Errorf("malformed journal reference: %w", err)
	}
	return id, nil
}

func unionRefs(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	result := make([]string, 0, len(a)+len(b))
	for _, refs := range [][]string{a, b} {
		for _, ref := range refs {
			if _, ok := seen[ref]; ok {
				continue
			}
			seen[ref] = struct{}{}
			result = append(result, ref)
		}
	}
	return result
}
