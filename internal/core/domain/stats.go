package domain

// ImportStats accumulates per-action counts for one import call.
type ImportStats struct {
	Indexed int `json:"indexed"`
	Deleted int `json:"deleted"`
}

// Add merges another stats value into this one.
func (s *ImportStats) Add(other ImportStats) {
	s.Indexed += other.Indexed
	s.Deleted += other.Deleted
}

// ErrorItem is a non-fatal per-document failure reported inside an
// otherwise successful bulk response.
type ErrorItem struct {
	// Op is the action that failed
	Op OpType `json:"op"`

	// ID is the document id the failure refers to
	ID string `json:"id"`

	// Kind is the provider's error type string
	// (e.g. "document_missing_exception")
	Kind string `json:"kind"`

	// Reason is the provider's human-readable explanation
	Reason string `json:"reason,omitempty"`
}

// DocumentMissing is the error kind reported when a partial update targets
// a document that does not exist. It is the only kind the importer
// auto-recovers from.
const DocumentMissing = "document_missing_exception"

// ImportResult is the outcome of one import call. Errors holds the
// per-document failures that were not recovered; transport-level failures
// are returned as errors instead and mean the batch in flight was not
// applied.
type ImportResult struct {
	Stats  ImportStats `json:"stats"`
	Errors []ErrorItem `json:"errors,omitempty"`
}

// Ok reports whether every document made it.
func (r *ImportResult) Ok() bool {
	return len(r.Errors) == 0
}
