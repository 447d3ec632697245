package domain

import "time"

// DefaultBatchSize is the number of records pulled from the data source
// per batch when no batch size is configured anywhere.
const DefaultBatchSize = 1000

// IDFunc extracts a document id from a domain object. The second return
// reports whether an id could be derived. Extraction must be idempotent:
// re-deriving the id for the same object yields the same value.
type IDFunc func(obj any) (string, bool)

// ParentFunc derives the desired routing parent for a domain object.
type ParentFunc func(obj any) (string, bool)

// Index describes one search index type: its identity, creation settings,
// id and parent derivation rules, and type-level import defaults. Bindings
// to a data source and a composer happen in the registry at configuration
// time.
type Index struct {
	// Name is the index identity on the store
	Name string

	// Settings are passed through to index creation
	Settings map[string]any

	// IDFor overrides id derivation. Nil means the data source's
	// Identify result (the object's primary key) is used.
	IDFor IDFunc

	// ParentFor enables parent routing. Nil means documents are not
	// routed by parent.
	ParentFor ParentFunc

	// Defaults are type-level import options, merged under call options
	// and over engine globals.
	Defaults ImportOptions
}

// Routed reports whether documents of this index are placed by parent.
func (i *Index) Routed() bool {
	return i.ParentFor != nil
}

// ImportOptions tune one import call. The effective options are resolved
// by overlaying call options over type defaults over engine globals; zero
// values mean "unset" (booleans use pointers so false can override true).
type ImportOptions struct {
	// BatchSize is the data source iteration batch size
	BatchSize int

	// BulkMaxSize caps the serialized byte size of one bulk request.
	// Zero means no chunking.
	BulkMaxSize int

	// Parallel processes up to this many batches concurrently. Zero or
	// one means sequential.
	Parallel int

	// Fields restricts upserts to a partial update of the listed fields
	Fields []string

	// Refresh, Timeout, Routing and Consistency are passed through to
	// the bulk endpoint.
	Refresh     *bool
	Timeout     time.Duration
	Routing     string
	Consistency string

	// UpdateFailover re-issues failed partial updates as full indexes
	// when the target document is missing. Defaults to enabled.
	UpdateFailover *bool

	// Journal records this import in the journal index. Defaults to
	// disabled; forced off for journal writes themselves.
	Journal *bool

	// SkipIndexCreation leaves index lifecycle to external tooling
	SkipIndexCreation bool
}

// Merge overlays other on top of o and returns the result. Set fields in
// other win; unset fields keep o's value.
func (o ImportOptions) Merge(other ImportOptions) ImportOptions {
	merged := o
	if other.BatchSize > 0 {
		merged.BatchSize = other.BatchSize
	}
	if other.BulkMaxSize > 0 {
		merged.BulkMaxSize = other.BulkMaxSize
	}
	if other.Parallel > 0 {
		merged.Parallel = other.Parallel
	}
	if len(other.Fields) > 0 {
		merged.Fields = other.Fields
	}
	if other.Refresh != nil {
		merged.Refresh = other.Refresh
	}
	if other.Timeout > 0 {
		merged.Timeout = other.Timeout
	}
	if other.Routing != "" {
		merged.Routing = other.Routing
	}
	if other.Consistency != "" {
		merged.Consistency = other.Consistency
	}
	if other.UpdateFailover != nil {
		merged.UpdateFailover = other.UpdateFailover
	}
	if other.Journal != nil {
		merged.Journal = other.Journal
	}
	if other.SkipIndexCreation {
		merged.SkipIndexCreation = true
	}
	return merged
}

// EffectiveBatchSize returns the batch size, falling back to the default.
func (o ImportOptions) EffectiveBatchSize() int {
	if o.BatchSize > 0 {
		return o.BatchSize
	}
	return DefaultBatchSize
}

// RefreshEnabled reports the refresh pass-through, defaulting to true.
func (o ImportOptions) RefreshEnabled() bool {
	return o.Refresh == nil || *o.Refresh
}

// FailoverEnabled reports whether partial-update failover is on,
// defaulting to true.
func (o ImportOptions) FailoverEnabled() bool {
	return o.UpdateFailover == nil || *o.UpdateFailover
}

// JournalEnabled reports whether journaling is on, defaulting to false.
func (o ImportOptions) JournalEnabled() bool {
	return o.Journal != nil && *o.Journal
}

// Bool is a small helper for the pointer-typed toggles.
func Bool(v bool) *bool {
	return &v
}
