package domain

// Scope selects the records a data source iterates. Interpretation belongs
// to the DataSource adapter: nil means the default scope (everything),
// a slice of ids means exactly those records.
type Scope any

// Changeset describes one batch of pending index work: objects to upsert,
// objects or raw ids to delete, optionally restricted to a field subset.
// A changeset is immutable once handed to the builder. The upstream change
// detection guarantees an object never appears on both sides.
type Changeset struct {
	Upserts []any
	Deletes []any

	// Fields, when non-empty, switches the upserts to partial-update
	// semantics: only the listed fields are pushed.
	Fields []string
}

// Empty reports whether the changeset carries no work at all.
func (c *Changeset) Empty() bool {
	return c == nil || (len(c.Upserts) == 0 && len(c.Deletes) == 0)
}

// Partial reports whether the changeset requests partial-update semantics.
func (c *Changeset) Partial() bool {
	return c != nil && len(c.Fields) > 0
}
