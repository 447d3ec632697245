package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.DataSource = (*DataSource)(nil)

// SourceConfig describes the table one DataSource reads from.
type SourceConfig struct {
	// Table is the source table name
	Table string

	// IDColumn is the primary key column, cast to text for document ids
	IDColumn string

	// Columns restricts the selected columns. The id column is always
	// included. Empty means every column.
	Columns []string

	// DeletedColumn names an optional boolean column. Rows where it is
	// true are yielded as deletes instead of upserts, so soft-deleted
	// records fall out of the destination on the next import.
	DeletedColumn string
}

// DataSource implements driven.DataSource over one PostgreSQL table.
// Rows surface as map[string]any objects keyed by column name; default
// scope iteration uses keyset pagination on the id column.
type DataSource struct {
	db  *DB
	cfg SourceConfig
}

// NewDataSource creates a table-backed data source.
func NewDataSource(db *DB, cfg SourceConfig) (*DataSource, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: data source needs a database", domain.ErrInvalidConfig)
	}
	if cfg.Table == "" || cfg.IDColumn == "" {
		return nil, fmt.Errorf("%w: data source needs a table and an id column", domain.ErrInvalidConfig)
	}
	return &DataSource{db: db, cfg: cfg}, nil
}

// selectList builds the projection, making sure the id column is present.
func (d *DataSource) selectList() string {
	if len(d.cfg.Columns) == 0 {
		return "*"
	}
	cols := d.cfg.Columns
	hasID := false
	for _, col := range cols {
		if col == d.cfg.IDColumn {
			hasID = true
			break
		}
	}
	if !hasID {
		cols = append([]string{d.cfg.IDColumn}, cols...)
	}
	quoted := make([]string, len(cols))
	for i, col := range cols {
		quoted[i] = pq.QuoteIdentifier(col)
	}
	return strings.Join(quoted, ", ")
}

// Iterate walks the table in id order, batchSize rows at a time. A nil
// scope covers the whole table; a []string scope covers exactly those
// ids, with missing ids yielded as deletes.
func (d *DataSource) Iterate(ctx context.Context, scope domain.Scope, batchSize int, fn func(driven.Batch) error) error {
	if ids, ok := scope.([]string); ok {
		return d.iterateIDs(ctx, ids, batchSize, fn)
	}
	if scope != nil {
		return fmt.Errorf("%w: unsupported scope %T", domain.ErrInvalidConfig, scope)
	}

	query := fmt.Sprintf(
		`SELECT %s FROM %s WHERE %s::text > $1 ORDER BY %s::text LIMIT $2`,
		d.selectList(),
		pq.QuoteIdentifier(d.cfg.Table),
		pq.QuoteIdentifier(d.cfg.IDColumn),
		pq.QuoteIdentifier(d.cfg.IDColumn),
	)

	cursor := ""
	for {
		rows, err := d.db.QueryContext(ctx, query, cursor, batchSize)
		if err != nil {
			return fmt.Errorf("failed to query %s: %w", d.cfg.Table, err)
		}

		batch, last, err := d.collectBatch(rows)
		rows.Close()
		if err != nil {
			return err
		}
		if last == "" {
			return nil
		}

		if !batch.Empty() {
			if err := fn(batch); err != nil {
				return err
			}
		}
		cursor = last
	}
}

func (d *DataSource) iterateIDs(ctx context.Context, ids []string, batchSize int, fn func(driven.Batch) error) error {
	seen := make(map[string]bool, len(ids))

	query := fmt.Sprintf(
		`SELECT %s FROM %s WHERE %s::text = ANY($1)`,
		d.selectList(),
		pq.QuoteIdentifier(d.cfg.Table),
		pq.QuoteIdentifier(d.cfg.IDColumn),
	)

	for start := 0; start < len(ids); start += batchSize {
		end := start + batchSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		rows, err := d.db.QueryContext(ctx, query, pq.Array(chunk))
		if err != nil {
			return fmt.Errorf("failed to query %s: %w", d.cfg.Table, err)
		}
		batch, _, err := d.collectBatch(rows)
		rows.Close()
		if err != nil {
			return err
		}

		for _, obj := range batch.Upserts {
			seen[objectID(obj, d.cfg.IDColumn)] = true
		}
		for _, obj := range batch.Deletes {
			seen[objectID(obj, d.cfg.IDColumn)] = true
		}

		// Ids with no backing row are gone from the table; yield them as
		// deletes so the documents follow.
		for _, id := range chunk {
			if !seen[id] {
				batch.Deletes = append(batch.Deletes, id)
			}
		}

		if !batch.Empty() {
			if err := fn(batch); err != nil {
				return err
			}
		}
	}
	return nil
}

// collectBatch scans rows into row maps, partitioning soft-deleted rows
// into deletes. Returns the last id seen for keyset pagination.
func (d *DataSource) collectBatch(rows rowScanner) (driven.Batch, string, error) {
	var batch driven.Batch
	var last string

	cols, err := rows.Columns()
	if err != nil {
		return batch, "", fmt.Errorf("failed to read columns: %w", err)
	}

	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return batch, "", fmt.Errorf("failed to scan row: %w", err)
		}

		obj := make(map[string]any, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				obj[col] = string(b)
				continue
			}
			obj[col] = values[i]
		}

		id := objectID(obj, d.cfg.IDColumn)
		if id > last {
			last = id
		}

		if d.cfg.DeletedColumn != "" {
			if deleted, ok := obj[d.cfg.DeletedColumn].(bool); ok && deleted {
				batch.Deletes = append(batch.Deletes, obj)
				continue
			}
		}
		batch.Upserts = append(batch.Upserts, obj)
	}
	if err := rows.Err(); err != nil {
		return batch, "", fmt.Errorf("row iteration failed: %w", err)
	}
	return batch, last, nil
}

// Identify derives document ids from row maps (or raw id strings).
func (d *DataSource) Identify(objects []any) []string {
	ids := make([]string, len(objects))
	for i, obj := range objects {
		ids[i] = objectID(obj, d.cfg.IDColumn)
	}
	return ids
}

// Load fetches row maps by id, skipping ids with no backing row.
func (d *DataSource) Load(ctx context.Context, ids []string) ([]any, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(
		`SELECT %s FROM %s WHERE %s::text = ANY($1)`,
		d.selectList(),
		pq.QuoteIdentifier(d.cfg.Table),
		pq.QuoteIdentifier(d.cfg.IDColumn),
	)

	rows, err := d.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to load from %s: %w", d.cfg.Table, err)
	}
	defer rows.Close()

	batch, _, err := d.collectBatch(rows)
	if err != nil {
		return nil, err
	}
	return append(batch.Upserts, batch.Deletes...), nil
}

// rowScanner is the subset of *sql.Rows collectBatch needs.
type rowScanner interface {
	Columns() ([]string, error)
	Next() bool
	Scan(dest ...any) error
	Err() error
}

// objectID extracts the id column from a row map as text. Raw strings
// pass through so deletes by bare id stay identifiable.
func objectID(obj any, idColumn string) string {
	switch v := obj.(type) {
	case map[string]any:
		switch id := v[idColumn].(type) {
		case string:
			return id
		case int64:
			return fmt.Sprintf("%d", id)
		case nil:
			return ""
		default:
			return fmt.Sprintf("%v", id)
		}
	case string:
		return v
	default:
		return ""
	}
}
