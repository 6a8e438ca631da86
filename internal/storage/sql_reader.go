package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// BuildFunc renders a Selection into dialect-specific SQL.
type BuildFunc func(sel Selection) (string, error)

// SQLReader is a Reader over database/sql, shared by backends whose drivers
// register with database/sql (sqlite, mssql). The dialect only decides how a
// Selection is rendered.
type SQLReader struct {
	db    *sql.DB
	build BuildFunc
}

// NewSQLReader wraps an open *sql.DB. The reader owns db and closes it in Close.
func NewSQLReader(db *sql.DB, build BuildFunc) *SQLReader {
	return &SQLReader{db: db, build: build}
}

// Select implements Reader.
func (r *SQLReader) Select(ctx context.Context, sel Selection) (*RowSet, error) {
	q, err := r.build(sel)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", sel.Table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns %s: %w", sel.Table, err)
	}

	out := &RowSet{Columns: cols}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", sel.Table, err)
		}
		for i := range vals {
			vals[i] = NormalizeValue(vals[i])
		}
		out.Rows = append(out.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", sel.Table, err)
	}
	return out, nil
}

// Close implements Reader.
func (r *SQLReader) Close() error {
	return r.db.Close()
}

var _ Reader = (*SQLReader)(nil)
