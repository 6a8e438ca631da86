// Package postgres reads the results table from PostgreSQL through pgx.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"queryworker/internal/storage"
)

func init() {
	storage.Register("postgres", Open)
}

// Reader runs each Select inside a read-only transaction.
type Reader struct {
	pool *pgxpool.Pool
}

// Open connects to cfg.DSN and verifies the connection with a ping.
func Open(ctx context.Context, cfg storage.Config) (storage.Reader, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return &Reader{pool: pool}, nil
}

// Select implements storage.Reader.
func (r *Reader) Select(ctx context.Context, sel storage.Selection) (*storage.RowSet, error) {
	q, err := buildSelect(sel)
	if err != nil {
		return nil, err
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", sel.Table, err)
	}
	defer rows.Close()

	fds := rows.FieldDescriptions()
	out := &storage.RowSet{Columns: make([]string, len(fds))}
	for i, fd := range fds {
		out.Columns[i] = fd.Name
	}
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", sel.Table, err)
		}
		for i := range vals {
			vals[i] = storage.NormalizeValue(vals[i])
		}
		out.Rows = append(out.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", sel.Table, err)
	}
	return out, nil
}

// Close implements storage.Reader.
func (r *Reader) Close() error {
	r.pool.Close()
	return nil
}

func buildSelect(sel storage.Selection) (string, error) {
	if sel.Table == "" {
		return "", fmt.Errorf("postgres: empty table name")
	}
	cols := "*"
	if len(sel.Columns) > 0 {
		quoted := make([]string, len(sel.Columns))
		for i, c := range sel.Columns {
			if c == "" {
				return "", fmt.Errorf("postgres: empty column name at %d", i)
			}
			quoted[i] = pgIdent(c)
		}
		cols = strings.Join(quoted, ", ")
	}
	q := "SELECT " + cols + " FROM " + pgIdent(sel.Table)
	if sel.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", sel.Limit)
	}
	return q, nil
}

func pgIdent(id string) string {
	return pgx.Identifier{id}.Sanitize()
}
