// Package sqlite reads the query results file produced by the QueryEngine.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"queryworker/internal/storage"
)

func init() {
	storage.Register("sqlite", Open)
}

// Open opens cfg.DSN read-only. A plain path is turned into a "file:" URI
// with mode=ro; a DSN that already starts with "file:" is used as is.
func Open(ctx context.Context, cfg storage.Config) (storage.Reader, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("sqlite: empty database path")
	}
	db, err := sql.Open("sqlite", readOnlyDSN(cfg.DSN))
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite ping %s: %w", cfg.DSN, err)
	}
	return storage.NewSQLReader(db, buildSelect), nil
}

var uriEscaper = strings.NewReplacer("%", "%25", "?", "%3f", "#", "%23")

func readOnlyDSN(dsn string) string {
	if strings.HasPrefix(dsn, "file:") {
		return dsn
	}
	return "file:" + uriEscaper.Replace(dsn) + "?mode=ro"
}

func buildSelect(sel storage.Selection) (string, error) {
	if sel.Table == "" {
		return "", fmt.Errorf("sqlite: empty table name")
	}
	var b strings.Builder
	b.WriteString("SELECT ")
	if len(sel.Columns) == 0 {
		b.WriteString("*")
	}
	for i, c := range sel.Columns {
		if c == "" {
			return "", fmt.Errorf("sqlite: empty column name at %d", i)
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(sqlIdent(c))
	}
	b.WriteString(" FROM ")
	b.WriteString(sqlIdent(sel.Table))
	if sel.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", sel.Limit)
	}
	return b.String(), nil
}

func sqlIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}
