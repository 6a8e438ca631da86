// Package mssql reads the results table from Microsoft SQL Server.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"

	"queryworker/internal/storage"
)

func init() {
	storage.Register("mssql", Open)
}

// Open validates cfg.DSN, connects with the "sqlserver" driver and pings.
func Open(ctx context.Context, cfg storage.Config) (storage.Reader, error) {
	if _, err := msdsn.Parse(cfg.DSN); err != nil {
		return nil, fmt.Errorf("mssql dsn: %w", err)
	}
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return storage.NewSQLReader(db, buildSelect), nil
}

func buildSelect(sel storage.Selection) (string, error) {
	if sel.Table == "" {
		return "", fmt.Errorf("mssql: empty table name")
	}
	var b strings.Builder
	b.WriteString("SELECT ")
	if sel.Limit > 0 {
		fmt.Fprintf(&b, "TOP (%d) ", sel.Limit)
	}
	if len(sel.Columns) == 0 {
		b.WriteString("*")
	}
	for i, c := range sel.Columns {
		if c == "" {
			return "", fmt.Errorf("mssql: empty column name at %d", i)
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(msIdent(c))
	}
	b.WriteString(" FROM ")
	b.WriteString(msIdent(sel.Table))
	return b.String(), nil
}

// msIdent brackets an identifier, doubling any closing bracket.
func msIdent(id string) string {
	return "[" + strings.ReplaceAll(id, "]", "]]") + "]"
}
