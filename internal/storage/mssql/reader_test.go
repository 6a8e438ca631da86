package mssql

import (
	"context"
	"strings"
	"testing"

	"queryworker/internal/storage"
)

func TestBuildSelect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		sel     storage.Selection
		want    string
		wantErr bool
	}{
		{name: "star", sel: storage.Selection{Table: "results"}, want: `SELECT * FROM [results]`},
		{name: "top", sel: storage.Selection{Table: "results", Columns: []string{"SenderID"}, Limit: 10}, want: `SELECT TOP (10) [SenderID] FROM [results]`},
		{name: "bracket_escape", sel: storage.Selection{Table: "a]b"}, want: `SELECT * FROM [a]]b]`},
		{name: "empty_table", sel: storage.Selection{}, wantErr: true},
	}
	for _, tc := range tests {
		got, err := buildSelect(tc.sel)
		if (err != nil) != tc.wantErr {
			t.Fatalf("%s: err=%v, wantErr=%v", tc.name, err, tc.wantErr)
		}
		if got != tc.want {
			t.Fatalf("%s: got %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestOpen_RejectsMalformedDSN(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), storage.Config{Kind: "mssql", DSN: "sqlserver://%zz"})
	if err == nil || !strings.Contains(err.Error(), "mssql dsn") {
		t.Fatalf("err=%v, want dsn validation error", err)
	}
}
