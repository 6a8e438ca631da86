// Package storage is the read side of the worker: a backend-agnostic view of
// the tabular data source that holds the query results.
//
// Backends register themselves under a kind ("sqlite", "postgres", "mssql")
// from an init function; callers pick one at runtime through Open. Importing
// queryworker/internal/storage/all wires every backend.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Config selects a backend and tells it where the data lives.
//
// DSN is backend-specific: a file path for sqlite, a connection string for
// postgres and mssql.
type Config struct {
	Kind string
	DSN  string
}

// Selection is one ad hoc projection over a single table.
//
// A nil or empty Columns means every column ("SELECT *"). Limit <= 0 means
// no row limit.
type Selection struct {
	Table   string
	Columns []string
	Limit   int
}

// RowSet is a fully materialized query result. Rows[i][j] holds the driver
// value for Columns[j]; values are already passed through NormalizeValue.
type RowSet struct {
	Columns []string
	Rows    [][]any
}

// Reader is the read-only connection a pipeline run holds for the duration of
// a single extraction.
type Reader interface {
	// Select runs exactly one query built from sel and materializes all rows.
	Select(ctx context.Context, sel Selection) (*RowSet, error)

	// Close releases the connection. Call it once, on every exit path.
	Close() error
}

// Factory opens a Reader for a registered kind.
type Factory func(ctx context.Context, cfg Config) (Reader, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available under kind.
//
// Panics if kind is empty, f is nil, or kind is already registered.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// Open constructs a Reader using the registered factory for cfg.Kind.
func Open(ctx context.Context, cfg Config) (Reader, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("storage: unsupported kind=%s (registered: %v)", cfg.Kind, Kinds())
	}
	return f(ctx, cfg)
}

// Kinds lists registered backend kinds in sorted order.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
