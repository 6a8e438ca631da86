// Package extract turns the results table into a keyed dataset according to
// a declarative Strategy.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"queryworker/internal/storage"
)

// ResultsTable is the table every strategy reads from.
const ResultsTable = "results"

var (
	ErrNullKey       = errors.New("null key")
	ErrMissingColumn = errors.New("missing column")
)

// Opener acquires a read-only connection to the data source.
type Opener func(ctx context.Context) (storage.Reader, error)

// Options configures an Extractor.
type Options struct {
	// Table overrides ResultsTable.
	Table  string
	Logger *slog.Logger
}

// Extractor runs strategies against the data source.
type Extractor struct {
	open   Opener
	table  string
	logger *slog.Logger
}

func New(open Opener, opts Options) *Extractor {
	if opts.Table == "" {
		opts.Table = ResultsTable
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Extractor{open: open, table: opts.Table, logger: opts.Logger}
}

// Extract opens a connection, issues exactly one SELECT for s, and builds the
// dataset. The connection is closed on every return path.
func (e *Extractor) Extract(ctx context.Context, s Strategy) (ds *Dataset, err error) {
	r, err := e.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("extract: open: %w", err)
	}
	defer func() {
		if cerr := r.Close(); cerr != nil && err == nil {
			ds, err = nil, fmt.Errorf("extract: close: %w", cerr)
		}
	}()

	rs, err := r.Select(ctx, storage.Selection{
		Table:   e.table,
		Columns: s.selectColumns(),
		Limit:   s.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("extract: %s: %w", s.Kind, err)
	}

	ds, err = build(s, rs)
	if err != nil {
		return nil, fmt.Errorf("extract: %s: %w", s.Kind, err)
	}
	e.logger.Debug("extracted", "strategy", s.Kind.String(), "rows", len(rs.Rows), "records", ds.Len())
	return ds, nil
}

type projected struct {
	name string
	idx  int
}

func build(s Strategy, rs *storage.RowSet) (*Dataset, error) {
	keyIdx := -1
	if !s.Key.Synthetic() {
		keyIdx = columnIndex(rs.Columns, s.Key.Column)
		if keyIdx < 0 {
			return nil, fmt.Errorf("%w %q", ErrMissingColumn, s.Key.Column)
		}
	}

	var fields []projected
	if len(s.Columns) == 0 {
		for i, c := range rs.Columns {
			if i == keyIdx && !s.Key.Keep {
				continue
			}
			fields = append(fields, projected{name: c, idx: i})
		}
	} else {
		for _, c := range s.Columns {
			i := columnIndex(rs.Columns, c.Source)
			if i < 0 {
				return nil, fmt.Errorf("%w %q", ErrMissingColumn, c.Source)
			}
			fields = append(fields, projected{name: c.As, idx: i})
		}
	}

	ds := NewDataset()
	for n, row := range rs.Rows {
		key := strconv.Itoa(n)
		if keyIdx >= 0 {
			key = storage.NormalizeKey(row[keyIdx])
			if key == "" {
				return nil, fmt.Errorf("row %d: %w in %s", n, ErrNullKey, s.Key.Column)
			}
		}
		rec := make(Record, len(fields))
		for i, f := range fields {
			rec[i] = Field{Name: f.name, Value: row[f.idx]}
		}
		if err := ds.Add(key, rec); err != nil {
			return nil, fmt.Errorf("row %d: %w", n, err)
		}
	}
	return ds, nil
}

// columnIndex prefers an exact match and falls back to a case-insensitive one.
func columnIndex(cols []string, name string) int {
	for i, c := range cols {
		if c == name {
			return i
		}
	}
	for i, c := range cols {
		if strings.EqualFold(c, name) {
			return i
		}
	}
	return -1
}
