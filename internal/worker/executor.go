package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"queryworker/internal/params"
	"queryworker/internal/queryengine"
)

// Engine runs a query remotely.
type Engine interface {
	ExecuteQuery(ctx context.Context, req queryengine.Request) queryengine.Outcome
}

// Executor runs the production query step.
type Executor struct {
	Engine Engine
	Logger *slog.Logger
}

// Execute validates the production parameters, calls the engine exactly
// once and reports whether the results are ready. On failure the second
// value is a human-readable diagnostic.
func (x Executor) Execute(ctx context.Context, cfg params.Config) (bool, string) {
	logger := x.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if errs := params.Errors(params.ValidateProduction(cfg)); len(errs) > 0 {
		return false, (&params.ConfigurationError{Issues: errs}).Error()
	}
	if x.Engine == nil {
		return false, "Error executing query: no query engine configured"
	}

	logger.Info("executing query", "compute_job_id", cfg.ComputeJobID, "refiner_id", cfg.DataRefinerID)
	out := x.Engine.ExecuteQuery(ctx, queryengine.Request{
		Query:          cfg.Query,
		Signature:      cfg.QuerySignature,
		ComputeJobID:   cfg.ComputeJobID,
		RefinerID:      cfg.DataRefinerID,
		Params:         cfg.QueryParams,
		SourceLocation: cfg.DataSource.Location,
	})
	if out.Success {
		logger.Info("query executed", "source", cfg.DataSource.Location)
		return true, ""
	}
	return false, Diagnostic(out)
}

// Diagnostic formats a failed outcome.
func Diagnostic(out queryengine.Outcome) string {
	var b strings.Builder
	b.WriteString("Error executing query: ")
	b.WriteString(out.Error)
	if out.StatusCode != nil && *out.StatusCode != 0 {
		fmt.Fprintf(&b, " (Status code: %d)", *out.StatusCode)
	}
	if !empty(out.Data) {
		data, err := json.MarshalIndent(out.Data, "", "  ")
		if err != nil {
			data = []byte(fmt.Sprintf("%v", out.Data))
		}
		b.WriteString("\nResponse data: ")
		b.Write(data)
	}
	return b.String()
}

func empty(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.String:
		return rv.Len() == 0
	case reflect.Bool:
		return !rv.Bool()
	}
	return false
}
