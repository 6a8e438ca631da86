package worker

import (
	"errors"
	"fmt"

	"queryworker/internal/params"
)

// Process exit codes.
const (
	ExitOK            = 0
	ExitConfiguration = 1
	ExitQuery         = 2
	ExitOther         = 3
)

// QueryExecutionError means the query engine did not produce results.
type QueryExecutionError struct {
	Diagnostic string
}

func (e *QueryExecutionError) Error() string {
	return "query execution failed: " + e.Diagnostic
}

// DataAccessError wraps a failure reading the results table.
type DataAccessError struct {
	Strategy string
	Err      error
}

func (e *DataAccessError) Error() string {
	return fmt.Sprintf("data access (%s): %v", e.Strategy, e.Err)
}

func (e *DataAccessError) Unwrap() error { return e.Err }

// PersistenceError wraps a failure writing the artifact.
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ExitCode maps a Run error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ce *params.ConfigurationError
	if errors.As(err, &ce) {
		return ExitConfiguration
	}
	var qe *QueryExecutionError
	if errors.As(err, &qe) {
		return ExitQuery
	}
	return ExitOther
}
