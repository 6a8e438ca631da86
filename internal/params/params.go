// Package params resolves the worker's run parameters.
//
// Parameters come from layered sources, lowest precedence first: built-in
// defaults, an optional YAML params file, the process environment, and
// explicit overrides (command-line flags). Keys are the lowercase form of the
// environment variable names, so DB_PATH in the environment and db_path in a
// params file address the same setting.
//
// The result is an immutable Config. Validation runs inside Load, before any
// I/O happens on the data source or the query engine.
package params

import (
	"strings"
	"time"

	"queryworker/internal/extract"
)

// Mode selects whether the worker triggers a remote query.
type Mode int

const (
	// ModeProduction calls the query engine before extracting.
	ModeProduction Mode = iota
	// ModeDevelopment reads an existing data source as is.
	ModeDevelopment
)

func (m Mode) String() string {
	if m == ModeDevelopment {
		return "development"
	}
	return "production"
}

// DataSource locates the tabular results.
type DataSource struct {
	Kind     string // sqlite, postgres or mssql
	Location string // file path for sqlite, DSN otherwise
}

// Config holds the resolved run parameters.
type Config struct {
	Mode       Mode
	DataSource DataSource

	Query          string
	QuerySignature string
	ComputeJobID   string
	DataRefinerID  string
	QueryParams    map[string]any

	QueryEngineURL     string
	QueryEngineTimeout time.Duration

	OutputPath  string
	Strategy    extract.Kind
	SampleLimit int
	JobName     string
}

// Keys of the parameter namespace.
const (
	KeyDevMode            = "dev_mode"
	KeyDBKind             = "db_kind"
	KeyDBPath             = "db_path"
	KeyQuery              = "query"
	KeyQuerySignature     = "query_signature"
	KeyComputeJobID       = "compute_job_id"
	KeyDataRefinerID      = "data_refiner_id"
	KeyQueryParams        = "query_params"
	KeyQueryEngineURL     = "query_engine_url"
	KeyQueryEngineTimeout = "query_engine_timeout"
	KeyOutputPath         = "output_path"
	KeyExtractStrategy    = "extract_strategy"
	KeySampleLimit        = "sample_limit"
	KeyJobName            = "job_name"
)

// Defaults are the lowest-precedence layer.
var Defaults = map[string]any{
	KeyDevMode:            "false",
	KeyDBKind:             "sqlite",
	KeyDBPath:             "/mnt/input/query_results.db",
	KeyQueryParams:        "{}",
	KeyQueryEngineTimeout: "10m",
	KeyOutputPath:         "/mnt/output/stats.json",
	KeyExtractStrategy:    "chats",
	KeySampleLimit:        "10",
	KeyJobName:            "query_worker",
}

var knownKeys = map[string]bool{
	KeyDevMode: true, KeyDBKind: true, KeyDBPath: true, KeyQuery: true,
	KeyQuerySignature: true, KeyComputeJobID: true, KeyDataRefinerID: true,
	KeyQueryParams: true, KeyQueryEngineURL: true, KeyQueryEngineTimeout: true,
	KeyOutputPath: true, KeyExtractStrategy: true, KeySampleLimit: true, KeyJobName: true,
}

// EnvName returns the environment variable for a parameter key.
func EnvName(key string) string {
	return strings.ToUpper(key)
}
