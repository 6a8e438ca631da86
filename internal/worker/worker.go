// Package worker drives one run: optional query execution, extraction of
// the results table and the artifact write.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"queryworker/internal/artifact"
	"queryworker/internal/extract"
	"queryworker/internal/metrics"
	"queryworker/internal/params"
	"queryworker/internal/storage"
)

// State is a step of a run.
type State string

const (
	StateParamsLoaded     State = "params_loaded"
	StateQuerySkipped     State = "query_skipped"
	StateQueryExecuted    State = "query_executed"
	StateResultsExtracted State = "results_extracted"
	StateArtifactWritten  State = "artifact_written"
	StateFailed           State = "failed"
)

// Report summarizes a run.
type Report struct {
	RunID    string
	Mode     string
	Strategy string
	States   []State
	Records  int
	Artifact string
	Failure  string
}

// OpenFunc opens the tabular data source.
type OpenFunc func(ctx context.Context, cfg storage.Config) (storage.Reader, error)

// Options configures a Worker.
type Options struct {
	// Engine is only used in production mode.
	Engine Engine
	// Open defaults to storage.Open.
	Open   OpenFunc
	Logger *slog.Logger
	// RunID defaults to a random UUID.
	RunID string
}

type Worker struct {
	engine Engine
	open   OpenFunc
	logger *slog.Logger
	runID  string
}

func New(opts Options) *Worker {
	w := &Worker{engine: opts.Engine, open: opts.Open, logger: opts.Logger, runID: opts.RunID}
	if w.open == nil {
		w.open = storage.Open
	}
	if w.logger == nil {
		w.logger = slog.New(slog.DiscardHandler)
	}
	if w.runID == "" {
		w.runID = uuid.NewString()
	}
	return w
}

// Run executes the pipeline once. The returned error is one of
// *params.ConfigurationError, *QueryExecutionError, *DataAccessError or
// *PersistenceError; ExitCode maps it to the process exit code.
func (w *Worker) Run(ctx context.Context, cfg params.Config) (Report, error) {
	rep := Report{RunID: w.runID, Mode: cfg.Mode.String(), Strategy: cfg.Strategy.String()}
	logger := w.logger.With("run_id", w.runID, "job", cfg.JobName)

	enter := func(s State) {
		rep.States = append(rep.States, s)
		logger.Info("state", "event", "state", "state", string(s))
	}
	fail := func(err error) (Report, error) {
		rep.Failure = err.Error()
		rep.States = append(rep.States, StateFailed)
		logger.Error("state", "event", "state", "state", string(StateFailed), "reason", err.Error(), "exit_code", ExitCode(err))
		return rep, err
	}

	issues := append(params.Validate(cfg), params.ValidateProduction(cfg)...)
	if errs := params.Errors(issues); len(errs) > 0 {
		return fail(&params.ConfigurationError{Issues: errs})
	}
	enter(StateParamsLoaded)
	logger.Info("params", "mode", rep.Mode, "strategy", rep.Strategy,
		"source_kind", cfg.DataSource.Kind, "source", cfg.DataSource.Location, "output", cfg.OutputPath)

	if cfg.Mode == params.ModeDevelopment {
		enter(StateQuerySkipped)
	} else {
		start := time.Now()
		ok, diag := Executor{Engine: w.engine, Logger: logger}.Execute(ctx, cfg)
		if !ok {
			err := &QueryExecutionError{Diagnostic: diag}
			metrics.RecordStep(cfg.JobName, "query", err, time.Since(start))
			return fail(err)
		}
		metrics.RecordStep(cfg.JobName, "query", nil, time.Since(start))
		enter(StateQueryExecuted)
	}

	start := time.Now()
	ds, err := w.extract(ctx, cfg, logger)
	metrics.RecordStep(cfg.JobName, "extract", err, time.Since(start))
	if err != nil {
		return fail(err)
	}
	rep.Records = ds.Len()
	metrics.RecordRows(cfg.JobName, "extracted", int64(ds.Len()))
	enter(StateResultsExtracted)
	if ds.Len() == 0 {
		logger.Warn("no records extracted", "strategy", rep.Strategy)
	}

	start = time.Now()
	if err := artifact.Write(ds, cfg.OutputPath); err != nil {
		perr := &PersistenceError{Path: cfg.OutputPath, Err: err}
		metrics.RecordStep(cfg.JobName, "write", perr, time.Since(start))
		return fail(perr)
	}
	metrics.RecordStep(cfg.JobName, "write", nil, time.Since(start))
	metrics.RecordRows(cfg.JobName, "written", int64(ds.Len()))
	rep.Artifact = cfg.OutputPath
	enter(StateArtifactWritten)
	logger.Info("artifact written", "path", cfg.OutputPath, "records", ds.Len())

	return rep, nil
}

func (w *Worker) extract(ctx context.Context, cfg params.Config, logger *slog.Logger) (*extract.Dataset, error) {
	strategy, err := extract.For(cfg.Strategy, cfg.SampleLimit)
	if err != nil {
		return nil, &DataAccessError{Strategy: cfg.Strategy.String(), Err: err}
	}
	open := func(ctx context.Context) (storage.Reader, error) {
		return w.open(ctx, storage.Config{Kind: cfg.DataSource.Kind, DSN: cfg.DataSource.Location})
	}
	ds, err := extract.New(open, extract.Options{Logger: logger}).Extract(ctx, strategy)
	if err != nil {
		return nil, &DataAccessError{Strategy: strategy.Kind.String(), Err: err}
	}
	return ds, nil
}
