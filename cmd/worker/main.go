// Command worker runs one query-result extraction: it loads its parameters,
// asks the query engine to execute the query (production mode only), reads
// the results table and writes the selected projection as a JSON artifact.
//
// Exit codes: 0 success, 1 invalid parameters or usage, 2 query execution
// failed, 3 any other failure. On success the artifact path is printed to
// stdout; everything else goes to stderr as structured logs.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"queryworker/internal/metrics"
	"queryworker/internal/metrics/datadog"
	"queryworker/internal/params"
	"queryworker/internal/queryengine"
	"queryworker/internal/worker"

	// register every data source kind; DB_KIND picks one at runtime.
	_ "queryworker/internal/storage/all"
)

type runner interface {
	Run(ctx context.Context, cfg params.Config) (worker.Report, error)
}

type metricsBackend interface {
	Close() error
}

// appDeps are the seams runMain depends on.
type appDeps struct {
	loadParams  func(opts params.LoadOptions) (params.Config, []params.Issue, error)
	initMetrics func(ctx context.Context, logger *slog.Logger, jobName, backendName, runID string) (func(), error)
	newRunner   func(cfg params.Config, logger *slog.Logger, runID string) runner
	newRunID    func() string
}

var (
	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (metricsBackend, error) {
		return datadog.NewBackend(ctx, opts)
	}
	setMetricsBackend = func(b any) {
		if mb, ok := b.(metrics.Backend); ok {
			metrics.SetBackend(mb)
		}
	}
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}

func defaultDeps() appDeps {
	return appDeps{
		loadParams:  params.Load,
		initMetrics: initMetrics,
		newRunner:   newRunner,
		newRunID:    uuid.NewString,
	}
}

func newRunner(cfg params.Config, logger *slog.Logger, runID string) runner {
	engine := queryengine.New(queryengine.Options{
		BaseURL:     cfg.QueryEngineURL,
		Timeout:     cfg.QueryEngineTimeout,
		StoreResult: cfg.DataSource.Kind == "sqlite",
		Logger:      logger,
		Job:         cfg.JobName,
	})
	return worker.New(worker.Options{Engine: engine, Logger: logger, RunID: runID})
}

func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	fs := flag.NewFlagSet("worker", flag.ContinueOnError)
	fs.SetOutput(stderr)

	paramsFile := fs.String("params", "", "optional YAML params file (environment variables override it)")
	metricsBackendFlg := fs.String("metrics-backend", os.Getenv("METRICS_BACKEND"), "metrics backend to use (none|datadog)")
	strategy := fs.String("strategy", "", "extraction strategy; overrides EXTRACT_STRATEGY")
	output := fs.String("output", "", "artifact path; overrides OUTPUT_PATH")
	validate := fs.Bool("validate", false, "validate the parameters and exit")
	verbose := fs.Bool("v", false, "enable debug logs")
	logFormat := fs.String("log-format", "text", "log format (text|json)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return worker.ExitOK
		}
		return worker.ExitConfiguration
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "usage: worker [flags]; unexpected arguments: %v\n", fs.Args())
		return worker.ExitConfiguration
	}

	logger, err := newLogger(stderr, *logFormat, *verbose)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return worker.ExitConfiguration
	}

	overrides := map[string]any{}
	if s := strings.TrimSpace(*strategy); s != "" {
		overrides[params.KeyExtractStrategy] = s
	}
	if s := strings.TrimSpace(*output); s != "" {
		overrides[params.KeyOutputPath] = s
	}

	cfg, issues, err := deps.loadParams(params.LoadOptions{File: *paramsFile, Overrides: overrides})
	for _, iss := range issues {
		level := slog.LevelWarn
		if iss.Severity == params.SeverityError {
			level = slog.LevelError
		}
		logger.Log(ctx, level, "parameter issue", "path", iss.Path, "message", iss.Message)
	}
	if err != nil {
		logger.Error("invalid parameters", "err", err)
		return worker.ExitConfiguration
	}
	if *validate {
		logger.Info("parameters are valid", "mode", cfg.Mode.String(), "strategy", cfg.Strategy.String())
		return worker.ExitOK
	}

	runID := deps.newRunID()
	cleanup, err := deps.initMetrics(ctx, logger, cfg.JobName, *metricsBackendFlg, runID)
	defer cleanup()
	if err != nil {
		logger.Error("metrics init failed", "err", err)
		return worker.ExitOther
	}

	start := time.Now()
	rep, err := deps.newRunner(cfg, logger, runID).Run(ctx, cfg)
	if err != nil {
		code := worker.ExitCode(err)
		logger.Error("run failed", "run_id", runID, "exit_code", code, "err", err)
		return code
	}

	logger.Debug("completed", "run_id", runID, "records", rep.Records,
		"elapsed", time.Since(start).Truncate(time.Millisecond).String())
	fmt.Fprintln(stdout, rep.Artifact)
	return worker.ExitOK
}

func newLogger(w io.Writer, format string, verbose bool) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if verbose {
		opts.Level = slog.LevelDebug
	}
	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q (want text|json)", format)
	}
}

// initMetrics wires the selected backend into the metrics package. The
// returned cleanup is never nil and flushes the backend on exit; a flush
// failure is logged to logger.
func initMetrics(ctx context.Context, logger *slog.Logger, jobName, backendName, runID string) (func(), error) {
	switch strings.ToLower(strings.TrimSpace(backendName)) {
	case "", "none", "nop", "noop":
		return func() {}, nil

	case "datadog", "dd":
		tags := datadog.ParseTagsCSV(os.Getenv("METRICS_TAGS"))
		if runID != "" {
			tags = append(tags, "run_id:"+runID)
		}
		b, err := newDatadogBackend(ctx, datadog.Options{
			JobName:    jobName,
			Tags:       tags,
			FlushEvery: 60 * time.Second,
		})
		if err != nil {
			return func() {}, fmt.Errorf("metrics: init datadog backend: %w", err)
		}
		setMetricsBackend(b)
		return func() {
			if err := b.Close(); err != nil {
				logger.Warn("metrics close failed", "backend", "datadog", "err", err)
			}
		}, nil

	default:
		return func() {}, fmt.Errorf("unknown metrics backend %q (want none|datadog)", backendName)
	}
}
