package worker

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"queryworker/internal/extract"
	"queryworker/internal/params"
	"queryworker/internal/queryengine"
	"queryworker/internal/storage"
	_ "queryworker/internal/storage/sqlite"
)

type fakeEngine struct {
	calls   atomic.Int32
	outcome queryengine.Outcome
}

func (f *fakeEngine) ExecuteQuery(context.Context, queryengine.Request) queryengine.Outcome {
	f.calls.Add(1)
	return f.outcome
}

var resultColumns = []string{
	"UserID", "Source", "Status", "SubmissionChatID", "FirstMessageDate", "LastMessageDate",
	"ParticipantCount", "SubmissionID", "SubmissionDate", "SubmissionReference", "SenderID",
}

// seedDB creates a results table with n distinct rows.
func seedDB(t *testing.T, n int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "query_results.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(`CREATE TABLE results (
		UserID TEXT, Source TEXT, Status TEXT, SubmissionChatID TEXT,
		FirstMessageDate TEXT, LastMessageDate TEXT, ParticipantCount INTEGER,
		SubmissionID TEXT, SubmissionDate TEXT, SubmissionReference TEXT, SenderID TEXT)`); err != nil {
		t.Fatalf("create: %v", err)
	}
	for i := 0; i < n; i++ {
		id := string(rune('a' + i))
		if _, err := db.Exec(`INSERT INTO results VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
			"u-"+id, "web", "active", "chat-"+id, "2024-01-01", "2024-01-02", i+1,
			"sub-"+id, "2024-01-03", "ref-"+id, "sender-"+id); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	return path
}

func devConfig(t *testing.T, dbPath string, kind extract.Kind) params.Config {
	t.Helper()
	return params.Config{
		Mode:        params.ModeDevelopment,
		DataSource:  params.DataSource{Kind: "sqlite", Location: dbPath},
		QueryParams: map[string]any{},
		OutputPath:  filepath.Join(t.TempDir(), "out", "stats.json"),
		Strategy:    kind,
		SampleLimit: 10,
		JobName:     "query_worker",
	}
}

func prodConfig(t *testing.T, dbPath string) params.Config {
	t.Helper()
	cfg := devConfig(t, dbPath, extract.KindChats)
	cfg.Mode = params.ModeProduction
	cfg.Query = "SELECT * FROM chats"
	cfg.QuerySignature = "sig"
	cfg.ComputeJobID = "1"
	cfg.DataRefinerID = "2"
	cfg.QueryEngineURL = "http://engine.local"
	return cfg
}

func readArtifact(t *testing.T, path string) map[string]map[string]any {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	var out map[string]map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("artifact is not a JSON object of objects: %v\n%s", err, b)
	}
	return out
}

func assertNoArtifact(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("artifact %s exists (stat err=%v)", path, err)
	}
}

func TestRun_DevelopmentSkipsEngine(t *testing.T) {
	t.Parallel()

	fe := &fakeEngine{}
	cfg := devConfig(t, seedDB(t, 2), extract.KindChats)

	rep, err := New(Options{Engine: fe}).Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run err=%v", err)
	}
	if n := fe.calls.Load(); n != 0 {
		t.Fatalf("engine calls=%d, want 0", n)
	}
	want := []State{StateParamsLoaded, StateQuerySkipped, StateResultsExtracted, StateArtifactWritten}
	if !reflect.DeepEqual(rep.States, want) {
		t.Fatalf("states=%v, want %v", rep.States, want)
	}
	if rep.Records != 2 || rep.Artifact != cfg.OutputPath || rep.RunID == "" {
		t.Fatalf("report=%+v", rep)
	}

	got := readArtifact(t, cfg.OutputPath)
	if got["chat-a"]["ParticipantCount"] != float64(1) || got["chat-b"]["SubmissionChatID"] != "chat-b" {
		t.Fatalf("artifact=%v", got)
	}
}

func TestRun_ProductionSuccessExtractsOnce(t *testing.T) {
	t.Parallel()

	code := 200
	fe := &fakeEngine{outcome: queryengine.Outcome{Success: true, StatusCode: &code}}
	var opens atomic.Int32
	open := func(ctx context.Context, c storage.Config) (storage.Reader, error) {
		opens.Add(1)
		return storage.Open(ctx, c)
	}
	cfg := prodConfig(t, seedDB(t, 3))

	rep, err := New(Options{Engine: fe, Open: open}).Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run err=%v", err)
	}
	if fe.calls.Load() != 1 || opens.Load() != 1 {
		t.Fatalf("engine calls=%d opens=%d, want 1 and 1", fe.calls.Load(), opens.Load())
	}
	if rep.States[1] != StateQueryExecuted {
		t.Fatalf("states=%v", rep.States)
	}
	if len(readArtifact(t, cfg.OutputPath)) != 3 {
		t.Fatalf("artifact records != 3")
	}
}

func TestRun_ProductionFailureTimeout(t *testing.T) {
	t.Parallel()

	code := 504
	fe := &fakeEngine{outcome: queryengine.Outcome{
		Error:      "timeout",
		StatusCode: &code,
		Data:       map[string]any{"success": false, "error": "timeout", "status_code": float64(504)},
	}}
	var opens atomic.Int32
	open := func(ctx context.Context, c storage.Config) (storage.Reader, error) {
		opens.Add(1)
		return storage.Open(ctx, c)
	}
	cfg := prodConfig(t, seedDB(t, 1))

	rep, err := New(Options{Engine: fe, Open: open}).Run(context.Background(), cfg)
	var qe *QueryExecutionError
	if !errors.As(err, &qe) {
		t.Fatalf("err=%v, want *QueryExecutionError", err)
	}
	if ExitCode(err) != ExitQuery {
		t.Fatalf("exit=%d, want %d", ExitCode(err), ExitQuery)
	}
	if !strings.Contains(qe.Diagnostic, "timeout") || !strings.Contains(qe.Diagnostic, "504") {
		t.Fatalf("diagnostic=%q", qe.Diagnostic)
	}
	if opens.Load() != 0 {
		t.Fatalf("extraction ran after query failure")
	}
	if rep.States[len(rep.States)-1] != StateFailed {
		t.Fatalf("states=%v, want trailing failed", rep.States)
	}
	assertNoArtifact(t, cfg.OutputPath)
}

func TestRun_ProductionMissingQuery(t *testing.T) {
	t.Parallel()

	fe := &fakeEngine{outcome: queryengine.Outcome{Success: true}}
	cfg := prodConfig(t, seedDB(t, 1))
	cfg.Query = "   "

	rep, err := New(Options{Engine: fe}).Run(context.Background(), cfg)
	if ExitCode(err) != ExitConfiguration {
		t.Fatalf("err=%v exit=%d, want %d", err, ExitCode(err), ExitConfiguration)
	}
	if fe.calls.Load() != 0 {
		t.Fatalf("engine called with invalid params")
	}
	if !reflect.DeepEqual(rep.States, []State{StateFailed}) {
		t.Fatalf("states=%v", rep.States)
	}
	assertNoArtifact(t, cfg.OutputPath)
}

func TestRun_EveryStrategyWritesJSONObject(t *testing.T) {
	t.Parallel()

	dbPath := seedDB(t, 4)
	for _, name := range extract.Names() {
		name := name
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			kind, _ := extract.ParseKind(name)
			cfg := devConfig(t, dbPath, kind)
			rep, err := New(Options{}).Run(context.Background(), cfg)
			if err != nil {
				t.Fatalf("Run err=%v", err)
			}
			got := readArtifact(t, cfg.OutputPath)
			if len(got) != rep.Records || rep.Records != 4 {
				t.Fatalf("records=%d artifact=%d, want 4", rep.Records, len(got))
			}
		})
	}
}

func TestRun_UsersStrategyShape(t *testing.T) {
	t.Parallel()

	cfg := devConfig(t, seedDB(t, 1), extract.KindUsers)
	if _, err := New(Options{}).Run(context.Background(), cfg); err != nil {
		t.Fatalf("Run err=%v", err)
	}
	want := map[string]map[string]any{"u-a": {"source": "web", "status": "active"}}
	if got := readArtifact(t, cfg.OutputPath); !reflect.DeepEqual(got, want) {
		t.Fatalf("artifact=%v, want %v", got, want)
	}
}

func TestRun_EmptyTableWritesEmptyObject(t *testing.T) {
	t.Parallel()

	cfg := devConfig(t, seedDB(t, 0), extract.KindSubmissions)
	rep, err := New(Options{}).Run(context.Background(), cfg)
	if err != nil || ExitCode(err) != ExitOK {
		t.Fatalf("Run err=%v", err)
	}
	b, _ := os.ReadFile(cfg.OutputPath)
	if string(b) != "{}" {
		t.Fatalf("artifact=%q, want {}", b)
	}
	if rep.Records != 0 {
		t.Fatalf("records=%d", rep.Records)
	}
}

func TestRun_DataAccessFailures(t *testing.T) {
	t.Parallel()

	dup := seedDB(t, 1)
	db, err := sql.Open("sqlite", dup)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO results (SubmissionID) VALUES ('sub-a')`); err != nil {
		t.Fatalf("insert dup: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO results (Source) VALUES ('orphan')`); err != nil {
		t.Fatalf("insert null: %v", err)
	}
	_ = db.Close()

	tests := []struct {
		name   string
		dbPath string
		kind   extract.Kind
		target error
	}{
		{name: "duplicate_key", dbPath: dup, kind: extract.KindSubmissions, target: extract.ErrDuplicateKey},
		{name: "null_key", dbPath: dup, kind: extract.KindUsers, target: extract.ErrNullKey},
		{name: "missing_file", dbPath: filepath.Join(t.TempDir(), "absent.db"), kind: extract.KindRows},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg := devConfig(t, tc.dbPath, tc.kind)
			_, err := New(Options{}).Run(context.Background(), cfg)
			var de *DataAccessError
			if !errors.As(err, &de) {
				t.Fatalf("err=%v, want *DataAccessError", err)
			}
			if tc.target != nil && !errors.Is(err, tc.target) {
				t.Fatalf("err=%v, want %v", err, tc.target)
			}
			if ExitCode(err) != ExitOther {
				t.Fatalf("exit=%d, want %d", ExitCode(err), ExitOther)
			}
			assertNoArtifact(t, cfg.OutputPath)
		})
	}
}

func TestRun_PersistenceFailure(t *testing.T) {
	t.Parallel()

	cfg := devConfig(t, seedDB(t, 1), extract.KindChats)
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	cfg.OutputPath = filepath.Join(blocker, "stats.json")

	_, err := New(Options{}).Run(context.Background(), cfg)
	var pe *PersistenceError
	if !errors.As(err, &pe) || pe.Path != cfg.OutputPath {
		t.Fatalf("err=%v, want *PersistenceError for %s", err, cfg.OutputPath)
	}
	if ExitCode(err) != ExitOther {
		t.Fatalf("exit=%d", ExitCode(err))
	}
}

func TestRun_LogsStateEvents(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	cfg := devConfig(t, seedDB(t, 1), extract.KindMessages)

	if _, err := New(Options{Logger: logger, RunID: "run-1"}).Run(context.Background(), cfg); err != nil {
		t.Fatalf("Run err=%v", err)
	}

	var states []string
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var ev map[string]any
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			t.Fatalf("bad log line %q: %v", line, err)
		}
		if ev["event"] == "state" {
			if ev["run_id"] != "run-1" {
				t.Fatalf("event without run_id: %v", ev)
			}
			states = append(states, ev["state"].(string))
		}
	}
	want := []string{"params_loaded", "query_skipped", "results_extracted", "artifact_written"}
	if !reflect.DeepEqual(states, want) {
		t.Fatalf("logged states=%v, want %v", states, want)
	}
}

func TestRun_RespectsCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	cfg := devConfig(t, seedDB(t, 1), extract.KindRows)
	_, err := New(Options{}).Run(ctx, cfg)
	if ExitCode(err) != ExitOther {
		t.Fatalf("err=%v, want data access failure on canceled context", err)
	}
	assertNoArtifact(t, cfg.OutputPath)
}
