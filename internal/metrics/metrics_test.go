package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeBackend records every call for later assertions.
type fakeBackend struct {
	mu sync.Mutex

	counters   []counterCall
	histograms []histCall
	flushes    int
}

type counterCall struct {
	name   string
	delta  float64
	labels Labels
}

type histCall struct {
	name   string
	value  float64
	labels Labels
}

func (f *fakeBackend) IncCounter(name string, delta float64, labels Labels) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counters = append(f.counters, counterCall{name, delta, labels})
}

func (f *fakeBackend) ObserveHistogram(name string, value float64, labels Labels) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.histograms = append(f.histograms, histCall{name, value, labels})
}

func (f *fakeBackend) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
	return nil
}

func swapBackend(t *testing.T) *fakeBackend {
	t.Helper()
	orig := backend
	t.Cleanup(func() { backend = orig })
	fb := &fakeBackend{}
	backend = fb
	return fb
}

func TestRecordStep_SuccessAndFailure(t *testing.T) {
	fb := swapBackend(t)

	RecordStep("jobA", "extract", nil, 2*time.Second)
	RecordStep("jobA", "query", errors.New("boom"), 1500*time.Millisecond)

	if len(fb.counters) != 2 || len(fb.histograms) != 2 {
		t.Fatalf("counters=%d histograms=%d, want 2 and 2", len(fb.counters), len(fb.histograms))
	}
	if got := fb.counters[0]; got.name != StepTotal || got.labels["status"] != "success" || got.labels["step"] != "extract" {
		t.Fatalf("counter[0]=%#v", got)
	}
	if got := fb.counters[1]; got.labels["status"] != "failure" || got.labels["step"] != "query" {
		t.Fatalf("counter[1]=%#v", got)
	}
	if got := fb.histograms[1].value; got != 1.5 {
		t.Fatalf("histogram[1].value=%v, want 1.5", got)
	}
}

func TestRecordRows_IgnoresNonPositive(t *testing.T) {
	fb := swapBackend(t)

	RecordRows("job", "extracted", 0)
	RecordRows("job", "extracted", -3)
	RecordRows("job", "extracted", 7)

	if len(fb.counters) != 1 {
		t.Fatalf("counters=%d, want 1", len(fb.counters))
	}
	if got := fb.counters[0]; got.name != RecordsTotal || got.delta != 7 || got.labels["kind"] != "extracted" {
		t.Fatalf("counter=%#v", got)
	}
}

func TestRecordHTTP_StatusLabels(t *testing.T) {
	tests := []struct {
		name       string
		code       int
		bytes      int64
		wantStatus string
		wantErrors int
		wantHists  int
	}{
		{name: "ok_with_body", code: 200, bytes: 128, wantStatus: "200", wantErrors: 0, wantHists: 2},
		{name: "gateway_timeout", code: 504, wantStatus: "504", wantErrors: 1, wantHists: 1},
		{name: "transport_error", code: 0, wantStatus: "error", wantErrors: 1, wantHists: 1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fb := swapBackend(t)

			RecordHTTP("job", tc.code, time.Second, tc.bytes)

			errCount := 0
			for _, c := range fb.counters {
				if c.labels["status"] != tc.wantStatus {
					t.Fatalf("status label=%q, want %q", c.labels["status"], tc.wantStatus)
				}
				if c.name == HTTPErrorsTotal {
					errCount++
				}
			}
			if errCount != tc.wantErrors {
				t.Fatalf("error counters=%d, want %d", errCount, tc.wantErrors)
			}
			if len(fb.histograms) != tc.wantHists {
				t.Fatalf("histograms=%d, want %d", len(fb.histograms), tc.wantHists)
			}
		})
	}
}

func TestSetBackend_NilKeepsCurrent(t *testing.T) {
	fb := swapBackend(t)

	SetBackend(nil)
	if err := Flush(); err != nil {
		t.Fatalf("Flush err=%v", err)
	}
	if fb.flushes != 1 {
		t.Fatalf("flushes=%d, want 1", fb.flushes)
	}
}

func TestReset(t *testing.T) {
	orig := backend
	t.Cleanup(func() { backend = orig })

	SetBackend(&fakeBackend{})
	Reset()
	if _, ok := backend.(nopBackend); !ok {
		t.Fatalf("backend=%T, want nopBackend", backend)
	}
}
