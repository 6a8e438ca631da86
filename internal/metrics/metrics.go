// Package metrics provides a small, backend-agnostic abstraction for recording
// operational metrics from the worker.
//
// The package exposes a narrow Backend interface (counters and histograms) and
// a global, pluggable backend that defaults to a no-op implementation, so the
// pipeline stages can always record metrics even when no backend is
// configured. Concrete systems live in subpackages (see metrics/datadog).
package metrics

import (
	"strconv"
	"time"
)

// Metric names understood by backends.
const (
	StepTotal           = "worker_step_total"
	StepDurationSeconds = "worker_step_duration_seconds"
	RecordsTotal        = "worker_records_total"
	HTTPRequestsTotal   = "worker_http_requests_total"
	HTTPErrorsTotal     = "worker_http_errors_total"
	HTTPDurationSeconds = "worker_http_request_duration_seconds"
	HTTPDownloadBytes   = "worker_http_download_bytes"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a latency/size style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes buffered metrics, if the backend buffers at all.
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(name string, delta float64, labels Labels)       {}
func (nopBackend) ObserveHistogram(name string, value float64, labels Labels) {}
func (nopBackend) Flush() error                                               { return nil }

var backend Backend = nopBackend{}

// SetBackend installs a concrete backend. Passing nil keeps the existing backend.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	backend = b
}

// Reset restores the no-op backend.
func Reset() {
	backend = nopBackend{}
}

// Flush delegates to the current backend.
func Flush() error {
	return backend.Flush()
}

// RecordStep measures latency and success/failure of one pipeline stage
// ("query", "extract", "write").
func RecordStep(job, step string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}

	lbls := Labels{
		"job":    job,
		"step":   step,
		"status": status,
	}

	backend.IncCounter(StepTotal, 1, lbls)
	backend.ObserveHistogram(StepDurationSeconds, d.Seconds(), lbls)
}

// RecordRows increments the record counter for the given job and kind
// (e.g. "extracted", "written").
func RecordRows(job, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter(RecordsTotal, float64(delta), Labels{
		"job":  job,
		"kind": kind,
	})
}

// RecordHTTP records one outbound HTTP call. statusCode 0 means the request
// never produced a response (transport error).
func RecordHTTP(job string, statusCode int, d time.Duration, bytes int64) {
	status := "error"
	if statusCode > 0 {
		status = strconv.Itoa(statusCode)
	}
	lbls := Labels{"job": job, "status": status}

	backend.IncCounter(HTTPRequestsTotal, 1, lbls)
	if statusCode == 0 || statusCode >= 400 {
		backend.IncCounter(HTTPErrorsTotal, 1, lbls)
	}
	backend.ObserveHistogram(HTTPDurationSeconds, d.Seconds(), lbls)
	if bytes > 0 {
		backend.ObserveHistogram(HTTPDownloadBytes, float64(bytes), lbls)
	}
}
