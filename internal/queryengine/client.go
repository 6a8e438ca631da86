// Package queryengine is the HTTP client for the remote QueryEngine.
//
// A query is submitted once with POST <base>/query. On success the response
// body is the result database, which the client stores at the data source
// location. On failure the client turns whatever the engine or a gateway in
// front of it returned into an Outcome the worker can report.
package queryengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"queryworker/internal/artifact"
	"queryworker/internal/metrics"
)

// SignatureHeader carries the query signature alongside the request body.
const SignatureHeader = "X-Query-Signature"

// maxErrorBody bounds how much of a failed response is read.
const maxErrorBody = 64 << 10

// Request is one query submission.
type Request struct {
	Query          string
	Signature      string
	ComputeJobID   string
	RefinerID      string
	Params         map[string]any
	SourceLocation string // where the result database is stored
}

// Outcome is the result of one submission. It is created once and never
// mutated.
type Outcome struct {
	Success    bool
	Error      string
	StatusCode *int
	Data       any
}

type wireRequest struct {
	Query          string         `json:"query"`
	QuerySignature string         `json:"query_signature"`
	ComputeJobID   string         `json:"compute_job_id"`
	RefinerID      string         `json:"refiner_id"`
	QueryParams    map[string]any `json:"query_params"`
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	// StoreResult writes a successful response body to Request.SourceLocation.
	StoreResult bool
	Logger      *slog.Logger
	// Job labels the HTTP metrics.
	Job string
}

// Client submits queries to the engine. It never retries.
type Client struct {
	base   string
	hc     *http.Client
	store  bool
	logger *slog.Logger
	job    string
}

func New(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = newHTTPClient(opts.Timeout)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{
		base:   strings.TrimRight(opts.BaseURL, "/"),
		hc:     hc,
		store:  opts.StoreResult,
		logger: logger,
		job:    opts.Job,
	}
}

func newHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:           http.ProxyFromEnvironment,
		IdleConnTimeout: 90 * time.Second,
		MaxIdleConns:    4,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// ExecuteQuery submits req exactly once.
func (c *Client) ExecuteQuery(ctx context.Context, req Request) Outcome {
	body, err := json.Marshal(wireRequest{
		Query:          req.Query,
		QuerySignature: req.Signature,
		ComputeJobID:   req.ComputeJobID,
		RefinerID:      req.RefinerID,
		QueryParams:    nonNil(req.Params),
	})
	if err != nil {
		return Outcome{Error: fmt.Sprintf("queryengine: encode request: %v", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/query", bytes.NewReader(body))
	if err != nil {
		return Outcome{Error: fmt.Sprintf("queryengine: build request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/octet-stream, application/json")
	httpReq.Header.Set(SignatureHeader, req.Signature)

	start := time.Now()
	resp, err := c.hc.Do(httpReq)
	if err != nil {
		metrics.RecordHTTP(c.job, 0, time.Since(start), 0)
		c.logger.Warn("query engine request failed", "url", httpReq.URL.String(), "err", err)
		return Outcome{Error: err.Error()}
	}
	defer resp.Body.Close()

	code := resp.StatusCode
	if code < 200 || code > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		metrics.RecordHTTP(c.job, code, time.Since(start), int64(len(raw)))
		out := failureOutcome(code, resp.Header.Get("Content-Type"), raw)
		c.logger.Warn("query engine rejected query", "status", code, "error", out.Error)
		return out
	}

	var n int64
	if c.store {
		n, err = storeResult(req.SourceLocation, resp.Body)
	} else {
		n, err = io.Copy(io.Discard, resp.Body)
	}
	metrics.RecordHTTP(c.job, code, time.Since(start), n)
	if err != nil {
		return Outcome{Error: fmt.Sprintf("queryengine: store result: %v", err), StatusCode: &code}
	}
	c.logger.Info("query executed", "status", code, "bytes", n, "stored", c.store)
	return Outcome{Success: true, StatusCode: &code}
}

func storeResult(path string, r io.Reader) (int64, error) {
	if path == "" {
		return 0, fmt.Errorf("empty result location")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}
	return artifact.WriteAtomic(path, r, artifact.FileMode)
}

// failureOutcome decodes a non-2xx response. JSON bodies are kept as Data
// and their error, detail or message field becomes the error text. Other
// bodies are reduced to readable text.
func failureOutcome(code int, contentType string, raw []byte) Outcome {
	out := Outcome{StatusCode: &code}
	mediaType, mparams, _ := mime.ParseMediaType(contentType)

	var data any
	if len(bytes.TrimSpace(raw)) > 0 && json.Unmarshal(raw, &data) == nil {
		out.Data = data
		out.Error = errorText(data)
	} else if len(raw) > 0 {
		out.Error = bodyText(mediaType, mparams["charset"], raw)
	}

	if out.Error == "" {
		out.Error = http.StatusText(code)
	}
	if out.Error == "" {
		out.Error = fmt.Sprintf("HTTP %d", code)
	}
	return out
}

func errorText(data any) string {
	m, ok := data.(map[string]any)
	if !ok {
		return ""
	}
	for _, k := range []string{"error", "detail", "message"} {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case nil:
		default:
			b, _ := json.Marshal(v)
			return string(b)
		}
	}
	return ""
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
