// Package engine is the client side of the query engine the worker
// delegates production queries to. The engine owns query execution end to
// end and materializes its output into the worker's store; the worker only
// learns whether the run succeeded.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tally/internal/params"

	"github.com/pkg/errors"
)

// ExecutionError reports a query the engine could not execute. The worker
// maps it to exit code 2.
type ExecutionError struct {
	Message string
	Err     error
}

func (e *ExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("query engine: %v", e.Err)
	}
	return fmt.Sprintf("query engine: %s", e.Message)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Request carries one query execution order to the engine.
type Request struct {
	Query         string         `json:"query"`
	Signature     string         `json:"signature"`
	DatabasePath  string         `json:"database_path"`
	ComputeJobID  string         `json:"compute_job_id"`
	DataRefinerID string         `json:"data_refiner_id"`
	Parameters    map[string]any `json:"parameters"`
}

// Outcome is the engine's verdict on a request. On failure the Error text
// is the engine's own message and is surfaced verbatim in worker logs.
type Outcome struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// Client executes exactly one attempt per request; retry policy belongs to
// the orchestrator that schedules worker passes, not to the worker.
type Client interface {
	Execute(ctx context.Context, req Request) (Outcome, error)
}

// HTTPClient talks to the engine's execute endpoint.
type HTTPClient struct {
	url    string
	client *http.Client
}

// NewHTTPClient builds a client from engine params. Passing a nil
// httpClient installs a default client with the configured timeout.
func NewHTTPClient(cfg params.EngineParams, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second}
	}
	return &HTTPClient{url: cfg.URL, client: httpClient}
}

// Execute posts the request and decodes the engine's outcome. A non-2xx
// status, transport failure or undecodable body is returned as an error;
// an engine-reported failure comes back as a successful call with
// Outcome.Success=false.
func (c *HTTPClient) Execute(ctx context.Context, req Request) (Outcome, error) {
	if req.Parameters == nil {
		req.Parameters = map[string]any{}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return Outcome{}, errors.Wrap(err, "encode engine request")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Outcome{}, errors.Wrap(err, "build engine request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Outcome{}, errors.Wrap(err, "call engine")
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		if snippet := readSnippet(resp.Body); snippet != "" {
			return Outcome{}, errors.Errorf("engine returned status %s: %s", resp.Status, snippet)
		}
		return Outcome{}, errors.Errorf("engine returned status %s", resp.Status)
	}
	var out Outcome
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Outcome{}, errors.Wrap(err, "decode engine response")
	}
	return out, nil
}

func readSnippet(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 512))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
