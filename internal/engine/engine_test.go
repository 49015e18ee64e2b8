package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"tally/internal/params"
)

func testRequest() Request {
	return Request{
		Query:         "SELECT count(*) FROM events",
		Signature:     "sig-abc",
		DatabasePath:  "/data/results.db",
		ComputeJobID:  "job-42",
		DataRefinerID: "refiner-7",
		Parameters:    map[string]any{"region": "eu"},
	}
}

func newTestClient(url string) *HTTPClient {
	return NewHTTPClient(params.EngineParams{URL: url, TimeoutSeconds: 5}, nil)
}

func TestExecuteSuccess(t *testing.T) {
	var captured Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type: %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	out, err := newTestClient(srv.URL).Execute(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !out.Success {
		t.Fatalf("expected success outcome")
	}
	if captured.Query != "SELECT count(*) FROM events" {
		t.Fatalf("unexpected query: %q", captured.Query)
	}
	if captured.ComputeJobID != "job-42" {
		t.Fatalf("unexpected job id: %q", captured.ComputeJobID)
	}
	if captured.Parameters["region"] != "eu" {
		t.Fatalf("unexpected parameters: %v", captured.Parameters)
	}
}

func TestExecuteReportedFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"error":"refiner rejected the signature"}`))
	}))
	defer srv.Close()

	out, err := newTestClient(srv.URL).Execute(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out.Success {
		t.Fatalf("expected failure outcome")
	}
	if out.Error != "refiner rejected the signature" {
		t.Fatalf("unexpected error message: %q", out.Error)
	}
}

func TestExecuteHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "engine overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Execute(context.Background(), testRequest())
	if err == nil {
		t.Fatalf("expected error for 503 response")
	}
}

func TestExecuteTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	_, err := newTestClient(srv.URL).Execute(context.Background(), testRequest())
	if err == nil {
		t.Fatalf("expected transport error")
	}
}

func TestExecuteUndecodableBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Execute(context.Background(), testRequest())
	if err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestExecuteFillsEmptyParameters(t *testing.T) {
	var raw map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	req := testRequest()
	req.Parameters = nil
	if _, err := newTestClient(srv.URL).Execute(context.Background(), req); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if string(raw["parameters"]) != "{}" {
		t.Fatalf("parameters = %s, want {}", raw["parameters"])
	}
}

func TestExecutionErrorText(t *testing.T) {
	reported := &ExecutionError{Message: "bad signature"}
	if reported.Error() != "query engine: bad signature" {
		t.Fatalf("unexpected error text: %q", reported.Error())
	}
	wrapped := &ExecutionError{Err: context.DeadlineExceeded}
	if wrapped.Unwrap() != context.DeadlineExceeded {
		t.Fatalf("unexpected unwrap: %v", wrapped.Unwrap())
	}
}
