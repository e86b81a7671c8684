package sqlcrewctl

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRunCreatesRun(t *testing.T) {
	var gotMethod, gotPath, gotAPIKey, gotContentType string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotAPIKey = r.Header.Get("X-API-Key")
		gotContentType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"run_id":"r1","sql":"SELECT 1;","accepted":true}`))
	}))
	defer srv.Close()

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	code := Run(context.Background(), []string{
		"-base-url", srv.URL,
		"-api-key", "k1",
		"run", "-max-revision", "3", "-run-id", "r1",
		"how", "many", "orders?",
	}, Options{
		Stdout:  &stdout,
		Stderr:  &stderr,
		Timeout: 2 * time.Second,
	})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	if gotMethod != http.MethodPost || gotPath != "/v1/runs" {
		t.Fatalf("request = %s %s", gotMethod, gotPath)
	}
	if gotAPIKey != "k1" || gotContentType != "application/json" {
		t.Fatalf("headers api_key=%q content_type=%q", gotAPIKey, gotContentType)
	}
	if gotBody["question"] != "how many orders?" || gotBody["max_revision"] != float64(3) || gotBody["run_id"] != "r1" {
		t.Fatalf("body = %#v", gotBody)
	}
	if !strings.Contains(stdout.String(), `"sql": "SELECT 1;"`) {
		t.Fatalf("stdout = %s", stdout.String())
	}
}

func TestRunOmitsOptionalRunFields(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	code := Run(context.Background(), []string{"-base-url", srv.URL, "run", "list customers"}, Options{})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if _, ok := gotBody["max_revision"]; ok {
		t.Fatalf("body = %#v", gotBody)
	}
	if _, ok := gotBody["run_id"]; ok {
		t.Fatalf("body = %#v", gotBody)
	}
}

func TestRunRoutesRunCommands(t *testing.T) {
	tests := []struct {
		args       []string
		wantMethod string
		wantPath   string
		wantQuery  string
	}{
		{args: []string{"runs", "-limit", "5"}, wantMethod: http.MethodGet, wantPath: "/v1/runs", wantQuery: "limit=5"},
		{args: []string{"get", "run-1"}, wantMethod: http.MethodGet, wantPath: "/v1/runs/run-1"},
		{args: []string{"checkpoints", "run-1"}, wantMethod: http.MethodGet, wantPath: "/v1/runs/run-1/checkpoints"},
		{args: []string{"resume", "run-1"}, wantMethod: http.MethodPost, wantPath: "/v1/runs/run-1/resume"},
		{args: []string{"schema"}, wantMethod: http.MethodGet, wantPath: "/v1/schema"},
		{args: []string{"health"}, wantMethod: http.MethodGet, wantPath: "/v1/health"},
		{args: []string{"ready"}, wantMethod: http.MethodGet, wantPath: "/v1/ready"},
	}
	for _, tt := range tests {
		var gotMethod, gotPath, gotQuery string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotMethod = r.Method
			gotPath = r.URL.Path
			gotQuery = r.URL.RawQuery
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		}))

		code := Run(context.Background(), append([]string{"-base-url", srv.URL}, tt.args...), Options{})
		srv.Close()
		if code != 0 {
			t.Fatalf("%v exit code = %d", tt.args, code)
		}
		if gotMethod != tt.wantMethod || gotPath != tt.wantPath || gotQuery != tt.wantQuery {
			t.Fatalf("%v request = %s %s?%s", tt.args, gotMethod, gotPath, gotQuery)
		}
	}
}

func TestRunReturnsErrorOnHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error_code":"GATEWAY_FAILED"}`))
	}))
	defer srv.Close()

	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"-base-url", srv.URL, "resume", "run-1"}, Options{Stderr: &stderr})
	if code != 1 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	if !strings.Contains(stderr.String(), "http 502") {
		t.Fatalf("stderr = %s", stderr.String())
	}
}

func TestRunRejectsInvalidArguments(t *testing.T) {
	tests := [][]string{
		{},
		{"unknown"},
		{"run"},
		{"get"},
		{"resume", "a", "b"},
	}
	for _, args := range tests {
		var stderr bytes.Buffer
		code := Run(context.Background(), args, Options{Stderr: &stderr})
		if code != 2 {
			t.Fatalf("%v exit code = %d", args, code)
		}
		if stderr.Len() == 0 {
			t.Fatalf("%v expected usage output", args)
		}
	}
}
