package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jonboulle/clockwork"

	"github.com/sqlcrew/sqlcrew/internal/checkpoint"
	"github.com/sqlcrew/sqlcrew/internal/gateway"
	"github.com/sqlcrew/sqlcrew/internal/gateway/gatewaytest"
	"github.com/sqlcrew/sqlcrew/internal/schema"
	"github.com/sqlcrew/sqlcrew/internal/workflow"
)

const testSchema = "CREATE TABLE orders (id INT PRIMARY KEY, total NUMERIC);"

var testPrompts = workflow.DefaultPrompts()

type apiHarness struct {
	controller *workflow.Controller
	store      *checkpoint.MemoryStore
}

func newAPIHarness(t *testing.T, gw gateway.Gateway) *apiHarness {
	t.Helper()
	store := checkpoint.NewMemoryStore(clockwork.NewFakeClock())
	seq := 0
	controller, err := workflow.New(workflow.Config{
		Gateway:      gw,
		Model:        "stub-model",
		Schema:       testSchema,
		Database:     "shop",
		Checkpointer: store,
		NewRunID: func() string {
			seq++
			return fmt.Sprintf("run-%d", seq)
		},
	})
	if err != nil {
		t.Fatalf("workflow.New() error = %v", err)
	}
	return &apiHarness{controller: controller, store: store}
}

func (h *apiHarness) handler(t *testing.T) http.Handler {
	t.Helper()
	return NewHandler(loadConfig(t, nil), Dependencies{Workflow: h.controller, Runs: h.store, Schema: newStaticSchema(t)})
}

func scriptedAccept() *gatewaytest.Scripted {
	return gatewaytest.New().
		On(testPrompts.SQLWriter, gatewaytest.Text("SELECT COUNT(*) FROM orders;")...).
		On(testPrompts.QAReviewer, gatewaytest.Text("ACCEPTED")...).
		On(testPrompts.SeniorReviewer, gatewaytest.Text("use an alias")...)
}

func newStaticSchema(t *testing.T) *schema.Static {
	t.Helper()
	src, err := schema.NewStatic(testSchema, "shop")
	if err != nil {
		t.Fatalf("schema.NewStatic() error = %v", err)
	}
	return src
}

func serve(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestCreateRunReturnsResult(t *testing.T) {
	h := newAPIHarness(t, scriptedAccept()).handler(t)

	rr := serve(h, http.MethodPost, "/v1/runs", `{"question":"how many orders?","max_revision":3}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["run_id"] != "run-1" || body["sql"] != "SELECT COUNT(*) FROM orders;" {
		t.Fatalf("body = %v", body)
	}
	if body["accepted"] != true || body["revision"] != float64(1) || body["reason"] != "accepted" {
		t.Fatalf("body = %v", body)
	}
	if history := body["feedback_history"].([]any); len(history) != 0 {
		t.Fatalf("feedback_history = %v", history)
	}
}

func TestCreateRunValidatesRequest(t *testing.T) {
	h := newAPIHarness(t, scriptedAccept()).handler(t)

	tests := []struct {
		body   string
		status int
		code   string
	}{
		{body: `{"question":"  "}`, status: http.StatusBadRequest, code: "QUESTION_REQUIRED"},
		{body: `{"question":"q","max_revision":-1}`, status: http.StatusBadRequest, code: "INVALID_REQUEST"},
		{body: `{"question":"q","unknown":true}`, status: http.StatusBadRequest, code: "INVALID_JSON"},
		{body: `not json`, status: http.StatusBadRequest, code: "INVALID_JSON"},
	}
	for _, tc := range tests {
		rr := serve(h, http.MethodPost, "/v1/runs", tc.body)
		if rr.Code != tc.status {
			t.Fatalf("%s: status = %d, want %d", tc.body, rr.Code, tc.status)
		}
		if body := decodeBody(t, rr); body["error_code"] != tc.code {
			t.Fatalf("%s: error_code = %v, want %s", tc.body, body["error_code"], tc.code)
		}
	}
}

func TestCreateRunWithExistingIDConflicts(t *testing.T) {
	h := newAPIHarness(t, scriptedAccept()).handler(t)

	if rr := serve(h, http.MethodPost, "/v1/runs", `{"question":"q","run_id":"nightly"}`); rr.Code != http.StatusOK {
		t.Fatalf("first status = %d, body = %s", rr.Code, rr.Body.String())
	}
	rr := serve(h, http.MethodPost, "/v1/runs", `{"question":"q","run_id":"nightly"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusConflict)
	}
	if body := decodeBody(t, rr); body["error_code"] != "RUN_EXISTS" {
		t.Fatalf("body = %v", body)
	}
}

func TestGatewayFailureMapsTo502AndResumes(t *testing.T) {
	rateLimited := &gateway.Error{Provider: gateway.ProviderOpenAI, StatusCode: http.StatusTooManyRequests, Err: gateway.ErrRateLimited}
	gw := gatewaytest.New().
		On(testPrompts.SQLWriter, gatewaytest.Text("SELECT 1;")...).
		On(testPrompts.QAReviewer, gatewaytest.Reply{Err: rateLimited}, gatewaytest.Reply{Text: "ACCEPTED"}).
		On(testPrompts.SeniorReviewer, gatewaytest.Text("n/a")...)
	h := newAPIHarness(t, gw).handler(t)

	rr := serve(h, http.MethodPost, "/v1/runs", `{"question":"q"}`)
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["error_code"] != "GATEWAY_FAILED" || body["retryable"] != true {
		t.Fatalf("body = %v", body)
	}
	extra := body["context"].(map[string]any)
	if extra["run_id"] != "run-1" || extra["stage"] != "reviewing" || extra["status"] != "rate_limited" || extra["provider"] != "openai" {
		t.Fatalf("context = %v", extra)
	}

	rr = serve(h, http.MethodGet, "/v1/runs/run-1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get status = %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["stage"] != "drafting" || body["done"] != false || body["result"] != nil {
		t.Fatalf("run = %v", body)
	}

	rr = serve(h, http.MethodPost, "/v1/runs/run-1/resume", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("resume status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if body := decodeBody(t, rr); body["accepted"] != true || body["sql"] != "SELECT 1;" {
		t.Fatalf("resume = %v", body)
	}
}

func TestGetRunAndCheckpoints(t *testing.T) {
	h := newAPIHarness(t, scriptedAccept()).handler(t)
	if rr := serve(h, http.MethodPost, "/v1/runs", `{"question":"q"}`); rr.Code != http.StatusOK {
		t.Fatalf("create status = %d", rr.Code)
	}

	rr := serve(h, http.MethodGet, "/v1/runs/run-1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["done"] != true || body["stage"] != "reviewing" || body["sequence"] != float64(2) {
		t.Fatalf("run = %v", body)
	}
	result := body["result"].(map[string]any)
	if result["accepted"] != true || result["reason"] != "accepted" {
		t.Fatalf("result = %v", result)
	}
	state := body["state"].(map[string]any)
	if state["database"] != "shop" || state["question"] != "q" {
		t.Fatalf("state = %v", state)
	}

	rr = serve(h, http.MethodGet, "/v1/runs/run-1/checkpoints", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("checkpoints status = %d", rr.Code)
	}
	checkpoints := decodeBody(t, rr)["checkpoints"].([]any)
	stages := make([]string, 0, len(checkpoints))
	for _, raw := range checkpoints {
		stages = append(stages, raw.(map[string]any)["stage"].(string))
	}
	if strings.Join(stages, ",") != "schema_lookup,drafting,reviewing" {
		t.Fatalf("stages = %v", stages)
	}

	if rr := serve(h, http.MethodGet, "/v1/runs/missing/checkpoints", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("missing checkpoints status = %d", rr.Code)
	}
	if rr := serve(h, http.MethodPost, "/v1/runs/missing/resume", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("missing resume status = %d", rr.Code)
	}
}

func TestListRuns(t *testing.T) {
	h := newAPIHarness(t, scriptedAccept()).handler(t)
	for i := 0; i < 2; i++ {
		if rr := serve(h, http.MethodPost, "/v1/runs", `{"question":"q"}`); rr.Code != http.StatusOK {
			t.Fatalf("create status = %d", rr.Code)
		}
	}

	rr := serve(h, http.MethodGet, "/v1/runs?limit=10", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	runs := decodeBody(t, rr)["runs"].([]any)
	if len(runs) != 2 {
		t.Fatalf("runs = %v", runs)
	}
	if runs[0].(map[string]any)["done"] != true {
		t.Fatalf("run = %v", runs[0])
	}

	for _, limit := range []string{"0", "abc", "501"} {
		if rr := serve(h, http.MethodGet, "/v1/runs?limit="+limit, ""); rr.Code != http.StatusBadRequest {
			t.Fatalf("limit %s: status = %d", limit, rr.Code)
		}
	}

	bare := NewHandler(loadConfig(t, nil), Dependencies{})
	if rr := serve(bare, http.MethodGet, "/v1/runs", ""); rr.Code != http.StatusNotImplemented {
		t.Fatalf("unconfigured status = %d", rr.Code)
	}
}

func TestSchemaEndpoint(t *testing.T) {
	h := newAPIHarness(t, scriptedAccept()).handler(t)

	rr := serve(h, http.MethodGet, "/v1/schema", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["text"] != testSchema || body["database"] != "shop" {
		t.Fatalf("body = %v", body)
	}

	bare := NewHandler(loadConfig(t, nil), Dependencies{})
	if rr := serve(bare, http.MethodGet, "/v1/schema", ""); rr.Code != http.StatusNotImplemented {
		t.Fatalf("unconfigured status = %d", rr.Code)
	}
}
