package sqlcrewctl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

type request struct {
	method string
	path   string
	body   any
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("sqlcrewctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "sqlcrew API base URL")
	apiKey := fs.String("api-key", defaults.APIKey, "API key for authenticated requests")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 10*time.Minute), "HTTP timeout (e.g. 90s); runs wait for the whole revision loop")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}

	command := strings.TrimSpace(fs.Arg(0))
	req, err := buildRequest(command, fs.Args()[1:], stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "%v\n\n", err)
		writeUsage(stderr)
		return 2
	}

	endpoint := strings.TrimRight(*baseURL, "/") + req.path
	code, responseBody, err := doRequest(ctx, client, req, endpoint, *apiKey)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}

	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return 1
	}

	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(stdout, string(responseBody))
	}
	return 0
}

func buildRequest(command string, args []string, stderr io.Writer) (request, error) {
	switch command {
	case "health":
		return request{method: http.MethodGet, path: "/v1/health"}, nil
	case "ready":
		return request{method: http.MethodGet, path: "/v1/ready"}, nil
	case "schema":
		return request{method: http.MethodGet, path: "/v1/schema"}, nil
	case "run":
		fs := flag.NewFlagSet("run", flag.ContinueOnError)
		fs.SetOutput(stderr)
		maxRevision := fs.Int("max-revision", 0, "revision cap; 0 uses the server default")
		runID := fs.String("run-id", "", "explicit run ID (must be unused)")
		if err := fs.Parse(args); err != nil {
			return request{}, err
		}
		question := strings.TrimSpace(strings.Join(fs.Args(), " "))
		if question == "" {
			return request{}, fmt.Errorf("run requires a question")
		}
		body := map[string]any{"question": question}
		if *maxRevision > 0 {
			body["max_revision"] = *maxRevision
		}
		if strings.TrimSpace(*runID) != "" {
			body["run_id"] = strings.TrimSpace(*runID)
		}
		return request{method: http.MethodPost, path: "/v1/runs", body: body}, nil
	case "runs":
		fs := flag.NewFlagSet("runs", flag.ContinueOnError)
		fs.SetOutput(stderr)
		limit := fs.Int("limit", 0, "maximum number of runs to list")
		if err := fs.Parse(args); err != nil {
			return request{}, err
		}
		path := "/v1/runs"
		if *limit > 0 {
			path += "?limit=" + strconv.Itoa(*limit)
		}
		return request{method: http.MethodGet, path: path}, nil
	case "get", "checkpoints", "resume":
		if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
			return request{}, fmt.Errorf("%s requires exactly one run ID", command)
		}
		path := "/v1/runs/" + url.PathEscape(strings.TrimSpace(args[0]))
		switch command {
		case "checkpoints":
			return request{method: http.MethodGet, path: path + "/checkpoints"}, nil
		case "resume":
			return request{method: http.MethodPost, path: path + "/resume"}, nil
		}
		return request{method: http.MethodGet, path: path}, nil
	default:
		return request{}, fmt.Errorf("unknown command %q", command)
	}
}

func doRequest(ctx context.Context, client *http.Client, r request, endpoint, apiKey string) (int, []byte, error) {
	var body io.Reader
	if r.body != nil {
		payload, err := json.Marshal(r.body)
		if err != nil {
			return 0, nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, endpoint, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(apiKey) != "" {
		req.Header.Set("X-API-Key", strings.TrimSpace(apiKey))
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, raw, nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: sqlcrewctl [flags] <command> [args]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health                               GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready                                GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  run [-max-revision N] [-run-id ID] Q POST /v1/runs")
	_, _ = fmt.Fprintln(w, "  runs [-limit N]                      GET /v1/runs")
	_, _ = fmt.Fprintln(w, "  get <run_id>                         GET /v1/runs/{run_id}")
	_, _ = fmt.Fprintln(w, "  checkpoints <run_id>                 GET /v1/runs/{run_id}/checkpoints")
	_, _ = fmt.Fprintln(w, "  resume <run_id>                      POST /v1/runs/{run_id}/resume")
	_, _ = fmt.Fprintln(w, "  schema                               GET /v1/schema")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
