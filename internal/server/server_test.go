package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/pagesmith/internal/engine"
	"github.com/p-blackswan/pagesmith/internal/health"
	"github.com/p-blackswan/pagesmith/internal/metrics"
	"github.com/p-blackswan/pagesmith/internal/models"
	"github.com/p-blackswan/pagesmith/internal/pipeline"
	"github.com/p-blackswan/pagesmith/internal/requestid"
)

type fakeEngine struct {
	mu        sync.Mutex
	submitted []models.Task
	err       error
	panicMsg  string
	runs      map[string]engine.Run
}

func (f *fakeEngine) Submit(task models.Task) (string, error) {
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.submitted = append(f.submitted, task)
	return "run-1", nil
}

func (f *fakeEngine) Get(id string) (engine.Run, bool) {
	r, ok := f.runs[id]
	return r, ok
}

func (f *fakeEngine) List() []engine.Run {
	out := make([]engine.Run, 0, len(f.runs))
	for _, id := range []string{"run-2", "run-1"} {
		if r, ok := f.runs[id]; ok {
			out = append(out, r)
		}
	}
	return out
}

const secret = "s3cret"

func testServer(t *testing.T, cfg Config, eng *fakeEngine) (*fiber.App, *metrics.Metrics) {
	t.Helper()
	if cfg.SharedSecret == "" {
		cfg.SharedSecret = secret
	}
	m := metrics.New()
	return New(cfg, eng, health.NewChecker(zerolog.Nop()), m, zerolog.Nop()).App(), m
}

func taskBody(overrides map[string]any) string {
	body := map[string]any{
		"secret":         secret,
		"brief":          "a counter app",
		"attachments":    []any{"https://example.com/a.png", map[string]string{"name": "b.csv", "url": "data:text/csv;base64,QQ=="}},
		"email":          "student@example.com",
		"task":           "Counter",
		"nonce":          "n1",
		"evaluation_url": "https://eval.example.com/cb",
	}
	for k, v := range overrides {
		if v == nil {
			delete(body, k)
			continue
		}
		body[k] = v
	}
	b, _ := json.Marshal(body)
	return string(b)
}

func do(t *testing.T, app *fiber.App, method, path, body string, headers ...string) (*http.Response, string) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp, string(b)
}

func TestAcceptTask_OK(t *testing.T) {
	eng := &fakeEngine{}
	app, _ := testServer(t, Config{}, eng)

	resp, body := do(t, app, http.MethodPost, "/api-endpoint", taskBody(nil))
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.NotEmpty(t, resp.Header.Get(requestid.Header))

	var ack AcceptResponse
	require.NoError(t, json.Unmarshal([]byte(body), &ack))
	assert.Equal(t, "Request received", ack.Message)
	assert.Equal(t, "run-1", ack.RunID)

	require.Len(t, eng.submitted, 1)
	task := eng.submitted[0]
	assert.Equal(t, 1, task.Round)
	assert.Equal(t, "Counter", task.Task)
	require.Len(t, task.Attachments, 2)
	assert.Equal(t, "https://example.com/a.png", task.Attachments[0].URL)
	assert.Equal(t, "b.csv", task.Attachments[1].Name)

	_, metricsBody := do(t, app, http.MethodGet, "/metrics", "")
	assert.Contains(t, metricsBody, `pagesmith_requests_total{status="accepted"} 1`)
}

func TestAcceptTask_WrongSecret(t *testing.T) {
	eng := &fakeEngine{}
	app, _ := testServer(t, Config{}, eng)

	resp, body := do(t, app, http.MethodPost, "/api-endpoint", taskBody(map[string]any{"secret": "nope"}))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Contains(t, body, "invalid_secret")
	assert.Equal(t, "application/problem+json", resp.Header.Get("Content-Type"))
	assert.Empty(t, eng.submitted)

	resp, _ = do(t, app, http.MethodPost, "/api-endpoint", taskBody(map[string]any{"secret": nil}))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAcceptTask_MalformedJSON(t *testing.T) {
	eng := &fakeEngine{}
	app, _ := testServer(t, Config{}, eng)

	resp, body := do(t, app, http.MethodPost, "/api-endpoint", `{"secret": "s3cret", "brief":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body, "invalid_body")
	assert.Empty(t, eng.submitted)
}

func TestAcceptTask_InvalidTask(t *testing.T) {
	tests := []struct {
		name      string
		overrides map[string]any
		detail    string
	}{
		{"missing brief", map[string]any{"brief": nil}, "brief"},
		{"missing nonce", map[string]any{"nonce": ""}, "nonce"},
		{"relative callback", map[string]any{"evaluation_url": "/cb"}, "evaluation_url"},
		{"ftp callback", map[string]any{"evaluation_url": "ftp://x/cb"}, "evaluation_url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := &fakeEngine{}
			app, _ := testServer(t, Config{}, eng)
			resp, body := do(t, app, http.MethodPost, "/api-endpoint", taskBody(tt.overrides))
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Contains(t, body, tt.detail)
			assert.Empty(t, eng.submitted)
		})
	}
}

func TestAcceptTask_QueueFull(t *testing.T) {
	app, _ := testServer(t, Config{}, &fakeEngine{err: engine.ErrQueueFull})

	resp, body := do(t, app, http.MethodPost, "/api-endpoint", taskBody(nil))
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "30", resp.Header.Get("Retry-After"))
	assert.Contains(t, body, "run queue is full")
}

func TestAcceptTask_UnexpectedFaultIs500(t *testing.T) {
	app, _ := testServer(t, Config{}, &fakeEngine{err: errors.New("disk on fire")})

	resp, body := do(t, app, http.MethodPost, "/api-endpoint", taskBody(nil))
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, body, "An internal error occurred")
	assert.NotContains(t, body, "disk on fire")
}

func TestAcceptTask_PanicIsRecovered(t *testing.T) {
	app, _ := testServer(t, Config{}, &fakeEngine{panicMsg: "boom"})

	resp, body := do(t, app, http.MethodPost, "/api-endpoint", taskBody(nil))
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, body, "internal_error")
}

func TestProbes(t *testing.T) {
	app, _ := testServer(t, Config{}, &fakeEngine{})

	resp, _ := do(t, app, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, body := do(t, app, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "ready")
}

func TestRunsAPI(t *testing.T) {
	now := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	eng := &fakeEngine{runs: map[string]engine.Run{
		"run-1": {ID: "run-1", Repo: "counter-n1", Stage: pipeline.StageDone, Submitted: now},
		"run-2": {ID: "run-2", Repo: "clock-n2", Stage: pipeline.StageSyncing, Submitted: now},
	}}
	app, _ := testServer(t, Config{MgmtAPIKey: "mgmt-key"}, eng)

	resp, body := do(t, app, http.MethodGet, "/api/v1/runs", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, body, "missing_auth")

	resp, body = do(t, app, http.MethodGet, "/api/v1/runs", "", "Authorization", "Basic abc")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, body, "invalid_auth_scheme")

	resp, body = do(t, app, http.MethodGet, "/api/v1/runs", "", "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, body, "invalid_api_key")

	resp, body = do(t, app, http.MethodGet, "/api/v1/runs", "", "Authorization", "Bearer mgmt-key")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list RunList
	require.NoError(t, json.Unmarshal([]byte(body), &list))
	assert.Equal(t, 2, list.Total)
	assert.Equal(t, "run-2", list.Runs[0].ID)

	resp, body = do(t, app, http.MethodGet, "/api/v1/runs?stage=DONE", "", "Authorization", "Bearer mgmt-key")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal([]byte(body), &list))
	require.Equal(t, 1, list.Total)
	assert.Equal(t, "counter-n1", list.Runs[0].Repo)

	resp, body = do(t, app, http.MethodGet, "/api/v1/runs/run-1", "", "Authorization", "Bearer mgmt-key")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"stage":"DONE"`)

	resp, _ = do(t, app, http.MethodGet, "/api/v1/runs/nope", "", "Authorization", "Bearer mgmt-key")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRunsAPI_DisabledWithoutKey(t *testing.T) {
	app, _ := testServer(t, Config{}, &fakeEngine{})

	resp, body := do(t, app, http.MethodGet, "/api/v1/runs", "", "Authorization", "Bearer anything")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, body, "request_error")
}

func TestRateLimit(t *testing.T) {
	eng := &fakeEngine{}
	app, _ := testServer(t, Config{RateLimit: RateLimitConfig{RPS: 1, Burst: 2}}, eng)

	for i := 0; i < 2; i++ {
		resp, _ := do(t, app, http.MethodPost, "/api-endpoint", taskBody(nil))
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp, body := do(t, app, http.MethodPost, "/api-endpoint", taskBody(nil))
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Contains(t, body, "rate_limit_exceeded")

	resp, _ = do(t, app, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTokenBucket_Refill(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{RPS: 2, Burst: 1})
	now := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.allow("a"))
	assert.False(t, rl.allow("a"))
	assert.True(t, rl.allow("b"))

	now = now.Add(500 * time.Millisecond)
	assert.True(t, rl.allow("a"))
	assert.False(t, rl.allow("a"))
}

func TestSecretMatches(t *testing.T) {
	assert.True(t, secretMatches("abc", "abc"))
	assert.False(t, secretMatches("abc", "abd"))
	assert.False(t, secretMatches("abc", "ab"))
	assert.False(t, secretMatches("", ""))
}
