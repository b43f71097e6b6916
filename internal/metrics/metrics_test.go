package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getMetricsBody(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err)
	return string(body)
}

func TestMetrics_New(t *testing.T) {
	m := New()
	assert.NotNil(t, m.RequestsTotal)
	assert.NotNil(t, m.RunsTotal)
	assert.NotNil(t, m.StageDuration)
	assert.NotNil(t, m.QueueDepth)
	assert.NotNil(t, m.Registry())
}

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.RecordRequest("accepted")
	m.RecordRequest("accepted")
	m.RecordRequest("forbidden")
	m.RecordRun("done")
	m.RecordFile("create")
	m.RecordFile("unchanged")
	m.RecordCallbackAttempt("failure")
	m.RecordTokens(10, 20)

	body := getMetricsBody(t, m)
	assert.Contains(t, body, `pagesmith_requests_total{status="accepted"} 2`)
	assert.Contains(t, body, `pagesmith_requests_total{status="forbidden"} 1`)
	assert.Contains(t, body, `pagesmith_runs_total{result="done"} 1`)
	assert.Contains(t, body, `pagesmith_files_synced_total{action="create"} 1`)
	assert.Contains(t, body, `pagesmith_files_synced_total{action="unchanged"} 1`)
	assert.Contains(t, body, `pagesmith_callback_attempts_total{result="failure"} 1`)
	assert.Contains(t, body, `pagesmith_generation_tokens_total{direction="output"} 20`)
}

func TestMetrics_Gauges(t *testing.T) {
	m := New()
	m.SetQueueDepth(3)
	m.RunStarted()
	m.RunStarted()
	m.RunFinished()
	m.ObserveStage("SYNCING", 1.5)

	body := getMetricsBody(t, m)
	assert.Contains(t, body, "pagesmith_queue_depth 3")
	assert.Contains(t, body, "pagesmith_runs_in_flight 1")
	assert.Contains(t, body, `pagesmith_stage_duration_seconds_count{stage="SYNCING"} 1`)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordRequest("accepted")
		m.RecordRun("failed")
		m.ObserveStage("POLLING", 1)
		m.RecordFile("update")
		m.RecordCallbackAttempt("success")
		m.RecordTokens(1, 1)
		m.SetQueueDepth(1)
		m.RunStarted()
		m.RunFinished()
	})
}
