package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myndlens/vox/pkg/metrics"
)

func scrape(t *testing.T) string {
	t.Helper()
	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	metrics.Handler().ServeHTTP(recorder, req)
	return recorder.Body.String()
}

func TestHandlerExposure(t *testing.T) {
	srv := httptest.NewServer(metrics.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRecorders(t *testing.T) {
	// None of these should panic, and all should show up in a scrape.
	metrics.SetActiveConnections(3)
	metrics.IncAuthAttempt("ok")
	metrics.IncMessageReceived("HEARTBEAT")
	metrics.IncRateLimited("ws_messages")
	metrics.IncPipelineRun("draft")
	metrics.ObservePipelineStage("dimension_extraction", 120*time.Millisecond)
	metrics.IncLLMCall("DIMENSIONS_EXTRACT", "ok")
	metrics.IncDispatch("SUBMITTED")
	metrics.ObserveDispatchLatency(80 * time.Millisecond)
	metrics.IncExecuteBlocked("PRESENCE_STALE")

	body := scrape(t)
	for _, name := range []string{
		"vox_gateway_active_connections",
		"vox_gateway_auth_attempts_total",
		"vox_gateway_messages_received_total",
		"vox_gateway_rate_limited_total",
		"vox_pipeline_runs_total",
		"vox_pipeline_stage_duration_seconds",
		"vox_llm_calls_total",
		"vox_dispatch_total",
		"vox_dispatch_latency_seconds",
		"vox_execute_blocked_total",
	} {
		assert.True(t, strings.Contains(body, name), "expected %s in scrape output", name)
	}
}
