package telemetry

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilTelemetryIsSafe(t *testing.T) {
	var tele *Telemetry
	tele.ObserveStage("research_executor", nil, time.Second)
	tele.CountCapability("search", errors.New("boom"))
	tele.CountDecision("FAIL", "ceiling")
	tele.RunStarted()("FAIL")
	assert.NotNil(t, tele.Tracer())
	assert.Equal(t, Summary{}, tele.GetSummary())
}

func TestCountersAndSummary(t *testing.T) {
	tele := NewTelemetry(Config{Enabled: true}, nil)
	tele.CountDecision("RESEARCH", "rule")
	tele.CountDecision("RESEARCH", "workflow")
	tele.CountCapability("search", errors.New("quota"))
	tele.CountCapability("search", nil)
	done := tele.RunStarted()
	done("FINISH")
	done("FINISH")

	sum := tele.GetSummary()
	assert.Equal(t, int64(2), sum.Decisions["RESEARCH"])
	assert.Equal(t, int64(1), sum.CapabilityFails["search"])
	assert.Equal(t, int64(1), sum.Runs)
}

func TestHandlerExposesMetrics(t *testing.T) {
	tele := NewTelemetry(Config{Enabled: true}, nil)
	tele.ObserveStage("writing_executor", nil, 200*time.Millisecond)
	tele.CountDecision("WRITING", "rule")

	rec := httptest.NewRecorder()
	tele.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "deepsearch_stage_duration_seconds"))
	assert.True(t, strings.Contains(body, `deepsearch_supervisor_decisions_total{action="WRITING",source="rule"} 1`))
}

func TestDisabledHandlerIsNotFound(t *testing.T) {
	tele := NewTelemetry(Config{Enabled: false}, nil)
	rec := httptest.NewRecorder()
	tele.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
