package telemetry

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Config controls metric collection.
type Config struct {
	Enabled     bool
	ServiceName string
}

// Telemetry records stage latencies, capability calls and routing decisions.
// A nil *Telemetry is valid and records nothing.
type Telemetry struct {
	config   Config
	logger   *zap.Logger
	registry *prometheus.Registry
	tracer   trace.Tracer

	stageDuration   *prometheus.HistogramVec
	capabilityCalls *prometheus.CounterVec
	decisions       *prometheus.CounterVec
	runs            *prometheus.CounterVec
	activeRuns      prometheus.Gauge

	mu      sync.Mutex
	summary Summary
}

// Summary is a point-in-time copy of the counters kept in process.
type Summary struct {
	Runs            int64            `json:"runs"`
	Decisions       map[string]int64 `json:"decisions"`
	CapabilityFails map[string]int64 `json:"capability_failures"`
}

// NewTelemetry builds the metric set on a private registry.
func NewTelemetry(cfg Config, logger *zap.Logger) *Telemetry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "deepsearch"
	}
	reg := prometheus.NewRegistry()
	t := &Telemetry{
		config:   cfg,
		logger:   logger.Named("telemetry"),
		registry: reg,
		tracer:   otel.Tracer(cfg.ServiceName),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "deepsearch",
			Name:      "stage_duration_seconds",
			Help:      "Latency of orchestration stages.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"stage", "status"}),
		capabilityCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deepsearch",
			Name:      "capability_calls_total",
			Help:      "Calls to search, index, retrieve and draft capabilities.",
		}, []string{"capability", "status"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deepsearch",
			Name:      "supervisor_decisions_total",
			Help:      "Supervisor routing decisions by action and origin.",
		}, []string{"action", "source"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deepsearch",
			Name:      "runs_total",
			Help:      "Finished runs by terminal action.",
		}, []string{"outcome"}),
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "deepsearch",
			Name:      "active_runs",
			Help:      "Runs currently executing.",
		}),
		summary: Summary{Decisions: map[string]int64{}, CapabilityFails: map[string]int64{}},
	}
	reg.MustRegister(
		t.stageDuration, t.capabilityCalls, t.decisions, t.runs, t.activeRuns,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return t
}

// Tracer returns the tracer spans should be started from.
func (t *Telemetry) Tracer() trace.Tracer {
	if t == nil {
		return otel.Tracer("deepsearch")
	}
	return t.tracer
}

// Registry exposes the prometheus registry.
func (t *Telemetry) Registry() *prometheus.Registry {
	if t == nil {
		return nil
	}
	return t.registry
}

// Handler serves the metrics endpoint.
func (t *Telemetry) Handler() http.Handler {
	if t == nil || !t.config.Enabled {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{Registry: t.registry})
}

// ObserveStage records how long a stage took and whether it failed.
func (t *Telemetry) ObserveStage(stage string, err error, d time.Duration) {
	if t == nil || !t.config.Enabled {
		return
	}
	t.stageDuration.WithLabelValues(stage, status(err)).Observe(d.Seconds())
}

// CountCapability counts one capability call.
func (t *Telemetry) CountCapability(capability string, err error) {
	if t == nil || !t.config.Enabled {
		return
	}
	t.capabilityCalls.WithLabelValues(capability, status(err)).Inc()
	if err != nil {
		t.mu.Lock()
		t.summary.CapabilityFails[capability]++
		t.mu.Unlock()
	}
}

// CountDecision counts one supervisor decision.
func (t *Telemetry) CountDecision(action, source string) {
	if t == nil || !t.config.Enabled {
		return
	}
	t.decisions.WithLabelValues(action, source).Inc()
	t.mu.Lock()
	t.summary.Decisions[action]++
	t.mu.Unlock()
}

// RunStarted marks a run as active and returns a func that records its
// terminal outcome.
func (t *Telemetry) RunStarted() func(outcome string) {
	if t == nil || !t.config.Enabled {
		return func(string) {}
	}
	t.activeRuns.Inc()
	var once sync.Once
	return func(outcome string) {
		once.Do(func() {
			t.activeRuns.Dec()
			t.runs.WithLabelValues(outcome).Inc()
			t.mu.Lock()
			t.summary.Runs++
			t.mu.Unlock()
			t.logger.Debug("run finished", zap.String("outcome", outcome))
		})
	}
}

// GetSummary returns a copy of the in-process counters.
func (t *Telemetry) GetSummary() Summary {
	if t == nil {
		return Summary{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	out := Summary{Runs: t.summary.Runs, Decisions: map[string]int64{}, CapabilityFails: map[string]int64{}}
	for k, v := range t.summary.Decisions {
		out.Decisions[k] = v
	}
	for k, v := range t.summary.CapabilityFails {
		out.CapabilityFails[k] = v
	}
	return out
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
