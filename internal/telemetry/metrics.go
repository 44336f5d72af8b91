package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the worker-pool gauges and run/tool counters
// SPEC_FULL.md §4.L calls for, exposed on /metrics via promhttp. Grounded
// on haasonsaas-nexus's internal/observability.Metrics: a struct of
// promauto-registered vectors plus small domain-named methods, rather than
// callers touching prometheus.CounterVec directly.
type Metrics struct {
	RunsStarted   *prometheus.CounterVec
	RunsFinished  *prometheus.CounterVec
	RunDuration   *prometheus.HistogramVec
	WorkerPoolLen prometheus.Gauge

	ToolExecutions *prometheus.CounterVec
	ToolDuration   *prometheus.HistogramVec

	LLMRequests *prometheus.CounterVec
	LLMDuration *prometheus.HistogramVec
	LLMTokens   *prometheus.CounterVec
}

// NewMetrics registers and returns all agentcore metrics against reg. A nil
// reg registers against prometheus's default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		RunsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcore_runs_started_total",
			Help: "Total number of runs admitted by the Run Manager.",
		}, []string{"model"}),

		RunsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcore_runs_finished_total",
			Help: "Total number of runs that reached a terminal status.",
		}, []string{"status"}),

		RunDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentcore_run_duration_seconds",
			Help:    "Wall-clock duration of a run from StartRun to terminal status.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"status"}),

		WorkerPoolLen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "agentcore_worker_pool_inflight",
			Help: "Number of tasks currently running on the engine's worker pool.",
		}),

		ToolExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcore_tool_executions_total",
			Help: "Total number of tool invocations by tool name and outcome.",
		}, []string{"tool", "status"}),

		ToolDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentcore_tool_duration_seconds",
			Help:    "Duration of tool invocations in seconds.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"tool"}),

		LLMRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcore_llm_requests_total",
			Help: "Total number of LLM chat requests by model and outcome.",
		}, []string{"model", "status"}),

		LLMDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentcore_llm_request_duration_seconds",
			Help:    "Duration of LLM chat requests in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"model"}),

		LLMTokens: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcore_llm_tokens_total",
			Help: "Total tokens consumed by LLM requests by model and kind (prompt|completion).",
		}, []string{"model", "kind"}),
	}
}

// RunStarted records a run admitted onto the worker pool.
func (m *Metrics) RunStarted(model string) {
	m.RunsStarted.WithLabelValues(model).Inc()
}

// RunFinished records a run reaching a terminal status.
func (m *Metrics) RunFinished(status string, duration time.Duration) {
	m.RunsFinished.WithLabelValues(status).Inc()
	m.RunDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// SetWorkerPoolLen sets the current in-flight task count.
func (m *Metrics) SetWorkerPoolLen(n int) {
	m.WorkerPoolLen.Set(float64(n))
}

// RecordToolExecution records one tool invocation's outcome and duration.
func (m *Metrics) RecordToolExecution(tool, status string, duration time.Duration) {
	m.ToolExecutions.WithLabelValues(tool, status).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordLLMRequest records one LLM chat call's outcome, duration and token
// usage.
func (m *Metrics) RecordLLMRequest(model, status string, duration time.Duration, promptTokens, completionTokens int) {
	m.LLMRequests.WithLabelValues(model, status).Inc()
	m.LLMDuration.WithLabelValues(model).Observe(duration.Seconds())
	if promptTokens > 0 {
		m.LLMTokens.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokens.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
}
