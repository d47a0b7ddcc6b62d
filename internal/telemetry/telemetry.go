package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Telemetry holds the bridge's prometheus instruments.
type Telemetry struct {
	requests  *prometheus.CounterVec
	toolCalls *prometheus.CounterVec
	llmCalls  prometheus.Counter
	retries   *prometheus.CounterVec
	duration  prometheus.Histogram
}

// New registers the bridge metrics on the given registerer.
func New(reg prometheus.Registerer) *Telemetry {
	t := &Telemetry{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_requests_total",
			Help: "Orchestrated requests by route.",
		}, []string{"route"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_tool_calls_total",
			Help: "Planned tools/call invocations by tool; discovery, retry and summary-chain calls are not counted.",
		}, []string{"tool"}),
		llmCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_llm_calls_total",
			Help: "Upstream LLM completions.",
		}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_retries_total",
			Help: "Recovery retries by kind.",
		}, []string{"kind"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bridge_request_duration_seconds",
			Help:    "Wall time of one orchestration.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(t.requests, t.toolCalls, t.llmCalls, t.retries, t.duration)
	}
	return t
}

func (t *Telemetry) RecordRequest(route string, elapsed time.Duration) {
	if t == nil {
		return
	}
	t.requests.WithLabelValues(route).Inc()
	t.duration.Observe(elapsed.Seconds())
}

func (t *Telemetry) RecordToolCall(tool string) {
	if t == nil {
		return
	}
	t.toolCalls.WithLabelValues(tool).Inc()
}

func (t *Telemetry) RecordLLMCall() {
	if t == nil {
		return
	}
	t.llmCalls.Inc()
}

func (t *Telemetry) RecordRetry(kind string) {
	if t == nil {
		return
	}
	t.retries.WithLabelValues(kind).Inc()
}
