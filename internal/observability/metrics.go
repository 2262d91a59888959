package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	busInboundDepth    prometheus.Gauge
	busPublishTotal    *prometheus.CounterVec
	busDroppedTotal    *prometheus.CounterVec
	channelMessages    *prometheus.CounterVec
	routerBusyTotal    prometheus.Counter
	activeRuns         prometheus.Gauge
	agentRunTotal      *prometheus.CounterVec
	agentRunDuration   *prometheus.HistogramVec
	modelCallDuration  *prometheus.HistogramVec
	modelTokensTotal   *prometheus.CounterVec
	toolExecutionTotal *prometheus.CounterVec
	toolDuration       *prometheus.HistogramVec
	sessionLoadSeconds prometheus.Histogram
	sessionSaveSeconds prometheus.Histogram
	sessionsTotal      prometheus.Gauge
	consolidationTotal *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			busInboundDepth: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "bus_inbound_depth",
					Help: "Current depth of the inbound message queue.",
				},
			),
			busPublishTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "bus_publish_total",
					Help: "Total envelopes published to the bus by kind.",
				},
				[]string{"kind"},
			),
			busDroppedTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "bus_dropped_total",
					Help: "Total outbound messages dropped by subscriber.",
				},
				[]string{"subscriber"},
			),
			channelMessages: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "channel_messages_total",
					Help: "Total channel messages by channel and direction.",
				},
				[]string{"channel", "direction"},
			),
			routerBusyTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "router_busy_rejections_total",
					Help: "Total inbound messages rejected because the session was busy.",
				},
			),
			activeRuns: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "active_agent_runs",
					Help: "Current number of in-flight agent runs.",
				},
			),
			agentRunTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agent_run_total",
					Help: "Total agent runs by provider and outcome.",
				},
				[]string{"provider", "outcome"},
			),
			agentRunDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "agent_run_duration_seconds",
					Help:    "Agent run duration in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			modelCallDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "model_call_duration_seconds",
					Help:    "Model API call duration in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			modelTokensTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "model_tokens_total",
					Help: "Total tokens consumed by provider and direction.",
				},
				[]string{"provider", "direction"},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_execution_total",
					Help: "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "tool_execution_duration_seconds",
					Help:    "Tool execution duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			sessionLoadSeconds: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "session_load_duration_seconds",
					Help:    "Session load duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			sessionSaveSeconds: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "session_append_duration_seconds",
					Help:    "Session append duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			sessionsTotal: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "sessions_total",
					Help: "Current number of persisted sessions.",
				},
			),
			consolidationTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "memory_consolidation_total",
					Help: "Total memory consolidation runs by status.",
				},
				[]string{"status"},
			),
		}

		prometheus.MustRegister(
			m.busInboundDepth,
			m.busPublishTotal,
			m.busDroppedTotal,
			m.channelMessages,
			m.routerBusyTotal,
			m.activeRuns,
			m.agentRunTotal,
			m.agentRunDuration,
			m.modelCallDuration,
			m.modelTokensTotal,
			m.toolExecutionTotal,
			m.toolDuration,
			m.sessionLoadSeconds,
			m.sessionSaveSeconds,
			m.sessionsTotal,
			m.consolidationTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

// MetricsHandler returns the Prometheus scrape handler.
func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func SetBusInboundDepth(depth int) {
	getMetrics().busInboundDepth.Set(float64(depth))
}

func RecordBusPublish(kind string) {
	getMetrics().busPublishTotal.WithLabelValues(kind).Inc()
}

func RecordBusDrop(subscriber string) {
	getMetrics().busDroppedTotal.WithLabelValues(subscriber).Inc()
}

func RecordChannelMessage(channel, direction string) {
	getMetrics().channelMessages.WithLabelValues(channel, direction).Inc()
}

func RecordRouterBusy() {
	getMetrics().routerBusyTotal.Inc()
}

func SetActiveRuns(count int) {
	getMetrics().activeRuns.Set(float64(count))
}

func RecordAgentRun(provider, outcome string, duration time.Duration) {
	m := getMetrics()
	m.agentRunTotal.WithLabelValues(provider, outcome).Inc()
	m.agentRunDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func RecordModelCall(provider string, duration time.Duration, inputTokens, outputTokens int) {
	m := getMetrics()
	m.modelCallDuration.WithLabelValues(provider).Observe(duration.Seconds())
	m.modelTokensTotal.WithLabelValues(provider, "input").Add(float64(inputTokens))
	m.modelTokensTotal.WithLabelValues(provider, "output").Add(float64(outputTokens))
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.toolExecutionTotal.WithLabelValues(tool, status).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func RecordSessionLoad(duration time.Duration) {
	getMetrics().sessionLoadSeconds.Observe(duration.Seconds())
}

func RecordSessionAppend(duration time.Duration) {
	getMetrics().sessionSaveSeconds.Observe(duration.Seconds())
}

func SetSessionsTotal(count int) {
	getMetrics().sessionsTotal.Set(float64(count))
}

func RecordConsolidation(success bool) {
	status := "error"
	if success {
		status = "success"
	}
	getMetrics().consolidationTotal.WithLabelValues(status).Inc()
}
