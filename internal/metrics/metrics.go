// Package metrics provides Prometheus metrics for the weather server.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	mcpweather "github.com/miyamo2/mcp-weather"
)

const namespace = "mcp_weather"

const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Registry holds all Prometheus metrics.
type Registry struct {
	reg     *prometheus.Registry
	factory promauto.Factory

	// Tool metrics
	ToolCallsTotal   *prometheus.CounterVec
	ToolCallDuration *prometheus.HistogramVec

	// Session metrics
	SessionsActive prometheus.GaugeFunc

	// Authentication metrics
	AuthFailuresTotal *prometheus.CounterVec

	// Upstream metrics
	UpstreamRequestsTotal   *prometheus.CounterVec
	UpstreamRequestDuration *prometheus.HistogramVec
}

// NewRegistry creates a Registry backed by its own prometheus.Registry, with the Go and
// process collectors registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Registry{
		reg:     reg,
		factory: factory,
		ToolCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Total number of tool calls",
		}, []string{"tool", "outcome"}),
		ToolCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Tool call duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		AuthFailuresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Total number of rejected requests",
		}, []string{"reason"}),
		UpstreamRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Total number of requests to the weather API",
		}, []string{"code", "method"}),
		UpstreamRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Weather API request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
}

// Gatherer returns the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Handler serves the metrics in the exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// ObserveSessions registers a gauge reporting the number of open sessions, read from count.
// It must be called at most once.
func (r *Registry) ObserveSessions(count func() int) {
	r.SessionsActive = r.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Number of open event streams",
	}, func() float64 {
		return float64(count())
	})
}

// AuthFailed counts a rejected request.
func (r *Registry) AuthFailed(reason string) {
	r.AuthFailuresTotal.WithLabelValues(reason).Inc()
}

// ToolMiddleware counts and times tool calls.
func (r *Registry) ToolMiddleware(next mcpweather.ToolHandlerFunc) mcpweather.ToolHandlerFunc {
	return func(c mcpweather.ToolContext) error {
		start := time.Now()
		err := next(c)
		outcome := OutcomeOK
		if err != nil {
			outcome = OutcomeError
		}
		r.ToolCallsTotal.WithLabelValues(c.ToolName(), outcome).Inc()
		r.ToolCallDuration.WithLabelValues(c.ToolName()).Observe(time.Since(start).Seconds())
		return err
	}
}

// InstrumentRoundTripper counts and times requests sent through next.
func (r *Registry) InstrumentRoundTripper(next http.RoundTripper) http.RoundTripper {
	return promhttp.InstrumentRoundTripperCounter(r.UpstreamRequestsTotal,
		promhttp.InstrumentRoundTripperDuration(r.UpstreamRequestDuration, next))
}
