package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors exported on /metrics. The Observe methods are
// no-ops on a nil *Metrics.
type Metrics struct {
	registry        *prometheus.Registry
	requests        *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	templateErrors  *prometheus.CounterVec
	conversations   *prometheus.CounterVec
	inferenceTokens *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "promptlib",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"method", "route", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "promptlib",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		templateErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "promptlib",
			Name:      "template_errors_total",
			Help:      "Template syntax errors by location.",
		}, []string{"loc"}),
		conversations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "promptlib",
			Name:      "conversations_assembled_total",
			Help:      "Conversations assembled, by whether a stored version was merged.",
		}, []string{"source"}),
		inferenceTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "promptlib",
			Name:      "inference_tokens_total",
			Help:      "Tokens consumed by inference calls.",
		}, []string{"provider", "model", "direction"}),
	}
	reg.MustRegister(
		m.requests, m.duration, m.templateErrors, m.conversations, m.inferenceTokens,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware records request count and latency, labelled by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.duration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// ObserveTemplateError counts a template error at loc ("context" or "messages").
func (m *Metrics) ObserveTemplateError(loc string) {
	if m == nil {
		return
	}
	m.templateErrors.WithLabelValues(loc).Inc()
}

// ObserveConversation counts an assembled conversation. merged reports
// whether it was built from a stored version.
func (m *Metrics) ObserveConversation(merged bool) {
	if m == nil {
		return
	}
	source := "inline"
	if merged {
		source = "version"
	}
	m.conversations.WithLabelValues(source).Inc()
}

func (m *Metrics) ObserveTokens(provider, model string, input, output int) {
	if m == nil {
		return
	}
	m.inferenceTokens.WithLabelValues(provider, model, "input").Add(float64(input))
	m.inferenceTokens.WithLabelValues(provider, model, "output").Add(float64(output))
}
