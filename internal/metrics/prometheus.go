// Package metrics provides a Prometheus metrics registry for the gateway.
//
// All metrics are scoped to a private registry (not the global default) so
// they don't interfere with host-level metrics when embedded in other
// applications. The /metrics HTTP handler is exposed via Handler().
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// Registry holds all exported metrics.
type Registry struct {
	reg *prometheus.Registry

	// gateway_inflight_requests
	inFlight prometheus.Gauge

	// gateway_http_requests_total{route,status}
	httpRequestsTotal *prometheus.CounterVec

	// gateway_http_request_duration_seconds{route}
	httpDuration *prometheus.HistogramVec

	// gateway_route_cache_operations_total{op,result}
	cacheOps *prometheus.CounterVec

	// gateway_failover_total{route,reason}
	failoverTotal *prometheus.CounterVec

	// gateway_candidates_exhausted_total{route}
	candidatesExhausted *prometheus.CounterVec

	// gateway_translation_duration_seconds{direction}
	translationDuration *prometheus.HistogramVec

	// gateway_tokens_total{route,direction}
	tokensTotal *prometheus.CounterVec

	// gateway_build_info{version}
	buildInfo *prometheus.GaugeVec

	metricsHandler fasthttp.RequestHandler
}

func New() *Registry {
	reg := prometheus.NewRegistry()

	// Baseline runtime metrics even with a private registry.
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	r := &Registry{
		reg: reg,

		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_inflight_requests",
			Help: "Current number of in-flight HTTP requests handled by the gateway",
		}),

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_http_requests_total",
				Help: "Total number of HTTP requests handled by the gateway",
			},
			[]string{"route", "status"},
		),

		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds (end-to-end, includes cache + upstream)",
				Buckets: []float64{0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"route"},
		),

		cacheOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_route_cache_operations_total",
				Help: "Route cache operations by type and result",
			},
			[]string{"op", "result"},
		),

		failoverTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_failover_total",
				Help: "Candidates abandoned for the next route, by reason",
			},
			[]string{"route", "reason"},
		),

		candidatesExhausted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_candidates_exhausted_total",
				Help: "Requests that exhausted every candidate route without success",
			},
			[]string{"route"},
		),

		translationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_translation_duration_seconds",
				Help:    "Protocol translation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"direction"},
		),

		tokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_tokens_total",
				Help: "Token usage totals derived from upstream usage fields",
			},
			[]string{"route", "direction"},
		),

		buildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gateway_build_info",
				Help: "Build information",
			},
			[]string{"version"},
		),
	}

	reg.MustRegister(
		r.inFlight,
		r.httpRequestsTotal,
		r.httpDuration,
		r.cacheOps,
		r.failoverTotal,
		r.candidatesExhausted,
		r.translationDuration,
		r.tokensTotal,
		r.buildInfo,
	)

	h := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	r.metricsHandler = fasthttpadaptor.NewFastHTTPHandler(h)

	return r
}

func (r *Registry) IncInFlight() { r.inFlight.Inc() }
func (r *Registry) DecInFlight() { r.inFlight.Dec() }

// ObserveHTTP records end-to-end HTTP metrics for one inbound request.
func (r *Registry) ObserveHTTP(route string, statusCode int, dur time.Duration) {
	status := strconv.Itoa(statusCode)
	r.httpRequestsTotal.WithLabelValues(route, status).Inc()
	r.httpDuration.WithLabelValues(route).Observe(dur.Seconds())
}

func (r *Registry) CacheHit()  { r.cacheOps.WithLabelValues("get", "hit").Inc() }
func (r *Registry) CacheMiss() { r.cacheOps.WithLabelValues("get", "miss").Inc() }
func (r *Registry) CacheSetOK() { r.cacheOps.WithLabelValues("set", "ok").Inc() }
func (r *Registry) CacheSetError() { r.cacheOps.WithLabelValues("set", "error").Inc() }

// RecordFailover increments the failover counter when the pipeline gives up
// on a candidate and moves on to the next one. Only the "upstream_error"
// reason also evicts the candidate from the route cache.
func (r *Registry) RecordFailover(route, reason string) {
	r.failoverTotal.WithLabelValues(route, reason).Inc()
}

// RecordCandidatesExhausted increments when every candidate failed and the
// pipeline returns 503.
func (r *Registry) RecordCandidatesExhausted(route string) {
	r.candidatesExhausted.WithLabelValues(route).Inc()
}

// ObserveTranslation records how long one request/response/stream-chunk
// translation took.
func (r *Registry) ObserveTranslation(direction string, dur time.Duration) {
	r.translationDuration.WithLabelValues(direction).Observe(dur.Seconds())
}

// AddTokens records input/output token counts surfaced by the usage
// collector.
func (r *Registry) AddTokens(route string, inputTokens, outputTokens int) {
	if inputTokens > 0 {
		r.tokensTotal.WithLabelValues(route, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		r.tokensTotal.WithLabelValues(route, "output").Add(float64(outputTokens))
	}
}

func (r *Registry) SetBuildInfo(version string) {
	r.buildInfo.WithLabelValues(version).Set(1)
}

func (r *Registry) Handler() fasthttp.RequestHandler {
	return r.metricsHandler
}

func (r *Registry) PromRegistry() *prometheus.Registry { return r.reg }
