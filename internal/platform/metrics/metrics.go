// Package metrics exposes Prometheus collectors for the calculator host.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector groups every metric. A nil *Collector is valid and records nothing.
type Collector struct {
	Registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	FetchesTotal  *prometheus.CounterVec
	FetchDuration *prometheus.HistogramVec

	PopulateWrites *prometheus.CounterVec
	PipelinePasses *prometheus.CounterVec
	FormsActive    prometheus.Gauge

	BreakerState *prometheus.GaugeVec
}

// NewCollector registers every metric on a fresh registry.
func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Collector{
		Registry: reg,

		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, route, and status code.",
		}, []string{"method", "path", "status"}),

		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency distribution.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"method", "path", "status"}),

		FetchesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "clinicaldata",
			Name:      "fetches_total",
			Help:      "Clinical-data fetches by operation and outcome (found, absent, error, timeout).",
		}, []string{"operation", "outcome"}),

		FetchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "clinicaldata",
			Name:      "fetch_duration_seconds",
			Help:      "Clinical-data fetch latency distribution.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		}, []string{"operation"}),

		PopulateWrites: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "populate",
			Name:      "writes_total",
			Help:      "Auto-population write attempts by outcome (written, dirty, detached, unconvertible).",
		}, []string{"outcome"}),

		PipelinePasses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "passes_total",
			Help:      "Recompute passes by calculator and outcome (computed, invalid, domain_error).",
		}, []string{"calculator", "outcome"}),

		FormsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "forms",
			Name:      "active",
			Help:      "Form instances currently held in the scratch store.",
		}),

		BreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "fhir",
			Name:      "breaker_state",
			Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open).",
		}, []string{"name"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.Registry, promhttp.HandlerOpts{Registry: c.Registry})
}

// ObserveFetch records one clinical-data fetch.
func (c *Collector) ObserveFetch(operation, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.FetchesTotal.WithLabelValues(operation, outcome).Inc()
	c.FetchDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// ObservePopulate records one population write attempt.
func (c *Collector) ObservePopulate(outcome string) {
	if c == nil {
		return
	}
	c.PopulateWrites.WithLabelValues(outcome).Inc()
}

// ObservePass records one pipeline pass.
func (c *Collector) ObservePass(calculator, outcome string) {
	if c == nil {
		return
	}
	c.PipelinePasses.WithLabelValues(calculator, outcome).Inc()
}

// SetForms sets the number of live form instances.
func (c *Collector) SetForms(n int) {
	if c == nil {
		return
	}
	c.FormsActive.Set(float64(n))
}

// SetBreakerState records a circuit breaker transition.
func (c *Collector) SetBreakerState(name string, state int) {
	if c == nil {
		return
	}
	c.BreakerState.WithLabelValues(name).Set(float64(state))
}

// Middleware records request counts and latency per matched route.
func (c *Collector) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			if c == nil {
				return next(ctx)
			}
			start := time.Now()
			err := next(ctx)

			status := ctx.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			path := ctx.Path()
			if path == "" {
				path = "unmatched"
			}
			labels := []string{ctx.Request().Method, path, strconv.Itoa(status)}
			c.RequestsTotal.WithLabelValues(labels...).Inc()
			c.RequestDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
			return err
		}
	}
}
