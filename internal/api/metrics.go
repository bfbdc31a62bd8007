package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/seantiz/augur/internal/engine"
)

// Resource label values. Every /v1 route belongs to the resource named by its
// first path segment; everything else is "system".
const (
	resourceSystem    = "system"
	resourceUnmatched = "unmatched"
)

// API error reasons, one per engine error kind.
const (
	reasonValidation  = "validation"
	reasonFunds       = "insufficient_funds"
	reasonForbidden   = "forbidden"
	reasonNotFound    = "not_found"
	reasonUnavailable = "unavailable"
	reasonInternal    = "internal"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "augur_http_requests_total",
			Help: "Total number of HTTP requests, by resource, route, method and status class.",
		},
		[]string{"resource", "route", "method", "class"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "augur_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds, by resource. Event streams are excluded.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"resource", "method"},
	)

	apiErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "augur_api_errors_total",
			Help: "Total number of submission and lifecycle errors returned to clients, by reason.",
		},
		[]string{"reason"},
	)

	eventStreamsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "augur_event_streams_active",
			Help: "Number of open task status event streams.",
		},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(apiErrorsTotal)
	prometheus.MustRegister(eventStreamsActive)

	for _, reason := range []string{reasonValidation, reasonFunds, reasonForbidden, reasonNotFound, reasonUnavailable, reasonInternal} {
		apiErrorsTotal.WithLabelValues(reason)
	}
}

// metricsMiddleware records request count and duration for every HTTP request,
// labeled by the chi route pattern so cardinality stays bounded.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		route := routePattern(r)
		resource := resourceOf(route)
		httpRequestsTotal.WithLabelValues(resource, route, r.Method, statusClass(status)).Inc()
		if !strings.HasSuffix(route, "/events") {
			httpRequestDuration.WithLabelValues(resource, r.Method).Observe(time.Since(start).Seconds())
		}
	})
}

// routePattern extracts the matched chi route pattern, falling back to "unmatched".
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return resourceUnmatched
}

// resourceOf maps a route pattern such as /v1/tasks/{id} to "tasks".
func resourceOf(route string) string {
	if route == resourceUnmatched {
		return resourceUnmatched
	}
	rest, ok := strings.CutPrefix(route, "/v1/")
	if !ok {
		return resourceSystem
	}
	resource, _, _ := strings.Cut(rest, "/")
	if resource == "" {
		return resourceSystem
	}
	return resource
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

// errorReason classifies an engine error for augur_api_errors_total.
func errorReason(err error) string {
	switch {
	case errors.Is(err, engine.ErrValidation):
		return reasonValidation
	case errors.Is(err, engine.ErrInsufficientFunds):
		return reasonFunds
	case errors.Is(err, engine.ErrForbidden):
		return reasonForbidden
	case errors.Is(err, engine.ErrNotFound):
		return reasonNotFound
	case errors.Is(err, engine.ErrEnqueue), errors.Is(err, engine.ErrStoreUnavailable):
		return reasonUnavailable
	default:
		return reasonInternal
	}
}

// metricsHandler returns the Prometheus metrics handler.
func metricsHandler() http.Handler {
	return promhttp.Handler()
}
