package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var httpRequests *prometheus.CounterVec
var httpResponseTime *prometheus.HistogramVec

func recordHTTPRequest(method, route string, status int, duration time.Duration) {
	httpRequests.With(prometheus.Labels{"method": method, "route": route, "status": strconv.Itoa(status)}).Inc()
	httpResponseTime.With(prometheus.Labels{"method": method, "route": route}).Observe(duration.Seconds())
}

// metricsMiddleware labels by route pattern so path parameters do not
// explode cardinality.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		recordHTTPRequest(r.Method, route, status, time.Since(start))
	})
}

func init() {
	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "webaudit",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "API requests by method, route pattern and status code",
	}, []string{"method", "route", "status"})
	prometheus.MustRegister(httpRequests)

	httpResponseTime = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "webaudit",
		Subsystem: "http",
		Name:      "response_time_seconds",
		Help:      "API response latency in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})
	prometheus.MustRegister(httpResponseTime)
}
