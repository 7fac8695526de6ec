package observatory

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var observatoryRequests *prometheus.CounterVec
var observatoryResponseTime *prometheus.HistogramVec

func recordRequest(endpoint string, err error) {
	observatoryRequests.With(prometheus.Labels{"endpoint": endpoint, "outcome": outcomeOf(err)}).Inc()
}

func recordResponseTime(endpoint string, duration time.Duration) {
	observatoryResponseTime.With(prometheus.Labels{"endpoint": endpoint}).Observe(duration.Seconds())
}

func init() {
	observatoryRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "webaudit",
		Subsystem: "observatory",
		Name:      "requests_total",
		Help:      "requests issued to the Observatory API by endpoint and outcome",
	}, []string{"endpoint", "outcome"})
	prometheus.MustRegister(observatoryRequests)

	observatoryResponseTime = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "webaudit",
		Subsystem: "observatory",
		Name:      "response_time_seconds",
		Help:      "latency of Observatory API calls in seconds",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"endpoint"})
	prometheus.MustRegister(observatoryResponseTime)
}
