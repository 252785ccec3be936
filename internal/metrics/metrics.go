// Package metrics содержит метрики Prometheus сервиса приёма заявок.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "admissions_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "admissions_http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "status"})

	enrollmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "admissions_enrollments_total",
		Help: "Enrollment requests by result",
	}, []string{"result"})

	admissionDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "admissions_decisions_total",
		Help: "Admission decisions by outcome",
	}, []string{"outcome"})

	admissionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "admissions_run_duration_seconds",
		Help:    "Duration of admission runs",
		Buckets: prometheus.DefBuckets,
	})
)

// ObserveHTTPRequest фиксирует обработанный HTTP-запрос.
func ObserveHTTPRequest(method, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, status).Inc()
	httpRequestDuration.WithLabelValues(method, status).Observe(duration.Seconds())
}

// RecordEnrollment фиксирует попытку подачи заявки.
func RecordEnrollment(result string) {
	enrollmentsTotal.WithLabelValues(result).Inc()
}

// RecordAdmission фиксирует итог проведения приёма.
func RecordAdmission(admitted, rejected int, duration time.Duration) {
	admissionDecisions.WithLabelValues("admitted").Add(float64(admitted))
	admissionDecisions.WithLabelValues("rejected").Add(float64(rejected))
	admissionDuration.Observe(duration.Seconds())
}
