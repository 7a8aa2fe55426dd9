package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type ServerMetrics struct {
	Requests  *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec
}

func NewServerMetrics(service string) *ServerMetrics {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ecommerce",
		Subsystem: service,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"handler", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ecommerce",
		Subsystem: service,
		Name:      "http_request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"handler"})

	prometheus.MustRegister(requests, latency)
	return &ServerMetrics{Requests: requests, LatencyMS: latency}
}

// EventMetrics covers the event-bus side: consumed messages by outcome and
// producer retry attempts.
type EventMetrics struct {
	Consumed       *prometheus.CounterVec
	PublishRetries *prometheus.CounterVec
	DeadLettered   *prometheus.CounterVec
}

func NewEventMetrics(service string) *EventMetrics {
	consumed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ecommerce",
		Subsystem: service,
		Name:      "events_consumed_total",
		Help:      "Total number of consumed event messages by outcome.",
	}, []string{"topic", "outcome"})
	retries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ecommerce",
		Subsystem: service,
		Name:      "event_publish_retries_total",
		Help:      "Total number of producer send retries.",
	}, []string{"topic"})
	dead := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ecommerce",
		Subsystem: service,
		Name:      "events_dead_lettered_total",
		Help:      "Total number of messages parked on a dead-letter topic.",
	}, []string{"topic"})

	prometheus.MustRegister(consumed, retries, dead)
	return &EventMetrics{Consumed: consumed, PublishRetries: retries, DeadLettered: dead}
}

func Handler() http.Handler {
	return promhttp.Handler()
}
