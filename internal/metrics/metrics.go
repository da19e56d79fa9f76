// Package metrics provides Prometheus instrumentation for the monitoring core.
package metrics

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vigil"

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// BaselineUpdatesTotal counts values appended to rolling baselines.
	BaselineUpdatesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "baseline",
		Name:      "updates_total",
		Help:      "Total values appended to rolling baselines.",
	})

	// BaselineSeries tracks how many metric names have a baseline.
	BaselineSeries = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "baseline",
		Name:      "series",
		Help:      "Number of metric names with a rolling baseline.",
	})

	// AnomalyEvaluationsTotal counts anomaly checks by outcome
	// (detected, normal, insufficient_data).
	AnomalyEvaluationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "anomaly",
		Name:      "evaluations_total",
		Help:      "Anomaly evaluations by outcome.",
	}, []string{"outcome"})

	// AnomaliesDetectedTotal counts anomalies by metric name.
	AnomaliesDetectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "anomaly",
		Name:      "detected_total",
		Help:      "Anomalies detected by metric name.",
	}, []string{"metric"})

	// OutagePredictionsTotal counts emitted outage predictions by service.
	OutagePredictionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "outage",
		Name:      "predictions_total",
		Help:      "Outage predictions emitted by service.",
	}, []string{"service"})

	// OutageRiskScore observes every composite outage score, emitted or not.
	OutageRiskScore = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "outage",
		Name:      "risk_score",
		Help:      "Composite outage risk scores.",
		Buckets:   []float64{0, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0, 1.2},
	})

	// FraudPredictionsTotal counts fraud predictions by source and risk level.
	FraudPredictionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "fraud",
		Name:      "predictions_total",
		Help:      "Fraud predictions emitted by source and risk level.",
	}, []string{"source", "risk_level"})

	// DetectionDuration observes detector latency by operation.
	DetectionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "detection_duration_seconds",
		Help:      "Detection operation latency in seconds.",
		Buckets:   []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01, .05, .1},
	}, []string{"operation"})

	// EventsPublishedTotal counts events accepted by the publisher.
	EventsPublishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "published_total",
		Help:      "Events accepted for publishing by event type.",
	}, []string{"event_type"})

	// EventsDroppedTotal counts events dropped because the bus was full.
	EventsDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "dropped_total",
		Help:      "Events dropped on a full bus by event type.",
	}, []string{"event_type"})

	// PublishErrorsTotal counts failed publish calls by event type.
	PublishErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "publish_errors_total",
		Help:      "Failed publish attempts by event type.",
	}, []string{"event_type"})

	// SubscriberErrorsTotal counts subscriber handler failures.
	SubscriberErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "subscriber_errors_total",
		Help:      "Subscriber handler failures by subscriber name.",
	}, []string{"subscriber"})

	// ChainScansTotal counts on-chain wallet activity scans by result.
	ChainScansTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "chain",
		Name:      "scans_total",
		Help:      "Wallet activity scans by result.",
	}, []string{"result"})

	// RateLimitedTotal counts requests rejected by the ingestion limiter.
	RateLimitedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the rate limiter by key kind.",
	}, []string{"kind"})

	// RealtimeClients tracks connected prediction stream clients.
	RealtimeClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "realtime",
		Name:      "clients",
		Help:      "Connected WebSocket stream clients.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		BaselineUpdatesTotal,
		BaselineSeries,
		AnomalyEvaluationsTotal,
		AnomaliesDetectedTotal,
		OutagePredictionsTotal,
		OutageRiskScore,
		FraudPredictionsTotal,
		DetectionDuration,
		EventsPublishedTotal,
		EventsDroppedTotal,
		PublishErrorsTotal,
		SubscriberErrorsTotal,
		ChainScansTotal,
		RateLimitedTotal,
		RealtimeClients,
	)
}

// ObserveDetection starts a latency timer for operation. Call the returned
// func when the operation completes.
func ObserveDetection(operation string) func() {
	start := time.Now()
	return func() {
		DetectionDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // route pattern, not the raw path
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
