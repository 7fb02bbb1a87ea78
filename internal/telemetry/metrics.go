package telemetry

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "quizmaster"

var (
	taskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "task_duration_seconds",
		Help:      "Duration of background tasks by name and final status.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
	}, []string{"task", "status"})

	jobResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "job_results_total",
		Help:      "Structured results returned by background jobs.",
	}, []string{"job", "status"})

	attemptEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "attempt_events_total",
		Help:      "Quiz attempt lifecycle transitions.",
	}, []string{"event"})

	emailsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "emails_total",
		Help:      "Notification emails by kind and outcome.",
	}, []string{"kind", "outcome"})

	httpRequests = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route and status code.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "code"})
)

func ObserveTask(name, status string, d time.Duration) {
	taskDuration.WithLabelValues(name, status).Observe(d.Seconds())
}

func CountJobResult(job, status string) {
	jobResults.WithLabelValues(job, status).Inc()
}

func CountAttempt(event string) {
	attemptEvents.WithLabelValues(event).Inc()
}

func CountEmail(kind string, ok bool) {
	outcome := "sent"
	if !ok {
		outcome = "failed"
	}
	emailsSent.WithLabelValues(kind, outcome).Inc()
}

// GinMiddleware records the latency of every request under its route template.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
