// Package metrics exposes memoryd's Prometheus instrumentation, grounded
// on the teacher's internal/security/metrics.go: the same promauto/
// CounterVec/HistogramVec shape and gin middleware idiom, narrowed to the
// RPC surface's own request/tool-call counters instead of the teacher's
// generic HTTP+store+cache set.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	toolCallsTotal      *prometheus.CounterVec
	toolCallDuration    *prometheus.HistogramVec
	embedQueueDepth     prometheus.Gauge

	initOnce sync.Once
)

// Init registers memoryd's metrics with the default Prometheus registry.
// Safe to call more than once; only the first call registers anything.
func Init() {
	initOnce.Do(initInner)
}

func initInner() {
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "memoryd_http_requests_total",
		Help: "Total number of HTTP requests to the RPC surface.",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "memoryd_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	toolCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "memoryd_tool_calls_total",
		Help: "Total number of MCP tool invocations, by tool and outcome.",
	}, []string{"tool", "outcome"})

	toolCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "memoryd_tool_call_duration_seconds",
		Help:    "MCP tool call duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"tool"})

	embedQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "memoryd_embed_queue_depth",
		Help: "Number of memories currently queued for embedding.",
	})
}

// Middleware records per-request HTTP metrics. A no-op until Init has run.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if httpRequestsTotal == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(duration.Seconds())
	}
}

// RecordToolCall records the outcome and duration of a single MCP tool
// invocation. A no-op until Init has run.
func RecordToolCall(tool string, err error, duration time.Duration) {
	if toolCallsTotal == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	toolCallsTotal.WithLabelValues(tool, outcome).Inc()
	toolCallDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// SetEmbedQueueDepth reports the embedding worker's current queue depth. A
// no-op until Init has run.
func SetEmbedQueueDepth(n int) {
	if embedQueueDepth == nil {
		return
	}
	embedQueueDepth.Set(float64(n))
}
