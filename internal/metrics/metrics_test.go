package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillmind/memoryd/internal/metrics"
)

// These tests share a process-wide Prometheus registry, so the no-op
// (before Init) assertions must run first, matching the package's
// top-to-bottom test execution order.

func TestMiddlewareIsANoOpBeforeInit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(metrics.Middleware())
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRecordToolCallIsANoOpBeforeInit(t *testing.T) {
	assert.NotPanics(t, func() {
		metrics.RecordToolCall("recall_memories", nil, time.Millisecond)
	})
}

func TestSetEmbedQueueDepthIsANoOpBeforeInit(t *testing.T) {
	assert.NotPanics(t, func() {
		metrics.SetEmbedQueueDepth(3)
	})
}

func TestInitIsIdempotent(t *testing.T) {
	require.NotPanics(t, func() {
		metrics.Init()
		metrics.Init()
	})
}

func TestMiddlewareRecordsRequestsAfterInit(t *testing.T) {
	metrics.Init()

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(metrics.Middleware())
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rec := httptest.NewRecorder()

	assert.NotPanics(t, func() { router.ServeHTTP(rec, req) })
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRecordToolCallAfterInit(t *testing.T) {
	metrics.Init()
	assert.NotPanics(t, func() {
		metrics.RecordToolCall("store_memory", nil, time.Millisecond)
		metrics.RecordToolCall("store_memory", assert.AnError, time.Millisecond)
	})
}

func TestSetEmbedQueueDepthAfterInit(t *testing.T) {
	metrics.Init()
	assert.NotPanics(t, func() {
		metrics.SetEmbedQueueDepth(0)
		metrics.SetEmbedQueueDepth(42)
	})
}
