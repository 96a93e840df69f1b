package server

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	obsmetrics "github.com/smallbiznis/payflow/internal/observability/metrics"
	"go.uber.org/zap"
)

// RequestLogMiddleware logs each request with correlation identifiers.
func RequestLogMiddleware(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := ensureRequestID(c)

		c.Next()

		route := c.FullPath()
		if strings.TrimSpace(route) == "" {
			route = "unknown"
		}
		if route == "/metrics" || route == "/health" {
			return
		}

		fields := []zap.Field{
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", c.Writer.Status()),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		}
		if lastErr := c.Errors.Last(); lastErr != nil {
			fields = append(fields, zap.Error(lastErr.Err))
		}

		if c.Writer.Status() >= 500 {
			log.Error("http_request", fields...)
			return
		}
		log.Info("http_request", fields...)
	}
}

func ensureRequestID(c *gin.Context) string {
	requestID := strings.TrimSpace(c.GetHeader("X-Request-Id"))
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set("request_id", requestID)
	c.Header("X-Request-Id", requestID)
	return requestID
}

// MetricsMiddleware records request latency per route.
func MetricsMiddleware(metrics *obsmetrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if strings.TrimSpace(route) == "" || route == "/metrics" {
			return
		}
		metrics.ObserveHTTPRequest(
			c.Request.Method,
			route,
			strconv.Itoa(c.Writer.Status()),
			time.Since(start),
		)
	}
}
