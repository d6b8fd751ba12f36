package httpserver

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"taskportal/pkg/metrics"
	"taskportal/pkg/trace"
)

// RequestLogger 注入 trace_id、记录访问日志和请求耗时
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		ctx, traceID := trace.Ensure(c.Request.Context(), c.GetHeader(trace.HeaderName()))
		c.Request = c.Request.WithContext(ctx)
		c.Header(trace.HeaderName(), traceID)

		c.Next()

		// 未匹配路由时用固定值，避免 path 标签基数失控
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)
		metrics.RecordHTTPRequestDuration(c.Request.Method, route, strconv.Itoa(status), elapsed)

		fields := []zap.Field{
			zap.String("trace_id", traceID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", elapsed),
		}
		if route == "/healthz" || route == "/readyz" || route == "/metrics" {
			logger.Debug("HTTP request", fields...)
			return
		}
		logger.Info("HTTP request", fields...)
	}
}
