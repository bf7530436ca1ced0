package middleware

import (
	"runtime"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"timecapsule/backend/internal/monitoring"
	"timecapsule/backend/internal/pool"
)

// MonitoringMiddleware 监控中间件
type MonitoringMiddleware struct {
	metrics *monitoring.Metrics
	workers *pool.WorkerPool
	started time.Time
	logger  *zap.Logger
}

// NewMonitoringMiddleware 创建监控中间件
func NewMonitoringMiddleware(metrics *monitoring.Metrics, workers *pool.WorkerPool, logger *zap.Logger) *MonitoringMiddleware {
	return &MonitoringMiddleware{
		metrics: metrics,
		workers: workers,
		started: time.Now(),
		logger:  logger,
	}
}

// HTTPMetrics HTTP 指标中间件
func (mm *MonitoringMiddleware) HTTPMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestSize := c.Request.ContentLength
		if requestSize < 0 {
			requestSize = 0
		}

		c.Next()

		duration := time.Since(start)
		statusCode := strconv.Itoa(c.Writer.Status())
		responseSize := int64(c.Writer.Size())

		mm.metrics.RecordHTTPRequest(
			c.Request.Method,
			c.FullPath(),
			statusCode,
			duration,
			requestSize,
			responseSize,
		)

		if c.Writer.Status() >= 500 {
			mm.metrics.RecordError("http_error", "http")
		}
		if c.Writer.Status() == 429 {
			mm.metrics.RecordRateLimitBlock("http")
		}
	}
}

// PanicRecovery Panic 恢复中间件（带指标）
func (mm *MonitoringMiddleware) PanicRecovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				mm.metrics.RecordPanic()

				mm.logger.Error("panic recovered",
					zap.Any("error", err),
					zap.String("method", c.Request.Method),
					zap.String("path", c.Request.URL.Path),
					zap.String("ip", c.ClientIP()),
				)

				c.AbortWithStatusJSON(500, gin.H{
					"code": 500,
					"msg":  "服务器内部错误，请稍后重试",
				})
			}
		}()

		c.Next()
	}
}

// SystemMetrics 系统指标中间件
func (mm *MonitoringMiddleware) SystemMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		mm.metrics.UpdateMemoryUsage(int64(m.Alloc))
		mm.metrics.UpdateSystemUptime(time.Since(mm.started))
		if mm.workers != nil {
			mm.metrics.UpdateVerifyQueueDepth(mm.workers.QueueDepth())
		}
	}
}
