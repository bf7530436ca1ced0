package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
type Metrics struct {
	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// 胶囊指标
	CapsulesCreated prometheus.Counter
	CapsulesDeleted prometheus.Counter
	CapsulesLocked  prometheus.Counter // 创建时带口令的胶囊
	RevealsNotified prometheus.Counter // 揭示扫描器发出的通知

	// 揭示门控指标（按判定结果分类）
	RevealOutcomes *prometheus.CounterVec

	// 媒体管线指标
	MediaIngests        *prometheus.CounterVec // kind × result
	MediaIngestDuration *prometheus.HistogramVec
	AttachmentSize      *prometheus.HistogramVec

	// 口令校验池指标
	VerifyQueueDepth prometheus.Gauge

	// 系统指标
	SystemUptime prometheus.Gauge
	MemoryUsage  prometheus.Gauge

	// 错误指标
	ErrorsTotal *prometheus.CounterVec
	PanicsTotal prometheus.Counter

	// 限流指标
	RateLimitBlocks *prometheus.CounterVec
}

// NewMetrics 创建监控指标
func NewMetrics() *Metrics {
	return &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "timecapsule_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "timecapsule_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		HTTPRequestSize: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "timecapsule_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "endpoint"},
		),

		HTTPResponseSize: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "timecapsule_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "endpoint"},
		),

		CapsulesCreated: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "timecapsule_capsules_created_total",
				Help: "Total number of capsules created",
			},
		),

		CapsulesDeleted: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "timecapsule_capsules_deleted_total",
				Help: "Total number of capsules deleted",
			},
		),

		CapsulesLocked: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "timecapsule_capsules_locked_total",
				Help: "Total number of capsules created with a passphrase",
			},
		),

		RevealsNotified: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "timecapsule_reveals_notified_total",
				Help: "Total number of reveal notifications emitted",
			},
		),

		RevealOutcomes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "timecapsule_reveal_outcomes_total",
				Help: "Capsule read outcomes by reveal gate decision",
			},
			[]string{"outcome"},
		),

		MediaIngests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "timecapsule_media_ingests_total",
				Help: "Media ingestion attempts by kind and result",
			},
			[]string{"kind", "result"},
		),

		MediaIngestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "timecapsule_media_ingest_duration_seconds",
				Help:    "Media ingestion duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
			},
			[]string{"kind"},
		),

		AttachmentSize: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "timecapsule_attachment_size_bytes",
				Help:    "Normalized attachment size in bytes",
				Buckets: prometheus.ExponentialBuckets(1024, 2, 20),
			},
			[]string{"kind"},
		),

		VerifyQueueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "timecapsule_verify_queue_depth",
				Help: "Pending tasks in the passphrase verification pool",
			},
		),

		SystemUptime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "timecapsule_system_uptime_seconds",
				Help: "System uptime in seconds",
			},
		),

		MemoryUsage: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "timecapsule_memory_usage_bytes",
				Help: "Memory usage in bytes",
			},
		),

		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "timecapsule_errors_total",
				Help: "Total number of errors",
			},
			[]string{"type", "component"},
		),

		PanicsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "timecapsule_panics_total",
				Help: "Total number of panics",
			},
		),

		RateLimitBlocks: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "timecapsule_rate_limit_blocks_total",
				Help: "Total number of rate limit blocks",
			},
			[]string{"type"},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration, requestSize, responseSize int64) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	m.HTTPRequestSize.WithLabelValues(method, endpoint).Observe(float64(requestSize))
	m.HTTPResponseSize.WithLabelValues(method, endpoint).Observe(float64(responseSize))
}

// RecordCapsuleCreated 记录胶囊创建
func (m *Metrics) RecordCapsuleCreated(locked bool) {
	m.CapsulesCreated.Inc()
	if locked {
		m.CapsulesLocked.Inc()
	}
}

// RecordCapsuleDeleted 记录胶囊删除
func (m *Metrics) RecordCapsuleDeleted() {
	m.CapsulesDeleted.Inc()
}

// RecordRevealOutcome 记录一次揭示门控判定
func (m *Metrics) RecordRevealOutcome(outcome string) {
	m.RevealOutcomes.WithLabelValues(outcome).Inc()
}

// RecordRevealNotified 记录一次揭示通知
func (m *Metrics) RecordRevealNotified() {
	m.RevealsNotified.Inc()
}

// RecordMediaIngest 记录一次媒体接收
func (m *Metrics) RecordMediaIngest(kind, result string, duration time.Duration, sizeBytes int64) {
	m.MediaIngests.WithLabelValues(kind, result).Inc()
	m.MediaIngestDuration.WithLabelValues(kind).Observe(duration.Seconds())
	if result == "ok" && sizeBytes > 0 {
		m.AttachmentSize.WithLabelValues(kind).Observe(float64(sizeBytes))
	}
}

// RecordError 记录错误
func (m *Metrics) RecordError(errorType, component string) {
	m.ErrorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	m.PanicsTotal.Inc()
}

// RecordRateLimitBlock 记录限流阻止
func (m *Metrics) RecordRateLimitBlock(limitType string) {
	m.RateLimitBlocks.WithLabelValues(limitType).Inc()
}

// UpdateVerifyQueueDepth 更新校验池队列深度
func (m *Metrics) UpdateVerifyQueueDepth(depth int) {
	m.VerifyQueueDepth.Set(float64(depth))
}

// UpdateSystemUptime 更新系统运行时间
func (m *Metrics) UpdateSystemUptime(uptime time.Duration) {
	m.SystemUptime.Set(uptime.Seconds())
}

// UpdateMemoryUsage 更新内存使用量
func (m *Metrics) UpdateMemoryUsage(bytes int64) {
	m.MemoryUsage.Set(float64(bytes))
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.Handler()
}
