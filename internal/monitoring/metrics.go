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

	// 发送指标
	MessagesSent       prometheus.Counter
	RecipientsAccepted prometheus.Counter
	RecipientsRefused  prometheus.Counter
	DeliveryDuration   prometheus.Histogram

	// 队列指标
	MessagesQueued prometheus.Counter
	QueueDrained   prometheus.Counter
	QueueFailed    prometheus.Counter
	QueuePending   prometheus.Gauge

	// 错误指标
	ErrorsTotal *prometheus.CounterVec
	PanicsTotal prometheus.Counter
}

// NewMetrics 创建监控指标
func NewMetrics() *Metrics {
	return &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailspool_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailspool_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		MessagesSent: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mailspool_messages_sent_total",
				Help: "Total number of messages delivered upstream",
			},
		),

		RecipientsAccepted: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mailspool_recipients_accepted_total",
				Help: "Total number of recipients accepted by the upstream server",
			},
		),

		RecipientsRefused: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mailspool_recipients_refused_total",
				Help: "Total number of recipients refused by the upstream server",
			},
		),

		DeliveryDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mailspool_delivery_duration_seconds",
				Help:    "End to end compose and delivery duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),

		MessagesQueued: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mailspool_messages_queued_total",
				Help: "Total number of messages written to the spool",
			},
		),

		QueueDrained: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mailspool_queue_drained_total",
				Help: "Total number of spool entries delivered and moved to sent",
			},
		),

		QueueFailed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mailspool_queue_failed_total",
				Help: "Total number of spool entries moved to failed",
			},
		),

		QueuePending: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailspool_queue_pending",
				Help: "Number of entries currently waiting in the spool",
			},
		),

		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailspool_errors_total",
				Help: "Total number of errors by category",
			},
			[]string{"category"},
		),

		PanicsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mailspool_panics_total",
				Help: "Total number of recovered panics",
			},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordError 记录错误指标
func (m *Metrics) RecordError(category string) {
	m.ErrorsTotal.WithLabelValues(category).Inc()
}

// RecordPanic 记录 panic 指标
func (m *Metrics) RecordPanic() {
	m.PanicsTotal.Inc()
}

// Handler 返回 Prometheus 指标处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
