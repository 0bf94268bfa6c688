package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/hidrolabs/aquarelay/internal/common/config"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry   *prometheus.Registry
	namespace  string
	httpReqCnt *prometheus.CounterVec
	httpDur    *prometheus.HistogramVec
	httpInfl   *prometheus.GaugeVec

	webhookEvtCnt *prometheus.CounterVec
	replyCnt      *prometheus.CounterVec
	replyDur      *prometheus.HistogramVec
	replyInfl     prometheus.Gauge
	toolExecCnt   *prometheus.CounterVec
	toolExecDur   *prometheus.HistogramVec
	streamGauge   prometheus.Gauge
	deliveryCnt   *prometheus.CounterVec
}

func New(cfg config.MetricsConfig) *Metrics {
	ns := cfg.Namespace
	r := prometheus.NewRegistry()
	// Register standard process and Go collectors
	r.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	r.MustRegister(collectors.NewGoCollector())

	// Register basic HTTP metrics
	httpReqCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "http_requests_total"}, []string{"method", "route", "status"})
	httpDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: "http_request_duration_seconds", Buckets: cfg.Buckets}, []string{"method", "route", "status"})
	httpInfl := prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: ns, Name: "http_requests_inflight"}, []string{"route"})
	r.MustRegister(httpReqCnt, httpDur, httpInfl)

	webhookEvtCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "webhook_events_total"}, []string{"event", "outcome"})
	r.MustRegister(webhookEvtCnt)

	replyCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "replies_total"}, []string{"mode", "status"})
	replyDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: "reply_duration_seconds", Buckets: cfg.Buckets}, []string{"mode", "status"})
	replyInfl := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: "replies_inflight"})
	r.MustRegister(replyCnt, replyDur, replyInfl)

	toolExecCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "tool_execution_total"}, []string{"tool_name", "status"})
	toolExecDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: "tool_execution_duration_seconds", Buckets: cfg.Buckets}, []string{"tool_name", "status"})
	r.MustRegister(toolExecCnt, toolExecDur)

	streamGauge := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: "notification_streams_open"})
	deliveryCnt := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "notification_deliveries_total"}, []string{"outcome"})
	r.MustRegister(streamGauge, deliveryCnt)

	return &Metrics{
		registry:      r,
		namespace:     ns,
		httpReqCnt:    httpReqCnt,
		httpDur:       httpDur,
		httpInfl:      httpInfl,
		webhookEvtCnt: webhookEvtCnt,
		replyCnt:      replyCnt,
		replyDur:      replyDur,
		replyInfl:     replyInfl,
		toolExecCnt:   toolExecCnt,
		toolExecDur:   toolExecDur,
		streamGauge:   streamGauge,
		deliveryCnt:   deliveryCnt,
	}
}

// WebhookEvent counts one inbound webhook event by type and outcome
// (enqueued, dropped, rejected, ignored).
func (m *Metrics) WebhookEvent(event, outcome string) {
	m.webhookEvtCnt.WithLabelValues(event, outcome).Inc()
}

func (m *Metrics) ReplyStart() {
	m.replyInfl.Inc()
}

func (m *Metrics) ReplyDone(mode, status string, since time.Time) {
	m.replyCnt.WithLabelValues(mode, status).Inc()
	m.replyDur.WithLabelValues(mode, status).Observe(time.Since(since).Seconds())
	m.replyInfl.Dec()
}

func (m *Metrics) ToolExecDone(toolName, status string, since time.Time) {
	m.toolExecCnt.WithLabelValues(toolName, status).Inc()
	m.toolExecDur.WithLabelValues(toolName, status).Observe(time.Since(since).Seconds())
}

func (m *Metrics) StreamOpened() {
	m.streamGauge.Inc()
}

func (m *Metrics) StreamClosed() {
	m.streamGauge.Dec()
}

// Deliveries counts notification writes by outcome (delivered, pruned).
func (m *Metrics) Deliveries(outcome string, n int) {
	m.deliveryCnt.WithLabelValues(outcome).Add(float64(n))
}

func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		m.httpInfl.WithLabelValues(route).Inc()
		start := time.Now()
		c.Next()
		status := httpStatus(c.Writer.Status())
		m.httpReqCnt.WithLabelValues(c.Request.Method, route, status).Inc()
		m.httpDur.WithLabelValues(c.Request.Method, route, status).Observe(time.Since(start).Seconds())
		m.httpInfl.WithLabelValues(route).Dec()
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func httpStatus(code int) string { return strconv.Itoa(code) }
