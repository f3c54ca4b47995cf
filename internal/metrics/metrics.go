package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	WsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_ws_connections",
		Help: "Current number of connections registered in a room",
	})
	WsMessagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_ws_messages_total",
		Help: "Total number of chat messages persisted and broadcast",
	})
	BroadcastFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_broadcast_failures_total",
		Help: "Total number of peers pruned after a failed send",
	})
	PersistFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_persist_failures_total",
		Help: "Total number of messages dropped because encryption or persistence failed",
	})
	AuthRejectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_auth_rejections_total",
		Help: "Total number of websocket connections rejected at authentication",
	}, []string{"reason"})
	HistoryRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_history_requests_total",
		Help: "Total number of history reads by outcome",
	}, []string{"outcome"})
	HttpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HttpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(
		WsConnections, WsMessagesTotal, BroadcastFailuresTotal, PersistFailuresTotal,
		AuthRejectionsTotal, HistoryRequestsTotal, HttpRequestsTotal, HttpRequestDuration,
	)
}

// GinMiddleware 统计基础请求指标，供 Prometheus 拉取。
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			// 未匹配路由时不使用原始路径，避免标签基数失控。
			path = "unmatched"
		}
		labels := prometheus.Labels{"method": c.Request.Method, "path": path, "status": status}
		HttpRequestsTotal.With(labels).Inc()
		HttpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}
