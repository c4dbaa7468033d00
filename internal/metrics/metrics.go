package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	WsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "misvord_ws_connections",
		Help: "Current number of active websocket connections",
	})
	SocketEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "misvord_socket_events_total",
		Help: "Total number of inbound socket events by event name",
	}, []string{"event"})
	BroadcastsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "misvord_broadcasts_total",
		Help: "Total number of outbound broadcasts by event name",
	}, []string{"event"})
	BotCommandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "misvord_bot_commands_total",
		Help: "Total number of recognized bot commands by verb",
	}, []string{"verb"})
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
	prometheus.MustRegister(WsConnections, SocketEventsTotal, BroadcastsTotal, BotCommandsTotal, HttpRequestsTotal, HttpRequestDuration)
}

// GinMiddleware 统计基础请求指标，供 Prometheus 拉取。
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		labels := prometheus.Labels{"method": c.Request.Method, "path": path, "status": status}
		HttpRequestsTotal.With(labels).Inc()
		HttpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}
