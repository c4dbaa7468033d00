package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MarvelCollin/MisVord-sub009/internal/config"
	"github.com/MarvelCollin/MisVord-sub009/internal/metrics"
	"github.com/MarvelCollin/MisVord-sub009/internal/mw"
	"github.com/MarvelCollin/MisVord-sub009/internal/ws"
)

// NewRouter 组装 HTTP 面：健康检查、指标端点和 WebSocket 升级入口。
// 两个限速器由调用方持有：httpRL 限制升级握手，eventRL 限制连接帧速。
func NewRouter(cfg config.Config, hub *ws.Hub, sock *SocketServer, httpRL, eventRL *mw.RL) *gin.Engine {
	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 升级握手限速，升级后的帧速由连接级限速器负责
	r.GET("/ws", mw.RateLimit(httpRL),
		ws.Serve(hub, sock.Dispatcher(), cfg.JWTSecret, eventRL, sock.OnConnect))

	return r
}
