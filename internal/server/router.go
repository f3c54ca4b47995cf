package server

import (
	"time"

	"encchat/internal/auth"
	"encchat/internal/config"
	clog "encchat/internal/log"
	"encchat/internal/metrics"
	"encchat/internal/mw"
	"encchat/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// Deps 是路由依赖的组件，由 main 组装。
type Deps struct {
	Handler  *Handler
	Hub      *ws.Hub
	Verifier auth.Verifier
	// Limiter 为空时使用默认的每 IP+路由限速。
	Limiter *mw.RL
}

// DefaultLimiter 每个 IP+路由每秒 20 次，突发 40。
func DefaultLimiter() *mw.RL {
	return mw.NewRateLimiter(rate.Every(time.Second/20), 40, 2*time.Minute)
}

// SetupRouter 统一初始化 Gin 中间件、REST API 以及 WebSocket 端点。
func SetupRouter(cfg config.Config, d Deps) *gin.Engine {
	h := d.Handler
	limiter := d.Limiter
	if limiter == nil {
		limiter = DefaultLimiter()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(clog.GinMiddleware())
	r.Use(metrics.GinMiddleware())
	// 控制单个 IP+路由的速率，WebSocket 只在握手时计一次。
	r.Use(limiter.Handler())

	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	api.Use(mw.CORS(mw.CORSOptions{AllowAll: cfg.Env == "dev", Allowed: cfg.CORSAllowedOrigins}))
	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)
	api.POST("/auth/refresh", h.RefreshToken)
	// 历史接口沿用 token 查询参数，不挂鉴权中间件。
	api.GET("/rooms/:room/history", h.History)

	authed := api.Group("")
	authed.Use(auth.AuthMiddleware(d.Verifier))
	authed.GET("/rooms", h.ListRooms)

	r.GET("/ws/:room", ws.ServeWS(d.Hub))
	return r
}
