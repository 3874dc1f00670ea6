package server

import (
	"net/http"

	"personachat/internal/auth"
	"personachat/internal/config"
	"personachat/internal/metrics"
	"personachat/internal/mw"
	"personachat/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps 是路由需要的全部依赖。
type Deps struct {
	Handler *Handler
	Users   store.UserStore
	Limiter *mw.KeyedLimiter
	// WS 是 /ws 端点，token 校验在其内部完成。
	WS gin.HandlerFunc
}

// SetupRouter 统一初始化 Gin 中间件、REST API 以及 WebSocket 端点。
func SetupRouter(cfg config.Config, d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env))
	if d.Limiter != nil {
		r.Use(d.Limiter.Middleware())
	}

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := d.Handler
	api := r.Group("/api/v1")
	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)
	api.POST("/auth/refresh", h.RefreshToken)

	// 需要 Bearer Token 的业务接口。
	authed := api.Group("")
	authed.Use(auth.Middleware(cfg.JWTSecret, d.Users))
	authed.GET("/users", h.ListUsers)
	authed.GET("/rooms", h.ListRooms)
	authed.POST("/rooms", h.CreateRoom)
	authed.GET("/rooms/:id/messages", h.ListMessages)
	authed.POST("/messages/:id/star", h.StarMessage)
	authed.GET("/personas", h.ListPersonas)
	authed.POST("/personas", h.CreatePersona)
	authed.GET("/personas/:id", h.GetPersona)
	authed.DELETE("/personas/:id", h.DeletePersona)

	if d.WS != nil {
		r.GET("/ws", d.WS)
	}
	return r
}
