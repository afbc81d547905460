package api

import (
	"swapgogo/backend/internal/api/handler"
	"swapgogo/backend/internal/api/middleware"
	"swapgogo/backend/internal/security"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// NewRouter creates and configures the HTTP router. devAuth mounts the
// token issuing endpoint, which must stay off in production.
func NewRouter(logger zerolog.Logger, h *handler.Handler, tokens *security.TokenService, devAuth bool) *gin.Engine {
	r := gin.New()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics())
	r.Use(middleware.Logger(logger))
	r.Use(gin.Recovery())

	// Metrics endpoint (for Prometheus scraping)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", h.Health)

	if devAuth {
		r.GET("/anonid", h.GetAnonID) // Отримання JWT
	}

	auth := middleware.RequireAuth(tokens)

	ws := r.Group("/ws", auth)
	ws.GET("/chat/:chat_id", h.ServeChatSocket)
	ws.GET("/notifications", h.ServeNotificationSocket)

	apiGroup := r.Group("/api", auth)
	apiGroup.POST("/chats", h.CreateChat)
	apiGroup.GET("/chats/:chat_id/swap", h.GetSwapState)

	return r
}
