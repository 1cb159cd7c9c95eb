package routes

import (
	"log/slog"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/LovationAdmin/voice-invites/handlers"
	"github.com/LovationAdmin/voice-invites/middleware"
)

// RouterOptions carries everything the router wires together.
type RouterOptions struct {
	Logger         *slog.Logger
	AllowedOrigins []string
	Invitations    *handlers.InvitationHandler
	Feed           *handlers.WSHandler
}

// NewRouter builds the gin engine with CORS, request logging, and every route.
func NewRouter(opts RouterOptions) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.Config{
		AllowOrigins:     opts.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           86400,
	}
	router.Use(cors.New(corsConfig))
	router.Use(middleware.RequestLogger(opts.Logger))

	SetupOpsRoutes(router, opts.Invitations)

	api := router.Group("/api")
	{
		SetupInvitationRoutes(api, opts.Invitations)
		SetupFeedRoutes(api, opts.Feed)
	}
	return router
}

// SetupOpsRoutes sets up unauthenticated health and metrics routes.
func SetupOpsRoutes(router *gin.Engine, h *handlers.InvitationHandler) {
	router.GET("/health", h.Health)
	router.GET("/metrics", h.GetMetrics)
}

// SetupInvitationRoutes sets up the invitation and credential routes.
func SetupInvitationRoutes(rg *gin.RouterGroup, h *handlers.InvitationHandler) {
	rg.POST("/invite", h.CreateInvite)
	rg.POST("/token", h.UpdateToken)
	rg.GET("/invitations/:id", h.GetInvitation)
}

// SetupFeedRoutes sets up the lifecycle websocket.
func SetupFeedRoutes(rg *gin.RouterGroup, ws *handlers.WSHandler) {
	rg.GET("/ws", ws.HandleWS)
}
