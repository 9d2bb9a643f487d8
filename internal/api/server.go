package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Newton-b/raphtrack-core/internal/auth"
	"github.com/Newton-b/raphtrack-core/internal/feed"
	"github.com/Newton-b/raphtrack-core/internal/middleware"
	"github.com/Newton-b/raphtrack-core/internal/models"
)

// Server wires the HTTP surface over the access-control and feed services.
// REST reads are answered from the resident session the process keeps
// connected; each websocket client gets a session of its own.
type Server struct {
	jwtManager *auth.JWTManager
	identity   *auth.StaticIdentityProvider
	feedCfg    feed.Config
	source     feed.Source
	resident   *feed.Session
	logger     *log.Logger
}

func NewServer(jwtManager *auth.JWTManager, identity *auth.StaticIdentityProvider, feedCfg feed.Config, source feed.Source, resident *feed.Session, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		jwtManager: jwtManager,
		identity:   identity,
		feedCfg:    feedCfg,
		source:     source,
		resident:   resident,
		logger:     logger,
	}
}

// RegisterRoutes attaches every endpoint to the engine.
func (s *Server) RegisterRoutes(router *gin.Engine) {
	m := middleware.NewAuthMiddleware(s.jwtManager, s.identity)

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	v1.POST("/auth/login", s.handleLogin)

	authed := v1.Group("", m.RequireAuth())
	authed.GET("/notifications",
		m.RequirePermission("notifications", models.ActionRead), s.handleListNotifications)
	authed.POST("/notifications/:id/read",
		m.RequirePermission("notifications", models.ActionUpdate), s.handleMarkNotificationRead)
	authed.GET("/dashboard/snapshot",
		m.RequirePermission("dashboard", models.ActionRead), s.handleSnapshot)
	authed.GET("/shipments",
		m.RequirePermission("shipments", models.ActionRead), s.handleListShipments)
	authed.GET("/shipments/:id",
		m.RequirePermission("shipments", models.ActionRead), s.handleGetShipment)
	authed.GET("/feed/ws", s.handleFeedStream)
}
