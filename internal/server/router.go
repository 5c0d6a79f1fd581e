package server

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/alevoro-com/alevoro/internal/auth"
	"github.com/alevoro-com/alevoro/internal/config"
	"github.com/alevoro-com/alevoro/internal/http/handlers"
	"github.com/alevoro-com/alevoro/internal/http/middleware"
	"github.com/alevoro-com/alevoro/internal/version"
	"github.com/alevoro-com/alevoro/internal/ws"
)

const maxBodyBytes = 1 << 20

type Dependencies struct {
	Pinger          handlers.Pinger
	MarketHandler   *handlers.MarketHandler
	RegistryHandler *handlers.RegistryHandler
	WSHandler       *ws.Handler
	JWTManager      *auth.JWTManager
}

func NewRouter(cfg config.Config, logger *slog.Logger, deps Dependencies) *gin.Engine {
	if cfg.Env == "prod" || cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(func(c *gin.Context) {
		logger.Info("request", "method", c.Request.Method, "path", c.Request.URL.Path)
		c.Next()
	})

	health := handlers.NewHealthHandler(deps.Pinger)
	meta := handlers.NewMetaHandler(cfg.Env, version.Version)

	r.GET("/health", health.Health)
	r.GET("/ready", health.Ready)
	r.GET("/v1/meta", meta.GetMeta)

	if deps.WSHandler != nil {
		r.GET("/ws", deps.WSHandler.HandleWebSocket)
	}

	if deps.MarketHandler != nil && deps.JWTManager != nil {
		public := r.Group("/v1")
		public.GET("/items", deps.MarketHandler.ListAll)
		public.GET("/accounts/:accountId/items", deps.MarketHandler.ListForAccount)
		public.GET("/accounts/:accountId/financed", deps.MarketHandler.ListFinanced)

		protected := r.Group("/v1")
		protected.Use(middleware.RequireAuth(deps.JWTManager), middleware.RequestBodyLimit(maxBodyBytes))
		protected.POST("/items/:itemId/cancel", deps.MarketHandler.CancelListing)
		protected.POST("/items/:itemId/finance", deps.MarketHandler.Finance)
		protected.POST("/items/:itemId/repay", deps.MarketHandler.Repay)
		protected.POST("/items/:itemId/reclaim", deps.MarketHandler.Reclaim)
		protected.POST("/items/:itemId/finalize", deps.MarketHandler.Finalize)

		if deps.RegistryHandler != nil {
			protected.POST("/registry/approvals", deps.RegistryHandler.HandleApproval)
			protected.POST("/registry/approvals/result", deps.RegistryHandler.HandleApprovalResult)
			public.GET("/items/:itemId/metadata", deps.RegistryHandler.GetItemMetadata)
		}
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	})

	return r
}
