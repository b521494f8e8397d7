package router

import (
	"net/http"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/handler"
	"github.com/stemsi/exstem-session/internal/identity"
	"github.com/stemsi/exstem-session/internal/metrics"
	"github.com/stemsi/exstem-session/internal/middleware"
	"github.com/stemsi/exstem-session/internal/response"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Identity *handler.IdentityHandler
	WS       *handler.WSHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	tokens *identity.Tokens,
	handlers *Handlers,
	cfg *config.Config,
	log zerolog.Logger,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Request ID and request-scoped logger on every response.
	router.Use(response.RequestIDMiddleware(log))
	router.Use(metrics.Middleware())
	router.Use(middleware.Brotli(brotli.DefaultCompression, 0))

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", metrics.Handler())

	// ─── 1. Identity Group (Public, Rate Limited) ──────────────────────
	identityLimiter := middleware.NewRateLimiter(cfg.IdentityRatePerMinute)

	tests := router.Group("/api/v1/tests/:test_id")
	{
		tests.POST("/identity",
			identityLimiter.Middleware(),
			middleware.OptionalAttemptToken(tokens),
			handlers.Identity.IssueIdentity,
		)
		tests.GET("/identity", middleware.RequireAttemptToken(tokens), handlers.Identity.GetIdentity)
		tests.DELETE("/identity", middleware.RequireAttemptToken(tokens), handlers.Identity.DeleteIdentity)
	}

	// ─── 2. WebSocket Group (Attempt Token) ────────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireAttemptToken(tokens))
	{
		ws.GET("/tests/:test_id/session", handlers.WS.TestSessionStream)
	}

	return router
}
