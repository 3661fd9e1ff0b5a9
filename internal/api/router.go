// Package api builds the HTTP surface of the settlement service: the gin
// router, its middleware chain, and the WebSocket upgrade endpoint.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/veilbet/darkmarket/internal/api/handler"
	"github.com/veilbet/darkmarket/internal/api/middleware"
	"github.com/veilbet/darkmarket/internal/config"
	"github.com/veilbet/darkmarket/internal/service"
	"github.com/veilbet/darkmarket/internal/ws"
)

// RouterDeps bundles every dependency needed to build the router.
// Populated once in main() and passed to SetupRouter.
type RouterDeps struct {
	SettlementSvc *service.SettlementService
	Hub           *ws.Hub
	Cfg           *config.Config
}

// SetupRouter creates and configures the main Gin engine with all routes,
// middleware, CORS, and rate limiting rules.
func SetupRouter(deps RouterDeps) *gin.Engine {
	if deps.Cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	// ── CORS ─────────────────────────────────────────────────────────────────
	r.Use(corsMiddleware(deps.Cfg))

	// ── Health check ─────────────────────────────────────────────────────────
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// ── Handlers ─────────────────────────────────────────────────────────────
	marketH := handler.NewMarketHandler(deps.SettlementSvc)
	betH := handler.NewBetHandler(deps.SettlementSvc)

	// ── JWT middleware (shared) ───────────────────────────────────────────────
	jwtMW := middleware.JWTMiddleware([]byte(deps.Cfg.JWT.AccessSecret))

	// ── Rate limiters ─────────────────────────────────────────────────────────
	submitRL := middleware.RateLimitMiddleware(30) // 30 req/s per IP on compute submissions

	api := r.Group("/api")
	{
		// ── Markets (reads are public) ───────────────────────────────────────
		markets := api.Group("/markets")
		{
			markets.GET("", marketH.List)
			markets.GET("/:id", marketH.GetByID)
			markets.GET("/:id/resolution", marketH.GetResolution)
		}

		// ── Authenticated routes ──────────────────────────────────────────────
		authed := api.Group("")
		authed.Use(jwtMW)
		{
			authed.POST("/markets", marketH.Create)

			submit := authed.Group("")
			submit.Use(submitRL)
			{
				submit.POST("/markets/:id/bets", betH.PlaceBet)
				submit.POST("/markets/:id/resolve", marketH.Resolve)
				submit.POST("/markets/:id/bets/:betID/claim", betH.Claim)
				submit.POST("/randomness", betH.Randomness)
			}

			authed.GET("/markets/:id/bets/:betID", betH.GetBet)
			authed.GET("/bets/my", betH.GetMyBets)
		}
	}

	// ── WebSocket ─────────────────────────────────────────────────────────────
	if deps.Hub != nil {
		r.GET("/ws", func(c *gin.Context) {
			deps.Hub.ServeWs(c.Writer, c.Request)
		})
	}

	return r
}

// ── CORS helper ───────────────────────────────────────────────────────────────

// corsMiddleware returns a gin middleware that sets appropriate CORS headers.
// In development all origins are allowed; in production only configured origins.
func corsMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		if !cfg.IsProd() {
			// Development: allow any origin
			c.Header("Access-Control-Allow-Origin", "*")
		} else if origin != "" {
			allowed := map[string]bool{
				"https://veilbet.io":     true,
				"https://www.veilbet.io": true,
			}
			if allowed[origin] {
				c.Header("Access-Control-Allow-Origin", origin)
			}
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
