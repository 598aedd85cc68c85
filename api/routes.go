package api

import (
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/killallgit/episode-harvester/api/health"
	"github.com/killallgit/episode-harvester/api/ledger"
	"github.com/killallgit/episode-harvester/api/stream"
	"github.com/killallgit/episode-harvester/api/types"
	"github.com/killallgit/episode-harvester/api/version"
)

// RegisterRoutes registers all API routes
func RegisterRoutes(engine *gin.Engine, deps *types.Dependencies, rateLimiters *sync.Map, cleanupStop chan struct{}, cleanupInitialized *sync.Once) error {
	if deps == nil || deps.Ledger == nil {
		return errors.New("api requires a ledger")
	}

	// Register public routes (no rate limiting)
	health.RegisterRoutes(engine, deps)
	version.RegisterRoutes(engine, deps)

	engine.NoRoute(NotFoundHandler())

	v1 := engine.Group("/api/v1")

	// Ledger reads scan the whole ledger, so they get general rate limiting (10 req/s, burst of 20)
	ledgerGroup := v1.Group("/ledger")
	ledgerGroup.Use(PerClientRateLimit(rateLimiters, cleanupStop, cleanupInitialized, 10, 20))
	ledger.RegisterRoutes(ledgerGroup, deps)

	// Streams hold a connection for the whole file, so fewer are allowed (2 req/s, burst of 5)
	streamGroup := v1.Group("/stream")
	streamGroup.Use(PerClientRateLimit(rateLimiters, cleanupStop, cleanupInitialized, 2, 5))
	stream.RegisterRoutes(streamGroup, deps)

	return nil
}

// NotFoundHandler handles 404 errors
func NotFoundHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"status":  "error",
			"message": "The requested endpoint was not found",
			"path":    c.Request.URL.Path,
		})
	}
}
