package stream

import (
	"github.com/gin-gonic/gin"

	"github.com/killallgit/episode-harvester/api/types"
)

// RegisterRoutes registers streaming routes
func RegisterRoutes(router *gin.RouterGroup, deps *types.Dependencies) {
	router.GET("/*identity", StreamEpisode(deps))
	router.HEAD("/*identity", StreamEpisode(deps))
}
