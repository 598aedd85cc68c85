package ledger

import (
	"github.com/gin-gonic/gin"

	"github.com/killallgit/episode-harvester/api/types"
)

// RegisterRoutes registers the read-only ledger routes
func RegisterRoutes(router *gin.RouterGroup, deps *types.Dependencies) {
	router.GET("", List(deps))
	router.GET("/summary", Summary(deps))
	router.GET("/entries/*identity", Get(deps))
}
