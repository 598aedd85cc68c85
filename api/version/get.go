package version

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/killallgit/episode-harvester/api/types"
)

// Get handles version requests
func Get(build types.BuildInfo) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"name":        "episode-harvester",
			"version":     build.Version,
			"git_commit":  build.GitCommit,
			"build_time":  build.BuildTime,
			"description": "Podcast episode harvester status API",
			"status":      "running",
		})
	}
}
