package health

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/killallgit/episode-harvester/api/types"
)

// Get handles health check requests. The ledger is probed with a summary
// query; a failing ledger makes the whole service unhealthy.
func Get(deps *types.Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		response := gin.H{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}
		code := http.StatusOK

		ledgerStatus := getLedgerStatus(c, deps)
		if ledgerStatus["status"] == "unhealthy" {
			response["status"] = "unhealthy"
			code = http.StatusServiceUnavailable
		}
		response["ledger"] = ledgerStatus

		c.JSON(code, response)
	}
}

// getLedgerStatus returns the ledger status
func getLedgerStatus(c *gin.Context, deps *types.Dependencies) gin.H {
	if deps == nil || deps.Ledger == nil {
		return gin.H{"status": "not configured"}
	}

	counts, err := deps.Ledger.Summary(c.Request.Context())
	if err != nil {
		return gin.H{"status": "unhealthy", "error": err.Error()}
	}

	return gin.H{"status": "healthy", "entries": counts.Total()}
}
