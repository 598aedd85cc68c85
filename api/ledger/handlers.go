package ledger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/killallgit/episode-harvester/api/types"
	"github.com/killallgit/episode-harvester/internal/models"
	ledgerService "github.com/killallgit/episode-harvester/internal/services/ledger"
	apperrors "github.com/killallgit/episode-harvester/pkg/errors"
)

// List returns ledger entries, optionally filtered with ?status=
func List(deps *types.Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		filter := strings.ToLower(strings.TrimSpace(c.Query("status")))

		var (
			entries []models.LedgerEntry
			err     error
		)
		if filter == "" {
			entries, err = deps.Ledger.List(ctx)
		} else {
			status := models.Status(filter)
			if !status.Valid() {
				types.SendError(c, apperrors.New(apperrors.ErrCodeInvalidInput, fmt.Sprintf("invalid status %q", filter)).
					WithDetail("allowed", models.AllStatuses))
				return
			}
			entries, err = deps.Ledger.ListByStatus(ctx, status)
		}
		if err != nil {
			types.SendError(c, apperrors.LedgerError("list", err))
			return
		}
		if entries == nil {
			entries = []models.LedgerEntry{}
		}

		types.SendSuccess(c, types.LedgerEntriesResponse{
			BaseResponse: types.BaseResponse{Status: types.StatusOK},
			Entries:      entries,
			Count:        len(entries),
			Filter:       filter,
		})
	}
}

// Summary returns entry counts per status
func Summary(deps *types.Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		counts, err := deps.Ledger.Summary(c.Request.Context())
		if err != nil {
			types.SendError(c, apperrors.LedgerError("summary", err))
			return
		}

		types.SendSuccess(c, types.SummaryResponse{
			BaseResponse: types.BaseResponse{Status: types.StatusOK},
			Counts:       counts,
			Total:        counts.Total(),
		})
	}
}

// Get returns one entry. Identities contain slashes, so the route uses a
// catch-all parameter.
func Get(deps *types.Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := strings.Trim(c.Param("identity"), "/")
		if identity == "" {
			types.SendError(c, apperrors.MissingFieldError("identity"))
			return
		}

		entry, err := deps.Ledger.Get(c.Request.Context(), identity)
		if errors.Is(err, ledgerService.ErrEntryNotFound) {
			types.SendError(c, apperrors.NotFound("ledger entry", identity))
			return
		}
		if err != nil {
			types.SendError(c, apperrors.LedgerError("get", err))
			return
		}

		types.SendSuccess(c, types.LedgerEntryResponse{
			BaseResponse: types.BaseResponse{Status: types.StatusOK},
			Entry:        entry,
		})
	}
}
