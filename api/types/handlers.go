package types

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/killallgit/episode-harvester/pkg/errors"
)

// SendError renders err with the HTTP status its error code maps to.
// Errors that are not AppErrors become 500s.
func SendError(c *gin.Context, err error) {
	code := apperrors.GetCode(err)
	message := "Internal server error"
	var details interface{}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		message = appErr.Message
		if len(appErr.Details) > 0 {
			details = appErr.Details
		}
	}

	c.JSON(apperrors.GetHTTPCode(err), ErrorResponse{
		Status:  StatusError,
		Message: message,
		Error:   string(code),
		Details: details,
	})
}

// SendSuccess sends a standardized success response with data
func SendSuccess(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}
