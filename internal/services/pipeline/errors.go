package pipeline

import (
	"errors"
	"fmt"

	"github.com/killallgit/episode-harvester/internal/services/fetcher"
	"github.com/killallgit/episode-harvester/internal/services/resolver"
	apperrors "github.com/killallgit/episode-harvester/pkg/errors"
)

// interruptedMessage is stored on rows cut short by cancellation
const interruptedMessage = "interrupted"

// resolveFailure classifies an error from the resolve step
func resolveFailure(err error) *apperrors.AppError {
	switch {
	case errors.Is(err, resolver.ErrNotFound):
		return apperrors.Wrap(err, apperrors.ErrCodeNoAudio, "No audio URL found")
	case fetcher.IsTransient(err):
		return apperrors.Wrap(err, apperrors.ErrCodeAPITimeout, "Episode lookup timed out")
	default:
		return apperrors.ExternalServiceError("resolver", err)
	}
}

// downloadFailure classifies an error from the download step
func downloadFailure(err error) *apperrors.AppError {
	return apperrors.Wrap(err, apperrors.ErrCodeDownloadFailed, "Download error")
}

// ledgerMessage renders err as the human-readable text kept on a failed row
func ledgerMessage(err error) string {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		return err.Error()
	}
	if appErr.Code == apperrors.ErrCodeNoAudio || appErr.Cause == nil {
		return appErr.Message
	}
	return fmt.Sprintf("%s: %v", appErr.Message, appErr.Cause)
}
