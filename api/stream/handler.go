package stream

import (
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/killallgit/episode-harvester/api/types"
	"github.com/killallgit/episode-harvester/internal/models"
	ledgerService "github.com/killallgit/episode-harvester/internal/services/ledger"
	apperrors "github.com/killallgit/episode-harvester/pkg/errors"
)

// StreamEpisode serves the downloaded audio of a completed ledger entry with
// range request support (seeking)
func StreamEpisode(deps *types.Dependencies) gin.HandlerFunc {
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

		path, ok := audioPath(entry, deps.OutputDir)
		if !ok {
			types.SendError(c, apperrors.New(apperrors.ErrCodeNoAudio, "Audio not available for this episode").
				WithDetail("status", entry.Status))
			return
		}

		file, err := os.Open(path)
		if err != nil {
			slog.Debug("Stream file missing", "identity", identity, "path", path, "error", err)
			types.SendError(c, apperrors.New(apperrors.ErrCodeNoAudio, "Audio file is missing"))
			return
		}
		defer file.Close()

		info, err := file.Stat()
		if err != nil || info.IsDir() {
			types.SendError(c, apperrors.New(apperrors.ErrCodeNoAudio, "Audio file is missing"))
			return
		}

		contentType := mime.TypeByExtension(filepath.Ext(path))
		if contentType == "" {
			contentType = "audio/mpeg"
		}
		c.Header("Content-Type", contentType)
		c.Header("Accept-Ranges", "bytes")
		c.Header("Access-Control-Expose-Headers", "Content-Length, Content-Range, Accept-Ranges")

		slog.Debug("Streaming audio", "identity", identity, "path", path, "range", c.GetHeader("Range"))
		http.ServeContent(c.Writer, c.Request, filepath.Base(path), info.ModTime(), file)
	}
}

// audioPath returns the file behind a completed entry. When outputDir is
// set the file must live inside it.
func audioPath(entry *models.LedgerEntry, outputDir string) (string, bool) {
	if entry.Status != models.StatusCompleted || entry.OutputPath == "" {
		return "", false
	}
	path := filepath.Clean(entry.OutputPath)
	if outputDir == "" {
		return path, true
	}

	root, err := filepath.Abs(outputDir)
	if err != nil {
		return "", false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return abs, true
}
