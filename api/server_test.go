package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/killallgit/episode-harvester/api/types"
	"github.com/killallgit/episode-harvester/internal/models"
	"github.com/killallgit/episode-harvester/internal/services/ledger"
	"github.com/killallgit/episode-harvester/pkg/config"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	svc, err := ledger.Open(ledger.Options{
		Backend: config.BackendCSV,
		Path:    filepath.Join(t.TempDir(), "ledger.csv"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	_, err = svc.Upsert(context.Background(), "jane_doe/morning_talk/the_long_road", models.StatusFailed,
		ledger.WithError("No audio URL found"))
	require.NoError(t, err)

	server := NewServer("127.0.0.1:0", ServerOptions{})
	server.SetDependencies(&types.Dependencies{
		Ledger: svc,
		Build:  types.BuildInfo{Version: "test"},
	})
	require.NoError(t, server.Initialize())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	})
	return server
}

func TestServer_Routes(t *testing.T) {
	server := newTestServer(t)

	tests := []struct {
		path         string
		expectedCode int
		expectedKey  string
	}{
		{path: "/health", expectedCode: http.StatusOK, expectedKey: "ledger"},
		{path: "/", expectedCode: http.StatusOK, expectedKey: "version"},
		{path: "/api/v1/ledger?status=failed", expectedCode: http.StatusOK, expectedKey: "entries"},
		{path: "/api/v1/ledger/summary", expectedCode: http.StatusOK, expectedKey: "counts"},
		{path: "/api/v1/stream/jane_doe/morning_talk/the_long_road", expectedCode: http.StatusNotFound, expectedKey: "error"},
		{path: "/api/v1/nope", expectedCode: http.StatusNotFound, expectedKey: "path"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			server.Engine().ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))

			assert.Equal(t, tt.expectedCode, w.Code)
			assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Contains(t, body, tt.expectedKey)
		})
	}
}

func TestRegisterRoutes_RequiresLedger(t *testing.T) {
	gin.SetMode(gin.TestMode)
	server := NewServer("127.0.0.1:0", ServerOptions{})
	server.SetDependencies(&types.Dependencies{})
	assert.Error(t, server.Initialize())
}
