package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/killallgit/episode-harvester/api/types"
	"github.com/killallgit/episode-harvester/internal/services/ledger"
	"github.com/killallgit/episode-harvester/pkg/config"
)

func TestGet(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name           string
		setupDeps      func(t *testing.T) *types.Dependencies
		expectedStatus int
		expectedBody   string
		expectedLedger string
	}{
		{
			name: "healthy with ledger",
			setupDeps: func(t *testing.T) *types.Dependencies {
				svc, err := ledger.Open(ledger.Options{
					Backend: config.BackendSQLite,
					Path:    filepath.Join(t.TempDir(), "ledger.db"),
				})
				require.NoError(t, err)
				t.Cleanup(func() { _ = svc.Close() })
				return &types.Dependencies{Ledger: svc}
			},
			expectedStatus: http.StatusOK,
			expectedBody:   "ok",
			expectedLedger: "healthy",
		},
		{
			name: "without ledger",
			setupDeps: func(t *testing.T) *types.Dependencies {
				return &types.Dependencies{}
			},
			expectedStatus: http.StatusOK,
			expectedBody:   "ok",
			expectedLedger: "not configured",
		},
		{
			name: "unhealthy with closed ledger",
			setupDeps: func(t *testing.T) *types.Dependencies {
				svc, err := ledger.Open(ledger.Options{
					Backend: config.BackendSQLite,
					Path:    filepath.Join(t.TempDir(), "ledger.db"),
				})
				require.NoError(t, err)
				require.NoError(t, svc.Close())
				return &types.Dependencies{Ledger: svc}
			},
			expectedStatus: http.StatusServiceUnavailable,
			expectedBody:   "unhealthy",
			expectedLedger: "unhealthy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/health", nil)

			Get(tt.setupDeps(t))(c)

			assert.Equal(t, tt.expectedStatus, w.Code)

			var response map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
			assert.Equal(t, tt.expectedBody, response["status"])
			assert.NotEmpty(t, response["timestamp"])

			ledgerStatus, ok := response["ledger"].(map[string]interface{})
			require.True(t, ok)
			assert.Equal(t, tt.expectedLedger, ledgerStatus["status"])
		})
	}
}
