package adminapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"eventserver/internal/master"
	"eventserver/pkg/middleware"
)

type fakeStore struct {
	clients     []string
	occurrences map[string]map[string]string
}

func (s fakeStore) SMembers(ctx context.Context, key string) ([]string, error) {
	return s.clients, nil
}

func (s fakeStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return s.occurrences[key], nil
}

type fakeMasterState struct {
	state    master.State
	isMaster bool
}

func (m fakeMasterState) State() master.State { return m.state }
func (m fakeMasterState) IsMaster() bool      { return m.isMaster }

func TestStatusEndpoint_RequiresScopeHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := New(":0", fakeStore{}, fakeMasterState{}, func() int64 { return 0 }, middleware.NewAuthMiddleware())

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	srv.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStatusEndpoint_ReturnsMasterStateAndNonOKClients(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := fakeStore{
		clients:     []string{"web01", "web02"},
		occurrences: map[string]map[string]string{"events:web01": {"cpu": `{"status":2}`}},
	}
	srv := New(":0", store, fakeMasterState{state: master.StateRunning, isMaster: true}, func() int64 { return 3 }, middleware.NewAuthMiddleware())

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("X-User-Scopes", "read:status")
	rec := httptest.NewRecorder()
	srv.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"is_master":true`)
	assert.Contains(t, rec.Body.String(), `"in_flight_handlers":3`)
	assert.Contains(t, rec.Body.String(), "web01")
	assert.NotContains(t, rec.Body.String(), "web02")
}
