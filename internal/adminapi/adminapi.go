// Package adminapi exposes the read-only admin HTTP surface (spec
// SPEC_FULL.md supplement 2): GET /status reports master state,
// in-flight handler count, and the set of clients currently
// flapping/non-OK. Grounded on the teacher's gin wiring in
// cmd/server-service/main.go and internal/server-service/api/routes,
// and authenticated with the teacher's pkg/middleware.AuthMiddleware
// scope-header pattern.
package adminapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"eventserver/internal/master"
	"eventserver/pkg/middleware"
)

// Store is the subset of store.Store the status endpoint needs to list
// non-OK clients.
type Store interface {
	SMembers(ctx context.Context, key string) ([]string, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
}

// MasterState reports the subset of *master.Master the status endpoint
// reads.
type MasterState interface {
	State() master.State
	IsMaster() bool
}

type statusResponse struct {
	State            master.State `json:"state"`
	IsMaster         bool         `json:"is_master"`
	InFlightHandlers int64        `json:"in_flight_handlers"`
	NonOKClients     []string     `json:"non_ok_clients"`
}

type Server struct {
	engine  *gin.Engine
	httpSrv *http.Server
}

// New builds the /status route group, gated by the "read:status" scope,
// and returns a Server ready to ListenAndServe.
func New(addr string, store Store, ms MasterState, inFlight func() int64, auth middleware.AuthMiddleware) *Server {
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/status", auth.CheckUserPermission("read:status"), func(c *gin.Context) {
		nonOK, err := nonOKClients(c.Request.Context(), store)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"message": "failed to enumerate clients"})
			return
		}
		c.JSON(http.StatusOK, statusResponse{
			State:            ms.State(),
			IsMaster:         ms.IsMaster(),
			InFlightHandlers: inFlight(),
			NonOKClients:     nonOK,
		})
	})

	return &Server{engine: engine, httpSrv: &http.Server{Addr: addr, Handler: engine}}
}

func (s *Server) ListenAndServe() error {
	return s.httpSrv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// nonOKClients walks every known client's per-check occurrence hash and
// reports clients with at least one recorded event (non-OK or flapping).
func nonOKClients(ctx context.Context, store Store) ([]string, error) {
	names, err := store.SMembers(ctx, "clients")
	if err != nil {
		return nil, err
	}
	var flagged []string
	for _, name := range names {
		occurrences, err := store.HGetAll(ctx, "events:"+name)
		if err != nil {
			continue
		}
		if len(occurrences) > 0 {
			flagged = append(flagged, name)
		}
	}
	return flagged, nil
}
