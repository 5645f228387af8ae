// internal/server/handlers.go
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/temmyjay001/payments-core/pkg/api"
)

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	api.WriteSuccessResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"version":   "1.0.0",
	})
}

func (s *Server) healthDBHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	err := s.db.Health(ctx)
	if err != nil {
		api.WriteErrorResponse(w, http.StatusServiceUnavailable, "Database connection failed")
		return
	}

	api.WriteSuccessResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"database":  "connected",
		"timestamp": time.Now().UTC(),
	})
}

// breakerHandler reports the gateway circuit breaker state.
func (s *Server) breakerHandler(w http.ResponseWriter, r *http.Request) {
	api.WriteSuccessResponse(w, http.StatusOK, s.gateway.BreakerSnapshot())
}
