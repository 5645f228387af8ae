package server

import (
	"log"
	"net/http"
	"strings"
)

func (s *Server) contentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// set default content type for API responses
		if strings.HasPrefix(r.URL.Path, "/api/v1") || strings.HasPrefix(r.URL.Path, "/internal") {
			w.Header().Set("Content-Type", "application/json")
		}
		next.ServeHTTP(w, r)
	})
}

// paceMiddleware holds webhook deliveries above the configured rate until the
// limiter admits them. Deliveries are never refused here: when the wait cannot
// finish within the request deadline the delivery goes through unpaced.
func (s *Server) paceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.webhookLimiter.Wait(r.Context()); err != nil {
			log.Printf("Webhook delivery admitted without pacing: %v", err)
		}
		next.ServeHTTP(w, r)
	})
}
