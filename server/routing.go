package server

import (
	"net/http"
	"strings"
)

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("GET /ws", s.HandleWebSocket)
	s.mux.HandleFunc("GET /health", s.HandleHealth)
	s.mux.HandleFunc("GET /metrics", s.HandleMetrics)

	s.mux.HandleFunc("GET /api/state", s.HandleState)

	s.mux.HandleFunc("POST /api/surfaces", s.HandleCreateSurface)
	s.mux.HandleFunc("DELETE /api/surfaces", s.HandleRemoveAll)
	s.mux.HandleFunc("DELETE /api/surfaces/{id}", s.HandleRemoveSurface)
	s.mux.HandleFunc("POST /api/surfaces/{id}/expand", s.HandleToggleExpanded)
	s.mux.HandleFunc("POST /api/surfaces/{id}/select", s.HandleSelect)
	s.mux.HandleFunc("POST /api/surfaces/{id}/refresh", s.HandleRefreshSurface)
	s.mux.HandleFunc("POST /api/surfaces/{id}/modal", s.HandleShowModal)
	s.mux.HandleFunc("GET /api/surfaces/{id}/events", s.HandleSurfaceEvents)

	s.mux.HandleFunc("POST /api/listening", s.HandleListening)
	s.mux.HandleFunc("DELETE /api/events", s.HandleClearEventLog)
	s.mux.HandleFunc("POST /api/caches/clear", s.HandleClearCaches)
	s.mux.HandleFunc("POST /api/canonical/refresh", s.HandleRefreshCanonical)

	s.mux.HandleFunc("GET /api/journal", s.HandleJournal)
}

// corsMiddleware sets CORS headers for allowed origins and answers preflight
// requests.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.checkOrigin(r) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkOrigin accepts requests without an Origin header and origins that
// start with an allowed prefix, so any port on an allowed host passes.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if strings.HasPrefix(origin, allowed) {
			return true
		}
	}
	return false
}
