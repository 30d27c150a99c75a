package server

import "net/http"

// setupRoutes registers all HTTP handlers on the mux.
func (s *Server) setupRoutes(mux *http.ServeMux) {
	// Claim lifecycle
	mux.HandleFunc("POST /api/claims", s.corsMiddleware(s.HandleSubmitClaim))
	mux.HandleFunc("GET /api/claims/{id}", s.corsMiddleware(s.HandleClaimStatus))
	mux.HandleFunc("GET /api/claims/{id}/outcomes", s.corsMiddleware(s.HandleClaimOutcomes))
	mux.HandleFunc("GET /api/claims/{id}/events", s.corsMiddleware(s.HandleClaimSlotEvents))
	mux.HandleFunc("POST /api/claims/{id}/resubmit", s.corsMiddleware(s.HandleResubmit))
	mux.HandleFunc("POST /api/claims/{id}/revision", s.corsMiddleware(s.HandleReturnForRevision))

	// Worker surface
	mux.HandleFunc("POST /api/slots", s.corsMiddleware(s.HandleClaimSlot))
	mux.HandleFunc("POST /api/slots/{token}/heartbeat", s.corsMiddleware(s.HandleHeartbeat))
	mux.HandleFunc("DELETE /api/slots/{token}", s.corsMiddleware(s.HandleReleaseSlot))
	mux.HandleFunc("POST /api/evidence", s.corsMiddleware(s.HandleSubmitEvidence))

	// Observability
	mux.HandleFunc("GET /api/stats", s.corsMiddleware(s.HandleStats))
	mux.HandleFunc("GET /api/stages", s.corsMiddleware(s.HandleStages))
	mux.HandleFunc("GET /health", s.corsMiddleware(s.HandleHealth))
	mux.HandleFunc("/ws", s.corsMiddleware(s.HandleWebSocket))
}

// corsMiddleware applies CORS headers for the configured origins.
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next(w, r)
	}
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.config.Server.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
