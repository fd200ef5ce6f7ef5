package server

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP handlers.
func (s *Server) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.corsMiddleware(s.HandleWebSocket))                // Job-update push channel
	mux.HandleFunc("/health", s.corsMiddleware(s.HandleHealth))               // Liveness + version
	mux.HandleFunc("/api/reel/jobs", s.corsMiddleware(s.HandleReelJobs))      // List (GET) / trigger (POST)
	mux.HandleFunc("/api/reel/jobs/", s.corsMiddleware(s.HandleReelJob))      // Single job (GET)
	mux.HandleFunc("/api/reel/stats", s.corsMiddleware(s.HandleReelStats))    // Queue + pool stats (GET)
	mux.HandleFunc("/api/reel/budget", s.corsMiddleware(s.HandleReelBudget))  // Budget status (GET) / limits (PATCH)
	mux.HandleFunc("/api/reel/usage", s.corsMiddleware(s.HandleReelUsage))    // Model usage stats (GET)
}

// corsMiddleware adds CORS headers using the configured allowed
// origins, sharing origin validation with the WebSocket upgrade.
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.checkOrigin(r) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

// checkOrigin validates a request origin against the configured
// allow-list. Prefix matching keeps any localhost port acceptable.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Direct clients (curl, native apps) send no origin header.
		return true
	}

	allowed := []string{"http://localhost", "https://localhost"}
	if s.cfg != nil {
		allowed = s.cfg.GetServerAllowedOrigins()
	}
	for _, prefix := range allowed {
		if strings.HasPrefix(origin, prefix) {
			return true
		}
	}
	return false
}

// FindAvailablePort tries the requested port first, then up to ten
// successors, so a second daemon instance fails loudly instead of
// silently stealing traffic.
func FindAvailablePort(requestedPort int) (int, error) {
	for port := requestedPort; port <= requestedPort+10; port++ {
		listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err != nil {
			continue
		}
		listener.Close()
		return port, nil
	}
	return 0, fmt.Errorf("no available port in range %d-%d", requestedPort, requestedPort+10)
}
