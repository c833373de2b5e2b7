package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/archibridge/archibridge/internal/events"
	"github.com/archibridge/archibridge/internal/ratelimit"
)

// SetupRoutes configures all HTTP routes.
func (h *Handler) SetupRoutes(hub *events.Hub, rateLimiter *ratelimit.Limiter) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", h.Health).Methods("GET")

	// API v1 routes
	api := r.PathPrefix("/v1").Subrouter()

	// Endpoints that put work on the sync slot are rate limited
	rateLimitedAPI := api.PathPrefix("").Subrouter()
	rateLimitedAPI.Use(RateLimitMiddleware(rateLimiter, 30))
	rateLimitedAPI.HandleFunc("/sync/customers/smart", h.SmartSyncStart).Methods("POST", "OPTIONS")
	rateLimitedAPI.HandleFunc("/sync/{type}", h.TriggerSync).Methods("POST", "OPTIONS")

	// Status and control endpoints (not rate limited)
	api.HandleFunc("/sync/customers/smart/release", h.SmartSyncRelease).Methods("POST", "OPTIONS")
	api.HandleFunc("/sync/intervals", h.GetIntervals).Methods("GET")
	api.HandleFunc("/sync/intervals", h.UpdateIntervals).Methods("PUT", "OPTIONS")
	api.HandleFunc("/status", h.GetStatus).Methods("GET")
	api.HandleFunc("/history", h.GetHistory).Methods("GET")
	api.HandleFunc("/autosync/start", h.AutoSyncStart).Methods("POST", "OPTIONS")
	api.HandleFunc("/autosync/stop", h.AutoSyncStop).Methods("POST", "OPTIONS")
	api.HandleFunc("/autosync", h.GetAutoSync).Methods("GET")
	api.HandleFunc("/pool", h.GetPool).Methods("GET")

	// User endpoints (not rate limited)
	api.HandleFunc("/users/{id}/logout", h.LogoutUser).Methods("POST", "OPTIONS")
	api.HandleFunc("/users/{id}/credentials", h.UpdateCredentials).Methods("PUT", "OPTIONS")

	// Live event stream for the dashboard
	api.Handle("/events", hub).Methods("GET")

	// CORS and request logging middleware
	r.Use(corsMiddleware)
	r.Use(h.loggingMiddleware)

	return r
}

// corsMiddleware adds CORS headers.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Client-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
