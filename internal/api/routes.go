package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stacklok/toolhive-service-tracker/internal/versions"
)

// HealthRouter creates a router for health check endpoints
func HealthRouter(status StatusProvider) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", healthHandler)
	r.Get("/readiness", readinessHandler(status))
	r.Get("/version", versionHandler)

	return r
}

// SubscriptionsRouter creates a router exposing subscription membership
func SubscriptionsRouter(status StatusProvider) http.Handler {
	r := chi.NewRouter()

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSONResponse(w, SubscriptionList{
			Tracker:       status.TrackerName(),
			Subscriptions: status.Subscriptions(),
		}, http.StatusOK)
	})

	r.Get("/{name}", func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		for _, s := range status.Subscriptions() {
			if s.Name == name {
				writeJSONResponse(w, s, http.StatusOK)
				return
			}
		}
		writeErrorResponse(w, "subscription not found: "+name, http.StatusNotFound)
	})

	return r
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSONResponse(w, HealthResponse{Status: "healthy"}, http.StatusOK)
}

// readinessHandler reports ready once every mandatory subscription has a member
func readinessHandler(status StatusProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		var waiting []string
		for _, s := range status.Subscriptions() {
			if s.Waiting() {
				waiting = append(waiting, s.Name)
			}
		}

		if len(waiting) > 0 {
			writeJSONResponse(w, ReadinessResponse{Status: "waiting", Waiting: waiting}, http.StatusServiceUnavailable)
			return
		}
		writeJSONResponse(w, ReadinessResponse{Status: "ready"}, http.StatusOK)
	}
}

func versionHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSONResponse(w, versions.GetInfo(), http.StatusOK)
}

func writeJSONResponse(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}

func writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	writeJSONResponse(w, ErrorResponse{Error: message}, statusCode)
}
