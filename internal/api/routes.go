package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/procpulse-io/procpulse/internal/api/middleware"
)

const (
	healthCheckTimeout = 3 * time.Second
	expectedURLParts   = 2
)

type (
	// HealthStatus represents the health check response structure.
	HealthStatus struct {
		Status      string `json:"status"`
		ServiceName string `json:"serviceName"`
		Version     string `json:"version"`
		Uptime      string `json:"uptime,omitempty"`
	}

	// Route represents an HTTP route configuration with a path and handler.
	// Used for declarative route registration with middleware bypass support.
	Route struct {
		Path    string           // The URL path for this route (e.g., "GET /v1/healthcheck")
		Handler http.HandlerFunc // The HTTP handler function for this route
	}
)

// setupRoutes sets up all HTTP routes for the API server.
func (s *Server) setupRoutes(mux *http.ServeMux) {
	// Public health endpoints
	s.registerPublicRoutes(
		mux,
		Route{"GET /v1/healthcheck", s.handleHealth},      // Liveness: process is up
		Route{"GET /v1/healthcheck/ready", s.handleReady}, // Readiness: database reachable
		Route{"/", s.handleNotFound},                      // Catch-all handler for 404 responses
	)

	// Ingestion
	mux.HandleFunc("POST /v1/events", s.handleIngestEvents)
	mux.HandleFunc("POST /v1/events/batch", s.handleIngestBatch)

	// Query paths
	mux.HandleFunc("GET /v1/events/correlation/{id}", s.handleGetCorrelation)
	mux.HandleFunc("GET /v1/events/trace/{id}", s.handleGetTrace)
	mux.HandleFunc("GET /v1/events/account/{id}", s.handleGetAccountEvents)
	mux.HandleFunc("GET /v1/events/batch/{id}", s.handleGetBatchEvents)
	mux.HandleFunc("GET /v1/events/batch/{id}/summary", s.handleGetBatchSummary)
	mux.HandleFunc("GET /v1/events/search", s.handleSearch)

	// Correlation links and catalog
	mux.HandleFunc("POST /v1/correlation-links", s.handleCreateLink)
	mux.HandleFunc("GET /v1/process-definitions", s.handleListDefinitions)
	mux.HandleFunc("GET /v1/process-definitions/{name}", s.handleGetDefinition)
	mux.HandleFunc("GET /v1/accounts/{id}/summary", s.handleGetAccountSummary)
}

// registerPublicRoutes registers HTTP routes that bypass authentication.
// It registers the handler with the mux and records the path as a public
// endpoint so the auth middleware lets it through.
//
// Security warning: never register business logic endpoints as public routes.
func (s *Server) registerPublicRoutes(mux *http.ServeMux, routes ...Route) {
	validHTTPMethods := map[string]bool{
		"GET":    true,
		"POST":   true,
		"PUT":    true,
		"PATCH":  true,
		"DELETE": true,
	}

	for _, route := range routes {
		mux.Handle(route.Path, route.Handler)

		// Strip the Go 1.22 method prefix ("GET /path") because the auth
		// bypass matches on r.URL.Path, which carries no method.
		path := route.Path

		parts := strings.Fields(path)
		if len(parts) == expectedURLParts && validHTTPMethods[parts[0]] {
			path = strings.TrimSpace(parts[1])
		}

		if path == "" {
			s.logger.Warn("Malformed route path detected, ignoring route", slog.String("path", route.Path))

			continue
		}

		middleware.RegisterPublicEndpoint(path)
	}
}

// handleHealth returns basic liveness information.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var uptime string

	if !s.startTime.IsZero() {
		uptime = time.Since(s.startTime).Round(time.Second).String()
	}

	s.writeJSON(w, r, http.StatusOK, HealthStatus{
		Status:      "healthy",
		ServiceName: "procpulse",
		Version:     "v1.0.0",
		Uptime:      uptime,
	})
}

// handleReady responds to readiness probes with a bounded database check.
//
// Response codes:
//   - 200 OK: database reachable, pod may receive traffic
//   - 503 Service Unavailable: database unhealthy or unreachable
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if err := s.store.HealthCheck(ctx); err != nil {
		s.logger.Error("Storage health check failed",
			slog.String("request_id", middleware.GetRequestID(r.Context())),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, ServiceUnavailable("database unavailable"))

		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write([]byte("ready")); err != nil {
		s.logger.Error("Failed to write ready response",
			slog.String("request_id", middleware.GetRequestID(r.Context())),
			slog.String("error", err.Error()),
		)
	}
}

// handleNotFound returns RFC 7807 compliant 404 responses for unknown endpoints.
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	WriteErrorResponse(w, r, s.logger, NotFound("The requested resource was not found"))
}

// hasJSONContentType checks if Content-Type header starts with "application/json".
// This allows charset parameters (e.g., "application/json; charset=utf-8").
func hasJSONContentType(contentType string) bool {
	return strings.HasPrefix(strings.TrimSpace(contentType), "application/json")
}
