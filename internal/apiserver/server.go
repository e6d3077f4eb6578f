// Package apiserver provides HTTP API endpoints and server functionality for Armature
package apiserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/armature/armature/internal/apiserver/handlers"
	customMiddleware "github.com/armature/armature/internal/apiserver/middleware"
	"github.com/armature/armature/internal/config"
	"github.com/armature/armature/internal/deployment"
	"github.com/armature/armature/internal/events"
	"github.com/armature/armature/internal/interfaces"
	"github.com/armature/armature/internal/logging"
	"github.com/armature/armature/internal/metrics"
)

// Components carries the wired subsystems the API server exposes
type Components struct {
	Service  *deployment.Service
	Registry interfaces.DeploymentRegistry
	History  interfaces.HistoryStore
	Gateway  interfaces.ProviderGateway
	Bus      *events.Bus
	Metrics  *metrics.Collector
}

// APIServer provides HTTP API endpoints for deployment management
type APIServer struct {
	router   chi.Router
	server   *http.Server
	service  *deployment.Service
	registry interfaces.DeploymentRegistry
	history  interfaces.HistoryStore
	gateway  interfaces.ProviderGateway
	bus      *events.Bus
	metrics  *metrics.Collector
	config   *config.ServerConfig
	logger   *logging.Logger
}

// NewAPIServer creates an API server around already-wired components
func NewAPIServer(cfg *config.ServerConfig, components Components) (*APIServer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("server config is required")
	}
	if components.Service == nil {
		return nil, fmt.Errorf("deployment service is required")
	}
	if components.Registry == nil {
		return nil, fmt.Errorf("deployment registry is required")
	}
	if components.History == nil {
		return nil, fmt.Errorf("history store is required")
	}
	if components.Gateway == nil {
		return nil, fmt.Errorf("provider gateway is required")
	}

	router := chi.NewRouter()

	// Middleware
	router.Use(middleware.RequestID) // Generate unique request ID for tracing
	router.Use(middleware.RealIP)    // Get real client IP for logging
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.StripSlashes) // Remove trailing slashes for consistent routing

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	apiServer := &APIServer{
		router:   router,
		server:   server,
		service:  components.Service,
		registry: components.Registry,
		history:  components.History,
		gateway:  components.Gateway,
		bus:      components.Bus,
		metrics:  components.Metrics,
		config:   cfg,
		logger:   logging.NewLogger("apiserver"),
	}

	apiServer.setupRoutes()

	// Add global 404 handler that returns JSON instead of HTML
	// Set after routes to ensure it's the fallback
	router.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		WriteError(w, http.StatusNotFound, "not_found", "The requested endpoint was not found")
	})

	return apiServer, nil
}

// setupRoutes registers the API route tree
func (s *APIServer) setupRoutes() {
	deploymentHandler := handlers.NewDeploymentHandler(s.service)
	historyHandler := handlers.NewHistoryHandler(s.service)
	operationsHandler := handlers.NewOperationsHandler(s.service)

	s.router.Route("/api/v1", func(r chi.Router) {
		// Set 404 handler for this subrouter
		r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
			WriteError(w, http.StatusNotFound, "not_found", "The requested endpoint was not found")
		})

		// The event stream holds its connection open, so it stays outside
		// the request timeout group
		r.Get("/events", s.streamEvents)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))
			r.Use(customMiddleware.ContentTypeValidator())

			r.Route("/deployments", func(r chi.Router) {
				r.With(customMiddleware.DeployRequestValidator()).
					Post("/", deploymentHandler.CreateDeployment)

				r.Get("/", deploymentHandler.ListDeployments)

				r.Route("/{name}", func(r chi.Router) {
					r.Use(customMiddleware.NameParamValidator("name"))

					r.Get("/", deploymentHandler.GetDeployment)
					r.Get("/outputs", deploymentHandler.GetOutputs)
					r.Get("/errors", deploymentHandler.GetErrors)
					r.Get("/wait", deploymentHandler.WaitForDeployment)
					r.Post("/cancel", deploymentHandler.CancelDeployment)
				})
			})

			r.With(customMiddleware.DeployRequestValidator()).
				Post("/environments", deploymentHandler.CreateEnvironment)
			r.Delete("/environments/{project}/{environment}", deploymentHandler.DeleteEnvironment)

			r.Route("/history", func(r chi.Router) {
				r.Get("/", historyHandler.ListHistory)
				r.Get("/stats", historyHandler.GetStatistics)
				r.Get("/trends", historyHandler.GetTrends)
				r.Post("/cleanup", historyHandler.CleanupHistory)
			})

			r.Route("/resource-groups/{name}", func(r chi.Router) {
				r.Use(customMiddleware.NameParamValidator("name"))

				r.Delete("/", operationsHandler.DeleteResourceGroup)
				r.Get("/delete-status", operationsHandler.GetDeleteProgress)
				r.Get("/resources", operationsHandler.ListResources)
			})

			r.Get("/templates", operationsHandler.ListTemplates)

			r.Get("/system/health", s.getSystemHealth)
			r.Get("/system/metrics", s.getSystemMetricsSnapshot)
		})
	})

	// Add Swagger UI endpoint; the exact doc.json route wins over the
	// wildcard so the UI can fetch the spec it points at
	s.router.Get("/swagger/doc.json", s.getSwaggerDoc)
	s.router.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL(fmt.Sprintf("http://localhost:%d/swagger/doc.json", s.config.Port)),
	))
}

// streamEvents pushes deployment events over Server-Sent Events
// @Summary Stream deployment events
// @Description Server-Sent Events stream of deployment updates and errors; optionally filtered to one deployment
// @Tags events
// @Produce text/event-stream
// @Param deployment query string false "Only stream events for this deployment"
// @Success 200 {string} string "Event stream"
// @Router /events [get]
func (s *APIServer) streamEvents(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		WriteError(w, http.StatusNotImplemented, "not_implemented", "Event streaming is not configured")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, "streaming_unsupported", "Response writer does not support streaming")
		return
	}

	filter := r.URL.Query().Get("deployment")

	sub := s.bus.Subscribe(0)
	defer sub.Cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-sub.C:
			if !ok {
				return
			}
			if filter != "" && event.DeploymentName() != filter {
				continue
			}

			data, err := json.Marshal(event)
			if err != nil {
				s.logger.Errorf("Failed to encode event: %v", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}

// componentHealth represents the health status of a system component
type componentHealth struct {
	Status  string
	Details map[string]interface{}
	Healthy bool
}

// getSystemHealth returns system health status
// @Summary Health check
// @Description Check if the API server and its components are healthy
// @Tags system
// @Produce json
// @Success 200 {object} map[string]interface{} "Service is healthy"
// @Success 503 {object} map[string]interface{} "Service unhealthy"
// @Router /system/health [get]
func (s *APIServer) getSystemHealth(w http.ResponseWriter, r *http.Request) {
	registryHealth := s.checkRegistryHealth()
	historyHealth := s.checkHistoryHealth(r.Context())
	gatewayHealth := s.checkGatewayHealth(r.Context())
	busHealth := s.checkBusHealth()

	overallHealthy := registryHealth.Healthy && historyHealth.Healthy &&
		gatewayHealth.Healthy && busHealth.Healthy

	componentDetails := map[string]interface{}{
		"registry": registryHealth.Details,
		"history":  historyHealth.Details,
		"gateway":  gatewayHealth.Details,
		"events":   busHealth.Details,
	}

	s.sendHealthResponse(w, overallHealthy, componentDetails, s.getRuntimeMetrics())
}

// checkRegistryHealth checks the health of the deployment registry
func (s *APIServer) checkRegistryHealth() componentHealth {
	return componentHealth{
		Status: "healthy",
		Details: map[string]interface{}{
			"status":             "healthy",
			"active_deployments": len(s.registry.List()),
		},
		Healthy: true,
	}
}

// checkHistoryHealth checks connectivity to the history store
func (s *APIServer) checkHistoryHealth(ctx context.Context) componentHealth {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.history.Ping(pingCtx); err != nil {
		return componentHealth{
			Status: "unhealthy",
			Details: map[string]interface{}{
				"status":  "unhealthy",
				"message": fmt.Sprintf("History store connectivity issue: %v", err),
			},
			Healthy: false,
		}
	}

	return componentHealth{
		Status: "healthy",
		Details: map[string]interface{}{
			"status": "healthy",
		},
		Healthy: true,
	}
}

// checkGatewayHealth verifies the provider gateway answers queries
func (s *APIServer) checkGatewayHealth(ctx context.Context) componentHealth {
	listCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	groups, err := s.gateway.ListResourceGroups(listCtx)
	if err != nil {
		return componentHealth{
			Status: "unhealthy",
			Details: map[string]interface{}{
				"status":  "unhealthy",
				"message": fmt.Sprintf("Failed to query provider: %v", err),
			},
			Healthy: false,
		}
	}

	return componentHealth{
		Status: "healthy",
		Details: map[string]interface{}{
			"status":          "healthy",
			"resource_groups": len(groups),
		},
		Healthy: true,
	}
}

// checkBusHealth reports event bus backpressure
func (s *APIServer) checkBusHealth() componentHealth {
	if s.bus == nil {
		return componentHealth{
			Status: "healthy",
			Details: map[string]interface{}{
				"status":  "healthy",
				"message": "Event bus not configured",
			},
			Healthy: true,
		}
	}

	details := map[string]interface{}{
		"status":      "healthy",
		"subscribers": s.bus.SubscriberCount(),
		"dropped":     s.bus.Dropped(),
	}

	return componentHealth{
		Status:  "healthy",
		Details: details,
		Healthy: true,
	}
}

// getRuntimeMetrics returns current Go runtime metrics
func (s *APIServer) getRuntimeMetrics() map[string]interface{} {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return map[string]interface{}{
		"goroutines": runtime.NumGoroutine(),
		"memory": map[string]interface{}{
			"alloc_mb": m.Alloc / 1024 / 1024,
			"sys_mb":   m.Sys / 1024 / 1024,
			"gc_count": m.NumGC,
		},
	}
}

// sendHealthResponse sends the health check response
func (s *APIServer) sendHealthResponse(w http.ResponseWriter, healthy bool, components, system map[string]interface{}) {
	status := "healthy"
	if !healthy {
		status = "degraded"
	}

	response := map[string]interface{}{
		"status":     status,
		"time":       time.Now().Format(time.RFC3339),
		"components": components,
		"system":     system,
		"version": map[string]interface{}{
			"api": "v1",
			"app": config.AppVersion,
		},
	}

	statusCode := http.StatusOK
	if !healthy {
		statusCode = http.StatusServiceUnavailable
	}

	WriteJSON(w, statusCode, response)
}

// getSystemMetricsSnapshot returns lifecycle metrics counters
// @Summary Get deployment metrics
// @Description Counters for submissions, polls, event coalescing, reconciliation, and deletions
// @Tags system
// @Produce json
// @Success 200 {object} metrics.Snapshot "Metrics snapshot"
// @Router /system/metrics [get]
func (s *APIServer) getSystemMetricsSnapshot(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		WriteError(w, http.StatusNotImplemented, "not_implemented", "Metrics collection is not configured")
		return
	}
	WriteJSON(w, http.StatusOK, s.metrics.GetSnapshot())
}

// Start starts the API server
func (s *APIServer) Start() error {
	s.logger.Infof("Starting API server on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Router returns the HTTP router for testing
func (s *APIServer) Router() http.Handler {
	return s.router
}

// Shutdown gracefully shuts down the API server
func (s *APIServer) Shutdown(ctx context.Context) error {
	s.logger.Infof("Shutting down API server...")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}
