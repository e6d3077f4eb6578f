// Package handlers provides HTTP request handlers for the API server.
package handlers

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/armature/armature/internal/deployment"
	"github.com/armature/armature/internal/interfaces"
	"github.com/armature/armature/internal/logging"
)

// Package-level logger for global functions
var logger = logging.NewLogger("deployment-handler")

// ErrorResponse represents a structured error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeJSON safely writes JSON response with proper error handling
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encoding_error", "Failed to encode response")
		logger.Errorf("JSON encoding error: %v, data: %+v", err, data)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if _, err := w.Write(jsonData); err != nil {
		logger.Errorf("Failed to write response body: %v", err)
	}
}

// writeError writes a structured error response
func writeError(w http.ResponseWriter, status int, code string, message string) {
	response := ErrorResponse{
		Error:   code,
		Message: message,
	}

	jsonData, err := json.Marshal(response)
	if err != nil {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Internal server error: failed to encode error response"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if _, err := w.Write(jsonData); err != nil {
		logger.Errorf("Failed to write error response: %v", err)
	}
}

// writeServiceError maps a deployment service error to an HTTP response
func writeServiceError(w http.ResponseWriter, err error) {
	if depErr, ok := deployment.IsDeploymentError(err); ok {
		writeError(w, depErr.HTTPStatus, depErr.Code, depErr.Message)
		return
	}
	writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
}

// validNamePattern allows alphanumeric, hyphens, underscores, dots;
// must start with an alphanumeric character
var validNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

func validateName(name string) bool {
	return name != "" && len(name) <= 100 && validNamePattern.MatchString(name)
}

// DeploymentHandler handles deployment-related HTTP requests
type DeploymentHandler struct {
	service *deployment.Service
	logger  *logging.Logger
}

// NewDeploymentHandler creates a new deployment handler
func NewDeploymentHandler(service *deployment.Service) *DeploymentHandler {
	return &DeploymentHandler{
		service: service,
		logger:  logging.NewLogger("deployment-handler"),
	}
}

// CreateDeployment submits a new template deployment
// @Summary Create new deployment
// @Description Submit a template deployment into a resource group
// @Tags deployments
// @Accept json
// @Produce json
// @Param deployment body deployment.DeployRequest true "Deployment request"
// @Success 202 {object} deployment.Status "Deployment accepted"
// @Failure 400 {object} ErrorResponse "Bad request"
// @Failure 404 {object} ErrorResponse "Template or resource group not found"
// @Router /deployments [post]
func (h *DeploymentHandler) CreateDeployment(w http.ResponseWriter, r *http.Request) {
	var req deployment.DeployRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "Invalid JSON in request body")
		return
	}

	status, err := h.service.Deploy(r.Context(), &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, status)
}

// CreateEnvironment provisions a full environment
// @Summary Deploy complete environment
// @Description Provision the environment resource group and deploy the complete-environment template
// @Tags deployments
// @Accept json
// @Produce json
// @Param environment body deployment.EnvironmentRequest true "Environment request"
// @Success 202 {object} deployment.Status "Deployment accepted"
// @Failure 400 {object} ErrorResponse "Bad request"
// @Router /environments [post]
func (h *DeploymentHandler) CreateEnvironment(w http.ResponseWriter, r *http.Request) {
	var req deployment.EnvironmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "Invalid JSON in request body")
		return
	}

	status, err := h.service.DeployEnvironment(r.Context(), &req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, status)
}

// DeleteEnvironment tears down an environment's resource group
// @Summary Delete environment
// @Description Begin deleting the resource group an environment was deployed into
// @Tags deployments
// @Produce json
// @Param project path string true "Project name"
// @Param environment path string true "Environment name"
// @Success 202 {object} deployment.DeleteStatus "Deletion started"
// @Failure 404 {object} ErrorResponse "Resource group not found"
// @Failure 409 {object} ErrorResponse "Deletion already in progress"
// @Router /environments/{project}/{environment} [delete]
func (h *DeploymentHandler) DeleteEnvironment(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")
	environment := chi.URLParam(r, "environment")
	if !validateName(project) || !validateName(environment) {
		writeError(w, http.StatusBadRequest, "invalid_name", "Project or environment contains invalid characters")
		return
	}

	status, err := h.service.DeleteEnvironment(r.Context(), project, environment)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, status)
}

// ListDeployments lists tracked deployments
// @Summary List deployments
// @Description List all deployments currently tracked, reconciled against the provider
// @Tags deployments
// @Produce json
// @Success 200 {array} deployment.Status "Tracked deployments"
// @Router /deployments [get]
func (h *DeploymentHandler) ListDeployments(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.service.List(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statuses)
}

// GetDeployment returns the status of one deployment
// @Summary Get deployment status
// @Tags deployments
// @Produce json
// @Param name path string true "Deployment name"
// @Success 200 {object} deployment.Status "Deployment status"
// @Failure 404 {object} ErrorResponse "Deployment not found"
// @Router /deployments/{name} [get]
func (h *DeploymentHandler) GetDeployment(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !validateName(name) {
		writeError(w, http.StatusBadRequest, "invalid_name", "Deployment name contains invalid characters")
		return
	}

	status, err := h.service.GetStatus(r.Context(), name)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// GetOutputs returns the outputs of a succeeded deployment
// @Summary Get deployment outputs
// @Tags deployments
// @Produce json
// @Param name path string true "Deployment name"
// @Success 200 {object} map[string]interface{} "Deployment outputs"
// @Failure 404 {object} ErrorResponse "Deployment not found"
// @Failure 409 {object} ErrorResponse "Deployment has not succeeded"
// @Router /deployments/{name}/outputs [get]
func (h *DeploymentHandler) GetOutputs(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !validateName(name) {
		writeError(w, http.StatusBadRequest, "invalid_name", "Deployment name contains invalid characters")
		return
	}

	outputs, err := h.service.GetOutputs(r.Context(), name)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if outputs == nil {
		outputs = map[string]interface{}{}
	}
	writeJSON(w, http.StatusOK, outputs)
}

// GetErrors returns the diagnostics report for a deployment
// @Summary Get deployment errors
// @Tags deployments
// @Produce json
// @Param name path string true "Deployment name"
// @Success 200 {object} interfaces.DiagnosticsReport "Diagnostics report"
// @Failure 404 {object} ErrorResponse "Deployment not found"
// @Router /deployments/{name}/errors [get]
func (h *DeploymentHandler) GetErrors(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !validateName(name) {
		writeError(w, http.StatusBadRequest, "invalid_name", "Deployment name contains invalid characters")
		return
	}

	report, err := h.service.GetDeploymentErrors(r.Context(), name)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// CancelDeployment stops monitoring a deployment
// @Summary Cancel deployment monitoring
// @Description Stop tracking an in-flight deployment; the provider-side deployment keeps running
// @Tags deployments
// @Produce json
// @Param name path string true "Deployment name"
// @Success 200 {object} map[string]string "Cancellation successful"
// @Failure 404 {object} ErrorResponse "Deployment not found"
// @Failure 409 {object} ErrorResponse "Deployment is not monitored"
// @Router /deployments/{name}/cancel [post]
func (h *DeploymentHandler) CancelDeployment(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !validateName(name) {
		writeError(w, http.StatusBadRequest, "invalid_name", "Deployment name contains invalid characters")
		return
	}

	if err := h.service.Cancel(name); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"deployment_name": name,
		"status":          "canceled",
	})
}

// WaitForDeployment blocks until the deployment reaches a terminal state
// @Summary Wait for deployment completion
// @Tags deployments
// @Produce json
// @Param name path string true "Deployment name"
// @Param timeout query int false "Timeout in seconds (default 300)"
// @Success 200 {object} deployment.Status "Terminal deployment status"
// @Failure 404 {object} ErrorResponse "Deployment not found"
// @Failure 408 {object} ErrorResponse "Timed out waiting"
// @Router /deployments/{name}/wait [get]
func (h *DeploymentHandler) WaitForDeployment(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !validateName(name) {
		writeError(w, http.StatusBadRequest, "invalid_name", "Deployment name contains invalid characters")
		return
	}

	timeout := 300 * time.Second
	if raw := r.URL.Query().Get("timeout"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds < 1 {
			writeError(w, http.StatusBadRequest, "invalid_timeout", "Timeout must be a positive number of seconds")
			return
		}
		timeout = time.Duration(seconds) * time.Second
	}

	status, err := h.service.WaitForDeployment(r.Context(), name, timeout)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// filterFromQuery builds a record filter from list query parameters
func filterFromQuery(r *http.Request) interfaces.RecordFilter {
	q := r.URL.Query()
	filter := interfaces.RecordFilter{
		Status:       interfaces.DeploymentStatus(q.Get("status")),
		Project:      q.Get("project"),
		Environment:  q.Get("environment"),
		TemplateName: q.Get("template"),
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil && limit > 0 {
		filter.Limit = limit
	}
	if days, err := strconv.Atoi(q.Get("since_days")); err == nil && days > 0 {
		filter.Since = time.Now().AddDate(0, 0, -days)
	}
	return filter
}
