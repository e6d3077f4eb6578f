package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/armature/armature/internal/deployment"
	"github.com/armature/armature/internal/logging"
)

// OperationsHandler handles resource group and template HTTP requests
type OperationsHandler struct {
	service *deployment.Service
	logger  *logging.Logger
}

// NewOperationsHandler creates a new operations handler
func NewOperationsHandler(service *deployment.Service) *OperationsHandler {
	return &OperationsHandler{
		service: service,
		logger:  logging.NewLogger("operations-handler"),
	}
}

// DeleteResourceGroup starts an asynchronous resource group deletion
// @Summary Delete resource group
// @Description Begin deleting a resource group and everything deployed into it; progress is pull-based
// @Tags resource-groups
// @Produce json
// @Param name path string true "Resource group name"
// @Success 202 {object} deployment.DeleteStatus "Deletion started"
// @Failure 404 {object} ErrorResponse "Resource group not found"
// @Failure 409 {object} ErrorResponse "Deletion already in progress"
// @Router /resource-groups/{name} [delete]
func (h *OperationsHandler) DeleteResourceGroup(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !validateName(name) {
		writeError(w, http.StatusBadRequest, "invalid_name", "Resource group name contains invalid characters")
		return
	}

	status, err := h.service.DeleteResourceGroup(r.Context(), name)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	h.logger.Infof("Resource group deletion started: %s (operation %s)", name, status.OperationID)
	writeJSON(w, http.StatusAccepted, status)
}

// GetDeleteProgress reports progress of a resource group deletion
// @Summary Check resource group deletion progress
// @Description Each call advances the deletion by one provider poll and reports the outcome
// @Tags resource-groups
// @Produce json
// @Param name path string true "Resource group name"
// @Success 200 {object} deployment.DeleteStatus "Deletion status"
// @Failure 404 {object} ErrorResponse "No deletion in progress"
// @Router /resource-groups/{name}/delete-status [get]
func (h *OperationsHandler) GetDeleteProgress(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !validateName(name) {
		writeError(w, http.StatusBadRequest, "invalid_name", "Resource group name contains invalid characters")
		return
	}

	status, err := h.service.CheckDeleteProgress(r.Context(), name)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// ListResources lists resources deployed into a resource group
// @Summary List resource group resources
// @Tags resource-groups
// @Produce json
// @Param name path string true "Resource group name"
// @Success 200 {array} interfaces.Resource "Resources"
// @Failure 404 {object} ErrorResponse "Resource group not found"
// @Router /resource-groups/{name}/resources [get]
func (h *OperationsHandler) ListResources(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !validateName(name) {
		writeError(w, http.StatusBadRequest, "invalid_name", "Resource group name contains invalid characters")
		return
	}

	resources, err := h.service.ListResources(r.Context(), name)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resources)
}

// ListTemplates lists deployable templates
// @Summary List available templates
// @Tags templates
// @Produce json
// @Success 200 {array} string "Template names"
// @Router /templates [get]
func (h *OperationsHandler) ListTemplates(w http.ResponseWriter, _ *http.Request) {
	templates, err := h.service.ListTemplates()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, templates)
}
