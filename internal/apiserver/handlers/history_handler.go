package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/armature/armature/internal/deployment"
	"github.com/armature/armature/internal/logging"
)

// HistoryHandler handles deployment history HTTP requests
type HistoryHandler struct {
	service *deployment.Service
	logger  *logging.Logger
}

// NewHistoryHandler creates a new history handler
func NewHistoryHandler(service *deployment.Service) *HistoryHandler {
	return &HistoryHandler{
		service: service,
		logger:  logging.NewLogger("history-handler"),
	}
}

// ListHistory lists durable deployment records
// @Summary List deployment history
// @Description List deployment records, newest first, with optional filters
// @Tags history
// @Produce json
// @Param status query string false "Filter by status (running, succeeded, failed, canceled)"
// @Param project query string false "Filter by project"
// @Param environment query string false "Filter by environment"
// @Param template query string false "Filter by template name"
// @Param since_days query int false "Only records from the last N days"
// @Param limit query int false "Maximum number of records"
// @Success 200 {array} interfaces.DeploymentRecord "Deployment records"
// @Router /history [get]
func (h *HistoryHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.ListHistory(r.Context(), filterFromQuery(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// GetStatistics returns aggregate deployment statistics
// @Summary Get deployment statistics
// @Description Aggregate counts, success rate, and duration statistics over the full history
// @Tags history
// @Produce json
// @Success 200 {object} interfaces.DeploymentStatistics "Deployment statistics"
// @Router /history/stats [get]
func (h *HistoryHandler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Statistics(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GetTrends returns per-day deployment trend buckets
// @Summary Get deployment trends
// @Description Per-day deployment counts and success rates over the requested window
// @Tags history
// @Produce json
// @Param days query int false "Number of days to cover (default 30)"
// @Success 200 {array} interfaces.TrendPoint "Daily trend points"
// @Failure 400 {object} ErrorResponse "Invalid day count"
// @Router /history/trends [get]
func (h *HistoryHandler) GetTrends(w http.ResponseWriter, r *http.Request) {
	days := 30
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 365 {
			writeError(w, http.StatusBadRequest, "invalid_days", "Days must be between 1 and 365")
			return
		}
		days = parsed
	}

	trends, err := h.service.Trends(r.Context(), days)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trends)
}

// CleanupHistory removes terminal records older than a retention window
// @Summary Clean up old deployment records
// @Description Delete terminal records older than the given number of days; running records are never removed
// @Tags history
// @Produce json
// @Param older_than_days query int false "Retention window in days (default 90)"
// @Success 200 {object} map[string]int "Number of records removed"
// @Failure 400 {object} ErrorResponse "Invalid retention window"
// @Router /history/cleanup [post]
func (h *HistoryHandler) CleanupHistory(w http.ResponseWriter, r *http.Request) {
	days := 90
	if raw := r.URL.Query().Get("older_than_days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "invalid_retention", "Retention must be a positive number of days")
			return
		}
		days = parsed
	}

	removed, err := h.service.CleanupHistory(r.Context(), time.Duration(days)*24*time.Hour)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	h.logger.Infof("History cleanup removed %d records older than %d days", removed, days)
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}
