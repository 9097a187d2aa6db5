package analytics_api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"ms-restaurant/internal/analytics"
	"ms-restaurant/internal/auth"
	"ms-restaurant/internal/logger"
	"ms-restaurant/internal/utils"
)

const defaultWindow = 24 * time.Hour

// Handler handles analytics HTTP endpoints
type Handler struct {
	Service *analytics.Service
	Logger  *logger.Logger
}

// NewHandler creates a new analytics handler
func NewHandler(service *analytics.Service, logger *logger.Logger) *Handler {
	return &Handler{Service: service, Logger: logger}
}

// RegisterRoutes registers the analytics routes on a chi router
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/analytics", func(r chi.Router) {
		r.Get("/status-durations", h.GetStatusDurations)
	})
}

// GetStatusDurations → average time spent in each status, admins only.
// since is RFC3339 and defaults to the last 24 hours.
func (h *Handler) GetStatusDurations(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	if !id.Role.IsAdmin() {
		utils.RespondError(w, http.StatusForbidden, "analytics are for admins")
		return
	}

	since := time.Now().Add(-defaultWindow)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			utils.RespondError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		since = parsed
	}

	report, err := h.Service.AverageTimeInStatus(r.Context(), since)
	if err != nil {
		h.Logger.Error("ANALYTICS", fmt.Sprintf("status durations: %v", err))
		utils.RespondError(w, http.StatusInternalServerError, "failed to compute status durations")
		return
	}
	utils.RespondSuccess(w, http.StatusOK, "status durations", report)
}
