package sync

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"presswise/backend/internal/middleware"
	"presswise/backend/internal/tenant"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// StartRun handles POST /syncs.
func (h *Handler) StartRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrganizationID string   `json:"organization_id"`
		SiteID         string   `json:"site_id"`
		Entities       []string `json:"entities"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	}

	tn := tenant.Tenant{OrganizationID: req.OrganizationID, SiteID: req.SiteID}
	var entityTypes []JobType
	for _, e := range req.Entities {
		jt := JobType("wordpress_sync_" + e)
		valid := false
		for _, known := range EntityTypes {
			if jt == known {
				valid = true
			}
		}
		if !valid {
			h.writeError(w, r, "VALIDATION_ERROR", "unknown entity type: "+e, http.StatusBadRequest)
			return
		}
		entityTypes = append(entityTypes, jt)
	}

	run, err := h.service.StartRun(r.Context(), tn, entityTypes)
	if err != nil {
		if errors.Is(err, tenant.ErrInvalidTenant) {
			h.writeError(w, r, "INVALID_TENANT", err.Error(), http.StatusBadRequest)
			return
		}
		slog.ErrorContext(r.Context(), "failed to start sync run", "error", err)
		h.writeError(w, r, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": run}); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode response", "error", err)
	}
}

// GetReport handles GET /syncs/{id}/report.
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	syncID := r.PathValue("id")
	tn := tenant.Tenant{
		OrganizationID: r.URL.Query().Get("organization_id"),
		SiteID:         r.URL.Query().Get("site_id"),
	}

	report, err := h.service.BuildReport(r.Context(), tn, syncID)
	if err != nil {
		switch {
		case errors.Is(err, tenant.ErrInvalidTenant):
			h.writeError(w, r, "INVALID_TENANT", err.Error(), http.StatusBadRequest)
		case errors.Is(err, ErrRunNotFound):
			h.writeError(w, r, "NOT_FOUND", err.Error(), http.StatusNotFound)
		case errors.Is(err, tenant.ErrOwnershipMismatch):
			slog.WarnContext(r.Context(), "cross-tenant report access rejected", "sync_id", syncID, "tenant", tn.String())
			h.writeError(w, r, "OWNERSHIP_MISMATCH", "sync run does not belong to tenant", http.StatusForbidden)
		default:
			slog.ErrorContext(r.Context(), "failed to build report", "error", err, "sync_id", syncID)
			h.writeError(w, r, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": report}); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{
			"code":           code,
			"message":        message,
			"correlation_id": middleware.GetCorrelationID(r.Context()),
		},
	})
}
