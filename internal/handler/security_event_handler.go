package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"AssetTrackPlatform/internal/domain"
	"AssetTrackPlatform/internal/repository"
)

// handleSecurityEvents обрабатывает GET /admin/security-events
func (h *HTTPHandler) handleSecurityEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w)
		return
	}

	id := callerIdentity(r.Context())
	query := r.URL.Query()

	filter := &repository.EventFilter{
		TenantID:  id.TenantID,
		UserID:    query.Get("user_id"),
		EventType: domain.EventType(query.Get("event_type")),
		Severity:  domain.Severity(query.Get("severity")),
	}

	if limit, err := strconv.Atoi(query.Get("limit")); err == nil {
		filter.Limit = limit
	}
	if offset, err := strconv.Atoi(query.Get("offset")); err == nil {
		filter.Offset = offset
	}
	if from := parseTimeParam(query.Get("date_from")); from != nil {
		filter.DateFrom = from
	}
	if to := parseTimeParam(query.Get("date_to")); to != nil {
		filter.DateTo = to
	}
	if resolvedStr := query.Get("resolved"); resolvedStr != "" {
		if resolved, err := strconv.ParseBool(resolvedStr); err == nil {
			filter.Resolved = &resolved
		}
	}

	page, err := h.eventService.GetEvents(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"events":  page.Events,
		"total":   page.Total,
	})
}

// handleEventStatistics обрабатывает GET /admin/security-events/statistics
func (h *HTTPHandler) handleEventStatistics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w)
		return
	}

	id := callerIdentity(r.Context())
	query := r.URL.Query()

	stats, err := h.eventService.GetStatistics(r.Context(), id.TenantID,
		parseTimeParam(query.Get("date_from")), parseTimeParam(query.Get("date_to")))
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"statistics": stats,
	})
}

// handleSecurityEventByID обрабатывает POST /admin/security-events/{id}/resolve
func (h *HTTPHandler) handleSecurityEventByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/admin/security-events/")

	eventID, action, found := strings.Cut(rest, "/")
	if !found || action != "resolve" || eventID == "" {
		h.writeErrorMessage(w, http.StatusNotFound, "Not found")
		return
	}

	if r.Method != http.MethodPost {
		h.methodNotAllowed(w)
		return
	}

	id := callerIdentity(r.Context())

	var req struct {
		Notes string `json:"notes"`
	}
	// Тело запроса необязательно
	_ = decodeBody(r, &req)

	if err := h.eventService.ResolveEvent(r.Context(), id.TenantID, eventID, id.UserID, req.Notes); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Event resolved",
	})
}

// handleBulkResolve обрабатывает POST /admin/security-events/bulk-resolve
func (h *HTTPHandler) handleBulkResolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.methodNotAllowed(w)
		return
	}

	id := callerIdentity(r.Context())

	var req struct {
		IDs   []string `json:"ids"`
		Notes string   `json:"notes"`
	}
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	if len(req.IDs) == 0 {
		h.writeErrorMessage(w, http.StatusBadRequest, "ids are required")
		return
	}

	if err := h.eventService.BulkResolveEvents(r.Context(), id.TenantID, req.IDs, id.UserID, req.Notes); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Events resolved",
	})
}

func parseTimeParam(value string) *time.Time {
	if value == "" {
		return nil
	}

	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil
	}

	return &parsed
}
