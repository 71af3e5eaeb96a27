package handler

import (
	"net/http"
	"strings"

	"AssetTrackPlatform/internal/domain"
	"AssetTrackPlatform/internal/middleware"
)

// handleSessions обрабатывает запросы к /auth/sessions
func (h *HTTPHandler) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createSession(w, r)
	case http.MethodGet:
		h.listSessions(w, r)
	default:
		h.methodNotAllowed(w)
	}
}

// handleSessionByID обрабатывает запросы к /auth/sessions/{id}
func (h *HTTPHandler) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/auth/sessions/")
	if id == "" || strings.Contains(id, "/") {
		h.writeErrorMessage(w, http.StatusBadRequest, "Invalid session ID")
		return
	}

	if r.Method != http.MethodDelete {
		h.methodNotAllowed(w)
		return
	}

	h.terminateSession(w, r, id)
}

// createSession создает сессию после внешней аутентификации.
// Тенант берется из проверенной идентичности вызывающего,
// user_id указывает аутентифицированного пользователя.
// Флаг администратора выводится только из идентичности
// вызывающего и никогда не принимается из тела запроса.
func (h *HTTPHandler) createSession(w http.ResponseWriter, r *http.Request) {
	id := callerIdentity(r.Context())

	var req struct {
		UserID     string            `json:"user_id"`
		DeviceInfo domain.DeviceInfo `json:"device_info"`
		Location   *domain.GeoInfo   `json:"location,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	userID := req.UserID
	if userID == "" {
		userID = id.UserID
	}

	result, err := h.sessionService.CreateSession(r.Context(), id.TenantID, userID,
		req.DeviceInfo, req.Location, middleware.ClientIP(r), r.UserAgent(), id.IsAdmin)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success":      true,
		"session":      result.Session,
		"access_token": result.AccessToken,
	})
}

// listSessions возвращает активные сессии вызывающего.
// Флаг is_current выставляется сравнением с сессией вызывающего.
func (h *HTTPHandler) listSessions(w http.ResponseWriter, r *http.Request) {
	id := callerIdentity(r.Context())

	sessions, err := h.sessionService.ListSessions(r.Context(), id.TenantID, id.UserID, id.SessionID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"sessions": sessions,
	})
}

// terminateSession завершает сессию по ID
func (h *HTTPHandler) terminateSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	id := callerIdentity(r.Context())

	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "terminated by user"
	}

	if err := h.sessionService.TerminateSession(r.Context(), id.TenantID, sessionID, reason, h.eventContext(r, id)); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Session terminated",
	})
}
