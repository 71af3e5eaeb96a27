package handler

import (
	"net/http"
	"strings"

	"AssetTrackPlatform/internal/service"
	"AssetTrackPlatform/pkg/logger"
)

// handleAPIKeys обрабатывает запросы к /auth/api-keys
func (h *HTTPHandler) handleAPIKeys(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createAPIKey(w, r)
	case http.MethodGet:
		h.listAPIKeys(w, r)
	default:
		h.methodNotAllowed(w)
	}
}

// handleAPIKeyByID обрабатывает запросы к /auth/api-keys/{id}
func (h *HTTPHandler) handleAPIKeyByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/auth/api-keys/")
	if id == "" || strings.Contains(id, "/") {
		h.writeErrorMessage(w, http.StatusBadRequest, "Invalid API key ID")
		return
	}

	switch r.Method {
	case http.MethodDelete:
		h.revokeAPIKey(w, r, id)
	case http.MethodPatch:
		h.updateAPIKey(w, r, id)
	default:
		h.methodNotAllowed(w)
	}
}

// createAPIKey создает новый API ключ. Открытый текст ключа
// присутствует только в этом ответе.
func (h *HTTPHandler) createAPIKey(w http.ResponseWriter, r *http.Request) {
	id := callerIdentity(r.Context())

	var input service.CreateAPIKeyInput
	if err := decodeBody(r, &input); err != nil {
		h.writeError(w, err)
		return
	}

	result, err := h.apiKeyService.CreateAPIKey(r.Context(), id.TenantID, id.UserID, &input, h.eventContext(r, id))
	if err != nil {
		h.logger.Error("failed to create API key", logger.Error(err))
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success":   true,
		"api_key":   result.APIKey,
		"key_value": result.KeyValue,
	})
}

// listAPIKeys возвращает ключи вызывающего пользователя
func (h *HTTPHandler) listAPIKeys(w http.ResponseWriter, r *http.Request) {
	id := callerIdentity(r.Context())

	keys := h.apiKeyService.ListAPIKeys(r.Context(), id.TenantID, id.UserID)

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"api_keys": keys,
	})
}

// revokeAPIKey отзывает ключ
func (h *HTTPHandler) revokeAPIKey(w http.ResponseWriter, r *http.Request, keyID string) {
	id := callerIdentity(r.Context())

	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "revoked by owner"
	}

	if err := h.apiKeyService.RevokeAPIKey(r.Context(), id.TenantID, id.UserID, keyID, reason, h.eventContext(r, id)); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "API key revoked",
	})
}

// updateAPIKey применяет частичное обновление ключа
func (h *HTTPHandler) updateAPIKey(w http.ResponseWriter, r *http.Request, keyID string) {
	id := callerIdentity(r.Context())

	var patch service.APIKeyPatch
	if err := decodeBody(r, &patch); err != nil {
		h.writeError(w, err)
		return
	}

	key, err := h.apiKeyService.UpdateAPIKey(r.Context(), id.TenantID, id.UserID, keyID, &patch)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"api_key": key,
	})
}
