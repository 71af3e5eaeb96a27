package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"AssetTrackPlatform/internal/middleware"
	"AssetTrackPlatform/internal/service"
	apperrors "AssetTrackPlatform/pkg/errors"
	"AssetTrackPlatform/pkg/logger"
)

// HTTPHandler обрабатывает HTTP запросы сервиса аутентификации
type HTTPHandler struct {
	logger         logger.Logger
	apiKeyService  service.APIKeyService
	mfaService     service.MFAService
	sessionService service.SessionService
	eventService   service.SecurityEventService
}

// NewHTTPHandler создает новый HTTP обработчик
func NewHTTPHandler(
	log logger.Logger,
	apiKeyService service.APIKeyService,
	mfaService service.MFAService,
	sessionService service.SessionService,
	eventService service.SecurityEventService,
) *HTTPHandler {
	return &HTTPHandler{
		logger:         log,
		apiKeyService:  apiKeyService,
		mfaService:     mfaService,
		sessionService: sessionService,
		eventService:   eventService,
	}
}

// RegisterRoutes регистрирует HTTP маршруты.
// Все маршруты /admin/ оборачиваются переданным middleware,
// пропускающим только администраторов.
func (h *HTTPHandler) RegisterRoutes(mux *http.ServeMux, requireAdmin func(http.Handler) http.Handler) {
	// API ключи
	mux.HandleFunc("/auth/api-keys", h.handleAPIKeys)
	mux.HandleFunc("/auth/api-keys/", h.handleAPIKeyByID)

	// MFA
	mux.HandleFunc("/auth/mfa/setup", h.handleMFASetup)
	mux.HandleFunc("/auth/mfa/verify", h.handleMFAVerify)
	mux.HandleFunc("/auth/mfa/status", h.handleMFAStatus)
	mux.HandleFunc("/auth/mfa/backup-codes", h.handleBackupCodes)
	mux.HandleFunc("/auth/mfa/backup-codes/verify", h.handleBackupCodeVerify)
	mux.HandleFunc("/auth/mfa/disable", h.handleMFADisable)

	// Сессии
	mux.HandleFunc("/auth/sessions", h.handleSessions)
	mux.HandleFunc("/auth/sessions/", h.handleSessionByID)

	// Журнал событий безопасности, только для администраторов
	adminMux := http.NewServeMux()
	adminMux.HandleFunc("/admin/security-events", h.handleSecurityEvents)
	adminMux.HandleFunc("/admin/security-events/statistics", h.handleEventStatistics)
	adminMux.HandleFunc("/admin/security-events/bulk-resolve", h.handleBulkResolve)
	adminMux.HandleFunc("/admin/security-events/", h.handleSecurityEventByID)
	mux.Handle("/admin/", requireAdmin(adminMux))
}

// identity идентичность вызывающего, выведенная middleware
type identity struct {
	TenantID  string
	UserID    string
	SessionID string
	IsAdmin   bool
}

// callerIdentity извлекает идентичность из контекста запроса
func callerIdentity(ctx context.Context) identity {
	return identity{
		TenantID:  middleware.TenantIDFromContext(ctx),
		UserID:    middleware.UserIDFromContext(ctx),
		SessionID: middleware.SessionIDFromContext(ctx),
		IsAdmin:   middleware.IsAdminFromContext(ctx),
	}
}

// eventContext собирает контекст события из запроса
func (h *HTTPHandler) eventContext(r *http.Request, id identity) service.EventContext {
	return service.EventContext{
		UserID:    id.UserID,
		SessionID: id.SessionID,
		IsAdmin:   id.IsAdmin,
		IPAddress: middleware.ClientIP(r),
		UserAgent: r.UserAgent(),
	}
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to encode response", logger.Error(err))
	}
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		appErr = apperrors.FromError(err)
	}

	h.writeJSON(w, appErr.HTTPStatus(), map[string]interface{}{
		"success": false,
		"error":   appErr.Message,
		"code":    appErr.Code,
	})
}

func (h *HTTPHandler) writeErrorMessage(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

func (h *HTTPHandler) methodNotAllowed(w http.ResponseWriter) {
	h.writeErrorMessage(w, http.StatusMethodNotAllowed, "Method not allowed")
}

func decodeBody(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperrors.New(apperrors.ErrValidation, "Invalid JSON body")
	}
	return nil
}
