package middleware

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"AssetTrackPlatform/internal/pkg/jwt"
	"AssetTrackPlatform/internal/service"
	"AssetTrackPlatform/pkg/logger"
)

// AuthMiddleware middleware для аутентификации запросов.
// Поддерживает два вида учетных данных: Bearer токен сессии и
// API ключ в заголовке X-API-Key. Идентичность (tenant_id, user_id)
// выводится сервером из проверенной учетной записи и никогда
// не берется из клиентского ввода.
type AuthMiddleware struct {
	logger         logger.Logger
	jwtManager     jwt.Manager
	sessionService service.SessionService
	apiKeyService  service.APIKeyService
}

// NewAuthMiddleware создает новый middleware для аутентификации
func NewAuthMiddleware(
	log logger.Logger,
	jwtManager jwt.Manager,
	sessionService service.SessionService,
	apiKeyService service.APIKeyService,
) *AuthMiddleware {
	return &AuthMiddleware{
		logger:         log,
		jwtManager:     jwtManager,
		sessionService: sessionService,
		apiKeyService:  apiKeyService,
	}
}

// Authenticate проверяет учетные данные запроса
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
			m.authenticateAPIKey(w, r, next, apiKey)
			return
		}

		m.authenticateBearer(w, r, next)
	})
}

// RequireAdmin пропускает только запросы с флагом администратора
func (m *AuthMiddleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		isAdmin, _ := r.Context().Value(service.IsAdminKey).(bool)
		if !isAdmin {
			m.writeErrorResponse(w, http.StatusForbidden, "Admin access required")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (m *AuthMiddleware) authenticateBearer(w http.ResponseWriter, r *http.Request, next http.Handler) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		m.writeErrorResponse(w, http.StatusUnauthorized, "Missing Authorization header")
		return
	}

	tokenParts := strings.Split(authHeader, " ")
	if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
		m.writeErrorResponse(w, http.StatusUnauthorized, "Invalid Authorization header format")
		return
	}

	claims, err := m.jwtManager.ValidateToken(tokenParts[1])
	if err != nil {
		m.logger.Warn("token validation failed", logger.Error(err))
		m.writeErrorResponse(w, http.StatusUnauthorized, "Invalid token")
		return
	}

	// Токен действителен только пока жива привязанная к нему сессия
	validation := m.sessionService.ValidateSession(r.Context(), claims.SessionID)
	if !validation.Valid {
		m.writeErrorResponse(w, http.StatusUnauthorized, "Session expired or terminated")
		return
	}

	// Отметка активности не влияет на результат аутентификации
	if err := m.sessionService.UpdateSessionActivity(r.Context(), claims.SessionID, ClientIP(r)); err != nil {
		m.logger.Warn("failed to update session activity",
			logger.String("session_id", claims.SessionID),
			logger.Error(err))
	}

	ctx := context.WithValue(r.Context(), service.TenantIDKey, claims.TenantID)
	ctx = context.WithValue(ctx, service.UserIDKey, claims.UserID)
	ctx = context.WithValue(ctx, service.SessionIDKey, claims.SessionID)
	ctx = context.WithValue(ctx, service.IsAdminKey, claims.IsAdmin)

	next.ServeHTTP(w, r.WithContext(ctx))
}

func (m *AuthMiddleware) authenticateAPIKey(w http.ResponseWriter, r *http.Request, next http.Handler, apiKey string) {
	result := m.apiKeyService.ValidateAPIKey(r.Context(), apiKey, requiredPermission(r), ClientIP(r))
	if !result.Valid {
		status := http.StatusUnauthorized
		if result.Error == "Rate limit exceeded" {
			status = http.StatusTooManyRequests
		}
		m.writeErrorResponse(w, status, result.Error)
		return
	}

	ctx := context.WithValue(r.Context(), service.TenantIDKey, result.APIKey.TenantID)
	ctx = context.WithValue(ctx, service.UserIDKey, result.APIKey.UserID)
	ctx = context.WithValue(ctx, service.IsAdminKey, false)

	next.ServeHTTP(w, r.WithContext(ctx))
}

// requiredPermission выводит требуемое право из метода запроса
func requiredPermission(r *http.Request) string {
	resource := "auth"
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		return resource + ":read"
	default:
		return resource + ":write"
	}
}

// ClientIP возвращает адрес клиента с учетом прокси
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (m *AuthMiddleware) writeErrorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

// TenantIDFromContext возвращает ID тенанта из контекста запроса
func TenantIDFromContext(ctx context.Context) string {
	tenantID, _ := ctx.Value(service.TenantIDKey).(string)
	return tenantID
}

// UserIDFromContext возвращает ID пользователя из контекста запроса
func UserIDFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(service.UserIDKey).(string)
	return userID
}

// SessionIDFromContext возвращает ID сессии из контекста запроса
func SessionIDFromContext(ctx context.Context) string {
	sessionID, _ := ctx.Value(service.SessionIDKey).(string)
	return sessionID
}

// IsAdminFromContext возвращает флаг администратора из контекста запроса
func IsAdminFromContext(ctx context.Context) bool {
	isAdmin, _ := ctx.Value(service.IsAdminKey).(bool)
	return isAdmin
}
