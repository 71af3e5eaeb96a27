package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AssetTrackPlatform/internal/domain"
	"AssetTrackPlatform/internal/pkg/jwt"
	"AssetTrackPlatform/internal/service"
	"AssetTrackPlatform/pkg/logger"
	"AssetTrackPlatform/pkg/ratelimit"
)

func newTestLogger() logger.Logger {
	testLogger, _ := logger.NewLogger("dev", "error", "test-service")
	return testLogger
}

type stubJWTManager struct {
	claims *jwt.TokenClaims
	err    error
}

func (s *stubJWTManager) GenerateSessionToken(sessionID, tenantID, userID string, isAdmin bool) (string, error) {
	return "token", nil
}

func (s *stubJWTManager) ValidateToken(tokenString string) (*jwt.TokenClaims, error) {
	return s.claims, s.err
}

type stubSessionService struct {
	validation *service.SessionValidationResult
}

func (s *stubSessionService) CreateSession(ctx context.Context, tenantID, userID string, device domain.DeviceInfo, geo *domain.GeoInfo, ipAddress, userAgent string, isAdmin bool) (*service.CreateSessionResult, error) {
	return nil, errors.New("not implemented")
}

func (s *stubSessionService) ValidateSession(ctx context.Context, sessionID string) *service.SessionValidationResult {
	return s.validation
}

func (s *stubSessionService) UpdateSessionActivity(ctx context.Context, sessionID, ipAddress string) error {
	return nil
}

func (s *stubSessionService) TerminateSession(ctx context.Context, tenantID, sessionID, reason string, ec service.EventContext) error {
	return errors.New("not implemented")
}

func (s *stubSessionService) ListSessions(ctx context.Context, tenantID, userID, currentSessionID string) ([]*domain.Session, error) {
	return nil, errors.New("not implemented")
}

type stubAPIKeyService struct {
	result *service.ValidationResult
}

func (s *stubAPIKeyService) CreateAPIKey(ctx context.Context, tenantID, userID string, input *service.CreateAPIKeyInput, ec service.EventContext) (*service.CreateAPIKeyResult, error) {
	return nil, errors.New("not implemented")
}

func (s *stubAPIKeyService) ValidateAPIKey(ctx context.Context, keyValue, requiredPermission, clientIP string) *service.ValidationResult {
	return s.result
}

func (s *stubAPIKeyService) CheckRateLimit(ctx context.Context, key *domain.APIKey) (*ratelimit.Result, error) {
	return nil, errors.New("not implemented")
}

func (s *stubAPIKeyService) RevokeAPIKey(ctx context.Context, tenantID, userID, keyID, reason string, ec service.EventContext) error {
	return errors.New("not implemented")
}

func (s *stubAPIKeyService) ListAPIKeys(ctx context.Context, tenantID, userID string) []*domain.APIKey {
	return nil
}

func (s *stubAPIKeyService) UpdateAPIKey(ctx context.Context, tenantID, userID, keyID string, patch *service.APIKeyPatch) (*domain.APIKey, error) {
	return nil, errors.New("not implemented")
}

func newAuthMiddleware(jwtManager jwt.Manager, sessions *stubSessionService, keys *stubAPIKeyService) *AuthMiddleware {
	return NewAuthMiddleware(newTestLogger(), jwtManager, sessions, keys)
}

func identityHandler(t *testing.T, wantTenant, wantUser string) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, wantTenant, TenantIDFromContext(r.Context()))
		assert.Equal(t, wantUser, UserIDFromContext(r.Context()))
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddleware_MissingCredentials(t *testing.T) {
	m := newAuthMiddleware(&stubJWTManager{}, &stubSessionService{}, &stubAPIKeyService{})
	handler := m.Authenticate(okHandler())

	req := httptest.NewRequest("GET", "/auth/sessions", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddleware_BearerToken(t *testing.T) {
	claims := &jwt.TokenClaims{
		UserID:    "user-1",
		TenantID:  "tenant-1",
		SessionID: "session-1",
	}
	sessions := &stubSessionService{validation: &service.SessionValidationResult{
		Valid: true,
		Session: &domain.Session{
			ID:        "session-1",
			TenantID:  "tenant-1",
			UserID:    "user-1",
			IsActive:  true,
			ExpiresAt: time.Now().Add(time.Hour),
		},
	}}

	m := newAuthMiddleware(&stubJWTManager{claims: claims}, sessions, &stubAPIKeyService{})
	handler := m.Authenticate(identityHandler(t, "tenant-1", "user-1"))

	req := httptest.NewRequest("GET", "/auth/sessions", nil)
	req.Header.Set("Authorization", "Bearer some-token")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
}

func TestAuthMiddleware_BearerToken_DeadSession(t *testing.T) {
	claims := &jwt.TokenClaims{SessionID: "session-1", TenantID: "tenant-1", UserID: "user-1"}
	sessions := &stubSessionService{validation: &service.SessionValidationResult{Valid: false}}

	m := newAuthMiddleware(&stubJWTManager{claims: claims}, sessions, &stubAPIKeyService{})
	handler := m.Authenticate(okHandler())

	// Подпись токена верна, но сессия уже завершена
	req := httptest.NewRequest("GET", "/auth/sessions", nil)
	req.Header.Set("Authorization", "Bearer some-token")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddleware_InvalidToken(t *testing.T) {
	m := newAuthMiddleware(&stubJWTManager{err: errors.New("signature is invalid")},
		&stubSessionService{}, &stubAPIKeyService{})
	handler := m.Authenticate(okHandler())

	req := httptest.NewRequest("GET", "/auth/sessions", nil)
	req.Header.Set("Authorization", "Bearer bad-token")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddleware_APIKey(t *testing.T) {
	keys := &stubAPIKeyService{result: &service.ValidationResult{
		Valid: true,
		APIKey: &domain.APIKey{
			ID:       "key-1",
			TenantID: "tenant-1",
			UserID:   "user-1",
		},
	}}

	m := newAuthMiddleware(&stubJWTManager{}, &stubSessionService{}, keys)
	handler := m.Authenticate(identityHandler(t, "tenant-1", "user-1"))

	req := httptest.NewRequest("GET", "/auth/api-keys", nil)
	req.Header.Set("X-API-Key", "ak_0123456789abcdefghijklmnopqrstuv")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
}

func TestAuthMiddleware_APIKey_Rejected(t *testing.T) {
	keys := &stubAPIKeyService{result: &service.ValidationResult{Valid: false, Error: "Invalid API key"}}

	m := newAuthMiddleware(&stubJWTManager{}, &stubSessionService{}, keys)
	handler := m.Authenticate(okHandler())

	req := httptest.NewRequest("GET", "/auth/api-keys", nil)
	req.Header.Set("X-API-Key", "ak_0123456789abcdefghijklmnopqrstuv")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddleware_APIKey_RateLimited(t *testing.T) {
	keys := &stubAPIKeyService{result: &service.ValidationResult{Valid: false, Error: "Rate limit exceeded"}}

	m := newAuthMiddleware(&stubJWTManager{}, &stubSessionService{}, keys)
	handler := m.Authenticate(okHandler())

	req := httptest.NewRequest("GET", "/auth/api-keys", nil)
	req.Header.Set("X-API-Key", "ak_0123456789abcdefghijklmnopqrstuv")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestAuthMiddleware_RequireAdmin(t *testing.T) {
	m := newAuthMiddleware(&stubJWTManager{}, &stubSessionService{}, &stubAPIKeyService{})
	handler := m.RequireAdmin(okHandler())

	req := httptest.NewRequest("GET", "/admin/security-events", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	ctx := context.WithValue(req.Context(), service.IsAdminKey, true)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req.WithContext(ctx))
	assert.Equal(t, http.StatusOK, w.Code)
}
