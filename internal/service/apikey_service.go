package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"AssetTrackPlatform/internal/domain"
	"AssetTrackPlatform/internal/pkg/apikey"
	"AssetTrackPlatform/internal/repository"
	apperrors "AssetTrackPlatform/pkg/errors"
	"AssetTrackPlatform/pkg/logger"
	"AssetTrackPlatform/pkg/metrics"
	"AssetTrackPlatform/pkg/ratelimit"
)

// Сообщения об отказах валидации. Короткие и без деталей:
// внутренние причины не раскрываются неаутентифицированному клиенту.
const (
	errInvalidKeyFormat        = "Invalid API key format"
	errInvalidKey              = "Invalid API key"
	errKeyExpired              = "API key expired"
	errInsufficientPermissions = "Insufficient permissions"
	errIPNotAllowed            = "IP address not allowed"
	errRateLimited             = "Rate limit exceeded"
)

// CreateAPIKeyInput параметры создания ключа
type CreateAPIKeyInput struct {
	KeyName                string                     `json:"key_name"`
	Permissions            map[string]map[string]bool `json:"permissions,omitempty"`
	Scopes                 []string                   `json:"scopes,omitempty"`
	AllowedIPs             []string                   `json:"allowed_ips,omitempty"`
	RateLimitRequests      int                        `json:"rate_limit_requests,omitempty"`
	RateLimitWindowSeconds int                        `json:"rate_limit_window_seconds,omitempty"`
	ExpiresAt              *time.Time                 `json:"expires_at,omitempty"`
}

// CreateAPIKeyResult результат создания: KeyValue возвращается
// ровно один раз и нигде не сохраняется в открытом виде
type CreateAPIKeyResult struct {
	APIKey   *domain.APIKey `json:"api_key"`
	KeyValue string         `json:"key_value"`
}

// APIKeyPatch изменяемые поля ключа. Nil поле означает "не менять".
type APIKeyPatch struct {
	KeyName                *string                    `json:"key_name,omitempty"`
	Permissions            map[string]map[string]bool `json:"permissions,omitempty"`
	Scopes                 []string                   `json:"scopes,omitempty"`
	AllowedIPs             []string                   `json:"allowed_ips,omitempty"`
	RateLimitRequests      *int                       `json:"rate_limit_requests,omitempty"`
	RateLimitWindowSeconds *int                       `json:"rate_limit_window_seconds,omitempty"`
	ExpiresAt              *time.Time                 `json:"expires_at,omitempty"`
}

// ValidationResult результат проверки ключа. Store ошибки в Error
// не попадают: любая внутренняя ошибка дает {Valid:false} с
// общим сообщением (fail closed).
type ValidationResult struct {
	Valid  bool           `json:"valid"`
	APIKey *domain.APIKey `json:"api_key,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// APIKeyService интерфейс для управления API ключами
type APIKeyService interface {
	CreateAPIKey(ctx context.Context, tenantID, userID string, input *CreateAPIKeyInput, ec EventContext) (*CreateAPIKeyResult, error)
	// ValidateAPIKey проверяет ключ по шагам: формат, существование и
	// активность, срок действия, права, IP, лимит запросов. Порядок
	// фиксирован: дешевые и решающие проверки идут первыми.
	ValidateAPIKey(ctx context.Context, keyValue, requiredPermission, clientIP string) *ValidationResult
	CheckRateLimit(ctx context.Context, key *domain.APIKey) (*ratelimit.Result, error)
	RevokeAPIKey(ctx context.Context, tenantID, userID, keyID, reason string, ec EventContext) error
	// ListAPIKeys возвращает ключи пользователя. При ошибке хранилища
	// возвращается пустой список: читающие пути деградируют мягко.
	ListAPIKeys(ctx context.Context, tenantID, userID string) []*domain.APIKey
	UpdateAPIKey(ctx context.Context, tenantID, userID, keyID string, patch *APIKeyPatch) (*domain.APIKey, error)
}

// apiKeyService реализация APIKeyService
type apiKeyService struct {
	keyRepository repository.APIKeyRepository
	rateLimiter   ratelimit.RateLimiter
	eventService  SecurityEventService
	logger        logger.Logger
	metrics       *metrics.Metrics

	defaultRateLimitRequests int
	defaultRateLimitWindow   int
}

// NewAPIKeyService создает новый экземпляр APIKeyService
func NewAPIKeyService(
	keyRepository repository.APIKeyRepository,
	rateLimiter ratelimit.RateLimiter,
	eventService SecurityEventService,
	log logger.Logger,
	m *metrics.Metrics,
	defaultRateLimitRequests int,
	defaultRateLimitWindow int,
) APIKeyService {
	return &apiKeyService{
		keyRepository:            keyRepository,
		rateLimiter:              rateLimiter,
		eventService:             eventService,
		logger:                   log,
		metrics:                  m,
		defaultRateLimitRequests: defaultRateLimitRequests,
		defaultRateLimitWindow:   defaultRateLimitWindow,
	}
}

// CreateAPIKey генерирует новый ключ и сохраняет его метаданные.
// Открытый текст ключа возвращается только из этого метода.
func (s *apiKeyService) CreateAPIKey(ctx context.Context, tenantID, userID string, input *CreateAPIKeyInput, ec EventContext) (*CreateAPIKeyResult, error) {
	if tenantID == "" || userID == "" {
		return nil, apperrors.New(apperrors.ErrValidation, "tenant id and user id are required")
	}
	if input == nil || strings.TrimSpace(input.KeyName) == "" {
		return nil, apperrors.New(apperrors.ErrValidation, "key name is required")
	}

	generated, err := apikey.Generate()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInternal, "failed to generate API key")
	}

	rateLimitRequests := input.RateLimitRequests
	if rateLimitRequests <= 0 {
		rateLimitRequests = s.defaultRateLimitRequests
	}
	rateLimitWindow := input.RateLimitWindowSeconds
	if rateLimitWindow <= 0 {
		rateLimitWindow = s.defaultRateLimitWindow
	}

	key := &domain.APIKey{
		ID:                     uuid.New().String(),
		TenantID:               tenantID,
		UserID:                 userID,
		KeyName:                strings.TrimSpace(input.KeyName),
		KeyPrefix:              generated.DisplayPrefix,
		KeyHash:                generated.Hash,
		IsActive:               true,
		Permissions:            input.Permissions,
		Scopes:                 input.Scopes,
		AllowedIPs:             input.AllowedIPs,
		RateLimitRequests:      rateLimitRequests,
		RateLimitWindowSeconds: rateLimitWindow,
		ExpiresAt:              input.ExpiresAt,
		CreatedAt:              time.Now().UTC(),
	}

	if err := s.keyRepository.Create(ctx, key); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInternal, "failed to create API key")
	}

	s.eventService.LogAPIKeyCreated(ctx, tenantID, withUser(ec, userID), key.KeyName)

	return &CreateAPIKeyResult{APIKey: key, KeyValue: generated.Value}, nil
}

// ValidateAPIKey проверяет ключ и при успехе обновляет отметку
// последнего использования (best-effort, не влияет на результат)
func (s *apiKeyService) ValidateAPIKey(ctx context.Context, keyValue, requiredPermission, clientIP string) *ValidationResult {
	// Формат проверяется до обращения к хранилищу
	if !apikey.ValidFormat(keyValue) {
		return s.reject("format", errInvalidKeyFormat)
	}

	key, err := s.keyRepository.FindByKeyHash(ctx, apikey.Hash(keyValue))
	if err != nil {
		var appErr *apperrors.Error
		if !errors.As(err, &appErr) || appErr.Code != apperrors.ErrNotFound {
			// Недоступное хранилище означает отказ, а не пропуск
			s.logger.Error("API key lookup failed", logger.Error(err))
		}
		return s.reject("not_found", errInvalidKey)
	}

	if !key.IsActive {
		return s.reject("inactive", errInvalidKey)
	}

	if key.IsExpired(time.Now().UTC()) {
		return s.reject("expired", errKeyExpired)
	}

	if requiredPermission != "" {
		resource, action, ok := strings.Cut(requiredPermission, ":")
		if !ok || !key.HasPermission(resource, action) {
			return s.reject("permissions", errInsufficientPermissions)
		}
	}

	// Пустой или неразрешимый адрес клиента не обходит ограничение по IP
	if len(key.AllowedIPs) > 0 && (clientIP == "" || !apikey.IsIPAllowed(clientIP, key.AllowedIPs)) {
		return s.reject("ip_blocked", errIPNotAllowed)
	}

	limit, err := s.CheckRateLimit(ctx, key)
	if err != nil {
		s.logger.Error("rate limit check failed",
			logger.String("key_id", key.ID),
			logger.Error(err))
		return s.reject("rate_limit_error", errInvalidKey)
	}
	if !limit.Allowed {
		if s.metrics != nil {
			s.metrics.RateLimitHits.Inc()
		}
		s.eventService.LogRateLimitExceeded(ctx, key.TenantID, EventContext{UserID: key.UserID, IPAddress: clientIP}, key.KeyName)
		return s.reject("rate_limited", errRateLimited)
	}

	if err := s.keyRepository.TouchLastUsed(ctx, key.ID, time.Now().UTC()); err != nil {
		s.logger.Warn("failed to touch API key",
			logger.String("key_id", key.ID),
			logger.Error(err))
	}

	if s.metrics != nil {
		s.metrics.APIKeyValidations.WithLabelValues("success").Inc()
	}

	return &ValidationResult{Valid: true, APIKey: key}
}

// CheckRateLimit проверяет лимит запросов ключа в фиксированном окне
func (s *apiKeyService) CheckRateLimit(ctx context.Context, key *domain.APIKey) (*ratelimit.Result, error) {
	window := time.Duration(key.RateLimitWindowSeconds) * time.Second
	if window <= 0 {
		window = time.Duration(s.defaultRateLimitWindow) * time.Second
	}

	limit := key.RateLimitRequests
	if limit <= 0 {
		limit = s.defaultRateLimitRequests
	}

	return s.rateLimiter.Allow(ctx, "api_key:"+key.ID, limit, window)
}

// RevokeAPIKey отзывает ключ, не удаляя запись
func (s *apiKeyService) RevokeAPIKey(ctx context.Context, tenantID, userID, keyID, reason string, ec EventContext) error {
	key, err := s.keyRepository.FindByID(ctx, tenantID, userID, keyID)
	if err != nil {
		return apperrors.FromError(err)
	}

	if key.IsActive {
		key.IsActive = false
		if err := s.keyRepository.Update(ctx, tenantID, userID, key); err != nil {
			return apperrors.FromError(err)
		}
	}

	s.eventService.LogAPIKeyRevoked(ctx, tenantID, withUser(ec, userID), key.KeyName, reason)

	return nil
}

// ListAPIKeys возвращает ключи пользователя без хэшей секретов
func (s *apiKeyService) ListAPIKeys(ctx context.Context, tenantID, userID string) []*domain.APIKey {
	keys, err := s.keyRepository.ListByUser(ctx, tenantID, userID)
	if err != nil {
		s.logger.Error("failed to list API keys",
			logger.String("tenant_id", tenantID),
			logger.String("user_id", userID),
			logger.Error(err))
		return []*domain.APIKey{}
	}

	if keys == nil {
		return []*domain.APIKey{}
	}

	return keys
}

// UpdateAPIKey применяет частичное обновление ключа
func (s *apiKeyService) UpdateAPIKey(ctx context.Context, tenantID, userID, keyID string, patch *APIKeyPatch) (*domain.APIKey, error) {
	if patch == nil {
		return nil, apperrors.New(apperrors.ErrValidation, "patch is required")
	}

	key, err := s.keyRepository.FindByID(ctx, tenantID, userID, keyID)
	if err != nil {
		return nil, apperrors.FromError(err)
	}

	if patch.KeyName != nil {
		name := strings.TrimSpace(*patch.KeyName)
		if name == "" {
			return nil, apperrors.New(apperrors.ErrValidation, "key name cannot be empty")
		}
		key.KeyName = name
	}
	if patch.Permissions != nil {
		key.Permissions = patch.Permissions
	}
	if patch.Scopes != nil {
		key.Scopes = patch.Scopes
	}
	if patch.AllowedIPs != nil {
		key.AllowedIPs = patch.AllowedIPs
	}
	if patch.RateLimitRequests != nil {
		key.RateLimitRequests = *patch.RateLimitRequests
	}
	if patch.RateLimitWindowSeconds != nil {
		key.RateLimitWindowSeconds = *patch.RateLimitWindowSeconds
	}
	if patch.ExpiresAt != nil {
		key.ExpiresAt = patch.ExpiresAt
	}

	if err := s.keyRepository.Update(ctx, tenantID, userID, key); err != nil {
		return nil, apperrors.FromError(err)
	}

	return key, nil
}

func (s *apiKeyService) reject(outcome, message string) *ValidationResult {
	if s.metrics != nil {
		s.metrics.APIKeyValidations.WithLabelValues(outcome).Inc()
	}
	return &ValidationResult{Valid: false, Error: message}
}

func withUser(ec EventContext, userID string) EventContext {
	if ec.UserID == "" {
		ec.UserID = userID
	}
	return ec
}
