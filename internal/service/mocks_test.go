package service_test

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"AssetTrackPlatform/internal/domain"
	"AssetTrackPlatform/internal/events"
	"AssetTrackPlatform/internal/pkg/jwt"
	"AssetTrackPlatform/internal/repository"
	"AssetTrackPlatform/internal/service"
	"AssetTrackPlatform/pkg/logger"
	"AssetTrackPlatform/pkg/ratelimit"
)

type MockAPIKeyRepository struct {
	mock.Mock
}

func (m *MockAPIKeyRepository) Create(ctx context.Context, key *domain.APIKey) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockAPIKeyRepository) FindByID(ctx context.Context, tenantID, userID, id string) (*domain.APIKey, error) {
	args := m.Called(ctx, tenantID, userID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.APIKey), args.Error(1)
}

func (m *MockAPIKeyRepository) FindByKeyHash(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	args := m.Called(ctx, keyHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.APIKey), args.Error(1)
}

func (m *MockAPIKeyRepository) ListByUser(ctx context.Context, tenantID, userID string) ([]*domain.APIKey, error) {
	args := m.Called(ctx, tenantID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.APIKey), args.Error(1)
}

func (m *MockAPIKeyRepository) Update(ctx context.Context, tenantID, userID string, key *domain.APIKey) error {
	args := m.Called(ctx, tenantID, userID, key)
	return args.Error(0)
}

func (m *MockAPIKeyRepository) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

type MockMFAMethodRepository struct {
	mock.Mock
}

func (m *MockMFAMethodRepository) Create(ctx context.Context, method *domain.MFAMethod) error {
	args := m.Called(ctx, method)
	return args.Error(0)
}

func (m *MockMFAMethodRepository) FindByID(ctx context.Context, tenantID, userID, id string) (*domain.MFAMethod, error) {
	args := m.Called(ctx, tenantID, userID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.MFAMethod), args.Error(1)
}

func (m *MockMFAMethodRepository) FindByType(ctx context.Context, tenantID, userID string, methodType domain.MFAMethodType) (*domain.MFAMethod, error) {
	args := m.Called(ctx, tenantID, userID, methodType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.MFAMethod), args.Error(1)
}

func (m *MockMFAMethodRepository) ListByUser(ctx context.Context, tenantID, userID string) ([]*domain.MFAMethod, error) {
	args := m.Called(ctx, tenantID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.MFAMethod), args.Error(1)
}

func (m *MockMFAMethodRepository) MarkVerified(ctx context.Context, tenantID, userID, id string) error {
	args := m.Called(ctx, tenantID, userID, id)
	return args.Error(0)
}

func (m *MockMFAMethodRepository) SetPrimary(ctx context.Context, tenantID, userID, id string) error {
	args := m.Called(ctx, tenantID, userID, id)
	return args.Error(0)
}

func (m *MockMFAMethodRepository) ReplaceBackupCodes(ctx context.Context, tenantID, userID, id string, codes []string) error {
	args := m.Called(ctx, tenantID, userID, id, codes)
	return args.Error(0)
}

func (m *MockMFAMethodRepository) ConsumeBackupCode(ctx context.Context, tenantID, userID, id string, previous, updated []string) (bool, error) {
	args := m.Called(ctx, tenantID, userID, id, previous, updated)
	return args.Bool(0), args.Error(1)
}

func (m *MockMFAMethodRepository) DeleteByUser(ctx context.Context, tenantID, userID string) error {
	args := m.Called(ctx, tenantID, userID)
	return args.Error(0)
}

type MockSessionRepository struct {
	mock.Mock
}

func (m *MockSessionRepository) Create(ctx context.Context, session *domain.Session) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *MockSessionRepository) FindByID(ctx context.Context, id string) (*domain.Session, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Session), args.Error(1)
}

func (m *MockSessionRepository) ListActiveByUser(ctx context.Context, tenantID, userID string) ([]*domain.Session, error) {
	args := m.Called(ctx, tenantID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Session), args.Error(1)
}

func (m *MockSessionRepository) CountActiveByUser(ctx context.Context, tenantID, userID string) (int, error) {
	args := m.Called(ctx, tenantID, userID)
	return args.Int(0), args.Error(1)
}

func (m *MockSessionRepository) TerminateOldest(ctx context.Context, tenantID, userID string) (string, error) {
	args := m.Called(ctx, tenantID, userID)
	return args.String(0), args.Error(1)
}

func (m *MockSessionRepository) Terminate(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockSessionRepository) UpdateActivity(ctx context.Context, id, ipAddress string, at time.Time) error {
	args := m.Called(ctx, id, ipAddress, at)
	return args.Error(0)
}

type MockSecurityEventRepository struct {
	mock.Mock
}

func (m *MockSecurityEventRepository) Create(ctx context.Context, event *domain.SecurityEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockSecurityEventRepository) List(ctx context.Context, filter *repository.EventFilter) ([]*domain.SecurityEvent, int, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]*domain.SecurityEvent), args.Int(1), args.Error(2)
}

func (m *MockSecurityEventRepository) Resolve(ctx context.Context, tenantID, id, resolvedBy, notes string, at time.Time) error {
	args := m.Called(ctx, tenantID, id, resolvedBy, notes, at)
	return args.Error(0)
}

func (m *MockSecurityEventRepository) BulkResolve(ctx context.Context, tenantID string, ids []string, resolvedBy, notes string, at time.Time) error {
	args := m.Called(ctx, tenantID, ids, resolvedBy, notes, at)
	return args.Error(0)
}

type MockRateLimiter struct {
	mock.Mock
}

func (m *MockRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (*ratelimit.Result, error) {
	args := m.Called(ctx, key, limit, window)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ratelimit.Result), args.Error(1)
}

type MockJWTManager struct {
	mock.Mock
}

func (m *MockJWTManager) GenerateSessionToken(sessionID, tenantID, userID string, isAdmin bool) (string, error) {
	args := m.Called(sessionID, tenantID, userID, isAdmin)
	return args.String(0), args.Error(1)
}

func (m *MockJWTManager) ValidateToken(tokenString string) (*jwt.TokenClaims, error) {
	args := m.Called(tokenString)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*jwt.TokenClaims), args.Error(1)
}

func newTestLogger() logger.Logger {
	// Уровень error, чтобы тесты не шумели в stdout
	testLogger, _ := logger.NewLogger("dev", "error", "test-service")
	return testLogger
}

// newPermissiveEventService возвращает журнал событий поверх мока,
// принимающего любые записи: тестам сервисов важна сама операция,
// а не содержимое аудита.
func newPermissiveEventService() (service.SecurityEventService, *MockSecurityEventRepository) {
	eventRepo := &MockSecurityEventRepository{}
	eventRepo.On("Create", mock.Anything, mock.Anything).Return(nil).Maybe()

	eventService := service.NewSecurityEventService(eventRepo, events.NoopPublisher{}, newTestLogger(), nil)

	return eventService, eventRepo
}
