package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"AssetTrackPlatform/internal/domain"
	"AssetTrackPlatform/internal/events"
	"AssetTrackPlatform/internal/repository"
	"AssetTrackPlatform/internal/service"
	apperrors "AssetTrackPlatform/pkg/errors"
)

func setupEventService() (service.SecurityEventService, *MockSecurityEventRepository) {
	eventRepo := &MockSecurityEventRepository{}
	eventService := service.NewSecurityEventService(eventRepo, events.NoopPublisher{}, newTestLogger(), nil)
	return eventService, eventRepo
}

func TestEventService_LogEvent(t *testing.T) {
	eventService, eventRepo := setupEventService()
	ctx := context.Background()

	eventRepo.On("Create", ctx, mock.Anything).Return(nil)

	event := eventService.LogEvent(ctx, &domain.SecurityEvent{
		TenantID:    "tenant-1",
		EventType:   domain.EventLoginFailure,
		Description: "Login attempt failed",
	})

	require.NotNil(t, event)

	// Незаполненные поля достраиваются при записи
	assert.NotEmpty(t, event.ID)
	assert.Equal(t, domain.SeverityMedium, event.Severity)
	assert.False(t, event.CreatedAt.IsZero())

	eventRepo.AssertExpectations(t)
}

func TestEventService_LogEvent_StoreFailureDoesNotPropagate(t *testing.T) {
	eventService, eventRepo := setupEventService()
	ctx := context.Background()

	eventRepo.On("Create", ctx, mock.Anything).Return(errors.New("connection refused"))

	// Отказ аудита не должен ломать наблюдаемую операцию
	event := eventService.LogEvent(ctx, &domain.SecurityEvent{
		TenantID:  "tenant-1",
		EventType: domain.EventLoginSuccess,
	})

	assert.Nil(t, event)
}

func TestEventService_LogEvent_MissingTenant(t *testing.T) {
	eventService, eventRepo := setupEventService()

	event := eventService.LogEvent(context.Background(), &domain.SecurityEvent{
		EventType: domain.EventLoginSuccess,
	})

	assert.Nil(t, event)
	eventRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestEventService_SeverityAssignment(t *testing.T) {
	eventService, eventRepo := setupEventService()
	ctx := context.Background()

	var stored []*domain.SecurityEvent
	eventRepo.On("Create", ctx, mock.Anything).Run(func(args mock.Arguments) {
		stored = append(stored, args.Get(1).(*domain.SecurityEvent))
	}).Return(nil)

	ec := service.EventContext{UserID: "user-1", IPAddress: "203.0.113.10"}

	eventService.LogLoginSuccess(ctx, "tenant-1", ec)
	eventService.LogMfaFailure(ctx, "tenant-1", ec, "invalid code")
	eventService.LogSuspiciousActivity(ctx, "tenant-1", ec, "Session IP address changed", nil)
	eventService.LogAPIKeyCreated(ctx, "tenant-1", ec, "CI key")

	require.Len(t, stored, 4)
	assert.Equal(t, domain.SeverityLow, stored[0].Severity)
	assert.Equal(t, domain.SeverityHigh, stored[1].Severity)
	assert.Equal(t, domain.SeverityCritical, stored[2].Severity)
	assert.Equal(t, domain.SeverityMedium, stored[3].Severity)

	// Контекст запроса переносится в событие
	assert.Equal(t, "user-1", stored[0].UserID)
	assert.Equal(t, "203.0.113.10", stored[0].IPAddress)
}

func TestEventService_GetEvents_DefaultsAndCaps(t *testing.T) {
	eventService, eventRepo := setupEventService()
	ctx := context.Background()

	eventRepo.On("List", ctx, mock.MatchedBy(func(filter *repository.EventFilter) bool {
		return filter.Limit == 50 && filter.Offset == 0
	})).Return([]*domain.SecurityEvent{}, 0, nil).Once()

	page, err := eventService.GetEvents(ctx, &repository.EventFilter{TenantID: "tenant-1"})

	require.NoError(t, err)
	assert.NotNil(t, page.Events)
	assert.Zero(t, page.Total)

	// Запрошенный лимит обрезается до максимума
	eventRepo.On("List", ctx, mock.MatchedBy(func(filter *repository.EventFilter) bool {
		return filter.Limit == 500
	})).Return([]*domain.SecurityEvent{}, 0, nil).Once()

	_, err = eventService.GetEvents(ctx, &repository.EventFilter{TenantID: "tenant-1", Limit: 10000})
	require.NoError(t, err)

	eventRepo.AssertExpectations(t)
}

func TestEventService_GetEvents_MissingTenant(t *testing.T) {
	eventService, _ := setupEventService()

	page, err := eventService.GetEvents(context.Background(), &repository.EventFilter{})

	require.Error(t, err)
	assert.Nil(t, page)

	// Ошибка валидации, а не внутренняя: клиент получит 400, не 500
	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrValidation, appErr.Code)
}

func TestEventService_ResolveEvent_MissingTenant(t *testing.T) {
	eventService, eventRepo := setupEventService()

	err := eventService.ResolveEvent(context.Background(), "", "event-1", "admin-1", "")

	require.Error(t, err)

	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrValidation, appErr.Code)

	eventRepo.AssertNotCalled(t, "Resolve", mock.Anything, mock.Anything, mock.Anything,
		mock.Anything, mock.Anything, mock.Anything)
}

func TestEventService_GetStatistics(t *testing.T) {
	eventService, eventRepo := setupEventService()
	ctx := context.Background()

	eventList := []*domain.SecurityEvent{
		{EventType: domain.EventLoginSuccess, Severity: domain.SeverityLow, IsResolved: true},
		{EventType: domain.EventLoginFailure, Severity: domain.SeverityMedium},
		{EventType: domain.EventLoginFailure, Severity: domain.SeverityMedium},
		{EventType: domain.EventSuspiciousActivity, Severity: domain.SeverityCritical},
	}
	eventRepo.On("List", ctx, mock.MatchedBy(func(filter *repository.EventFilter) bool {
		return filter.TenantID == "tenant-1"
	})).Return(eventList, len(eventList), nil)

	stats, err := eventService.GetStatistics(ctx, "tenant-1", nil, nil)

	require.NoError(t, err)
	assert.Equal(t, 4, stats.TotalEvents)
	assert.Equal(t, 2, stats.EventsByType["login_failure"])
	assert.Equal(t, 1, stats.EventsByType["suspicious_activity"])
	assert.Equal(t, 2, stats.EventsBySeverity["medium"])
	assert.Equal(t, 3, stats.UnresolvedEvents)
	assert.Len(t, stats.RecentEvents, 4)
}

func TestEventService_ResolveEvent(t *testing.T) {
	eventService, eventRepo := setupEventService()
	ctx := context.Background()

	eventRepo.On("Resolve", ctx, "tenant-1", "event-1", "admin-1", "false positive", mock.Anything).
		Return(nil)

	err := eventService.ResolveEvent(ctx, "tenant-1", "event-1", "admin-1", "false positive")

	require.NoError(t, err)
	eventRepo.AssertExpectations(t)
}

func TestEventService_BulkResolveEvents_EmptyIDs(t *testing.T) {
	eventService, eventRepo := setupEventService()

	err := eventService.BulkResolveEvents(context.Background(), "tenant-1", nil, "admin-1", "")

	// Пустой список не является ошибкой и не трогает хранилище
	require.NoError(t, err)
	eventRepo.AssertNotCalled(t, "BulkResolve",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestEventService_BulkResolveEvents(t *testing.T) {
	eventService, eventRepo := setupEventService()
	ctx := context.Background()

	ids := []string{"event-1", "event-2"}
	eventRepo.On("BulkResolve", ctx, "tenant-1", ids, "admin-1", "triaged", mock.Anything).Return(nil)

	err := eventService.BulkResolveEvents(ctx, "tenant-1", ids, "admin-1", "triaged")

	require.NoError(t, err)
	eventRepo.AssertExpectations(t)
}
