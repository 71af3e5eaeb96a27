package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"AssetTrackPlatform/internal/domain"
	"AssetTrackPlatform/internal/events"
	"AssetTrackPlatform/internal/repository"
	apperrors "AssetTrackPlatform/pkg/errors"
	"AssetTrackPlatform/pkg/logger"
	"AssetTrackPlatform/pkg/metrics"
)

// EventPage страница журнала событий
type EventPage struct {
	Events []*domain.SecurityEvent `json:"events"`
	Total  int                     `json:"total"`
}

// EventStatistics агрегированная статистика по журналу
type EventStatistics struct {
	TotalEvents      int                     `json:"total_events"`
	EventsByType     map[string]int          `json:"events_by_type"`
	EventsBySeverity map[string]int          `json:"events_by_severity"`
	RecentEvents     []*domain.SecurityEvent `json:"recent_events"`
	UnresolvedEvents int                     `json:"unresolved_events"`
}

// EventContext общие поля события, известные на границе запроса
type EventContext struct {
	UserID    string
	SessionID string
	IsAdmin   bool
	IPAddress string
	UserAgent string
	Country   string
	City      string
}

// SecurityEventService интерфейс журнала событий безопасности
type SecurityEventService interface {
	// LogEvent записывает событие в журнал. Никогда не возвращает
	// ошибку вызывающему: отказ аудита не должен ломать операцию,
	// которую он наблюдает. При отказе хранилища возвращается nil.
	LogEvent(ctx context.Context, event *domain.SecurityEvent) *domain.SecurityEvent

	LogLoginSuccess(ctx context.Context, tenantID string, ec EventContext) *domain.SecurityEvent
	LogLoginFailure(ctx context.Context, tenantID string, ec EventContext, reason string) *domain.SecurityEvent
	LogMfaSuccess(ctx context.Context, tenantID string, ec EventContext) *domain.SecurityEvent
	LogMfaFailure(ctx context.Context, tenantID string, ec EventContext, reason string) *domain.SecurityEvent
	LogAPIKeyCreated(ctx context.Context, tenantID string, ec EventContext, keyName string) *domain.SecurityEvent
	LogAPIKeyRevoked(ctx context.Context, tenantID string, ec EventContext, keyName, reason string) *domain.SecurityEvent
	LogSessionTerminated(ctx context.Context, tenantID string, ec EventContext, terminatedID, reason string, byOwner bool) *domain.SecurityEvent
	LogSuspiciousActivity(ctx context.Context, tenantID string, ec EventContext, description string, details map[string]interface{}) *domain.SecurityEvent
	LogRateLimitExceeded(ctx context.Context, tenantID string, ec EventContext, keyName string) *domain.SecurityEvent
	LogConcurrentSessionLimit(ctx context.Context, tenantID string, ec EventContext, evictedID string) *domain.SecurityEvent
	LogMfaEnabled(ctx context.Context, tenantID string, ec EventContext, methodName string) *domain.SecurityEvent
	LogMfaDisabled(ctx context.Context, tenantID string, ec EventContext) *domain.SecurityEvent

	GetEvents(ctx context.Context, filter *repository.EventFilter) (*EventPage, error)
	GetStatistics(ctx context.Context, tenantID string, dateFrom, dateTo *time.Time) (*EventStatistics, error)
	ResolveEvent(ctx context.Context, tenantID, id, resolvedBy, notes string) error
	BulkResolveEvents(ctx context.Context, tenantID string, ids []string, resolvedBy, notes string) error
}

// Ограничения выборки журнала
const (
	defaultEventPageLimit = 50
	maxEventPageLimit     = 500

	// statisticsScanLimit верхняя граница числа событий,
	// агрегируемых за один проход статистики
	statisticsScanLimit = 10000

	recentEventsCount = 10
)

// eventService реализация SecurityEventService
type eventService struct {
	eventRepository repository.SecurityEventRepository
	publisher       events.Publisher
	logger          logger.Logger
	metrics         *metrics.Metrics
}

// NewSecurityEventService создает новый экземпляр SecurityEventService
func NewSecurityEventService(
	eventRepository repository.SecurityEventRepository,
	publisher events.Publisher,
	log logger.Logger,
	m *metrics.Metrics,
) SecurityEventService {
	return &eventService{
		eventRepository: eventRepository,
		publisher:       publisher,
		logger:          log,
		metrics:         m,
	}
}

// LogEvent записывает событие в журнал и публикует его в шину.
// Ошибки хранилища и шины не распространяются на вызывающего.
func (s *eventService) LogEvent(ctx context.Context, event *domain.SecurityEvent) *domain.SecurityEvent {
	if event == nil || event.TenantID == "" {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Severity == "" {
		event.Severity = domain.SeverityFor(event.EventType)
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	if err := s.eventRepository.Create(ctx, event); err != nil {
		s.logger.Error("failed to persist security event",
			logger.String("tenant_id", event.TenantID),
			logger.String("event_type", string(event.EventType)),
			logger.Error(err))
		return nil
	}

	if s.metrics != nil {
		s.metrics.SecurityEvents.WithLabelValues(string(event.EventType), string(event.Severity)).Inc()
	}

	s.publisher.Publish(event)

	return event
}

// LogLoginSuccess фиксирует успешный вход
func (s *eventService) LogLoginSuccess(ctx context.Context, tenantID string, ec EventContext) *domain.SecurityEvent {
	return s.LogEvent(ctx, s.newEvent(tenantID, ec, domain.EventLoginSuccess, "User logged in successfully", nil))
}

// LogLoginFailure фиксирует неудачный вход
func (s *eventService) LogLoginFailure(ctx context.Context, tenantID string, ec EventContext, reason string) *domain.SecurityEvent {
	return s.LogEvent(ctx, s.newEvent(tenantID, ec, domain.EventLoginFailure, "Login attempt failed",
		map[string]interface{}{"reason": reason}))
}

// LogMfaSuccess фиксирует успешную проверку MFA
func (s *eventService) LogMfaSuccess(ctx context.Context, tenantID string, ec EventContext) *domain.SecurityEvent {
	return s.LogEvent(ctx, s.newEvent(tenantID, ec, domain.EventMFASuccess, "MFA verification succeeded", nil))
}

// LogMfaFailure фиксирует неудачную проверку MFA
func (s *eventService) LogMfaFailure(ctx context.Context, tenantID string, ec EventContext, reason string) *domain.SecurityEvent {
	return s.LogEvent(ctx, s.newEvent(tenantID, ec, domain.EventMFAFailure, "MFA verification failed",
		map[string]interface{}{"reason": reason}))
}

// LogAPIKeyCreated фиксирует создание API ключа
func (s *eventService) LogAPIKeyCreated(ctx context.Context, tenantID string, ec EventContext, keyName string) *domain.SecurityEvent {
	return s.LogEvent(ctx, s.newEvent(tenantID, ec, domain.EventAPIKeyCreated,
		fmt.Sprintf("API key %q created", keyName), nil))
}

// LogAPIKeyRevoked фиксирует отзыв API ключа
func (s *eventService) LogAPIKeyRevoked(ctx context.Context, tenantID string, ec EventContext, keyName, reason string) *domain.SecurityEvent {
	return s.LogEvent(ctx, s.newEvent(tenantID, ec, domain.EventAPIKeyRevoked,
		fmt.Sprintf("API key %q revoked", keyName),
		map[string]interface{}{"reason": reason}))
}

// LogSessionTerminated фиксирует завершение сессии, различая
// завершение владельцем и завершение администратором
func (s *eventService) LogSessionTerminated(ctx context.Context, tenantID string, ec EventContext, terminatedID, reason string, byOwner bool) *domain.SecurityEvent {
	terminatedBy := "owner"
	if !byOwner {
		terminatedBy = "admin"
	}

	return s.LogEvent(ctx, s.newEvent(tenantID, ec, domain.EventSessionTerminated, "Session terminated",
		map[string]interface{}{
			"terminated_session_id": terminatedID,
			"terminated_by":         terminatedBy,
			"reason":                reason,
		}))
}

// LogSuspiciousActivity фиксирует подозрительную активность
func (s *eventService) LogSuspiciousActivity(ctx context.Context, tenantID string, ec EventContext, description string, details map[string]interface{}) *domain.SecurityEvent {
	return s.LogEvent(ctx, s.newEvent(tenantID, ec, domain.EventSuspiciousActivity, description, details))
}

// LogRateLimitExceeded фиксирует превышение лимита запросов
func (s *eventService) LogRateLimitExceeded(ctx context.Context, tenantID string, ec EventContext, keyName string) *domain.SecurityEvent {
	return s.LogEvent(ctx, s.newEvent(tenantID, ec, domain.EventRateLimitExceeded,
		fmt.Sprintf("Rate limit exceeded for API key %q", keyName), nil))
}

// LogConcurrentSessionLimit фиксирует вытеснение сессии по лимиту
func (s *eventService) LogConcurrentSessionLimit(ctx context.Context, tenantID string, ec EventContext, evictedID string) *domain.SecurityEvent {
	return s.LogEvent(ctx, s.newEvent(tenantID, ec, domain.EventConcurrentSessionLimit,
		"Concurrent session limit reached, oldest session evicted",
		map[string]interface{}{"evicted_session_id": evictedID}))
}

// LogMfaEnabled фиксирует включение MFA
func (s *eventService) LogMfaEnabled(ctx context.Context, tenantID string, ec EventContext, methodName string) *domain.SecurityEvent {
	return s.LogEvent(ctx, s.newEvent(tenantID, ec, domain.EventMFAEnabled,
		fmt.Sprintf("MFA method %q enabled", methodName), nil))
}

// LogMfaDisabled фиксирует отключение MFA
func (s *eventService) LogMfaDisabled(ctx context.Context, tenantID string, ec EventContext) *domain.SecurityEvent {
	return s.LogEvent(ctx, s.newEvent(tenantID, ec, domain.EventMFADisabled, "MFA disabled for user", nil))
}

// GetEvents возвращает страницу журнала под фильтром
func (s *eventService) GetEvents(ctx context.Context, filter *repository.EventFilter) (*EventPage, error) {
	if filter == nil || filter.TenantID == "" {
		return nil, apperrors.New(apperrors.ErrValidation, "tenant id is required")
	}

	if filter.Limit <= 0 {
		filter.Limit = defaultEventPageLimit
	}
	if filter.Limit > maxEventPageLimit {
		filter.Limit = maxEventPageLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	eventList, total, err := s.eventRepository.List(ctx, filter)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInternal, "failed to get security events")
	}

	if eventList == nil {
		eventList = []*domain.SecurityEvent{}
	}

	return &EventPage{Events: eventList, Total: total}, nil
}

// GetStatistics агрегирует журнал за период одним проходом
func (s *eventService) GetStatistics(ctx context.Context, tenantID string, dateFrom, dateTo *time.Time) (*EventStatistics, error) {
	if tenantID == "" {
		return nil, apperrors.New(apperrors.ErrValidation, "tenant id is required")
	}

	filter := &repository.EventFilter{
		TenantID: tenantID,
		DateFrom: dateFrom,
		DateTo:   dateTo,
		Limit:    statisticsScanLimit,
	}

	eventList, total, err := s.eventRepository.List(ctx, filter)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInternal, "failed to get security events")
	}

	stats := &EventStatistics{
		TotalEvents:      total,
		EventsByType:     make(map[string]int),
		EventsBySeverity: make(map[string]int),
		RecentEvents:     []*domain.SecurityEvent{},
	}

	for _, event := range eventList {
		stats.EventsByType[string(event.EventType)]++
		stats.EventsBySeverity[string(event.Severity)]++
		if !event.IsResolved {
			stats.UnresolvedEvents++
		}
		if len(stats.RecentEvents) < recentEventsCount {
			stats.RecentEvents = append(stats.RecentEvents, event)
		}
	}

	return stats, nil
}

// ResolveEvent помечает событие разрешенным (идемпотентно)
func (s *eventService) ResolveEvent(ctx context.Context, tenantID, id, resolvedBy, notes string) error {
	if tenantID == "" || id == "" {
		return apperrors.New(apperrors.ErrValidation, "tenant id and event id are required")
	}

	return s.eventRepository.Resolve(ctx, tenantID, id, resolvedBy, notes, time.Now().UTC())
}

// BulkResolveEvents помечает разрешенными несколько событий
func (s *eventService) BulkResolveEvents(ctx context.Context, tenantID string, ids []string, resolvedBy, notes string) error {
	if tenantID == "" {
		return apperrors.New(apperrors.ErrValidation, "tenant id is required")
	}
	if len(ids) == 0 {
		return nil
	}

	return s.eventRepository.BulkResolve(ctx, tenantID, ids, resolvedBy, notes, time.Now().UTC())
}

func (s *eventService) newEvent(tenantID string, ec EventContext, eventType domain.EventType, description string, details map[string]interface{}) *domain.SecurityEvent {
	return &domain.SecurityEvent{
		ID:              uuid.New().String(),
		TenantID:        tenantID,
		UserID:          ec.UserID,
		SessionID:       ec.SessionID,
		EventType:       eventType,
		Severity:        domain.SeverityFor(eventType),
		Description:     description,
		Details:         details,
		IPAddress:       ec.IPAddress,
		UserAgent:       ec.UserAgent,
		LocationCountry: ec.Country,
		LocationCity:    ec.City,
		CreatedAt:       time.Now().UTC(),
	}
}
