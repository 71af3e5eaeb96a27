package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"

	"AssetTrackPlatform/internal/domain"
	"AssetTrackPlatform/internal/pkg/jwt"
	"AssetTrackPlatform/internal/repository"
	apperrors "AssetTrackPlatform/pkg/errors"
	"AssetTrackPlatform/pkg/logger"
	"AssetTrackPlatform/pkg/metrics"
)

// CreateSessionResult результат создания сессии
type CreateSessionResult struct {
	Session     *domain.Session `json:"session"`
	AccessToken string          `json:"access_token"`
}

// SessionValidationResult результат проверки сессии. Store ошибки
// наружу не выходят: любая внутренняя ошибка дает {Valid:false}.
type SessionValidationResult struct {
	Valid   bool            `json:"valid"`
	Session *domain.Session `json:"session,omitempty"`
}

// SessionService интерфейс для управления сессиями
type SessionService interface {
	// CreateSession создает сессию, вытесняя наименее активную при
	// достижении лимита одновременных сессий пользователя
	CreateSession(ctx context.Context, tenantID, userID string, device domain.DeviceInfo, geo *domain.GeoInfo, ipAddress, userAgent string, isAdmin bool) (*CreateSessionResult, error)
	// ValidateSession проверяет сессию. Истекшая сессия лениво
	// помечается неактивной как побочный эффект проверки.
	ValidateSession(ctx context.Context, sessionID string) *SessionValidationResult
	UpdateSessionActivity(ctx context.Context, sessionID, ipAddress string) error
	TerminateSession(ctx context.Context, tenantID, sessionID, reason string, ec EventContext) error
	// ListSessions возвращает активные сессии с флагом is_current,
	// вычисленным сравнением с сессией вызывающего
	ListSessions(ctx context.Context, tenantID, userID, currentSessionID string) ([]*domain.Session, error)
}

// sessionService реализация SessionService
type sessionService struct {
	sessionRepository repository.SessionRepository
	jwtManager        jwt.Manager
	eventService      SecurityEventService
	logger            logger.Logger
	metrics           *metrics.Metrics

	maxActiveSessions int
	sessionDuration   time.Duration
}

// NewSessionService создает новый экземпляр SessionService
func NewSessionService(
	sessionRepository repository.SessionRepository,
	jwtManager jwt.Manager,
	eventService SecurityEventService,
	log logger.Logger,
	m *metrics.Metrics,
	maxActiveSessions int,
	sessionDuration time.Duration,
) SessionService {
	return &sessionService{
		sessionRepository: sessionRepository,
		jwtManager:        jwtManager,
		eventService:      eventService,
		logger:            log,
		metrics:           m,
		maxActiveSessions: maxActiveSessions,
		sessionDuration:   sessionDuration,
	}
}

// CreateSession создает новую сессию и выдает привязанный к ней токен
func (s *sessionService) CreateSession(ctx context.Context, tenantID, userID string, device domain.DeviceInfo, geo *domain.GeoInfo, ipAddress, userAgent string, isAdmin bool) (*CreateSessionResult, error) {
	if tenantID == "" || userID == "" {
		return nil, apperrors.New(apperrors.ErrValidation, "tenant id and user id are required")
	}

	// Лимит одновременных сессий: лишняя вытесняется, а не отклоняется,
	// чтобы новый вход всегда проходил
	count, err := s.sessionRepository.CountActiveByUser(ctx, tenantID, userID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInternal, "failed to count sessions")
	}

	for count >= s.maxActiveSessions {
		evictedID, err := s.sessionRepository.TerminateOldest(ctx, tenantID, userID)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrInternal, "failed to evict session")
		}
		if evictedID == "" {
			break
		}

		if s.metrics != nil {
			s.metrics.SessionsEvicted.Inc()
		}
		s.eventService.LogConcurrentSessionLimit(ctx, tenantID,
			EventContext{UserID: userID, IPAddress: ipAddress, UserAgent: userAgent}, evictedID)

		count--
	}

	now := time.Now().UTC()

	session := &domain.Session{
		ID:                uuid.New().String(),
		TenantID:          tenantID,
		UserID:            userID,
		DeviceFingerprint: fingerprint(device, userAgent),
		DeviceInfo:        device,
		IPAddress:         ipAddress,
		Location:          geo,
		UserAgent:         userAgent,
		IsActive:          true,
		CreatedAt:         now,
		LastActivityAt:    now,
		ExpiresAt:         now.Add(s.sessionDuration),
	}

	if err := s.sessionRepository.Create(ctx, session); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInternal, "failed to create session")
	}

	token, err := s.jwtManager.GenerateSessionToken(session.ID, tenantID, userID, isAdmin)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInternal, "failed to generate session token")
	}

	if s.metrics != nil {
		s.metrics.SessionsCreated.Inc()
	}
	s.eventService.LogLoginSuccess(ctx, tenantID, EventContext{
		UserID:    userID,
		SessionID: session.ID,
		IPAddress: ipAddress,
		UserAgent: userAgent,
	})

	return &CreateSessionResult{Session: session, AccessToken: token}, nil
}

// ValidateSession проверяет, что сессия существует, активна и не истекла
func (s *sessionService) ValidateSession(ctx context.Context, sessionID string) *SessionValidationResult {
	if sessionID == "" {
		return &SessionValidationResult{Valid: false}
	}

	session, err := s.sessionRepository.FindByID(ctx, sessionID)
	if err != nil {
		if !isNotFound(err) {
			s.logger.Error("session lookup failed", logger.Error(err))
		}
		return &SessionValidationResult{Valid: false}
	}

	if !session.IsActive {
		return &SessionValidationResult{Valid: false}
	}

	if session.IsExpired(time.Now().UTC()) {
		// Ленивое закрытие истекшей сессии
		if err := s.sessionRepository.Terminate(ctx, session.ID); err != nil {
			s.logger.Warn("failed to terminate expired session",
				logger.String("session_id", session.ID),
				logger.Error(err))
		}
		return &SessionValidationResult{Valid: false}
	}

	return &SessionValidationResult{Valid: true, Session: session}
}

// UpdateSessionActivity обновляет отметку активности. Смена IP
// фиксируется как подозрительная активность, но сессия не
// завершается: легитимная смена сети не должна выбрасывать пользователя.
func (s *sessionService) UpdateSessionActivity(ctx context.Context, sessionID, ipAddress string) error {
	session, err := s.sessionRepository.FindByID(ctx, sessionID)
	if err != nil {
		return apperrors.FromError(err)
	}

	if ipAddress == "" {
		ipAddress = session.IPAddress
	}

	if err := s.sessionRepository.UpdateActivity(ctx, sessionID, ipAddress, time.Now().UTC()); err != nil {
		return apperrors.Wrap(err, apperrors.ErrInternal, "failed to update session activity")
	}

	if ipAddress != session.IPAddress {
		s.eventService.LogSuspiciousActivity(ctx, session.TenantID,
			EventContext{
				UserID:    session.UserID,
				SessionID: session.ID,
				IPAddress: ipAddress,
				UserAgent: session.UserAgent,
			},
			"Session IP address changed",
			map[string]interface{}{
				"previous_ip": session.IPAddress,
				"new_ip":      ipAddress,
			})
	}

	return nil
}

// TerminateSession завершает сессию. Чужую сессию может завершить
// только администратор; завершение чужой сессии отражается
// в журнале отдельно от завершения собственной.
func (s *sessionService) TerminateSession(ctx context.Context, tenantID, sessionID, reason string, ec EventContext) error {
	session, err := s.sessionRepository.FindByID(ctx, sessionID)
	if err != nil {
		return apperrors.FromError(err)
	}

	// Сессия другого тенанта неотличима от несуществующей
	if session.TenantID != tenantID {
		return apperrors.New(apperrors.ErrNotFound, "Session not found")
	}

	byOwner := ec.SessionID == sessionID || (ec.UserID != "" && ec.UserID == session.UserID)
	if !byOwner && !ec.IsAdmin {
		return apperrors.New(apperrors.ErrForbidden, "Cannot terminate another user's session")
	}

	if session.IsActive {
		if err := s.sessionRepository.Terminate(ctx, sessionID); err != nil {
			return apperrors.FromError(err)
		}
	}

	s.eventService.LogSessionTerminated(ctx, tenantID, withUser(ec, session.UserID), sessionID, reason, byOwner)

	return nil
}

// ListSessions возвращает активные сессии пользователя
func (s *sessionService) ListSessions(ctx context.Context, tenantID, userID, currentSessionID string) ([]*domain.Session, error) {
	sessions, err := s.sessionRepository.ListActiveByUser(ctx, tenantID, userID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInternal, "failed to list sessions")
	}

	now := time.Now().UTC()

	result := make([]*domain.Session, 0, len(sessions))
	for _, session := range sessions {
		if session.IsExpired(now) {
			continue
		}
		session.IsCurrent = session.ID == currentSessionID
		result = append(result, session)
	}

	return result, nil
}

// fingerprint строит идентификатор устройства из его атрибутов
func fingerprint(device domain.DeviceInfo, userAgent string) string {
	h := sha256.New()
	h.Write([]byte(strings.Join([]string{device.Name, device.Type, device.Browser, device.OS, userAgent}, "|")))
	return hex.EncodeToString(h.Sum(nil))[:32]
}
