package repository

import (
	"context"
	"time"

	"AssetTrackPlatform/internal/domain"
)

// EventFilter представляет фильтр для выборки событий безопасности.
// TenantID обязателен: выборка без тенанта структурно невозможна.
type EventFilter struct {
	TenantID  string
	UserID    string
	EventType domain.EventType
	Severity  domain.Severity
	DateFrom  *time.Time
	DateTo    *time.Time
	Resolved  *bool
	Limit     int
	Offset    int
}

// APIKeyRepository интерфейс для работы с API ключами.
// Все методы, кроме поиска по хэшу, принимают tenantID и userID явно:
// ключ другого тенанта недостижим по построению запроса.
type APIKeyRepository interface {
	Create(ctx context.Context, key *domain.APIKey) error
	FindByID(ctx context.Context, tenantID, userID, id string) (*domain.APIKey, error)
	// FindByKeyHash ищет ключ по хэшу секрета. Тенант неизвестен до
	// резолва ключа, поэтому поиск глобальный по уникальному хэшу.
	FindByKeyHash(ctx context.Context, keyHash string) (*domain.APIKey, error)
	ListByUser(ctx context.Context, tenantID, userID string) ([]*domain.APIKey, error)
	Update(ctx context.Context, tenantID, userID string, key *domain.APIKey) error
	// TouchLastUsed обновляет отметку последнего использования ключа
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
}

// MFAMethodRepository интерфейс для работы с методами MFA
type MFAMethodRepository interface {
	Create(ctx context.Context, method *domain.MFAMethod) error
	FindByID(ctx context.Context, tenantID, userID, id string) (*domain.MFAMethod, error)
	FindByType(ctx context.Context, tenantID, userID string, methodType domain.MFAMethodType) (*domain.MFAMethod, error)
	ListByUser(ctx context.Context, tenantID, userID string) ([]*domain.MFAMethod, error)
	MarkVerified(ctx context.Context, tenantID, userID, id string) error
	// SetPrimary атомарно снимает флаг primary со всех методов пользователя
	// и выставляет его на указанном методе
	SetPrimary(ctx context.Context, tenantID, userID, id string) error
	ReplaceBackupCodes(ctx context.Context, tenantID, userID, id string, codes []string) error
	// ConsumeBackupCode заменяет список кодов условным обновлением
	// (compare-and-swap на прежнем значении). Возвращает false, если
	// список изменился конкурентно и обновление не применилось.
	ConsumeBackupCode(ctx context.Context, tenantID, userID, id string, previous, updated []string) (bool, error)
	DeleteByUser(ctx context.Context, tenantID, userID string) error
}

// SessionRepository интерфейс для работы с сессиями
type SessionRepository interface {
	Create(ctx context.Context, session *domain.Session) error
	// FindByID ищет сессию по ID. Идентификатор сессии непрозрачен и
	// выдается только владельцу, тенант проверяется после резолва.
	FindByID(ctx context.Context, id string) (*domain.Session, error)
	ListActiveByUser(ctx context.Context, tenantID, userID string) ([]*domain.Session, error)
	CountActiveByUser(ctx context.Context, tenantID, userID string) (int, error)
	// TerminateOldest завершает наименее активную сессию пользователя
	// и возвращает ее ID. Пустая строка — активных сессий нет.
	TerminateOldest(ctx context.Context, tenantID, userID string) (string, error)
	Terminate(ctx context.Context, id string) error
	UpdateActivity(ctx context.Context, id, ipAddress string, at time.Time) error
}

// SecurityEventRepository интерфейс для журнала событий безопасности
type SecurityEventRepository interface {
	Create(ctx context.Context, event *domain.SecurityEvent) error
	// List возвращает страницу событий и общее число записей под фильтром
	List(ctx context.Context, filter *EventFilter) ([]*domain.SecurityEvent, int, error)
	// Resolve помечает событие разрешенным. Повторное разрешение не
	// является ошибкой (идемпотентность).
	Resolve(ctx context.Context, tenantID, id, resolvedBy, notes string, at time.Time) error
	BulkResolve(ctx context.Context, tenantID string, ids []string, resolvedBy, notes string, at time.Time) error
}
