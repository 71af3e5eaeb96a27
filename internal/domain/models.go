package domain

import (
	"time"
)

// APIKey представляет API ключ для доступа к системе.
// В БД хранится только односторонний хэш секрета (KeyHash);
// открытый текст возвращается пользователю ровно один раз при создании.
// KeyPrefix — видимая часть ключа для отображения в списках.
// Ключи никогда не удаляются физически: отзыв выставляет IsActive=false.
type APIKey struct {
	ID                     string                     `json:"id"`
	TenantID               string                     `json:"tenant_id"`
	UserID                 string                     `json:"user_id"`
	KeyName                string                     `json:"key_name"`
	KeyPrefix              string                     `json:"key_prefix"`
	KeyHash                string                     `json:"-"`
	IsActive               bool                       `json:"is_active"`
	Permissions            map[string]map[string]bool `json:"permissions"`
	Scopes                 []string                   `json:"scopes"`
	AllowedIPs             []string                   `json:"allowed_ips"`
	RateLimitRequests      int                        `json:"rate_limit_requests"`
	RateLimitWindowSeconds int                        `json:"rate_limit_window_seconds"`
	ExpiresAt              *time.Time                 `json:"expires_at,omitempty"`
	CreatedAt              time.Time                  `json:"created_at"`
	LastUsedAt             *time.Time                 `json:"last_used_at,omitempty"`
}

// HasPermission проверяет, разрешено ли действие над ресурсом
func (k *APIKey) HasPermission(resource, action string) bool {
	actions, ok := k.Permissions[resource]
	if !ok {
		return false
	}
	return actions[action]
}

// IsExpired проверяет, истек ли срок действия ключа
func (k *APIKey) IsExpired(now time.Time) bool {
	return k.ExpiresAt != nil && k.ExpiresAt.Before(now)
}

// MFAMethodType представляет тип метода многофакторной аутентификации
type MFAMethodType string

// Поддерживаемые типы MFA методов
const (
	MFAMethodTOTP        MFAMethodType = "totp"
	MFAMethodBackupCodes MFAMethodType = "backup_codes"
)

// MFAMethod представляет метод многофакторной аутентификации пользователя.
// TOTP секрет хранится только в зашифрованном виде (SecretEncrypted).
// BackupCodes — bcrypt-хэши одноразовых кодов; список монотонно убывает
// по мере использования кодов.
// IsVerified переходит false → true ровно один раз, при первой успешной
// проверке кода после настройки.
type MFAMethod struct {
	ID              string        `json:"id"`
	TenantID        string        `json:"tenant_id"`
	UserID          string        `json:"user_id"`
	MethodType      MFAMethodType `json:"method_type"`
	MethodName      string        `json:"method_name"`
	SecretEncrypted string        `json:"-"`
	BackupCodes     []string      `json:"-"`
	IsVerified      bool          `json:"is_verified"`
	IsPrimary       bool          `json:"is_primary"`
	CreatedAt       time.Time     `json:"created_at"`
}

// DeviceInfo представляет сведения об устройстве клиента
type DeviceInfo struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Browser string `json:"browser"`
	OS      string `json:"os"`
}

// GeoInfo представляет геолокацию клиента
type GeoInfo struct {
	Country string `json:"country"`
	City    string `json:"city"`
}

// Session представляет сессию пользователя.
// Сессии никогда не удаляются физически: завершение выставляет IsActive=false.
// IsCurrent вычисляется на границе API сравнением с сессией вызывающего
// и не хранится в БД.
type Session struct {
	ID                string     `json:"id"`
	TenantID          string     `json:"tenant_id"`
	UserID            string     `json:"user_id"`
	DeviceFingerprint string     `json:"device_fingerprint"`
	DeviceInfo        DeviceInfo `json:"device_info"`
	IPAddress         string     `json:"ip_address"`
	Location          *GeoInfo   `json:"location,omitempty"`
	UserAgent         string     `json:"user_agent"`
	IsActive          bool       `json:"is_active"`
	CreatedAt         time.Time  `json:"created_at"`
	LastActivityAt    time.Time  `json:"last_activity_at"`
	ExpiresAt         time.Time  `json:"expires_at"`
	IsCurrent         bool       `json:"is_current,omitempty"`
}

// IsExpired проверяет, истекла ли сессия
func (s *Session) IsExpired(now time.Time) bool {
	return s.ExpiresAt.Before(now)
}

// EventType представляет тип события безопасности
type EventType string

// Типы событий безопасности
const (
	EventLoginSuccess           EventType = "login_success"
	EventLoginFailure           EventType = "login_failure"
	EventMFASuccess             EventType = "mfa_success"
	EventMFAFailure             EventType = "mfa_failure"
	EventPasswordChange         EventType = "password_change"
	EventAccountLocked          EventType = "account_locked"
	EventAccountUnlocked        EventType = "account_unlocked"
	EventSuspiciousActivity     EventType = "suspicious_activity"
	EventAPIKeyCreated          EventType = "api_key_created"
	EventAPIKeyRevoked          EventType = "api_key_revoked"
	EventSessionTerminated      EventType = "session_terminated"
	EventConcurrentSessionLimit EventType = "concurrent_session_limit"
	EventRateLimitExceeded      EventType = "rate_limit_exceeded"
	EventMFAEnabled             EventType = "mfa_enabled"
	EventMFADisabled            EventType = "mfa_disabled"
)

// Severity представляет серьезность события безопасности
type Severity string

// Уровни серьезности событий
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SeverityFor возвращает каноническую серьезность для типа события
func SeverityFor(eventType EventType) Severity {
	switch eventType {
	case EventLoginSuccess, EventMFASuccess, EventSessionTerminated, EventMFAEnabled:
		return SeverityLow
	case EventLoginFailure, EventAPIKeyCreated, EventAPIKeyRevoked, EventPasswordChange,
		EventConcurrentSessionLimit, EventRateLimitExceeded, EventMFADisabled, EventAccountUnlocked:
		return SeverityMedium
	case EventMFAFailure:
		return SeverityHigh
	case EventAccountLocked, EventSuspiciousActivity:
		return SeverityCritical
	default:
		return SeverityMedium
	}
}

// SecurityEvent представляет событие безопасности в журнале аудита.
// Журнал append-only: после создания мутируют только поля разрешения
// (IsResolved, ResolvedAt, ResolvedBy, ResolutionNotes).
type SecurityEvent struct {
	ID              string                 `json:"id"`
	TenantID        string                 `json:"tenant_id"`
	UserID          string                 `json:"user_id,omitempty"`
	SessionID       string                 `json:"session_id,omitempty"`
	EventType       EventType              `json:"event_type"`
	Severity        Severity               `json:"severity"`
	Description     string                 `json:"description"`
	Details         map[string]interface{} `json:"details,omitempty"`
	IPAddress       string                 `json:"ip_address,omitempty"`
	UserAgent       string                 `json:"user_agent,omitempty"`
	LocationCountry string                 `json:"location_country,omitempty"`
	LocationCity    string                 `json:"location_city,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	IsResolved      bool                   `json:"is_resolved"`
	ResolvedAt      *time.Time             `json:"resolved_at,omitempty"`
	ResolvedBy      string                 `json:"resolved_by,omitempty"`
	ResolutionNotes string                 `json:"resolution_notes,omitempty"`
}
