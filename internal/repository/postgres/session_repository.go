package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"AssetTrackPlatform/internal/domain"
	"AssetTrackPlatform/internal/repository"
	apperrors "AssetTrackPlatform/pkg/errors"
)

// SessionRepository реализация репозитория сессий для PostgreSQL
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository создает новый экземпляр SessionRepository
func NewSessionRepository(pool *pgxpool.Pool) repository.SessionRepository {
	return &SessionRepository{pool: pool}
}

const sessionColumns = `id, tenant_id, user_id, device_fingerprint, device_info, ip_address,
	location, user_agent, is_active, created_at, last_activity_at, expires_at`

// Create сохраняет новую сессию в базе данных
func (r *SessionRepository) Create(ctx context.Context, session *domain.Session) error {
	deviceInfo, err := json.Marshal(session.DeviceInfo)
	if err != nil {
		return fmt.Errorf("failed to marshal device info: %w", err)
	}

	var location []byte
	if session.Location != nil {
		location, err = json.Marshal(session.Location)
		if err != nil {
			return fmt.Errorf("failed to marshal location: %w", err)
		}
	}

	query := `INSERT INTO sessions (id, tenant_id, user_id, device_fingerprint, device_info,
			ip_address, location, user_agent, is_active, created_at, last_activity_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err = r.pool.Exec(ctx, query,
		session.ID,
		session.TenantID,
		session.UserID,
		session.DeviceFingerprint,
		deviceInfo,
		session.IPAddress,
		location,
		session.UserAgent,
		session.IsActive,
		session.CreatedAt,
		session.LastActivityAt,
		session.ExpiresAt)

	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

// FindByID возвращает сессию по ее ID
func (r *SessionRepository) FindByID(ctx context.Context, id string) (*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`

	return r.scanOne(r.pool.QueryRow(ctx, query, id))
}

// ListActiveByUser возвращает активные сессии пользователя,
// отсортированные по времени последней активности
func (r *SessionRepository) ListActiveByUser(ctx context.Context, tenantID, userID string) ([]*domain.Session, error) {
	query := `SELECT ` + sessionColumns + `
		FROM sessions WHERE tenant_id = $1 AND user_id = $2 AND is_active = true
		ORDER BY last_activity_at DESC`

	rows, err := r.pool.Query(ctx, query, tenantID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.Session
	for rows.Next() {
		session, err := r.scanOne(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}

	return sessions, nil
}

// CountActiveByUser возвращает число активных сессий пользователя
func (r *SessionRepository) CountActiveByUser(ctx context.Context, tenantID, userID string) (int, error) {
	query := `SELECT COUNT(*) FROM sessions
		WHERE tenant_id = $1 AND user_id = $2 AND is_active = true`

	var count int
	if err := r.pool.QueryRow(ctx, query, tenantID, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}

	return count, nil
}

// TerminateOldest завершает сессию с наиболее давней активностью.
// Выбор и завершение выполняются одним запросом, чтобы конкурентные
// вызовы не завершили одну и ту же сессию дважды.
func (r *SessionRepository) TerminateOldest(ctx context.Context, tenantID, userID string) (string, error) {
	query := `UPDATE sessions SET is_active = false
		WHERE id = (
			SELECT id FROM sessions
			WHERE tenant_id = $1 AND user_id = $2 AND is_active = true
			ORDER BY last_activity_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id`

	var id string
	err := r.pool.QueryRow(ctx, query, tenantID, userID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to terminate oldest session: %w", err)
	}

	return id, nil
}

// Terminate завершает сессию по ID
func (r *SessionRepository) Terminate(ctx context.Context, id string) error {
	query := `UPDATE sessions SET is_active = false WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to terminate session: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return apperrors.New(apperrors.ErrNotFound, "Session not found")
	}

	return nil
}

// UpdateActivity обновляет время последней активности и адрес клиента
func (r *SessionRepository) UpdateActivity(ctx context.Context, id, ipAddress string, at time.Time) error {
	query := `UPDATE sessions SET last_activity_at = $2, ip_address = $3 WHERE id = $1`

	if _, err := r.pool.Exec(ctx, query, id, at, ipAddress); err != nil {
		return fmt.Errorf("failed to update session activity: %w", err)
	}

	return nil
}

func (r *SessionRepository) scanOne(row pgx.Row) (*domain.Session, error) {
	var session domain.Session
	var deviceInfo, location []byte

	err := row.Scan(
		&session.ID,
		&session.TenantID,
		&session.UserID,
		&session.DeviceFingerprint,
		&deviceInfo,
		&session.IPAddress,
		&location,
		&session.UserAgent,
		&session.IsActive,
		&session.CreatedAt,
		&session.LastActivityAt,
		&session.ExpiresAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.New(apperrors.ErrNotFound, "Session not found")
		}
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}

	if len(deviceInfo) > 0 {
		if err := json.Unmarshal(deviceInfo, &session.DeviceInfo); err != nil {
			return nil, fmt.Errorf("failed to unmarshal device info: %w", err)
		}
	}

	if len(location) > 0 {
		session.Location = &domain.GeoInfo{}
		if err := json.Unmarshal(location, session.Location); err != nil {
			return nil, fmt.Errorf("failed to unmarshal location: %w", err)
		}
	}

	return &session, nil
}
