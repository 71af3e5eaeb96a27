package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"AssetTrackPlatform/internal/domain"
	"AssetTrackPlatform/internal/repository"
	apperrors "AssetTrackPlatform/pkg/errors"
)

// SecurityEventRepository реализация журнала событий безопасности
// для PostgreSQL. Журнал append-only: кроме полей разрешения,
// записи не обновляются и не удаляются.
type SecurityEventRepository struct {
	pool *pgxpool.Pool
}

// NewSecurityEventRepository создает новый экземпляр SecurityEventRepository
func NewSecurityEventRepository(pool *pgxpool.Pool) repository.SecurityEventRepository {
	return &SecurityEventRepository{pool: pool}
}

const eventColumns = `id, tenant_id, user_id, session_id, event_type, severity, description,
	details, ip_address, user_agent, location_country, location_city, created_at,
	is_resolved, resolved_at, resolved_by, resolution_notes`

// Create добавляет событие в журнал
func (r *SecurityEventRepository) Create(ctx context.Context, event *domain.SecurityEvent) error {
	var details []byte
	if event.Details != nil {
		var err error
		details, err = json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal event details: %w", err)
		}
	}

	query := `INSERT INTO security_events (id, tenant_id, user_id, session_id, event_type,
			severity, description, details, ip_address, user_agent, location_country,
			location_city, created_at, is_resolved)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := r.pool.Exec(ctx, query,
		event.ID,
		event.TenantID,
		nullIfEmpty(event.UserID),
		nullIfEmpty(event.SessionID),
		string(event.EventType),
		string(event.Severity),
		event.Description,
		details,
		event.IPAddress,
		event.UserAgent,
		event.LocationCountry,
		event.LocationCity,
		event.CreatedAt,
		event.IsResolved)

	if err != nil {
		return fmt.Errorf("failed to create security event: %w", err)
	}

	return nil
}

// List возвращает страницу событий под фильтром и общее число записей.
// Фильтр всегда ограничен тенантом.
func (r *SecurityEventRepository) List(ctx context.Context, filter *repository.EventFilter) ([]*domain.SecurityEvent, int, error) {
	where, args := buildEventFilter(filter)

	countQuery := `SELECT COUNT(*) FROM security_events ` + where

	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count security events: %w", err)
	}

	query := `SELECT ` + eventColumns + ` FROM security_events ` + where +
		` ORDER BY created_at DESC LIMIT $` + strconv.Itoa(len(args)+1) +
		` OFFSET $` + strconv.Itoa(len(args)+2)

	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list security events: %w", err)
	}
	defer rows.Close()

	var events []*domain.SecurityEvent
	for rows.Next() {
		event, err := r.scanOne(rows)
		if err != nil {
			return nil, 0, err
		}
		events = append(events, event)
	}

	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate security events: %w", err)
	}

	return events, total, nil
}

// Resolve помечает событие разрешенным. Уже разрешенное событие
// не перезаписывается, чтобы сохранить исходную отметку.
func (r *SecurityEventRepository) Resolve(ctx context.Context, tenantID, id, resolvedBy, notes string, at time.Time) error {
	query := `UPDATE security_events SET
			is_resolved = true,
			resolved_at = $3,
			resolved_by = $4,
			resolution_notes = $5
		WHERE tenant_id = $1 AND id = $2 AND is_resolved = false`

	tag, err := r.pool.Exec(ctx, query, tenantID, id, at, resolvedBy, notes)
	if err != nil {
		return fmt.Errorf("failed to resolve security event: %w", err)
	}

	if tag.RowsAffected() == 0 {
		// Либо событие уже разрешено (идемпотентность), либо его нет
		exists, err := r.exists(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if !exists {
			return apperrors.New(apperrors.ErrNotFound, "Security event not found")
		}
	}

	return nil
}

// BulkResolve помечает разрешенными несколько событий за один запрос
func (r *SecurityEventRepository) BulkResolve(ctx context.Context, tenantID string, ids []string, resolvedBy, notes string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	query := `UPDATE security_events SET
			is_resolved = true,
			resolved_at = $3,
			resolved_by = $4,
			resolution_notes = $5
		WHERE tenant_id = $1 AND id = ANY($2) AND is_resolved = false`

	if _, err := r.pool.Exec(ctx, query, tenantID, ids, at, resolvedBy, notes); err != nil {
		return fmt.Errorf("failed to bulk resolve security events: %w", err)
	}

	return nil
}

func (r *SecurityEventRepository) exists(ctx context.Context, tenantID, id string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM security_events WHERE tenant_id = $1 AND id = $2)`

	if err := r.pool.QueryRow(ctx, query, tenantID, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check security event: %w", err)
	}

	return exists, nil
}

func (r *SecurityEventRepository) scanOne(row pgx.Row) (*domain.SecurityEvent, error) {
	var event domain.SecurityEvent
	var userID, sessionID, resolvedBy, resolutionNotes *string
	var eventType, severity string
	var details []byte

	err := row.Scan(
		&event.ID,
		&event.TenantID,
		&userID,
		&sessionID,
		&eventType,
		&severity,
		&event.Description,
		&details,
		&event.IPAddress,
		&event.UserAgent,
		&event.LocationCountry,
		&event.LocationCity,
		&event.CreatedAt,
		&event.IsResolved,
		&event.ResolvedAt,
		&resolvedBy,
		&resolutionNotes,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.New(apperrors.ErrNotFound, "Security event not found")
		}
		return nil, fmt.Errorf("failed to scan security event: %w", err)
	}

	event.EventType = domain.EventType(eventType)
	event.Severity = domain.Severity(severity)
	event.UserID = deref(userID)
	event.SessionID = deref(sessionID)
	event.ResolvedBy = deref(resolvedBy)
	event.ResolutionNotes = deref(resolutionNotes)

	if len(details) > 0 {
		if err := json.Unmarshal(details, &event.Details); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event details: %w", err)
		}
	}

	return &event, nil
}

// buildEventFilter собирает WHERE из заполненных полей фильтра
func buildEventFilter(filter *repository.EventFilter) (string, []interface{}) {
	conditions := []string{"tenant_id = $1"}
	args := []interface{}{filter.TenantID}

	add := func(condition string, value interface{}) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(condition, len(args)))
	}

	if filter.UserID != "" {
		add("user_id = $%d", filter.UserID)
	}
	if filter.EventType != "" {
		add("event_type = $%d", string(filter.EventType))
	}
	if filter.Severity != "" {
		add("severity = $%d", string(filter.Severity))
	}
	if filter.DateFrom != nil {
		add("created_at >= $%d", *filter.DateFrom)
	}
	if filter.DateTo != nil {
		add("created_at <= $%d", *filter.DateTo)
	}
	if filter.Resolved != nil {
		add("is_resolved = $%d", *filter.Resolved)
	}

	return "WHERE " + strings.Join(conditions, " AND "), args
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
