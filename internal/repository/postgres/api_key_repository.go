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

// APIKeyRepository реализация репозитория API ключей для PostgreSQL
type APIKeyRepository struct {
	pool *pgxpool.Pool
}

// NewAPIKeyRepository создает новый экземпляр APIKeyRepository
func NewAPIKeyRepository(pool *pgxpool.Pool) repository.APIKeyRepository {
	return &APIKeyRepository{pool: pool}
}

const apiKeyColumns = `id, tenant_id, user_id, key_name, key_prefix, key_hash, is_active,
	permissions, scopes, allowed_ips, rate_limit_requests, rate_limit_window_seconds,
	expires_at, created_at, last_used_at`

// Create сохраняет новый API ключ в базе данных
func (r *APIKeyRepository) Create(ctx context.Context, key *domain.APIKey) error {
	permissions, err := json.Marshal(key.Permissions)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}

	query := `INSERT INTO api_keys (id, tenant_id, user_id, key_name, key_prefix, key_hash, is_active,
			permissions, scopes, allowed_ips, rate_limit_requests, rate_limit_window_seconds,
			expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err = r.pool.Exec(ctx, query,
		key.ID,
		key.TenantID,
		key.UserID,
		key.KeyName,
		key.KeyPrefix,
		key.KeyHash,
		key.IsActive,
		permissions,
		key.Scopes,
		key.AllowedIPs,
		key.RateLimitRequests,
		key.RateLimitWindowSeconds,
		key.ExpiresAt,
		key.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create API key: %w", err)
	}

	return nil
}

// FindByID возвращает API ключ по его ID в рамках тенанта и пользователя
func (r *APIKeyRepository) FindByID(ctx context.Context, tenantID, userID, id string) (*domain.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + `
		FROM api_keys WHERE tenant_id = $1 AND user_id = $2 AND id = $3`

	return r.scanOne(r.pool.QueryRow(ctx, query, tenantID, userID, id))
}

// FindByKeyHash возвращает API ключ по хэшу секрета
func (r *APIKeyRepository) FindByKeyHash(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + `
		FROM api_keys WHERE key_hash = $1`

	return r.scanOne(r.pool.QueryRow(ctx, query, keyHash))
}

// ListByUser возвращает все API ключи пользователя
func (r *APIKeyRepository) ListByUser(ctx context.Context, tenantID, userID string) ([]*domain.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + `
		FROM api_keys WHERE tenant_id = $1 AND user_id = $2 ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, tenantID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list API keys: %w", err)
	}
	defer rows.Close()

	var keys []*domain.APIKey
	for rows.Next() {
		key, err := r.scanOne(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}

	// Проверяем ошибку итерации
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate API keys: %w", err)
	}

	return keys, nil
}

// Update обновляет изменяемые поля существующего ключа
func (r *APIKeyRepository) Update(ctx context.Context, tenantID, userID string, key *domain.APIKey) error {
	permissions, err := json.Marshal(key.Permissions)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}

	query := `UPDATE api_keys SET
		key_name = $4,
		is_active = $5,
		permissions = $6,
		scopes = $7,
		allowed_ips = $8,
		rate_limit_requests = $9,
		rate_limit_window_seconds = $10,
		expires_at = $11
	WHERE tenant_id = $1 AND user_id = $2 AND id = $3`

	tag, err := r.pool.Exec(ctx, query,
		tenantID,
		userID,
		key.ID,
		key.KeyName,
		key.IsActive,
		permissions,
		key.Scopes,
		key.AllowedIPs,
		key.RateLimitRequests,
		key.RateLimitWindowSeconds,
		key.ExpiresAt,
	)

	if err != nil {
		return fmt.Errorf("failed to update API key: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return apperrors.New(apperrors.ErrNotFound, "API key not found")
	}

	return nil
}

// TouchLastUsed обновляет отметку последнего использования ключа
func (r *APIKeyRepository) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE api_keys SET last_used_at = $2 WHERE id = $1`

	if _, err := r.pool.Exec(ctx, query, id, at); err != nil {
		return fmt.Errorf("failed to touch API key: %w", err)
	}

	return nil
}

func (r *APIKeyRepository) scanOne(row pgx.Row) (*domain.APIKey, error) {
	var key domain.APIKey
	var permissions []byte

	err := row.Scan(
		&key.ID,
		&key.TenantID,
		&key.UserID,
		&key.KeyName,
		&key.KeyPrefix,
		&key.KeyHash,
		&key.IsActive,
		&permissions,
		&key.Scopes,
		&key.AllowedIPs,
		&key.RateLimitRequests,
		&key.RateLimitWindowSeconds,
		&key.ExpiresAt,
		&key.CreatedAt,
		&key.LastUsedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.New(apperrors.ErrNotFound, "API key not found")
		}
		return nil, fmt.Errorf("failed to scan API key: %w", err)
	}

	if len(permissions) > 0 {
		if err := json.Unmarshal(permissions, &key.Permissions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal permissions: %w", err)
		}
	}

	return &key, nil
}
