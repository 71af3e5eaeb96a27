package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"AssetTrackPlatform/internal/domain"
	"AssetTrackPlatform/internal/repository"
	apperrors "AssetTrackPlatform/pkg/errors"
)

// MFAMethodRepository реализация репозитория MFA методов для PostgreSQL
type MFAMethodRepository struct {
	pool *pgxpool.Pool
}

// NewMFAMethodRepository создает новый экземпляр MFAMethodRepository
func NewMFAMethodRepository(pool *pgxpool.Pool) repository.MFAMethodRepository {
	return &MFAMethodRepository{pool: pool}
}

const mfaColumns = `id, tenant_id, user_id, method_type, method_name, secret_encrypted,
	backup_codes, is_verified, is_primary, created_at`

// Create сохраняет новый MFA метод в базе данных
func (r *MFAMethodRepository) Create(ctx context.Context, method *domain.MFAMethod) error {
	query := `INSERT INTO mfa_methods (id, tenant_id, user_id, method_type, method_name,
			secret_encrypted, backup_codes, is_verified, is_primary, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.pool.Exec(ctx, query,
		method.ID,
		method.TenantID,
		method.UserID,
		string(method.MethodType),
		method.MethodName,
		method.SecretEncrypted,
		method.BackupCodes,
		method.IsVerified,
		method.IsPrimary,
		method.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create MFA method: %w", err)
	}

	return nil
}

// FindByID возвращает MFA метод по его ID
func (r *MFAMethodRepository) FindByID(ctx context.Context, tenantID, userID, id string) (*domain.MFAMethod, error) {
	query := `SELECT ` + mfaColumns + `
		FROM mfa_methods WHERE tenant_id = $1 AND user_id = $2 AND id = $3`

	return r.scanOne(r.pool.QueryRow(ctx, query, tenantID, userID, id))
}

// FindByType возвращает MFA метод пользователя указанного типа
func (r *MFAMethodRepository) FindByType(ctx context.Context, tenantID, userID string, methodType domain.MFAMethodType) (*domain.MFAMethod, error) {
	query := `SELECT ` + mfaColumns + `
		FROM mfa_methods WHERE tenant_id = $1 AND user_id = $2 AND method_type = $3`

	return r.scanOne(r.pool.QueryRow(ctx, query, tenantID, userID, string(methodType)))
}

// ListByUser возвращает все MFA методы пользователя
func (r *MFAMethodRepository) ListByUser(ctx context.Context, tenantID, userID string) ([]*domain.MFAMethod, error) {
	query := `SELECT ` + mfaColumns + `
		FROM mfa_methods WHERE tenant_id = $1 AND user_id = $2 ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query, tenantID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list MFA methods: %w", err)
	}
	defer rows.Close()

	var methods []*domain.MFAMethod
	for rows.Next() {
		method, err := r.scanOne(rows)
		if err != nil {
			return nil, err
		}
		methods = append(methods, method)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate MFA methods: %w", err)
	}

	return methods, nil
}

// MarkVerified помечает метод подтвержденным
func (r *MFAMethodRepository) MarkVerified(ctx context.Context, tenantID, userID, id string) error {
	query := `UPDATE mfa_methods SET is_verified = true
		WHERE tenant_id = $1 AND user_id = $2 AND id = $3`

	tag, err := r.pool.Exec(ctx, query, tenantID, userID, id)
	if err != nil {
		return fmt.Errorf("failed to mark MFA method verified: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return apperrors.New(apperrors.ErrNotFound, "MFA method not found")
	}

	return nil
}

// SetPrimary атомарно переносит флаг primary на указанный метод.
// Снятие и установка выполняются в одной транзакции, поэтому
// в любой момент у пользователя не более одного основного метода.
func (r *MFAMethodRepository) SetPrimary(ctx context.Context, tenantID, userID, id string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	clearQuery := `UPDATE mfa_methods SET is_primary = false
		WHERE tenant_id = $1 AND user_id = $2 AND is_primary = true`

	if _, err := tx.Exec(ctx, clearQuery, tenantID, userID); err != nil {
		return fmt.Errorf("failed to clear primary MFA method: %w", err)
	}

	setQuery := `UPDATE mfa_methods SET is_primary = true
		WHERE tenant_id = $1 AND user_id = $2 AND id = $3`

	tag, err := tx.Exec(ctx, setQuery, tenantID, userID, id)
	if err != nil {
		return fmt.Errorf("failed to set primary MFA method: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return apperrors.New(apperrors.ErrNotFound, "MFA method not found")
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// ReplaceBackupCodes заменяет список резервных кодов целиком
func (r *MFAMethodRepository) ReplaceBackupCodes(ctx context.Context, tenantID, userID, id string, codes []string) error {
	query := `UPDATE mfa_methods SET backup_codes = $4
		WHERE tenant_id = $1 AND user_id = $2 AND id = $3`

	tag, err := r.pool.Exec(ctx, query, tenantID, userID, id, codes)
	if err != nil {
		return fmt.Errorf("failed to replace backup codes: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return apperrors.New(apperrors.ErrNotFound, "MFA method not found")
	}

	return nil
}

// ConsumeBackupCode заменяет список кодов условным обновлением.
// Сравнение с прежним значением в WHERE защищает от конкурентного
// использования одного кода двумя запросами.
func (r *MFAMethodRepository) ConsumeBackupCode(ctx context.Context, tenantID, userID, id string, previous, updated []string) (bool, error) {
	query := `UPDATE mfa_methods SET backup_codes = $4
		WHERE tenant_id = $1 AND user_id = $2 AND id = $3 AND backup_codes = $5`

	tag, err := r.pool.Exec(ctx, query, tenantID, userID, id, updated, previous)
	if err != nil {
		return false, fmt.Errorf("failed to consume backup code: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// DeleteByUser удаляет все MFA методы пользователя
func (r *MFAMethodRepository) DeleteByUser(ctx context.Context, tenantID, userID string) error {
	query := `DELETE FROM mfa_methods WHERE tenant_id = $1 AND user_id = $2`

	if _, err := r.pool.Exec(ctx, query, tenantID, userID); err != nil {
		return fmt.Errorf("failed to delete MFA methods: %w", err)
	}

	return nil
}

func (r *MFAMethodRepository) scanOne(row pgx.Row) (*domain.MFAMethod, error) {
	var method domain.MFAMethod
	var methodType string

	err := row.Scan(
		&method.ID,
		&method.TenantID,
		&method.UserID,
		&methodType,
		&method.MethodName,
		&method.SecretEncrypted,
		&method.BackupCodes,
		&method.IsVerified,
		&method.IsPrimary,
		&method.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.New(apperrors.ErrNotFound, "MFA method not found")
		}
		return nil, fmt.Errorf("failed to scan MFA method: %w", err)
	}

	method.MethodType = domain.MFAMethodType(methodType)

	return &method, nil
}
