package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"AssetTrackPlatform/internal/domain"
	"AssetTrackPlatform/internal/pkg/backupcode"
	"AssetTrackPlatform/internal/pkg/secretcrypt"
	"AssetTrackPlatform/internal/pkg/totp"
	"AssetTrackPlatform/internal/repository"
	apperrors "AssetTrackPlatform/pkg/errors"
	"AssetTrackPlatform/pkg/logger"
	"AssetTrackPlatform/pkg/metrics"
)

// Сообщения об отказах проверки MFA
const (
	errMethodNotFound   = "MFA method not found"
	errInvalidCode      = "Invalid verification code"
	errInvalidBackup    = "Invalid backup code"
	errMfaAlreadySetUp  = "MFA is already enabled"
	errBackupUnexpected = "Backup codes cannot be verified as TOTP"
)

// VerifyPurpose назначение проверки кода
type VerifyPurpose string

// Назначения проверки: первая проверка после настройки помечает
// метод доверенным, последующие являются чистыми проверками
const (
	PurposeSetup     VerifyPurpose = "setup"
	PurposeChallenge VerifyPurpose = "challenge"
)

// SetupTOTPResult результат настройки TOTP. Secret и QRCode
// возвращаются только из этого вызова и нигде не хранятся открыто.
type SetupTOTPResult struct {
	Method      *domain.MFAMethod `json:"method"`
	Secret      string            `json:"secret"`
	QRCode      string            `json:"qr_code"`
	BackupCodes []string          `json:"backup_codes"`
}

// VerifyResult результат проверки кода
type VerifyResult struct {
	Success bool              `json:"success"`
	Method  *domain.MFAMethod `json:"method,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// BackupCodeResult результат проверки резервного кода
type BackupCodeResult struct {
	Success        bool   `json:"success"`
	CodesRemaining int    `json:"codes_remaining"`
	Error          string `json:"error,omitempty"`
}

// MFAStatus сводный статус MFA пользователя
type MFAStatus struct {
	IsEnabled            bool                `json:"is_enabled"`
	Methods              []*domain.MFAMethod `json:"methods"`
	PrimaryMethod        *domain.MFAMethod   `json:"primary_method,omitempty"`
	BackupCodesRemaining int                 `json:"backup_codes_remaining"`
}

// MFAService интерфейс для многофакторной аутентификации
type MFAService interface {
	SetupTOTP(ctx context.Context, tenantID, userID, methodName, accountLabel string, ec EventContext) (*SetupTOTPResult, error)
	VerifyMfaCode(ctx context.Context, tenantID, userID, methodID, code string, purpose VerifyPurpose, ec EventContext) *VerifyResult
	VerifyBackupCode(ctx context.Context, tenantID, userID, code string, ec EventContext) *BackupCodeResult
	GetMfaStatus(ctx context.Context, tenantID, userID string) (*MFAStatus, error)
	// GenerateNewBackupCodes заменяет набор целиком: старые коды
	// становятся недействительными независимо от использования
	GenerateNewBackupCodes(ctx context.Context, tenantID, userID string) ([]string, error)
	DisableMfa(ctx context.Context, tenantID, userID string, ec EventContext) error
}

// mfaService реализация MFAService
type mfaService struct {
	methodRepository repository.MFAMethodRepository
	totpGenerator    *totp.Generator
	cipher           *secretcrypt.Cipher
	eventService     SecurityEventService
	logger           logger.Logger
	metrics          *metrics.Metrics
}

// NewMFAService создает новый экземпляр MFAService
func NewMFAService(
	methodRepository repository.MFAMethodRepository,
	totpGenerator *totp.Generator,
	cipher *secretcrypt.Cipher,
	eventService SecurityEventService,
	log logger.Logger,
	m *metrics.Metrics,
) MFAService {
	return &mfaService{
		methodRepository: methodRepository,
		totpGenerator:    totpGenerator,
		cipher:           cipher,
		eventService:     eventService,
		logger:           log,
		metrics:          m,
	}
}

// SetupTOTP генерирует TOTP секрет и набор резервных кодов.
// Метод создается непроверенным: is_verified выставится при
// первой успешной проверке кода.
func (s *mfaService) SetupTOTP(ctx context.Context, tenantID, userID, methodName, accountLabel string, ec EventContext) (*SetupTOTPResult, error) {
	if tenantID == "" || userID == "" {
		return nil, apperrors.New(apperrors.ErrValidation, "tenant id and user id are required")
	}
	if strings.TrimSpace(methodName) == "" {
		methodName = "Authenticator app"
	}
	if accountLabel == "" {
		accountLabel = userID
	}

	existing, err := s.methodRepository.FindByType(ctx, tenantID, userID, domain.MFAMethodTOTP)
	if err != nil && !isNotFound(err) {
		return nil, apperrors.Wrap(err, apperrors.ErrInternal, "failed to check existing MFA method")
	}
	if existing != nil {
		if existing.IsVerified {
			return nil, apperrors.New(apperrors.ErrConflict, errMfaAlreadySetUp)
		}
		// Незавершенная настройка перезапускается с чистого листа
		if err := s.methodRepository.DeleteByUser(ctx, tenantID, userID); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrInternal, "failed to reset pending MFA setup")
		}
	}

	enrollment, err := s.totpGenerator.Generate(accountLabel)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInternal, "failed to generate TOTP secret")
	}

	encrypted, err := s.cipher.Encrypt(enrollment.Secret)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInternal, "failed to encrypt TOTP secret")
	}

	codes, err := backupcode.GenerateSet()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInternal, "failed to generate backup codes")
	}

	now := time.Now().UTC()

	method := &domain.MFAMethod{
		ID:              uuid.New().String(),
		TenantID:        tenantID,
		UserID:          userID,
		MethodType:      domain.MFAMethodTOTP,
		MethodName:      strings.TrimSpace(methodName),
		SecretEncrypted: encrypted,
		IsVerified:      false,
		IsPrimary:       false,
		CreatedAt:       now,
	}

	if err := s.methodRepository.Create(ctx, method); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInternal, "failed to create MFA method")
	}

	backupMethod := &domain.MFAMethod{
		ID:          uuid.New().String(),
		TenantID:    tenantID,
		UserID:      userID,
		MethodType:  domain.MFAMethodBackupCodes,
		MethodName:  "Backup codes",
		BackupCodes: codes.Hashes,
		IsVerified:  false,
		IsPrimary:   false,
		CreatedAt:   now,
	}

	if err := s.methodRepository.Create(ctx, backupMethod); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInternal, "failed to create backup codes")
	}

	return &SetupTOTPResult{
		Method:      method,
		Secret:      enrollment.Secret,
		QRCode:      enrollment.QRCodePNG,
		BackupCodes: codes.Plaintext,
	}, nil
}

// VerifyMfaCode проверяет TOTP код. Первая успешная проверка
// помечает метод подтвержденным.
func (s *mfaService) VerifyMfaCode(ctx context.Context, tenantID, userID, methodID, code string, purpose VerifyPurpose, ec EventContext) *VerifyResult {
	method, err := s.methodRepository.FindByID(ctx, tenantID, userID, methodID)
	if err != nil {
		if !isNotFound(err) {
			s.logger.Error("MFA method lookup failed", logger.Error(err))
		}
		return s.rejectMfa(ctx, tenantID, userID, ec, "method_not_found", errMethodNotFound)
	}

	if method.MethodType != domain.MFAMethodTOTP {
		return s.rejectMfa(ctx, tenantID, userID, ec, "wrong_method_type", errBackupUnexpected)
	}

	secret, err := s.cipher.Decrypt(method.SecretEncrypted)
	if err != nil {
		s.logger.Error("failed to decrypt TOTP secret",
			logger.String("method_id", method.ID),
			logger.Error(err))
		return s.rejectMfa(ctx, tenantID, userID, ec, "decrypt_error", errInvalidCode)
	}

	if !s.totpGenerator.Validate(code, secret) {
		return s.rejectMfa(ctx, tenantID, userID, ec, "invalid_code", errInvalidCode)
	}

	if !method.IsVerified {
		if err := s.methodRepository.MarkVerified(ctx, tenantID, userID, method.ID); err != nil {
			s.logger.Error("failed to mark MFA method verified",
				logger.String("method_id", method.ID),
				logger.Error(err))
			return s.rejectMfa(ctx, tenantID, userID, ec, "store_error", errInvalidCode)
		}
		method.IsVerified = true

		// Первый подтвержденный метод становится основным
		if err := s.methodRepository.SetPrimary(ctx, tenantID, userID, method.ID); err != nil {
			s.logger.Warn("failed to set primary MFA method",
				logger.String("method_id", method.ID),
				logger.Error(err))
		} else {
			method.IsPrimary = true
		}

		if purpose == PurposeSetup {
			s.eventService.LogMfaEnabled(ctx, tenantID, withUser(ec, userID), method.MethodName)
		}
	}

	if s.metrics != nil {
		s.metrics.MFAVerifications.WithLabelValues("success").Inc()
	}
	s.eventService.LogMfaSuccess(ctx, tenantID, withUser(ec, userID))

	return &VerifyResult{Success: true, Method: method}
}

// VerifyBackupCode проверяет и потребляет резервный код.
// Потребление выполняется условным обновлением с одним повтором,
// чтобы конкурентные запросы не использовали один код дважды.
func (s *mfaService) VerifyBackupCode(ctx context.Context, tenantID, userID, code string, ec EventContext) *BackupCodeResult {
	const casAttempts = 2

	for attempt := 0; attempt < casAttempts; attempt++ {
		method, err := s.methodRepository.FindByType(ctx, tenantID, userID, domain.MFAMethodBackupCodes)
		if err != nil {
			if !isNotFound(err) {
				s.logger.Error("backup codes lookup failed", logger.Error(err))
			}
			return s.rejectBackup(ctx, tenantID, userID, ec, errInvalidBackup)
		}

		idx := backupcode.Match(code, method.BackupCodes)
		if idx < 0 {
			return s.rejectBackup(ctx, tenantID, userID, ec, errInvalidBackup)
		}

		updated := make([]string, 0, len(method.BackupCodes)-1)
		updated = append(updated, method.BackupCodes[:idx]...)
		updated = append(updated, method.BackupCodes[idx+1:]...)

		applied, err := s.methodRepository.ConsumeBackupCode(ctx, tenantID, userID, method.ID, method.BackupCodes, updated)
		if err != nil {
			s.logger.Error("failed to consume backup code", logger.Error(err))
			return s.rejectBackup(ctx, tenantID, userID, ec, errInvalidBackup)
		}

		if !applied {
			// Список изменился конкурентно, повторяем с актуальным состоянием
			continue
		}

		if s.metrics != nil {
			s.metrics.MFAVerifications.WithLabelValues("backup_success").Inc()
		}
		s.eventService.LogMfaSuccess(ctx, tenantID, withUser(ec, userID))

		return &BackupCodeResult{Success: true, CodesRemaining: len(updated)}
	}

	return s.rejectBackup(ctx, tenantID, userID, ec, errInvalidBackup)
}

// GetMfaStatus возвращает сводный статус MFA пользователя
func (s *mfaService) GetMfaStatus(ctx context.Context, tenantID, userID string) (*MFAStatus, error) {
	methods, err := s.methodRepository.ListByUser(ctx, tenantID, userID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInternal, "failed to get MFA status")
	}

	status := &MFAStatus{Methods: []*domain.MFAMethod{}}

	var firstVerified *domain.MFAMethod

	for _, method := range methods {
		status.Methods = append(status.Methods, method)

		if method.IsVerified {
			status.IsEnabled = true
			if firstVerified == nil {
				firstVerified = method
			}
		}
		if method.IsPrimary {
			status.PrimaryMethod = method
		}
		if method.MethodType == domain.MFAMethodBackupCodes {
			status.BackupCodesRemaining = len(method.BackupCodes)
		}
	}

	// Без явного основного метода им считается первый подтвержденный
	if status.PrimaryMethod == nil {
		status.PrimaryMethod = firstVerified
	}

	return status, nil
}

// GenerateNewBackupCodes заменяет набор резервных кодов целиком
func (s *mfaService) GenerateNewBackupCodes(ctx context.Context, tenantID, userID string) ([]string, error) {
	codes, err := backupcode.GenerateSet()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInternal, "failed to generate backup codes")
	}

	method, err := s.methodRepository.FindByType(ctx, tenantID, userID, domain.MFAMethodBackupCodes)
	if err != nil {
		if !isNotFound(err) {
			return nil, apperrors.Wrap(err, apperrors.ErrInternal, "failed to find backup codes method")
		}

		method = &domain.MFAMethod{
			ID:          uuid.New().String(),
			TenantID:    tenantID,
			UserID:      userID,
			MethodType:  domain.MFAMethodBackupCodes,
			MethodName:  "Backup codes",
			BackupCodes: codes.Hashes,
			CreatedAt:   time.Now().UTC(),
		}

		if err := s.methodRepository.Create(ctx, method); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrInternal, "failed to create backup codes")
		}

		return codes.Plaintext, nil
	}

	if err := s.methodRepository.ReplaceBackupCodes(ctx, tenantID, userID, method.ID, codes.Hashes); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInternal, "failed to replace backup codes")
	}

	return codes.Plaintext, nil
}

// DisableMfa удаляет все MFA методы пользователя
func (s *mfaService) DisableMfa(ctx context.Context, tenantID, userID string, ec EventContext) error {
	if err := s.methodRepository.DeleteByUser(ctx, tenantID, userID); err != nil {
		return apperrors.Wrap(err, apperrors.ErrInternal, "failed to disable MFA")
	}

	s.eventService.LogMfaDisabled(ctx, tenantID, withUser(ec, userID))

	return nil
}

func (s *mfaService) rejectMfa(ctx context.Context, tenantID, userID string, ec EventContext, outcome, message string) *VerifyResult {
	if s.metrics != nil {
		s.metrics.MFAVerifications.WithLabelValues(outcome).Inc()
	}
	s.eventService.LogMfaFailure(ctx, tenantID, withUser(ec, userID), message)

	return &VerifyResult{Success: false, Error: message}
}

func (s *mfaService) rejectBackup(ctx context.Context, tenantID, userID string, ec EventContext, message string) *BackupCodeResult {
	if s.metrics != nil {
		s.metrics.MFAVerifications.WithLabelValues("backup_failure").Inc()
	}
	s.eventService.LogMfaFailure(ctx, tenantID, withUser(ec, userID), message)

	return &BackupCodeResult{Success: false, Error: message}
}

func isNotFound(err error) bool {
	var appErr *apperrors.Error
	return errors.As(err, &appErr) && appErr.Code == apperrors.ErrNotFound
}
