package service_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"testing"
	"time"

	libtotp "github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"AssetTrackPlatform/internal/domain"
	"AssetTrackPlatform/internal/pkg/secretcrypt"
	"AssetTrackPlatform/internal/pkg/totp"
	"AssetTrackPlatform/internal/service"
	apperrors "AssetTrackPlatform/pkg/errors"
)

func setupMFAService(t *testing.T) (service.MFAService, *MockMFAMethodRepository, *secretcrypt.Cipher) {
	t.Helper()

	methodRepo := &MockMFAMethodRepository{}
	eventService, _ := newPermissiveEventService()

	cipher, err := secretcrypt.NewCipher(base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0x2a}, 32)))
	require.NoError(t, err)

	mfaService := service.NewMFAService(
		methodRepo,
		totp.NewGenerator("AssetTrack"),
		cipher,
		eventService,
		newTestLogger(),
		nil,
	)

	return mfaService, methodRepo, cipher
}

func notFoundErr() error {
	return apperrors.New(apperrors.ErrNotFound, "MFA method not found")
}

// hashCodes строит bcrypt хэши с минимальной стоимостью,
// чтобы не замедлять тесты
func hashCodes(t *testing.T, codes []string) []string {
	t.Helper()

	hashes := make([]string, 0, len(codes))
	for _, code := range codes {
		hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.MinCost)
		require.NoError(t, err)
		hashes = append(hashes, string(hash))
	}
	return hashes
}

func TestMFAService_SetupTOTP(t *testing.T) {
	mfaService, methodRepo, _ := setupMFAService(t)
	ctx := context.Background()

	methodRepo.On("FindByType", ctx, "tenant-1", "user-1", domain.MFAMethodTOTP).
		Return(nil, notFoundErr())
	methodRepo.On("Create", ctx, mock.MatchedBy(func(m *domain.MFAMethod) bool {
		return m.MethodType == domain.MFAMethodTOTP
	})).Return(nil)
	methodRepo.On("Create", ctx, mock.MatchedBy(func(m *domain.MFAMethod) bool {
		return m.MethodType == domain.MFAMethodBackupCodes
	})).Return(nil)

	result, err := mfaService.SetupTOTP(ctx, "tenant-1", "user-1", "My phone", "user@example.com", service.EventContext{})

	require.NoError(t, err)
	require.NotNil(t, result)

	assert.NotEmpty(t, result.Secret)
	assert.NotEmpty(t, result.QRCode)
	assert.Len(t, result.BackupCodes, 10)

	// Метод создается непроверенным до первой успешной проверки кода
	assert.False(t, result.Method.IsVerified)
	assert.False(t, result.Method.IsPrimary)

	// Секрет в методе хранится только зашифрованным
	assert.NotEmpty(t, result.Method.SecretEncrypted)
	assert.NotEqual(t, result.Secret, result.Method.SecretEncrypted)

	methodRepo.AssertExpectations(t)
}

func TestMFAService_SetupTOTP_AlreadyEnabled(t *testing.T) {
	mfaService, methodRepo, _ := setupMFAService(t)
	ctx := context.Background()

	existing := &domain.MFAMethod{
		ID:         "method-1",
		TenantID:   "tenant-1",
		UserID:     "user-1",
		MethodType: domain.MFAMethodTOTP,
		IsVerified: true,
	}
	methodRepo.On("FindByType", ctx, "tenant-1", "user-1", domain.MFAMethodTOTP).Return(existing, nil)

	result, err := mfaService.SetupTOTP(ctx, "tenant-1", "user-1", "", "", service.EventContext{})

	assert.Error(t, err)
	assert.Nil(t, result)

	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrConflict, appErr.Code)
}

func TestMFAService_SetupTOTP_PendingSetupRestarts(t *testing.T) {
	mfaService, methodRepo, _ := setupMFAService(t)
	ctx := context.Background()

	pending := &domain.MFAMethod{
		ID:         "method-1",
		TenantID:   "tenant-1",
		UserID:     "user-1",
		MethodType: domain.MFAMethodTOTP,
		IsVerified: false,
	}
	methodRepo.On("FindByType", ctx, "tenant-1", "user-1", domain.MFAMethodTOTP).Return(pending, nil)
	methodRepo.On("DeleteByUser", ctx, "tenant-1", "user-1").Return(nil)
	methodRepo.On("Create", ctx, mock.Anything).Return(nil)

	result, err := mfaService.SetupTOTP(ctx, "tenant-1", "user-1", "", "", service.EventContext{})

	require.NoError(t, err)
	require.NotNil(t, result)
	methodRepo.AssertCalled(t, "DeleteByUser", ctx, "tenant-1", "user-1")
}

func TestMFAService_VerifyMfaCode_FirstSuccessMarksVerified(t *testing.T) {
	mfaService, methodRepo, cipher := setupMFAService(t)
	ctx := context.Background()

	key, err := libtotp.Generate(libtotp.GenerateOpts{Issuer: "AssetTrack", AccountName: "user@example.com"})
	require.NoError(t, err)

	encrypted, err := cipher.Encrypt(key.Secret())
	require.NoError(t, err)

	method := &domain.MFAMethod{
		ID:              "method-1",
		TenantID:        "tenant-1",
		UserID:          "user-1",
		MethodType:      domain.MFAMethodTOTP,
		MethodName:      "My phone",
		SecretEncrypted: encrypted,
		IsVerified:      false,
	}

	methodRepo.On("FindByID", ctx, "tenant-1", "user-1", "method-1").Return(method, nil)
	methodRepo.On("MarkVerified", ctx, "tenant-1", "user-1", "method-1").Return(nil)
	methodRepo.On("SetPrimary", ctx, "tenant-1", "user-1", "method-1").Return(nil)

	code, err := libtotp.GenerateCode(key.Secret(), time.Now())
	require.NoError(t, err)

	result := mfaService.VerifyMfaCode(ctx, "tenant-1", "user-1", "method-1", code, service.PurposeSetup, service.EventContext{})

	assert.True(t, result.Success)
	require.NotNil(t, result.Method)

	// Первая успешная проверка подтверждает метод и делает его основным
	assert.True(t, result.Method.IsVerified)
	assert.True(t, result.Method.IsPrimary)

	methodRepo.AssertExpectations(t)
}

func TestMFAService_VerifyMfaCode_InvalidCode(t *testing.T) {
	mfaService, methodRepo, cipher := setupMFAService(t)
	ctx := context.Background()

	key, err := libtotp.Generate(libtotp.GenerateOpts{Issuer: "AssetTrack", AccountName: "user@example.com"})
	require.NoError(t, err)

	encrypted, err := cipher.Encrypt(key.Secret())
	require.NoError(t, err)

	method := &domain.MFAMethod{
		ID:              "method-1",
		TenantID:        "tenant-1",
		UserID:          "user-1",
		MethodType:      domain.MFAMethodTOTP,
		SecretEncrypted: encrypted,
	}
	methodRepo.On("FindByID", ctx, "tenant-1", "user-1", "method-1").Return(method, nil)

	result := mfaService.VerifyMfaCode(ctx, "tenant-1", "user-1", "method-1", "000000", service.PurposeChallenge, service.EventContext{})

	assert.False(t, result.Success)
	assert.Equal(t, "Invalid verification code", result.Error)
	methodRepo.AssertNotCalled(t, "MarkVerified", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestMFAService_VerifyMfaCode_AlreadyVerified(t *testing.T) {
	mfaService, methodRepo, cipher := setupMFAService(t)
	ctx := context.Background()

	key, err := libtotp.Generate(libtotp.GenerateOpts{Issuer: "AssetTrack", AccountName: "user@example.com"})
	require.NoError(t, err)

	encrypted, err := cipher.Encrypt(key.Secret())
	require.NoError(t, err)

	method := &domain.MFAMethod{
		ID:              "method-1",
		TenantID:        "tenant-1",
		UserID:          "user-1",
		MethodType:      domain.MFAMethodTOTP,
		SecretEncrypted: encrypted,
		IsVerified:      true,
		IsPrimary:       true,
	}
	methodRepo.On("FindByID", ctx, "tenant-1", "user-1", "method-1").Return(method, nil)

	code, err := libtotp.GenerateCode(key.Secret(), time.Now())
	require.NoError(t, err)

	result := mfaService.VerifyMfaCode(ctx, "tenant-1", "user-1", "method-1", code, service.PurposeChallenge, service.EventContext{})

	assert.True(t, result.Success)

	// Подтвержденный метод не помечается повторно
	methodRepo.AssertNotCalled(t, "MarkVerified", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestMFAService_VerifyMfaCode_MethodNotFound(t *testing.T) {
	mfaService, methodRepo, _ := setupMFAService(t)
	ctx := context.Background()

	methodRepo.On("FindByID", ctx, "tenant-1", "user-1", "missing").Return(nil, notFoundErr())

	result := mfaService.VerifyMfaCode(ctx, "tenant-1", "user-1", "missing", "123456", service.PurposeChallenge, service.EventContext{})

	assert.False(t, result.Success)
	assert.Equal(t, "MFA method not found", result.Error)
}

func TestMFAService_VerifyBackupCode(t *testing.T) {
	mfaService, methodRepo, _ := setupMFAService(t)
	ctx := context.Background()

	hashes := hashCodes(t, []string{"ABCD-EFGH", "JKMN-PQRS"})

	method := &domain.MFAMethod{
		ID:          "method-2",
		TenantID:    "tenant-1",
		UserID:      "user-1",
		MethodType:  domain.MFAMethodBackupCodes,
		BackupCodes: hashes,
	}

	methodRepo.On("FindByType", ctx, "tenant-1", "user-1", domain.MFAMethodBackupCodes).Return(method, nil)
	methodRepo.On("ConsumeBackupCode", ctx, "tenant-1", "user-1", "method-2", hashes, []string{hashes[1]}).
		Return(true, nil)

	// Код принимается в любом регистре и без дефиса
	result := mfaService.VerifyBackupCode(ctx, "tenant-1", "user-1", "abcdefgh", service.EventContext{})

	assert.True(t, result.Success)
	assert.Equal(t, 1, result.CodesRemaining)
	methodRepo.AssertExpectations(t)
}

func TestMFAService_VerifyBackupCode_Invalid(t *testing.T) {
	mfaService, methodRepo, _ := setupMFAService(t)
	ctx := context.Background()

	method := &domain.MFAMethod{
		ID:          "method-2",
		TenantID:    "tenant-1",
		UserID:      "user-1",
		MethodType:  domain.MFAMethodBackupCodes,
		BackupCodes: hashCodes(t, []string{"ABCD-EFGH"}),
	}
	methodRepo.On("FindByType", ctx, "tenant-1", "user-1", domain.MFAMethodBackupCodes).Return(method, nil)

	result := mfaService.VerifyBackupCode(ctx, "tenant-1", "user-1", "WXYZ-2345", service.EventContext{})

	assert.False(t, result.Success)
	assert.Equal(t, "Invalid backup code", result.Error)
	methodRepo.AssertNotCalled(t, "ConsumeBackupCode",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestMFAService_VerifyBackupCode_ConcurrentConsumeRetries(t *testing.T) {
	mfaService, methodRepo, _ := setupMFAService(t)
	ctx := context.Background()

	hashes := hashCodes(t, []string{"ABCD-EFGH", "JKMN-PQRS"})

	stale := &domain.MFAMethod{
		ID:          "method-2",
		TenantID:    "tenant-1",
		UserID:      "user-1",
		MethodType:  domain.MFAMethodBackupCodes,
		BackupCodes: hashes,
	}
	// Конкурентный запрос успел потребить второй код
	fresh := &domain.MFAMethod{
		ID:          "method-2",
		TenantID:    "tenant-1",
		UserID:      "user-1",
		MethodType:  domain.MFAMethodBackupCodes,
		BackupCodes: []string{hashes[0]},
	}

	methodRepo.On("FindByType", ctx, "tenant-1", "user-1", domain.MFAMethodBackupCodes).Return(stale, nil).Once()
	methodRepo.On("FindByType", ctx, "tenant-1", "user-1", domain.MFAMethodBackupCodes).Return(fresh, nil).Once()
	methodRepo.On("ConsumeBackupCode", ctx, "tenant-1", "user-1", "method-2", hashes, []string{hashes[1]}).
		Return(false, nil).Once()
	methodRepo.On("ConsumeBackupCode", ctx, "tenant-1", "user-1", "method-2", []string{hashes[0]}, []string{}).
		Return(true, nil).Once()

	result := mfaService.VerifyBackupCode(ctx, "tenant-1", "user-1", "ABCD-EFGH", service.EventContext{})

	assert.True(t, result.Success)
	assert.Equal(t, 0, result.CodesRemaining)
	methodRepo.AssertExpectations(t)
}

func TestMFAService_GetMfaStatus_NoMethods(t *testing.T) {
	mfaService, methodRepo, _ := setupMFAService(t)
	ctx := context.Background()

	methodRepo.On("ListByUser", ctx, "tenant-1", "user-1").Return([]*domain.MFAMethod{}, nil)

	status, err := mfaService.GetMfaStatus(ctx, "tenant-1", "user-1")

	require.NoError(t, err)
	assert.False(t, status.IsEnabled)
	assert.Empty(t, status.Methods)
	assert.Nil(t, status.PrimaryMethod)
	assert.Zero(t, status.BackupCodesRemaining)
}

func TestMFAService_GetMfaStatus(t *testing.T) {
	mfaService, methodRepo, _ := setupMFAService(t)
	ctx := context.Background()

	totpMethod := &domain.MFAMethod{
		ID:         "method-1",
		MethodType: domain.MFAMethodTOTP,
		IsVerified: true,
	}
	backupMethod := &domain.MFAMethod{
		ID:          "method-2",
		MethodType:  domain.MFAMethodBackupCodes,
		BackupCodes: []string{"h1", "h2", "h3"},
	}
	methodRepo.On("ListByUser", ctx, "tenant-1", "user-1").
		Return([]*domain.MFAMethod{totpMethod, backupMethod}, nil)

	status, err := mfaService.GetMfaStatus(ctx, "tenant-1", "user-1")

	require.NoError(t, err)
	assert.True(t, status.IsEnabled)
	assert.Len(t, status.Methods, 2)
	assert.Equal(t, 3, status.BackupCodesRemaining)

	// Без явного основного метода им считается первый подтвержденный
	require.NotNil(t, status.PrimaryMethod)
	assert.Equal(t, "method-1", status.PrimaryMethod.ID)
}

func TestMFAService_GenerateNewBackupCodes_ReplacesSet(t *testing.T) {
	mfaService, methodRepo, _ := setupMFAService(t)
	ctx := context.Background()

	method := &domain.MFAMethod{
		ID:          "method-2",
		TenantID:    "tenant-1",
		UserID:      "user-1",
		MethodType:  domain.MFAMethodBackupCodes,
		BackupCodes: []string{"old-hash"},
	}
	methodRepo.On("FindByType", ctx, "tenant-1", "user-1", domain.MFAMethodBackupCodes).Return(method, nil)
	methodRepo.On("ReplaceBackupCodes", ctx, "tenant-1", "user-1", "method-2", mock.MatchedBy(func(hashes []string) bool {
		return len(hashes) == 10
	})).Return(nil)

	codes, err := mfaService.GenerateNewBackupCodes(ctx, "tenant-1", "user-1")

	require.NoError(t, err)
	assert.Len(t, codes, 10)
	methodRepo.AssertExpectations(t)
}

func TestMFAService_DisableMfa(t *testing.T) {
	mfaService, methodRepo, _ := setupMFAService(t)
	ctx := context.Background()

	methodRepo.On("DeleteByUser", ctx, "tenant-1", "user-1").Return(nil)

	err := mfaService.DisableMfa(ctx, "tenant-1", "user-1", service.EventContext{})

	require.NoError(t, err)
	methodRepo.AssertExpectations(t)
}
