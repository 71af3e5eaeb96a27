package handler

import (
	"net/http"

	"AssetTrackPlatform/internal/service"
)

// handleMFASetup обрабатывает POST /auth/mfa/setup
func (h *HTTPHandler) handleMFASetup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.methodNotAllowed(w)
		return
	}

	id := callerIdentity(r.Context())

	var req struct {
		MethodName   string `json:"method_name"`
		AccountLabel string `json:"account_label"`
	}
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	result, err := h.mfaService.SetupTOTP(r.Context(), id.TenantID, id.UserID, req.MethodName, req.AccountLabel, h.eventContext(r, id))
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success":      true,
		"method":       result.Method,
		"secret":       result.Secret,
		"qr_code":      result.QRCode,
		"backup_codes": result.BackupCodes,
	})
}

// handleMFAVerify обрабатывает POST /auth/mfa/verify
func (h *HTTPHandler) handleMFAVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.methodNotAllowed(w)
		return
	}

	id := callerIdentity(r.Context())

	var req struct {
		MethodID string `json:"method_id"`
		Code     string `json:"code"`
		Purpose  string `json:"purpose"`
	}
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	purpose := service.VerifyPurpose(req.Purpose)
	if purpose != service.PurposeSetup {
		purpose = service.PurposeChallenge
	}

	result := h.mfaService.VerifyMfaCode(r.Context(), id.TenantID, id.UserID, req.MethodID, req.Code, purpose, h.eventContext(r, id))
	if !result.Success {
		h.writeJSON(w, http.StatusUnauthorized, map[string]interface{}{
			"success": false,
			"error":   result.Error,
		})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"method":  result.Method,
	})
}

// handleMFAStatus обрабатывает GET /auth/mfa/status
func (h *HTTPHandler) handleMFAStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w)
		return
	}

	id := callerIdentity(r.Context())

	status, err := h.mfaService.GetMfaStatus(r.Context(), id.TenantID, id.UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"status":  status,
	})
}

// handleBackupCodes обрабатывает POST /auth/mfa/backup-codes.
// Прежний набор кодов замещается целиком.
func (h *HTTPHandler) handleBackupCodes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.methodNotAllowed(w)
		return
	}

	id := callerIdentity(r.Context())

	codes, err := h.mfaService.GenerateNewBackupCodes(r.Context(), id.TenantID, id.UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"backup_codes": codes,
	})
}

// handleBackupCodeVerify обрабатывает POST /auth/mfa/backup-codes/verify
func (h *HTTPHandler) handleBackupCodeVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.methodNotAllowed(w)
		return
	}

	id := callerIdentity(r.Context())

	var req struct {
		Code string `json:"code"`
	}
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	result := h.mfaService.VerifyBackupCode(r.Context(), id.TenantID, id.UserID, req.Code, h.eventContext(r, id))
	if !result.Success {
		h.writeJSON(w, http.StatusUnauthorized, map[string]interface{}{
			"success": false,
			"error":   result.Error,
		})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":         true,
		"codes_remaining": result.CodesRemaining,
	})
}

// handleMFADisable обрабатывает POST /auth/mfa/disable
func (h *HTTPHandler) handleMFADisable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.methodNotAllowed(w)
		return
	}

	id := callerIdentity(r.Context())

	if err := h.mfaService.DisableMfa(r.Context(), id.TenantID, id.UserID, h.eventContext(r, id)); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "MFA disabled",
	})
}
