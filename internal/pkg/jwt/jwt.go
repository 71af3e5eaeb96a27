package jwt

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims структура для хранения данных сессии в JWT токене.
// Токен привязан к сессии: SessionID указывает на запись в БД,
// по которой проверяется актуальность токена.
type TokenClaims struct {
	UserID    string `json:"user_id"`
	TenantID  string `json:"tenant_id"`
	SessionID string `json:"session_id"`
	IsAdmin   bool   `json:"is_admin"`
	jwt.RegisteredClaims
}

// Manager интерфейс для работы с JWT токенами
type Manager interface {
	GenerateSessionToken(sessionID, tenantID, userID string, isAdmin bool) (string, error)
	ValidateToken(token string) (*TokenClaims, error)
}

// HMACManager реализация Manager на HMAC-SHA256
type HMACManager struct {
	secretKey string
	tokenTTL  time.Duration
}

// NewManager создает новый экземпляр JWT менеджера
func NewManager(secretKey string, tokenTTL time.Duration) *HMACManager {
	return &HMACManager{
		secretKey: secretKey,
		tokenTTL:  tokenTTL,
	}
}

// GenerateSessionToken генерирует access токен, привязанный к сессии
func (m *HMACManager) GenerateSessionToken(sessionID, tenantID, userID string, isAdmin bool) (string, error) {
	now := time.Now().UTC()

	claims := &TokenClaims{
		UserID:    userID,
		TenantID:  tenantID,
		SessionID: sessionID,
		IsAdmin:   isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Subject:   userID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(m.secretKey))
}

// ValidateToken проверяет подпись и срок действия токена
func (m *HMACManager) ValidateToken(tokenString string) (*TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(m.secretKey), nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*TokenClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	return claims, nil
}
