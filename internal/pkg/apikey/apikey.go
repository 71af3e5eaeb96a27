package apikey

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net"
	"regexp"
)

// KeyPrefix фиксированный префикс всех API ключей
const KeyPrefix = "ak_"

// SecretLength длина случайной части ключа (после префикса)
const SecretLength = 32

// keyAlphabet алфавит случайной части ключа
const keyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// keyPattern формат полного ключа: префикс плюс 32 буквенно-цифровых символа
var keyPattern = regexp.MustCompile(`^ak_[A-Za-z0-9]{32}$`)

// GeneratedKey представляет сгенерированный API ключ.
// Value возвращается пользователю ровно один раз; в БД сохраняются
// только Hash и DisplayPrefix.
type GeneratedKey struct {
	Value         string
	Hash          string
	DisplayPrefix string
}

// Generate генерирует новый API ключ с криптографически случайной частью
func Generate() (*GeneratedKey, error) {
	secret, err := generateRandomString(SecretLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}

	value := KeyPrefix + secret

	return &GeneratedKey{
		Value:         value,
		Hash:          Hash(value),
		DisplayPrefix: DisplayPrefix(value),
	}, nil
}

// Hash вычисляет односторонний хэш ключа (SHA-256).
// Детерминированный хэш позволяет искать ключ по хэшу в БД.
func Hash(key string) string {
	sum := sha256.Sum256([]byte(key))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// ValidFormat проверяет формат ключа до обращения к хранилищу
func ValidFormat(key string) bool {
	return keyPattern.MatchString(key)
}

// DisplayPrefix возвращает видимую часть ключа для отображения в списках
func DisplayPrefix(key string) string {
	if len(key) < len(KeyPrefix)+8 {
		return key
	}
	return key[:len(KeyPrefix)+8] + "..."
}

// IsIPAllowed проверяет, разрешен ли IP адрес.
// Пустой список означает отсутствие ограничений: доступ разрешен с
// любого адреса. Непустой — адрес должен совпасть с записью точно
// либо попасть в CIDR диапазон.
func IsIPAllowed(ip string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}

	parsed := net.ParseIP(ip)

	for _, entry := range allowed {
		// Точное совпадение IP
		if entry == ip {
			return true
		}

		// CIDR диапазон
		if parsed != nil {
			if _, network, err := net.ParseCIDR(entry); err == nil && network.Contains(parsed) {
				return true
			}
		}
	}

	return false
}

// generateRandomString генерирует случайную строку заданной длины из keyAlphabet
func generateRandomString(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	result := make([]byte, length)
	for i, b := range bytes {
		result[i] = keyAlphabet[int(b)%len(keyAlphabet)]
	}

	return string(result), nil
}
