package backupcode

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// SetSize количество кодов в одном наборе
	SetSize = 10
	// segmentLength длина каждой половины кода
	segmentLength = 4

	// codeAlphabet без визуально похожих символов (0/O, 1/I/L)
	codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

	bcryptCost = bcrypt.DefaultCost
)

// Set набор резервных кодов: открытая форма показывается
// пользователю один раз, хранятся только хэши
type Set struct {
	Plaintext []string
	Hashes    []string
}

// GenerateSet создает новый набор резервных кодов в формате XXXX-XXXX
func GenerateSet() (*Set, error) {
	set := &Set{
		Plaintext: make([]string, 0, SetSize),
		Hashes:    make([]string, 0, SetSize),
	}

	for i := 0; i < SetSize; i++ {
		code, err := generateCode()
		if err != nil {
			return nil, fmt.Errorf("generate backup code: %w", err)
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(code), bcryptCost)
		if err != nil {
			return nil, fmt.Errorf("hash backup code: %w", err)
		}

		set.Plaintext = append(set.Plaintext, code)
		set.Hashes = append(set.Hashes, string(hash))
	}

	return set, nil
}

// Normalize приводит пользовательский ввод к каноническому виду:
// верхний регистр, без пробелов, с дефисом между половинами
func Normalize(input string) string {
	cleaned := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(input), " ", ""))
	cleaned = strings.ReplaceAll(cleaned, "-", "")

	if len(cleaned) != segmentLength*2 {
		return strings.ToUpper(strings.TrimSpace(input))
	}

	return cleaned[:segmentLength] + "-" + cleaned[segmentLength:]
}

// Match ищет код среди хэшей набора. Возвращает индекс
// совпавшего хэша или -1, если код не найден.
func Match(code string, hashes []string) int {
	normalized := Normalize(code)

	for i, hash := range hashes {
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(normalized)) == nil {
			return i
		}
	}

	return -1
}

func generateCode() (string, error) {
	var sb strings.Builder

	for i := 0; i < segmentLength*2; i++ {
		if i == segmentLength {
			sb.WriteByte('-')
		}

		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeAlphabet))))
		if err != nil {
			return "", err
		}
		sb.WriteByte(codeAlphabet[n.Int64()])
	}

	return sb.String(), nil
}
