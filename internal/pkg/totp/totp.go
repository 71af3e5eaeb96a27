package totp

import (
	"bytes"
	"encoding/base64"
	"image/png"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	// Period длительность одного временного окна TOTP в секундах
	Period = 30
	// Digits количество цифр в коде
	Digits = otp.DigitsSix
	// Skew допустимое отклонение в окнах: принимаем коды из
	// предыдущего и следующего окна для компенсации расхождения часов
	Skew = 1

	qrImageSize = 256
)

// Enrollment результат генерации нового TOTP секрета
type Enrollment struct {
	Secret       string // base32 секрет для ручного ввода
	ProvisionURL string // otpauth:// URL
	QRCodePNG    string // PNG с QR кодом в base64
}

// Generator создает и проверяет TOTP коды
type Generator struct {
	issuer string
}

// NewGenerator создает генератор с заданным именем издателя,
// которое отображается в приложении-аутентификаторе
func NewGenerator(issuer string) *Generator {
	return &Generator{issuer: issuer}
}

// Generate создает новый секрет для пользователя вместе с
// otpauth URL и QR кодом для сканирования
func (g *Generator) Generate(accountName string) (*Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      g.issuer,
		AccountName: accountName,
		Period:      Period,
		Digits:      Digits,
	})
	if err != nil {
		return nil, err
	}

	img, err := key.Image(qrImageSize, qrImageSize)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}

	return &Enrollment{
		Secret:       key.Secret(),
		ProvisionURL: key.URL(),
		QRCodePNG:    base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}

// Validate проверяет код против секрета с учетом допустимого
// расхождения часов
func (g *Generator) Validate(code, secret string) bool {
	return g.ValidateAt(code, secret, time.Now().UTC())
}

// ValidateAt проверяет код на заданный момент времени
func (g *Generator) ValidateAt(code, secret string, at time.Time) bool {
	valid, err := totp.ValidateCustom(code, secret, at, totp.ValidateOpts{
		Period:    Period,
		Skew:      Skew,
		Digits:    Digits,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && valid
}
