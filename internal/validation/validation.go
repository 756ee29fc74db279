// Package validation содержит функции валидации входных данных.
package validation

import (
	"errors"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const (
	minLoginLength = 3
	maxLoginLength = 64
	amountScale    = 2
)

var referralCodePattern = regexp.MustCompile(`^(REF|SOC)[0-9A-Z]{7}$`)

var voucherContentTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"application/pdf": true,
}

// ErrInvalidAmount возвращается, если сумма не является положительным числом с точностью до копеек.
var ErrInvalidAmount = errors.New("invalid amount")

// IsValidLogin проверяет длину логина и отсутствие в нём пробельных символов.
func IsValidLogin(login string) bool {
	n := utf8.RuneCountInString(login)
	if n < minLoginLength || n > maxLoginLength {
		return false
	}
	return strings.IndexFunc(login, unicode.IsSpace) < 0
}

// NormalizeReferralCode приводит код к верхнему регистру и проверяет его формат.
func NormalizeReferralCode(code string) (string, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	return code, referralCodePattern.MatchString(code)
}

// IsValidAmount проверяет, что сумма положительна и содержит не более двух знаков после запятой.
func IsValidAmount(d decimal.Decimal) bool {
	return d.IsPositive() && d.Equal(d.Truncate(amountScale))
}

// ParseAmount разбирает строковую сумму и проверяет её через IsValidAmount.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	if !IsValidAmount(d) {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// IsAllowedVoucherType сообщает, можно ли загрузить чек с указанным Content-Type.
func IsAllowedVoucherType(contentType string) bool {
	mediaType, _, _ := strings.Cut(contentType, ";")
	return voucherContentTypes[strings.ToLower(strings.TrimSpace(mediaType))]
}
