package model

import "errors"

var (
	// ErrValidation возвращается при некорректных входных данных вызывающей стороны.
	ErrValidation = errors.New("validation error")
	// ErrInvalidState возвращается при попытке операции из недопустимого состояния.
	ErrInvalidState = errors.New("invalid state")
	// ErrReferralLookup возвращается, если связанная сущность или обязательная настройка отсутствует.
	ErrReferralLookup = errors.New("referral lookup error")
	// ErrStoreUnavailable возвращается при временной недоступности хранилища.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrConcurrencyConflict возвращается, если проверка оптимистичной блокировки не прошла.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrNotFound возвращается, если запрошенная сущность не найдена.
	ErrNotFound = errors.New("not found")
)

// IsRetryable сообщает, можно ли безопасно повторить операцию с задержкой.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrConcurrencyConflict)
}
