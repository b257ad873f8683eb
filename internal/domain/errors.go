package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable возвращается, если хранилище дедупликации недоступно.
	// Вставка для конвейера останавливается, чтобы не добавлять пользователей повторно.
	ErrStoreUnavailable = errors.New("dedup store unavailable")
	// ErrSessionStart возвращается, если сессию не удалось запустить.
	ErrSessionStart = errors.New("session start failed")
	// ErrChatNotFound: ссылка не указывает ни на один доступный чат.
	ErrChatNotFound = errors.New("chat not found")
	// ErrUserNotFound: пользователя нельзя разрешить в приглашаемый handle.
	ErrUserNotFound = errors.New("user not found")
	// ErrNotAuthorized: сессия не авторизована.
	ErrNotAuthorized = errors.New("session is not authorized")
)

// ResolutionError описывает неудачное разрешение ссылки на чат или пользователя.
type ResolutionError struct {
	Ref string
	Err error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %q: %v", e.Ref, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// IsResolution сообщает, является ли ошибка ошибкой разрешения.
func IsResolution(err error) bool {
	var target *ResolutionError
	return errors.As(err, &target)
}
