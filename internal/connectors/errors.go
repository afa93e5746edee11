package connectors

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xela07ax/applyflow/internal/domain"
)

// AuthError — провайдер отверг наши учетные данные. Повторять бессмысленно.
type AuthError struct {
	Provider string
	Cause    error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: authentication failed: %v", e.Provider, e.Cause)
}

func (e *AuthError) Unwrap() error { return e.Cause }

// RateLimitError - апстрим троттлит. RetryAfter - сколько он просил подождать.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
	Cause      error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: throttled: retry after %v (cause: %v)", e.Provider, e.RetryAfter, e.Cause)
}

func (e *RateLimitError) Unwrap() error { return e.Cause }

func (e *RateLimitError) RetryAfterDelay() time.Duration { return e.RetryAfter }

// Classify переводит ошибку коллаборатора в доменную с нужным видом.
// Все, что не распознано, считается сбоем агента и учитывается брейкером.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	var ae *AuthError
	if errors.As(err, &ae) {
		return domain.NewError(domain.KindAuth, op, "upstream rejected credentials", err)
	}
	var rl *RateLimitError
	if errors.As(err, &rl) {
		e := domain.NewError(domain.KindRateLimit, op, "upstream rate limit", err)
		e.RetryAfter = rl.RetryAfter
		return e
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.TimeoutError(op, err)
	}
	// Отмену инициировали мы сами, это не отказ зависимости
	if errors.Is(err, context.Canceled) {
		return domain.NewError(domain.KindInternal, op, "cancelled", err)
	}
	if errors.Is(err, ErrNotFound) {
		return domain.NewError(domain.KindNotFound, op, "not found", err)
	}
	return domain.AgentExecutionError(op, err, "collaborator call failed")
}

// ErrNotFound - запись в хранилище отсутствует
var ErrNotFound = errors.New("not found")
