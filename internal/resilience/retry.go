package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go/v5"
	"go.uber.org/zap"

	"github.com/xela07ax/applyflow/internal/domain"
)

type Backoff string

const (
	BackoffLinear      Backoff = "linear"
	BackoffExponential Backoff = "exponential"
)

// RetryPolicy — ограниченное число повторов, избирательное по виду ошибки
type RetryPolicy struct {
	MaxRetries uint // Всего попыток: MaxRetries + 1
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Backoff    Backoff
	Retryable  func(err error) bool // По умолчанию - domain.ErrorKind.Retryable
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		Backoff:    BackoffExponential,
	}
}

// RetryAfterer - ошибки, которые сами знают, когда можно повторить (429 Retry-After)
type RetryAfterer interface {
	RetryAfterDelay() time.Duration
}

type Retrier struct {
	policy RetryPolicy
	logger *zap.Logger
}

func NewRetrier(p RetryPolicy, logger *zap.Logger) *Retrier {
	if p.Retryable == nil {
		p.Retryable = func(err error) bool { return domain.KindOf(err).Retryable() }
	}
	if p.Backoff == "" {
		p.Backoff = BackoffExponential
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrier{policy: p, logger: logger.Named("retry")}
}

func (r *Retrier) Policy() RetryPolicy { return r.policy }

// Do повторяет op, пока она падает с повторяемой ошибкой и попытки не кончились.
// Наружу уходит последняя ошибка как есть.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	rt := retry.New(
		retry.Context(ctx),
		retry.Attempts(r.policy.MaxRetries+1),
		retry.LastErrorOnly(true),
		retry.RetryIf(r.policy.Retryable),
		retry.DelayType(func(n uint, err error, _ retry.DelayContext) time.Duration {
			return r.delay(n, err)
		}),
		retry.OnRetry(func(n uint, err error) {
			r.logger.Debug("retrying after failure",
				zap.Uint("attempt", n+1),
				zap.String("kind", string(domain.KindOf(err))),
				zap.Error(err))
		}),
	)
	return rt.Do(func() error { return op(ctx) })
}

// delay считает паузу перед повтором n (n=0 — первый повтор)
func (r *Retrier) delay(n uint, err error) time.Duration {
	// Если апстрим сам сказал, когда приходить (Retry-After) - слушаемся
	var ra RetryAfterer
	if errors.As(err, &ra) && ra.RetryAfterDelay() > 0 {
		return r.capped(ra.RetryAfterDelay())
	}

	base := r.policy.BaseDelay
	if base <= 0 {
		return 0
	}
	var d time.Duration
	switch r.policy.Backoff {
	case BackoffLinear:
		d = base * time.Duration(n+1)
	default:
		shift := min(n, 20)
		d = base << shift
	}
	return r.capped(d)
}

func (r *Retrier) capped(d time.Duration) time.Duration {
	if r.policy.MaxDelay > 0 && d > r.policy.MaxDelay {
		return r.policy.MaxDelay
	}
	return d
}

// Retry - типизированная обертка над Retrier.Do для операций с результатом
func Retry[T any](ctx context.Context, r *Retrier, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := r.Do(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		out = v
		return err
	})
	return out, err
}
