package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"github.com/xela07ax/applyflow/internal/domain"
)

// State - состояние предохранителя в терминах движка
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

const (
	DefaultFailureThreshold = 5
	DefaultOpenTimeout      = 60 * time.Second
)

// BreakerSettings описывает предохранитель одной зависимости (агента)
type BreakerSettings struct {
	Name             string
	FailureThreshold uint32        // Столько подряд учитываемых ошибок открывают цепь
	Timeout          time.Duration // Сколько цепь остается OPEN до пробного вызова
	// Counts решает, учитывается ли ошибка. По умолчанию - только agent_execution.
	Counts        func(err error) bool
	OnStateChange func(name string, from, to State)
	Now           func() time.Time
}

// BreakerSnapshot — read-only срез для observability
type BreakerSnapshot struct {
	Name             string        `json:"name"`
	State            State         `json:"state"`
	FailureCount     uint32        `json:"failure_count"`
	FailureThreshold uint32        `json:"failure_threshold"`
	Timeout          time.Duration `json:"timeout"`
	LastFailureTime  *time.Time    `json:"last_failure_time,omitempty"`
}

// Breaker - обертка над gobreaker.TwoStepCircuitBreaker.
// Two-step нужен, чтобы неучитываемые ошибки не трогали счетчики.
type Breaker struct {
	name      string
	threshold uint32
	timeout   time.Duration
	counts    func(error) bool
	now       func() time.Time
	cb        *gobreaker.TwoStepCircuitBreaker

	mu           sync.Mutex
	failureCount uint32
	lastFailure  time.Time
}

func NewBreaker(st BreakerSettings) *Breaker {
	if st.FailureThreshold == 0 {
		st.FailureThreshold = DefaultFailureThreshold
	}
	if st.Timeout <= 0 {
		st.Timeout = DefaultOpenTimeout
	}
	if st.Counts == nil {
		st.Counts = func(err error) bool { return domain.KindOf(err).BreakerRelevant() }
	}
	if st.Now == nil {
		st.Now = time.Now
	}

	b := &Breaker{
		name:      st.Name,
		threshold: st.FailureThreshold,
		timeout:   st.Timeout,
		counts:    st.Counts,
		now:       st.Now,
	}

	threshold := st.FailureThreshold
	b.cb = gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        st.Name,
		MaxRequests: 1, // В HALF_OPEN пропускаем ровно один пробный вызов
		Interval:    0, // В CLOSED счетчики сбрасываются только успехом
		Timeout:     st.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateClosed {
				b.mu.Lock()
				b.failureCount = 0
				b.mu.Unlock()
			}
			if st.OnStateChange != nil {
				st.OnStateChange(name, fromGobreaker(from), fromGobreaker(to))
			}
		},
	})
	return b
}

func (b *Breaker) Name() string { return b.name }

// State вычисляет текущее состояние. Переход OPEN -> HALF_OPEN по таймауту происходит здесь же.
func (b *Breaker) State() State {
	return fromGobreaker(b.cb.State())
}

// Call выполняет fn под защитой предохранителя.
// OPEN (или занятый пробный слот) - ошибка circuit_open без вызова fn.
func (b *Breaker) Call(fn func() error) error {
	done, err := b.cb.Allow()
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return domain.NewError(domain.KindCircuitOpen, "breaker."+b.name, "circuit open", err)
		}
		return err
	}
	state := b.cb.State()

	callErr := fn()

	switch {
	case callErr == nil:
		b.mu.Lock()
		b.failureCount = 0
		b.mu.Unlock()
		done(true)
	case b.counts(callErr):
		b.mu.Lock()
		b.failureCount++
		b.lastFailure = b.now()
		b.mu.Unlock()
		done(false)
	case state == gobreaker.StateHalfOpen:
		// Пробный слот обязан освободиться: зависимость ответила, ошибка не ее класса
		done(true)
	default:
		// Неучитываемая ошибка в CLOSED: состояние не трогаем
	}
	return callErr
}

func (b *Breaker) Snapshot() BreakerSnapshot {
	state := b.State()
	b.mu.Lock()
	defer b.mu.Unlock()
	s := BreakerSnapshot{
		Name:             b.name,
		State:            state,
		FailureCount:     b.failureCount,
		FailureThreshold: b.threshold,
		Timeout:          b.timeout,
	}
	if !b.lastFailure.IsZero() {
		t := b.lastFailure
		s.LastFailureTime = &t
	}
	return s
}
