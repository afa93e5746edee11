package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrorKind — тег класса отказа. Брейкер и ретраи принимают решения по нему,
// а не по конкретному типу ошибки.
type ErrorKind string

const (
	KindValidation     ErrorKind = "validation"      // Плохой вход шага
	KindAgentExecution ErrorKind = "agent_execution" // Агент упал (учитывается брейкером)
	KindCircuitOpen    ErrorKind = "circuit_open"    // Fast-fail, не новая ошибка агента
	KindTimeout        ErrorKind = "timeout"
	KindConfiguration  ErrorKind = "configuration" // Система не может стартовать
	KindAuth           ErrorKind = "auth"
	KindRateLimit      ErrorKind = "rate_limit"
	KindNotFound       ErrorKind = "not_found"
	KindTransformation ErrorKind = "transformation" // Выход шага не подходит следующему
	KindInternal       ErrorKind = "internal"
)

// Retryable - временные отказы, которые имеет смысл повторить.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindAgentExecution, KindTimeout, KindRateLimit:
		return true
	default:
		return false
	}
}

// BreakerRelevant - только отказы класса agent_execution двигают счетчик брейкера.
func (k ErrorKind) BreakerRelevant() bool {
	return k == KindAgentExecution
}

// Error — единая ошибка движка.
type Error struct {
	Kind ErrorKind
	Op   string // Где случилось: "registry.execute", "agent.resume_optimizer" ...
	Msg  string
	Err  error

	// RetryAfter - подсказка апстрима (429), когда можно повторить
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %s: %v", e.Op, e.Kind, e.Msg, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) RetryAfterDelay() time.Duration { return e.RetryAfter }

// RetryAfterOf достает подсказку Retry-After из цепочки ошибок, 0 - подсказки нет.
func RetryAfterOf(err error) time.Duration {
	var ra interface{ RetryAfterDelay() time.Duration }
	if errors.As(err, &ra) {
		return ra.RetryAfterDelay()
	}
	return 0
}

// Is позволяет сравнивать по виду: errors.Is(err, &Error{Kind: KindTimeout}).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Op == "" && t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

func NewError(kind ErrorKind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

func ValidationError(op, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func AgentExecutionError(op string, err error, format string, args ...any) *Error {
	return &Error{Kind: KindAgentExecution, Op: op, Msg: fmt.Sprintf(format, args...), Err: err}
}

func ConfigurationError(op, format string, args ...any) *Error {
	return &Error{Kind: KindConfiguration, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func TimeoutError(op string, err error) *Error {
	return &Error{Kind: KindTimeout, Op: op, Msg: "deadline exceeded", Err: err}
}

// KindOf извлекает вид ошибки. Неизвестные ошибки — internal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

// PublicMessage - санитизированный текст для внешнего мира.
// Детали остаются только в структурных логах.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	return PublicMessageFor(KindOf(err))
}

func PublicMessageFor(kind ErrorKind) string {
	switch kind {
	case KindValidation:
		return "validation failed: invalid input"
	case KindAgentExecution:
		return "agent execution failed"
	case KindCircuitOpen:
		return "agent temporarily unavailable"
	case KindTimeout:
		return "operation timed out"
	case KindConfiguration:
		return "service misconfigured"
	case KindAuth:
		return "upstream authentication failed"
	case KindRateLimit:
		return "rate limited by upstream provider"
	case KindNotFound:
		return "resource not found"
	case KindTransformation:
		return "transformation failed: unexpected step output"
	default:
		return "internal error"
	}
}
