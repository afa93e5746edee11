package domain

import (
	"errors"
	"slices"
	"time"
)

// Статусы State Machine сессии
type SessionStatus string

const (
	SessionCreated   SessionStatus = "CREATED"
	SessionRunning   SessionStatus = "RUNNING"
	SessionCompleted SessionStatus = "COMPLETED"
	SessionFailed    SessionStatus = "FAILED"
	// SessionNotFound возвращается только из запросов статуса, в сессии не хранится
	SessionNotFound SessionStatus = "NOT_FOUND"
)

var (
	ErrInvalidTransition = errors.New("invalid session status transition")
	ErrAlreadyTerminal   = errors.New("session already reached terminal state")
)

func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed
}

// SessionConfig — параметры одного прогона
type SessionConfig struct {
	RateLimitDelay time.Duration `json:"rate_limit_delay" validate:"gte=0"`
	MaxItems       int           `json:"max_items" validate:"gte=1,lte=200"`
	AutoSubmit     bool          `json:"auto_submit"`
}

type AutomationSession struct {
	ID       string         `json:"session_id"`
	UserID   string         `json:"user_id"`
	Status   SessionStatus  `json:"status"`
	Config   SessionConfig  `json:"config"`
	Criteria SearchCriteria `json:"criteria"`

	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Duration    time.Duration `json:"duration"`

	// Агрегаты (во время прогона - живой прогресс)
	TotalFound  int              `json:"total_found"`
	Processed   int              `json:"processed"`
	Created     int              `json:"applications_created"`
	Submitted   int              `json:"applications_submitted"`
	SuccessRate float64          `json:"success_rate"`
	Error       string           `json:"error,omitempty"`
	Results     []WorkItemResult `json:"results"`
}

// CanTransitionTo проверяет правила конечного автомата
// CREATED -> RUNNING -> {COMPLETED, FAILED}
func (s *AutomationSession) CanTransitionTo(next SessionStatus) error {
	if s.Status.Terminal() {
		return ErrAlreadyTerminal
	}
	switch {
	case s.Status == SessionCreated && next == SessionRunning:
		return nil
	case s.Status == SessionRunning && next.Terminal():
		return nil
	default:
		return ErrInvalidTransition
	}
}

func (s *AutomationSession) TransitionTo(next SessionStatus) error {
	if err := s.CanTransitionTo(next); err != nil {
		return err
	}
	s.Status = next
	return nil
}

// Clone отдает копию, которую можно безопасно читать вне блокировки.
// Элементы Results не мутируются после добавления, поэтому копируем только срез.
func (s *AutomationSession) Clone() AutomationSession {
	c := *s
	c.Results = slices.Clone(s.Results)
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	return c
}
