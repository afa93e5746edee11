package domain

import "time"

// Типы задач, которые понимают агенты
const (
	TaskHealthCheck         = "health_check"
	TaskDiscoverJobs        = "discover_jobs"
	TaskOptimizeResume      = "optimize_resume"
	TaskGenerateCoverLetter = "generate_cover_letter"
	TaskCreateApplication   = "create_application"
	TaskSubmitApplication   = "submit_application"
)

// Ключи полезной нагрузки, которыми шаги передают данные друг другу (handoff)
const (
	KeyCriteria       = "criteria"
	KeyMaxItems       = "max_items"
	KeySeed           = "seed"
	KeyJobs           = "jobs"
	KeyJob            = "job"
	KeyResume         = "optimized_resume"
	KeyCoverLetter    = "cover_letter"
	KeyApplicationID  = "application_id"
	KeyConfirmation   = "confirmation"
	KeyStepsExecuted  = "steps_executed"
	KeyArtifacts      = "artifacts"
	KeyAutomationOpts = "automation_settings"
)

// Task - единица работы для агента
type Task struct {
	Type      string         `json:"type"`
	SessionID string         `json:"session_id,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	StepID    string         `json:"step_id,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
}

// AgentResult - структурированный результат. Сбои тоже приходят сюда, а не паникой/ошибкой.
type AgentResult struct {
	Agent     string         `json:"agent"`
	Success   bool           `json:"success"`
	Data      map[string]any `json:"data,omitempty"`
	Error     string         `json:"error,omitempty"`
	ErrorKind ErrorKind      `json:"error_kind,omitempty"`
	Duration  time.Duration  `json:"duration"`

	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// Err превращает неуспешный результат обратно в ошибку (нужно для ретраев).
func (r AgentResult) Err() error {
	if r.Success {
		return nil
	}
	kind := r.ErrorKind
	if kind == "" {
		kind = KindAgentExecution
	}
	return &Error{Kind: kind, Op: "agent." + r.Agent, Msg: r.Error, RetryAfter: r.RetryAfter}
}

func FailedResult(agent string, kind ErrorKind, msg string) AgentResult {
	return AgentResult{Agent: agent, Success: false, ErrorKind: kind, Error: msg}
}

// AgentHealth — последнее известное здоровье агента
type AgentHealth struct {
	AgentName string    `json:"agent_name"`
	Healthy   bool      `json:"healthy"`
	LastCheck time.Time `json:"last_check"`
	Error     string    `json:"error,omitempty"`
}

// HealthReport - итог синтетической проверки одного агента
type HealthReport struct {
	AgentName string        `json:"agent_name"`
	Passed    bool          `json:"passed"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}
