package domain

import "time"

type StepStatus string

const (
	StepPending   StepStatus = "PENDING"
	StepRunning   StepStatus = "RUNNING"
	StepSucceeded StepStatus = "SUCCEEDED"
	StepFailed    StepStatus = "FAILED"
	StepSkipped   StepStatus = "SKIPPED"
)

// Идентификаторы шагов пайплайна
const (
	StepDiscover = "discover"
	StepOptimize = "optimize"
	StepGenerate = "generate"
	StepPersist  = "persist"
	StepSubmit   = "submit"
)

// StepDefinition - статическое описание шага.
// Внутри одного элемента шаги образуют линейную цепочку, DependsOn — предыдущий шаг.
type StepDefinition struct {
	ID          string   `json:"step_id"`
	Description string   `json:"description"`
	AgentName   string   `json:"agent_name"`
	TaskType    string   `json:"task_type"`
	DependsOn   []string `json:"depends_on,omitempty"`
}

// StepOutcome - исход шага для конкретного элемента
type StepOutcome struct {
	StepID    string         `json:"step_id"`
	AgentName string         `json:"agent_name"`
	Status    StepStatus     `json:"status"`
	Success   bool           `json:"success"`
	Payload   map[string]any `json:"payload,omitempty"`
	Error     string         `json:"error,omitempty"`
	ErrorKind ErrorKind      `json:"error_kind,omitempty"`
	StartedAt time.Time      `json:"started_at,omitzero"`
	Duration  time.Duration  `json:"duration"`
}

// Handoff - передача выхода одного агента на вход следующему
type Handoff struct {
	FromStep  string        `json:"from_step"`
	ToStep    string        `json:"to_step"`
	FromAgent string        `json:"from_agent"`
	ToAgent   string        `json:"to_agent"`
	Success   bool          `json:"success"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

func (h Handoff) Pair() string { return h.FromStep + "->" + h.ToStep }

// WorkItemResult — детальный результат по одной вакансии.
// Пишется только горутиной, которая обрабатывает этот элемент.
type WorkItemResult struct {
	Job                  JobPosting    `json:"job"`
	Steps                []StepOutcome `json:"steps"`
	Handoffs             []Handoff     `json:"handoffs,omitempty"`
	ApplicationID        string        `json:"application_id,omitempty"`
	ApplicationCreated   bool          `json:"application_created"`
	ApplicationSubmitted bool          `json:"application_submitted"`
}

// Step возвращает исход по идентификатору шага
func (r *WorkItemResult) Step(id string) (StepOutcome, bool) {
	for _, s := range r.Steps {
		if s.StepID == id {
			return s, true
		}
	}
	return StepOutcome{}, false
}
