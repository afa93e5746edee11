package connectors

import (
	"context"

	"github.com/xela07ax/applyflow/internal/domain"
)

// CompletionProvider - генерация текста (LLM). Ошибки: *AuthError, *RateLimitError или любые прочие.
type CompletionProvider interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// ApplicationStore - хранилище заявок и профилей соискателей
type ApplicationStore interface {
	CreateApplicationRecord(ctx context.Context, rec domain.ApplicationRecord) (string, error)
	GetUserProfile(ctx context.Context, userID string) (domain.UserProfile, error)
}

// SubmissionMarker — хранилище, которое умеет отметить заявку поданной (необязательно)
type SubmissionMarker interface {
	MarkSubmitted(ctx context.Context, applicationID string) error
}

// JobSource - поиск вакансий
type JobSource interface {
	Search(ctx context.Context, criteria domain.SearchCriteria, limit int) ([]domain.JobPosting, error)
}

// AutomationRequest - что отправляем внешнему исполнителю подачи
type AutomationRequest struct {
	SessionID     string             `json:"session_id"`
	UserID        string             `json:"user_id"`
	ApplicationID string             `json:"application_id"`
	Job           domain.JobPosting  `json:"job"`
	Profile       domain.UserProfile `json:"profile"`
	CoverLetter   string             `json:"cover_letter"`
	Settings      map[string]any     `json:"settings,omitempty"`
}

// AutomationResult — непрозрачный для движка итог автоматизации
type AutomationResult struct {
	Success       bool           `json:"success"`
	StepsExecuted []string       `json:"steps_executed"`
	Artifacts     map[string]any `json:"artifacts,omitempty"`
	Confirmation  string         `json:"confirmation,omitempty"`
	Error         string         `json:"error,omitempty"`
}

// AutomationExecutor - внешняя система, которая реально отправляет заявку
type AutomationExecutor interface {
	Run(ctx context.Context, req AutomationRequest) (AutomationResult, error)
}
