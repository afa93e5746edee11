package agents

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/applyflow/internal/connectors"
	"github.com/xela07ax/applyflow/internal/domain"
	"github.com/xela07ax/applyflow/internal/engine"
)

// ApplicationTrackerAgent сохраняет заявку. Успех этого шага и есть "заявка создана".
type ApplicationTrackerAgent struct {
	base
	store connectors.ApplicationStore
	now   func() time.Time
}

func NewApplicationTrackerAgent(s connectors.ApplicationStore, _ engine.AgentConfig, logger *zap.Logger) (*ApplicationTrackerAgent, error) {
	if s == nil {
		return nil, missingDep(ApplicationTracker, "application store")
	}
	return &ApplicationTrackerAgent{
		base:  newBase(ApplicationTracker, "Persists the application record", domain.TaskCreateApplication, logger),
		store: s,
		now:   time.Now,
	}, nil
}

func (a *ApplicationTrackerAgent) Execute(ctx context.Context, task domain.Task) (domain.AgentResult, error) {
	return a.dispatch(ctx, task, a.create)
}

func (a *ApplicationTrackerAgent) create(ctx context.Context, task domain.Task) (map[string]any, error) {
	job, err := input[domain.JobPosting](task, domain.KeyJob)
	if err != nil {
		return nil, err
	}
	resume, err := input[string](task, domain.KeyResume)
	if err != nil {
		return nil, err
	}
	letter, err := input[string](task, domain.KeyCoverLetter)
	if err != nil {
		return nil, err
	}

	id, err := a.store.CreateApplicationRecord(ctx, domain.ApplicationRecord{
		UserID:      task.UserID,
		SessionID:   task.SessionID,
		JobID:       job.ID,
		JobTitle:    job.Title,
		Company:     job.Company,
		JobURL:      job.URL,
		ResumeText:  resume,
		CoverLetter: letter,
		Status:      domain.ApplicationStatusCreated,
		CreatedAt:   a.now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	a.logger.Info("application created",
		zap.String("session_id", task.SessionID),
		zap.String("job_id", job.ID),
		zap.String("application_id", id))
	return map[string]any{domain.KeyApplicationID: id}, nil
}
