package agents

import (
	"context"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/xela07ax/applyflow/internal/connectors"
	"github.com/xela07ax/applyflow/internal/domain"
	"github.com/xela07ax/applyflow/internal/engine"
)

// JobDiscoveryAgent ищет вакансии и отбрасывает битые записи источника
type JobDiscoveryAgent struct {
	base
	source   connectors.JobSource
	validate *validator.Validate
}

func NewJobDiscoveryAgent(source connectors.JobSource, _ engine.AgentConfig, logger *zap.Logger) (*JobDiscoveryAgent, error) {
	if source == nil {
		return nil, missingDep(JobDiscovery, "job source")
	}
	return &JobDiscoveryAgent{
		base:     newBase(JobDiscovery, "Searches job boards for postings matching the criteria", domain.TaskDiscoverJobs, logger),
		source:   source,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}, nil
}

func (a *JobDiscoveryAgent) Execute(ctx context.Context, task domain.Task) (domain.AgentResult, error) {
	return a.dispatch(ctx, task, a.discover)
}

func (a *JobDiscoveryAgent) discover(ctx context.Context, task domain.Task) (map[string]any, error) {
	criteria, err := input[domain.SearchCriteria](task, domain.KeyCriteria)
	if err != nil {
		return nil, err
	}
	limit, err := input[int](task, domain.KeyMaxItems)
	if err != nil {
		return nil, err
	}

	found, err := a.source.Search(ctx, criteria, limit)
	if err != nil {
		return nil, err
	}

	jobs := make([]domain.JobPosting, 0, len(found))
	for _, j := range found {
		if limit > 0 && len(jobs) >= limit {
			break
		}
		if err := a.validate.Struct(j); err != nil {
			a.logger.Warn("dropping malformed posting", zap.String("job_id", j.ID), zap.Error(err))
			continue
		}
		jobs = append(jobs, j)
	}
	a.logger.Debug("jobs discovered",
		zap.String("session_id", task.SessionID),
		zap.Int("found", len(found)),
		zap.Int("kept", len(jobs)))
	return map[string]any{domain.KeyJobs: jobs}, nil
}
