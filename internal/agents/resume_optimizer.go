package agents

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xela07ax/applyflow/internal/connectors"
	"github.com/xela07ax/applyflow/internal/domain"
	"github.com/xela07ax/applyflow/internal/engine"
)

const resumeSystemPrompt = "You tailor resumes to job postings. Keep facts, reorder and rephrase for relevance."

// ResumeOptimizerAgent подгоняет резюме пользователя под вакансию
type ResumeOptimizerAgent struct {
	base
	completion connectors.CompletionProvider
	store      connectors.ApplicationStore
	system     string
}

func NewResumeOptimizerAgent(c connectors.CompletionProvider, s connectors.ApplicationStore, cfg engine.AgentConfig, logger *zap.Logger) (*ResumeOptimizerAgent, error) {
	if c == nil {
		return nil, missingDep(ResumeOptimizer, "completion provider")
	}
	if s == nil {
		return nil, missingDep(ResumeOptimizer, "application store")
	}
	system := resumeSystemPrompt
	if p := cfg.Settings["system_prompt"]; p != "" {
		system = p
	}
	return &ResumeOptimizerAgent{
		base:       newBase(ResumeOptimizer, "Tailors the candidate resume to a job posting", domain.TaskOptimizeResume, logger),
		completion: c,
		store:      s,
		system:     system,
	}, nil
}

func (a *ResumeOptimizerAgent) Execute(ctx context.Context, task domain.Task) (domain.AgentResult, error) {
	return a.dispatch(ctx, task, a.optimize)
}

func (a *ResumeOptimizerAgent) optimize(ctx context.Context, task domain.Task) (map[string]any, error) {
	job, err := input[domain.JobPosting](task, domain.KeyJob)
	if err != nil {
		return nil, err
	}
	profile, err := a.store.GetUserProfile(ctx, task.UserID)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	if strings.TrimSpace(profile.ResumeText) == "" {
		return nil, domain.ValidationError("agent."+a.name, "user %s has no resume", task.UserID)
	}

	prompt := fmt.Sprintf("Job: %s at %s\n%s\n\nResume:\n%s\n\nSkills: %s",
		job.Title, job.Company, job.Description, profile.ResumeText, strings.Join(profile.Skills, ", "))
	out, err := a.completion.Complete(ctx, a.system, prompt)
	if err != nil {
		return nil, err
	}
	return map[string]any{domain.KeyResume: out}, nil
}
