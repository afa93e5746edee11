package agents

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xela07ax/applyflow/internal/connectors"
	"github.com/xela07ax/applyflow/internal/domain"
	"github.com/xela07ax/applyflow/internal/engine"
)

const coverLetterSystemPrompt = "You write concise, specific cover letters. No more than four paragraphs."

type CoverLetterAgent struct {
	base
	completion connectors.CompletionProvider
	store      connectors.ApplicationStore
	system     string
}

func NewCoverLetterAgent(c connectors.CompletionProvider, s connectors.ApplicationStore, cfg engine.AgentConfig, logger *zap.Logger) (*CoverLetterAgent, error) {
	if c == nil {
		return nil, missingDep(CoverLetterGenerator, "completion provider")
	}
	if s == nil {
		return nil, missingDep(CoverLetterGenerator, "application store")
	}
	system := coverLetterSystemPrompt
	if p := cfg.Settings["system_prompt"]; p != "" {
		system = p
	}
	return &CoverLetterAgent{
		base:       newBase(CoverLetterGenerator, "Writes a cover letter for the tailored resume", domain.TaskGenerateCoverLetter, logger),
		completion: c,
		store:      s,
		system:     system,
	}, nil
}

func (a *CoverLetterAgent) Execute(ctx context.Context, task domain.Task) (domain.AgentResult, error) {
	return a.dispatch(ctx, task, a.generate)
}

func (a *CoverLetterAgent) generate(ctx context.Context, task domain.Task) (map[string]any, error) {
	job, err := input[domain.JobPosting](task, domain.KeyJob)
	if err != nil {
		return nil, err
	}
	resume, err := input[string](task, domain.KeyResume)
	if err != nil {
		return nil, err
	}
	profile, err := a.store.GetUserProfile(ctx, task.UserID)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}

	prompt := fmt.Sprintf("Candidate: %s\nPosition: %s at %s\n\nResume:\n%s",
		profile.FullName, job.Title, job.Company, resume)
	letter, err := a.completion.Complete(ctx, a.system, prompt)
	if err != nil {
		return nil, err
	}
	return map[string]any{domain.KeyCoverLetter: letter}, nil
}
