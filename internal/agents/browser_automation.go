package agents

import (
	"context"
	"fmt"
	"maps"

	"go.uber.org/zap"

	"github.com/xela07ax/applyflow/internal/connectors"
	"github.com/xela07ax/applyflow/internal/domain"
	"github.com/xela07ax/applyflow/internal/engine"
)

// BrowserAutomationAgent отдает сохраненную заявку внешнему исполнителю на подачу.
// Механика подачи — целиком на стороне исполнителя.
type BrowserAutomationAgent struct {
	base
	executor connectors.AutomationExecutor
	store    connectors.ApplicationStore
	settings map[string]any
}

func NewBrowserAutomationAgent(e connectors.AutomationExecutor, s connectors.ApplicationStore, cfg engine.AgentConfig, logger *zap.Logger) (*BrowserAutomationAgent, error) {
	if e == nil {
		return nil, missingDep(BrowserAutomation, "automation executor")
	}
	if s == nil {
		return nil, missingDep(BrowserAutomation, "application store")
	}
	settings := make(map[string]any, len(cfg.Settings))
	for k, v := range cfg.Settings {
		settings[k] = v
	}
	return &BrowserAutomationAgent{
		base:     newBase(BrowserAutomation, "Submits the application through the external automation executor", domain.TaskSubmitApplication, logger),
		executor: e,
		store:    s,
		settings: settings,
	}, nil
}

func (a *BrowserAutomationAgent) Execute(ctx context.Context, task domain.Task) (domain.AgentResult, error) {
	return a.dispatch(ctx, task, a.submit)
}

func (a *BrowserAutomationAgent) submit(ctx context.Context, task domain.Task) (map[string]any, error) {
	job, err := input[domain.JobPosting](task, domain.KeyJob)
	if err != nil {
		return nil, err
	}
	appID, err := input[string](task, domain.KeyApplicationID)
	if err != nil {
		return nil, err
	}
	letter, _ := task.Input[domain.KeyCoverLetter].(string)

	profile, err := a.store.GetUserProfile(ctx, task.UserID)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}

	// Настройки задачи перекрывают настройки агента
	settings := maps.Clone(a.settings)
	if extra, ok := task.Input[domain.KeyAutomationOpts].(map[string]any); ok {
		maps.Copy(settings, extra)
	}

	res, err := a.executor.Run(ctx, connectors.AutomationRequest{
		SessionID:     task.SessionID,
		UserID:        task.UserID,
		ApplicationID: appID,
		Job:           job,
		Profile:       profile,
		CoverLetter:   letter,
		Settings:      settings,
	})
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, domain.AgentExecutionError("agent."+a.name, nil, "automation rejected submission: %s", res.Error)
	}

	// Подача уже состоялась: сбой отметки не должен вызвать повторную подачу
	if m, ok := a.store.(connectors.SubmissionMarker); ok {
		if err := m.MarkSubmitted(ctx, appID); err != nil {
			a.logger.Warn("application submitted but status not updated",
				zap.String("application_id", appID), zap.Error(err))
		}
	}

	a.logger.Info("application submitted",
		zap.String("session_id", task.SessionID),
		zap.String("application_id", appID),
		zap.String("confirmation", res.Confirmation))
	return map[string]any{
		domain.KeyConfirmation:  res.Confirmation,
		domain.KeyStepsExecuted: res.StepsExecuted,
		domain.KeyArtifacts:     res.Artifacts,
	}, nil
}
