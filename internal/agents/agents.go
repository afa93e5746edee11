// Package agents содержит исполнителей шагов пайплайна.
// Каждый агент - тонкая обертка над коллаборатором из connectors: разбирает вход,
// зовет внешний сервис и переводит его ошибки в доменные виды.
package agents

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/applyflow/internal/connectors"
	"github.com/xela07ax/applyflow/internal/domain"
	"github.com/xela07ax/applyflow/internal/engine"
)

// Имена агентов, под которыми фабрики попадают в реестр
const (
	JobDiscovery         = "job_discovery"
	ResumeOptimizer      = "resume_optimizer"
	CoverLetterGenerator = "cover_letter_generator"
	ApplicationTracker   = "application_tracker"
	BrowserAutomation    = "browser_automation"
)

// Deps — коллабораторы, которые раздаются агентам при создании
type Deps struct {
	Jobs       connectors.JobSource
	Completion connectors.CompletionProvider
	Store      connectors.ApplicationStore
	Automation connectors.AutomationExecutor
	Logger     *zap.Logger
}

// Register кладет в реестр фабрики всех известных агентов
func Register(r *engine.Registry, deps Deps) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	r.Register(JobDiscovery, factory(func(cfg engine.AgentConfig) (*JobDiscoveryAgent, error) {
		return NewJobDiscoveryAgent(deps.Jobs, cfg, deps.Logger)
	}))
	r.Register(ResumeOptimizer, factory(func(cfg engine.AgentConfig) (*ResumeOptimizerAgent, error) {
		return NewResumeOptimizerAgent(deps.Completion, deps.Store, cfg, deps.Logger)
	}))
	r.Register(CoverLetterGenerator, factory(func(cfg engine.AgentConfig) (*CoverLetterAgent, error) {
		return NewCoverLetterAgent(deps.Completion, deps.Store, cfg, deps.Logger)
	}))
	r.Register(ApplicationTracker, factory(func(cfg engine.AgentConfig) (*ApplicationTrackerAgent, error) {
		return NewApplicationTrackerAgent(deps.Store, cfg, deps.Logger)
	}))
	r.Register(BrowserAutomation, factory(func(cfg engine.AgentConfig) (*BrowserAutomationAgent, error) {
		return NewBrowserAutomationAgent(deps.Automation, deps.Store, cfg, deps.Logger)
	}))
}

// factory не дает типизированному nil просочиться в интерфейс Agent
func factory[A engine.Agent](build func(cfg engine.AgentConfig) (A, error)) engine.AgentFactory {
	return func(_ context.Context, cfg engine.AgentConfig) (engine.Agent, error) {
		a, err := build(cfg)
		if err != nil {
			return nil, err
		}
		return a, nil
	}
}

type base struct {
	name        string
	description string
	taskType    string
	logger      *zap.Logger
}

func newBase(name, description, taskType string, logger *zap.Logger) base {
	if logger == nil {
		logger = zap.NewNop()
	}
	return base{name: name, description: description, taskType: taskType, logger: logger.Named(name)}
}

func (b base) Name() string        { return b.name }
func (b base) Description() string { return b.description }

// dispatch - общий вход: health_check отвечает сразу, чужие типы задач отклоняются
func (b base) dispatch(ctx context.Context, task domain.Task, run func(context.Context, domain.Task) (map[string]any, error)) (domain.AgentResult, error) {
	start := time.Now()
	switch task.Type {
	case domain.TaskHealthCheck:
		return domain.AgentResult{Agent: b.name, Success: true, Data: map[string]any{"status": "ok"}}, nil
	case b.taskType:
	default:
		return domain.AgentResult{}, domain.ValidationError("agent."+b.name, "unsupported task type %q", task.Type)
	}
	if err := ctx.Err(); err != nil {
		return domain.AgentResult{}, connectors.Classify("agent."+b.name, err)
	}

	data, err := run(ctx, task)
	if err != nil {
		return domain.AgentResult{}, connectors.Classify("agent."+b.name, err)
	}
	return domain.AgentResult{Agent: b.name, Success: true, Data: data, Duration: time.Since(start)}, nil
}

// input достает значение нужного типа из полезной нагрузки предыдущего шага.
// Отсутствие или чужой тип - выход предыдущего шага не годится этому.
func input[T any](task domain.Task, key string) (T, error) {
	var zero T
	raw, ok := task.Input[key]
	if !ok {
		return zero, domain.NewError(domain.KindTransformation, "agent.input", fmt.Sprintf("missing %q in step input", key), nil)
	}
	v, ok := raw.(T)
	if !ok {
		return zero, domain.NewError(domain.KindTransformation, "agent.input", fmt.Sprintf("%q has type %T, want %T", key, raw, zero), nil)
	}
	return v, nil
}

func missingDep(agent, dep string) error {
	return domain.ConfigurationError("agent."+agent, "%s is not configured", dep)
}
