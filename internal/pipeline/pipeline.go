package pipeline

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xela07ax/applyflow/internal/domain"
	"github.com/xela07ax/applyflow/internal/engine"
	"github.com/xela07ax/applyflow/internal/resilience"
)

// Dispatcher - защищенный вызов агента (engine.Registry)
type Dispatcher interface {
	ExecuteAgentTask(ctx context.Context, name string, task domain.Task) (domain.AgentResult, error)
}

// ErrCancelled — текст ошибки прогона, остановленного оператором
const ErrCancelled = "session cancelled"

// DefaultSteps - цепочка discover → optimize → generate → persist → submit
func DefaultSteps() []domain.StepDefinition {
	return []domain.StepDefinition{
		{ID: domain.StepDiscover, Description: "Find job postings", AgentName: "job_discovery", TaskType: domain.TaskDiscoverJobs},
		{ID: domain.StepOptimize, Description: "Tailor resume", AgentName: "resume_optimizer", TaskType: domain.TaskOptimizeResume, DependsOn: []string{domain.StepDiscover}},
		{ID: domain.StepGenerate, Description: "Write cover letter", AgentName: "cover_letter_generator", TaskType: domain.TaskGenerateCoverLetter, DependsOn: []string{domain.StepOptimize}},
		{ID: domain.StepPersist, Description: "Save application", AgentName: "application_tracker", TaskType: domain.TaskCreateApplication, DependsOn: []string{domain.StepGenerate}},
		{ID: domain.StepSubmit, Description: "Submit application", AgentName: "browser_automation", TaskType: domain.TaskSubmitApplication, DependsOn: []string{domain.StepPersist}},
	}
}

type RunRequest struct {
	SessionID string
	UserID    string
	Criteria  domain.SearchCriteria
	Config    domain.SessionConfig

	// Cancelled опрашивается между элементами
	Cancelled func() bool
	// OnDiscovered сообщает, сколько элементов будет обработано
	OnDiscovered func(total int)
	// OnItem вызывается после обработки каждого элемента
	OnItem func(domain.WorkItemResult)
}

type RunResult struct {
	Success     bool
	Error       string
	Cancelled   bool
	TotalFound  int
	Created     int
	Submitted   int
	SuccessRate float64
	Results     []domain.WorkItemResult
}

type Pipeline struct {
	steps      []domain.StepDefinition
	dispatcher Dispatcher
	retrier    *resilience.Retrier
	metrics    engine.MetricsSink
	logger     *zap.Logger
	now        func() time.Time
}

func New(d Dispatcher, r *resilience.Retrier, metrics engine.MetricsSink, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if r == nil {
		r = resilience.NewRetrier(resilience.DefaultRetryPolicy(), logger)
	}
	if metrics == nil {
		metrics = engine.NewMetrics(nil)
	}
	return &Pipeline{
		steps:      DefaultSteps(),
		dispatcher: d,
		retrier:    r,
		metrics:    metrics,
		logger:     logger.Named("pipeline"),
		now:        time.Now,
	}
}

func (p *Pipeline) Steps() []domain.StepDefinition { return p.steps }

// Run выполняет один прогон. Фатальны только провал discover и паника;
// сбой на элементе помечает его оставшиеся шаги SKIPPED и не останавливает прогон.
func (p *Pipeline) Run(ctx context.Context, req RunRequest) (out RunResult) {
	log := p.logger.With(zap.String("session_id", req.SessionID), zap.String("user_id", req.UserID))

	defer func() {
		if r := recover(); r != nil {
			log.Error("pipeline panicked", zap.Any("panic", r), zap.Stack("stack"))
			out.Success = false
			out.Error = domain.PublicMessageFor(domain.KindInternal)
			p.metrics.IncrementCounter("pipeline_run", map[string]string{"status": "panic"})
		}
	}()

	discover := p.steps[0]
	outcome := p.runStep(ctx, discover, domain.Task{
		Type:      discover.TaskType,
		SessionID: req.SessionID,
		UserID:    req.UserID,
		StepID:    discover.ID,
		Input: map[string]any{
			domain.KeyCriteria: req.Criteria,
			domain.KeyMaxItems: req.Config.MaxItems,
		},
	}, nil)
	if !outcome.Success {
		log.Warn("discovery failed, run aborted", zap.String("error", outcome.Error))
		p.metrics.IncrementCounter("pipeline_run", map[string]string{"status": "failed"})
		return RunResult{Success: false, Error: outcome.Error}
	}

	jobs, ok := outcome.Payload[domain.KeyJobs].([]domain.JobPosting)
	if !ok {
		msg := domain.PublicMessageFor(domain.KindTransformation)
		log.Error("discovery returned unexpected payload", zap.String("type", fmt.Sprintf("%T", outcome.Payload[domain.KeyJobs])))
		return RunResult{Success: false, Error: msg}
	}
	if req.Config.MaxItems > 0 && len(jobs) > req.Config.MaxItems {
		jobs = jobs[:req.Config.MaxItems]
	}

	out.TotalFound = len(jobs)
	out.Results = make([]domain.WorkItemResult, 0, len(jobs))
	log.Info("jobs discovered", zap.Int("total_found", out.TotalFound))
	if req.OnDiscovered != nil {
		req.OnDiscovered(out.TotalFound)
	}

	var limiter *rate.Limiter
	if req.Config.AutoSubmit && req.Config.RateLimitDelay > 0 {
		// burst 1: первая подача сразу, дальше не чаще раза в RateLimitDelay
		limiter = rate.NewLimiter(rate.Every(req.Config.RateLimitDelay), 1)
	}

	for _, job := range jobs {
		if ctx.Err() != nil || (req.Cancelled != nil && req.Cancelled()) {
			out.Cancelled = true
			break
		}
		item := p.processItem(ctx, req, job, outcome, limiter, log)
		if item.ApplicationCreated {
			out.Created++
		}
		if item.ApplicationSubmitted {
			out.Submitted++
		}
		out.Results = append(out.Results, item)
		if req.OnItem != nil {
			req.OnItem(item)
		}
	}

	out.SuccessRate = float64(out.Created) / float64(max(out.TotalFound, 1))
	if out.Cancelled {
		out.Error = ErrCancelled
		log.Info("run cancelled", zap.Int("processed", len(out.Results)))
		p.metrics.IncrementCounter("pipeline_run", map[string]string{"status": "cancelled"})
		return out
	}

	out.Success = true
	p.metrics.IncrementCounter("pipeline_run", map[string]string{"status": "succeeded"})
	log.Info("run finished",
		zap.Int("total_found", out.TotalFound),
		zap.Int("created", out.Created),
		zap.Int("submitted", out.Submitted))
	return out
}

func (p *Pipeline) itemSteps(autoSubmit bool) []domain.StepDefinition {
	steps := p.steps[1:]
	if !autoSubmit {
		steps = steps[:len(steps)-1]
	}
	return steps
}

func (p *Pipeline) processItem(ctx context.Context, req RunRequest, job domain.JobPosting, discovered domain.StepOutcome, limiter *rate.Limiter, log *zap.Logger) domain.WorkItemResult {
	item := domain.WorkItemResult{Job: job}
	carry := map[string]any{domain.KeyJob: job}
	prev := discovered
	failed := false

	for _, def := range p.itemSteps(req.Config.AutoSubmit) {
		if failed {
			item.Steps = append(item.Steps, domain.StepOutcome{StepID: def.ID, AgentName: def.AgentName, Status: domain.StepSkipped})
			p.metrics.IncrementCounter("pipeline_step", map[string]string{"step": def.ID, "agent": def.AgentName, "status": string(domain.StepSkipped)})
			continue
		}

		var stepLimiter *rate.Limiter
		if def.ID == domain.StepSubmit {
			stepLimiter = limiter
		}
		outcome := p.runStep(ctx, def, domain.Task{
			Type:      def.TaskType,
			SessionID: req.SessionID,
			UserID:    req.UserID,
			StepID:    def.ID,
			Input:     maps.Clone(carry),
		}, stepLimiter)
		item.Steps = append(item.Steps, outcome)
		item.Handoffs = append(item.Handoffs, domain.Handoff{
			FromStep:  prev.StepID,
			ToStep:    def.ID,
			FromAgent: prev.AgentName,
			ToAgent:   def.AgentName,
			Success:   outcome.Success,
			Duration:  outcome.Duration,
			Error:     outcome.Error,
		})

		if !outcome.Success {
			failed = true
			log.Warn("item step failed, skipping the rest",
				zap.String("job_id", job.ID),
				zap.String("step_id", def.ID),
				zap.String("error", outcome.Error))
			continue
		}

		maps.Copy(carry, outcome.Payload)
		prev = outcome
		switch def.ID {
		case domain.StepPersist:
			// Заявка считается созданной в момент сохранения, что бы ни случилось дальше
			item.ApplicationCreated = true
			item.ApplicationID, _ = outcome.Payload[domain.KeyApplicationID].(string)
		case domain.StepSubmit:
			item.ApplicationSubmitted = true
		}
	}
	return item
}

// runStep - одна попытка шага с ретраями поверх защищенного вызова агента.
// limiter (если задан) ждется перед каждой попыткой, включая повторы.
func (p *Pipeline) runStep(ctx context.Context, def domain.StepDefinition, task domain.Task, limiter *rate.Limiter) domain.StepOutcome {
	start := p.now()
	var last domain.AgentResult
	err := p.retrier.Do(ctx, func(ctx context.Context) error {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
		}
		res, err := p.dispatcher.ExecuteAgentTask(ctx, def.AgentName, task)
		if err != nil {
			return err
		}
		last = res
		return res.Err()
	})
	elapsed := time.Since(start)

	if err != nil {
		out := p.failedOutcome(def, err, elapsed)
		out.StartedAt = start
		return out
	}

	p.metrics.IncrementCounter("pipeline_step", map[string]string{"step": def.ID, "agent": def.AgentName, "status": string(domain.StepSucceeded)})
	return domain.StepOutcome{
		StepID:    def.ID,
		AgentName: def.AgentName,
		Status:    domain.StepSucceeded,
		Success:   true,
		Payload:   last.Data,
		StartedAt: start,
		Duration:  elapsed,
	}
}

func (p *Pipeline) failedOutcome(def domain.StepDefinition, err error, elapsed time.Duration) domain.StepOutcome {
	kind := domain.KindOf(err)
	msg := domain.PublicMessage(err)
	var de *domain.Error
	if kind == domain.KindAgentExecution && errors.As(err, &de) && de.Op == "registry.execute" {
		msg = fmt.Sprintf("agent %s not available", def.AgentName)
	}
	p.metrics.IncrementCounter("pipeline_step", map[string]string{"step": def.ID, "agent": def.AgentName, "status": string(domain.StepFailed)})
	return domain.StepOutcome{
		StepID:    def.ID,
		AgentName: def.AgentName,
		Status:    domain.StepFailed,
		Success:   false,
		Error:     msg,
		ErrorKind: kind,
		Duration:  elapsed,
	}
}
