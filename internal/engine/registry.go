package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xela07ax/applyflow/internal/domain"
	"github.com/xela07ax/applyflow/internal/resilience"
)

// Agent — именованный исполнитель задач одного типа
type Agent interface {
	Name() string
	Description() string
	Execute(ctx context.Context, task domain.Task) (domain.AgentResult, error)
}

// AgentConfig - запись о конфигурируемом агенте
type AgentConfig struct {
	Name     string
	Settings map[string]string
}

// AgentFactory создает агента по конфигу. Вместо динамической загрузки классов - реестр фабрик.
type AgentFactory func(ctx context.Context, cfg AgentConfig) (Agent, error)

type RegistryConfig struct {
	BreakerFailureThreshold uint32
	BreakerTimeout          time.Duration
	HealthCheckTimeout      time.Duration
}

func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		BreakerFailureThreshold: resilience.DefaultFailureThreshold,
		BreakerTimeout:          resilience.DefaultOpenTimeout,
		HealthCheckTimeout:      30 * time.Second,
	}
}

// InitReport — итог InitializeAgents
type InitReport struct {
	Succeeded []string          `json:"succeeded"`
	Failed    map[string]string `json:"failed"`
}

// AgentStatus - срез агента для observability
type AgentStatus struct {
	Name        string                     `json:"name"`
	Description string                     `json:"description"`
	Health      domain.AgentHealth         `json:"health"`
	Breaker     resilience.BreakerSnapshot `json:"breaker"`
}

// Registry (AgentManager) владеет агентами, их здоровьем и предохранителями.
type Registry struct {
	cfg     RegistryConfig
	logger  *zap.Logger
	metrics *Metrics
	now     func() time.Time

	mu        sync.RWMutex
	factories map[string]AgentFactory
	agents    map[string]Agent
	health    map[string]*domain.AgentHealth
	breakers  map[string]*resilience.Breaker
}

func NewRegistry(cfg RegistryConfig, metrics *Metrics, logger *zap.Logger) *Registry {
	def := DefaultRegistryConfig()
	if cfg.BreakerFailureThreshold == 0 {
		cfg.BreakerFailureThreshold = def.BreakerFailureThreshold
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = def.BreakerTimeout
	}
	if cfg.HealthCheckTimeout <= 0 {
		cfg.HealthCheckTimeout = def.HealthCheckTimeout
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Registry{
		cfg:       cfg,
		logger:    logger.Named("registry"),
		metrics:   metrics,
		now:       time.Now,
		factories: make(map[string]AgentFactory),
		agents:    make(map[string]Agent),
		health:    make(map[string]*domain.AgentHealth),
		breakers:  make(map[string]*resilience.Breaker),
	}
}

// Register добавляет фабрику агента под именем
func (r *Registry) Register(name string, f AgentFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

type initOutcome struct {
	name  string
	agent Agent
	err   error
}

// InitializeAgents параллельно создает агентов и прогоняет по одной синтетической задаче.
// Ошибка одного агента фиксируется и никак не влияет на остальных.
func (r *Registry) InitializeAgents(ctx context.Context, configs []AgentConfig) (InitReport, error) {
	if len(configs) == 0 {
		return InitReport{}, domain.ConfigurationError("registry.init", "no agents configured")
	}
	seen := make(map[string]struct{}, len(configs))
	for _, cfg := range configs {
		if _, dup := seen[cfg.Name]; dup {
			return InitReport{}, domain.ConfigurationError("registry.init", "agent %q configured twice", cfg.Name)
		}
		seen[cfg.Name] = struct{}{}
	}

	outcomes := make([]initOutcome, len(configs))
	// errgroup без WithContext: отмена одного не отменяет соседей
	var g errgroup.Group
	for i, cfg := range configs {
		g.Go(func() error {
			outcomes[i] = r.initOne(ctx, cfg)
			return nil
		})
	}
	_ = g.Wait()

	report := InitReport{Failed: make(map[string]string)}
	now := r.now()

	r.mu.Lock()
	for _, o := range outcomes {
		if o.err != nil {
			report.Failed[o.name] = o.err.Error()
			r.health[o.name] = &domain.AgentHealth{AgentName: o.name, Healthy: false, LastCheck: now, Error: domain.PublicMessage(o.err)}
			continue
		}
		report.Succeeded = append(report.Succeeded, o.name)
		r.agents[o.name] = o.agent
		r.health[o.name] = &domain.AgentHealth{AgentName: o.name, Healthy: true, LastCheck: now}
		r.breakers[o.name] = r.newBreaker(o.name)
	}
	r.mu.Unlock()
	sort.Strings(report.Succeeded)

	r.metrics.SetGauge("agents_initialized", float64(len(report.Succeeded)), map[string]string{"status": "succeeded"})
	r.metrics.SetGauge("agents_initialized", float64(len(report.Failed)), map[string]string{"status": "failed"})
	for _, name := range report.Succeeded {
		r.metrics.IncrementCounter("agent_init", map[string]string{"agent": name, "status": "succeeded"})
	}
	for name := range report.Failed {
		r.metrics.IncrementCounter("agent_init", map[string]string{"agent": name, "status": "failed"})
	}

	r.logger.Info("agents initialized",
		zap.Int("succeeded", len(report.Succeeded)),
		zap.Int("failed", len(report.Failed)))
	return report, nil
}

func (r *Registry) initOne(ctx context.Context, cfg AgentConfig) (out initOutcome) {
	out.name = cfg.Name
	log := r.logger.With(zap.String("agent", cfg.Name))

	defer func() {
		if p := recover(); p != nil {
			out.agent = nil
			out.err = domain.NewError(domain.KindInternal, "registry.init", fmt.Sprintf("panic: %v", p), nil)
			log.Error("agent init panicked", zap.Any("panic", p))
		}
	}()

	r.mu.RLock()
	factory, ok := r.factories[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		out.err = domain.ConfigurationError("registry.init", "no factory registered for agent %q", cfg.Name)
		log.Error("agent init failed", zap.Error(out.err))
		return out
	}

	agent, err := factory(ctx, cfg)
	if err != nil {
		out.err = fmt.Errorf("construct %s: %w", cfg.Name, err)
		log.Error("agent init failed", zap.Error(err))
		return out
	}

	// Самопроверка: агент должен ответить на синтетическую задачу
	if err := r.probe(ctx, agent); err != nil {
		out.err = fmt.Errorf("self-test %s: %w", cfg.Name, err)
		log.Error("agent self-test failed", zap.Error(err))
		return out
	}

	out.agent = agent
	log.Info("agent ready")
	return out
}

func (r *Registry) newBreaker(name string) *resilience.Breaker {
	r.metrics.CircuitBreakerState.WithLabelValues(name).Set(0)
	return resilience.NewBreaker(resilience.BreakerSettings{
		Name:             name,
		FailureThreshold: r.cfg.BreakerFailureThreshold,
		Timeout:          r.cfg.BreakerTimeout,
		OnStateChange: func(name string, from, to resilience.State) {
			r.metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerGauge(to))
			r.logger.Warn("circuit breaker state changed",
				zap.String("agent", name),
				zap.String("from", string(from)),
				zap.String("to", string(to)))
		},
	})
}

func breakerGauge(s resilience.State) float64 {
	switch s {
	case resilience.StateOpen:
		return 1
	case resilience.StateHalfOpen:
		return 0.5
	default:
		return 0
	}
}

// GetAgent отдает агента только если он здоров. Нездоровый - как будто его нет.
func (r *Registry) GetAgent(name string) (Agent, bool) {
	r.mu.RLock()
	agent, ok := r.agents[name]
	h := r.health[name]
	r.mu.RUnlock()

	if !ok {
		return nil, false
	}
	if h == nil || !h.Healthy {
		r.logger.Warn("agent is registered but unhealthy", zap.String("agent", name))
		return nil, false
	}
	return agent, true
}

func (r *Registry) breaker(name string) *resilience.Breaker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.breakers[name]
}

// ExecuteAgentTask — защищенный вызов агента.
// Ошибка возвращается только если агента нет; все прочие сбои - неуспешный AgentResult.
func (r *Registry) ExecuteAgentTask(ctx context.Context, name string, task domain.Task) (domain.AgentResult, error) {
	agent, ok := r.GetAgent(name)
	if !ok {
		return domain.AgentResult{}, domain.AgentExecutionError("registry.execute", nil, "agent %s not found", name)
	}
	log := r.logger.With(
		zap.String("agent", name),
		zap.String("task_type", task.Type),
		zap.String("session_id", task.SessionID),
		zap.String("step_id", task.StepID))

	cb := r.breaker(name)
	if cb.State() == resilience.StateOpen {
		log.Warn("circuit open, skipping agent call")
		r.recordTask(name, task.Type, "circuit_open", 0)
		r.metrics.ErrorTotal.WithLabelValues(name, string(domain.KindCircuitOpen)).Inc()
		return domain.FailedResult(name, domain.KindCircuitOpen, domain.PublicMessageFor(domain.KindCircuitOpen)), nil
	}

	start := r.now()
	var result domain.AgentResult
	err := cb.Call(func() error {
		res, err := agent.Execute(ctx, task)
		if err != nil {
			return err
		}
		result = res
		return res.Err()
	})
	elapsed := time.Since(start)

	if err != nil {
		res := r.handleError(log, name, err)
		res.Duration = elapsed
		r.touchHealth(name, res.Error)
		r.recordTask(name, task.Type, "failed", elapsed)
		return res, nil
	}

	result.Agent = name
	result.Success = true
	result.Duration = elapsed
	r.touchHealth(name, "")
	r.recordTask(name, task.Type, "succeeded", elapsed)
	return result, nil
}

// handleError - центральный обработчик: полные детали в лог, наружу только санитизированный текст
func (r *Registry) handleError(log *zap.Logger, agent string, err error) domain.AgentResult {
	kind := domain.KindOf(err)
	r.metrics.ErrorTotal.WithLabelValues(agent, string(kind)).Inc()
	if kind == domain.KindCircuitOpen {
		log.Warn("agent call rejected by circuit breaker")
	} else {
		log.Error("agent task failed", zap.String("kind", string(kind)), zap.Error(err))
	}
	res := domain.FailedResult(agent, kind, domain.PublicMessageFor(kind))
	res.RetryAfter = domain.RetryAfterOf(err)
	return res
}

func (r *Registry) recordTask(agent, taskType, status string, d time.Duration) {
	r.metrics.TaskTotal.WithLabelValues(agent, taskType, status).Inc()
	if d > 0 {
		r.metrics.TaskDuration.WithLabelValues(agent, status).Observe(d.Seconds())
	}
}

// touchHealth отмечает время последнего контакта. Healthy меняют только init и health-check.
func (r *Registry) touchHealth(name, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.health[name]; ok {
		h.LastCheck = r.now()
		h.Error = errMsg
	}
}

// GetAgentStatus — снимок агентов вместе с предохранителями, отсортирован по имени
func (r *Registry) GetAgentStatus() []AgentStatus {
	r.mu.RLock()
	out := make([]AgentStatus, 0, len(r.health))
	for name, h := range r.health {
		st := AgentStatus{Name: name, Health: *h}
		if a, ok := r.agents[name]; ok {
			st.Description = a.Description()
		}
		if cb, ok := r.breakers[name]; ok {
			st.Breaker = cb.Snapshot()
		}
		out = append(out, st)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// GetAgentHealth - копия записей здоровья, включая агентов, не прошедших init
func (r *Registry) GetAgentHealth() map[string]domain.AgentHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]domain.AgentHealth, len(r.health))
	for name, h := range r.health {
		out[name] = *h
	}
	return out
}
