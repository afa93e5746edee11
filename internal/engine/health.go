package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xela07ax/applyflow/internal/domain"
)

type probeResult struct {
	res domain.AgentResult
	err error
}

// probe прогоняет синтетическую задачу с таймаутом.
// Если агент игнорирует контекст - бросаем его горутину и считаем это отказом, а не висим.
func (r *Registry) probe(ctx context.Context, agent Agent) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.HealthCheckTimeout)
	defer cancel()

	done := make(chan probeResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- probeResult{err: domain.NewError(domain.KindInternal, "registry.probe", fmt.Sprintf("panic: %v", p), nil)}
			}
		}()
		res, err := agent.Execute(ctx, domain.Task{Type: domain.TaskHealthCheck, StepID: "health"})
		done <- probeResult{res: res, err: err}
	}()

	select {
	case <-ctx.Done():
		return domain.TimeoutError("registry.probe", ctx.Err())
	case pr := <-done:
		if pr.err != nil {
			return pr.err
		}
		return pr.res.Err()
	}
}

// TestAgents прогоняет health-check по всем агентам параллельно и обновляет их здоровье.
func (r *Registry) TestAgents(ctx context.Context) map[string]domain.HealthReport {
	r.mu.RLock()
	agents := make([]Agent, 0, len(r.agents))
	for _, a := range r.agents {
		agents = append(agents, a)
	}
	r.mu.RUnlock()

	reports := make([]domain.HealthReport, len(agents))
	var g errgroup.Group
	for i, a := range agents {
		g.Go(func() error {
			start := time.Now()
			err := r.probe(ctx, a)
			rep := domain.HealthReport{AgentName: a.Name(), Passed: err == nil, Duration: time.Since(start)}
			if err != nil {
				rep.Error = domain.PublicMessage(err)
				r.logger.Warn("agent health check failed", zap.String("agent", a.Name()), zap.Error(err))
			}
			reports[i] = rep
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]domain.HealthReport, len(reports))
	now := r.now()
	r.mu.Lock()
	for _, rep := range reports {
		out[rep.AgentName] = rep
		h, ok := r.health[rep.AgentName]
		if !ok {
			h = &domain.AgentHealth{AgentName: rep.AgentName}
			r.health[rep.AgentName] = h
		}
		h.Healthy = rep.Passed
		h.LastCheck = now
		h.Error = rep.Error
	}
	r.mu.Unlock()

	passed := 0
	for _, rep := range reports {
		status := "failed"
		if rep.Passed {
			status = "passed"
			passed++
		}
		r.metrics.IncrementCounter("health_check", map[string]string{"agent": rep.AgentName, "status": status})
	}
	r.metrics.SetGauge("agents_healthy", float64(passed), nil)
	return out
}

// StartHealthLoop периодически перепроверяет агентов, чтобы упавшие могли вернуться в строй.
// Блокирует до отмены контекста.
func (r *Registry) StartHealthLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("health loop started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("health loop stopped")
			return
		case <-ticker.C:
			reports := r.TestAgents(ctx)
			failed := 0
			for _, rep := range reports {
				if !rep.Passed {
					failed++
				}
			}
			r.logger.Debug("periodic health check done", zap.Int("agents", len(reports)), zap.Int("failed", failed))
		}
	}
}
