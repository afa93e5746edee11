package service

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/xela07ax/applyflow/internal/domain"
	"github.com/xela07ax/applyflow/internal/engine"
)

// AgentRegistry - то, что консоль читает из реестра агентов
type AgentRegistry interface {
	GetAgentStatus() []engine.AgentStatus
	GetAgentHealth() map[string]domain.AgentHealth
	TestAgents(ctx context.Context) map[string]domain.HealthReport
}

type AgentService struct {
	registry AgentRegistry
	logger   *zap.Logger
}

func NewAgentService(r AgentRegistry, logger *zap.Logger) *AgentService {
	return &AgentService{registry: r, logger: logger.Named("agent-service")}
}

func (s *AgentService) List() []engine.AgentStatus {
	out := s.registry.GetAgentStatus()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *AgentService) Health() map[string]domain.AgentHealth {
	return s.registry.GetAgentHealth()
}

// RunHealthChecks — ручной прогон health-check по всем агентам
func (s *AgentService) RunHealthChecks(ctx context.Context, actor string) map[string]domain.HealthReport {
	reports := s.registry.TestAgents(ctx)
	failed := 0
	for _, rep := range reports {
		if !rep.Passed {
			failed++
		}
	}
	s.logger.Info("manual health check",
		zap.String("actor", actor),
		zap.Int("agents", len(reports)),
		zap.Int("failed", failed))
	return reports
}
