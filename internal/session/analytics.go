package session

import (
	"strings"
	"time"

	"github.com/xela07ax/applyflow/internal/domain"
	"github.com/xela07ax/applyflow/internal/pipeline"
)

// Корзины отказов передач
const (
	BucketTransformation = "transformation"
	BucketValidation     = "validation"
	BucketTimeout        = "timeout"
	BucketAvailability   = "availability"
	BucketRateLimit      = "rate_limit"
	BucketOther          = "other"
)

// historyFor — снимок истории пользователя (пустой userID — все)
func (m *Manager) historyFor(userID string) []domain.AutomationSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.AutomationSession, 0, len(m.history))
	for _, s := range m.history {
		if userID == "" || s.UserID == userID {
			out = append(out, s.Clone())
		}
	}
	return out
}

// GetStepPerformanceMetrics агрегирует исходы шагов по всей истории пользователя.
// Attempts - только реально запущенные шаги (SUCCEEDED и FAILED).
func (m *Manager) GetStepPerformanceMetrics(userID string) []domain.StepPerformance {
	type acc struct {
		perf  domain.StepPerformance
		total time.Duration
	}
	byStep := make(map[string]*acc)
	for _, s := range m.historyFor(userID) {
		for _, item := range s.Results {
			for _, o := range item.Steps {
				a, ok := byStep[o.StepID]
				if !ok {
					a = &acc{perf: domain.StepPerformance{StepID: o.StepID}}
					byStep[o.StepID] = a
				}
				switch o.Status {
				case domain.StepSucceeded:
					a.perf.Succeeded++
				case domain.StepFailed:
					a.perf.Failed++
				case domain.StepSkipped:
					a.perf.Skipped++
					continue
				default:
					continue
				}
				a.perf.Attempts++
				a.total += o.Duration
			}
		}
	}

	out := make([]domain.StepPerformance, 0, len(byStep))
	emit := func(a *acc) {
		if a.perf.Attempts > 0 {
			a.perf.SuccessRate = float64(a.perf.Succeeded) / float64(a.perf.Attempts)
			a.perf.AvgDuration = a.total / time.Duration(a.perf.Attempts)
		}
		out = append(out, a.perf)
	}
	// Порядок шагов пайплайна, неизвестные шаги в конце
	for _, def := range pipeline.DefaultSteps() {
		if a, ok := byStep[def.ID]; ok {
			emit(a)
			delete(byStep, def.ID)
		}
	}
	for _, a := range byStep {
		emit(a)
	}
	return out
}

// GetHandoffAnalytics - сводка передач между агентами по истории пользователя
func (m *Manager) GetHandoffAnalytics(userID string) domain.HandoffAnalytics {
	history := m.historyFor(userID)
	out := domain.HandoffAnalytics{
		UserID:         userID,
		Sessions:       len(history),
		ByPair:         make(map[string]domain.HandoffStats),
		FailureBuckets: make(map[string]int),
	}
	var total time.Duration
	pairTotals := make(map[string]time.Duration)

	for _, s := range history {
		for _, item := range s.Results {
			for _, h := range item.Handoffs {
				out.Total++
				total += h.Duration

				p := out.ByPair[h.Pair()]
				p.Pair = h.Pair()
				p.Total++
				pairTotals[p.Pair] += h.Duration
				if h.Success {
					out.Succeeded++
					p.Succeeded++
				} else {
					out.FailureBuckets[FailureBucket(h.Error)]++
				}
				out.ByPair[p.Pair] = p
			}
		}
	}

	if out.Total > 0 {
		out.SuccessRate = float64(out.Succeeded) / float64(out.Total)
		out.AvgDuration = total / time.Duration(out.Total)
	}
	for pair, p := range out.ByPair {
		p.SuccessRate = float64(p.Succeeded) / float64(p.Total)
		p.AvgDuration = pairTotals[pair] / time.Duration(p.Total)
		out.ByPair[pair] = p
	}
	return out
}

// FailureBucket раскладывает текст ошибки по корзинам.
// Эвристика по подстрокам: текст уже очищен от внутренних деталей.
func FailureBucket(msg string) string {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "transformation"):
		return BucketTransformation
	case strings.Contains(m, "validation"), strings.Contains(m, "invalid"):
		return BucketValidation
	case strings.Contains(m, "timed out"), strings.Contains(m, "timeout"):
		return BucketTimeout
	case strings.Contains(m, "rate limit"):
		return BucketRateLimit
	case strings.Contains(m, "unavailable"), strings.Contains(m, "not available"), strings.Contains(m, "circuit"):
		return BucketAvailability
	default:
		return BucketOther
	}
}
