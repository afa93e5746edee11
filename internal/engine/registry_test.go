package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/applyflow/internal/domain"
	"github.com/xela07ax/applyflow/internal/resilience"
)

// fakeAgent - агент с управляемым поведением
type fakeAgent struct {
	name    string
	calls   atomic.Int32
	execute func(ctx context.Context, task domain.Task) (domain.AgentResult, error)
}

func (a *fakeAgent) Name() string        { return a.name }
func (a *fakeAgent) Description() string { return "fake " + a.name }
func (a *fakeAgent) Execute(ctx context.Context, task domain.Task) (domain.AgentResult, error) {
	if task.Type != domain.TaskHealthCheck {
		a.calls.Add(1)
	}
	if a.execute == nil {
		return domain.AgentResult{Success: true, Data: map[string]any{"echo": task.Type}}, nil
	}
	return a.execute(ctx, task)
}

func factoryFor(a *fakeAgent) AgentFactory {
	return func(context.Context, AgentConfig) (Agent, error) { return a, nil }
}

func newTestRegistry(t *testing.T, cfg RegistryConfig) *Registry {
	t.Helper()
	return NewRegistry(cfg, NewMetrics(prometheus.NewRegistry()), zap.NewNop())
}

func TestInitializeAgents_IsolatesFailures(t *testing.T) {
	r := newTestRegistry(t, RegistryConfig{HealthCheckTimeout: 200 * time.Millisecond})

	r.Register("ok_1", factoryFor(&fakeAgent{name: "ok_1"}))
	r.Register("ok_2", factoryFor(&fakeAgent{name: "ok_2"}))
	r.Register("ctor_fails", func(context.Context, AgentConfig) (Agent, error) {
		return nil, errors.New("missing api key")
	})
	r.Register("panics", func(context.Context, AgentConfig) (Agent, error) {
		panic("boom")
	})
	r.Register("selftest_fails", factoryFor(&fakeAgent{name: "selftest_fails", execute: func(context.Context, domain.Task) (domain.AgentResult, error) {
		return domain.AgentResult{}, domain.AgentExecutionError("probe", nil, "not responding")
	}}))
	r.Register("hangs", factoryFor(&fakeAgent{name: "hangs", execute: func(context.Context, domain.Task) (domain.AgentResult, error) {
		time.Sleep(time.Second) // игнорирует контекст
		return domain.AgentResult{Success: true}, nil
	}}))

	configs := []AgentConfig{
		{Name: "ok_1"}, {Name: "ok_2"}, {Name: "ctor_fails"}, {Name: "panics"},
		{Name: "selftest_fails"}, {Name: "hangs"}, {Name: "unregistered"},
	}
	start := time.Now()
	report, err := r.InitializeAgents(context.Background(), configs)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 900*time.Millisecond, "hanging agent must be abandoned by timeout")

	assert.Equal(t, []string{"ok_1", "ok_2"}, report.Succeeded)
	assert.Len(t, report.Failed, 5)

	for _, name := range []string{"ok_1", "ok_2"} {
		_, ok := r.GetAgent(name)
		assert.True(t, ok, name)
	}
	for name := range report.Failed {
		_, ok := r.GetAgent(name)
		assert.False(t, ok, name)
	}

	health := r.GetAgentHealth()
	assert.Len(t, health, 7)
	assert.False(t, health["hangs"].Healthy)
	assert.Equal(t, "operation timed out", health["hangs"].Error)
}

func TestInitializeAgents_NoConfigs(t *testing.T) {
	r := newTestRegistry(t, RegistryConfig{})
	_, err := r.InitializeAgents(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, domain.KindConfiguration, domain.KindOf(err))
}

func TestInitializeAgents_RejectsDuplicateNames(t *testing.T) {
	a := &fakeAgent{name: "resume_optimizer"}
	r := newTestRegistry(t, RegistryConfig{})
	r.Register(a.name, factoryFor(a))

	_, err := r.InitializeAgents(context.Background(), []AgentConfig{{Name: a.name}, {Name: a.name}})
	require.Error(t, err)
	assert.Equal(t, domain.KindConfiguration, domain.KindOf(err))
	assert.Empty(t, r.GetAgentHealth())
	_, ok := r.GetAgent(a.name)
	assert.False(t, ok)
}

func initRegistry(t *testing.T, cfg RegistryConfig, agents ...*fakeAgent) *Registry {
	t.Helper()
	r := newTestRegistry(t, cfg)
	configs := make([]AgentConfig, 0, len(agents))
	for _, a := range agents {
		r.Register(a.name, factoryFor(a))
		configs = append(configs, AgentConfig{Name: a.name})
	}
	report, err := r.InitializeAgents(context.Background(), configs)
	require.NoError(t, err)
	require.Len(t, report.Succeeded, len(agents))
	return r
}

func TestExecuteAgentTask_Success(t *testing.T) {
	a := &fakeAgent{name: "resume_optimizer"}
	r := initRegistry(t, RegistryConfig{}, a)

	res, err := r.ExecuteAgentTask(context.Background(), "resume_optimizer", domain.Task{Type: domain.TaskOptimizeResume})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "resume_optimizer", res.Agent)
	assert.Equal(t, domain.TaskOptimizeResume, res.Data["echo"])

	h := r.GetAgentHealth()["resume_optimizer"]
	assert.True(t, h.Healthy)
	assert.Empty(t, h.Error)
	assert.Equal(t, float64(1), testutil.ToFloat64(r.metrics.TaskTotal.WithLabelValues("resume_optimizer", domain.TaskOptimizeResume, "succeeded")))
}

func TestExecuteAgentTask_NotFound(t *testing.T) {
	r := initRegistry(t, RegistryConfig{}, &fakeAgent{name: "job_discovery"})
	_, err := r.ExecuteAgentTask(context.Background(), "nope", domain.Task{})
	require.Error(t, err)
	assert.Equal(t, domain.KindAgentExecution, domain.KindOf(err))
	assert.Contains(t, err.Error(), "not found")
}

func TestExecuteAgentTask_FailureIsSanitizedResult(t *testing.T) {
	a := &fakeAgent{name: "application_tracker"}
	r := initRegistry(t, RegistryConfig{}, a)
	a.execute = func(context.Context, domain.Task) (domain.AgentResult, error) {
		return domain.AgentResult{}, domain.AgentExecutionError("db", errors.New("dial tcp 10.0.0.5:5432: connection refused"), "insert failed")
	}

	res, err := r.ExecuteAgentTask(context.Background(), "application_tracker", domain.Task{Type: domain.TaskCreateApplication})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, domain.KindAgentExecution, res.ErrorKind)
	assert.Equal(t, "agent execution failed", res.Error)
	assert.NotContains(t, res.Error, "10.0.0.5")
}

func TestExecuteAgentTask_UnsuccessfulResultCountsAsFailure(t *testing.T) {
	a := &fakeAgent{name: "browser_automation"}
	r := initRegistry(t, RegistryConfig{BreakerFailureThreshold: 2, BreakerTimeout: time.Hour}, a)
	a.execute = func(context.Context, domain.Task) (domain.AgentResult, error) {
		return domain.AgentResult{Success: false, Error: "form rejected"}, nil
	}

	for i := 0; i < 2; i++ {
		res, err := r.ExecuteAgentTask(context.Background(), "browser_automation", domain.Task{Type: domain.TaskSubmitApplication})
		require.NoError(t, err)
		assert.False(t, res.Success)
	}
	assert.Equal(t, resilience.StateOpen, r.breaker("browser_automation").State())
}

func TestExecuteAgentTask_OpenCircuitIsGracefulResult(t *testing.T) {
	a := &fakeAgent{name: "cover_letter_generator"}
	r := initRegistry(t, RegistryConfig{BreakerFailureThreshold: 3, BreakerTimeout: time.Hour}, a)
	a.execute = func(context.Context, domain.Task) (domain.AgentResult, error) {
		return domain.AgentResult{}, domain.AgentExecutionError("llm", nil, "500")
	}

	for i := 0; i < 3; i++ {
		_, _ = r.ExecuteAgentTask(context.Background(), "cover_letter_generator", domain.Task{})
	}
	require.EqualValues(t, 3, a.calls.Load())

	res, err := r.ExecuteAgentTask(context.Background(), "cover_letter_generator", domain.Task{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, domain.KindCircuitOpen, res.ErrorKind)
	assert.Equal(t, "agent temporarily unavailable", res.Error)
	assert.EqualValues(t, 3, a.calls.Load(), "agent must not be touched while circuit is open")

	st := r.GetAgentStatus()
	require.Len(t, st, 1)
	assert.Equal(t, resilience.StateOpen, st[0].Breaker.State)
	assert.Equal(t, float64(1), testutil.ToFloat64(r.metrics.CircuitBreakerState.WithLabelValues("cover_letter_generator")))
}

func TestExecuteAgentTask_ValidationDoesNotTrip(t *testing.T) {
	a := &fakeAgent{name: "resume_optimizer"}
	r := initRegistry(t, RegistryConfig{BreakerFailureThreshold: 1, BreakerTimeout: time.Hour}, a)
	a.execute = func(context.Context, domain.Task) (domain.AgentResult, error) {
		return domain.AgentResult{}, domain.ValidationError("agent", "job missing")
	}

	for i := 0; i < 3; i++ {
		res, err := r.ExecuteAgentTask(context.Background(), "resume_optimizer", domain.Task{})
		require.NoError(t, err)
		assert.Equal(t, domain.KindValidation, res.ErrorKind)
	}
	assert.Equal(t, resilience.StateClosed, r.breaker("resume_optimizer").State())
}

func TestGetAgent_UnhealthyIsNotReturned(t *testing.T) {
	var failing atomic.Bool
	a := &fakeAgent{name: "job_discovery"}
	a.execute = func(context.Context, domain.Task) (domain.AgentResult, error) {
		if failing.Load() {
			return domain.AgentResult{}, domain.AgentExecutionError("probe", nil, "down")
		}
		return domain.AgentResult{Success: true}, nil
	}
	r := initRegistry(t, RegistryConfig{HealthCheckTimeout: time.Second}, a)

	failing.Store(true)
	reports := r.TestAgents(context.Background())
	require.False(t, reports["job_discovery"].Passed)

	_, ok := r.GetAgent("job_discovery")
	assert.False(t, ok)
	_, err := r.ExecuteAgentTask(context.Background(), "job_discovery", domain.Task{})
	assert.Error(t, err)

	// Агент поправился — следующий прогон возвращает его в строй
	failing.Store(false)
	reports = r.TestAgents(context.Background())
	require.True(t, reports["job_discovery"].Passed)
	_, ok = r.GetAgent("job_discovery")
	assert.True(t, ok)
}

func TestTestAgents_TimeoutIsFailure(t *testing.T) {
	var slow atomic.Bool
	a := &fakeAgent{name: "browser_automation"}
	a.execute = func(ctx context.Context, _ domain.Task) (domain.AgentResult, error) {
		if slow.Load() {
			<-ctx.Done()
			return domain.AgentResult{}, ctx.Err()
		}
		return domain.AgentResult{Success: true}, nil
	}
	fast := &fakeAgent{name: "job_discovery"}
	r := initRegistry(t, RegistryConfig{HealthCheckTimeout: 50 * time.Millisecond}, a, fast)

	slow.Store(true)
	reports := r.TestAgents(context.Background())
	require.Len(t, reports, 2)
	assert.False(t, reports["browser_automation"].Passed)
	assert.Equal(t, "operation timed out", reports["browser_automation"].Error)
	assert.GreaterOrEqual(t, reports["browser_automation"].Duration, 50*time.Millisecond)
	assert.True(t, reports["job_discovery"].Passed)
}

func TestStartHealthLoop_StopsOnCancel(t *testing.T) {
	r := initRegistry(t, RegistryConfig{}, &fakeAgent{name: "job_discovery"})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.StartHealthLoop(ctx, 10*time.Millisecond)
		close(done)
	}()
	time.Sleep(35 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("health loop did not stop")
	}
	assert.GreaterOrEqual(t, testutil.ToFloat64(r.metrics.events.WithLabelValues("health_check", "job_discovery", "", "passed")), float64(1))
}

func TestMetrics_GenericSinkDropsUnknownTags(t *testing.T) {
	m := NewMetrics(nil)
	m.IncrementCounter("session_started", map[string]string{"status": "running", "unknown": "x"})
	m.SetGauge("active_sessions", 3, nil)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.events.WithLabelValues("session_started", "", "", "running")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.gauges.WithLabelValues("active_sessions", "", "", "")))
}

func ExampleRegistry_ExecuteAgentTask() {
	r := NewRegistry(RegistryConfig{}, nil, zap.NewNop())
	r.Register("echo", factoryFor(&fakeAgent{name: "echo"}))
	_, _ = r.InitializeAgents(context.Background(), []AgentConfig{{Name: "echo"}})

	res, _ := r.ExecuteAgentTask(context.Background(), "echo", domain.Task{Type: "ping"})
	fmt.Println(res.Success, res.Data["echo"])
	// Output: true ping
}
