package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsSink - минимальный контракт метрик, который нужен движку
type MetricsSink interface {
	IncrementCounter(name string, tags map[string]string)
	SetGauge(name string, value float64, tags map[string]string)
}

// Фиксированный набор меток для generic-событий. Лишние теги отбрасываются.
var eventLabels = []string{"event", "agent", "step", "status"}

type Metrics struct {
	// Latency: сколько заняла задача агента
	TaskDuration *prometheus.HistogramVec

	// Traffic: все задачи агентов
	TaskTotal *prometheus.CounterVec

	// Errors: классификация отказов по ErrorKind
	ErrorTotal *prometheus.CounterVec

	// Saturation: состояние Circuit Breaker (0 - closed, 1 - open, 0.5 - half_open)
	CircuitBreakerState *prometheus.GaugeVec

	// Archive: заполненность буфера архиватора сессий (backpressure)
	ArchiveBufferFill prometheus.Gauge

	events *prometheus.CounterVec
	gauges *prometheus.GaugeVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - если рег не передан, используем локальный, никуда не подключенный
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		TaskDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "applyflow_agent_task_duration_seconds",
			Help:    "Histogram of agent task latencies.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"agent", "status"}),

		TaskTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "applyflow_agent_tasks_total",
			Help: "Total number of agent tasks by outcome.",
		}, []string{"agent", "task_type", "status"}),

		ErrorTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "applyflow_errors_total",
			Help: "Total number of errors by kind.",
		}, []string{"agent", "kind"}),

		CircuitBreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "applyflow_circuit_breaker_state",
			Help: "Current state of the agent circuit breaker (0=closed, 0.5=half_open, 1=open).",
		}, []string{"agent"}),

		ArchiveBufferFill: f.NewGauge(prometheus.GaugeOpts{
			Name: "applyflow_session_archive_buffer",
			Help: "Current number of sessions waiting in the archive buffer.",
		}),

		events: f.NewCounterVec(prometheus.CounterOpts{
			Name: "applyflow_events_total",
			Help: "Generic engine events (init, health checks, sessions, pipeline steps).",
		}, eventLabels),

		gauges: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "applyflow_gauge",
			Help: "Generic engine gauges.",
		}, eventLabels),
	}
}

func (m *Metrics) IncrementCounter(name string, tags map[string]string) {
	m.events.With(labelsFor(name, tags)).Inc()
}

func (m *Metrics) SetGauge(name string, value float64, tags map[string]string) {
	m.gauges.With(labelsFor(name, tags)).Set(value)
}

func labelsFor(name string, tags map[string]string) prometheus.Labels {
	l := prometheus.Labels{"event": name}
	for _, k := range eventLabels[1:] {
		l[k] = tags[k]
	}
	return l
}
