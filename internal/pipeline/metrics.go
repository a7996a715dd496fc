package pipeline

import (
	"sync"
	"time"

	"lcmeval/internal/llm"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks generation throughput, worker activity and coverage.
// Every update is mirrored into Prometheus collectors.
type Metrics struct {
	mu                sync.RWMutex
	Attempts          int64
	Successes         int64
	Failures          int64
	AverageDuration   time.Duration
	LastActivity      time.Time
	WorkerUtilization map[int]float64
	Coverage          float64
	Usage             llm.Usage
	totalDuration     time.Duration
	finished          int64

	attemptsTotal    prometheus.Counter
	generationsTotal *prometheus.CounterVec
	duration         *prometheus.HistogramVec
	coverageRatio    prometheus.Gauge
	activeWorkers    prometheus.Gauge
	tokensTotal      *prometheus.CounterVec
}

// MetricsSummary is a JSON view of Metrics
type MetricsSummary struct {
	Attempts          int64           `json:"attempts"`
	Successes         int64           `json:"successes"`
	Failures          int64           `json:"failures"`
	AverageDuration   string          `json:"average_duration"`
	LastActivity      time.Time       `json:"last_activity"`
	WorkerUtilization map[int]float64 `json:"worker_utilization"`
	Coverage          float64         `json:"coverage_ratio"`
	ErrorRate         float64         `json:"error_rate_percentage"`
	Usage             llm.Usage       `json:"usage"`
}

// HealthStatus represents the health of the pipeline
type HealthStatus struct {
	IsHealthy    bool      `json:"is_healthy"`
	LastActivity time.Time `json:"last_activity"`
	Failures     int64     `json:"failures"`
	ErrorRate    float64   `json:"error_rate"`
}

// NewMetrics creates metrics whose collectors are registered on reg. A nil
// reg leaves the collectors unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		WorkerUtilization: make(map[int]float64),
		attemptsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "lcmeval",
			Subsystem: "pipeline",
			Name:      "attempts_total",
			Help:      "Combinations handed to the generator",
		}),
		generationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lcmeval",
			Subsystem: "pipeline",
			Name:      "generations_total",
			Help:      "Finished generations by status",
		}, []string{"status"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lcmeval",
			Subsystem: "pipeline",
			Name:      "generation_duration_seconds",
			Help:      "Time to generate and persist one combination",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
		}, []string{"status"}),
		coverageRatio: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "lcmeval",
			Subsystem: "coverage",
			Name:      "ratio",
			Help:      "Covered combinations over the universe",
		}),
		activeWorkers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "lcmeval",
			Subsystem: "pipeline",
			Name:      "active_workers",
			Help:      "Workers currently generating",
		}),
		tokensTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lcmeval",
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Tokens consumed by kind",
		}, []string{"kind"}),
	}
}

// RecordAttempt counts a combination handed to the generator
func (m *Metrics) RecordAttempt() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Attempts++
	m.LastActivity = time.Now()
	m.attemptsTotal.Inc()
}

// RecordSuccess records a generation that was persisted
func (m *Metrics) RecordSuccess(duration time.Duration) {
	m.recordFinished("succeeded", duration)
}

// RecordFailure records a generation that failed or panicked
func (m *Metrics) RecordFailure(duration time.Duration) {
	m.recordFinished("failed", duration)
}

func (m *Metrics) recordFinished(status string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if status == "succeeded" {
		m.Successes++
	} else {
		m.Failures++
	}
	m.LastActivity = time.Now()
	m.totalDuration += duration
	m.finished++
	m.AverageDuration = m.totalDuration / time.Duration(m.finished)

	m.generationsTotal.WithLabelValues(status).Inc()
	m.duration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordUsage adds token usage of one generation
func (m *Metrics) RecordUsage(usage llm.Usage) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Usage = m.Usage.Add(usage)
	m.tokensTotal.WithLabelValues("prompt").Add(float64(usage.PromptTokens))
	m.tokensTotal.WithLabelValues("completion").Add(float64(usage.CompletionTokens))
}

// RecordWorkerActivity updates worker utilization
func (m *Metrics) RecordWorkerActivity(workerID int, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	wasActive := m.WorkerUtilization[workerID] == 1.0
	switch {
	case active && !wasActive:
		m.activeWorkers.Inc()
	case !active && wasActive:
		m.activeWorkers.Dec()
	}

	if active {
		m.WorkerUtilization[workerID] = 1.0
	} else {
		m.WorkerUtilization[workerID] = 0.0
	}
}

// SetCoverage publishes the current coverage ratio
func (m *Metrics) SetCoverage(ratio float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Coverage = ratio
	m.coverageRatio.Set(ratio)
}

// IsHealthy reports whether fewer than half of the finished generations failed
func (m *Metrics) IsHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.errorRate() < 0.5
}

// GetHealthStatus returns detailed health information
func (m *Metrics) GetHealthStatus() HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	errorRate := m.errorRate()
	return HealthStatus{
		IsHealthy:    errorRate < 0.5,
		LastActivity: m.LastActivity,
		Failures:     m.Failures,
		ErrorRate:    errorRate,
	}
}

// GetMetricsSummary returns a snapshot of all metrics
func (m *Metrics) GetMetricsSummary() MetricsSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	utilization := make(map[int]float64, len(m.WorkerUtilization))
	for id, v := range m.WorkerUtilization {
		utilization[id] = v
	}

	return MetricsSummary{
		Attempts:          m.Attempts,
		Successes:         m.Successes,
		Failures:          m.Failures,
		AverageDuration:   m.AverageDuration.String(),
		LastActivity:      m.LastActivity,
		WorkerUtilization: utilization,
		Coverage:          m.Coverage,
		ErrorRate:         m.errorRate() * 100,
		Usage:             m.Usage,
	}
}

func (m *Metrics) errorRate() float64 {
	total := m.Successes + m.Failures
	if total == 0 {
		return 0.0
	}
	return float64(m.Failures) / float64(total)
}
