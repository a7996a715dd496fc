package events

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Monitor counts pipeline events per topic.
type Monitor struct {
	eventBus     EventBus
	logger       *zap.Logger
	mu           sync.RWMutex
	counts       map[string]int64
	lastActivity time.Time
	handlers     map[string]func(interface{})
	isStarted    bool
}

// NewMonitor creates a Monitor for the pipeline topics.
func NewMonitor(eventBus EventBus, logger *zap.Logger) *Monitor {
	return &Monitor{
		eventBus: eventBus,
		logger:   logger,
		counts:   make(map[string]int64),
		handlers: make(map[string]func(interface{})),
	}
}

// Start subscribes to every pipeline topic.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isStarted {
		return fmt.Errorf("monitor is already started")
	}

	for _, topic := range Topics() {
		topic := topic
		handler := func(interface{}) { m.record(topic) }
		if err := m.eventBus.Subscribe(topic, handler); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
		m.handlers[topic] = handler
	}

	m.isStarted = true
	m.logger.Info("Started event monitor")
	return nil
}

// Stop unsubscribes from every topic.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.isStarted {
		return fmt.Errorf("monitor is not started")
	}

	for topic, handler := range m.handlers {
		if err := m.eventBus.Unsubscribe(topic, handler); err != nil {
			m.logger.Warn("Failed to unsubscribe monitor", zap.String("topic", topic), zap.Error(err))
		}
	}
	m.handlers = make(map[string]func(interface{}))
	m.isStarted = false
	m.logger.Info("Stopped event monitor")
	return nil
}

func (m *Monitor) record(topic string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[topic]++
	m.lastActivity = time.Now()
}

// Counts returns a copy of the per-topic event counts.
func (m *Monitor) Counts() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[string]int64, len(m.counts))
	for topic, count := range m.counts {
		counts[topic] = count
	}
	return counts
}

// HealthStatus summarizes event flow. The status degrades as the share of
// failed generations grows.
func (m *Monitor) HealthStatus() map[string]interface{} {
	counts := m.Counts()

	m.mu.RLock()
	active := m.isStarted
	last := m.lastActivity
	m.mu.RUnlock()

	status := map[string]interface{}{
		"status":         "healthy",
		"monitor_active": active,
		"counts":         counts,
	}
	if !last.IsZero() {
		status["last_activity"] = last.UTC().Format(time.RFC3339)
	}

	finished := counts[TopicCombinationUsed] + counts[TopicGenerationFailed]
	if finished > 0 {
		failureRate := float64(counts[TopicGenerationFailed]) / float64(finished)
		if failureRate > 0.1 {
			status["status"] = "degraded"
		}
		if failureRate > 0.3 {
			status["status"] = "unhealthy"
		}
		status["failure_rate"] = failureRate
	}

	return status
}
