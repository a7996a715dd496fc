package events

import (
	"time"

	"github.com/google/uuid"
)

// Event represents the base event structure with common fields
type Event struct {
	CorrelationID string    `json:"correlation_id"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewEvent creates a new base event with generated correlation ID
func NewEvent() Event {
	return Event{
		CorrelationID: uuid.New().String(),
		Timestamp:     time.Now(),
	}
}

// CombinationSampled is published when a worker draws an uncovered combination.
type CombinationSampled struct {
	Event
	RunID  string   `json:"run_id"`
	APIs   []string `json:"apis"`
	Worker int      `json:"worker"`
}

// TaskGenerated is published when a task was produced for a combination.
type TaskGenerated struct {
	Event
	RunID string   `json:"run_id"`
	APIs  []string `json:"apis"`
	Task  string   `json:"task"`
}

// CodeGenerated is published when candidate code was produced for a task.
type CodeGenerated struct {
	Event
	RunID string   `json:"run_id"`
	APIs  []string `json:"apis"`
	Code  string   `json:"code"`
}

// CombinationUsed is published once a generation for the combination was
// recorded. Subscribers mark the combination covered.
type CombinationUsed struct {
	Event
	RunID    string   `json:"run_id"`
	APIs     []string `json:"apis"`
	RecordID string   `json:"record_id"`
}

// GenerationFailed is published when a combination could not be used. The
// combination stays uncovered.
type GenerationFailed struct {
	Event
	RunID     string   `json:"run_id"`
	APIs      []string `json:"apis"`
	Error     string   `json:"error"`
	Retryable bool     `json:"retryable"`
}

// Event topics constants
const (
	TopicCombinationSampled = "combination.sampled"
	TopicTaskGenerated      = "task.generated"
	TopicCodeGenerated      = "code.generated"
	TopicCombinationUsed    = "combination.used"
	TopicGenerationFailed   = "generation.failed"
)

// Topics lists every topic published by the pipeline.
func Topics() []string {
	return []string{
		TopicCombinationSampled,
		TopicTaskGenerated,
		TopicCodeGenerated,
		TopicCombinationUsed,
		TopicGenerationFailed,
	}
}
