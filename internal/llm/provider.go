package llm

import (
	"context"
)

// Provider defines the interface for chat completion backends
type Provider interface {
	// Complete sends req and returns the first choice.
	// ctx: context for timeout and cancellation control
	Complete(ctx context.Context, req Request) (*Completion, error)

	// ValidateConnection checks if the LLM provider is reachable and healthy
	ValidateConnection(ctx context.Context) error

	// GetModelInfo returns metadata about the LLM model being used
	GetModelInfo() ModelInfo
}
