package llm

import (
	"fmt"
	"time"
)

// Request is a single-turn chat completion request: one system message and
// one user message.
type Request struct {
	System      string  `json:"system"`
	Prompt      string  `json:"prompt"`
	Temperature float32 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// Completion is the first choice of a chat completion response.
type Completion struct {
	ID           string    `json:"id" yaml:"id"`
	Model        string    `json:"model" yaml:"model"`
	Content      string    `json:"content" yaml:"content"`
	FinishReason string    `json:"finish_reason" yaml:"finish_reason"`
	Usage        Usage     `json:"usage" yaml:"usage"`
	Created      time.Time `json:"created" yaml:"created"`
}

// Usage counts tokens consumed by one or more completions.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens" yaml:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens" yaml:"completion_tokens"`
	TotalTokens      int `json:"total_tokens" yaml:"total_tokens"`
}

// Add returns the sum of u and other.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
		TotalTokens:      u.TotalTokens + other.TotalTokens,
	}
}

func (u Usage) String() string {
	return fmt.Sprintf("input_toks: %d, output_toks: %d, total_toks: %d",
		u.PromptTokens, u.CompletionTokens, u.TotalTokens)
}

// ModelInfo contains metadata about the LLM model
type ModelInfo struct {
	Name      string `json:"name"`
	Provider  string `json:"provider"`
	BaseURL   string `json:"base_url"`
	MaxTokens int    `json:"max_tokens"`
}
