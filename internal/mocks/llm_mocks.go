package mocks

import (
	"context"
	"errors"
	"sync"

	"lcmeval/internal/llm"
)

// Responder computes a completion for a request.
type Responder func(req llm.Request) (*llm.Completion, error)

// MockLLMProvider provides a scripted implementation of the Provider
// interface. Queued responses are served first, then the responder.
type MockLLMProvider struct {
	mu                sync.Mutex
	queue             []scripted
	responder         Responder
	validateConnError error
	modelInfo         llm.ModelInfo
	completeCalls     []llm.Request
	validateConnCalls int
}

type scripted struct {
	completion *llm.Completion
	err        error
}

// NewMockLLMProvider creates a new mock LLM provider
func NewMockLLMProvider() *MockLLMProvider {
	return &MockLLMProvider{
		completeCalls: make([]llm.Request, 0),
		modelInfo: llm.ModelInfo{
			Name:      "mock-model",
			Provider:  "Mock",
			MaxTokens: 4096,
		},
	}
}

// Complete implements the Provider interface
func (m *MockLLMProvider) Complete(ctx context.Context, req llm.Request) (*llm.Completion, error) {
	m.mu.Lock()
	m.completeCalls = append(m.completeCalls, req)
	var next *scripted
	if len(m.queue) > 0 {
		next = &m.queue[0]
		m.queue = m.queue[1:]
	}
	responder := m.responder
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if next != nil {
		return next.completion, next.err
	}
	if responder != nil {
		return responder(req)
	}
	return nil, errors.New("mock provider: no scripted response")
}

// ValidateConnection implements the Provider interface
func (m *MockLLMProvider) ValidateConnection(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validateConnCalls++
	return m.validateConnError
}

// GetModelInfo implements the Provider interface
func (m *MockLLMProvider) GetModelInfo() llm.ModelInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.modelInfo
}

// Test helper methods

// QueueResponse appends a completion with content and a fixed usage.
func (m *MockLLMProvider) QueueResponse(content string) *MockLLMProvider {
	return m.QueueCompletion(Completion(content))
}

// QueueCompletion appends a completion to serve in order.
func (m *MockLLMProvider) QueueCompletion(completion *llm.Completion) *MockLLMProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, scripted{completion: completion})
	return m
}

// QueueError appends an error to serve in order.
func (m *MockLLMProvider) QueueError(err error) *MockLLMProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, scripted{err: err})
	return m
}

// SetResponder sets the fallback used once the queue is empty.
func (m *MockLLMProvider) SetResponder(responder Responder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responder = responder
}

// SetValidateConnectionError sets the error for ValidateConnection calls
func (m *MockLLMProvider) SetValidateConnectionError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validateConnError = err
}

// GetCompleteCalls returns all Complete calls made
func (m *MockLLMProvider) GetCompleteCalls() []llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]llm.Request, len(m.completeCalls))
	copy(out, m.completeCalls)
	return out
}

// GetValidateConnectionCallCount returns the number of ValidateConnection calls
func (m *MockLLMProvider) GetValidateConnectionCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.validateConnCalls
}

// Reset clears all call history and scripted responses
func (m *MockLLMProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = nil
	m.responder = nil
	m.completeCalls = make([]llm.Request, 0)
	m.validateConnCalls = 0
	m.validateConnError = nil
}

// Completion builds a completion with content and a small fixed usage.
func Completion(content string) *llm.Completion {
	return &llm.Completion{
		ID:           "mock-completion",
		Model:        "mock-model",
		Content:      content,
		FinishReason: "stop",
		Usage:        llm.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}
}

// Factory methods for common test scenarios

// CreateEchoScenario returns a provider answering every prompt with a
// task and a tagged code block.
func CreateEchoScenario() *MockLLMProvider {
	mock := NewMockLLMProvider()
	mock.SetResponder(func(req llm.Request) (*llm.Completion, error) {
		return Completion("<think>ok</think>Solve it with the given APIs.\n<code>\nimport numpy as np\n</code>"), nil
	})
	return mock
}

// CreateAPIErrorScenario creates a mock provider that simulates API errors
func CreateAPIErrorScenario() *MockLLMProvider {
	mock := NewMockLLMProvider()
	mock.SetResponder(func(req llm.Request) (*llm.Completion, error) {
		return nil, llm.NewAPIError(500, "server error")
	})
	return mock
}
