package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"lcmeval/internal/agents"
	"lcmeval/internal/catalog"
)

// MockGenerator is a testify mock of the pipeline Generator interface.
type MockGenerator struct {
	mock.Mock
}

// Generate implements the Generator interface
func (m *MockGenerator) Generate(ctx context.Context, names []string, details map[string]catalog.APIEntry) (agents.Result, error) {
	args := m.Called(ctx, names, details)
	return args.Get(0).(agents.Result), args.Error(1)
}
