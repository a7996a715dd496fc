package mocks

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"lcmeval/internal/agents"
	"lcmeval/internal/llm"
)

func TestMockLLMProvider_QueueThenResponder(t *testing.T) {
	provider := NewMockLLMProvider()
	provider.QueueResponse("first").QueueError(errors.New("second fails"))
	provider.SetResponder(func(req llm.Request) (*llm.Completion, error) {
		return Completion("echo: " + req.Prompt), nil
	})

	ctx := context.Background()
	completion, err := provider.Complete(ctx, llm.Request{Prompt: "a"})
	require.NoError(t, err)
	assert.Equal(t, "first", completion.Content)

	_, err = provider.Complete(ctx, llm.Request{Prompt: "b"})
	assert.EqualError(t, err, "second fails")

	completion, err = provider.Complete(ctx, llm.Request{Prompt: "c"})
	require.NoError(t, err)
	assert.Equal(t, "echo: c", completion.Content)

	assert.Len(t, provider.GetCompleteCalls(), 3)

	provider.Reset()
	_, err = provider.Complete(ctx, llm.Request{})
	assert.Error(t, err)
}

func TestMockLLMProvider_CancelledContext(t *testing.T) {
	provider := CreateEchoScenario()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := provider.Complete(ctx, llm.Request{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMockProvider_Gomock(t *testing.T) {
	ctrl := gomock.NewController(t)
	provider := NewMockProvider(ctrl)

	provider.EXPECT().ValidateConnection(gomock.Any()).Return(nil)
	provider.EXPECT().GetModelInfo().Return(llm.ModelInfo{Name: "m"})

	var p llm.Provider = provider
	assert.NoError(t, p.ValidateConnection(context.Background()))
	assert.Equal(t, "m", p.GetModelInfo().Name)
}

func TestMockGenerator(t *testing.T) {
	generator := &MockGenerator{}
	generator.On("Generate", mock.Anything, []string{"numpy.add"}, mock.Anything).
		Return(agents.Result{Task: "t", Code: "c"}, nil)

	result, err := generator.Generate(context.Background(), []string{"numpy.add"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "t", result.Task)
	generator.AssertExpectations(t)
}

func TestCreateAPIErrorScenario(t *testing.T) {
	provider := CreateAPIErrorScenario()

	_, err := provider.Complete(context.Background(), llm.Request{Prompt: "p"})
	var apiErr llm.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 500, apiErr.StatusCode)
	assert.True(t, llm.IsRetryable(err))
}
