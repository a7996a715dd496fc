package llm

import (
	"context"
	"errors"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"lcmeval/internal/config"
)

// Environment variables read when the configuration leaves a field empty.
const (
	EnvAPIBase = "OPENAI_API_BASE"
	EnvAPIKey  = "OPENAI_API_KEY"
	EnvModel   = "MODEL_ID"
)

// OpenAIProvider implements Provider against any OpenAI-compatible
// chat completions endpoint.
type OpenAIProvider struct {
	config        config.LLMConfig
	logger        *zap.Logger
	client        *openai.Client
	retryInterval time.Duration
}

// NewOpenAIProvider creates a provider, filling empty connection settings
// from the environment.
func NewOpenAIProvider(cfg config.LLMConfig, logger *zap.Logger) (*OpenAIProvider, error) {
	if cfg.APIBase == "" {
		cfg.APIBase = os.Getenv(EnvAPIBase)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv(EnvAPIKey)
	}
	if cfg.Model == "" {
		cfg.Model = os.Getenv(EnvModel)
	}

	if cfg.APIKey == "" {
		return nil, NewConfigurationError("api_key", "set llm.api_key or "+EnvAPIKey)
	}
	if cfg.Model == "" {
		return nil, NewConfigurationError("model", "set llm.model or "+EnvModel)
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.APIBase != "" {
		clientConfig.BaseURL = cfg.APIBase
	}
	clientConfig.HTTPClient = &http.Client{
		Timeout: time.Duration(cfg.Timeout) * time.Second,
	}

	logger.Info("Initializing OpenAI-compatible provider",
		zap.String("model", cfg.Model),
		zap.String("base_url", clientConfig.BaseURL))

	return &OpenAIProvider{
		config:        cfg,
		logger:        logger,
		client:        openai.NewClientWithConfig(clientConfig),
		retryInterval: time.Second,
	}, nil
}

func (p *OpenAIProvider) newBackOff(ctx context.Context) backoff.BackOff {
	strategy := backoff.NewExponentialBackOff()
	strategy.InitialInterval = p.retryInterval
	strategy.MaxInterval = 30 * p.retryInterval
	strategy.MaxElapsedTime = 2 * time.Minute
	strategy.Multiplier = 2.0
	return backoff.WithContext(backoff.WithMaxRetries(strategy, uint64(p.config.MaxRetries)), ctx)
}

// Complete implements the Provider interface
func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (*Completion, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.config.MaxTokens
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = p.config.Temperature
	}
	// temperature is omitempty on the wire; send zero as the smallest float.
	if temperature == 0 {
		temperature = math.SmallestNonzeroFloat32
	}

	chatReq := openai.ChatCompletionRequest{
		Model: p.config.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		Temperature:         temperature,
		MaxCompletionTokens: maxTokens,
	}

	var completion *Completion
	operation := func() error {
		var err error
		completion, err = p.call(ctx, chatReq)
		if err != nil {
			if IsRetryable(err) {
				p.logger.Warn("Retryable error occurred, will retry", zap.Error(err))
				return err
			}
			return backoff.Permanent(err)
		}
		return nil
	}

	if err := backoff.Retry(operation, p.newBackOff(ctx)); err != nil {
		p.logger.Error("Completion failed after retries", zap.Error(err), zap.String("model", p.config.Model))
		return nil, err
	}
	return completion, nil
}

func (p *OpenAIProvider) call(ctx context.Context, chatReq openai.ChatCompletionRequest) (*Completion, error) {
	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, p.classify(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return nil, EmptyResponseError{Model: p.config.Model}
	}

	choice := resp.Choices[0]
	p.logger.Debug("Received completion",
		zap.String("finish_reason", string(choice.FinishReason)),
		zap.Int("total_tokens", resp.Usage.TotalTokens))

	return &Completion{
		ID:           resp.ID,
		Model:        resp.Model,
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		Created: time.Unix(resp.Created, 0).UTC(),
	}, nil
}

// classify maps client errors onto the LLMError family.
func (p *OpenAIProvider) classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests {
			return NewRateLimitError(apiErr.Message, 0)
		}
		classified := NewAPIError(apiErr.HTTPStatusCode, apiErr.Message)
		classified.Type = apiErr.Type
		return classified
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode == http.StatusTooManyRequests {
			return NewRateLimitError(reqErr.Error(), 0)
		}
		return NewAPIError(reqErr.HTTPStatusCode, reqErr.Error())
	}

	return NewNetworkError("chat completion", err)
}
