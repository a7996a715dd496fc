package agents

import (
	"context"

	"go.uber.org/zap"

	"lcmeval/internal/catalog"
	"lcmeval/internal/config"
	"lcmeval/internal/llm"
)

// TaskGenerator asks the model for a natural-language task that exercises
// a set of APIs.
type TaskGenerator struct {
	*agent
	mode string
}

// NewTaskGenerator creates a TaskGenerator for cfg.Mode.
func NewTaskGenerator(provider llm.Provider, cfg config.AgentsConfig, opts Options) (*TaskGenerator, error) {
	if _, err := criteria(cfg.Mode, newPromptData(cfg.Library)); err != nil {
		return nil, err
	}
	return &TaskGenerator{
		agent: newAgent(SlotTaskGen, provider, cfg, opts),
		mode:  cfg.Mode,
	}, nil
}

// BuildPrompt renders the task prompt for names.
func (g *TaskGenerator) BuildPrompt(names []string, details map[string]catalog.APIEntry) (string, error) {
	data := newPromptData(g.library)
	rules, err := criteria(g.mode, data)
	if err != nil {
		return "", err
	}
	data.APIs = FormatAPIs(names, details)
	data.Criteria = rules
	return render("task", data)
}

// Generate returns the task text with any reasoning preamble removed.
func (g *TaskGenerator) Generate(ctx context.Context, names []string, details map[string]catalog.APIEntry) (string, error) {
	conv, err := g.generate(ctx, names, details)
	if err != nil {
		return "", err
	}
	return conv.Output, nil
}

func (g *TaskGenerator) generate(ctx context.Context, names []string, details map[string]catalog.APIEntry) (Conversation, error) {
	prompt, err := g.BuildPrompt(names, details)
	if err != nil {
		return Conversation{}, err
	}

	response, usage, err := g.query(ctx, prompt)
	if err != nil {
		return Conversation{Prompt: prompt, Usage: usage}, err
	}

	think, task := SplitThink(response)
	if task == "" {
		return Conversation{Prompt: prompt, Response: response, Think: think, Usage: usage}, ErrEmptyContent
	}
	conv := Conversation{Prompt: prompt, Response: response, Output: task, Think: think, Usage: usage}
	g.record(conv)

	g.logger.Debug("Generated task", zap.Strings("apis", names), zap.Int("length", len(task)))
	return conv, nil
}
