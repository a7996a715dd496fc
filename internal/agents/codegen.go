package agents

import (
	"context"

	"lcmeval/internal/config"
	"lcmeval/internal/llm"
)

// CodeGenerator asks the model for code solving a task.
type CodeGenerator struct {
	*agent
}

func NewCodeGenerator(provider llm.Provider, cfg config.AgentsConfig, opts Options) *CodeGenerator {
	return &CodeGenerator{agent: newAgent(SlotCodeGen, provider, cfg, opts)}
}

func (g *CodeGenerator) BuildPrompt(task string) (string, error) {
	data := newPromptData(g.library)
	data.Task = task
	return render("code", data)
}

// Generate returns the code between <code> tags of the response, which is
// empty when the model did not tag any.
func (g *CodeGenerator) Generate(ctx context.Context, task string) (string, error) {
	conv, err := g.generate(ctx, task)
	if err != nil {
		return "", err
	}
	return conv.Output, nil
}

func (g *CodeGenerator) generate(ctx context.Context, task string) (Conversation, error) {
	prompt, err := g.BuildPrompt(task)
	if err != nil {
		return Conversation{}, err
	}

	response, usage, err := g.query(ctx, prompt)
	if err != nil {
		return Conversation{Prompt: prompt, Usage: usage}, err
	}

	think, answer := SplitThink(response)
	conv := Conversation{Prompt: prompt, Response: answer, Output: ExtractCode(answer), Think: think, Usage: usage}
	g.record(conv)
	return conv, nil
}
