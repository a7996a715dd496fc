package agents

import (
	"context"
	"fmt"

	"lcmeval/internal/catalog"
	"lcmeval/internal/config"
	"lcmeval/internal/llm"
)

// Result is everything one generation produced for a combination.
type Result struct {
	Task      string    `json:"task"`
	TaskThink string    `json:"task_think,omitempty"`
	Code      string    `json:"code"`
	CodeThink string    `json:"code_think,omitempty"`
	Rounds    []Round   `json:"rounds,omitempty"`
	Usage     llm.Usage `json:"usage"`
}

type taskSource interface {
	generate(ctx context.Context, names []string, details map[string]catalog.APIEntry) (Conversation, []Round, error)
}

type plainTaskSource struct {
	*TaskGenerator
}

func (s plainTaskSource) generate(ctx context.Context, names []string, details map[string]catalog.APIEntry) (Conversation, []Round, error) {
	conv, err := s.TaskGenerator.generate(ctx, names, details)
	return conv, nil, err
}

// Generator chains task generation and code generation. With
// UseEvaluator set, tasks come from a ProblemGenerator.
type Generator struct {
	tasks taskSource
	code  *CodeGenerator
}

func NewGenerator(provider llm.Provider, cfg config.AgentsConfig, opts Options) (*Generator, error) {
	if opts.Tracker == nil {
		opts.Tracker = llm.NewTokenTracker()
	}

	var tasks taskSource
	if cfg.UseEvaluator {
		probgen, err := NewProblemGenerator(provider, cfg, opts)
		if err != nil {
			return nil, err
		}
		tasks = probgen
	} else {
		taskgen, err := NewTaskGenerator(provider, cfg, opts)
		if err != nil {
			return nil, err
		}
		tasks = plainTaskSource{taskgen}
	}

	return &Generator{
		tasks: tasks,
		code:  NewCodeGenerator(provider, cfg, opts),
	}, nil
}

// Generate produces a task for names and code solving it. On failure the
// Result still carries the tokens spent before the failing step.
func (g *Generator) Generate(ctx context.Context, names []string, details map[string]catalog.APIEntry) (Result, error) {
	task, rounds, err := g.tasks.generate(ctx, names, details)
	if err != nil {
		return Result{Rounds: rounds, Usage: task.Usage}, fmt.Errorf("task generation: %w", err)
	}

	code, err := g.code.generate(ctx, task.Output)
	if err != nil {
		return Result{Task: task.Output, TaskThink: task.Think, Rounds: rounds, Usage: task.Usage.Add(code.Usage)},
			fmt.Errorf("code generation: %w", err)
	}

	return Result{
		Task:      task.Output,
		TaskThink: task.Think,
		Code:      code.Output,
		CodeThink: code.Think,
		Rounds:    rounds,
		Usage:     task.Usage.Add(code.Usage),
	}, nil
}
