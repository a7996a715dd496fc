package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"lcmeval/internal/config"
	"lcmeval/internal/llm"
)

var (
	// ErrEmptyContent is returned when the model answers with no text.
	ErrEmptyContent = errors.New("the LLM did not return any content")
	// ErrMaxRounds is returned when the evaluator never passes a problem.
	ErrMaxRounds = errors.New("problem generation exceeded max rounds")
)

// Token usage slots, one per agent kind.
const (
	SlotTaskGen = "taskgen"
	SlotCodeGen = "codegen"
	SlotProbGen = "probgen"
)

// Conversation is one prompt/response exchange and what was extracted
// from it.
type Conversation struct {
	Prompt   string    `json:"prompt"`
	Response string    `json:"response"`
	Output   string    `json:"output"`
	Think    string    `json:"think,omitempty"`
	Usage    llm.Usage `json:"usage"`
}

// Options carries collaborators shared by every agent of a run.
type Options struct {
	Tracker *llm.TokenTracker
	Dumper  *CompletionDumper
	Logger  *zap.Logger
}

// CompletionDumper appends every completion of a run to one YAML file with
// a run-wide index.
type CompletionDumper struct {
	path  string
	mu    sync.Mutex
	index int
}

func NewCompletionDumper(path string) *CompletionDumper {
	return &CompletionDumper{path: path}
}

func (d *CompletionDumper) Dump(completion *llm.Completion) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := llm.DumpCompletion(d.path, completion, d.index); err != nil {
		return err
	}
	d.index++
	return nil
}

// agent holds what TaskGenerator, CodeGenerator and ProblemGenerator share.
type agent struct {
	slot     string
	provider llm.Provider
	system   string
	library  string
	tracker  *llm.TokenTracker
	dumper   *CompletionDumper
	logger   *zap.Logger

	mu      sync.Mutex
	history []Conversation
}

func newAgent(slot string, provider llm.Provider, cfg config.AgentsConfig, opts Options) *agent {
	library := cfg.Library
	if library == "" {
		library = DefaultLibrary
	}
	system := cfg.SystemPrompt
	if system == "" {
		system = DefaultSystemPrompt(library)
	}
	tracker := opts.Tracker
	if tracker == nil {
		tracker = llm.NewTokenTracker()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &agent{
		slot:     slot,
		provider: provider,
		system:   system,
		library:  library,
		tracker:  tracker,
		dumper:   opts.Dumper,
		logger:   logger.With(zap.String("agent", slot)),
	}
}

// query sends prompt and returns the non-empty, trimmed response content.
func (a *agent) query(ctx context.Context, prompt string) (string, llm.Usage, error) {
	completion, err := a.provider.Complete(ctx, llm.Request{System: a.system, Prompt: prompt})
	if err != nil {
		return "", llm.Usage{}, fmt.Errorf("%s query failed: %w", a.slot, err)
	}

	a.tracker.Add(a.slot, completion.Usage)
	if a.dumper != nil {
		if err := a.dumper.Dump(completion); err != nil {
			a.logger.Warn("Failed to dump completion", zap.Error(err))
		}
	}

	content := strings.TrimSpace(completion.Content)
	if content == "" {
		return "", completion.Usage, fmt.Errorf("%s: %w", a.slot, ErrEmptyContent)
	}
	return content, completion.Usage, nil
}

func (a *agent) record(conv Conversation) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = append(a.history, conv)
}

// History returns a copy of the recorded conversations in order.
func (a *agent) History() []Conversation {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Conversation, len(a.history))
	copy(out, a.history)
	return out
}

// Usage returns the tokens this agent's slot has consumed.
func (a *agent) Usage() llm.Usage {
	return a.tracker.BySlot(a.slot)
}
