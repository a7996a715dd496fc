package agents

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"lcmeval/internal/catalog"
	"lcmeval/internal/config"
	"lcmeval/internal/llm"
)

// Evaluation verdicts returned by the evaluator prompt.
const (
	VerdictPass             = "PASS"
	VerdictNeedsImprovement = "NEEDS_IMPROVEMENT"
	VerdictFail             = "FAIL"
)

// Round is one generate/evaluate iteration of a ProblemGenerator.
type Round struct {
	Thoughts string `json:"thoughts"`
	Problem  string `json:"problem"`
	Verdict  string `json:"verdict"`
	Feedback string `json:"feedback"`
}

// ProblemGenerator refines a problem description with an evaluator until
// the evaluator passes it or MaxRounds is reached.
type ProblemGenerator struct {
	*agent
	mode      string
	maxRounds int
}

func NewProblemGenerator(provider llm.Provider, cfg config.AgentsConfig, opts Options) (*ProblemGenerator, error) {
	if _, err := criteria(cfg.Mode, newPromptData(cfg.Library)); err != nil {
		return nil, err
	}
	if cfg.MaxRounds <= 0 {
		return nil, fmt.Errorf("max rounds must be positive, got %d", cfg.MaxRounds)
	}
	return &ProblemGenerator{
		agent:     newAgent(SlotProbGen, provider, cfg, opts),
		mode:      cfg.Mode,
		maxRounds: cfg.MaxRounds,
	}, nil
}

// BuildPrompt renders the generator prompt for names.
func (g *ProblemGenerator) BuildPrompt(names []string, details map[string]catalog.APIEntry) (string, error) {
	data := newPromptData(g.library)
	rules, err := criteria(g.mode, data)
	if err != nil {
		return "", err
	}
	data.APIs = FormatAPIs(names, details)
	data.Criteria = rules
	return render("generator", data)
}

// Generate returns the first problem description the evaluator passes.
func (g *ProblemGenerator) Generate(ctx context.Context, names []string, details map[string]catalog.APIEntry) (string, error) {
	conv, _, err := g.generate(ctx, names, details)
	if err != nil {
		return "", err
	}
	return conv.Output, nil
}

func (g *ProblemGenerator) generate(ctx context.Context, names []string, details map[string]catalog.APIEntry) (Conversation, []Round, error) {
	taskPrompt, err := g.BuildPrompt(names, details)
	if err != nil {
		return Conversation{}, nil, err
	}

	var (
		rounds          []Round
		attempts        []string
		usage           llm.Usage
		feedbackContext string
	)

	for round := 1; round <= g.maxRounds; round++ {
		prompt := taskPrompt
		if feedbackContext != "" {
			prompt = taskPrompt + "\n\n" + feedbackContext
		}

		response, genUsage, err := g.query(ctx, prompt)
		usage = usage.Add(genUsage)
		if err != nil {
			return Conversation{Usage: usage}, rounds, err
		}
		thoughts := ExtractTag(response, "thoughts")
		problem := ExtractTag(response, "response")
		attempts = append(attempts, problem)

		verdict, feedback, evalUsage, err := g.evaluate(ctx, prompt, problem)
		usage = usage.Add(evalUsage)
		if err != nil {
			return Conversation{Usage: usage}, rounds, err
		}

		rounds = append(rounds, Round{Thoughts: thoughts, Problem: problem, Verdict: verdict, Feedback: feedback})
		g.logger.Debug("Evaluated problem",
			zap.Int("round", round),
			zap.String("verdict", verdict))

		if verdict == VerdictPass && problem != "" {
			conv := Conversation{Prompt: prompt, Response: response, Output: problem, Think: thoughts, Usage: usage}
			g.record(conv)
			return conv, rounds, nil
		}

		lines := []string{"Previous attempts:"}
		for _, attempt := range attempts {
			lines = append(lines, "- "+attempt)
		}
		lines = append(lines, "\nFeedback: "+feedback)
		feedbackContext = strings.Join(lines, "\n")
	}

	return Conversation{Usage: usage}, rounds, fmt.Errorf("%w: %d rounds for %v", ErrMaxRounds, g.maxRounds, names)
}

func (g *ProblemGenerator) evaluate(ctx context.Context, task, problem string) (verdict, feedback string, usage llm.Usage, err error) {
	data := newPromptData(g.library)
	data.Task = task
	data.Problem = problem
	prompt, err := render("evaluator", data)
	if err != nil {
		return "", "", llm.Usage{}, err
	}

	response, usage, err := g.query(ctx, prompt)
	if err != nil {
		return "", "", usage, err
	}
	verdict = strings.ToUpper(ExtractTag(response, "evaluation"))
	return verdict, ExtractTag(response, "feedback"), usage, nil
}
