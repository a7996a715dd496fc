package agents

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"lcmeval/internal/catalog"
	"lcmeval/internal/config"
)

// DefaultLibrary is the library named in prompts when none is configured.
const DefaultLibrary = "NumPy"

// DefaultSystemPrompt returns the system prompt shared by all agents.
func DefaultSystemPrompt(library string) string {
	return fmt.Sprintf("You are a %s expert and proficient in the usage of various APIs of %s.", library, library)
}

const explicitCriteria = `1. The task should be a problem that can be solved by calling these APIs.
2. Explicitly ask the user to use {{.Module}} to solve the problem with these APIs.
3. Only include the API names in the task description.
4. Do not include any code in the task description.
5. The task should be clear and concise.`

const implicitCriteria = `1. The task should be a problem that can be solved by calling these APIs.
2. Explicitly ask the user to use {{.Module}} to solve the problem.
3. Do not mention the APIs explicitly in the task description.
4. Do not include any code in the task description.
5. The task should be clear and concise.`

const taskTemplate = `You are given the following APIs of {{.Library}}:

{{.APIs}}

Your task is to generate a task that can be solved by calling these APIs.

Please follow the following rules:

{{.Criteria}}
`

const codeTemplate = `You are given a task description and you need to generate code to solve the task.

{{.Task}}

Please follow the following rules:
1. The code should be a valid Python code that can be executed by the user.
2. The code should use the given {{.Module}} APIs to solve the task.
3. The code should be surrounded by <code> and </code> tags.
4. The code should be clear and concise.`

const generatorTemplate = `
Your goal is to generate a problem based on <apis>. If there are feedback from your previous generations, you should reflect on them to improve your solution.

Output your answer concisely in the following format:

<thoughts>
[Your understanding of the task and feedback and how you plan to improve]
</thoughts>

<response>
[Your generated problem description here]
</response>

Given the following {{.Library}} APIs:
<apis>
{{.APIs}}
</apis>

Please follow the following criteria in your generation:
<criteria>
{{.Criteria}}
</criteria>`

const evaluatorTemplate = `
Evaluate the following problem description and determine if it meets the criteria of the original task.

{{.Problem}}

You should be evaluating only and not attemping to solve the problem.
Only output "PASS" if all criteria are met and you have no further suggestions for improvements.
Output your evaluation concisely in the following format.

<evaluation>PASS, NEEDS_IMPROVEMENT, or FAIL</evaluation>
<feedback>
What needs improvement and why.
</feedback>

Original task:
{{.Task}}
`

var templates = template.Must(template.New("prompts").Parse(""))

func init() {
	for name, text := range map[string]string{
		"explicit":  explicitCriteria,
		"implicit":  implicitCriteria,
		"task":      taskTemplate,
		"code":      codeTemplate,
		"generator": generatorTemplate,
		"evaluator": evaluatorTemplate,
	} {
		template.Must(templates.New(name).Parse(text))
	}
}

type promptData struct {
	Library  string
	Module   string
	APIs     string
	Criteria string
	Task     string
	Problem  string
}

func newPromptData(library string) promptData {
	if library == "" {
		library = DefaultLibrary
	}
	return promptData{Library: library, Module: strings.ToLower(library)}
}

func render(name string, data promptData) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to render %s prompt: %w", name, err)
	}
	return buf.String(), nil
}

// criteria renders the rule list for mode.
func criteria(mode string, data promptData) (string, error) {
	switch mode {
	case config.ModeExplicit, "":
		return render("explicit", data)
	case config.ModeImplicit:
		return render("implicit", data)
	default:
		return "", fmt.Errorf("unknown generation mode %q", mode)
	}
}

// FormatAPIs renders the selected APIs as the block embedded in prompts.
// Names without a detail record are listed with empty fields.
func FormatAPIs(names []string, details map[string]catalog.APIEntry) string {
	var b strings.Builder
	for _, name := range names {
		entry := details[name]
		fmt.Fprintf(&b, "- %s:\n  description: %s\n  parameters: %s\n", name, entry.Description, entry.Parameters)
	}
	return strings.TrimSpace(b.String())
}
