package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/odvcencio/browserbridge/pkg/browser"
	"github.com/odvcencio/browserbridge/pkg/model"
)

// recentSteps bounds how much of the run is replayed to the model.
const recentSteps = 8

const systemPrompt = `You control a web browser to complete the user's task.

Each turn you receive the current page: its URL, title, visible text and a
numbered list of interactive elements like "[3] <a href="/x"> Label". You may
also receive a screenshot.

Reply with exactly one JSON object and nothing else:
{"thought": "<what you see and what you will do next>",
 "action": {"type": "<action>", ...}}

Actions:
- {"type":"navigate","url":"https://..."}
- {"type":"click","index":N}
- {"type":"type","index":N,"text":"...","submit":true|false}
- {"type":"scroll","direction":"down"|"up"}
- {"type":"back"}
- {"type":"wait","seconds":N}
- {"type":"done","text":"<final answer for the user>"}

Use "done" as soon as the task is complete or cannot be completed, and put
the answer or the reason in "text".`

var errNoJSON = errors.New("model reply contained no JSON object")

func buildMessages(task string, obs *browser.Observation, steps []Step, vision bool) []model.Message {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Task: %s\n\n", task)

	if len(steps) > 0 {
		sb.WriteString("Previous steps:\n")
		start := 0
		if len(steps) > recentSteps {
			start = len(steps) - recentSteps
		}
		for _, step := range steps[start:] {
			sb.WriteString(describeStep(&step))
			sb.WriteByte('\n')
		}
		sb.WriteByte('\n')
	}

	if obs != nil {
		fmt.Fprintf(&sb, "Current URL: %s\nTitle: %s\n\n", obs.URL, obs.Title)
		sb.WriteString("Interactive elements:\n")
		if len(obs.Elements) == 0 {
			sb.WriteString("(none)\n")
		}
		for _, el := range obs.Elements {
			sb.WriteString(el.String())
			sb.WriteByte('\n')
		}
		if text := strings.TrimSpace(obs.Text); text != "" {
			sb.WriteString("\nPage text:\n")
			sb.WriteString(text)
			sb.WriteByte('\n')
		}
	}

	user := model.Message{Role: "user", Content: sb.String()}
	if vision && obs != nil && obs.Screenshot != "" {
		user.Content = []model.ContentPart{
			model.TextPart(sb.String()),
			model.PNGPart(obs.Screenshot),
		}
	}

	return []model.Message{
		{Role: "system", Content: systemPrompt},
		user,
	}
}

func describeStep(step *Step) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d.", step.Number)
	if step.ModelOutput != nil {
		fmt.Fprintf(&sb, " %s", step.ModelOutput.Action)
	}
	for _, r := range step.Results {
		switch {
		case r.Error != "":
			fmt.Fprintf(&sb, " -> error: %s", r.Error)
		case r.Summary != "":
			fmt.Fprintf(&sb, " -> %s", r.Summary)
		}
	}
	return sb.String()
}

// parseModelOutput extracts the decision object from a reply. Models often
// wrap JSON in prose or code fences, so the outermost braces are used.
func parseModelOutput(reply string) (*ModelOutput, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end < start {
		return nil, errNoJSON
	}

	var out ModelOutput
	if err := json.Unmarshal([]byte(reply[start:end+1]), &out); err != nil {
		return nil, fmt.Errorf("decode model reply: %w", err)
	}
	if strings.TrimSpace(out.Action.Type) == "" {
		return &out, errors.New("model reply is missing action.type")
	}
	return &out, nil
}
