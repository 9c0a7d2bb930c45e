package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/odvcencio/browserbridge/pkg/browser"
)

// ActionDone ends the run; its Text becomes the final result.
const ActionDone = "done"

// Action is the single browser command the model asks for on each step.
type Action struct {
	Type      string  `json:"type"`
	URL       string  `json:"url,omitempty"`
	Index     *int    `json:"index,omitempty"`
	Text      string  `json:"text,omitempty"`
	Submit    bool    `json:"submit,omitempty"`
	Direction string  `json:"direction,omitempty"`
	Seconds   float64 `json:"seconds,omitempty"`
}

// IsDone reports whether the action finishes the run.
func (a Action) IsDone() bool {
	return strings.EqualFold(strings.TrimSpace(a.Type), ActionDone)
}

// BrowserAction converts the model's action into a browser command.
func (a Action) BrowserAction() (browser.Action, error) {
	out := browser.Action{
		Type:      browser.ActionType(strings.ToLower(strings.TrimSpace(a.Type))),
		URL:       strings.TrimSpace(a.URL),
		Text:      a.Text,
		Submit:    a.Submit,
		Direction: browser.ScrollDirection(strings.ToLower(a.Direction)),
		Index:     -1,
	}
	if a.Index != nil {
		out.Index = *a.Index
	}
	if a.Seconds > 0 {
		out.Wait = time.Duration(a.Seconds * float64(time.Second))
	}
	switch out.Type {
	case browser.ActionClick, browser.ActionTypeText:
		if a.Index == nil {
			return browser.Action{}, fmt.Errorf("%w: %s requires index", browser.ErrInvalidAction, out.Type)
		}
	default:
		if out.Index < 0 {
			out.Index = 0
		}
	}
	return out, out.Validate()
}

// String renders the action compactly for logs and history summaries.
func (a Action) String() string {
	var sb strings.Builder
	sb.WriteString(a.Type)
	if a.Index != nil {
		fmt.Fprintf(&sb, " [%d]", *a.Index)
	}
	if a.URL != "" {
		sb.WriteString(" " + a.URL)
	}
	if a.Text != "" && !a.IsDone() {
		fmt.Fprintf(&sb, " %q", a.Text)
	}
	if a.Direction != "" {
		sb.WriteString(" " + a.Direction)
	}
	return sb.String()
}

// ModelOutput is the parsed decision the model returned for a step.
type ModelOutput struct {
	Thought string `json:"thought"`
	Action  Action `json:"action"`
}

// BrowserState captures what the model saw before deciding.
type BrowserState struct {
	URL        string `json:"url,omitempty"`
	Title      string `json:"title,omitempty"`
	Elements   int    `json:"elements"`
	Screenshot string `json:"screenshot,omitempty"` // base64 PNG
}

// ActionResult records what executing a step's action did.
type ActionResult struct {
	Action  string `json:"action,omitempty"`
	Summary string `json:"summary,omitempty"`
	Error   string `json:"error,omitempty"`
	Done    bool   `json:"done,omitempty"`
	Content string `json:"content,omitempty"`
}

// Step is one observe/decide/act cycle. Any part may be missing when the
// cycle failed partway; use the accessors rather than the fields.
type Step struct {
	Number      int            `json:"number"`
	ModelOutput *ModelOutput   `json:"model_output,omitempty"`
	State       *BrowserState  `json:"state,omitempty"`
	Results     []ActionResult `json:"results,omitempty"`
	Duration    time.Duration  `json:"duration"`
}

// Thought returns the model's reasoning for the step, if any.
func (s *Step) Thought() (string, bool) {
	if s == nil || s.ModelOutput == nil {
		return "", false
	}
	thought := strings.TrimSpace(s.ModelOutput.Thought)
	return thought, thought != ""
}

// Screenshot returns the base64 PNG captured before the step, if any.
func (s *Step) Screenshot() (string, bool) {
	if s == nil || s.State == nil || s.State.Screenshot == "" {
		return "", false
	}
	return s.State.Screenshot, true
}

// Err returns the first error recorded in the step's results.
func (s *Step) Err() (string, bool) {
	if s == nil {
		return "", false
	}
	for _, r := range s.Results {
		if r.Error != "" {
			return r.Error, true
		}
	}
	return "", false
}

// History is the ordered record of a finished run. It is not modified after
// Run returns it.
type History struct {
	Steps []Step  `json:"steps"`
	Final *string `json:"final,omitempty"`
}

// FinalResult returns the content of the done action, if the run reached one.
func (h *History) FinalResult() (string, bool) {
	if h == nil || h.Final == nil {
		return "", false
	}
	return *h.Final, true
}

// Len returns the number of recorded steps.
func (h *History) Len() int {
	if h == nil {
		return 0
	}
	return len(h.Steps)
}

// String summarizes a history that has no final result.
func (h *History) String() string {
	if h == nil {
		return "no steps recorded"
	}
	if final, ok := h.FinalResult(); ok {
		return final
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "run ended after %d steps without a final result", len(h.Steps))
	if n := len(h.Steps); n > 0 {
		last := &h.Steps[n-1]
		if last.State != nil && last.State.URL != "" {
			fmt.Fprintf(&sb, "; last page %s", last.State.URL)
		}
		if msg, ok := last.Err(); ok {
			fmt.Fprintf(&sb, "; last error: %s", msg)
		}
	}
	return sb.String()
}
