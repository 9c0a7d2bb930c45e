package browser

import (
	"fmt"
	"time"
)

// Viewport defines the browser window size.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Config configures a browser session.
type Config struct {
	SessionID         string        `json:"session_id"`
	Headless          bool          `json:"headless"`
	WindowSize        Viewport      `json:"window_size"`
	ExecPath          string        `json:"exec_path,omitempty"`
	NavigationTimeout time.Duration `json:"navigation_timeout,omitempty"`
}

// DefaultConfig returns the recommended session defaults.
func DefaultConfig() Config {
	return Config{
		Headless: true,
		WindowSize: Viewport{
			Width:  1000,
			Height: 700,
		},
		NavigationTimeout: 30 * time.Second,
	}
}

// Element is an interactive node the agent can address by Index.
type Element struct {
	Index       int    `json:"index"`
	Tag         string `json:"tag"`
	Text        string `json:"text,omitempty"`
	Href        string `json:"href,omitempty"`
	InputType   string `json:"input_type,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
	Label       string `json:"label,omitempty"`
}

// String renders the element the way it is presented to the model.
func (e Element) String() string {
	desc := e.Text
	if desc == "" {
		desc = e.Label
	}
	if desc == "" {
		desc = e.Placeholder
	}
	out := fmt.Sprintf("[%d] <%s", e.Index, e.Tag)
	if e.InputType != "" {
		out += fmt.Sprintf(" type=%q", e.InputType)
	}
	if e.Href != "" {
		out += fmt.Sprintf(" href=%q", e.Href)
	}
	return out + "> " + desc
}

// Observation bundles the browser state returned to the agent.
type Observation struct {
	URL        string    `json:"url,omitempty"`
	Title      string    `json:"title,omitempty"`
	Text       string    `json:"text,omitempty"`
	Elements   []Element `json:"elements,omitempty"`
	Screenshot string    `json:"screenshot,omitempty"` // base64 PNG
	Timestamp  time.Time `json:"timestamp"`
}

// ObserveOptions tunes the observation payload.
type ObserveOptions struct {
	IncludeScreenshot bool `json:"include_screenshot"`
	MaxTextBytes      int  `json:"max_text_bytes,omitempty"`
}

// ActionType represents the supported browser actions.
type ActionType string

const (
	ActionNavigate ActionType = "navigate"
	ActionClick    ActionType = "click"
	ActionTypeText ActionType = "type"
	ActionScroll   ActionType = "scroll"
	ActionBack     ActionType = "back"
	ActionWait     ActionType = "wait"
)

// ScrollDirection is the direction of a scroll action.
type ScrollDirection string

const (
	ScrollDown ScrollDirection = "down"
	ScrollUp   ScrollDirection = "up"
)

// Action is an agent request for a browser action.
type Action struct {
	Type      ActionType      `json:"type"`
	URL       string          `json:"url,omitempty"`
	Index     int             `json:"index,omitempty"`
	Text      string          `json:"text,omitempty"`
	Submit    bool            `json:"submit,omitempty"`
	Direction ScrollDirection `json:"direction,omitempty"`
	Wait      time.Duration   `json:"wait,omitempty"`
}

// Validate checks that the action carries the fields its type needs.
func (a Action) Validate() error {
	switch a.Type {
	case ActionNavigate:
		if a.URL == "" {
			return fmt.Errorf("%w: navigate requires url", ErrInvalidAction)
		}
	case ActionClick:
		if a.Index < 0 {
			return fmt.Errorf("%w: click requires a non-negative index", ErrInvalidAction)
		}
	case ActionTypeText:
		if a.Index < 0 {
			return fmt.Errorf("%w: type requires a non-negative index", ErrInvalidAction)
		}
	case ActionScroll:
		if a.Direction != "" && a.Direction != ScrollDown && a.Direction != ScrollUp {
			return fmt.Errorf("%w: unknown scroll direction %q", ErrInvalidAction, a.Direction)
		}
	case ActionBack, ActionWait:
	default:
		return fmt.Errorf("%w: unsupported action %q", ErrInvalidAction, a.Type)
	}
	return nil
}

// Effect summarizes a notable outcome from an action.
type Effect struct {
	Kind    string `json:"kind"`
	Summary string `json:"summary,omitempty"`
}

// ActionResult returns effects after an action.
type ActionResult struct {
	URL     string   `json:"url,omitempty"`
	Effects []Effect `json:"effects,omitempty"`
}
