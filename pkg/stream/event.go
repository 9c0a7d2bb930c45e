// Package stream turns a finished agent history into the ordered NDJSON
// progress events sent to a client.
package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// EventType tags each line on the wire.
type EventType string

const (
	TypeStep   EventType = "step"
	TypeResult EventType = "result"
	TypeError  EventType = "error"
)

// DefaultStepText is shown for steps that carry no model reasoning.
const DefaultStepText = "Processing step..."

// Event is one progress line. Step events use Text and Screenshot; result
// and error events use Content.
type Event struct {
	Type       EventType
	Text       string
	Screenshot *string
	Content    string
}

// Step builds a step event. An empty screenshot is sent as null.
func Step(text, screenshot string) Event {
	ev := Event{Type: TypeStep, Text: text}
	if screenshot != "" {
		ev.Screenshot = &screenshot
	}
	return ev
}

// Result builds the terminal success event.
func Result(content string) Event {
	return Event{Type: TypeResult, Content: content}
}

// Error builds the terminal failure event.
func Error(content string) Event {
	return Event{Type: TypeError, Content: content}
}

// IsTerminal reports whether no further events may follow e.
func (e Event) IsTerminal() bool {
	return e.Type == TypeResult || e.Type == TypeError
}

type stepWire struct {
	Type       EventType `json:"type"`
	Text       string    `json:"text"`
	Screenshot *string   `json:"screenshot"`
}

type terminalWire struct {
	Type    EventType `json:"type"`
	Content string    `json:"content"`
}

// MarshalJSON emits exactly the fields of the event's shape.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case TypeStep:
		return marshal(stepWire{Type: e.Type, Text: e.Text, Screenshot: e.Screenshot})
	case TypeResult, TypeError:
		return marshal(terminalWire{Type: e.Type, Content: e.Content})
	default:
		return nil, fmt.Errorf("unknown event type %q", e.Type)
	}
}

// marshal leaves HTML characters unescaped; page text is full of them.
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// UnmarshalJSON accepts any of the three shapes.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type       EventType `json:"type"`
		Text       string    `json:"text"`
		Screenshot *string   `json:"screenshot"`
		Content    string    `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw.Type {
	case TypeStep:
		*e = Event{Type: raw.Type, Text: raw.Text, Screenshot: raw.Screenshot}
	case TypeResult, TypeError:
		*e = Event{Type: raw.Type, Content: raw.Content}
	default:
		return fmt.Errorf("unknown event type %q", raw.Type)
	}
	return nil
}
