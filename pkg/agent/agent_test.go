package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/browserbridge/pkg/browser"
	"github.com/odvcencio/browserbridge/pkg/browser/browsertest"
	"github.com/odvcencio/browserbridge/pkg/model"
)

// scriptedModel replies with the next canned answer on each call.
type scriptedModel struct {
	mu       sync.Mutex
	replies  []string
	err      error
	requests []model.ChatRequest
}

func (m *scriptedModel) ChatCompletion(ctx context.Context, req model.ChatRequest) (*model.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	if len(m.replies) == 0 {
		return &model.ChatResponse{}, nil
	}
	reply := m.replies[0]
	m.replies = m.replies[1:]
	return &model.ChatResponse{Choices: []model.Choice{{Message: model.Message{Role: "assistant", Content: reply}}}}, nil
}

func catsPage() browser.Observation {
	return browser.Observation{
		URL:   "https://search.example",
		Title: "Search",
		Text:  "Find anything",
		Elements: []browser.Element{
			{Index: 0, Tag: "input", InputType: "search", Placeholder: "Search"},
		},
	}
}

func TestAgentRunCompletesTask(t *testing.T) {
	llm := &scriptedModel{replies: []string{
		`{"thought":"open the search page","action":{"type":"navigate","url":"https://search.example"}}`,
		"```json\n{\"thought\":\"type the query\",\"action\":{\"type\":\"type\",\"index\":0,\"text\":\"cats\",\"submit\":true}}\n```",
		`{"thought":"results are shown","action":{"type":"done","text":"Found 3 results"}}`,
	}}
	sess := browsertest.NewSession("b1")

	var live []Step
	hist, err := New().Run(context.Background(), Request{
		Task:    "search for cats",
		Model:   llm,
		Browser: sess,
		OnStep:  func(s Step) { live = append(live, s) },
	})
	require.NoError(t, err)

	require.Len(t, hist.Steps, 3)
	assert.Equal(t, hist.Steps, live)
	final, ok := hist.FinalResult()
	require.True(t, ok)
	assert.Equal(t, "Found 3 results", final)

	thought, ok := hist.Steps[1].Thought()
	require.True(t, ok)
	assert.Equal(t, "type the query", thought)

	actions := sess.Actions()
	require.Len(t, actions, 2)
	assert.Equal(t, browser.ActionNavigate, actions[0].Type)
	assert.Equal(t, browser.ActionTypeText, actions[1].Type)
	assert.Equal(t, "cats", actions[1].Text)
	assert.True(t, actions[1].Submit)
	assert.Equal(t, 0, sess.CloseCalls(), "agent must not close a browser it does not own")
}

func TestAgentRunSendsScreenshotWithVision(t *testing.T) {
	rt := &browsertest.Runtime{Screenshot: "iVBORw0KGgo=", Page: catsPage()}
	sess, err := rt.NewSession(context.Background(), browser.Config{SessionID: "b1"})
	require.NoError(t, err)

	llm := &scriptedModel{replies: []string{`{"thought":"done","action":{"type":"done","text":"ok"}}`}}
	hist, err := New().Run(context.Background(), Request{Task: "look", Model: llm, Browser: sess, UseVision: true})
	require.NoError(t, err)

	shot, ok := hist.Steps[0].Screenshot()
	require.True(t, ok)
	assert.Equal(t, "iVBORw0KGgo=", shot)

	require.Len(t, llm.requests, 1)
	parts, ok := llm.requests[0].Messages[1].Content.([]model.ContentPart)
	require.True(t, ok, "vision requests carry multimodal content")
	require.Len(t, parts, 2)
	assert.Contains(t, parts[0].Text, "[0] <input type=\"search\"> Search")
	assert.Equal(t, "data:image/png;base64,iVBORw0KGgo=", parts[1].ImageURL.URL)
}

func TestAgentRunWithoutVisionOmitsScreenshot(t *testing.T) {
	rt := &browsertest.Runtime{Screenshot: "iVBORw0KGgo=", Page: catsPage()}
	sess, err := rt.NewSession(context.Background(), browser.Config{SessionID: "b1"})
	require.NoError(t, err)

	llm := &scriptedModel{replies: []string{`{"thought":"","action":{"type":"done","text":"ok"}}`}}
	hist, err := New().Run(context.Background(), Request{Task: "look", Model: llm, Browser: sess})
	require.NoError(t, err)

	_, ok := hist.Steps[0].Screenshot()
	assert.False(t, ok)
	_, ok = hist.Steps[0].Thought()
	assert.False(t, ok)
	_, isText := llm.requests[0].Messages[1].Content.(string)
	assert.True(t, isText)
}

func TestAgentRunRecordsMalformedReplies(t *testing.T) {
	llm := &scriptedModel{replies: []string{
		"I think I should click something",
		`{"thought":"click it","action":{"type":"click"}}`,
		`{"thought":"give up","action":{"type":"done","text":"nothing to do"}}`,
	}}
	hist, err := New().Run(context.Background(), Request{Task: "t", Model: llm, Browser: browsertest.NewSession("b1")})
	require.NoError(t, err)
	require.Len(t, hist.Steps, 3)

	assert.Nil(t, hist.Steps[0].ModelOutput)
	msg, failed := hist.Steps[0].Err()
	require.True(t, failed)
	assert.Contains(t, msg, "no JSON")

	msg, failed = hist.Steps[1].Err()
	require.True(t, failed)
	assert.Contains(t, msg, "requires index")

	// Later prompts replay the failures so the model can correct itself.
	last := llm.requests[2].Messages[1].Content.(string)
	assert.Contains(t, last, "Previous steps:")
	assert.Contains(t, last, "requires index")
}

func TestAgentRunStopsAfterConsecutiveFailures(t *testing.T) {
	llm := &scriptedModel{replies: []string{"nope", "still nope", "nope again", `{"action":{"type":"done"}}`}}
	_, err := New(WithMaxFailures(3)).Run(context.Background(), Request{Task: "t", Model: llm, Browser: browsertest.NewSession("b1")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "3 consecutive failed steps")
}

func TestAgentRunBudgetExhausted(t *testing.T) {
	reply := `{"thought":"keep scrolling","action":{"type":"scroll","direction":"down"}}`
	llm := &scriptedModel{replies: []string{reply, reply, reply}}
	hist, err := New().Run(context.Background(), Request{Task: "t", Model: llm, Browser: browsertest.NewSession("b1"), MaxSteps: 2})
	require.NoError(t, err)

	assert.Equal(t, 2, hist.Len())
	_, ok := hist.FinalResult()
	assert.False(t, ok)
	assert.True(t, strings.HasPrefix(hist.String(), "run ended after 2 steps without a final result"), hist.String())
}

func TestAgentRunModelErrorAborts(t *testing.T) {
	rejected := errors.New("credential rejected")
	llm := &scriptedModel{err: rejected}
	var calls int
	hist, err := New().Run(context.Background(), Request{
		Task:    "t",
		Model:   llm,
		Browser: browsertest.NewSession("b1"),
		OnStep:  func(Step) { calls++ },
	})
	assert.Nil(t, hist)
	assert.Same(t, rejected, err)
	assert.Equal(t, 0, calls)
}

func TestAgentRunActionErrorsAreRecorded(t *testing.T) {
	sess := browsertest.NewSession("b1")
	sess.ActErr = errors.New("element not clickable")
	llm := &scriptedModel{replies: []string{
		`{"thought":"click","action":{"type":"click","index":4}}`,
		`{"thought":"done","action":{"type":"done","text":"gave up"}}`,
	}}
	hist, err := New().Run(context.Background(), Request{Task: "t", Model: llm, Browser: sess})
	require.NoError(t, err)

	msg, failed := hist.Steps[0].Err()
	require.True(t, failed)
	assert.Equal(t, "element not clickable", msg)
}

func TestAgentRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Run(ctx, Request{Task: "t", Model: &scriptedModel{}, Browser: browsertest.NewSession("b1")})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAgentRunValidatesRequest(t *testing.T) {
	a := New()
	_, err := a.Run(context.Background(), Request{Task: " ", Model: &scriptedModel{}, Browser: browsertest.NewSession("b")})
	assert.Error(t, err)
	_, err = a.Run(context.Background(), Request{Task: "t", Browser: browsertest.NewSession("b")})
	assert.Error(t, err)
	_, err = a.Run(context.Background(), Request{Task: "t", Model: &scriptedModel{}})
	assert.Error(t, err)
}

func TestStepAccessorsOnPartialSteps(t *testing.T) {
	var nilStep *Step
	_, ok := nilStep.Thought()
	assert.False(t, ok)
	_, ok = nilStep.Screenshot()
	assert.False(t, ok)

	empty := &Step{State: &BrowserState{}}
	_, ok = empty.Thought()
	assert.False(t, ok)
	_, ok = empty.Screenshot()
	assert.False(t, ok)

	var nilHistory *History
	assert.Equal(t, 0, nilHistory.Len())
	_, ok = nilHistory.FinalResult()
	assert.False(t, ok)
}

func TestHistoryStringPrefersFinal(t *testing.T) {
	final := "Found 3 results"
	h := &History{Steps: []Step{{Number: 1}}, Final: &final}
	assert.Equal(t, final, h.String())

	h = &History{Steps: []Step{{
		Number:  1,
		State:   &BrowserState{URL: "https://a.example"},
		Results: []ActionResult{{Error: "boom"}},
	}}}
	assert.Equal(t, "run ended after 1 steps without a final result; last page https://a.example; last error: boom", h.String())
}

func TestParseModelOutput(t *testing.T) {
	out, err := parseModelOutput("Sure!\n{\"thought\":\"go\",\"action\":{\"type\":\"back\"}}\nThanks")
	require.NoError(t, err)
	assert.Equal(t, "go", out.Thought)
	assert.Equal(t, "back", out.Action.Type)

	_, err = parseModelOutput("no braces")
	assert.ErrorIs(t, err, errNoJSON)

	_, err = parseModelOutput("{not json}")
	assert.Error(t, err)

	out, err = parseModelOutput(`{"thought":"hm"}`)
	assert.Error(t, err)
	require.NotNil(t, out)
	assert.Equal(t, "hm", out.Thought)
}

func TestActionBrowserAction(t *testing.T) {
	idx := 2
	got, err := Action{Type: "Click", Index: &idx}.BrowserAction()
	require.NoError(t, err)
	assert.Equal(t, browser.Action{Type: browser.ActionClick, Index: 2}, got)

	got, err = Action{Type: "wait", Seconds: 1.5}.BrowserAction()
	require.NoError(t, err)
	assert.Equal(t, int64(1500), got.Wait.Milliseconds())

	_, err = Action{Type: "hover"}.BrowserAction()
	assert.ErrorIs(t, err, browser.ErrInvalidAction)

	assert.Equal(t, `type [2] "cats"`, Action{Type: "type", Index: &idx, Text: "cats"}.String())
}
