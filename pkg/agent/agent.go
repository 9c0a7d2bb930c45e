// Package agent drives a browser session with a language model until the
// task is done or the step budget runs out.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/odvcencio/browserbridge/pkg/browser"
	"github.com/odvcencio/browserbridge/pkg/logging"
	"github.com/odvcencio/browserbridge/pkg/model"
	"github.com/odvcencio/browserbridge/pkg/telemetry"
)

const (
	DefaultMaxSteps    = 25
	DefaultMaxFailures = 3
	DefaultMaxPageText = 8000
)

// Runner executes one task against one browser session.
//
//go:generate mockgen -package=bridge -destination=../bridge/mock_runner_test.go github.com/odvcencio/browserbridge/pkg/agent Runner
type Runner interface {
	Run(ctx context.Context, req Request) (*History, error)
}

// ModelClient is the subset of the model client the agent needs.
type ModelClient interface {
	ChatCompletion(ctx context.Context, req model.ChatRequest) (*model.ChatResponse, error)
}

// Request is everything a single run needs. The agent does not own Browser
// and never closes it.
type Request struct {
	Task        string
	Model       ModelClient
	Browser     browser.Session
	UseVision   bool
	MaxSteps    int
	MaxPageText int

	// OnStep, when set, is called synchronously after each step is recorded,
	// in history order.
	OnStep func(Step)
}

var _ Runner = (*Agent)(nil)

// Agent is the default Runner.
type Agent struct {
	log         *logrus.Entry
	temperature float64
	maxTokens   int
	maxFailures int
}

// Option configures an Agent.
type Option func(*Agent)

// WithLogger sets the logger used for step traces.
func WithLogger(log logrus.FieldLogger) Option {
	return func(a *Agent) {
		a.log = logging.For(log, logging.CategoryAgent)
	}
}

// WithTemperature sets the sampling temperature sent with each request.
func WithTemperature(t float64) Option {
	return func(a *Agent) { a.temperature = t }
}

// WithMaxTokens caps the length of each model reply.
func WithMaxTokens(n int) Option {
	return func(a *Agent) { a.maxTokens = n }
}

// WithMaxFailures sets how many failed steps in a row end the run.
func WithMaxFailures(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxFailures = n
		}
	}
}

// New creates an Agent.
func New(opts ...Option) *Agent {
	a := &Agent{
		log:         logging.For(logging.NullLogger(), logging.CategoryAgent),
		maxTokens:   1024,
		maxFailures: DefaultMaxFailures,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run loops observe, decide and act until the model declares the task done,
// the step budget is spent, or a step fails in a way the model cannot
// correct. Reaching the budget is not an error; the history then has no
// final result.
func (a *Agent) Run(ctx context.Context, req Request) (*History, error) {
	if strings.TrimSpace(req.Task) == "" {
		return nil, errors.New("task is empty")
	}
	if req.Model == nil {
		return nil, errors.New("no model client")
	}
	if req.Browser == nil {
		return nil, errors.New("no browser session")
	}
	maxSteps := req.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	if req.MaxPageText <= 0 {
		req.MaxPageText = DefaultMaxPageText
	}

	ctx, span := telemetry.StartSpan(ctx, "agent.run")
	defer span.End()

	log := a.log.WithField("browser_session", req.Browser.ID())
	hist := &History{}
	failures := 0

	for n := 1; n <= maxSteps; n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		step, final, err := a.step(ctx, req, n, hist.Steps)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			log.WithError(err).WithField("step", n).Warn("run aborted")
			return nil, err
		}

		hist.Steps = append(hist.Steps, step)
		telemetry.AddEvent(ctx, "agent.step", attribute.Int("step", n))
		if req.OnStep != nil {
			req.OnStep(step)
		}

		if final != nil {
			hist.Final = final
			span.SetAttributes(telemetry.AttrSteps.Int(len(hist.Steps)))
			log.WithField("steps", len(hist.Steps)).Info("task done")
			return hist, nil
		}

		if msg, failed := step.Err(); failed {
			failures++
			if failures >= a.maxFailures {
				return nil, fmt.Errorf("stopped after %d consecutive failed steps: %s", failures, msg)
			}
		} else {
			failures = 0
		}
	}

	span.SetAttributes(telemetry.AttrSteps.Int(len(hist.Steps)))
	log.WithField("steps", len(hist.Steps)).Warn("step budget exhausted without a final result")
	return hist, nil
}

// step runs one cycle. A returned error aborts the run; problems the model
// can correct are recorded in the step's results instead.
func (a *Agent) step(ctx context.Context, req Request, n int, previous []Step) (Step, *string, error) {
	start := time.Now()
	step := Step{Number: n}
	finish := func(r ActionResult) Step {
		step.Results = append(step.Results, r)
		step.Duration = time.Since(start)
		return step
	}

	obs, err := req.Browser.Observe(ctx, browser.ObserveOptions{
		IncludeScreenshot: req.UseVision,
		MaxTextBytes:      req.MaxPageText,
	})
	if err != nil {
		return step, nil, fmt.Errorf("observe page: %w", err)
	}
	step.State = &BrowserState{
		URL:        obs.URL,
		Title:      obs.Title,
		Elements:   len(obs.Elements),
		Screenshot: obs.Screenshot,
	}

	resp, err := req.Model.ChatCompletion(ctx, model.ChatRequest{
		Messages:    buildMessages(req.Task, obs, previous, req.UseVision),
		Temperature: a.temperature,
		MaxTokens:   a.maxTokens,
	})
	if err != nil {
		// Returned as is so the caller can show the model's own message.
		return step, nil, err
	}
	reply, ok := resp.Text()
	if !ok {
		return finish(ActionResult{Error: "model returned no reply"}), nil, nil
	}

	out, err := parseModelOutput(reply)
	if out != nil {
		step.ModelOutput = out
	}
	if err != nil {
		a.log.WithField("step", n).WithError(err).Debug("unusable model reply")
		return finish(ActionResult{Error: err.Error()}), nil, nil
	}

	a.log.WithFields(logrus.Fields{
		"step":   n,
		"action": out.Action.String(),
	}).Debug("model decided")

	if out.Action.IsDone() {
		final := out.Action.Text
		return finish(ActionResult{Action: ActionDone, Done: true, Content: final}), &final, nil
	}

	action, err := out.Action.BrowserAction()
	if err != nil {
		return finish(ActionResult{Action: out.Action.Type, Error: err.Error()}), nil, nil
	}

	res, err := req.Browser.Act(ctx, action)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, browser.ErrSessionClosed) {
			return step, nil, err
		}
		return finish(ActionResult{Action: string(action.Type), Error: err.Error()}), nil, nil
	}
	return finish(ActionResult{Action: string(action.Type), Summary: summarize(action, res)}), nil, nil
}

func summarize(action browser.Action, res *browser.ActionResult) string {
	parts := []string{string(action.Type) + " ok"}
	if res != nil {
		for _, eff := range res.Effects {
			if eff.Summary != "" {
				parts = append(parts, eff.Summary)
			}
		}
		if res.URL != "" {
			parts = append(parts, "now at "+res.URL)
		}
	}
	return strings.Join(parts, ", ")
}
