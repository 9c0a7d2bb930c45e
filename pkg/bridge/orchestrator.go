// Package bridge runs one automation task per request and turns it into an
// ordered stream of progress events ending in exactly one result or error.
package bridge

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/odvcencio/browserbridge/pkg/agent"
	"github.com/odvcencio/browserbridge/pkg/browser"
	bberrors "github.com/odvcencio/browserbridge/pkg/errors"
	"github.com/odvcencio/browserbridge/pkg/logging"
	"github.com/odvcencio/browserbridge/pkg/runlog"
	"github.com/odvcencio/browserbridge/pkg/session"
	"github.com/odvcencio/browserbridge/pkg/stream"
	"github.com/odvcencio/browserbridge/pkg/telemetry"
)

const (
	defaultBuffer      = 16
	journalSaveTimeout = 5 * time.Second
)

// BrowserProvider hands out browser sessions owned by the caller.
// *browser.Manager satisfies it.
type BrowserProvider interface {
	Acquire(ctx context.Context, cfg browser.Config) (browser.Session, error)
}

// Options wires an Orchestrator. Browsers, Models and Runner are required.
type Options struct {
	Browsers      BrowserProvider
	BrowserConfig browser.Config
	Models        ModelFactory
	Runner        agent.Runner
	Projector     *stream.Projector

	// Buffer bounds the event channel between a run and its consumer.
	Buffer int
	// LiveSteps forwards steps while the agent is still running.
	LiveSteps bool

	UseVision   bool
	MaxSteps    int
	MaxPageText int
	RunTimeout  time.Duration

	Metrics *telemetry.Metrics
	Journal runlog.Store
	Logger  logrus.FieldLogger
}

// Orchestrator owns the lifecycle of every run it starts. It holds no
// per-run state and is safe for concurrent use.
type Orchestrator struct {
	opts Options
	log  *logrus.Entry
}

// New validates opts and returns an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Browsers == nil {
		return nil, errors.New("bridge: browser provider is required")
	}
	if opts.Models == nil {
		return nil, errors.New("bridge: model factory is required")
	}
	if opts.Runner == nil {
		return nil, errors.New("bridge: agent runner is required")
	}
	if opts.Buffer <= 0 {
		opts.Buffer = defaultBuffer
	}
	if opts.Projector == nil {
		opts.Projector = stream.NewProjector(stream.DefaultPace, opts.Logger)
	}
	if opts.BrowserConfig.WindowSize == (browser.Viewport{}) {
		opts.BrowserConfig = browser.DefaultConfig()
	}
	return &Orchestrator{
		opts: opts,
		log:  logging.For(opts.Logger, logging.CategoryBridge),
	}, nil
}

// Run starts req in the background and returns its event stream. The
// channel yields zero or more step events then one terminal event and is
// closed afterwards. When ctx ends, emission stops and the channel is closed
// once the browser has been released.
func (o *Orchestrator) Run(ctx context.Context, req TaskRequest) <-chan stream.Event {
	ch := make(chan stream.Event, o.opts.Buffer)
	go o.serve(ctx, req, ch)
	return ch
}

func (o *Orchestrator) serve(ctx context.Context, req TaskRequest, ch chan<- stream.Event) {
	defer close(ch)

	started := time.Now()
	runID := session.GenerateSessionID("run")
	log := o.log.WithField("run_id", runID).WithFields(req.LogFields())

	ctx, span := telemetry.StartSpan(ctx, "bridge.run", trace.WithAttributes(
		telemetry.AttrSessionID.String(runID),
		telemetry.AttrTaskLen.Int(len(req.Task)),
	))
	defer span.End()

	o.opts.Metrics.RunStarted()
	log.Info("run started")

	em := newEmitter(ctx, ch, o.opts.Metrics)
	rec := &runlog.Record{ID: runID, Task: req.Task, StartedAt: started}

	guard(em, log, func() error {
		return o.pipeline(ctx, req, runID, em, rec)
	})

	elapsed := time.Since(started)
	outcome := telemetry.OutcomeCancelled
	if ev, ok := em.result(); ok {
		switch ev.Type {
		case stream.TypeResult:
			outcome = telemetry.OutcomeSuccess
			rec.Result = ev.Content
		case stream.TypeError:
			outcome = telemetry.OutcomeError
			rec.Error = ev.Content
			span.SetStatus(codes.Error, ev.Content)
		}
	}
	if rec.Steps == 0 {
		rec.Steps = em.stepCount()
	}
	rec.Outcome = outcome
	rec.Duration = elapsed

	span.SetAttributes(
		telemetry.AttrOutcome.String(outcome),
		telemetry.AttrSteps.Int(rec.Steps),
	)
	o.opts.Metrics.RunFinished(outcome, elapsed)
	o.journal(ctx, rec, log)

	log.WithFields(logrus.Fields{
		"outcome":  outcome,
		"steps":    rec.Steps,
		"duration": elapsed.String(),
	}).Info("run finished")
}

// pipeline acquires the browser, binds the model, runs the agent and
// projects its history. The browser is released on every way out.
func (o *Orchestrator) pipeline(ctx context.Context, req TaskRequest, runID string, em *emitter, rec *runlog.Record) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if o.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.RunTimeout)
		defer cancel()
	}

	cfg := o.opts.BrowserConfig
	cfg.SessionID = runID
	sess, err := o.opts.Browsers.Acquire(ctx, cfg)
	if err != nil {
		return bberrors.Wrap(err, bberrors.ErrCodeSessionSetup, "acquiring browser")
	}
	defer func() {
		if err := sess.Close(); err != nil {
			o.log.WithError(err).WithField("run_id", runID).Warn("closing browser failed")
		}
	}()

	client, err := o.opts.Models.NewClient(req.Credential)
	if err != nil {
		return bberrors.Wrap(err, bberrors.ErrCodeSessionSetup, "binding model client")
	}

	live := 0
	areq := agent.Request{
		Task:        req.Task,
		Model:       client,
		Browser:     sess,
		UseVision:   o.opts.UseVision,
		MaxSteps:    o.opts.MaxSteps,
		MaxPageText: o.opts.MaxPageText,
	}
	if o.opts.LiveSteps {
		areq.OnStep = func(step agent.Step) {
			if em.emit(stream.StepEvent(&step)) == nil {
				live++
			}
		}
	}

	history, err := o.opts.Runner.Run(ctx, areq)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return interrupted(ctx, err)
		}
		return bberrors.Wrap(err, bberrors.ErrCodeAgentExecution, "running agent")
	}
	rec.Steps = history.Len()

	if err := o.opts.Projector.Project(ctx, history, live, em.emit); err != nil {
		if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
			return interrupted(ctx, err)
		}
		return bberrors.Wrap(err, bberrors.ErrCodeProjection, "streaming history")
	}
	return nil
}

// interrupted reports a run stopped by its deadline or by cancellation.
func interrupted(ctx context.Context, err error) error {
	msg := "run cancelled"
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		msg = "run timed out"
	}
	return bberrors.Wrap(err, bberrors.ErrCodeCancelled, msg).WithUserMessage(msg)
}

func (o *Orchestrator) journal(ctx context.Context, rec *runlog.Record, log *logrus.Entry) {
	if o.opts.Journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalSaveTimeout)
	defer cancel()
	if err := o.opts.Journal.Save(ctx, rec); err != nil {
		log.WithError(err).Warn("journaling run failed")
	}
}
