package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/odvcencio/browserbridge/pkg/agent"
	"github.com/odvcencio/browserbridge/pkg/logging"
)

// DefaultPace separates successive emissions.
const DefaultPace = 50 * time.Millisecond

// Projector converts a history into step events followed by one result.
type Projector struct {
	pace time.Duration
	log  *logrus.Entry
}

// NewProjector returns a projector that waits pace between emissions. A
// zero pace emits as fast as the consumer accepts.
func NewProjector(pace time.Duration, log logrus.FieldLogger) *Projector {
	if pace < 0 {
		pace = 0
	}
	return &Projector{pace: pace, log: logging.For(log, logging.CategoryBridge)}
}

// StepEvent renders one step. Missing reasoning falls back to
// DefaultStepText and a missing screenshot to null.
func StepEvent(step *agent.Step) Event {
	text, shot := stepFields(step, nil)
	return Step(text, shot)
}

func stepFields(step *agent.Step, log *logrus.Entry) (text, shot string) {
	text = DefaultStepText
	defer func() {
		// A broken accessor costs the step its details, never the stream.
		if r := recover(); r != nil {
			text, shot = DefaultStepText, ""
			if log != nil {
				log.WithField("panic", fmt.Sprint(r)).Warn("step projection failed")
			}
		}
	}()
	if thought, ok := step.Thought(); ok {
		text = thought
	}
	if s, ok := step.Screenshot(); ok {
		shot = s
	}
	return text, shot
}

// Project emits history.Steps[skip:] in order and then exactly one Result
// event. The result is the history's final result when present and its
// summary otherwise. It stops at the first emit error or when ctx ends.
func (p *Projector) Project(ctx context.Context, history *agent.History, skip int, emit func(Event) error) error {
	var limiter *rate.Limiter
	if p.pace > 0 {
		limiter = rate.NewLimiter(rate.Every(p.pace), 1)
	}
	send := func(ev Event) error {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return waitError(ctx, err)
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
		return emit(ev)
	}

	if history != nil {
		if skip < 0 {
			skip = 0
		}
		for i := skip; i < len(history.Steps); i++ {
			text, shot := stepFields(&history.Steps[i], p.log)
			if err := send(Step(text, shot)); err != nil {
				return err
			}
		}
	}

	content, ok := history.FinalResult()
	if !ok {
		content = history.String()
	}
	return send(Result(content))
}

// waitError normalizes a failed pacing wait to a context error. The limiter
// refuses up front when the pause would outlast the deadline, before ctx
// itself has ended.
func waitError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if _, ok := ctx.Deadline(); ok {
		return fmt.Errorf("pacing: %w", context.DeadlineExceeded)
	}
	return err
}
