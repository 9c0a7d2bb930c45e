package bridge

import (
	"context"
	stderrors "errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/sirupsen/logrus"

	bberrors "github.com/odvcencio/browserbridge/pkg/errors"
	"github.com/odvcencio/browserbridge/pkg/stream"
	"github.com/odvcencio/browserbridge/pkg/telemetry"
)

var errTerminalSent = stderrors.New("stream already terminated")

// emitter is the only writer to a run's event channel. It drops anything
// offered after the first terminal event and gives up as soon as the
// consumer's context ends.
type emitter struct {
	ctx     context.Context
	ch      chan<- stream.Event
	metrics *telemetry.Metrics

	mu       sync.Mutex
	steps    int
	terminal *stream.Event
}

func newEmitter(ctx context.Context, ch chan<- stream.Event, metrics *telemetry.Metrics) *emitter {
	return &emitter{ctx: ctx, ch: ch, metrics: metrics}
}

func (e *emitter) emit(ev stream.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.terminal != nil {
		return errTerminalSent
	}
	if err := e.ctx.Err(); err != nil {
		return err
	}
	select {
	case e.ch <- ev:
	case <-e.ctx.Done():
		return e.ctx.Err()
	}
	e.metrics.StreamEvent(string(ev.Type))
	if ev.IsTerminal() {
		e.terminal = &ev
	} else {
		e.steps++
	}
	return nil
}

// fail sends err as the terminal event unless one was already sent or the
// consumer has gone away.
func (e *emitter) fail(err error) {
	if e.ctx.Err() != nil {
		return
	}
	_ = e.emit(stream.Error(bberrors.Describe(err)))
}

// result reports the terminal event, if any.
func (e *emitter) result() (stream.Event, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.terminal == nil {
		return stream.Event{}, false
	}
	return *e.terminal, true
}

func (e *emitter) stepCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.steps
}

// guard runs fn and turns whatever escapes it, error or panic, into the
// stream's terminal error event. A run that returns cleanly without a
// terminal event is reported as an internal error.
func guard(em *emitter, log *logrus.Entry, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(logrus.Fields{
				"panic": fmt.Sprint(r),
				"stack": string(debug.Stack()),
			}).Error("run panicked")
			em.fail(bberrors.New(bberrors.ErrCodeInternal, "internal error"))
		}
	}()

	if err := fn(); err != nil {
		if em.ctx.Err() == nil {
			log.WithError(err).WithField("code", bberrors.GetCode(err)).Warn("run failed")
		}
		em.fail(err)
		return
	}
	if _, ok := em.result(); !ok {
		em.fail(bberrors.New(bberrors.ErrCodeInternal, "run ended without a result"))
	}
}
