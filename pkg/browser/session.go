package browser

import "context"

// Runtime launches browser sessions.
type Runtime interface {
	NewSession(ctx context.Context, cfg Config) (Session, error)
	Close() error
}

// Checker is implemented by runtimes that can tell, without launching a
// browser, whether NewSession is likely to succeed.
type Checker interface {
	Check(ctx context.Context) error
}

// Session is the port implemented by browser runtime adapters. A session is
// owned by one run and is not safe for concurrent use.
type Session interface {
	ID() string
	Navigate(ctx context.Context, url string) (*Observation, error)
	Observe(ctx context.Context, opts ObserveOptions) (*Observation, error)
	Act(ctx context.Context, action Action) (*ActionResult, error)
	Close() error
}
