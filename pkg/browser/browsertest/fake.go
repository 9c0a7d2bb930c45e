// Package browsertest provides in-memory browser runtimes for tests.
package browsertest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/odvcencio/browserbridge/pkg/browser"
)

// Runtime is a browser.Runtime that hands out Sessions without launching a
// browser. Set NewSessionErr to make acquisition fail.
type Runtime struct {
	NewSessionErr error
	// CheckErr is returned by Check.
	CheckErr error
	// Screenshot, when set, is returned by Observe if a screenshot is requested.
	Screenshot string
	// Page is the observation template returned by Observe.
	Page browser.Observation

	mu       sync.Mutex
	sessions []*Session
	configs  []browser.Config
	closed   atomic.Int32
}

// NewSession implements browser.Runtime.
func (r *Runtime) NewSession(ctx context.Context, cfg browser.Config) (browser.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.NewSessionErr != nil {
		return nil, r.NewSessionErr
	}
	page := r.Page
	sess := &Session{id: cfg.SessionID, screenshot: r.Screenshot, page: page}
	r.mu.Lock()
	r.sessions = append(r.sessions, sess)
	r.configs = append(r.configs, cfg)
	r.mu.Unlock()
	return sess, nil
}

// Check implements browser.Checker.
func (r *Runtime) Check(ctx context.Context) error {
	return r.CheckErr
}

// Close implements browser.Runtime.
func (r *Runtime) Close() error {
	r.closed.Add(1)
	return nil
}

// Closed reports how many times Close was called on the runtime.
func (r *Runtime) Closed() int {
	return int(r.closed.Load())
}

// Sessions returns every session created so far.
func (r *Runtime) Sessions() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Session(nil), r.sessions...)
}

// Configs returns the configs passed to NewSession, in order.
func (r *Runtime) Configs() []browser.Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]browser.Config(nil), r.configs...)
}

// Session is an in-memory browser.Session that records what was done to it.
type Session struct {
	id         string
	screenshot string
	page       browser.Observation

	// ActErr, when set, is returned by every Act call.
	ActErr error

	mu      sync.Mutex
	url     string
	actions []browser.Action
	closes  atomic.Int32
}

// NewSession returns a standalone fake session.
func NewSession(id string) *Session {
	return &Session{id: id}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Navigate(ctx context.Context, url string) (*browser.Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.url = url
	s.mu.Unlock()
	return &browser.Observation{URL: url, Timestamp: time.Now()}, nil
}

func (s *Session) Observe(ctx context.Context, opts browser.ObserveOptions) (*browser.Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	obs := s.page
	if s.url != "" {
		obs.URL = s.url
	}
	if opts.IncludeScreenshot {
		obs.Screenshot = s.screenshot
	}
	obs.Timestamp = time.Now()
	return &obs, nil
}

func (s *Session) Act(ctx context.Context, action browser.Action) (*browser.ActionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := action.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, action)
	if s.ActErr != nil {
		return nil, s.ActErr
	}
	if action.Type == browser.ActionNavigate {
		s.url = action.URL
	}
	return &browser.ActionResult{
		URL:     s.url,
		Effects: []browser.Effect{{Kind: string(action.Type)}},
	}, nil
}

// Close counts calls; it never fails.
func (s *Session) Close() error {
	s.closes.Add(1)
	return nil
}

// CloseCalls reports how many times Close reached this session.
func (s *Session) CloseCalls() int {
	return int(s.closes.Load())
}

// Actions returns the actions executed so far.
func (s *Session) Actions() []browser.Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]browser.Action(nil), s.actions...)
}
