// Package chrome implements the browser port on top of a local Chrome or
// Chromium driven through the DevTools protocol.
package chrome

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/sirupsen/logrus"

	"github.com/odvcencio/browserbridge/pkg/browser"
	"github.com/odvcencio/browserbridge/pkg/logging"
)

const defaultLaunchTimeout = 30 * time.Second

// Runtime launches one Chrome process per session.
type Runtime struct {
	log           logrus.FieldLogger
	launchTimeout time.Duration
	execPath      string
}

// execCandidates mirrors the binaries chromedp probes when no path is given.
var execCandidates = []string{
	"headless-shell",
	"chromium",
	"chromium-browser",
	"google-chrome",
	"google-chrome-stable",
	"chrome",
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the logger used for browser lifecycle messages.
func WithLogger(log logrus.FieldLogger) Option {
	return func(r *Runtime) {
		if log != nil {
			r.log = logging.For(log, logging.CategoryBrowser)
		}
	}
}

// WithLaunchTimeout bounds how long NewSession waits for Chrome to start.
func WithLaunchTimeout(d time.Duration) Option {
	return func(r *Runtime) {
		if d > 0 {
			r.launchTimeout = d
		}
	}
}

// WithExecPath sets the Chrome binary used when a session config names none.
func WithExecPath(path string) Option {
	return func(r *Runtime) {
		r.execPath = path
	}
}

// NewRuntime creates a chromedp-backed runtime.
func NewRuntime(opts ...Option) *Runtime {
	r := &Runtime{
		log:           logging.For(nil, logging.CategoryBrowser),
		launchTimeout: defaultLaunchTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// allocatorOptions translates a session config into Chrome flags.
func allocatorOptions(cfg browser.Config) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if !cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.WindowSize.Width > 0 && cfg.WindowSize.Height > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.WindowSize.Width, cfg.WindowSize.Height))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	return opts
}

// NewSession starts a browser. The browser outlives ctx; only Close ends it.
// ctx bounds the launch itself.
func (r *Runtime) NewSession(ctx context.Context, cfg browser.Config) (browser.Session, error) {
	if r == nil {
		return nil, browser.ErrUnavailable
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if cfg.ExecPath == "" {
		cfg.ExecPath = r.execPath
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(cfg)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(r.log.WithField("session_id", cfg.SessionID).Debugf),
		chromedp.WithErrorf(r.log.WithField("session_id", cfg.SessionID).Warnf),
	)

	sess := &Session{
		id:                cfg.SessionID,
		browserCtx:        browserCtx,
		browserCancel:     browserCancel,
		allocCancel:       allocCancel,
		window:            cfg.WindowSize,
		navigationTimeout: cfg.NavigationTimeout,
		log:               r.log.WithField("session_id", cfg.SessionID),
	}

	launchCtx, cancel := context.WithTimeout(ctx, r.launchTimeout)
	defer cancel()
	if err := sess.start(launchCtx); err != nil {
		_ = sess.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: launch chrome: %v", browser.ErrUnavailable, err)
	}

	sess.log.WithFields(logrus.Fields{
		"headless": cfg.Headless,
		"width":    cfg.WindowSize.Width,
		"height":   cfg.WindowSize.Height,
	}).Debug("browser session started")
	return sess, nil
}

// Check reports whether a Chrome binary can be found.
func (r *Runtime) Check(ctx context.Context) error {
	if r == nil {
		return browser.ErrUnavailable
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.execPath != "" {
		if _, err := exec.LookPath(r.execPath); err != nil {
			return fmt.Errorf("%w: %v", browser.ErrUnavailable, err)
		}
		return nil
	}
	for _, name := range execCandidates {
		if _, err := exec.LookPath(name); err == nil {
			return nil
		}
	}
	return fmt.Errorf("%w: no chrome binary on PATH", browser.ErrUnavailable)
}

// Close is a no-op; each session owns its own Chrome process.
func (r *Runtime) Close() error {
	return nil
}
