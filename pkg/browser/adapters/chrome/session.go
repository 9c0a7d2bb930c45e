package chrome

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/sirupsen/logrus"

	"github.com/odvcencio/browserbridge/pkg/browser"
)

const (
	defaultNavigationTimeout = 30 * time.Second
	maxWait                  = 10 * time.Second
	indexAttr                = "data-bb-index"
)

// markInteractive tags visible interactive elements with a stable index the
// agent can refer to, and returns how many were tagged.
const markInteractive = `(() => {
  document.querySelectorAll('[` + indexAttr + `]').forEach(e => e.removeAttribute('` + indexAttr + `'));
  const sel = 'a[href], button, input:not([type="hidden"]), textarea, select, summary, [role="button"], [role="link"], [role="tab"], [role="menuitem"], [onclick], [contenteditable="true"]';
  let i = 0;
  document.querySelectorAll(sel).forEach(e => {
    const r = e.getBoundingClientRect();
    const s = window.getComputedStyle(e);
    if (r.width === 0 || r.height === 0 || s.visibility === 'hidden' || s.display === 'none') return;
    e.setAttribute('` + indexAttr + `', String(i++));
  });
  return i;
})()`

// Session is a single Chrome instance driven through chromedp.
type Session struct {
	id                string
	browserCtx        context.Context
	browserCancel     context.CancelFunc
	allocCancel       context.CancelFunc
	window            browser.Viewport
	navigationTimeout time.Duration
	log               logrus.FieldLogger

	closeOnce sync.Once
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// start launches Chrome and opens the first tab. chromedp ties the browser
// process to the context of the first Run, so that call gets browserCtx
// itself; ctx only bounds the launch, by closing the session if it ends first.
func (s *Session) start(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	err := chromedp.Run(s.browserCtx, chromedp.Navigate("about:blank"))
	if !stop() {
		// ctx ended during the launch and the session is being closed.
		return ctx.Err()
	}
	return err
}

// run executes actions on the browser tab, aborting when ctx ends without
// tearing the browser down.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(s.browserCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (s *Session) timeout() time.Duration {
	if s.navigationTimeout > 0 {
		return s.navigationTimeout
	}
	return defaultNavigationTimeout
}

// Navigate loads url and reports where the browser ended up.
func (s *Session) Navigate(ctx context.Context, url string) (*browser.Observation, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout())
	defer cancel()

	var loc, title string
	if err := s.run(ctx,
		chromedp.Navigate(url),
		chromedp.Location(&loc),
		chromedp.Title(&title),
	); err != nil {
		return nil, fmt.Errorf("navigate %s: %w", url, err)
	}
	return &browser.Observation{URL: loc, Title: title, Timestamp: time.Now()}, nil
}

// Observe captures the page state: location, indexed interactive elements,
// visible text and, if requested, a viewport screenshot.
func (s *Session) Observe(ctx context.Context, opts browser.ObserveOptions) (*browser.Observation, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout())
	defer cancel()

	var (
		loc, title, html string
		tagged           int
		shot             []byte
	)
	actions := []chromedp.Action{
		chromedp.Location(&loc),
		chromedp.Title(&title),
		chromedp.Evaluate(markInteractive, &tagged),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if opts.IncludeScreenshot {
		actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			shot, err = cdppage.CaptureScreenshot().
				WithFormat(cdppage.CaptureScreenshotFormatPng).
				Do(ctx)
			return err
		}))
	}
	if err := s.run(ctx, actions...); err != nil {
		return nil, fmt.Errorf("observe: %w", err)
	}

	snap, err := parseSnapshot(html, opts.MaxTextBytes)
	if err != nil {
		return nil, fmt.Errorf("observe: %w", err)
	}

	obs := &browser.Observation{
		URL:       loc,
		Title:     title,
		Text:      snap.Text,
		Elements:  snap.Elements,
		Timestamp: time.Now(),
	}
	if len(shot) > 0 {
		obs.Screenshot = base64.StdEncoding.EncodeToString(shot)
	}
	s.log.WithFields(logrus.Fields{
		"url":      loc,
		"elements": tagged,
	}).Debug("observed page")
	return obs, nil
}

func selector(index int) string {
	return `[` + indexAttr + `="` + strconv.Itoa(index) + `"]`
}

// exists reports whether an indexed element is on the page.
func (s *Session) exists(ctx context.Context, index int) (bool, error) {
	var found bool
	script := fmt.Sprintf(`document.querySelector(%q) !== null`, selector(index))
	if err := s.run(ctx, chromedp.Evaluate(script, &found)); err != nil {
		return false, err
	}
	return found, nil
}

// Act performs action on the current page.
func (s *Session) Act(ctx context.Context, action browser.Action) (*browser.ActionResult, error) {
	if err := action.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout())
	defer cancel()

	if action.Type == browser.ActionClick || action.Type == browser.ActionTypeText {
		found, err := s.exists(ctx, action.Index)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", action.Type, err)
		}
		if !found {
			return nil, fmt.Errorf("%w: %d", browser.ErrUnknownElement, action.Index)
		}
	}

	var (
		tasks   chromedp.Tasks
		summary string
	)
	switch action.Type {
	case browser.ActionNavigate:
		tasks = chromedp.Tasks{chromedp.Navigate(action.URL)}
		summary = "navigated to " + action.URL
	case browser.ActionClick:
		sel := selector(action.Index)
		tasks = chromedp.Tasks{
			chromedp.ScrollIntoView(sel, chromedp.ByQuery),
			chromedp.Click(sel, chromedp.ByQuery),
		}
		summary = fmt.Sprintf("clicked element %d", action.Index)
	case browser.ActionTypeText:
		sel := selector(action.Index)
		tasks = chromedp.Tasks{
			chromedp.Focus(sel, chromedp.ByQuery),
			chromedp.SetValue(sel, "", chromedp.ByQuery),
			chromedp.SendKeys(sel, action.Text, chromedp.ByQuery),
		}
		if action.Submit {
			tasks = append(tasks, chromedp.SendKeys(sel, kb.Enter, chromedp.ByQuery))
		}
		summary = fmt.Sprintf("typed into element %d", action.Index)
	case browser.ActionScroll:
		tasks = chromedp.Tasks{s.scroll(action.Direction)}
		summary = "scrolled " + string(scrollDirection(action.Direction))
	case browser.ActionBack:
		tasks = chromedp.Tasks{chromedp.NavigateBack()}
		summary = "went back"
	case browser.ActionWait:
		d := action.Wait
		if d <= 0 {
			d = time.Second
		}
		if d > maxWait {
			d = maxWait
		}
		tasks = chromedp.Tasks{chromedp.Sleep(d)}
		summary = "waited " + d.String()
	}

	var loc string
	tasks = append(tasks, chromedp.Location(&loc))
	if err := s.run(ctx, tasks); err != nil {
		return nil, fmt.Errorf("%s: %w", action.Type, err)
	}

	return &browser.ActionResult{
		URL:     loc,
		Effects: []browser.Effect{{Kind: string(action.Type), Summary: summary}},
	}, nil
}

func scrollDirection(d browser.ScrollDirection) browser.ScrollDirection {
	if d == "" {
		return browser.ScrollDown
	}
	return d
}

// scroll dispatches a mouse wheel event at the viewport center.
func (s *Session) scroll(direction browser.ScrollDirection) chromedp.Action {
	w, h := s.window.Width, s.window.Height
	if w <= 0 || h <= 0 {
		w, h = browser.DefaultConfig().WindowSize.Width, browser.DefaultConfig().WindowSize.Height
	}
	delta := float64(h) * 0.8
	if scrollDirection(direction) == browser.ScrollUp {
		delta = -delta
	}
	return chromedp.ActionFunc(func(ctx context.Context) error {
		return input.DispatchMouseEvent(input.MouseWheel, float64(w)/2, float64(h)/2).
			WithDeltaX(0).
			WithDeltaY(delta).
			Do(ctx)
	})
}

// Close shuts the browser down. Safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = chromedp.Cancel(s.browserCtx)
		s.browserCancel()
		s.allocCancel()
		s.log.Debug("browser session closed")
	})
	return err
}
