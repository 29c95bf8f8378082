// internal/browser/session/session.go
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/verityscan/verity-cli/internal/browser"
	"github.com/verityscan/verity-cli/internal/config"
)

const defaultActionTimeout = 30 * time.Second

// Session is the chromedp-backed implementation of browser.Driver. One
// session owns one page; the event monitor is registered exactly once at
// construction and appends to the session's EventLog for the page's lifetime.
type Session struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
	events *browser.EventLog

	navigationWait time.Duration
	allocCancel    context.CancelFunc
}

var _ browser.Driver = (*Session)(nil)

// New launches a browser and attaches the network/console monitor with the
// read-only request policy enforced. The caller must Close the session.
func New(parent context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Session, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-background-networking", true),
	)
	if cfg.IgnoreTLSErrors {
		opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
	}
	for _, arg := range cfg.Args {
		opts = append(opts, chromedp.Flag(arg, true))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, opts...)
	ctx, cancel := chromedp.NewContext(allocCtx)

	navWait := cfg.NavigationWait
	if navWait <= 0 {
		navWait = defaultActionTimeout
	}
	s := &Session{
		ctx:            ctx,
		cancel:         cancel,
		logger:         logger.Named("session"),
		events:         browser.NewEventLog(),
		navigationWait: navWait,
		allocCancel:    allocCancel,
	}

	monitor := newMonitor(ctx, s.events, s.logger)
	monitor.listen()

	// Starting the browser eagerly surfaces launch failures here instead of
	// at the first interaction.
	if err := chromedp.Run(ctx, monitor.enableActions()...); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start browser session: %w", err)
	}

	return s, nil
}

// Close tears down the page and the browser process.
func (s *Session) Close() {
	s.cancel()
	s.allocCancel()
}

// Events returns the session's append-only event log.
func (s *Session) Events() *browser.EventLog {
	return s.events
}

// run executes chromedp actions against the session context while honoring
// the caller's operational context. The session context carries the CDP
// connection values, so it must be the base; the operational context only
// contributes cancellation.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-stop:
		}
	}()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		// Report the operational context's error when it caused the abort.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// Navigate loads the target URL and waits for the load event.
func (s *Session) Navigate(ctx context.Context, url string) error {
	opCtx, cancel := context.WithTimeout(ctx, s.navigationWait)
	defer cancel()
	if err := s.run(opCtx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

// probeScript reports count/visibility/enabled for the first match of a
// selector. Visibility follows the same computed-style rules the interaction
// layer uses, so a probe and a click never disagree.
const probeScript = `
	(function(sel) {
		let nodes;
		try { nodes = document.querySelectorAll(sel); } catch (e) { return {count: 0, visible: false, enabled: false}; }
		if (nodes.length === 0) return {count: 0, visible: false, enabled: false};
		const node = nodes[0];
		const rect = node.getBoundingClientRect();
		const style = window.getComputedStyle(node);
		const visible = rect.width > 0 && rect.height > 0 &&
			style.display !== 'none' && style.visibility !== 'hidden' && style.opacity !== '0';
		const enabled = !node.disabled && node.getAttribute('aria-disabled') !== 'true' &&
			!node.hasAttribute('readonly');
		return {count: nodes.length, visible: visible, enabled: enabled};
	})(%s);
`

// Probe locates a selector and reports how interactable it is.
func (s *Session) Probe(ctx context.Context, selector string) (browser.ElementProbe, error) {
	var res json.RawMessage
	err := s.evaluate(ctx, fmt.Sprintf(probeScript, jsonEncode(selector)), &res)
	if err != nil {
		return browser.ElementProbe{}, fmt.Errorf("probe failed for %q: %w", selector, err)
	}

	var probe struct {
		Count   int  `json:"count"`
		Visible bool `json:"visible"`
		Enabled bool `json:"enabled"`
	}
	if err := json.Unmarshal(res, &probe); err != nil {
		return browser.ElementProbe{}, fmt.Errorf("failed to decode probe result for %q: %w", selector, err)
	}
	return browser.ElementProbe{Count: probe.Count, Visible: probe.Visible, Enabled: probe.Enabled}, nil
}

// Click scrolls the element into view and clicks it.
func (s *Session) Click(ctx context.Context, selector string) error {
	opCtx, cancel := context.WithTimeout(ctx, defaultActionTimeout)
	defer cancel()
	err := s.run(opCtx,
		chromedp.ScrollIntoView(selector, chromedp.ByQuery),
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
	)
	if err != nil {
		if opCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("click timed out for selector %q: %w", selector, opCtx.Err())
		}
		return fmt.Errorf("click failed for selector %q: %w", selector, err)
	}
	return nil
}

// Fill types text into the element.
func (s *Session) Fill(ctx context.Context, selector, value string) error {
	opCtx, cancel := context.WithTimeout(ctx, defaultActionTimeout)
	defer cancel()
	err := s.run(opCtx,
		chromedp.ScrollIntoView(selector, chromedp.ByQuery),
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("fill failed for selector %q: %w", selector, err)
	}
	return nil
}

// Press sends a single key to the element.
func (s *Session) Press(ctx context.Context, selector, key string) error {
	opCtx, cancel := context.WithTimeout(ctx, defaultActionTimeout)
	defer cancel()
	if err := s.run(opCtx, chromedp.SendKeys(selector, key, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("key press failed for selector %q: %w", selector, err)
	}
	return nil
}

// submitScript walks from the selector to its owning form and fires the
// form's submit mechanism. Returns true only if a mechanism existed.
const submitScript = `
	(function(sel) {
		const el = document.querySelector(sel);
		if (!el) return false;
		const form = el.form || el.closest('form');
		if (!form) {
			// The element itself may be the submit control outside a form.
			if (el.matches('button[type=submit], input[type=submit]')) { el.click(); return true; }
			return false;
		}
		if (typeof form.requestSubmit === 'function') { form.requestSubmit(); return true; }
		const btn = form.querySelector('button[type=submit], input[type=submit], button:not([type])');
		if (btn) { btn.click(); return true; }
		return false;
	})(%s);
`

// Submit triggers the submit mechanism owning the selector, if one exists.
func (s *Session) Submit(ctx context.Context, selector string) (bool, error) {
	var res json.RawMessage
	if err := s.evaluate(ctx, fmt.Sprintf(submitScript, jsonEncode(selector)), &res); err != nil {
		return false, fmt.Errorf("submit failed for selector %q: %w", selector, err)
	}
	var fired bool
	if err := json.Unmarshal(res, &fired); err != nil {
		return false, fmt.Errorf("failed to decode submit result for %q: %w", selector, err)
	}
	return fired, nil
}

// Screenshot captures the viewport to a PNG file.
func (s *Session) Screenshot(ctx context.Context, path string) error {
	opCtx, cancel := context.WithTimeout(ctx, defaultActionTimeout)
	defer cancel()
	var buf []byte
	if err := s.run(opCtx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return fmt.Errorf("screenshot capture failed: %w", err)
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("failed to write screenshot %s: %w", path, err)
	}
	return nil
}

// HTML returns the full serialized document.
func (s *Session) HTML(ctx context.Context) (string, error) {
	opCtx, cancel := context.WithTimeout(ctx, defaultActionTimeout)
	defer cancel()
	var content string
	if err := s.run(opCtx, chromedp.OuterHTML("html", &content, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to read document: %w", err)
	}
	return content, nil
}

// CurrentURL returns the page's current location.
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	opCtx, cancel := context.WithTimeout(ctx, defaultActionTimeout)
	defer cancel()
	var loc string
	if err := s.run(opCtx, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("failed to read location: %w", err)
	}
	return loc, nil
}

// evaluate runs a JS expression with the standard evaluation options.
func (s *Session) evaluate(ctx context.Context, script string, res *json.RawMessage) error {
	opCtx, cancel := context.WithTimeout(ctx, defaultActionTimeout)
	defer cancel()
	return s.run(opCtx,
		chromedp.Evaluate(script, res, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithReturnByValue(true).WithAwaitPromise(true).WithSilent(true)
		}),
	)
}

// jsonEncode safely encodes a value (especially strings) for JS injection.
func jsonEncode(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return `""`
	}
	return string(b)
}
