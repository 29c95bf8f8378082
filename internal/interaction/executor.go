// Package interaction performs exactly one bounded interaction per
// expectation and fills its evidence bundle. The executor owns the timing
// discipline: before capture, action, settle delay, effect wait, after
// capture, finalize. It never decides what the evidence means; that is the
// classifier's job.
package interaction

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/verityscan/verity-cli/api/schemas"
	"github.com/verityscan/verity-cli/internal/browser"
	"github.com/verityscan/verity-cli/internal/config"
	"github.com/verityscan/verity-cli/internal/evidence"
	"github.com/verityscan/verity-cli/internal/selector"
)

// signalPollInterval is how often the effect-wait loop re-checks the cheap
// signals (URL, network log) before committing to the after capture.
const signalPollInterval = 250 * time.Millisecond

// errNoSubmitMechanism marks a form whose owning form exposed nothing to
// submit. It maps to the blocked cause: the page prevented the interaction,
// the pipeline did not fail to deliver it.
var errNoSubmitMechanism = errors.New("no submit mechanism")

// Executor runs single interactions against the live page.
type Executor struct {
	driver     browser.Driver
	logger     *zap.Logger
	stagingDir string

	effectWait        time.Duration
	settleDelay       time.Duration
	correlationWindow time.Duration
}

// New creates an executor writing evidence into stagingDir.
func New(driver browser.Driver, cfg config.VerifyConfig, stagingDir string, logger *zap.Logger) *Executor {
	return &Executor{
		driver:            driver,
		logger:            logger.Named("interaction"),
		stagingDir:        stagingDir,
		effectWait:        cfg.EffectWait,
		settleDelay:       cfg.SettleDelay,
		correlationWindow: cfg.CorrelationWindow,
	}
}

// Execute runs one attempt for the expectation and returns the sealed
// record together with its finalized evidence bundle. Execute itself only
// errors when the evidence lifecycle breaks; everything the page does wrong
// is recorded on the attempt, not returned.
func (e *Executor) Execute(ctx context.Context, expNum int, exp schemas.Expectation, res selector.Resolution) (schemas.InteractionAttempt, *evidence.Bundle, error) {
	attempt := schemas.InteractionAttempt{
		ID:            uuid.NewString(),
		ExpNum:        expNum,
		ExpectationID: exp.ID,
		StartedAt:     time.Now().UTC(),
	}
	bundle := evidence.NewBundle(e.stagingDir, expNum, e.logger)

	if err := e.captureBefore(ctx, bundle, expNum); err != nil {
		return attempt, bundle, err
	}

	action, actErr := e.act(ctx, bundle, exp, res)
	attempt.Action = action
	attempt.Attempted = action != schemas.ActionObserve

	switch {
	case !res.Found:
		attempt.Cause = schemas.CauseNotFound
		attempt.Reason = "no element matched the expectation's selector candidates"
	case !res.Interactable():
		attempt.Cause = schemas.CauseBlocked
		attempt.Reason = fmt.Sprintf("element %q exists but is not interactable (visible=%t enabled=%t)",
			res.Selector, res.Visible, res.Enabled)
	case errors.Is(actErr, errNoSubmitMechanism):
		attempt.Cause = schemas.CauseBlocked
		attempt.Reason = fmt.Sprintf("form owning %q exposed no submit mechanism", res.Selector)
	case actErr != nil:
		if errors.Is(actErr, context.DeadlineExceeded) {
			attempt.Cause = schemas.CauseTimeout
			attempt.Reason = "interaction exceeded its time budget"
		} else {
			attempt.Cause = schemas.CauseError
			attempt.Reason = fmt.Sprintf("interaction failed: %v", actErr)
		}
	}

	e.settleAndAwaitEffect(ctx, bundle, attempt.Attempted && actErr == nil)

	if err := e.captureAfter(ctx, bundle, expNum); err != nil {
		return attempt, bundle, err
	}
	if err := bundle.Finalize(
		e.driver.Events().NetworkSince(attempt.StartedAt),
		e.driver.Events().ConsoleSince(attempt.StartedAt),
		e.correlationWindow,
	); err != nil {
		return attempt, bundle, err
	}

	attempt.Signals = bundle.Signals()
	attempt.Evidence = bundle.Summary()
	attempt.EndedAt = time.Now().UTC()
	return attempt, bundle, nil
}

// captureBefore snapshots the pre-action page state. Screenshot and HTML
// failures degrade to warnings; URL failure is fatal because nothing else
// about the page can be trusted without it.
func (e *Executor) captureBefore(ctx context.Context, bundle *evidence.Bundle, expNum int) error {
	pc, err := e.capturePage(ctx, bundle, evidence.BeforeScreenshotName(expNum), "before")
	if err != nil {
		return err
	}
	return bundle.CaptureBefore(pc)
}

func (e *Executor) captureAfter(ctx context.Context, bundle *evidence.Bundle, expNum int) error {
	pc, err := e.capturePage(ctx, bundle, evidence.AfterScreenshotName(expNum), "after")
	if err != nil {
		return err
	}
	return bundle.CaptureAfter(pc)
}

func (e *Executor) capturePage(ctx context.Context, bundle *evidence.Bundle, shotName, side string) (evidence.PageCapture, error) {
	pc := evidence.PageCapture{CapturedAt: time.Now().UTC()}

	url, err := e.driver.CurrentURL(ctx)
	if err != nil {
		return pc, fmt.Errorf("failed to read %s-state URL: %w", side, err)
	}
	pc.URL = url

	if html, err := e.driver.HTML(ctx); err != nil {
		bundle.AddWarning(side+"-html-failed", "failed to capture %s-state DOM: %v", side, err)
	} else {
		pc.HTML = html
	}

	shotPath := filepath.Join(e.stagingDir, shotName)
	if err := e.driver.Screenshot(ctx, shotPath); err != nil {
		bundle.AddWarning(side+"-screenshot-failed", "failed to capture %s-state screenshot: %v", side, err)
	} else {
		pc.Screenshot = shotName
	}
	return pc, nil
}

// act performs the category-appropriate interaction, or observes when the
// element cannot receive one. The action interval always brackets the real
// dispatch so network correlation stays honest.
func (e *Executor) act(ctx context.Context, bundle *evidence.Bundle, exp schemas.Expectation, res selector.Resolution) (schemas.ActionKind, error) {
	start := time.Now().UTC()

	if !res.Interactable() {
		// Nothing to act on. The attempt still observes the page so the
		// verdict has evidence behind it.
		return schemas.ActionObserve, bundle.MarkActed(start, start)
	}

	var (
		kind schemas.ActionKind
		err  error
	)
	switch exp.Category {
	case schemas.CategoryForm, schemas.CategoryValidation:
		kind = schemas.ActionSubmit
		var fired bool
		fired, err = e.driver.Submit(ctx, res.Selector)
		if err == nil && !fired {
			// No fallback click: a form that exposes nothing to submit is a
			// blocked interaction, and dispatching a synthetic click here
			// would manufacture a clean-execution verdict downstream.
			bundle.AddWarning("no-submit-mechanism",
				"form owning %q exposed no submit mechanism", res.Selector)
			err = errNoSubmitMechanism
		}
	default:
		kind = schemas.ActionClick
		err = e.driver.Click(ctx, res.Selector)
	}

	end := time.Now().UTC()
	if terr := bundle.MarkActed(start, end); terr != nil {
		return kind, terr
	}
	if err != nil {
		e.logger.Debug("Interaction dispatch failed.",
			zap.String("selector", res.Selector), zap.String("action", string(kind)), zap.Error(err))
	}
	return kind, err
}

// settleAndAwaitEffect waits the fixed settle delay, then keeps watching the
// cheap signals (URL change, fresh network traffic) until one appears or the
// effect window closes. The expensive after capture happens exactly once,
// after this returns.
func (e *Executor) settleAndAwaitEffect(ctx context.Context, bundle *evidence.Bundle, acted bool) {
	if !sleepCtx(ctx, e.settleDelay) {
		return
	}
	if !acted {
		return
	}

	deadline := bundle.ActionStart().Add(e.effectWait)
	beforeURL := bundle.Before().URL
	for time.Now().Before(deadline) {
		if url, err := e.driver.CurrentURL(ctx); err == nil && url != beforeURL {
			return
		}
		if len(e.driver.Events().NetworkSince(bundle.ActionStart())) > 0 {
			return
		}
		if !sleepCtx(ctx, signalPollInterval) {
			return
		}
	}
}

// sleepCtx sleeps for d unless the context ends first. Returns false when the
// context ended.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
