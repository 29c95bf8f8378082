// Package evidence owns the capture context for one interaction attempt: the
// before/after page state, the DOM diff, the network/console evidence, and
// the derived signals. A Bundle is exclusively owned by the attempt that
// created it and moves through an explicit state machine; filling fields in
// an implicit order is not possible.
package evidence

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/verityscan/verity-cli/api/schemas"
)

var jsonx = jsoniter.ConfigCompatibleWithStandardLibrary

// State is the bundle lifecycle position.
type State string

const (
	StateOpened         State = "OPENED"
	StateCapturedBefore State = "CAPTURED_BEFORE"
	StateActed          State = "ACTED"
	StateCapturedAfter  State = "CAPTURED_AFTER"
	StateFinalized      State = "FINALIZED"
)

// ErrIllegalTransition means bundle methods were called out of order or a
// finalized bundle was touched again. This is a programming error in the
// caller, not an evidence failure.
var ErrIllegalTransition = errors.New("illegal evidence bundle transition")

// Evidence file naming, shared with the artifact whitelist.

func BeforeScreenshotName(expNum int) string { return fmt.Sprintf("exp_%d_before.png", expNum) }
func AfterScreenshotName(expNum int) string  { return fmt.Sprintf("exp_%d_after.png", expNum) }
func DOMDiffName(expNum int) string          { return fmt.Sprintf("exp_%d_dom_diff.json", expNum) }
func NetworkName(expNum int) string          { return fmt.Sprintf("exp_%d_network.json", expNum) }
func ConsoleErrorsName(expNum int) string    { return fmt.Sprintf("exp_%d_console_errors.json", expNum) }

// PageCapture is one side of the before/after page state.
type PageCapture struct {
	URL        string
	HTML       string
	Screenshot string
	CapturedAt time.Time
}

// Bundle accumulates evidence for exactly one attempt and is finalized
// exactly once.
type Bundle struct {
	expNum int
	dir    string
	logger *zap.Logger

	state State

	before      PageCapture
	after       PageCapture
	actionStart time.Time
	actionEnd   time.Time

	diff    schemas.DOMDiff
	network []schemas.NetworkEvent
	console []schemas.ConsoleError
	signals schemas.Signals

	// warnMu guards warnings: persistDerived appends from its worker
	// goroutines while they race each other.
	warnMu   sync.Mutex
	warnings []schemas.CaptureWarning

	startedAt time.Time
	endedAt   time.Time
}

// NewBundle opens a bundle rooted at the run's staging directory.
func NewBundle(dir string, expNum int, logger *zap.Logger) *Bundle {
	return &Bundle{
		expNum:    expNum,
		dir:       dir,
		logger:    logger.Named("evidence"),
		state:     StateOpened,
		startedAt: time.Now().UTC(),
	}
}

func (b *Bundle) transition(from, to State) error {
	if b.state != from {
		return fmt.Errorf("%w: %s -> %s (current state %s)", ErrIllegalTransition, from, to, b.state)
	}
	b.state = to
	return nil
}

// State returns the current lifecycle position.
func (b *Bundle) State() State { return b.state }

// ExpNum returns the attempt's expectation number.
func (b *Bundle) ExpNum() int { return b.expNum }

// CaptureBefore records the pre-action page state.
func (b *Bundle) CaptureBefore(pc PageCapture) error {
	if err := b.transition(StateOpened, StateCapturedBefore); err != nil {
		return err
	}
	b.before = pc
	return nil
}

// MarkActed records the action execution interval.
func (b *Bundle) MarkActed(start, end time.Time) error {
	if err := b.transition(StateCapturedBefore, StateActed); err != nil {
		return err
	}
	b.actionStart = start
	b.actionEnd = end
	return nil
}

// CaptureAfter records the post-settle page state.
func (b *Bundle) CaptureAfter(pc PageCapture) error {
	if err := b.transition(StateActed, StateCapturedAfter); err != nil {
		return err
	}
	b.after = pc
	return nil
}

// AddWarning attaches a best-effort capture failure to the bundle. Warnings
// are evidence-completeness metadata; they never fail the attempt.
func (b *Bundle) AddWarning(code, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	b.warnMu.Lock()
	b.warnings = append(b.warnings, schemas.CaptureWarning{Code: code, Message: msg})
	b.warnMu.Unlock()
	b.logger.Warn("Evidence capture warning.", zap.String("code", code), zap.String("message", msg))
}

// Finalize seals the bundle: computes the DOM diff, correlates the network
// events against the action window, derives signals, and persists the
// derived evidence files exactly once. Persistence failures become capture
// warnings, not errors; the sealed in-memory evidence is the source of truth
// for classification.
func (b *Bundle) Finalize(network []schemas.NetworkEvent, console []schemas.ConsoleError, window time.Duration) error {
	if err := b.transition(StateCapturedAfter, StateFinalized); err != nil {
		return err
	}
	b.endedAt = time.Now().UTC()

	b.diff = ComputeDiff(b.before.HTML, b.after.HTML)
	b.network = CorrelateNetwork(network, b.actionStart, window)
	b.console = console
	b.signals = DeriveSignals(b.before.URL, b.after.URL, b.diff, b.network)

	b.persistDerived()
	return nil
}

// persistDerived writes the diff/network/console JSON files. Directory
// creation is idempotent; the three writes run in parallel and each failure
// is surfaced as a structured warning.
func (b *Bundle) persistDerived() {
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		b.AddWarning("evidence-dir-failed", "failed to create evidence directory %s: %v", b.dir, err)
		return
	}

	var g errgroup.Group
	write := func(name string, payload interface{}, code string) {
		g.Go(func() error {
			data, err := jsonx.MarshalIndent(payload, "", "  ")
			if err == nil {
				err = os.WriteFile(filepath.Join(b.dir, name), data, 0o644)
			}
			if err != nil {
				b.AddWarning(code, "failed to persist %s: %v", name, err)
			}
			return nil // Best-effort by policy; warnings carry the failure.
		})
	}

	write(DOMDiffName(b.expNum), b.diff, "diff-write-failed")
	write(NetworkName(b.expNum), b.network, "network-write-failed")
	write(ConsoleErrorsName(b.expNum), b.console, "console-write-failed")
	_ = g.Wait()
}

// -- Sealed accessors --

func (b *Bundle) Before() PageCapture                   { return b.before }
func (b *Bundle) After() PageCapture                    { return b.after }
func (b *Bundle) ActionStart() time.Time                { return b.actionStart }
func (b *Bundle) Diff() schemas.DOMDiff                 { return b.diff }
func (b *Bundle) Signals() schemas.Signals              { return b.signals }
func (b *Bundle) NetworkEvents() []schemas.NetworkEvent { return b.network }
func (b *Bundle) ConsoleErrors() []schemas.ConsoleError { return b.console }
func (b *Bundle) Warnings() []schemas.CaptureWarning {
	b.warnMu.Lock()
	defer b.warnMu.Unlock()
	out := make([]schemas.CaptureWarning, len(b.warnings))
	copy(out, b.warnings)
	return out
}

// Summary collapses the bundle into the attempt-level evidence record.
func (b *Bundle) Summary() schemas.EvidenceSummary {
	blocked := 0
	for _, ev := range b.network {
		if ev.Blocked {
			blocked++
		}
	}
	s := schemas.EvidenceSummary{
		BeforeScreenshot: b.before.Screenshot,
		AfterScreenshot:  b.after.Screenshot,
		BeforeURL:        b.before.URL,
		AfterURL:         b.after.URL,
		NetworkEvents:    len(b.network),
		BlockedRequests:  blocked,
		ConsoleErrors:    len(b.console),
		Warnings:         b.Warnings(),
	}
	if b.state == StateFinalized {
		s.DOMDiffFile = DOMDiffName(b.expNum)
		s.NetworkFile = NetworkName(b.expNum)
		s.ConsoleFile = ConsoleErrorsName(b.expNum)
	}
	return s
}
