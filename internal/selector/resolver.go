// Package selector resolves an expectation to a concrete, unambiguous page
// element before any interaction is attempted. Resolution never throws for
// "not there" outcomes; those are facts the classifier consumes.
package selector

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/verityscan/verity-cli/api/schemas"
	"github.com/verityscan/verity-cli/internal/browser"
)

// Resolution is the outcome of locating an expectation's element.
type Resolution struct {
	// Selector is the selector that actually matched (the hint or a derived
	// candidate). Empty when nothing matched.
	Selector string
	Found    bool
	Count    int
	Visible  bool
	Enabled  bool
	// Note carries a human-readable caveat, e.g. an ambiguity remark when
	// the selector matched more than one element.
	Note string
}

// Interactable reports whether the resolved element can receive the
// interaction.
func (r Resolution) Interactable() bool {
	return r.Found && r.Visible && r.Enabled
}

// Resolver locates expectation targets through the browser driver.
type Resolver struct {
	driver browser.Driver
	logger *zap.Logger
}

// New creates a resolver.
func New(driver browser.Driver, logger *zap.Logger) *Resolver {
	return &Resolver{
		driver: driver,
		logger: logger.Named("selector"),
	}
}

// Resolve probes the expectation's selector hint and, when the hint misses,
// a small set of candidates derived from the promise value. The candidate
// order is fixed so resolution is deterministic.
func (r *Resolver) Resolve(ctx context.Context, exp schemas.Expectation) (Resolution, error) {
	for _, sel := range candidates(exp) {
		probe, err := r.driver.Probe(ctx, sel)
		if err != nil {
			return Resolution{}, fmt.Errorf("selector probe failed: %w", err)
		}
		if probe.Count == 0 {
			continue
		}

		res := Resolution{
			Selector: sel,
			Found:    true,
			Count:    probe.Count,
			Visible:  probe.Visible,
			Enabled:  probe.Enabled,
		}
		if probe.Count > 1 {
			res.Note = fmt.Sprintf("selector %q matched %d elements; using the first", sel, probe.Count)
			r.logger.Debug("Ambiguous selector.", zap.String("selector", sel), zap.Int("count", probe.Count))
		}
		return res, nil
	}

	r.logger.Debug("No element found for expectation.",
		zap.String("expectation", exp.ID), zap.String("hint", exp.Selector))
	return Resolution{Note: "no selector candidate matched"}, nil
}

// candidates returns the ordered selector list for an expectation: the
// extractor's hint first, then attribute-derived fallbacks built from the
// promise value.
func candidates(exp schemas.Expectation) []string {
	var out []string
	if exp.Selector != "" {
		out = append(out, exp.Selector)
	}
	if v := exp.Promise.Value; v != "" {
		out = append(out,
			fmt.Sprintf(`[aria-label=%q]`, v),
			fmt.Sprintf(`[name=%q]`, v),
			fmt.Sprintf(`[title=%q]`, v),
		)
	}
	return out
}
