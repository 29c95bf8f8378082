// Package classify turns a sealed interaction attempt into a verdict: did
// the expectation's promised outcome appear, and if not, why. The whole
// package is a deterministic decision table over attempt data; it performs
// no I/O and consults no external state.
package classify

import (
	"fmt"

	"github.com/verityscan/verity-cli/api/schemas"
)

// Verdict is the classification outcome for one attempt.
type Verdict struct {
	// OutcomeMatched reports whether the promised outcome kind appeared.
	OutcomeMatched bool
	// Failed means the attempt produced a candidate finding.
	Failed bool

	Cause       schemas.Cause
	Reason      string
	Type        schemas.FindingType
	Status      schemas.TruthStatus
	Severity    schemas.Severity
	Description string
}

// findingTypes maps an expectation category to the failure class its broken
// promise represents.
var findingTypes = map[schemas.Category]schemas.FindingType{
	schemas.CategoryButton:     schemas.FindingSilentButton,
	schemas.CategoryForm:       schemas.FindingSilentForm,
	schemas.CategoryValidation: schemas.FindingSilentValidation,
	schemas.CategoryNavigation: schemas.FindingBrokenNavigation,
	schemas.CategoryState:      schemas.FindingStaleState,
	schemas.CategoryNetwork:    schemas.FindingMissingNetwork,
}

// findingSeverities is the fixed severity table per failure class.
var findingSeverities = map[schemas.FindingType]schemas.Severity{
	schemas.FindingSilentButton:     schemas.SeverityHigh,
	schemas.FindingSilentForm:       schemas.SeverityHigh,
	schemas.FindingSilentValidation: schemas.SeverityMedium,
	schemas.FindingBrokenNavigation: schemas.SeverityHigh,
	schemas.FindingStaleState:       schemas.SeverityMedium,
	schemas.FindingMissingNetwork:   schemas.SeverityMedium,
}

// OutcomeMatched applies the outcome-matching policy for one expected
// outcome kind. The ui-change default is a deliberately broad OR: a missing
// annotation must never manufacture a false positive.
func OutcomeMatched(kind schemas.OutcomeKind, s schemas.Signals) bool {
	switch kind {
	case schemas.OutcomeNavigation:
		return s.NavigationChanged
	case schemas.OutcomeFeedback:
		return s.FeedbackSeen
	case schemas.OutcomeNetwork:
		return s.CorrelatedNetworkActivity || s.NetworkActivity
	default:
		return s.NavigationChanged || s.MeaningfulDOMChange ||
			s.FeedbackSeen || s.CorrelatedNetworkActivity
	}
}

// Classify produces the verdict for a sealed attempt. Pre-action causes set
// by the executor (not-found, blocked, timeout, error) stick; for clean
// executions the cause is derived from the matched/unmatched outcome and the
// observed signals.
func Classify(exp schemas.Expectation, attempt schemas.InteractionAttempt) Verdict {
	matched := OutcomeMatched(exp.Outcome(), attempt.Signals)
	ftype := findingTypes[exp.Category]
	if ftype == "" {
		ftype = schemas.FindingSilentButton
	}

	v := Verdict{
		OutcomeMatched: matched,
		Type:           ftype,
		Severity:       findingSeverities[ftype],
	}

	switch attempt.Cause {
	case schemas.CauseNotFound, schemas.CauseBlocked, schemas.CauseError:
		// The interaction never cleanly ran. These are observations, not
		// demonstrations, so they are only ever suspected.
		v.Failed = true
		v.Cause = attempt.Cause
		v.Reason = attempt.Reason
		v.Status = schemas.StatusSuspected
		v.Description = describe(exp, v.Cause, attempt.Reason)
		return v

	case schemas.CauseTimeout:
		// Budget exhaustion recorded by the runner before the attempt ran.
		v.Failed = true
		v.Cause = schemas.CauseTimeout
		v.Reason = attempt.Reason
		v.Status = schemas.StatusSuspected
		v.Description = describe(exp, v.Cause, attempt.Reason)
		return v
	}

	if matched {
		return v
	}

	// The action ran and the promised outcome never appeared. Silent failure.
	v.Failed = true
	v.Status = schemas.StatusConfirmed
	switch {
	case attempt.Action == schemas.ActionSubmit:
		v.Cause = schemas.CausePreventedSubmit
		v.Reason = "form submit fired but the expected outcome never appeared"
	case attempt.Signals.Any():
		v.Cause = schemas.CauseNoChange
		v.Reason = fmt.Sprintf("page reacted but not with the expected %q outcome", exp.Outcome())
	default:
		v.Cause = schemas.CauseTimeout
		v.Reason = "effect window elapsed with no observable outcome"
	}
	v.Description = describe(exp, v.Cause, v.Reason)
	return v
}

// describe renders the finding's one-line description.
func describe(exp schemas.Expectation, cause schemas.Cause, reason string) string {
	label := exp.Promise.Value
	if label == "" {
		label = exp.Selector
	}
	if label == "" {
		label = exp.ID
	}
	return fmt.Sprintf("%s %q promised a %s outcome but delivered none (%s): %s",
		exp.Category, label, exp.Outcome(), cause, reason)
}
