// Package findings assembles evidence packages and enforces the hard lock:
// a CONFIRMED finding without a structurally complete evidence package is a
// contract violation that must abort finding construction, never a warning.
package findings

import (
	"fmt"
	"strings"
	"time"

	"github.com/verityscan/verity-cli/api/schemas"
	"github.com/verityscan/verity-cli/internal/evidence"
)

// TriggerSource identifies where expectations come from. There is currently
// exactly one producer.
const TriggerSource = "expectation-extractor"

// requiredFields is the fixed completeness contract. Field names are the
// package's serialized paths; they appear verbatim in MissingEvidence.
var requiredFields = []string{
	"trigger.source",
	"before.screenshot",
	"after.screenshot",
	"before.url",
	"after.url",
	"action.interaction",
	"signals.network",
	"signals.uiSignals",
}

// EvidenceLawError is the distinguished hard-lock violation. It must
// propagate out of the pipeline; any handler that swallows it is a
// correctness bug.
type EvidenceLawError struct {
	ExpectationID string
	Missing       []string
}

func (e *EvidenceLawError) Error() string {
	return fmt.Sprintf("evidence law violation: CONFIRMED finding for expectation %q lacks complete evidence (missing: %s)",
		e.ExpectationID, strings.Join(e.Missing, ", "))
}

// BuildInput is the material one attempt contributes to its package.
type BuildInput struct {
	Expectation schemas.Expectation
	Attempt     schemas.InteractionAttempt
	// Selector is the resolved selector the action targeted, when one
	// resolved.
	Selector string
	Network  []schemas.NetworkEvent
}

// Build assembles the package. It always succeeds structurally: missing
// material produces entries in MissingEvidence, never an error.
func Build(in BuildInput) *schemas.EvidencePackage {
	pkg := &schemas.EvidencePackage{
		Trigger: &schemas.EvidenceTrigger{
			Source:        TriggerSource,
			ExpectationID: in.Expectation.ID,
			Category:      in.Expectation.Category,
		},
		Before: &schemas.EvidencePageState{
			Screenshot: in.Attempt.Evidence.BeforeScreenshot,
			URL:        in.Attempt.Evidence.BeforeURL,
		},
		After: &schemas.EvidencePageState{
			Screenshot: in.Attempt.Evidence.AfterScreenshot,
			URL:        in.Attempt.Evidence.AfterURL,
		},
		Action: &schemas.EvidenceAction{
			Interaction: string(in.Attempt.Action),
			Selector:    in.Selector,
			PerformedAt: in.Attempt.StartedAt,
		},
		Signals: &schemas.EvidenceSignals{
			Network:   summarizeNetwork(in.Network),
			UISignals: signalsCopy(in.Attempt.Signals),
		},
	}
	pkg.MissingEvidence = missing(pkg)
	pkg.IsComplete = len(pkg.MissingEvidence) == 0
	return pkg
}

// ValidateStrict is the hard lock. For CONFIRMED severity it returns a
// *EvidenceLawError when the package is absent or incomplete; for every
// other status it is a no-op.
func ValidateStrict(pkg *schemas.EvidencePackage, status schemas.TruthStatus, expectationID string) error {
	if status != schemas.StatusConfirmed {
		return nil
	}
	if pkg == nil {
		return &EvidenceLawError{ExpectationID: expectationID, Missing: requiredFields}
	}
	if !pkg.IsComplete {
		return &EvidenceLawError{ExpectationID: expectationID, Missing: pkg.MissingEvidence}
	}
	return nil
}

// BuildAndEnforce is the orchestration entry point: build, then either hard
// lock (CONFIRMED) or annotate the soft incompleteness path. The returned
// error is always a *EvidenceLawError and must not be caught generically.
func BuildAndEnforce(in BuildInput, status schemas.TruthStatus) (*schemas.EvidencePackage, error) {
	pkg := Build(in)

	if status == schemas.StatusConfirmed {
		if err := ValidateStrict(pkg, status, in.Expectation.ID); err != nil {
			return nil, err
		}
		return pkg, nil
	}

	if !pkg.IsComplete {
		var codes []string
		for _, w := range in.Attempt.Evidence.Warnings {
			codes = append(codes, w.Code)
		}
		pkg.Justification = fmt.Sprintf("evidence incomplete (missing: %s)", strings.Join(pkg.MissingEvidence, ", "))
		if len(codes) > 0 {
			pkg.Justification += fmt.Sprintf("; capture warnings: %s", strings.Join(codes, ", "))
		}
	}
	return pkg, nil
}

// missing checks the package against the required-field contract, in
// contract order.
func missing(pkg *schemas.EvidencePackage) []string {
	var out []string
	present := map[string]bool{
		"trigger.source":     pkg.Trigger != nil && pkg.Trigger.Source != "",
		"before.screenshot":  pkg.Before != nil && pkg.Before.Screenshot != "",
		"after.screenshot":   pkg.After != nil && pkg.After.Screenshot != "",
		"before.url":         pkg.Before != nil && pkg.Before.URL != "",
		"after.url":          pkg.After != nil && pkg.After.URL != "",
		"action.interaction": pkg.Action != nil && pkg.Action.Interaction != "",
		"signals.network":    pkg.Signals != nil && pkg.Signals.Network != nil,
		"signals.uiSignals":  pkg.Signals != nil && pkg.Signals.UISignals != nil,
	}
	for _, field := range requiredFields {
		if !present[field] {
			out = append(out, field)
		}
	}
	return out
}

// summarizeNetwork condenses the attempt's network evidence.
func summarizeNetwork(events []schemas.NetworkEvent) *schemas.NetworkSignalSummary {
	ns := &schemas.NetworkSignalSummary{
		TotalRequests: len(events),
		AnalyticsOnly: evidence.AnalyticsOnly(events),
	}
	for _, ev := range events {
		if ev.Blocked {
			ns.Blocked++
			continue
		}
		if ev.Correlated {
			ns.Correlated++
		}
		if ev.Status >= 200 && ev.Status < 300 {
			ns.AnySuccessful2x = true
		}
	}
	return ns
}

func signalsCopy(s schemas.Signals) *schemas.Signals {
	c := s
	return &c
}

// NewFinding stitches the classified, scored, guarded material into the
// immutable record.
func NewFinding(id, runID string, expNum int, ftype schemas.FindingType, status schemas.TruthStatus,
	severity schemas.Severity, conf schemas.Confidence, description string,
	pkg *schemas.EvidencePackage, report *schemas.GuardrailReport,
	usefulness schemas.DecisionUsefulness) schemas.Finding {
	return schemas.Finding{
		ID:                 id,
		RunID:              runID,
		ExpNum:             expNum,
		Type:               ftype,
		Status:             status,
		Severity:           severity,
		Confidence:         conf,
		Description:        description,
		EvidencePackage:    pkg,
		Guardrails:         report,
		DecisionUsefulness: usefulness,
		DetectedAt:         time.Now().UTC(),
	}
}
