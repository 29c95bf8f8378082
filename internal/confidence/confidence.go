// Package confidence scores how much trust a finding deserves. Compute is a
// pure function over its input: identical inputs always produce identical
// score, level, and reason codes. The package also owns the Evidence Law,
// the one rule that may override a caller-supplied truth status.
package confidence

import (
	"math"
	"sort"

	"github.com/verityscan/verity-cli/api/schemas"
)

// Level thresholds for banding the numeric score.
const (
	highThreshold   = 0.75
	mediumThreshold = 0.45
	lowThreshold    = 0.20
)

// Scoring weights. Fixed by table, never tuned at runtime.
const (
	baseConfirmed     = 0.55
	baseSuspected     = 0.35
	baseInformational = 0.20

	weightEvidenceComplete = 0.20
	weightMissingField     = -0.05
	weightCleanExecution   = 0.10
	weightSubmitFired      = 0.05
	weightNoObservation    = -0.10
)

// Input is everything Compute is allowed to look at.
type Input struct {
	FindingType schemas.FindingType
	Cause       schemas.Cause
	Status      schemas.TruthStatus
	Signals     schemas.Signals
	Evidence    *schemas.EvidencePackage
	// Guardrails, when present, contributes its accumulated confidence delta
	// and its recommended final status.
	Guardrails *schemas.GuardrailReport
}

// Result is the scored outcome. Status may differ from Input.Status when the
// Evidence Law or a guardrail recommendation applied.
type Result struct {
	Confidence         schemas.Confidence
	Status             schemas.TruthStatus
	DecisionUsefulness schemas.DecisionUsefulness
}

// Compute scores a finding. Evidence Law: a CONFIRMED status with no
// substantive evidence behind it (no URL change, no DOM change, no
// screenshots) is downgraded to SUSPECTED unconditionally; no caller option
// can disable this.
func Compute(in Input) Result {
	status := in.Status
	if in.Guardrails != nil && in.Guardrails.FinalStatus != "" {
		status = in.Guardrails.FinalStatus
	}

	score := baseScore(status)
	reasons := []string{"base:" + string(status)}

	switch in.Cause {
	case schemas.CauseNotFound, schemas.CauseBlocked:
		score += weightNoObservation
		reasons = append(reasons, "interaction-not-demonstrated")
	case schemas.CausePreventedSubmit:
		score += weightSubmitFired
		reasons = append(reasons, "submit-mechanism-fired")
		score += weightCleanExecution
		reasons = append(reasons, "clean-execution")
	case schemas.CauseTimeout, schemas.CauseNoChange:
		score += weightCleanExecution
		reasons = append(reasons, "clean-execution")
	}

	if in.Evidence != nil {
		if in.Evidence.IsComplete {
			score += weightEvidenceComplete
			reasons = append(reasons, "evidence-complete")
		} else {
			score += weightMissingField * float64(len(in.Evidence.MissingEvidence))
			reasons = append(reasons, "evidence-incomplete")
		}
	} else {
		reasons = append(reasons, "evidence-absent")
	}

	if in.Guardrails != nil && in.Guardrails.ConfidenceDelta != 0 {
		score += in.Guardrails.ConfidenceDelta
		reasons = append(reasons, "guardrail-adjustment")
	}

	if status == schemas.StatusConfirmed && !substantiveEvidence(in) {
		status = schemas.StatusSuspected
		reasons = append(reasons, "evidence-law-downgrade")
	}

	score = clamp(score)
	sort.Strings(reasons)

	res := Result{
		Confidence: schemas.Confidence{
			Score:       round2(score),
			Level:       level(score),
			ReasonCodes: reasons,
		},
		Status: status,
	}
	res.DecisionUsefulness = usefulness(res, in.Signals)
	return res
}

// substantiveEvidence reports whether anything real backs a finding: a URL
// change, a DOM change, or a captured screenshot pair.
func substantiveEvidence(in Input) bool {
	if in.Signals.NavigationChanged || in.Signals.DOMChanged {
		return true
	}
	if in.Evidence == nil || in.Evidence.Before == nil || in.Evidence.After == nil {
		return false
	}
	return in.Evidence.Before.Screenshot != "" && in.Evidence.After.Screenshot != ""
}

// usefulness derives the report-consumer hint. Metadata only: it reads the
// scored result, never feeds back into it.
func usefulness(res Result, signals schemas.Signals) schemas.DecisionUsefulness {
	if res.Status == schemas.StatusConfirmed {
		return schemas.DecisionFix
	}
	if !signals.Any() {
		return schemas.DecisionIgnore
	}
	if res.Confidence.Level == schemas.ConfidenceHigh || res.Confidence.Level == schemas.ConfidenceMedium {
		return schemas.DecisionFix
	}
	return schemas.DecisionIgnore
}

func baseScore(status schemas.TruthStatus) float64 {
	switch status {
	case schemas.StatusConfirmed:
		return baseConfirmed
	case schemas.StatusSuspected:
		return baseSuspected
	default:
		return baseInformational
	}
}

func level(score float64) schemas.ConfidenceLevel {
	switch {
	case score >= highThreshold:
		return schemas.ConfidenceHigh
	case score >= mediumThreshold:
		return schemas.ConfidenceMedium
	case score > lowThreshold:
		return schemas.ConfidenceLow
	default:
		return schemas.ConfidenceUnknown
	}
}

func clamp(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
