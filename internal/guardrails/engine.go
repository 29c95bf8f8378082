// internal/guardrails/engine.go
package guardrails

import (
	"net/url"

	"go.uber.org/zap"

	"github.com/verityscan/verity-cli/api/schemas"
)

// Target is the finding material a rule evaluates against.
type Target struct {
	Type     schemas.FindingType
	Status   schemas.TruthStatus
	Cause    schemas.Cause
	Signals  schemas.Signals
	Evidence *schemas.EvidencePackage
}

// outcome is what one evaluator reports for one target.
type outcome struct {
	applies       bool
	message       string
	contradiction bool
	recommended   schemas.TruthStatus
}

// Engine runs an immutable policy against findings.
type Engine struct {
	policy *Policy
	logger *zap.Logger
}

// NewEngine wraps a loaded policy.
func NewEngine(policy *Policy, logger *zap.Logger) *Engine {
	return &Engine{
		policy: policy,
		logger: logger.Named("guardrails"),
	}
}

// Evaluate runs every applicable rule in ascending id order and accumulates
// the effects: all applied rules are recorded, contradictions are logged
// separately, confidence deltas sum, and the last rule to recommend a status
// wins.
func (e *Engine) Evaluate(t Target) schemas.GuardrailReport {
	report := schemas.GuardrailReport{FinalStatus: t.Status}

	for _, rule := range e.policy.Rules {
		if !rule.appliesTo(t.Type) {
			continue
		}
		out := evaluate(rule.Evaluation.Type, t)
		if !out.applies {
			continue
		}

		msg := out.message
		if rule.Message != "" {
			msg = rule.Message
		}
		applied := schemas.AppliedGuardrail{
			RuleID:        rule.ID,
			Severity:      mapSeverity(rule.Action),
			Message:       msg,
			Contradiction: out.contradiction,
		}
		report.Applied = append(report.Applied, applied)
		report.ConfidenceDelta += rule.ConfidenceDelta

		if out.contradiction {
			report.Contradictions = append(report.Contradictions, applied)
			e.logger.Warn("Guardrail contradiction.",
				zap.String("rule", rule.ID),
				zap.String("finding_type", string(t.Type)),
				zap.String("message", msg))
		}
		if out.recommended != "" {
			report.FinalStatus = out.recommended
		}
	}

	report.StatusChanged = report.FinalStatus != t.Status
	return report
}

// mapSeverity translates a rule action into report vocabulary. Unmapped
// actions surface as WARNING rather than vanishing.
func mapSeverity(action schemas.GuardrailAction) schemas.GuardrailSeverity {
	switch action {
	case schemas.GuardrailBlock:
		return schemas.GuardrailSeverityBlockConfirmed
	case schemas.GuardrailDowngrade:
		return schemas.GuardrailSeverityDowngrade
	case schemas.GuardrailInfo:
		return schemas.GuardrailSeverityInformational
	default:
		return schemas.GuardrailSeverityWarning
	}
}

// evaluate dispatches to the built-in evaluator. The switch is exhaustive
// over the closed evaluator set; LoadPolicy guarantees no other kind reaches
// here.
func evaluate(kind EvaluatorKind, t Target) outcome {
	switch kind {
	case EvalNetworkSuccessNoUIChange:
		return evalNetworkSuccessNoUIChange(t)
	case EvalAnalyticsOnly:
		return evalAnalyticsOnly(t)
	case EvalShallowRouting:
		return evalShallowRouting(t)
	case EvalFeedbackPresent:
		return evalFeedbackPresent(t)
	case EvalInteractionBlocked:
		return evalInteractionBlocked(t)
	case EvalValidationFeedback:
		return evalValidationFeedback(t)
	case EvalIncompleteEvidence:
		return evalIncompleteEvidence(t)
	}
	return outcome{}
}

// networkSummary pulls the network section out of the evidence package, when
// present.
func networkSummary(t Target) *schemas.NetworkSignalSummary {
	if t.Evidence == nil || t.Evidence.Signals == nil {
		return nil
	}
	return t.Evidence.Signals.Network
}

func evalNetworkSuccessNoUIChange(t Target) outcome {
	ns := networkSummary(t)
	if ns == nil || !ns.AnySuccessful2x {
		return outcome{}
	}
	if t.Signals.DOMChanged || t.Signals.FeedbackSeen || t.Signals.NavigationChanged {
		return outcome{}
	}
	return outcome{
		applies:       true,
		message:       "Successful network activity with no UI change contradicts a silent-failure claim.",
		contradiction: true,
		recommended:   schemas.StatusSuspected,
	}
}

func evalAnalyticsOnly(t Target) outcome {
	ns := networkSummary(t)
	if ns == nil || !ns.AnalyticsOnly {
		return outcome{}
	}
	return outcome{
		applies:     true,
		message:     "Only analytics or beacon endpoints were observed.",
		recommended: schemas.StatusInformational,
	}
}

func evalShallowRouting(t Target) outcome {
	if t.Evidence == nil || t.Evidence.Before == nil || t.Evidence.After == nil {
		return outcome{}
	}
	if !hashOnlyChange(t.Evidence.Before.URL, t.Evidence.After.URL) {
		return outcome{}
	}
	return outcome{
		applies:       true,
		message:       "Hash-only or shallow routing detected.",
		contradiction: true,
		recommended:   schemas.StatusSuspected,
	}
}

func evalFeedbackPresent(t Target) outcome {
	if !t.Signals.FeedbackSeen {
		return outcome{}
	}
	return outcome{
		applies:       true,
		message:       "Explicit UI feedback was present; the page did not fail silently.",
		contradiction: true,
		recommended:   schemas.StatusSuspected,
	}
}

func evalInteractionBlocked(t Target) outcome {
	if t.Cause != schemas.CauseBlocked {
		return outcome{}
	}
	return outcome{
		applies:     true,
		message:     "Interaction target was disabled or blocked; likely intended behavior, not a defect.",
		recommended: schemas.StatusInformational,
	}
}

func evalValidationFeedback(t Target) outcome {
	if !t.Signals.FeedbackSeen {
		return outcome{}
	}
	return outcome{
		applies:       true,
		message:       "Validation feedback was rendered; the validation did not fail silently.",
		contradiction: true,
		recommended:   schemas.StatusSuspected,
	}
}

func evalIncompleteEvidence(t Target) outcome {
	if t.Status != schemas.StatusConfirmed {
		return outcome{}
	}
	if t.Evidence != nil && t.Evidence.IsComplete {
		return outcome{}
	}
	return outcome{
		applies:       true,
		message:       "Evidence package is incomplete for a confirmed finding.",
		contradiction: true,
		recommended:   schemas.StatusSuspected,
	}
}

// hashOnlyChange reports whether two URLs differ only in their fragment (or
// not at all beyond it). Unparseable URLs never count as shallow.
func hashOnlyChange(before, after string) bool {
	if before == after {
		return false
	}
	bu, errB := url.Parse(before)
	au, errA := url.Parse(after)
	if errB != nil || errA != nil {
		return false
	}
	if bu.Fragment == au.Fragment {
		return false
	}
	bu.Fragment = ""
	au.Fragment = ""
	return bu.String() == au.String()
}
