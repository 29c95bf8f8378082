// Package guardrails evaluates a declarative contradiction policy against
// findings: rules that catch a finding whose claimed severity disagrees with
// its own evidence. The policy is loaded once per run and treated as
// immutable shared state afterwards.
package guardrails

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/verityscan/verity-cli/api/schemas"
)

// EvaluatorKind names a built-in rule evaluator. The set is closed: a policy
// referencing an unknown kind is rejected at load time, never skipped.
type EvaluatorKind string

const (
	EvalNetworkSuccessNoUIChange EvaluatorKind = "network-success-no-ui-change"
	EvalAnalyticsOnly            EvaluatorKind = "analytics-only-activity"
	EvalShallowRouting           EvaluatorKind = "shallow-routing"
	EvalFeedbackPresent          EvaluatorKind = "feedback-present"
	EvalInteractionBlocked       EvaluatorKind = "interaction-blocked"
	EvalValidationFeedback       EvaluatorKind = "validation-feedback-present"
	EvalIncompleteEvidence       EvaluatorKind = "incomplete-evidence-confirmed"
)

var knownEvaluators = map[EvaluatorKind]struct{}{
	EvalNetworkSuccessNoUIChange: {},
	EvalAnalyticsOnly:            {},
	EvalShallowRouting:           {},
	EvalFeedbackPresent:          {},
	EvalInteractionBlocked:       {},
	EvalValidationFeedback:       {},
	EvalIncompleteEvidence:       {},
}

// Evaluation selects the built-in check a rule runs.
type Evaluation struct {
	Type EvaluatorKind `yaml:"type"`
}

// Rule is one policy entry. AppliesTo empty means the rule applies to every
// finding type.
type Rule struct {
	ID              string                  `yaml:"id"`
	AppliesTo       []schemas.FindingType   `yaml:"applies_to"`
	Action          schemas.GuardrailAction `yaml:"action"`
	Evaluation      Evaluation              `yaml:"evaluation"`
	ConfidenceDelta float64                 `yaml:"confidence_delta"`
	// Message overrides the evaluator's default message when set.
	Message string `yaml:"message"`
}

func (r Rule) appliesTo(t schemas.FindingType) bool {
	if len(r.AppliesTo) == 0 {
		return true
	}
	for _, ft := range r.AppliesTo {
		if ft == t {
			return true
		}
	}
	return false
}

// Policy is the loaded, validated, id-ordered rule set.
type Policy struct {
	Rules []Rule `yaml:"rules"`
}

// LoadPolicy reads and validates a policy file. Invalid policies are
// rejected wholesale with zero side effects; there is no partial load.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read guardrails policy: %w", err)
	}
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("malformed guardrails policy %s: %w", path, err)
	}
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("invalid guardrails policy %s: %w", path, err)
	}
	p.sortRules()
	return &p, nil
}

func (p *Policy) validate() error {
	seen := make(map[string]struct{}, len(p.Rules))
	for i, r := range p.Rules {
		if r.ID == "" {
			return fmt.Errorf("rule %d has no id", i)
		}
		if _, dup := seen[r.ID]; dup {
			return fmt.Errorf("duplicate rule id %q", r.ID)
		}
		seen[r.ID] = struct{}{}
		if _, ok := knownEvaluators[r.Evaluation.Type]; !ok {
			return fmt.Errorf("rule %q references unknown evaluator %q", r.ID, r.Evaluation.Type)
		}
		switch r.Action {
		case schemas.GuardrailBlock, schemas.GuardrailDowngrade, schemas.GuardrailInfo, "":
		default:
			return fmt.Errorf("rule %q has unknown action %q", r.ID, r.Action)
		}
	}
	return nil
}

// sortRules fixes the evaluation order: ascending rule id, the engine's
// stable tie-break.
func (p *Policy) sortRules() {
	sort.SliceStable(p.Rules, func(i, j int) bool {
		return p.Rules[i].ID < p.Rules[j].ID
	})
}

// DefaultPolicy returns the built-in rule set used when no policy file is
// configured. Rule ids are spaced so site policies can interleave overrides.
func DefaultPolicy() *Policy {
	p := &Policy{Rules: []Rule{
		{
			ID:              "GR-010",
			Action:          schemas.GuardrailDowngrade,
			Evaluation:      Evaluation{Type: EvalNetworkSuccessNoUIChange},
			ConfidenceDelta: -0.15,
		},
		{
			ID:              "GR-020",
			Action:          schemas.GuardrailInfo,
			Evaluation:      Evaluation{Type: EvalAnalyticsOnly},
			ConfidenceDelta: -0.10,
		},
		{
			ID:              "GR-030",
			AppliesTo:       []schemas.FindingType{schemas.FindingBrokenNavigation},
			Action:          schemas.GuardrailDowngrade,
			Evaluation:      Evaluation{Type: EvalShallowRouting},
			ConfidenceDelta: -0.10,
		},
		{
			ID: "GR-040",
			AppliesTo: []schemas.FindingType{
				schemas.FindingSilentButton, schemas.FindingSilentForm,
			},
			Action:          schemas.GuardrailDowngrade,
			Evaluation:      Evaluation{Type: EvalFeedbackPresent},
			ConfidenceDelta: -0.15,
		},
		{
			ID:              "GR-050",
			Action:          schemas.GuardrailInfo,
			Evaluation:      Evaluation{Type: EvalInteractionBlocked},
			ConfidenceDelta: -0.20,
		},
		{
			ID:              "GR-060",
			AppliesTo:       []schemas.FindingType{schemas.FindingSilentValidation},
			Action:          schemas.GuardrailDowngrade,
			Evaluation:      Evaluation{Type: EvalValidationFeedback},
			ConfidenceDelta: -0.15,
		},
		{
			ID:              "GR-070",
			Action:          schemas.GuardrailDowngrade,
			Evaluation:      Evaluation{Type: EvalIncompleteEvidence},
			ConfidenceDelta: -0.20,
		},
	}}
	p.sortRules()
	return p
}
