package guardrails

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/verityscan/verity-cli/api/schemas"
)

func writePolicy(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "guardrails.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadPolicy(t *testing.T) {
	t.Run("valid policy loads and sorts by id", func(t *testing.T) {
		path := writePolicy(t, `
rules:
  - id: "GR-900"
    action: DOWNGRADE
    evaluation:
      type: feedback-present
  - id: "GR-100"
    action: INFO
    evaluation:
      type: interaction-blocked
`)
		p, err := LoadPolicy(path)
		require.NoError(t, err)
		require.Len(t, p.Rules, 2)
		assert.Equal(t, "GR-100", p.Rules[0].ID)
		assert.Equal(t, "GR-900", p.Rules[1].ID)
	})

	t.Run("unknown evaluator kind is rejected", func(t *testing.T) {
		path := writePolicy(t, `
rules:
  - id: "GR-001"
    action: BLOCK
    evaluation:
      type: moon-phase
`)
		_, err := LoadPolicy(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown evaluator")
	})

	t.Run("duplicate rule ids are rejected", func(t *testing.T) {
		path := writePolicy(t, `
rules:
  - id: "GR-001"
    evaluation:
      type: feedback-present
  - id: "GR-001"
    evaluation:
      type: interaction-blocked
`)
		_, err := LoadPolicy(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate rule id")
	})

	t.Run("malformed yaml is rejected", func(t *testing.T) {
		path := writePolicy(t, "rules: [unclosed")
		_, err := LoadPolicy(path)
		require.Error(t, err)
	})
}

func TestEngineOrdering(t *testing.T) {
	// Two rules that both apply and both recommend a status. The higher id
	// must win regardless of declaration order.
	policy := &Policy{Rules: []Rule{
		{
			ID:         "GR-200",
			Action:     schemas.GuardrailInfo,
			Evaluation: Evaluation{Type: EvalInteractionBlocked},
		},
		{
			ID:         "GR-100",
			Action:     schemas.GuardrailDowngrade,
			Evaluation: Evaluation{Type: EvalFeedbackPresent},
		},
	}}
	policy.sortRules()
	engine := NewEngine(policy, zaptest.NewLogger(t))

	report := engine.Evaluate(Target{
		Type:    schemas.FindingSilentButton,
		Status:  schemas.StatusConfirmed,
		Cause:   schemas.CauseBlocked,
		Signals: schemas.Signals{FeedbackSeen: true},
	})

	require.Len(t, report.Applied, 2)
	assert.Equal(t, "GR-100", report.Applied[0].RuleID)
	assert.Equal(t, "GR-200", report.Applied[1].RuleID)
	// GR-100 recommends SUSPECTED, GR-200 recommends INFORMATIONAL. Last wins.
	assert.Equal(t, schemas.StatusInformational, report.FinalStatus)
	assert.True(t, report.StatusChanged)
}

func TestEngineEvaluators(t *testing.T) {
	engine := NewEngine(DefaultPolicy(), zaptest.NewLogger(t))

	t.Run("shallow routing downgrades a navigation finding", func(t *testing.T) {
		report := engine.Evaluate(Target{
			Type:   schemas.FindingBrokenNavigation,
			Status: schemas.StatusConfirmed,
			Cause:  schemas.CauseNoChange,
			Signals: schemas.Signals{NavigationChanged: true},
			Evidence: &schemas.EvidencePackage{
				IsComplete: true,
				Before:     &schemas.EvidencePageState{URL: "https://a.test/app"},
				After:      &schemas.EvidencePageState{URL: "https://a.test/app#settings"},
				Signals:    &schemas.EvidenceSignals{Network: &schemas.NetworkSignalSummary{}},
			},
		})
		require.NotEmpty(t, report.Applied)
		assert.Equal(t, schemas.StatusSuspected, report.FinalStatus)

		var found bool
		for _, g := range report.Applied {
			if g.Message == "Hash-only or shallow routing detected." {
				found = true
				assert.True(t, g.Contradiction)
			}
		}
		assert.True(t, found, "shallow routing rule should have fired with its canonical message")
	})

	t.Run("shallow routing ignores real navigation", func(t *testing.T) {
		report := engine.Evaluate(Target{
			Type:   schemas.FindingBrokenNavigation,
			Status: schemas.StatusConfirmed,
			Signals: schemas.Signals{NavigationChanged: true},
			Evidence: &schemas.EvidencePackage{
				IsComplete: true,
				Before:     &schemas.EvidencePageState{URL: "https://a.test/app"},
				After:      &schemas.EvidencePageState{URL: "https://a.test/settings"},
				Signals:    &schemas.EvidenceSignals{Network: &schemas.NetworkSignalSummary{}},
			},
		})
		for _, g := range report.Applied {
			assert.NotEqual(t, "GR-030", g.RuleID)
		}
	})

	t.Run("network success with no ui change contradicts silent failure", func(t *testing.T) {
		report := engine.Evaluate(Target{
			Type:   schemas.FindingSilentButton,
			Status: schemas.StatusConfirmed,
			Cause:  schemas.CauseNoChange,
			Evidence: &schemas.EvidencePackage{
				IsComplete: true,
				Signals: &schemas.EvidenceSignals{
					Network: &schemas.NetworkSignalSummary{TotalRequests: 1, AnySuccessful2x: true},
				},
			},
		})
		require.NotEmpty(t, report.Contradictions)
		assert.Equal(t, schemas.StatusSuspected, report.FinalStatus)
	})

	t.Run("analytics-only traffic becomes informational", func(t *testing.T) {
		report := engine.Evaluate(Target{
			Type:   schemas.FindingMissingNetwork,
			Status: schemas.StatusConfirmed,
			Cause:  schemas.CauseNoChange,
			Signals: schemas.Signals{DOMChanged: true},
			Evidence: &schemas.EvidencePackage{
				IsComplete: true,
				Signals: &schemas.EvidenceSignals{
					Network: &schemas.NetworkSignalSummary{TotalRequests: 2, AnalyticsOnly: true},
				},
			},
		})
		assert.Equal(t, schemas.StatusInformational, report.FinalStatus)
	})

	t.Run("blocked interaction becomes informational", func(t *testing.T) {
		report := engine.Evaluate(Target{
			Type:   schemas.FindingSilentButton,
			Status: schemas.StatusSuspected,
			Cause:  schemas.CauseBlocked,
			Signals: schemas.Signals{DOMChanged: true},
		})
		assert.Equal(t, schemas.StatusInformational, report.FinalStatus)
	})

	t.Run("incomplete evidence on confirmed downgrades", func(t *testing.T) {
		report := engine.Evaluate(Target{
			Type:   schemas.FindingSilentForm,
			Status: schemas.StatusConfirmed,
			Cause:  schemas.CausePreventedSubmit,
			Signals: schemas.Signals{DOMChanged: true},
			Evidence: &schemas.EvidencePackage{
				IsComplete:      false,
				MissingEvidence: []string{"after.screenshot"},
			},
		})
		assert.Equal(t, schemas.StatusSuspected, report.FinalStatus)
		require.NotEmpty(t, report.Contradictions)
	})

	t.Run("confidence deltas accumulate", func(t *testing.T) {
		report := engine.Evaluate(Target{
			Type:   schemas.FindingSilentButton,
			Status: schemas.StatusConfirmed,
			Cause:  schemas.CauseNoChange,
			Signals: schemas.Signals{FeedbackSeen: true},
			Evidence: &schemas.EvidencePackage{
				IsComplete:      false,
				MissingEvidence: []string{"after.screenshot"},
			},
		})
		// GR-040 (-0.15) and GR-070 (-0.20) both fire.
		assert.InDelta(t, -0.35, report.ConfidenceDelta, 1e-9)
	})

	t.Run("no applicable rules leaves the finding untouched", func(t *testing.T) {
		report := engine.Evaluate(Target{
			Type:   schemas.FindingStaleState,
			Status: schemas.StatusConfirmed,
			Cause:  schemas.CauseNoChange,
			Evidence: &schemas.EvidencePackage{
				IsComplete: true,
				Signals:    &schemas.EvidenceSignals{Network: &schemas.NetworkSignalSummary{}},
			},
		})
		assert.Empty(t, report.Applied)
		assert.Equal(t, schemas.StatusConfirmed, report.FinalStatus)
		assert.False(t, report.StatusChanged)
	})
}

func TestMapSeverity(t *testing.T) {
	assert.Equal(t, schemas.GuardrailSeverityBlockConfirmed, mapSeverity(schemas.GuardrailBlock))
	assert.Equal(t, schemas.GuardrailSeverityDowngrade, mapSeverity(schemas.GuardrailDowngrade))
	assert.Equal(t, schemas.GuardrailSeverityInformational, mapSeverity(schemas.GuardrailInfo))
	assert.Equal(t, schemas.GuardrailSeverityWarning, mapSeverity(schemas.GuardrailAction("")))
}
