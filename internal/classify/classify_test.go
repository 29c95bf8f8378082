package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verityscan/verity-cli/api/schemas"
)

func TestOutcomeMatched(t *testing.T) {
	cases := []struct {
		name    string
		kind    schemas.OutcomeKind
		signals schemas.Signals
		want    bool
	}{
		{"navigation matches only on url change", schemas.OutcomeNavigation, schemas.Signals{NavigationChanged: true}, true},
		{"navigation ignores dom change", schemas.OutcomeNavigation, schemas.Signals{MeaningfulDOMChange: true}, false},
		{"feedback matches only on feedback", schemas.OutcomeFeedback, schemas.Signals{FeedbackSeen: true}, true},
		{"feedback ignores navigation", schemas.OutcomeFeedback, schemas.Signals{NavigationChanged: true}, false},
		{"network matches correlated activity", schemas.OutcomeNetwork, schemas.Signals{CorrelatedNetworkActivity: true}, true},
		{"network accepts uncorrelated activity too", schemas.OutcomeNetwork, schemas.Signals{NetworkActivity: true}, true},
		{"ui-change matches any substantive signal", schemas.OutcomeUIChange, schemas.Signals{MeaningfulDOMChange: true}, true},
		{"ui-change ignores cosmetic dom change", schemas.OutcomeUIChange, schemas.Signals{DOMChanged: true}, false},
		{"ui-change ignores uncorrelated network noise", schemas.OutcomeUIChange, schemas.Signals{NetworkActivity: true}, false},
		{"ui-change with nothing never matches", schemas.OutcomeUIChange, schemas.Signals{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, OutcomeMatched(tc.kind, tc.signals))
		})
	}
}

func TestClassify(t *testing.T) {
	buttonExp := schemas.Expectation{
		ID:       "exp-1",
		Category: schemas.CategoryButton,
		Promise:  schemas.Promise{Kind: "click", Value: "Save"},
	}

	t.Run("matched outcome is not a finding", func(t *testing.T) {
		attempt := schemas.InteractionAttempt{
			Attempted: true,
			Action:    schemas.ActionClick,
			Signals:   schemas.Signals{FeedbackSeen: true},
		}
		v := Classify(buttonExp, attempt)
		assert.True(t, v.OutcomeMatched)
		assert.False(t, v.Failed)
	})

	t.Run("clean click with zero signals is a timeout", func(t *testing.T) {
		attempt := schemas.InteractionAttempt{Attempted: true, Action: schemas.ActionClick}
		v := Classify(buttonExp, attempt)
		require.True(t, v.Failed)
		assert.Equal(t, schemas.CauseTimeout, v.Cause)
		assert.Equal(t, schemas.StatusConfirmed, v.Status)
		assert.Equal(t, schemas.FindingSilentButton, v.Type)
	})

	t.Run("wrong-kind signal is no-change", func(t *testing.T) {
		exp := schemas.Expectation{
			ID:              "exp-nav",
			Category:        schemas.CategoryNavigation,
			ExpectedOutcome: schemas.OutcomeNavigation,
		}
		attempt := schemas.InteractionAttempt{
			Attempted: true,
			Action:    schemas.ActionClick,
			Signals:   schemas.Signals{MeaningfulDOMChange: true, DOMChanged: true},
		}
		v := Classify(exp, attempt)
		require.True(t, v.Failed)
		assert.Equal(t, schemas.CauseNoChange, v.Cause)
		assert.Equal(t, schemas.FindingBrokenNavigation, v.Type)
	})

	t.Run("unmatched submit is prevented-submit", func(t *testing.T) {
		exp := schemas.Expectation{ID: "exp-form", Category: schemas.CategoryForm}
		attempt := schemas.InteractionAttempt{Attempted: true, Action: schemas.ActionSubmit}
		v := Classify(exp, attempt)
		require.True(t, v.Failed)
		assert.Equal(t, schemas.CausePreventedSubmit, v.Cause)
		assert.Equal(t, schemas.FindingSilentForm, v.Type)
		assert.Equal(t, schemas.StatusConfirmed, v.Status)
	})

	t.Run("unsubmittable form stays blocked, not a confirmed failure", func(t *testing.T) {
		exp := schemas.Expectation{ID: "exp-form", Category: schemas.CategoryForm}
		attempt := schemas.InteractionAttempt{
			Attempted: true,
			Action:    schemas.ActionSubmit,
			Cause:     schemas.CauseBlocked,
			Reason:    `form owning "#form" exposed no submit mechanism`,
		}
		v := Classify(exp, attempt)
		require.True(t, v.Failed)
		assert.Equal(t, schemas.CauseBlocked, v.Cause)
		assert.Equal(t, schemas.StatusSuspected, v.Status)
		assert.Equal(t, schemas.FindingSilentForm, v.Type)
		assert.Contains(t, v.Reason, "no submit mechanism")
	})

	t.Run("pre-set causes stick and stay suspected", func(t *testing.T) {
		for _, cause := range []schemas.Cause{schemas.CauseNotFound, schemas.CauseBlocked, schemas.CauseError} {
			attempt := schemas.InteractionAttempt{
				Action: schemas.ActionObserve,
				Cause:  cause,
				Reason: "pre-set",
			}
			v := Classify(buttonExp, attempt)
			require.True(t, v.Failed, "cause %s", cause)
			assert.Equal(t, cause, v.Cause)
			assert.Equal(t, schemas.StatusSuspected, v.Status)
			assert.Equal(t, "pre-set", v.Reason)
		}
	})

	t.Run("budget timeout stays suspected", func(t *testing.T) {
		attempt := schemas.InteractionAttempt{
			Cause:  schemas.CauseTimeout,
			Reason: "global-timeout-exceeded",
		}
		v := Classify(buttonExp, attempt)
		require.True(t, v.Failed)
		assert.Equal(t, schemas.StatusSuspected, v.Status)
		assert.Equal(t, "global-timeout-exceeded", v.Reason)
	})

	t.Run("description names the promise", func(t *testing.T) {
		attempt := schemas.InteractionAttempt{Attempted: true, Action: schemas.ActionClick}
		v := Classify(buttonExp, attempt)
		assert.Contains(t, v.Description, `"Save"`)
		assert.Contains(t, v.Description, "ui-change")
	})
}
