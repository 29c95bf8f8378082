package evidence

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

const pageShell = `<html><body><div id="app">%s</div></body></html>`

func page(inner string) string {
	return strings.Replace(pageShell, "%s", inner, 1)
}

func TestComputeDiff(t *testing.T) {
	t.Run("identical documents produce no change", func(t *testing.T) {
		doc := page(`<button>Save</button>`)
		diff := ComputeDiff(doc, doc)
		assert.False(t, diff.Changed)
		assert.False(t, diff.Meaningful)
	})

	t.Run("feedback appearing is always meaningful", func(t *testing.T) {
		before := page(`<button>Save</button>`)
		after := page(`<button>Save</button><div class="toast-success">Saved successfully</div>`)
		diff := ComputeDiff(before, after)
		assert.True(t, diff.Changed)
		assert.True(t, diff.Meaningful)
		assert.Equal(t, "feedback content appeared", diff.Reason)
		assert.Contains(t, diff.FeedbackNodes, "Saved successfully")
	})

	t.Run("aria-live region counts as feedback", func(t *testing.T) {
		before := page(`<form><input name="email"></form>`)
		after := page(`<form><input name="email"></form><p aria-live="polite">Email is required</p>`)
		diff := ComputeDiff(before, after)
		assert.True(t, diff.Meaningful)
		assert.Contains(t, diff.FeedbackNodes, "Email is required")
	})

	t.Run("interactive element appearing is meaningful", func(t *testing.T) {
		before := page(`<p>hi</p>`)
		after := page(`<p>hi</p><button>Continue</button>`)
		diff := ComputeDiff(before, after)
		assert.True(t, diff.Meaningful)
		assert.Equal(t, "interactive elements changed", diff.Reason)
	})

	t.Run("large text change is meaningful", func(t *testing.T) {
		before := page(`<p>cart</p>`)
		after := page(`<p>cart now contains three items and a discount was applied</p>`)
		diff := ComputeDiff(before, after)
		assert.True(t, diff.Meaningful)
		assert.Equal(t, "visible text changed", diff.Reason)
	})

	t.Run("tiny attribute-level change is cosmetic", func(t *testing.T) {
		before := page(`<p class="a">hi</p>`)
		after := page(`<p class="b">hi</p>`)
		diff := ComputeDiff(before, after)
		assert.True(t, diff.Changed)
		assert.False(t, diff.Meaningful)
	})

	t.Run("script and style text never counts as visible text", func(t *testing.T) {
		before := page(`<p>hi</p><script>var x = 1;</script>`)
		after := page(`<p>hi</p><script>var x = "a completely different and much longer payload";</script>`)
		diff := ComputeDiff(before, after)
		assert.False(t, diff.Meaningful, "script body churn must stay cosmetic")
	})

	t.Run("determinism: same inputs, same verdict", func(t *testing.T) {
		before := page(`<button>Save</button>`)
		after := page(`<button>Save</button><div role="alert">failed</div>`)
		first := ComputeDiff(before, after)
		second := ComputeDiff(before, after)
		assert.Equal(t, first, second)
	})
}
