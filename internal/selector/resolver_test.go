package selector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/verityscan/verity-cli/api/schemas"
	"github.com/verityscan/verity-cli/internal/browser"
	"github.com/verityscan/verity-cli/internal/mocks"
)

func TestResolve(t *testing.T) {
	ctx := context.Background()

	t.Run("hint wins when it matches", func(t *testing.T) {
		driver := mocks.NewFakeDriver(mocks.PageState{URL: "https://a.test/"})
		driver.Probes["#save"] = browser.ElementProbe{Count: 1, Visible: true, Enabled: true}

		r := New(driver, zaptest.NewLogger(t))
		res, err := r.Resolve(ctx, schemas.Expectation{
			ID:       "exp-1",
			Selector: "#save",
			Promise:  schemas.Promise{Value: "Save"},
		})
		require.NoError(t, err)
		assert.True(t, res.Found)
		assert.Equal(t, "#save", res.Selector)
		assert.True(t, res.Interactable())
	})

	t.Run("falls back to promise-derived candidates in fixed order", func(t *testing.T) {
		driver := mocks.NewFakeDriver(mocks.PageState{})
		driver.Probes[`[name="Save"]`] = browser.ElementProbe{Count: 1, Visible: true, Enabled: true}

		r := New(driver, zaptest.NewLogger(t))
		res, err := r.Resolve(ctx, schemas.Expectation{
			ID:       "exp-2",
			Selector: "#missing",
			Promise:  schemas.Promise{Value: "Save"},
		})
		require.NoError(t, err)
		assert.True(t, res.Found)
		assert.Equal(t, `[name="Save"]`, res.Selector)
	})

	t.Run("aria-label candidate is probed before name", func(t *testing.T) {
		driver := mocks.NewFakeDriver(mocks.PageState{})
		driver.Probes[`[aria-label="Save"]`] = browser.ElementProbe{Count: 1, Visible: true, Enabled: true}
		driver.Probes[`[name="Save"]`] = browser.ElementProbe{Count: 1, Visible: true, Enabled: true}

		r := New(driver, zaptest.NewLogger(t))
		res, err := r.Resolve(ctx, schemas.Expectation{ID: "exp-3", Promise: schemas.Promise{Value: "Save"}})
		require.NoError(t, err)
		assert.Equal(t, `[aria-label="Save"]`, res.Selector)
	})

	t.Run("nothing matching is a fact, not an error", func(t *testing.T) {
		driver := mocks.NewFakeDriver(mocks.PageState{})
		r := New(driver, zaptest.NewLogger(t))

		res, err := r.Resolve(ctx, schemas.Expectation{ID: "exp-4", Selector: "#ghost"})
		require.NoError(t, err)
		assert.False(t, res.Found)
		assert.False(t, res.Interactable())
		assert.NotEmpty(t, res.Note)
	})

	t.Run("ambiguity resolves to the first match with a note", func(t *testing.T) {
		driver := mocks.NewFakeDriver(mocks.PageState{})
		driver.Probes[".btn"] = browser.ElementProbe{Count: 3, Visible: true, Enabled: true}

		r := New(driver, zaptest.NewLogger(t))
		res, err := r.Resolve(ctx, schemas.Expectation{ID: "exp-5", Selector: ".btn"})
		require.NoError(t, err)
		assert.True(t, res.Found)
		assert.Equal(t, 3, res.Count)
		assert.Contains(t, res.Note, "using the first")
	})

	t.Run("hidden or disabled elements resolve but are not interactable", func(t *testing.T) {
		driver := mocks.NewFakeDriver(mocks.PageState{})
		driver.Probes["#hidden"] = browser.ElementProbe{Count: 1, Visible: false, Enabled: true}
		driver.Probes["#disabled"] = browser.ElementProbe{Count: 1, Visible: true, Enabled: false}

		r := New(driver, zaptest.NewLogger(t))

		res, err := r.Resolve(ctx, schemas.Expectation{ID: "exp-6", Selector: "#hidden"})
		require.NoError(t, err)
		assert.True(t, res.Found)
		assert.False(t, res.Interactable())

		res, err = r.Resolve(ctx, schemas.Expectation{ID: "exp-7", Selector: "#disabled"})
		require.NoError(t, err)
		assert.True(t, res.Found)
		assert.False(t, res.Interactable())
	})
}
