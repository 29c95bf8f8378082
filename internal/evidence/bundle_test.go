package evidence

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/verityscan/verity-cli/api/schemas"
)

func openBundle(t *testing.T) *Bundle {
	t.Helper()
	return NewBundle(t.TempDir(), 1, zaptest.NewLogger(t))
}

func TestBundleStateMachine(t *testing.T) {
	start := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	t.Run("happy path walks OPENED to FINALIZED", func(t *testing.T) {
		b := openBundle(t)
		assert.Equal(t, StateOpened, b.State())

		require.NoError(t, b.CaptureBefore(PageCapture{URL: "https://a.test/", HTML: "<html></html>"}))
		assert.Equal(t, StateCapturedBefore, b.State())

		require.NoError(t, b.MarkActed(start, start.Add(50*time.Millisecond)))
		assert.Equal(t, StateActed, b.State())

		require.NoError(t, b.CaptureAfter(PageCapture{URL: "https://a.test/done", HTML: "<html></html>"}))
		assert.Equal(t, StateCapturedAfter, b.State())

		require.NoError(t, b.Finalize(nil, nil, 2500*time.Millisecond))
		assert.Equal(t, StateFinalized, b.State())
		assert.True(t, b.Signals().NavigationChanged)
	})

	t.Run("acting before capturing is illegal", func(t *testing.T) {
		b := openBundle(t)
		err := b.MarkActed(start, start)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrIllegalTransition)
	})

	t.Run("finalizing twice is illegal", func(t *testing.T) {
		b := openBundle(t)
		require.NoError(t, b.CaptureBefore(PageCapture{URL: "https://a.test/"}))
		require.NoError(t, b.MarkActed(start, start))
		require.NoError(t, b.CaptureAfter(PageCapture{URL: "https://a.test/"}))
		require.NoError(t, b.Finalize(nil, nil, time.Second))

		err := b.Finalize(nil, nil, time.Second)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrIllegalTransition)
	})

	t.Run("capturing after twice is illegal", func(t *testing.T) {
		b := openBundle(t)
		require.NoError(t, b.CaptureBefore(PageCapture{}))
		require.NoError(t, b.MarkActed(start, start))
		require.NoError(t, b.CaptureAfter(PageCapture{}))
		assert.ErrorIs(t, b.CaptureAfter(PageCapture{}), ErrIllegalTransition)
	})
}

func TestBundleFinalizePersistence(t *testing.T) {
	start := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	t.Run("finalize writes the three derived evidence files", func(t *testing.T) {
		dir := t.TempDir()
		b := NewBundle(dir, 7, zaptest.NewLogger(t))
		require.NoError(t, b.CaptureBefore(PageCapture{URL: "https://a.test/", HTML: "<p>a</p>"}))
		require.NoError(t, b.MarkActed(start, start))
		require.NoError(t, b.CaptureAfter(PageCapture{URL: "https://a.test/", HTML: "<p>a</p>"}))

		network := []schemas.NetworkEvent{{URL: "https://a.test/api", StartedAt: start}}
		console := []schemas.ConsoleError{{Level: "error", Text: "boom"}}
		require.NoError(t, b.Finalize(network, console, 2500*time.Millisecond))

		for _, name := range []string{"exp_7_dom_diff.json", "exp_7_network.json", "exp_7_console_errors.json"} {
			_, err := os.Stat(filepath.Join(dir, name))
			assert.NoError(t, err, "expected %s to be written", name)
		}
		assert.Empty(t, b.Warnings())
	})

	t.Run("unwritable directory degrades to warnings, not errors", func(t *testing.T) {
		b := NewBundle(filepath.Join(string(os.PathSeparator), "dev", "null", "nope"), 1, zaptest.NewLogger(t))
		require.NoError(t, b.CaptureBefore(PageCapture{URL: "https://a.test/"}))
		require.NoError(t, b.MarkActed(start, start))
		require.NoError(t, b.CaptureAfter(PageCapture{URL: "https://a.test/"}))

		require.NoError(t, b.Finalize(nil, nil, time.Second))
		require.NotEmpty(t, b.Warnings())
		assert.Equal(t, "evidence-dir-failed", b.Warnings()[0].Code)
	})

	t.Run("concurrent write failures all surface as warnings", func(t *testing.T) {
		// Occupy every derived filename with a directory so the three
		// parallel writers fail together and append warnings concurrently.
		dir := t.TempDir()
		for _, name := range []string{"exp_3_dom_diff.json", "exp_3_network.json", "exp_3_console_errors.json"} {
			require.NoError(t, os.Mkdir(filepath.Join(dir, name), 0o755))
		}

		b := NewBundle(dir, 3, zaptest.NewLogger(t))
		require.NoError(t, b.CaptureBefore(PageCapture{URL: "https://a.test/"}))
		require.NoError(t, b.MarkActed(start, start))
		require.NoError(t, b.CaptureAfter(PageCapture{URL: "https://a.test/"}))
		require.NoError(t, b.Finalize(nil, nil, time.Second))

		codes := make(map[string]bool)
		for _, w := range b.Warnings() {
			codes[w.Code] = true
		}
		for _, code := range []string{"diff-write-failed", "network-write-failed", "console-write-failed"} {
			assert.True(t, codes[code], "expected warning %s", code)
		}
	})
}

func TestBundleSummary(t *testing.T) {
	start := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	b := NewBundle(t.TempDir(), 2, zaptest.NewLogger(t))
	require.NoError(t, b.CaptureBefore(PageCapture{URL: "https://a.test/", Screenshot: "exp_2_before.png"}))
	require.NoError(t, b.MarkActed(start, start))
	require.NoError(t, b.CaptureAfter(PageCapture{URL: "https://a.test/", Screenshot: "exp_2_after.png"}))

	network := []schemas.NetworkEvent{
		{URL: "https://a.test/api", StartedAt: start},
		{URL: "https://a.test/save", StartedAt: start, Blocked: true},
	}
	require.NoError(t, b.Finalize(network, nil, 2500*time.Millisecond))

	s := b.Summary()
	assert.Equal(t, "exp_2_before.png", s.BeforeScreenshot)
	assert.Equal(t, "exp_2_after.png", s.AfterScreenshot)
	assert.Equal(t, 2, s.NetworkEvents)
	assert.Equal(t, 1, s.BlockedRequests)
	assert.Equal(t, "exp_2_dom_diff.json", s.DOMDiffFile)
	assert.Equal(t, "exp_2_network.json", s.NetworkFile)
	assert.Equal(t, "exp_2_console_errors.json", s.ConsoleFile)
}
