package evidence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verityscan/verity-cli/api/schemas"
)

func TestCorrelateNetwork(t *testing.T) {
	actionStart := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	window := 2500 * time.Millisecond

	t.Run("window is a closed interval, inclusive at both ends", func(t *testing.T) {
		events := []schemas.NetworkEvent{
			{URL: "https://api.example.com/a", StartedAt: actionStart},
			{URL: "https://api.example.com/b", StartedAt: actionStart.Add(2500 * time.Millisecond)},
			{URL: "https://api.example.com/c", StartedAt: actionStart.Add(2501 * time.Millisecond)},
			{URL: "https://api.example.com/d", StartedAt: actionStart.Add(-1 * time.Millisecond)},
		}

		out := CorrelateNetwork(events, actionStart, window)
		require.Len(t, out, 4)
		assert.True(t, out[0].Correlated, "event at action start must correlate")
		assert.True(t, out[1].Correlated, "event at exactly +2500ms must correlate")
		assert.False(t, out[2].Correlated, "event at +2501ms must not correlate")
		assert.False(t, out[3].Correlated, "event before action start must not correlate")
	})

	t.Run("late events are recorded, not dropped", func(t *testing.T) {
		events := []schemas.NetworkEvent{
			{URL: "https://api.example.com/late", StartedAt: actionStart.Add(10 * time.Second)},
		}
		out := CorrelateNetwork(events, actionStart, window)
		require.Len(t, out, 1)
		assert.False(t, out[0].Correlated)
	})
}

func TestAnalyticsOnly(t *testing.T) {
	t.Run("empty slice is no activity, not analytics-only", func(t *testing.T) {
		assert.False(t, AnalyticsOnly(nil))
	})

	t.Run("pure telemetry traffic is analytics-only", func(t *testing.T) {
		events := []schemas.NetworkEvent{
			{URL: "https://www.google-analytics.com/collect"},
			{URL: "https://api.segment.io/v1/page"},
		}
		assert.True(t, AnalyticsOnly(events))
	})

	t.Run("one real request breaks analytics-only", func(t *testing.T) {
		events := []schemas.NetworkEvent{
			{URL: "https://www.google-analytics.com/collect"},
			{URL: "https://api.example.com/orders"},
		}
		assert.False(t, AnalyticsOnly(events))
	})

	t.Run("blocked requests do not count as activity", func(t *testing.T) {
		events := []schemas.NetworkEvent{
			{URL: "https://api.example.com/orders", Blocked: true},
			{URL: "https://www.google-analytics.com/collect"},
		}
		assert.True(t, AnalyticsOnly(events))
	})
}

func TestDeriveSignals(t *testing.T) {
	t.Run("url change sets navigationChanged", func(t *testing.T) {
		s := DeriveSignals("https://a.test/", "https://a.test/done", schemas.DOMDiff{}, nil)
		assert.True(t, s.NavigationChanged)
	})

	t.Run("empty before url never counts as navigation", func(t *testing.T) {
		s := DeriveSignals("", "https://a.test/", schemas.DOMDiff{}, nil)
		assert.False(t, s.NavigationChanged)
	})

	t.Run("blocked requests are excluded from network activity", func(t *testing.T) {
		events := []schemas.NetworkEvent{
			{URL: "https://api.example.com/submit", Blocked: true, Correlated: true},
		}
		s := DeriveSignals("https://a.test/", "https://a.test/", schemas.DOMDiff{}, events)
		assert.False(t, s.NetworkActivity)
		assert.False(t, s.CorrelatedNetworkActivity)
	})

	t.Run("correlated dispatch sets both network signals", func(t *testing.T) {
		events := []schemas.NetworkEvent{
			{URL: "https://api.example.com/list", Correlated: true},
		}
		s := DeriveSignals("https://a.test/", "https://a.test/", schemas.DOMDiff{}, events)
		assert.True(t, s.NetworkActivity)
		assert.True(t, s.CorrelatedNetworkActivity)
	})

	t.Run("feedback nodes set feedbackSeen", func(t *testing.T) {
		diff := schemas.DOMDiff{Changed: true, Meaningful: true, FeedbackNodes: []string{"Saved!"}}
		s := DeriveSignals("https://a.test/", "https://a.test/", diff, nil)
		assert.True(t, s.FeedbackSeen)
		assert.True(t, s.DOMChanged)
		assert.True(t, s.MeaningfulDOMChange)
	})
}
