// internal/evidence/correlate.go
package evidence

import (
	"strings"
	"time"

	"github.com/verityscan/verity-cli/api/schemas"
)

// analyticsFragments identify telemetry/beacon endpoints. Activity against
// only these hosts is not treated as the page doing real work.
var analyticsFragments = []string{
	"google-analytics.com", "googletagmanager.com", "analytics", "segment.io",
	"segment.com", "mixpanel.com", "amplitude.com", "hotjar.com", "sentry.io",
	"doubleclick.net", "facebook.com/tr", "/collect", "/beacon", "/telemetry",
	"stats.", "track",
}

// CorrelateNetwork marks every event whose start time falls within the
// closed interval [actionStart, actionStart+window] as correlated with the
// action. The interval is inclusive at both ends: an event at exactly
// actionStart+window correlates, one a millisecond later does not. Events
// outside the window stay in the result uncorrelated; late arrivals are
// recorded, never attributed.
func CorrelateNetwork(events []schemas.NetworkEvent, actionStart time.Time, window time.Duration) []schemas.NetworkEvent {
	deadline := actionStart.Add(window)
	out := make([]schemas.NetworkEvent, len(events))
	for i, ev := range events {
		ev.Correlated = !ev.StartedAt.Before(actionStart) && !ev.StartedAt.After(deadline)
		out[i] = ev
	}
	return out
}

// IsAnalyticsURL reports whether a URL belongs to a telemetry endpoint.
func IsAnalyticsURL(url string) bool {
	lower := strings.ToLower(url)
	for _, fragment := range analyticsFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

// AnalyticsOnly reports whether every dispatched (non-blocked) event in the
// slice targets a telemetry endpoint. An empty slice is not analytics-only;
// it is no activity at all.
func AnalyticsOnly(events []schemas.NetworkEvent) bool {
	seen := false
	for _, ev := range events {
		if ev.Blocked {
			continue
		}
		if !IsAnalyticsURL(ev.URL) {
			return false
		}
		seen = true
	}
	return seen
}

// DeriveSignals computes the attempt's boolean evidence facts from the
// finalized capture.
func DeriveSignals(beforeURL, afterURL string, diff schemas.DOMDiff, events []schemas.NetworkEvent) schemas.Signals {
	s := schemas.Signals{
		NavigationChanged:   beforeURL != afterURL && beforeURL != "" && afterURL != "",
		DOMChanged:          diff.Changed,
		MeaningfulDOMChange: diff.Meaningful,
		FeedbackSeen:        len(diff.FeedbackNodes) > 0,
	}
	for _, ev := range events {
		if ev.Blocked {
			continue
		}
		s.NetworkActivity = true
		if ev.Correlated {
			s.CorrelatedNetworkActivity = true
		}
	}
	return s
}
