// internal/evidence/diff.go
package evidence

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/verityscan/verity-cli/api/schemas"
)

// Thresholds for the meaningful-vs-cosmetic classification. The heuristic is
// deliberately deterministic: same inputs, same verdict.
const (
	// minStructuralDelta is the element-count change below which a structural
	// delta alone is treated as cosmetic (tooltips, focus rings).
	minStructuralDelta = 2
	// minTextDelta is the visible-text rune delta below which a text change
	// alone is treated as cosmetic.
	minTextDelta = 16
	// feedbackSnippetLen caps recorded feedback text.
	feedbackSnippetLen = 80
)

// feedbackMarkers are class/id/role fragments that identify user-feedback
// surfaces (toasts, validation messages, alerts).
var feedbackMarkers = []string{
	"alert", "error", "success", "warning", "toast", "notification",
	"message", "invalid", "feedback", "snackbar",
}

// interactiveTags are elements a user can act on; their appearance or
// disappearance is always a meaningful change.
var interactiveTags = map[string]struct{}{
	"a": {}, "button": {}, "input": {}, "select": {}, "textarea": {}, "form": {},
}

// domStats is the walk summary for one document.
type domStats struct {
	nodes       int
	textRunes   int
	interactive int
	feedback    []string
}

// ComputeDiff parses the before/after documents and classifies the delta.
// Parse failures degrade to a raw string comparison rather than failing the
// attempt; evidence capture is best-effort by policy.
func ComputeDiff(beforeHTML, afterHTML string) schemas.DOMDiff {
	if beforeHTML == afterHTML {
		return schemas.DOMDiff{Reason: "documents identical"}
	}

	before, errB := html.Parse(strings.NewReader(beforeHTML))
	after, errA := html.Parse(strings.NewReader(afterHTML))
	if errB != nil || errA != nil {
		return schemas.DOMDiff{
			Changed: true,
			Reason:  "document parse failed; raw content differs",
		}
	}

	sb := collect(before)
	sa := collect(after)

	diff := schemas.DOMDiff{
		Changed:          true,
		AddedNodes:       max(sa.nodes-sb.nodes, 0),
		RemovedNodes:     max(sb.nodes-sa.nodes, 0),
		TextDelta:        sa.textRunes - sb.textRunes,
		AddedInteractive: sa.interactive - sb.interactive,
		FeedbackNodes:    newFeedback(sb.feedback, sa.feedback),
	}

	switch {
	case len(diff.FeedbackNodes) > 0:
		diff.Meaningful = true
		diff.Reason = "feedback content appeared"
	case diff.AddedInteractive != 0:
		diff.Meaningful = true
		diff.Reason = "interactive elements changed"
	case diff.AddedNodes >= minStructuralDelta || diff.RemovedNodes >= minStructuralDelta:
		diff.Meaningful = true
		diff.Reason = "structural change"
	case abs(diff.TextDelta) >= minTextDelta:
		diff.Meaningful = true
		diff.Reason = "visible text changed"
	default:
		diff.Reason = "attribute or formatting change only"
	}
	return diff
}

// collect walks a parsed document and accumulates the diff statistics.
func collect(root *html.Node) domStats {
	var s domStats
	var walk func(n *html.Node, hidden bool)
	walk = func(n *html.Node, hidden bool) {
		switch n.Type {
		case html.ElementNode:
			s.nodes++
			tag := strings.ToLower(n.Data)
			if tag == "script" || tag == "style" {
				hidden = true
			}
			if _, ok := interactiveTags[tag]; ok {
				s.interactive++
			}
			if isFeedbackNode(n) {
				if text := strings.TrimSpace(nodeText(n)); text != "" {
					s.feedback = append(s.feedback, truncate(text, feedbackSnippetLen))
				}
			}
		case html.TextNode:
			if !hidden {
				s.textRunes += len([]rune(strings.TrimSpace(n.Data)))
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, hidden)
		}
	}
	walk(root, false)
	return s
}

// isFeedbackNode reports whether an element looks like a user-feedback
// surface: aria-live regions, alert roles, or marker-bearing class/id values.
func isFeedbackNode(n *html.Node) bool {
	for _, attr := range n.Attr {
		switch strings.ToLower(attr.Key) {
		case "aria-live":
			if attr.Val != "" && !strings.EqualFold(attr.Val, "off") {
				return true
			}
		case "role":
			if strings.EqualFold(attr.Val, "alert") || strings.EqualFold(attr.Val, "status") {
				return true
			}
		case "class", "id":
			lower := strings.ToLower(attr.Val)
			for _, marker := range feedbackMarkers {
				if strings.Contains(lower, marker) {
					return true
				}
			}
		}
	}
	return false
}

// nodeText concatenates the direct and nested text content of a node.
func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

// newFeedback returns the feedback snippets present after but not before.
func newFeedback(before, after []string) []string {
	seen := make(map[string]struct{}, len(before))
	for _, f := range before {
		seen[f] = struct{}{}
	}
	var out []string
	for _, f := range after {
		if _, ok := seen[f]; !ok {
			out = append(out, f)
		}
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
