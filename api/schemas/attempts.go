package schemas

import "time"

// Cause is the closed set of reasons an interaction attempt failed to deliver
// its promised outcome. It is attempt metadata, never an error value.
type Cause string

const (
	CauseNotFound        Cause = "not-found"        // Selector resolution failed.
	CauseBlocked         Cause = "blocked"          // Element exists but is not interactable.
	CausePreventedSubmit Cause = "prevented-submit" // Submit fired but the outcome never appeared.
	CauseTimeout         Cause = "timeout"          // Effect window (or global budget) elapsed.
	CauseNoChange        Cause = "no-change"        // Action ran, some signal appeared, wrong kind.
	CauseError           Cause = "error"            // Unhandled exception during execution.
)

// ActionKind is the interaction the executor performed.
type ActionKind string

const (
	ActionClick   ActionKind = "click"
	ActionSubmit  ActionKind = "submit"
	ActionObserve ActionKind = "observe"
)

// Signals are the boolean evidence facts derived from one attempt's capture.
// They feed classification, confidence scoring, and the guardrails engine.
type Signals struct {
	NavigationChanged         bool `json:"navigationChanged"`
	DOMChanged                bool `json:"domChanged"`
	FeedbackSeen              bool `json:"feedbackSeen"`
	NetworkActivity           bool `json:"networkActivity"`
	MeaningfulDOMChange       bool `json:"meaningfulDomChange"`
	CorrelatedNetworkActivity bool `json:"correlatedNetworkActivity"`
}

// Any reports whether at least one signal is set.
func (s Signals) Any() bool {
	return s.NavigationChanged || s.DOMChanged || s.FeedbackSeen ||
		s.NetworkActivity || s.MeaningfulDOMChange || s.CorrelatedNetworkActivity
}

// NetworkEvent is one request observed during an attempt. Blocked mutating
// requests are recorded here with Blocked=true; they are never dispatched.
type NetworkEvent struct {
	Method       string    `json:"method"`
	URL          string    `json:"url"`
	Status       int       `json:"status,omitempty"`
	ResourceType string    `json:"resource_type,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	Correlated   bool      `json:"correlated"`
	Blocked      bool      `json:"blocked,omitempty"`
	Failed       bool      `json:"failed,omitempty"`
}

// ConsoleError is a console entry captured at error level (or above).
type ConsoleError struct {
	Level     string    `json:"level"`
	Text      string    `json:"text"`
	Source    string    `json:"source,omitempty"`
	URL       string    `json:"url,omitempty"`
	Line      int64     `json:"line,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// DOMDiff summarizes the structural delta between the before and after DOM
// snapshots, with the meaningful-vs-cosmetic classification already applied.
type DOMDiff struct {
	Changed          bool     `json:"changed"`
	Meaningful       bool     `json:"meaningful"`
	AddedNodes       int      `json:"added_nodes"`
	RemovedNodes     int      `json:"removed_nodes"`
	TextDelta        int      `json:"text_delta"`
	AddedInteractive int      `json:"added_interactive"`
	FeedbackNodes    []string `json:"feedback_nodes,omitempty"`
	Reason           string   `json:"reason"`
}

// CaptureWarning surfaces a best-effort evidence persistence failure. The
// policy for evidence files is non-fatal, but failures are attached to the
// attempt rather than discarded.
type CaptureWarning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EvidenceSummary carries the file references and counts an attempt's
// finalized evidence bundle produced.
type EvidenceSummary struct {
	BeforeScreenshot string           `json:"before_screenshot,omitempty"`
	AfterScreenshot  string           `json:"after_screenshot,omitempty"`
	BeforeURL        string           `json:"before_url,omitempty"`
	AfterURL         string           `json:"after_url,omitempty"`
	DOMDiffFile      string           `json:"dom_diff_file,omitempty"`
	NetworkFile      string           `json:"network_file,omitempty"`
	ConsoleFile      string           `json:"console_file,omitempty"`
	NetworkEvents    int              `json:"network_events"`
	BlockedRequests  int              `json:"blocked_requests"`
	ConsoleErrors    int              `json:"console_errors"`
	Warnings         []CaptureWarning `json:"warnings,omitempty"`
}

// InteractionAttempt is the sealed record of one execution of an expectation.
// It is finalized exactly once, after evidence capture.
type InteractionAttempt struct {
	ID             string          `json:"id"`
	ExpNum         int             `json:"exp_num"`
	ExpectationID  string          `json:"expectation_id"`
	Attempted      bool            `json:"attempted"`
	Action         ActionKind      `json:"action"`
	Reason         string          `json:"reason,omitempty"`
	Cause          Cause           `json:"cause,omitempty"`
	OutcomeMatched bool            `json:"outcome_matched"`
	Signals        Signals         `json:"signals"`
	Evidence       EvidenceSummary `json:"evidence"`
	StartedAt      time.Time       `json:"started_at"`
	EndedAt        time.Time       `json:"ended_at"`
}
