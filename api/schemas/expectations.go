// Package schemas defines the wire-level types shared between the
// observation-to-verdict pipeline and its external collaborators (the
// expectation extractor, the report renderer, the retention tooling).
// Everything here is plain data: no behavior beyond small helpers.
package schemas

// Category classifies the kind of user-facing interaction an expectation
// describes. The values are lowercase to match the extractor's output.
type Category string

const (
	CategoryButton     Category = "button"     // A clickable control.
	CategoryForm       Category = "form"       // A form submission.
	CategoryValidation Category = "validation" // Client-side validation feedback.
	CategoryNavigation Category = "navigation" // A link or route transition.
	CategoryState      Category = "state"      // A state-driven view switch.
	CategoryNetwork    Category = "network"    // An interaction that should call the backend.
)

// OutcomeKind names the observable effect an interaction promises.
type OutcomeKind string

const (
	OutcomeNavigation OutcomeKind = "navigation"
	OutcomeFeedback   OutcomeKind = "feedback"
	OutcomeNetwork    OutcomeKind = "network"
	// OutcomeUIChange is the default when the extractor could not annotate a
	// specific outcome. Matching for it is deliberately broad (any substantive
	// signal counts) so that a missing annotation never manufactures a false
	// positive.
	OutcomeUIChange OutcomeKind = "ui-change"
)

// Promise is the claim an expectation makes: "this interaction should produce
// this class of outcome".
type Promise struct {
	Kind  string `json:"kind"`
	Value string `json:"value,omitempty"`
}

// Expectation is one entry of the extractor-produced expectation list. It is
// read-only input to the pipeline; the core never mutates it.
type Expectation struct {
	ID              string      `json:"id"`
	Category        Category    `json:"category"`
	Promise         Promise     `json:"promise"`
	Selector        string      `json:"selector,omitempty"`
	ExpectedOutcome OutcomeKind `json:"expected_outcome,omitempty"`
}

// Outcome returns the expected outcome, defaulting to OutcomeUIChange when
// the extractor left the field empty.
func (e Expectation) Outcome() OutcomeKind {
	if e.ExpectedOutcome == "" {
		return OutcomeUIChange
	}
	return e.ExpectedOutcome
}
