package schemas

import "time"

// -- Finding Schemas --

// TruthStatus is how much the pipeline is willing to stand behind a finding.
// The Evidence Law binds CONFIRMED to a structurally complete evidence
// package; that invariant is enforced in code, not here.
type TruthStatus string

const (
	StatusConfirmed     TruthStatus = "CONFIRMED"
	StatusSuspected     TruthStatus = "SUSPECTED"
	StatusInformational TruthStatus = "INFORMATIONAL"
)

// Severity represents the severity level of a finding. The values are
// lowercase to align with database ENUMs.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// FindingType is the failure-class taxonomy for silent failures.
type FindingType string

const (
	FindingSilentButton     FindingType = "silent-button-failure"
	FindingSilentForm       FindingType = "silent-form-failure"
	FindingSilentValidation FindingType = "silent-validation-failure"
	FindingBrokenNavigation FindingType = "broken-navigation"
	FindingStaleState       FindingType = "stale-state-view"
	FindingMissingNetwork   FindingType = "missing-network-call"
)

// ConfidenceLevel is the discrete banding of the numeric confidence score.
type ConfidenceLevel string

const (
	ConfidenceHigh    ConfidenceLevel = "HIGH"
	ConfidenceMedium  ConfidenceLevel = "MEDIUM"
	ConfidenceLow     ConfidenceLevel = "LOW"
	ConfidenceUnknown ConfidenceLevel = "UNKNOWN"
)

// DecisionUsefulness is derived, metadata-only guidance for report consumers.
// It never influences score or level.
type DecisionUsefulness string

const (
	DecisionFix    DecisionUsefulness = "FIX"
	DecisionIgnore DecisionUsefulness = "IGNORE"
)

// Confidence is the scored trust attached to a finding.
type Confidence struct {
	Score       float64         `json:"score"`
	Level       ConfidenceLevel `json:"level"`
	ReasonCodes []string        `json:"reason_codes"`
}

// -- Evidence Package --

// EvidenceTrigger records what caused the attempt: the expectation and where
// it came from.
type EvidenceTrigger struct {
	Source        string   `json:"source"`
	ExpectationID string   `json:"expectation_id,omitempty"`
	Category      Category `json:"category,omitempty"`
}

// EvidencePageState is one side (before or after) of the captured page state.
type EvidencePageState struct {
	Screenshot string    `json:"screenshot"`
	URL        string    `json:"url"`
	CapturedAt time.Time `json:"captured_at,omitempty"`
}

// EvidenceAction describes the single interaction that was performed.
type EvidenceAction struct {
	Interaction string    `json:"interaction"`
	Selector    string    `json:"selector,omitempty"`
	PerformedAt time.Time `json:"performed_at,omitempty"`
}

// NetworkSignalSummary condenses the attempt's network evidence.
type NetworkSignalSummary struct {
	TotalRequests   int  `json:"total_requests"`
	Correlated      int  `json:"correlated"`
	Blocked         int  `json:"blocked"`
	AnalyticsOnly   bool `json:"analytics_only"`
	AnySuccessful2x bool `json:"any_successful_2xx"`
}

// EvidenceSignals is the signals section of an evidence package.
type EvidenceSignals struct {
	Network   *NetworkSignalSummary `json:"network"`
	UISignals *Signals              `json:"uiSignals"`
}

// EvidencePackage is the canonical snapshot required for trust. Invariant:
// IsComplete == (len(MissingEvidence) == 0). Builders always succeed
// structurally; completeness is computed, never assumed.
type EvidencePackage struct {
	Trigger         *EvidenceTrigger   `json:"trigger"`
	Before          *EvidencePageState `json:"before"`
	Action          *EvidenceAction    `json:"action"`
	After           *EvidencePageState `json:"after"`
	Signals         *EvidenceSignals   `json:"signals"`
	Justification   string             `json:"justification,omitempty"`
	MissingEvidence []string           `json:"missing_evidence"`
	IsComplete      bool               `json:"is_complete"`
}

// -- Guardrails --

// GuardrailAction is the declared effect of a policy rule.
type GuardrailAction string

const (
	GuardrailBlock     GuardrailAction = "BLOCK"
	GuardrailDowngrade GuardrailAction = "DOWNGRADE"
	GuardrailInfo      GuardrailAction = "INFO"
)

// GuardrailSeverity is the action mapped into report vocabulary.
type GuardrailSeverity string

const (
	GuardrailSeverityBlockConfirmed GuardrailSeverity = "BLOCK_CONFIRMED"
	GuardrailSeverityDowngrade      GuardrailSeverity = "DOWNGRADE"
	GuardrailSeverityInformational  GuardrailSeverity = "INFORMATIONAL"
	GuardrailSeverityWarning        GuardrailSeverity = "WARNING"
)

// AppliedGuardrail records one rule that fired against a finding.
type AppliedGuardrail struct {
	RuleID        string            `json:"rule_id"`
	Severity      GuardrailSeverity `json:"severity"`
	Message       string            `json:"message"`
	Contradiction bool              `json:"contradiction,omitempty"`
}

// GuardrailReport is the accumulated outcome of the rule engine for one
// finding.
type GuardrailReport struct {
	Applied         []AppliedGuardrail `json:"applied"`
	Contradictions  []AppliedGuardrail `json:"contradictions,omitempty"`
	FinalStatus     TruthStatus        `json:"final_status"`
	StatusChanged   bool               `json:"status_changed"`
	ConfidenceDelta float64            `json:"confidence_delta"`
}

// -- Finding --

// Finding is a candidate defect: one attempt's verdict with its evidence and
// guardrail audit trail. Immutable once persisted.
type Finding struct {
	ID                 string             `json:"id"`
	RunID              string             `json:"run_id"`
	ExpNum             int                `json:"exp_num"`
	Type               FindingType        `json:"type"`
	Status             TruthStatus        `json:"status"`
	Severity           Severity           `json:"severity"`
	Confidence         Confidence         `json:"confidence"`
	Description        string             `json:"description"`
	EvidencePackage    *EvidencePackage   `json:"evidence_package,omitempty"`
	Guardrails         *GuardrailReport   `json:"guardrails,omitempty"`
	DecisionUsefulness DecisionUsefulness `json:"decision_usefulness,omitempty"`
	DetectedAt         time.Time          `json:"detected_at"`
}
