package domain

import "time"

// Severity ranks the seriousness of a detected signal.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns an integer ranking used to sort findings critical-first.
// Higher is more severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// SignalKind names the anti-pattern a detector flags.
type SignalKind string

const (
	SignalDoomLoop        SignalKind = "SIG-DOOM-LOOP"
	SignalHallucination   SignalKind = "SIG-HALLUCINATION"
	SignalCorrection      SignalKind = "SIG-CORRECTION"
	SignalDissatisfaction SignalKind = "SIG-DISSATISFACTION"
	SignalUnverifiedClaim SignalKind = "SIG-UNVERIFIED-CLAIM"
)

// EventRange identifies the span of a chain's Events slice that evidences a
// signal, by index (inclusive).
type EventRange struct {
	StartIndex int `json:"startIndex"`
	EndIndex   int `json:"endIndex"`
}

// Signal is a single detector's assertion that a chain exhibits a named
// anti-pattern, before any classification is attached.
type Signal struct {
	Kind       SignalKind     `json:"kind"`
	Severity   Severity       `json:"severity"`
	EventRange EventRange     `json:"eventRange"`
	Summary    string         `json:"summary"`
	Evidence   map[string]any `json:"evidence,omitempty"`
}

// ActionType names the remediation action a classifier recommends.
type ActionType string

const (
	ActionSoulRule         ActionType = "soul_rule"
	ActionGovernancePolicy ActionType = "governance_policy"
	ActionCortexPattern    ActionType = "cortex_pattern"
	ActionManualReview     ActionType = "manual_review"
)

// Classification is the optional external interpretation of a Finding,
// producing a remediation action.
type Classification struct {
	RootCause  string     `json:"rootCause"`
	ActionType ActionType `json:"actionType"`
	ActionText string     `json:"actionText"`
	Confidence float64    `json:"confidence"`
	Model      string     `json:"model"`
}

// Finding is a detector's signal tied to its chain and, optionally, a
// Classification produced by the external classifier.
type Finding struct {
	ID             string           `json:"id"`
	ChainID        string           `json:"chainId"`
	Agent          string           `json:"agent"`
	Session        string           `json:"session"`
	Signal         Signal           `json:"signal"`
	DetectedAt     time.Time        `json:"detectedAt"`
	OccurredAt     time.Time        `json:"occurredAt"`
	Classification *Classification  `json:"classification,omitempty"`
}

// GeneratedOutput is an actionable artifact emitted by the output
// generator, grouping one or more findings that share the same
// (actionType, actionText).
type GeneratedOutput struct {
	ID               string     `json:"id"`
	Type             ActionType `json:"type"`
	Content          any        `json:"content"`
	SourceFindings   []string   `json:"sourceFindings"`
	ObservationCount int        `json:"observationCount"`
	Confidence       float64    `json:"confidence"`
}

// ProcessingState is the incremental-run checkpoint persisted after every
// pipeline run.
type ProcessingState struct {
	LastProcessedTS   int64     `json:"lastProcessedTs"`
	LastProcessedSeq  int64     `json:"lastProcessedSeq"`
	TotalEventsProcessed int    `json:"totalEventsProcessed"`
	TotalFindings     int       `json:"totalFindings"`
	UpdatedAt         time.Time `json:"updatedAt"`
}
