package domain

import "time"

// Stats carries pipeline-run counters surfaced in the report.
type Stats struct {
	EventsFetched   int `json:"eventsFetched"`
	EventsDropped   int `json:"eventsDropped"`
	ChainsBuilt     int `json:"chainsBuilt"`
	ChainsDropped   int `json:"chainsDropped"`
	FindingsRaw     int `json:"findingsRaw"`
	FindingsKept    int `json:"findingsKept"`
}

// SignalStat summarizes findings of one kind.
type SignalStat struct {
	Kind  SignalKind `json:"kind"`
	Count int        `json:"count"`
}

// RuleEffectiveness reports, per generated governance policy, how often its
// matching conditions were observed in the analyzed window. It is populated
// opportunistically by the output generator and is advisory only.
type RuleEffectiveness struct {
	PolicyID      string `json:"policyId"`
	ObservedCount int    `json:"observedCount"`
}

// AnalysisReport is the artifact persisted after each pipeline run.
type AnalysisReport struct {
	Version           int                 `json:"version"`
	GeneratedAt       time.Time           `json:"generatedAt"`
	Stats             Stats               `json:"stats"`
	SignalStats       []SignalStat        `json:"signalStats"`
	Findings          []Finding           `json:"findings"`
	GeneratedOutputs  []GeneratedOutput   `json:"generatedOutputs"`
	RuleEffectiveness []RuleEffectiveness `json:"ruleEffectiveness"`
	ProcessingState   ProcessingState     `json:"processingState"`
}
