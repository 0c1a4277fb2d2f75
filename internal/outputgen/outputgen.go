// Package outputgen groups classified findings and emits the actionable
// artifacts the trace analyzer produces: soul rules, governance policies,
// and cortex patterns.
package outputgen

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/nexustrace/governor/internal/domain"
)

// groupKey identifies a merge bucket: identical (actionType, actionText)
// findings collapse into a single generated output.
type groupKey struct {
	ActionType domain.ActionType
	ActionText string
}

// Generate groups findings with a non-null classification by
// (actionType, actionText) and emits one GeneratedOutput per group,
// skipping manual_review groups (they produce no artifact).
func Generate(findings []domain.Finding) []domain.GeneratedOutput {
	groups := make(map[groupKey][]domain.Finding)
	var order []groupKey

	for _, f := range findings {
		if f.Classification == nil {
			continue
		}
		key := groupKey{ActionType: f.Classification.ActionType, ActionText: f.Classification.ActionText}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], f)
	}

	var outputs []domain.GeneratedOutput
	for _, key := range order {
		members := groups[key]
		if key.ActionType == domain.ActionManualReview {
			continue
		}
		out, ok := buildOutput(key, members)
		if ok {
			outputs = append(outputs, out)
		}
	}

	sort.SliceStable(outputs, func(i, j int) bool { return outputs[i].ID < outputs[j].ID })
	return outputs
}

// Effectiveness extracts one RuleEffectiveness entry per generated
// governance policy, carrying forward its ObservationCount as the
// observed-match count for the analyzed window.
func Effectiveness(outputs []domain.GeneratedOutput) []domain.RuleEffectiveness {
	var out []domain.RuleEffectiveness
	for _, o := range outputs {
		if o.Type != domain.ActionGovernancePolicy {
			continue
		}
		policy, ok := o.Content.(domain.Policy)
		if !ok {
			continue
		}
		out = append(out, domain.RuleEffectiveness{PolicyID: policy.ID, ObservedCount: o.ObservationCount})
	}
	return out
}

func buildOutput(key groupKey, members []domain.Finding) (domain.GeneratedOutput, bool) {
	sourceIDs := make([]string, 0, len(members))
	confidenceSum := 0.0
	for _, f := range members {
		sourceIDs = append(sourceIDs, f.ID)
		confidenceSum += f.Classification.Confidence
	}
	avgConfidence := confidenceSum / float64(len(members))

	switch key.ActionType {
	case domain.ActionSoulRule:
		return domain.GeneratedOutput{
			ID:               soulRuleID(key.ActionText),
			Type:             domain.ActionSoulRule,
			Content:          fmt.Sprintf("%s (%d× beobachtet in Traces)", key.ActionText, len(members)),
			SourceFindings:   sourceIDs,
			ObservationCount: len(members),
			Confidence:       avgConfidence,
		}, true

	case domain.ActionGovernancePolicy:
		policy := buildGovernancePolicy(key, members)
		return domain.GeneratedOutput{
			ID:               policy.ID,
			Type:             domain.ActionGovernancePolicy,
			Content:          policy,
			SourceFindings:   sourceIDs,
			ObservationCount: len(members),
			Confidence:       avgConfidence,
		}, true

	case domain.ActionCortexPattern:
		return domain.GeneratedOutput{
			ID:               patternID(key.ActionText),
			Type:             domain.ActionCortexPattern,
			Content:          key.ActionText,
			SourceFindings:   sourceIDs,
			ObservationCount: len(members),
			Confidence:       avgConfidence,
		}, true

	default:
		return domain.GeneratedOutput{}, false
	}
}

func buildGovernancePolicy(key groupKey, members []domain.Finding) domain.Policy {
	hook := hookForSignal(members[0].Signal.Kind)
	return domain.Policy{
		ID:      fmt.Sprintf("trace-gen-%s", stableHash(string(key.ActionType)+"|"+key.ActionText)),
		Name:    key.ActionText,
		Version: "1",
		Scope:   domain.Scope{Hooks: []string{hook}},
		Rules: []domain.Rule{{
			ID:     "observed",
			Effect: domain.RuleEffect{Action: domain.EffectAudit, Reason: key.ActionText},
		}},
	}
}

// hookForSignal maps a signal kind to the governance hook its generated
// policy should be scoped to.
func hookForSignal(kind domain.SignalKind) string {
	switch kind {
	case domain.SignalDoomLoop:
		return "before_tool_call"
	case domain.SignalHallucination:
		return "message_sending"
	default:
		return "before_tool_call"
	}
}

func soulRuleID(actionText string) string {
	return fmt.Sprintf("soul-rule-%s", stableHash(actionText))
}

func patternID(actionText string) string {
	return fmt.Sprintf("cortex-pattern-%s", stableHash(actionText))
}

func stableHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:12]
}
