package outputgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexustrace/governor/internal/domain"
)

func classifiedFinding(id string, actionType domain.ActionType, actionText string, confidence float64, kind domain.SignalKind) domain.Finding {
	return domain.Finding{
		ID:     id,
		Signal: domain.Signal{Kind: kind},
		Classification: &domain.Classification{
			ActionType: actionType,
			ActionText: actionText,
			Confidence: confidence,
		},
	}
}

func TestGenerateGroupsIdenticalActionTypeAndText(t *testing.T) {
	findings := []domain.Finding{
		classifiedFinding("f1", domain.ActionSoulRule, "Never retry a failing tool more than twice", 0.8, domain.SignalDoomLoop),
		classifiedFinding("f2", domain.ActionSoulRule, "Never retry a failing tool more than twice", 0.6, domain.SignalDoomLoop),
	}
	outputs := Generate(findings)
	require.Len(t, outputs, 1)
	assert.Equal(t, 2, outputs[0].ObservationCount)
	assert.InDelta(t, 0.7, outputs[0].Confidence, 0.0001)
	assert.Len(t, outputs[0].SourceFindings, 2)
}

func TestGenerateSkipsManualReview(t *testing.T) {
	findings := []domain.Finding{
		classifiedFinding("f1", domain.ActionManualReview, "needs a human", 0.5, domain.SignalUnverifiedClaim),
	}
	outputs := Generate(findings)
	assert.Empty(t, outputs)
}

func TestGenerateGovernancePolicyDerivesHookFromSignalKind(t *testing.T) {
	findings := []domain.Finding{
		classifiedFinding("f1", domain.ActionGovernancePolicy, "flag doom loops", 0.9, domain.SignalDoomLoop),
	}
	outputs := Generate(findings)
	require.Len(t, outputs, 1)
	policy, ok := outputs[0].Content.(domain.Policy)
	require.True(t, ok)
	assert.Equal(t, []string{"before_tool_call"}, policy.Scope.Hooks)
	assert.Contains(t, policy.ID, "trace-gen-")
}

func TestGenerateCortexPatternEmitsVerbatimText(t *testing.T) {
	findings := []domain.Finding{
		classifiedFinding("f1", domain.ActionCortexPattern, `\bconnection refused\b`, 0.7, domain.SignalDoomLoop),
	}
	outputs := Generate(findings)
	require.Len(t, outputs, 1)
	assert.Equal(t, `\bconnection refused\b`, outputs[0].Content)
}

func TestGenerateIgnoresUnclassifiedFindings(t *testing.T) {
	findings := []domain.Finding{{ID: "f1", Signal: domain.Signal{Kind: domain.SignalCorrection}}}
	outputs := Generate(findings)
	assert.Empty(t, outputs)
}

func TestEffectivenessExtractsOnlyGovernancePolicyOutputs(t *testing.T) {
	findings := []domain.Finding{
		classifiedFinding("f1", domain.ActionGovernancePolicy, "flag doom loops", 0.9, domain.SignalDoomLoop),
		classifiedFinding("f2", domain.ActionSoulRule, "never retry twice", 0.8, domain.SignalDoomLoop),
	}
	outputs := Generate(findings)
	eff := Effectiveness(outputs)
	require.Len(t, eff, 1)
	assert.Equal(t, 1, eff[0].ObservedCount)
	assert.Contains(t, eff[0].PolicyID, "trace-gen-")
}
