package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexustrace/governor/internal/domain"
)

func newTestEvaluator(t *testing.T, policies []domain.Policy) *Evaluator {
	t.Helper()
	e, err := NewEvaluator("", FailClosed)
	require.NoError(t, err)
	e.SetPolicies(policies)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func baseCtx() domain.EvaluationContext {
	return domain.EvaluationContext{
		Hook:       "before_tool_call",
		AgentID:    "main",
		SessionKey: "agent:main:session-1",
		Timestamp:  time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC).UnixMilli(),
		Time:       "12:00",
		Trust:      domain.TrustSnapshot{Score: 40, Tier: domain.TierStandard},
		ToolName:   "exec",
		ToolParams: map[string]any{"command": "rm -rf /data"},
	}
}

func TestScopeEmptyMatchesAll(t *testing.T) {
	policies := []domain.Policy{{
		ID: "p1",
		Rules: []domain.Rule{{
			ID:         "r1",
			Conditions: []domain.Condition{{Kind: domain.ConditionTool, ToolName: "exec"}},
			Effect:     domain.RuleEffect{Action: domain.EffectDeny, Reason: "exec blocked"},
		}},
	}}
	e := newTestEvaluator(t, policies)
	v := e.Evaluate(baseCtx())
	assert.Equal(t, domain.EffectDeny, v.Action)
	assert.Equal(t, "exec blocked", v.Reason)
}

func TestScopeAgentMismatchSkipsPolicy(t *testing.T) {
	policies := []domain.Policy{{
		ID:    "p1",
		Scope: domain.Scope{Agents: []string{"other"}},
		Rules: []domain.Rule{{
			ID:         "r1",
			Conditions: []domain.Condition{{Kind: domain.ConditionTool, ToolName: "exec"}},
			Effect:     domain.RuleEffect{Action: domain.EffectDeny},
		}},
	}}
	e := newTestEvaluator(t, policies)
	v := e.Evaluate(baseCtx())
	assert.Equal(t, domain.EffectAllow, v.Action)
}

func TestVerdictPrecedenceDenyBeatsWarnBeatsAuditBeatsAllow(t *testing.T) {
	policies := []domain.Policy{
		{ID: "audit-p", Rules: []domain.Rule{{ID: "r", Conditions: nil, Effect: domain.RuleEffect{Action: domain.EffectAudit, Reason: "audited"}}}},
		{ID: "warn-p", Rules: []domain.Rule{{ID: "r", Conditions: nil, Effect: domain.RuleEffect{Action: domain.EffectWarn, Reason: "warned"}}}},
		{ID: "deny-p", Rules: []domain.Rule{{ID: "r", Conditions: nil, Effect: domain.RuleEffect{Action: domain.EffectDeny, Reason: "denied"}}}},
	}
	e := newTestEvaluator(t, policies)
	v := e.Evaluate(baseCtx())
	assert.Equal(t, domain.EffectDeny, v.Action)
	assert.Equal(t, "denied", v.Reason)
	assert.Len(t, v.MatchedPolicies, 3)
}

func TestRuleEvaluationShortCircuitsOnFirstMatch(t *testing.T) {
	policies := []domain.Policy{{
		ID: "p1",
		Rules: []domain.Rule{
			{ID: "r1", Conditions: []domain.Condition{{Kind: domain.ConditionTool, ToolName: "exec"}}, Effect: domain.RuleEffect{Action: domain.EffectWarn, Reason: "first"}},
			{ID: "r2", Conditions: nil, Effect: domain.RuleEffect{Action: domain.EffectDeny, Reason: "second"}},
		},
	}}
	e := newTestEvaluator(t, policies)
	v := e.Evaluate(baseCtx())
	assert.Equal(t, domain.EffectWarn, v.Action)
	assert.Equal(t, "first", v.Reason)
}

func TestToolConditionParamRegexMatches(t *testing.T) {
	policies := []domain.Policy{{
		ID: "p1",
		Rules: []domain.Rule{{
			ID: "r1",
			Conditions: []domain.Condition{
				{Kind: domain.ConditionTool, ToolName: "exec", ParamRegex: map[string]string{"command": `rm\s+-rf`}},
			},
			Effect: domain.RuleEffect{Action: domain.EffectDeny, Reason: "dangerous rm"},
		}},
	}}
	e := newTestEvaluator(t, policies)
	v := e.Evaluate(baseCtx())
	assert.Equal(t, domain.EffectDeny, v.Action)

	ctx := baseCtx()
	ctx.ToolParams = map[string]any{"command": "ls -la"}
	v = e.Evaluate(ctx)
	assert.Equal(t, domain.EffectAllow, v.Action)
}

func TestTrustConditionMinScore(t *testing.T) {
	min := 50
	policies := []domain.Policy{{
		ID: "p1",
		Rules: []domain.Rule{{
			ID:         "r1",
			Conditions: []domain.Condition{{Kind: domain.ConditionTrust, MinScore: &min}},
			Effect:     domain.RuleEffect{Action: domain.EffectAllow, Reason: "trusted enough"},
		}},
	}}
	e := newTestEvaluator(t, policies)
	v := e.Evaluate(baseCtx()) // score 40 < 50
	assert.Equal(t, domain.EffectAllow, v.Action)
	assert.Equal(t, "no policy matched", v.Reason)
}

func TestTimeConditionWrapsPastMidnight(t *testing.T) {
	policies := []domain.Policy{{
		ID: "p1",
		Rules: []domain.Rule{{
			ID:         "r1",
			Conditions: []domain.Condition{{Kind: domain.ConditionTime, Window: "23:00-08:00"}},
			Effect:     domain.RuleEffect{Action: domain.EffectAudit, Reason: "after hours"},
		}},
	}}
	e := newTestEvaluator(t, policies)

	ctx := baseCtx()
	ctx.Time = "23:30"
	v := e.Evaluate(ctx)
	assert.Equal(t, domain.EffectAudit, v.Action)

	ctx.Time = "12:00"
	v = e.Evaluate(ctx)
	assert.Equal(t, domain.EffectAllow, v.Action)
}

func TestFrequencyConditionTripsAfterThreshold(t *testing.T) {
	policies := []domain.Policy{{
		ID: "p1",
		Rules: []domain.Rule{{
			ID:         "r1",
			Conditions: []domain.Condition{{Kind: domain.ConditionFrequency, MaxCount: 2, PeriodS: 60}},
			Effect:     domain.RuleEffect{Action: domain.EffectDeny, Reason: "too frequent"},
		}},
	}}
	e := newTestEvaluator(t, policies)

	ctx := baseCtx()
	v := e.Evaluate(ctx)
	assert.Equal(t, domain.EffectAllow, v.Action)
	v = e.Evaluate(ctx)
	assert.Equal(t, domain.EffectAllow, v.Action)
	v = e.Evaluate(ctx)
	assert.Equal(t, domain.EffectDeny, v.Action)
}

func TestContextConditionMatchesMessageField(t *testing.T) {
	policies := []domain.Policy{{
		ID: "p1",
		Rules: []domain.Rule{{
			ID:         "r1",
			Conditions: []domain.Condition{{Kind: domain.ConditionContext, Field: "message", Pattern: "(?i)delete production"}},
			Effect:     domain.RuleEffect{Action: domain.EffectDeny, Reason: "destructive intent"},
		}},
	}}
	e := newTestEvaluator(t, policies)

	ctx := baseCtx()
	ctx.Message = "please delete production database"
	v := e.Evaluate(ctx)
	assert.Equal(t, domain.EffectDeny, v.Action)
}

func TestInternalErrorDefaultsToFailClosed(t *testing.T) {
	policies := []domain.Policy{{
		ID: "p1",
		Rules: []domain.Rule{{
			ID:         "r1",
			Conditions: []domain.Condition{{Kind: domain.ConditionContext, Field: "message", Pattern: "("}},
			Effect:     domain.RuleEffect{Action: domain.EffectAllow},
		}},
	}}
	e := newTestEvaluator(t, policies)
	v := e.Evaluate(baseCtx())
	assert.Equal(t, domain.EffectDeny, v.Action)
}
