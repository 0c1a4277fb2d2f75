package governance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexustrace/governor/internal/audit"
	"github.com/nexustrace/governor/internal/crossagent"
	"github.com/nexustrace/governor/internal/domain"
	"github.com/nexustrace/governor/internal/patterns"
	"github.com/nexustrace/governor/internal/policy"
	"github.com/nexustrace/governor/internal/redact"
	"github.com/nexustrace/governor/internal/trust"
	"github.com/nexustrace/governor/internal/validation"
)

func newTestEngine(t *testing.T, policies []domain.Policy, validator *validation.Validator, cfg Config) (*Engine, *trust.Manager, *audit.Sink) {
	t.Helper()

	pol, err := policy.NewEvaluator("", policy.FailClosed)
	require.NoError(t, err)
	pol.SetPolicies(policies)
	t.Cleanup(func() { _ = pol.Close() })

	trustMgr, err := trust.NewManager(trust.Config{DefaultScore: map[string]int{"*": 40}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = trustMgr.Shutdown() })

	auditSink := audit.NewSink(audit.Config{Dir: t.TempDir()})
	t.Cleanup(func() { _ = auditSink.Shutdown() })

	redactEng := redact.NewEngine(patterns.NewRedactionRegistry(), redact.NewVault(time.Hour))

	if cfg.FailMode == "" {
		cfg.FailMode = policy.FailClosed
	}
	e := NewEngine(cfg, pol, crossagent.NewManager(), trustMgr, auditSink, redactEng, validator, nil, nil, nil)
	return e, trustMgr, auditSink
}

func baseCtx() domain.EvaluationContext {
	return domain.EvaluationContext{
		Hook:       HookBeforeToolCall,
		AgentID:    "main",
		SessionKey: "agent:main:session-1",
		Timestamp:  time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC).UnixMilli(),
		Time:       "12:00",
		ToolName:   "exec",
		ToolParams: map[string]any{"command": "rm -rf /data"},
	}
}

func TestEvaluateAppliesMatchedDenyPolicy(t *testing.T) {
	policies := []domain.Policy{{
		ID: "p1",
		Rules: []domain.Rule{{
			ID:         "r1",
			Conditions: []domain.Condition{{Kind: domain.ConditionTool, ToolName: "exec"}},
			Effect:     domain.RuleEffect{Action: domain.EffectDeny, Reason: "exec blocked"},
		}},
	}}
	e, _, _ := newTestEngine(t, policies, nil, Config{MaxEvalUs: 5000})

	v := e.Evaluate(context.Background(), baseCtx())
	assert.Equal(t, domain.EffectDeny, v.Action)
	assert.Equal(t, "exec blocked", v.Reason)
}

func TestEvaluateRecordsAnAuditEntryForEveryVerdict(t *testing.T) {
	policies := []domain.Policy{{
		ID: "p1",
		Rules: []domain.Rule{{
			ID:         "r1",
			Conditions: []domain.Condition{{Kind: domain.ConditionTool, ToolName: "exec"}},
			Effect:     domain.RuleEffect{Action: domain.EffectDeny, Reason: "exec blocked"},
		}},
	}}
	e, _, auditSink := newTestEngine(t, policies, nil, Config{MaxEvalUs: 5000})

	e.Evaluate(context.Background(), baseCtx())
	require.NoError(t, auditSink.Flush())

	recs, err := auditSink.QueryRecords(audit.Query{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, domain.EffectDeny, recs[0].Verdict)
	assert.Contains(t, recs[0].Controls, "A.5.24")
	assert.Contains(t, recs[0].Controls, "A.5.28")
}

func TestEvaluateAppliesCrossAgentTrustCeiling(t *testing.T) {
	policies := []domain.Policy{{
		ID: "trust-gate",
		Rules: []domain.Rule{{
			ID: "r1",
			Conditions: []domain.Condition{
				{Kind: domain.ConditionTrust, MinScore: intPtr(70)},
			},
			Effect: domain.RuleEffect{Action: domain.EffectAllow, Reason: "privileged only"},
		}},
	}}
	e, trustMgr, _ := newTestEngine(t, policies, nil, Config{MaxEvalUs: 5000})

	trustMgr.SetScore("parent", 60)
	trustMgr.SetScore("child", 80)
	e.crossAgent.RegisterSpawn("parent", "agent:parent:session-1", "agent:parent:subagent:child:session-1")

	ctx := domain.EvaluationContext{
		Hook:       HookBeforeToolCall,
		AgentID:    "child",
		SessionKey: "agent:parent:subagent:child:session-1",
		ToolName:   "exec",
	}
	v := e.Evaluate(context.Background(), ctx)

	assert.Equal(t, 60, v.Trust.Score)
	assert.Equal(t, domain.TierTrusted, v.Trust.Tier)
	// The gate rule never matched: effective score (60) is below MinScore
	// (70), so the verdict falls through to the default allow with no
	// matched policies.
	assert.Equal(t, domain.EffectAllow, v.Action)
	assert.Empty(t, v.MatchedPolicies)
}

func TestEvaluateTimesOutOnSlowPolicyAndFailsClosed(t *testing.T) {
	policies := []domain.Policy{{
		ID: "slow",
		Rules: []domain.Rule{{
			ID:         "r1",
			Conditions: []domain.Condition{{Kind: domain.ConditionFrequency, MaxCount: 0, PeriodS: 1}},
			Effect:     domain.RuleEffect{Action: domain.EffectAllow},
		}},
	}}
	e, _, _ := newTestEngine(t, policies, nil, Config{MaxEvalUs: 1})

	v := e.Evaluate(context.Background(), baseCtx())
	assert.Equal(t, domain.EffectDeny, v.Action)
	assert.Contains(t, v.Reason, "maxEvalUs")
}

func TestEvaluateFailsOpenOnTimeoutWhenConfigured(t *testing.T) {
	e, _, _ := newTestEngine(t, nil, nil, Config{MaxEvalUs: 1, FailMode: policy.FailOpen})
	v := e.Evaluate(context.Background(), baseCtx())
	assert.Equal(t, domain.EffectAllow, v.Action)
}

func TestEvaluateBlocksUnresolvablePlaceholderInToolParams(t *testing.T) {
	e, _, _ := newTestEngine(t, nil, nil, Config{MaxEvalUs: 5000})
	ctx := baseCtx()
	ctx.ToolParams = map[string]any{"command": "[REDACTED:credential:deadbeef]"}

	v := e.Evaluate(context.Background(), ctx)
	assert.Equal(t, domain.EffectDeny, v.Action)
	assert.Contains(t, v.Reason, "Unresolvable")
}

func TestEvaluateSkipsClaimValidationForNonExternalChannel(t *testing.T) {
	validator := validation.New(validation.Config{FailMode: validation.FailBlock, TimeoutMs: 50})
	e, _, _ := newTestEngine(t, nil, validator, Config{
		MaxEvalUs:        5000,
		ExternalChannels: []string{"twitter"},
	})

	ctx := domain.EvaluationContext{
		Hook:       HookMessageSending,
		AgentID:    "main",
		SessionKey: "agent:main:session-1",
		ToolName:   "send_message",
		Message:    "The system is now operational.",
		ToolParams: map[string]any{"channel": "internal-slack"},
	}
	v := e.Evaluate(context.Background(), ctx)
	assert.Equal(t, domain.EffectAllow, v.Action)
}

func TestEvaluateFailsClosedOnUnreachableValidatorForExternalChannel(t *testing.T) {
	validator := validation.New(validation.Config{FailMode: validation.FailBlock, TimeoutMs: 50, Endpoint: "http://127.0.0.1:1"})
	e, _, _ := newTestEngine(t, nil, validator, Config{
		MaxEvalUs:        5000,
		ExternalChannels: []string{"twitter"},
	})

	ctx := domain.EvaluationContext{
		Hook:       HookMessageSending,
		AgentID:    "main",
		SessionKey: "agent:main:session-1",
		ToolName:   "send_message",
		Message:    "We have successfully processed 500k events.",
		ToolParams: map[string]any{"channel": "twitter"},
	}
	v := e.Evaluate(context.Background(), ctx)
	assert.Equal(t, domain.EffectDeny, v.Action)
}

func intPtr(v int) *int { return &v }
