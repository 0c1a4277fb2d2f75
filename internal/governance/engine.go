// Package governance composes the Governance Engine's single real-time
// operation. Every tool-call and outbound-message hook resolves to one
// call to Evaluate, which chains cross-agent trust enrichment, policy
// evaluation under a latency budget, Layer 1/2 redaction, and outbound
// claim validation, and always leaves an audit trail behind it.
package governance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/nexustrace/governor/internal/audit"
	"github.com/nexustrace/governor/internal/claims"
	"github.com/nexustrace/governor/internal/crossagent"
	"github.com/nexustrace/governor/internal/domain"
	"github.com/nexustrace/governor/internal/policy"
	"github.com/nexustrace/governor/internal/redact"
	"github.com/nexustrace/governor/internal/telemetry"
	"github.com/nexustrace/governor/internal/trust"
	"github.com/nexustrace/governor/internal/validation"
)

// Hook names the runtime uses when invoking Evaluate. They are free-form
// strings at the policy-scope layer, but the engine treats these two
// specially: the first gets Layer 1 placeholder resolution, the second
// gets Layer 2 outbound scanning and claim validation.
const (
	HookBeforeToolCall = "before_tool_call"
	HookMessageSending = "message_sending"
)

// Config carries the evaluate-path budget and the outbound claim-check
// scope, mirroring spec.md §6's performance{} and
// outputValidation.llmValidator{} blocks.
type Config struct {
	FailMode         policy.FailMode
	MaxEvalUs        int
	ExternalChannels []string
	ExternalCommands []string
	Facts            map[string]string
	Allowlist        redact.AllowlistConfig
}

func (c Config) maxEvalDuration() time.Duration {
	us := c.MaxEvalUs
	if us <= 0 {
		us = 5000
	}
	return time.Duration(us) * time.Microsecond
}

func (c Config) isExternal(ectx domain.EvaluationContext) bool {
	return containsStr(c.ExternalChannels, channelOf(ectx)) || containsStr(c.ExternalCommands, ectx.ToolName)
}

func containsStr(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func channelOf(ectx domain.EvaluationContext) string {
	if v, ok := ectx.ToolParams["channel"].(string); ok {
		return v
	}
	return ectx.ToolName
}

// Engine ties the Trust Manager, cross-agent lineage, Policy Evaluator,
// Redaction Engine, LLM Validator, and audit Sink into the single
// evaluate(ctx) operation spec.md §5 describes.
type Engine struct {
	cfg Config

	policy     *policy.Evaluator
	crossAgent *crossagent.Manager
	trustMgr   *trust.Manager
	auditSink  *audit.Sink
	redactEng  *redact.Engine
	validator  *validation.Validator // nil disables outbound claim validation

	logger  *telemetry.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
}

// NewEngine constructs an Engine. validator, metrics, and tracer may be
// nil: claim validation, instrumentation, and tracing are each skipped
// when their dependency is absent rather than failing construction.
func NewEngine(cfg Config, policyEval *policy.Evaluator, crossAgent *crossagent.Manager, trustMgr *trust.Manager, auditSink *audit.Sink, redactEng *redact.Engine, validator *validation.Validator, logger *telemetry.Logger, metrics *telemetry.Metrics, tracer *telemetry.Tracer) *Engine {
	return &Engine{
		cfg: cfg, policy: policyEval, crossAgent: crossAgent, trustMgr: trustMgr,
		auditSink: auditSink, redactEng: redactEng, validator: validator,
		logger: logger, metrics: metrics, tracer: tracer,
	}
}

// Evaluate is the Governance Engine's single real-time operation. It is
// synchronous from the caller's viewpoint and always returns promptly: the
// policy evaluation step is bounded by cfg.MaxEvalUs, defaulting to the
// configured fail-mode effect on overrun rather than blocking the hook.
func (e *Engine) Evaluate(ctx context.Context, ectx domain.EvaluationContext) domain.Verdict {
	start := time.Now()
	if e.tracer != nil {
		tctx, span := e.tracer.Start(ctx, "governance.evaluate",
			attribute.String("hook", ectx.Hook),
			attribute.String("agent_id", ectx.AgentID),
			attribute.String("tool_name", ectx.ToolName),
		)
		ctx = tctx
		defer span.End()
	}

	ectx = e.enrichTrust(ectx)

	if block := e.resolveToolParams(&ectx); block != nil {
		verdict := domain.Verdict{Action: domain.EffectDeny, Reason: block.Error(), Trust: ectx.Trust, EnrichedCtx: ectx}
		e.finish(ctx, verdict, start)
		return verdict
	}

	verdict := e.evaluateWithBudget(ctx, ectx)
	verdict = e.applyClaimValidation(ctx, verdict)
	verdict = e.applyOutboundScan(verdict)

	e.finish(ctx, verdict, start)
	return verdict
}

// enrichTrust attaches the agent's current trust snapshot and, for a
// sub-agent session key, caps it at the parent's score via the cross-agent
// ceiling (spec.md §8 "Cross-agent ceiling").
func (e *Engine) enrichTrust(ectx domain.EvaluationContext) domain.EvaluationContext {
	rec := e.trustMgr.Get(ectx.AgentID)
	ectx.Trust = domain.TrustSnapshot{Score: rec.Score, Tier: rec.Tier}
	if e.crossAgent != nil {
		ectx = e.crossAgent.EnrichContext(ectx, e.parentTrustSnapshot)
	}
	return ectx
}

func (e *Engine) parentTrustSnapshot(agentID string) domain.TrustSnapshot {
	rec := e.trustMgr.Get(agentID)
	return domain.TrustSnapshot{Score: rec.Score, Tier: rec.Tier}
}

// resolveToolParams is Layer 1's pre-call half: placeholders present in a
// before_tool_call's params are resolved from the vault before dispatch.
// An unresolvable placeholder blocks the call outright.
func (e *Engine) resolveToolParams(ectx *domain.EvaluationContext) *redact.ToolCallBlock {
	if e.redactEng == nil || ectx.Hook != HookBeforeToolCall || len(ectx.ToolParams) == 0 {
		return nil
	}
	raw, err := json.Marshal(ectx.ToolParams)
	if err != nil {
		return nil
	}
	resolved, err := e.redactEng.ResolveToolCallParams(raw)
	if err != nil {
		var block *redact.ToolCallBlock
		if errors.As(err, &block) {
			return block
		}
		return nil
	}
	var params map[string]any
	if err := json.Unmarshal(resolved, &params); err == nil {
		ectx.ToolParams = params
	}
	return nil
}

// evaluateWithBudget runs the Policy Evaluator on a goroutine and races it
// against cfg.MaxEvalUs, so a pathological condition (a slow regex, a huge
// frequency window) can never stall the calling hook past budget.
func (e *Engine) evaluateWithBudget(ctx context.Context, ectx domain.EvaluationContext) domain.Verdict {
	timeoutCtx, cancel := context.WithTimeout(ctx, e.cfg.maxEvalDuration())
	defer cancel()

	start := time.Now()
	result := make(chan domain.Verdict, 1)
	go func() { result <- e.policy.Evaluate(ectx) }()

	select {
	case v := <-result:
		if e.metrics != nil {
			e.metrics.PolicyEvalDuration.Observe(time.Since(start).Seconds())
		}
		return v
	case <-timeoutCtx.Done():
		if e.metrics != nil {
			e.metrics.PolicyEvalOverBudget.Inc()
		}
		if e.logger != nil {
			e.logger.Warn(ctx, "policy evaluation exceeded maxEvalUs budget",
				"hook", ectx.Hook, "agent_id", ectx.AgentID, "max_eval_us", e.cfg.MaxEvalUs)
		}
		return domain.Verdict{
			Action: e.failModeEffect(), Reason: "evaluation exceeded maxEvalUs budget",
			Trust: ectx.Trust, EnrichedCtx: ectx,
		}
	}
}

func (e *Engine) failModeEffect() domain.Effect {
	if e.cfg.FailMode == policy.FailOpen {
		return domain.EffectAllow
	}
	return domain.EffectDeny
}

// applyClaimValidation runs the §4.13 fact-check path: an outbound message
// destined for a designated external channel or command has its claims
// extracted and checked against the facts registry, and the resulting
// verdict is folded in if it outranks the policy verdict.
func (e *Engine) applyClaimValidation(ctx context.Context, verdict domain.Verdict) domain.Verdict {
	ectx := verdict.EnrichedCtx
	if e.validator == nil || ectx.Hook != HookMessageSending || ectx.Message == "" || !e.cfg.isExternal(ectx) {
		return verdict
	}

	extracted := claims.Detect(ectx.Message)
	if len(extracted) == 0 {
		return verdict
	}

	result := e.validator.Validate(ctx, extracted, e.cfg.Facts, true)
	effect := effectFromValidation(result.Verdict)
	if effect.Rank() <= verdict.Action.Rank() {
		return verdict
	}

	reason := fmt.Sprintf("claim validation returned %s", result.Verdict)
	if len(result.Issues) > 0 {
		reason = fmt.Sprintf("claim validation: %s", result.Issues[0].Explanation)
	}
	verdict.Action = effect
	verdict.Reason = reason
	verdict.MatchedPolicies = append(verdict.MatchedPolicies, domain.MatchedPolicy{
		PolicyID: "claim-validator", RuleID: string(result.Verdict), Effect: effect,
		Controls: []string{"A.5.24"},
	})
	return verdict
}

func effectFromValidation(v validation.Verdict) domain.Effect {
	switch v {
	case validation.VerdictBlock:
		return domain.EffectDeny
	case validation.VerdictFlag:
		return domain.EffectWarn
	default:
		return domain.EffectAllow
	}
}

// applyOutboundScan is Layer 2: the final message content is scanned
// before it leaves the process, independent of the policy verdict itself.
// Credentials are always redacted; PII and financial data are redacted
// unless the destination channel (or tool/agent) is allow-listed.
func (e *Engine) applyOutboundScan(verdict domain.Verdict) domain.Verdict {
	if e.redactEng == nil || verdict.EnrichedCtx.Hook != HookMessageSending || verdict.EnrichedCtx.Message == "" {
		return verdict
	}
	scope := redact.OutboundScope{
		Channel: channelOf(verdict.EnrichedCtx),
		Tool:    verdict.EnrichedCtx.ToolName,
		Agent:   verdict.EnrichedCtx.AgentID,
	}
	verdict.EnrichedCtx.Message = e.redactEng.ScanOutbound(verdict.EnrichedCtx.Message, scope, e.cfg.Allowlist)
	return verdict
}

// finish emits the audit record and verdict metric. Every verdict is
// recorded: spec.md §7 requires denials and warns always produce a record,
// and recording allow/audit verdicts too costs nothing the buffered sink
// doesn't already amortize.
func (e *Engine) finish(ctx context.Context, verdict domain.Verdict, start time.Time) {
	elapsed := time.Since(start)
	if e.auditSink != nil {
		if err := e.auditSink.Record(verdict, elapsed); err != nil && e.logger != nil {
			e.logger.Warn(ctx, "audit record failed", "error", err)
		}
	}
	if e.metrics != nil {
		e.metrics.VerdictCounter.WithLabelValues(string(verdict.Action)).Inc()
	}
}
