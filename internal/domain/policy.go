package domain

// Effect is the action a matched policy rule prescribes.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
	EffectAudit Effect = "audit"
	EffectWarn  Effect = "warn"
)

// precedence ranks effects for verdict aggregation: deny > warn > audit > allow.
var effectPrecedence = map[Effect]int{
	EffectDeny:  3,
	EffectWarn:  2,
	EffectAudit: 1,
	EffectAllow: 0,
}

// Rank returns the precedence rank of the effect; higher wins.
func (e Effect) Rank() int {
	return effectPrecedence[e]
}

// ConditionKind tags the kind of predicate a rule condition evaluates.
type ConditionKind string

const (
	ConditionTool      ConditionKind = "tool"
	ConditionContext   ConditionKind = "context"
	ConditionTrust     ConditionKind = "trust"
	ConditionTime      ConditionKind = "time"
	ConditionFrequency ConditionKind = "frequency"
)

// Condition is a single tagged predicate within a policy rule.
type Condition struct {
	Kind ConditionKind `json:"kind"`

	// Tool condition fields.
	ToolName    string            `json:"toolName,omitempty"`
	ParamRegex  map[string]string `json:"paramRegex,omitempty"`

	// Trust condition fields.
	MinScore  *int   `json:"minScore,omitempty"`
	MaxScore  *int   `json:"maxScore,omitempty"`
	TrustTier string `json:"trustTier,omitempty"`

	// Time condition fields.
	Window   string `json:"window,omitempty"`   // e.g. "23:00-08:00"
	Timezone string `json:"timezone,omitempty"`

	// Frequency condition fields.
	MaxCount int `json:"maxCount,omitempty"`
	PeriodS  int `json:"periodSeconds,omitempty"`

	// Context condition fields.
	Field   string `json:"field,omitempty"` // "message" | "toolParams" | "crossAgent"
	Pattern string `json:"pattern,omitempty"`
}

// RuleEffect is the outcome a rule applies when all of its conditions match.
type RuleEffect struct {
	Action Effect `json:"action"`
	Reason string `json:"reason,omitempty"`
}

// Rule is a single ordered condition set plus the effect applied on match.
type Rule struct {
	ID         string      `json:"id"`
	Conditions []Condition `json:"conditions"`
	Effect     RuleEffect  `json:"effect"`
}

// Scope restricts which evaluation contexts a policy applies to. An empty
// field matches everything for that dimension.
type Scope struct {
	Agents []string `json:"agents,omitempty"`
	Hooks  []string `json:"hooks,omitempty"`
	Tools  []string `json:"tools,omitempty"`
}

// Policy is a named, versioned, scoped set of rules plus compliance
// control tags.
type Policy struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Version  string   `json:"version"`
	Scope    Scope    `json:"scope"`
	Rules    []Rule   `json:"rules"`
	Controls []string `json:"controls,omitempty"`
}

// MatchedPolicy records which rule of which policy matched, and the
// controls inherited from that policy (never hook-derived).
type MatchedPolicy struct {
	PolicyID string   `json:"policyId"`
	RuleID   string   `json:"ruleId"`
	Effect   Effect   `json:"effect"`
	Controls []string `json:"controls"`
}

// CrossAgentInfo is attached to an EvaluationContext for sub-agent sessions.
type CrossAgentInfo struct {
	ParentAgentID      string   `json:"parentAgentId"`
	ParentSessionKey   string   `json:"parentSessionKey"`
	InheritedPolicyIDs []string `json:"inheritedPolicyIds,omitempty"`
	TrustCeiling       int      `json:"trustCeiling"`
}

// TrustSnapshot is the trust view carried inside an EvaluationContext and
// Verdict; it may be capped by a cross-agent trust ceiling.
type TrustSnapshot struct {
	Score int       `json:"score"`
	Tier  TrustTier `json:"tier"`
}

// EvaluationContext is the contextual record the Policy Evaluator matches
// against scoped policies.
type EvaluationContext struct {
	Hook        string          `json:"hook"`
	AgentID     string          `json:"agentId"`
	SessionKey  string          `json:"sessionKey"`
	Timestamp   int64           `json:"timestamp"`
	Time        string          `json:"time"` // "HH:MM" local to Timezone
	Trust       TrustSnapshot   `json:"trust"`
	ToolName    string          `json:"toolName,omitempty"`
	ToolParams  map[string]any  `json:"toolParams,omitempty"`
	Message     string          `json:"message,omitempty"`
	CrossAgent  *CrossAgentInfo `json:"crossAgent,omitempty"`
}

// Verdict is the result of policy evaluation at a governance hook.
type Verdict struct {
	Action          Effect          `json:"action"`
	Reason          string          `json:"reason"`
	MatchedPolicies []MatchedPolicy `json:"matchedPolicies"`
	Trust           TrustSnapshot   `json:"trust"`
	EnrichedCtx     EvaluationContext `json:"enrichedCtx"`
}
