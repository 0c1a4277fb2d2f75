// Package policy implements the governance Policy Evaluator: scope
// matching, in-order rule evaluation with per-policy short-circuit, and
// cross-policy verdict aggregation by effect precedence. Policies are
// loaded from a directory of JSON files and hot-reloaded on change via
// fsnotify.
package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/nexustrace/governor/internal/domain"
)

// FailMode controls verdict defaulting when evaluation hits an internal
// error (malformed condition, regex compile failure, etc).
type FailMode string

const (
	// FailClosed denies on internal error — the safe default for a
	// governance control plane.
	FailClosed FailMode = "closed"
	// FailOpen allows on internal error.
	FailOpen FailMode = "open"
)

// Evaluator owns the live policy index and evaluates EvaluationContexts
// against it.
type Evaluator struct {
	dir      string
	failMode FailMode

	mu       sync.RWMutex
	policies []domain.Policy

	freq    *frequencyCounter
	watcher *fsnotify.Watcher
	stop    chan struct{}
}

// NewEvaluator loads every *.json policy file under dir and starts
// watching the directory for hot reload. dir may be empty, in which case
// the evaluator starts with zero policies (every verdict defaults to
// allow) and reload is a no-op.
func NewEvaluator(dir string, failMode FailMode) (*Evaluator, error) {
	if failMode == "" {
		failMode = FailClosed
	}
	e := &Evaluator{dir: dir, failMode: failMode, freq: newFrequencyCounter(), stop: make(chan struct{})}

	if dir == "" {
		return e, nil
	}

	if err := e.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("policy: new watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("policy: watch %s: %w", dir, err)
	}
	e.watcher = watcher
	go e.watchLoop()
	return e, nil
}

func (e *Evaluator) watchLoop() {
	for {
		select {
		case ev, ok := <-e.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				_ = e.reload()
			}
		case _, ok := <-e.watcher.Errors:
			if !ok {
				return
			}
		case <-e.stop:
			return
		}
	}
}

// Close stops the hot-reload watcher.
func (e *Evaluator) Close() error {
	if e.watcher != nil {
		close(e.stop)
		return e.watcher.Close()
	}
	return nil
}

func (e *Evaluator) reload() error {
	entries, err := os.ReadDir(e.dir)
	if err != nil {
		return fmt.Errorf("policy: read dir %s: %w", e.dir, err)
	}

	var loaded []domain.Policy
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(e.dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("policy: read %s: %w", entry.Name(), err)
		}
		ps, err := parsePolicyFile(data)
		if err != nil {
			return fmt.Errorf("policy: parse %s: %w", entry.Name(), err)
		}
		loaded = append(loaded, ps...)
	}

	e.mu.Lock()
	e.policies = loaded
	e.mu.Unlock()
	return nil
}

// parsePolicyFile accepts either a single policy object or a JSON array of
// policies in one file.
func parsePolicyFile(data []byte) ([]domain.Policy, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var ps []domain.Policy
		if err := json.Unmarshal(data, &ps); err != nil {
			return nil, err
		}
		return ps, nil
	}
	var p domain.Policy
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return []domain.Policy{p}, nil
}

// Policies returns the currently loaded policy index.
func (e *Evaluator) Policies() []domain.Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]domain.Policy(nil), e.policies...)
}

// SetPolicies overrides the loaded policy index directly, bypassing the
// filesystem — used by tests and by callers that resolve an
// agent-scoped/ancestor-scoped subset before evaluating.
func (e *Evaluator) SetPolicies(policies []domain.Policy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.policies = policies
}

// Evaluate matches ctx against every scoped policy, aggregates the result
// by effect precedence (deny > warn > audit > allow), and returns the
// resulting Verdict. A matched policy's rule evaluation never panics the
// caller: any internal error degrades to the configured fail mode for
// that policy only.
func (e *Evaluator) Evaluate(ctx domain.EvaluationContext) domain.Verdict {
	policies := e.Policies()

	verdict := domain.Verdict{Action: domain.EffectAllow, Reason: "no policy matched", Trust: ctx.Trust, EnrichedCtx: ctx}

	for _, p := range policies {
		if !scopeMatches(p.Scope, ctx) {
			continue
		}

		mp, err := e.evaluatePolicy(p, ctx)
		if err != nil {
			mp = domain.MatchedPolicy{
				PolicyID: p.ID,
				Effect:   e.failModeEffect(),
				Controls: p.Controls,
			}
		}
		if mp.Effect == "" {
			continue // no rule in this policy matched
		}

		verdict.MatchedPolicies = append(verdict.MatchedPolicies, mp)
		if verdict.Reason == "no policy matched" || mp.Effect.Rank() > verdict.Action.Rank() {
			verdict.Action = mp.Effect
			verdict.Reason = ruleReason(p, mp)
		}
	}

	return verdict
}

func (e *Evaluator) failModeEffect() domain.Effect {
	if e.failMode == FailOpen {
		return domain.EffectAllow
	}
	return domain.EffectDeny
}

func ruleReason(p domain.Policy, mp domain.MatchedPolicy) string {
	for _, r := range p.Rules {
		if r.ID == mp.RuleID && r.Effect.Reason != "" {
			return r.Effect.Reason
		}
	}
	return fmt.Sprintf("policy %s matched", p.ID)
}

// evaluatePolicy evaluates rules in order and returns the first rule whose
// conditions all match, short-circuiting further rules in this policy.
func (e *Evaluator) evaluatePolicy(p domain.Policy, ctx domain.EvaluationContext) (domain.MatchedPolicy, error) {
	for _, rule := range p.Rules {
		matched := true
		for _, cond := range rule.Conditions {
			ok, err := e.evaluateCondition(cond, ctx, p.ID, rule.ID)
			if err != nil {
				return domain.MatchedPolicy{}, err
			}
			if !ok {
				matched = false
				break
			}
		}
		if matched {
			return domain.MatchedPolicy{
				PolicyID: p.ID,
				RuleID:   rule.ID,
				Effect:   rule.Effect.Action,
				Controls: p.Controls,
			}, nil
		}
	}
	return domain.MatchedPolicy{}, nil
}

// scopeMatches reports whether ctx falls within scope; an empty field
// matches everything for that dimension.
func scopeMatches(scope domain.Scope, ctx domain.EvaluationContext) bool {
	if len(scope.Agents) > 0 && !contains(scope.Agents, ctx.AgentID) {
		return false
	}
	if len(scope.Hooks) > 0 && !contains(scope.Hooks, ctx.Hook) {
		return false
	}
	if len(scope.Tools) > 0 && !contains(scope.Tools, ctx.ToolName) {
		return false
	}
	return true
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func (e *Evaluator) evaluateCondition(c domain.Condition, ctx domain.EvaluationContext, policyID, ruleID string) (bool, error) {
	switch c.Kind {
	case domain.ConditionTool:
		return evaluateToolCondition(c, ctx)
	case domain.ConditionTrust:
		return evaluateTrustCondition(c, ctx), nil
	case domain.ConditionTime:
		return evaluateTimeCondition(c, ctx)
	case domain.ConditionFrequency:
		return e.evaluateFrequencyCondition(c, ctx, policyID, ruleID), nil
	case domain.ConditionContext:
		return evaluateContextCondition(c, ctx)
	default:
		return false, fmt.Errorf("policy: unknown condition kind %q", c.Kind)
	}
}

func evaluateToolCondition(c domain.Condition, ctx domain.EvaluationContext) (bool, error) {
	if c.ToolName != "" {
		ok, err := path.Match(c.ToolName, ctx.ToolName)
		if err != nil {
			return false, fmt.Errorf("policy: bad tool glob %q: %w", c.ToolName, err)
		}
		if !ok {
			return false, nil
		}
	}
	for field, pattern := range c.ParamRegex {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false, fmt.Errorf("policy: bad param regex %q: %w", pattern, err)
		}
		val := stringifyParam(ctx.ToolParams[field])
		if !re.MatchString(val) {
			return false, nil
		}
	}
	return true, nil
}

func stringifyParam(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	}
}

func evaluateTrustCondition(c domain.Condition, ctx domain.EvaluationContext) bool {
	if c.MinScore != nil && ctx.Trust.Score < *c.MinScore {
		return false
	}
	if c.MaxScore != nil && ctx.Trust.Score > *c.MaxScore {
		return false
	}
	if c.TrustTier != "" && string(ctx.Trust.Tier) != c.TrustTier {
		return false
	}
	return true
}

// evaluateTimeCondition checks ctx.Time ("HH:MM") against c.Window
// ("HH:MM-HH:MM"), handling windows that wrap past midnight.
func evaluateTimeCondition(c domain.Condition, ctx domain.EvaluationContext) (bool, error) {
	parts := strings.SplitN(c.Window, "-", 2)
	if len(parts) != 2 {
		return false, fmt.Errorf("policy: malformed time window %q", c.Window)
	}
	start, err := parseHHMM(parts[0])
	if err != nil {
		return false, err
	}
	end, err := parseHHMM(parts[1])
	if err != nil {
		return false, err
	}
	now, err := parseHHMM(ctx.Time)
	if err != nil {
		return false, fmt.Errorf("policy: malformed context time %q: %w", ctx.Time, err)
	}

	if start <= end {
		return now >= start && now < end, nil
	}
	// wraps past midnight, e.g. 23:00-08:00
	return now >= start || now < end, nil
}

func parseHHMM(s string) (int, error) {
	s = strings.TrimSpace(s)
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("policy: malformed HH:MM %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("policy: malformed hour in %q: %w", s, err)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("policy: malformed minute in %q: %w", s, err)
	}
	return h*60 + m, nil
}

// evaluateFrequencyCondition matches when the agent has exceeded MaxCount
// occurrences of this rule's condition within the trailing PeriodS seconds.
func (e *Evaluator) evaluateFrequencyCondition(c domain.Condition, ctx domain.EvaluationContext, policyID, ruleID string) bool {
	key := policyID + "|" + ruleID + "|" + ctx.AgentID
	now := time.UnixMilli(ctx.Timestamp)
	if ctx.Timestamp == 0 {
		now = time.Now()
	}
	e.freq.Record(key, now)
	count := e.freq.CountWithin(key, now, time.Duration(c.PeriodS)*time.Second)
	return count > c.MaxCount
}

func evaluateContextCondition(c domain.Condition, ctx domain.EvaluationContext) (bool, error) {
	re, err := regexp.Compile(c.Pattern)
	if err != nil {
		return false, fmt.Errorf("policy: bad context regex %q: %w", c.Pattern, err)
	}

	var haystack string
	switch c.Field {
	case "message":
		haystack = ctx.Message
	case "toolParams":
		b, _ := json.Marshal(ctx.ToolParams)
		haystack = string(b)
	case "crossAgent":
		if ctx.CrossAgent != nil {
			b, _ := json.Marshal(ctx.CrossAgent)
			haystack = string(b)
		}
	default:
		return false, fmt.Errorf("policy: unknown context field %q", c.Field)
	}
	return re.MatchString(haystack), nil
}
