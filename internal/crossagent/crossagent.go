// Package crossagent maintains the parent/child session graph used to
// inherit policies and cap trust for sub-agent sessions. Parentage is
// derived from explicit registration (on sessions_spawn) and from parsing
// session keys of the form agent:<parent>:subagent:<child>:<uuid> — the
// key alone is sufficient, without any explicit registration, matching the
// teacher's session-key routing grammar.
package crossagent

import (
	"strings"
	"sync"

	"github.com/nexustrace/governor/internal/domain"
)

// Lineage describes one parsed or registered parent/child relationship.
type Lineage struct {
	ParentAgentID    string
	ParentSessionKey string
	ChildAgentID     string
	ChildSessionKey  string
}

// ParseLineage parses a session key shaped
// "agent:<parent>:subagent:<child>:<uuid>" into its components. ok is
// false for a root-agent session key (no subagent segment).
func ParseLineage(sessionKey string) (Lineage, bool) {
	parts := strings.Split(sessionKey, ":")
	// agent : <parent> : subagent : <child> : <uuid>
	if len(parts) < 5 || parts[0] != "agent" || parts[2] != "subagent" {
		return Lineage{}, false
	}
	return Lineage{
		ParentAgentID:   parts[1],
		ChildAgentID:    parts[3],
		ChildSessionKey: sessionKey,
	}, true
}

// IsSubagentSessionKey reports whether sessionKey carries a subagent
// lineage segment.
func IsSubagentSessionKey(sessionKey string) bool {
	_, ok := ParseLineage(sessionKey)
	return ok
}

// descriptor is what the Manager stores per child session key.
type descriptor struct {
	parentAgentID    string
	parentSessionKey string
}

// Manager owns the acyclic child->parent session graph: a map from child
// session key to its parent descriptor. Session keys embed the parent
// path, so the graph can never cycle.
type Manager struct {
	mu       sync.RWMutex
	parentOf map[string]descriptor
	policies map[string][]string // agentID -> policy IDs scoped to that agent
}

// NewManager constructs an empty cross-agent manager.
func NewManager() *Manager {
	return &Manager{parentOf: make(map[string]descriptor), policies: make(map[string][]string)}
}

// RegisterSpawn explicitly records a parent/child relationship, as
// produced by a sessions_spawn event. Explicit registration takes
// precedence over, and does not require, session-key parsing.
func (m *Manager) RegisterSpawn(parentAgentID, parentSessionKey, childSessionKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.parentOf[childSessionKey] = descriptor{parentAgentID: parentAgentID, parentSessionKey: parentSessionKey}
}

// parentOfSessionKey resolves a session key's parent descriptor, trying
// explicit registration first and falling back to key parsing.
func (m *Manager) parentOfSessionKey(sessionKey string) (descriptor, bool) {
	m.mu.RLock()
	d, ok := m.parentOf[sessionKey]
	m.mu.RUnlock()
	if ok {
		return d, true
	}

	lineage, ok := ParseLineage(sessionKey)
	if !ok {
		return descriptor{}, false
	}
	return descriptor{parentAgentID: lineage.ParentAgentID}, true
}

// EnrichContext attaches CrossAgent information for sub-agent sessions,
// capping the effective trust score at the parent's current score and
// re-deriving tier from the capped score. Root agents are left untouched.
// parentTrust looks up the parent agent's current TrustSnapshot.
func (m *Manager) EnrichContext(ctx domain.EvaluationContext, parentTrust func(agentID string) domain.TrustSnapshot) domain.EvaluationContext {
	desc, ok := m.parentOfSessionKey(ctx.SessionKey)
	if !ok {
		return ctx
	}

	parent := parentTrust(desc.parentAgentID)
	ceiling := parent.Score
	score := ctx.Trust.Score
	if score > ceiling {
		score = ceiling
	}

	ctx.Trust = domain.TrustSnapshot{Score: score, Tier: domain.TierFromScore(score)}
	ctx.CrossAgent = &domain.CrossAgentInfo{
		ParentAgentID:      desc.parentAgentID,
		ParentSessionKey:   desc.parentSessionKey,
		InheritedPolicyIDs: m.ancestorPolicyIDs(ctx.AgentID),
		TrustCeiling:       ceiling,
	}
	return ctx
}

// RegisterAgentPolicies records which policy IDs are scoped directly to
// agentID. EnrichContext reports the IDs recorded for a sub-agent's
// ancestors as CrossAgentInfo.InheritedPolicyIDs; ResolveEffectivePolicies
// does not read them.
func (m *Manager) RegisterAgentPolicies(agentID string, policyIDs []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies[agentID] = policyIDs
}

func (m *Manager) ancestorPolicyIDs(agentID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.policies[agentID]...)
}

// ResolveEffectivePolicies returns global policies (empty scope.Agents)
// plus policies scoped to agentID plus, for sub-agents, policies scoped to
// any ancestor, walking the full parent chain.
func ResolveEffectivePolicies(agentID, sessionKey string, m *Manager, index []domain.Policy) []domain.Policy {
	chain := ancestorAgentIDs(m, agentID, sessionKey)

	var effective []domain.Policy
	for _, p := range index {
		if len(p.Scope.Agents) == 0 {
			effective = append(effective, p)
			continue
		}
		for _, a := range p.Scope.Agents {
			if containsString(chain, a) {
				effective = append(effective, p)
				break
			}
		}
	}
	return effective
}

func ancestorAgentIDs(m *Manager, agentID, sessionKey string) []string {
	chain := []string{agentID}
	seen := map[string]bool{agentID: true}
	key := sessionKey

	for {
		desc, ok := m.parentOfSessionKey(key)
		if !ok || seen[desc.parentAgentID] {
			break
		}
		chain = append(chain, desc.parentAgentID)
		seen[desc.parentAgentID] = true
		key = desc.parentSessionKey
		if key == "" {
			break
		}
	}
	return chain
}

func containsString(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
