package redact

import (
	"encoding/json"
	"fmt"

	"github.com/nexustrace/governor/internal/domain"
)

// ToolCallBlock describes why a tool call was blocked by the pre-call
// placeholder resolver.
type ToolCallBlock struct {
	Reason string
}

func (b *ToolCallBlock) Error() string { return b.Reason }

// ScanToolResult is Layer 1's post-call half: it scans a tool's result
// payload and returns it with live secrets replaced by placeholders, so
// the agent never observes them.
func (e *Engine) ScanToolResult(result json.RawMessage) (json.RawMessage, error) {
	return e.RedactJSON(result)
}

// ResolveToolCallParams is Layer 1's pre-call half: any placeholders
// present in params are resolved from the vault before dispatch. An
// unresolvable placeholder blocks the call.
func (e *Engine) ResolveToolCallParams(params json.RawMessage) (json.RawMessage, error) {
	if len(params) == 0 {
		return params, nil
	}
	resolved, unresolved := e.ResolveAll(string(params))
	if len(unresolved) > 0 {
		return nil, &ToolCallBlock{Reason: fmt.Sprintf("Unresolvable placeholder(s): %v", unresolved)}
	}
	return json.RawMessage(resolved), nil
}

// OutboundScope describes the destination of an outbound message, used to
// evaluate the allowlist for Layer 2.
type OutboundScope struct {
	Channel string
	Tool    string
	Agent   string
}

// ScanOutbound is Layer 2: it scans outbound text, always redacting
// credentials, and redacting PII/financial data unless the destination (or
// originating tool/agent) is allow-listed. Credentials are never
// allow-listed — enforced here by construction, not configuration.
func (e *Engine) ScanOutbound(text string, scope OutboundScope, allowlist AllowlistConfig) string {
	if allowlist.ExemptTools != nil && contains(allowlist.ExemptTools, scope.Tool) {
		return e.redactCredentialsOnly(text)
	}
	if allowlist.ExemptAgents != nil && contains(allowlist.ExemptAgents, scope.Agent) {
		return e.redactCredentialsOnly(text)
	}

	matches := e.catalog.FindAll(text)
	if len(matches) == 0 {
		return text
	}

	var out []byte
	last := 0
	raw := []byte(text)
	for _, m := range matches {
		category := toVaultCategory(m.Pattern.Category)
		if category == domain.CategoryPII && allowlist.allowsPII(scope.Channel) {
			continue
		}
		if category == domain.CategoryFinancial && allowlist.allowsFinancial(scope.Channel) {
			continue
		}
		out = append(out, raw[last:m.Start]...)
		hash := e.vault.Store(m.Value, category)
		out = append(out, []byte(fmt.Sprintf("%s%s:%s]", placeholderPrefix, category, hash))...)
		last = m.End
	}
	out = append(out, raw[last:]...)
	return string(out)
}

// redactCredentialsOnly redacts only credential-category matches,
// preserving PII/financial content for an exempted tool or agent.
func (e *Engine) redactCredentialsOnly(text string) string {
	matches := e.catalog.FindAll(text)
	var out []byte
	last := 0
	raw := []byte(text)
	for _, m := range matches {
		category := toVaultCategory(m.Pattern.Category)
		if category != domain.CategoryCredential {
			continue
		}
		out = append(out, raw[last:m.Start]...)
		hash := e.vault.Store(m.Value, category)
		out = append(out, []byte(fmt.Sprintf("%s%s:%s]", placeholderPrefix, category, hash))...)
		last = m.End
	}
	out = append(out, raw[last:]...)
	return string(out)
}
