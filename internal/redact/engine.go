package redact

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/nexustrace/governor/internal/domain"
	"github.com/nexustrace/governor/internal/patterns"
)

const (
	placeholderPrefix = "[REDACTED:"
	maxScanDepth       = 32
)

var placeholderPattern = regexp.MustCompile(`\[REDACTED:([a-z]+):([0-9a-f]{8,12})\]`)

// AllowlistConfig enables PII/financial redaction bypass for specific
// destinations. Credentials are never allow-listed: this is enforced by
// construction, not by configuration.
type AllowlistConfig struct {
	PIIAllowedChannels       []string
	FinancialAllowedChannels []string
	ExemptTools              []string
	ExemptAgents             []string
}

func (a AllowlistConfig) allowsPII(channel string) bool       { return contains(a.PIIAllowedChannels, channel) }
func (a AllowlistConfig) allowsFinancial(channel string) bool { return contains(a.FinancialAllowedChannels, channel) }

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// Engine performs deep JSON-aware scans for sensitive material, substitutes
// opaque placeholders, and stores originals in its Vault.
type Engine struct {
	catalog *patterns.RedactionRegistry
	vault   *Vault
}

// NewEngine builds a redaction engine backed by catalog and vault.
func NewEngine(catalog *patterns.RedactionRegistry, vault *Vault) *Engine {
	return &Engine{catalog: catalog, vault: vault}
}

// Vault exposes the underlying resolver vault, e.g. for shutdown or direct
// resolution from the tool-call hook.
func (e *Engine) Vault() *Vault { return e.vault }

// RedactText scans a single string for catalog matches and returns the
// redacted text plus the number of substitutions made.
func (e *Engine) RedactText(text string) (string, int) {
	matches := e.catalog.FindAll(text)
	if len(matches) == 0 {
		return text, 0
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(text[last:m.Start])
		hash := e.vault.Store(m.Value, toVaultCategory(m.Pattern.Category))
		fmt.Fprintf(&b, "%s%s:%s]", placeholderPrefix, toVaultCategory(m.Pattern.Category), hash)
		last = m.End
	}
	b.WriteString(text[last:])
	return b.String(), len(matches)
}

// RedactJSON deep-scans an arbitrary JSON-compatible value, substituting
// placeholders for every matched string leaf (including strings that
// themselves parse as nested JSON). Cycles are impossible in decoded JSON
// (no shared references), but a max depth still bounds adversarial nesting.
func (e *Engine) RedactJSON(raw json.RawMessage) (json.RawMessage, error) {
	if len(raw) == 0 {
		return raw, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		// Not JSON: treat as a plain string scan.
		redacted, _ := e.RedactText(string(raw))
		return json.RawMessage(redacted), nil
	}

	scanned := e.scanValue(v, 0)
	out, err := json.Marshal(scanned)
	if err != nil {
		return nil, fmt.Errorf("marshal redacted value: %w", err)
	}
	return out, nil
}

func (e *Engine) scanValue(v any, depth int) any {
	if depth >= maxScanDepth {
		return v
	}
	switch t := v.(type) {
	case string:
		// A string that itself parses as JSON is treated as a nested value.
		var nested any
		if err := json.Unmarshal([]byte(t), &nested); err == nil {
			if _, isScalar := nested.(float64); !isScalar {
				if _, isBool := nested.(bool); !isBool {
					rescanned := e.scanValue(nested, depth+1)
					if out, err := json.Marshal(rescanned); err == nil {
						return string(out)
					}
				}
			}
		}
		redacted, _ := e.RedactText(t)
		return redacted
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = e.scanValue(val, depth+1)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = e.scanValue(val, depth+1)
		}
		return out
	default:
		return v
	}
}

// ResolveAll scans text for placeholder syntax and substitutes resolvable
// ones in place, returning the resolved text and the list of hashes that
// could not be resolved.
func (e *Engine) ResolveAll(text string) (string, []string) {
	var unresolved []string
	result := placeholderPattern.ReplaceAllStringFunc(text, func(match string) string {
		groups := placeholderPattern.FindStringSubmatch(match)
		hash := groups[2]
		original, _, err := e.vault.Resolve(hash)
		if err != nil {
			unresolved = append(unresolved, hash)
			return match
		}
		return original
	})
	return result, unresolved
}

func toVaultCategory(c patterns.RedactionCategory) domain.VaultCategory {
	switch c {
	case patterns.CategoryCredential:
		return domain.CategoryCredential
	case patterns.CategoryFinancial:
		return domain.CategoryFinancial
	case patterns.CategoryPII:
		return domain.CategoryPII
	default:
		return domain.CategoryCustom
	}
}
