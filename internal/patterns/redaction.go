package patterns

import (
	"fmt"
	"regexp"
	"sort"
	"time"
)

// RedactionCategory mirrors domain.VaultCategory without importing the
// domain package, keeping patterns dependency-free for reuse by both the
// trace analyzer and the governance engine.
type RedactionCategory string

const (
	CategoryCredential RedactionCategory = "credential"
	CategoryPII        RedactionCategory = "pii"
	CategoryFinancial  RedactionCategory = "financial"
	CategoryCustom     RedactionCategory = "custom"
)

// categoryPriority resolves overlapping matches: credential wins over
// financial, which wins over pii, which wins over an unranked custom
// pattern. Higher is more specific / higher priority.
var categoryPriority = map[RedactionCategory]int{
	CategoryCredential: 3,
	CategoryFinancial:  2,
	CategoryPII:        1,
	CategoryCustom:     0,
}

// RedactionPattern is one compiled entry in the redaction catalog.
type RedactionPattern struct {
	Name     string
	Category RedactionCategory
	Priority int
	Regexp   *regexp.Regexp
}

// Match is a located hit against the source text, used by the redaction
// engine to resolve overlaps before substitution.
type Match struct {
	Pattern    *RedactionPattern
	Start, End int
	Value      string
}

// redosProbeBudget bounds the smoke test applied to every user-supplied
// custom pattern before it is accepted into the registry.
const redosProbeBudget = 10 * time.Millisecond

// redosProbeInput is a pathological-looking but short string used to smoke
// test a candidate pattern for catastrophic backtracking before it is
// trusted against real traffic.
const redosProbeInput = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa!"

// RedactionRegistry is the builtin credential/PII/financial pattern catalog
// used by the governance redaction engine. Unlike SignalRegistry it has no
// async-load phase: the builtin catalog is small and always available, and
// custom patterns are added synchronously (with a ReDoS smoke test) at
// config-load time.
type RedactionRegistry struct {
	patterns []*RedactionPattern
}

// NewRedactionRegistry builds the registry pre-loaded with the builtin
// catalog, sorted so Match resolution below can rely on priority order.
func NewRedactionRegistry() *RedactionRegistry {
	r := &RedactionRegistry{patterns: builtinRedactionPatterns()}
	r.sortByPriority()
	return r
}

// AddCustom compiles and registers a user-supplied pattern (spec.md §6
// redaction.customPatterns). It is rejected if it fails to compile or fails
// the ReDoS smoke test, so one bad operator-supplied pattern cannot take
// down the redaction path for every event.
func (r *RedactionRegistry) AddCustom(name, pattern string, category RedactionCategory, priority int) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("custom pattern %q: compile: %w", name, err)
	}
	if err := probeReDoS(re); err != nil {
		return fmt.Errorf("custom pattern %q: %w", name, err)
	}
	r.patterns = append(r.patterns, &RedactionPattern{
		Name:     name,
		Category: category,
		Priority: priority,
		Regexp:   re,
	})
	r.sortByPriority()
	return nil
}

func (r *RedactionRegistry) sortByPriority() {
	sort.SliceStable(r.patterns, func(i, j int) bool {
		pi, pj := r.patterns[i], r.patterns[j]
		if pi.Priority != pj.Priority {
			return pi.Priority > pj.Priority
		}
		return categoryPriority[pi.Category] > categoryPriority[pj.Category]
	})
}

// Patterns returns the registered catalog in resolution order (highest
// priority first).
func (r *RedactionRegistry) Patterns() []*RedactionPattern {
	return r.patterns
}

// FindAll scans text against every registered pattern and resolves
// overlapping matches by longest-match-wins, then category priority, per
// spec.md §4.12.
func (r *RedactionRegistry) FindAll(text string) []Match {
	var all []Match
	for _, p := range r.patterns {
		for _, loc := range p.Regexp.FindAllStringIndex(text, -1) {
			all = append(all, Match{Pattern: p, Start: loc[0], End: loc[1], Value: text[loc[0]:loc[1]]})
		}
	}
	return resolveOverlaps(all)
}

// resolveOverlaps drops lower-ranked matches that overlap a higher-ranked
// one. Rank is (length desc, then category/pattern priority desc).
func resolveOverlaps(matches []Match) []Match {
	sort.SliceStable(matches, func(i, j int) bool {
		li, lj := matches[i].End-matches[i].Start, matches[j].End-matches[j].Start
		if li != lj {
			return li > lj
		}
		pi, pj := matches[i].Pattern, matches[j].Pattern
		if pi.Priority != pj.Priority {
			return pi.Priority > pj.Priority
		}
		return categoryPriority[pi.Category] > categoryPriority[pj.Category]
	})

	var kept []Match
	for _, m := range matches {
		overlaps := false
		for _, k := range kept {
			if m.Start < k.End && k.Start < m.End {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, m)
		}
	}

	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Start < kept[j].Start })
	return kept
}

// probeReDoS runs a bounded smoke test against a fixed pathological input,
// rejecting patterns that blow the time budget. This is a heuristic, not a
// proof of linear-time matching, but it catches the common catastrophic
// backtracking shapes operators accidentally paste in.
func probeReDoS(re *regexp.Regexp) error {
	done := make(chan struct{})
	go func() {
		re.FindString(redosProbeInput)
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(redosProbeBudget):
		return fmt.Errorf("pattern exceeded %s ReDoS probe budget", redosProbeBudget)
	}
}

// builtinRedactionPatterns is the fixed ~16-entry catalog named in
// spec.md §4.12: provider API keys, generic credential shapes, and common
// PII/financial identifiers.
func builtinRedactionPatterns() []*RedactionPattern {
	specs := []struct {
		name     string
		pattern  string
		category RedactionCategory
		priority int
	}{
		{"openai_api_key", `\bsk-[A-Za-z0-9]{20,}\b`, CategoryCredential, 10},
		{"anthropic_api_key", `\bsk-ant-[A-Za-z0-9-]{20,}\b`, CategoryCredential, 10},
		{"google_api_key", `\bAIza[0-9A-Za-z_-]{35}\b`, CategoryCredential, 10},
		{"github_token", `\bgh[pousr]_[A-Za-z0-9]{36,}\b`, CategoryCredential, 10},
		{"gitlab_token", `\bglpat-[A-Za-z0-9_-]{20,}\b`, CategoryCredential, 10},
		{"aws_access_key_id", `\bAKIA[0-9A-Z]{16}\b`, CategoryCredential, 10},
		{"aws_secret_access_key", `\b[A-Za-z0-9/+=]{40}\b`, CategoryCredential, 5},
		{"private_key_header", `-----BEGIN (RSA |EC |OPENSSH |)PRIVATE KEY-----`, CategoryCredential, 10},
		{"bearer_auth_header", `(?i)\bbearer\s+[A-Za-z0-9._-]{10,}`, CategoryCredential, 8},
		{"basic_auth_header", `(?i)\bbasic\s+[A-Za-z0-9+/=]{10,}`, CategoryCredential, 8},
		{"kv_credential", `(?i)\b(api[_-]?key|secret|password|passwd|token)\b\s*[:=]\s*["']?[^\s"']{6,}`, CategoryCredential, 6},
		{"email_address", `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`, CategoryPII, 4},
		{"phone_number", `\b(\+?\d{1,2}[ -]?)?\(?\d{3}\)?[ -]?\d{3}[ -]?\d{4}\b`, CategoryPII, 3},
		{"ssn", `\b\d{3}-\d{2}-\d{4}\b`, CategoryPII, 5},
		{"credit_card", `\b(?:\d[ -]?){13,16}\b`, CategoryFinancial, 4},
		{"iban", `\b[A-Z]{2}\d{2}[A-Z0-9]{10,30}\b`, CategoryFinancial, 4},
	}

	out := make([]*RedactionPattern, 0, len(specs))
	for _, s := range specs {
		out = append(out, &RedactionPattern{
			Name:     s.name,
			Category: s.category,
			Priority: s.priority,
			Regexp:   regexp.MustCompile(s.pattern),
		})
	}
	return out
}
