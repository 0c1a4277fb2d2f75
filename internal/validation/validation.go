// Package validation implements the LLM Validator: it checks outbound
// claims against a facts registry using an external OpenAI-compatible
// model, caching verdicts and degrading to a configured fail mode when
// the model is unreachable.
package validation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/nexustrace/governor/internal/claims"
	"github.com/nexustrace/governor/internal/domain"
)

// FailMode controls the verdict when the external model cannot be
// reached or returns an unparseable response.
type FailMode string

const (
	FailPass  FailMode = "pass"
	FailBlock FailMode = "block"
)

// Verdict is the outcome of validating a batch of claims.
type Verdict string

const (
	VerdictPass  Verdict = "pass"
	VerdictFlag  Verdict = "flag"
	VerdictBlock Verdict = "block"
)

// Issue is one claim the model judged inconsistent with the facts
// registry.
type Issue struct {
	Category    claims.Category `json:"category"`
	Claim       string          `json:"claim"`
	Explanation string          `json:"explanation"`
	Severity    domain.Severity `json:"severity"`
}

// Result is the full validator output for one message.
type Result struct {
	Verdict Verdict `json:"verdict"`
	Issues  []Issue `json:"issues"`
}

// Config configures the Validator.
type Config struct {
	Endpoint  string
	Model     string
	APIKey    string
	TimeoutMs int
	CacheTTL  time.Duration
	FailMode  FailMode
}

type cacheEntry struct {
	result    Result
	expiresAt time.Time
}

// Validator consults an external model to check extracted claims against
// a caller-supplied facts registry.
type Validator struct {
	cfg    Config
	client *openai.Client

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// New constructs a Validator against cfg.Endpoint (OpenAI-compatible).
func New(cfg Config) *Validator {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.FailMode == "" {
		cfg.FailMode = FailPass
	}
	oaCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		oaCfg.BaseURL = cfg.Endpoint
	}
	return &Validator{cfg: cfg, client: openai.NewClientWithConfig(oaCfg), cache: make(map[string]cacheEntry)}
}

type modelResponse struct {
	Issues []struct {
		Category    string `json:"category"`
		Claim       string `json:"claim"`
		Explanation string `json:"explanation"`
		Severity    string `json:"severity"`
	} `json:"issues"`
}

// Validate checks extracted claims against facts, keyed for caching by
// (claims text, facts hash, externalFlag). On model failure it returns a
// Result derived from cfg.FailMode rather than an error: the governance
// hook path must always get a verdict.
func (v *Validator) Validate(ctx context.Context, extracted []claims.Claim, facts map[string]string, external bool) Result {
	if len(extracted) == 0 {
		return Result{Verdict: VerdictPass}
	}

	key := cacheKey(extracted, facts, external)
	if cached, ok := v.lookupCache(key); ok {
		return cached
	}

	result, err := v.callModel(ctx, extracted, facts, external)
	if err != nil {
		result = v.failModeResult()
	}

	v.storeCache(key, result)
	return result
}

func (v *Validator) lookupCache(key string) (Result, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	entry, ok := v.cache[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return Result{}, false
	}
	return entry.result, true
}

func (v *Validator) storeCache(key string, result Result) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cache[key] = cacheEntry{result: result, expiresAt: time.Now().Add(v.cfg.CacheTTL)}
}

func (v *Validator) failModeResult() Result {
	if v.cfg.FailMode == FailBlock {
		return Result{Verdict: VerdictBlock, Issues: []Issue{{Explanation: "validator unreachable, failing closed", Severity: domain.SeverityHigh}}}
	}
	return Result{Verdict: VerdictPass}
}

func (v *Validator) callModel(ctx context.Context, extracted []claims.Claim, facts map[string]string, external bool) (Result, error) {
	timeoutMs := v.cfg.TimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = 10000
	}
	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
	defer cancel()

	prompt := buildPrompt(extracted, facts, external)
	resp, err := v.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: v.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "You check whether claims in an outbound agent message are consistent with a facts registry. Respond with JSON: {\"issues\":[{\"category\":\"\",\"claim\":\"\",\"explanation\":\"\",\"severity\":\"low|medium|high|critical\"}]}"},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		return Result{}, fmt.Errorf("validation: call model: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, fmt.Errorf("validation: empty response")
	}

	var parsed modelResponse
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &parsed); err != nil {
		return Result{}, fmt.Errorf("validation: parse response: %w", err)
	}

	issues := make([]Issue, 0, len(parsed.Issues))
	for _, raw := range parsed.Issues {
		issues = append(issues, Issue{
			Category:    claims.Category(raw.Category),
			Claim:       raw.Claim,
			Explanation: raw.Explanation,
			Severity:    severityOrDefault(raw.Severity),
		})
	}
	return Result{Verdict: verdictFromIssues(issues), Issues: issues}, nil
}

func severityOrDefault(s string) domain.Severity {
	switch domain.Severity(s) {
	case domain.SeverityLow, domain.SeverityMedium, domain.SeverityHigh, domain.SeverityCritical:
		return domain.Severity(s)
	default:
		return domain.SeverityMedium
	}
}

// verdictFromIssues applies precedence: any critical issue blocks; any
// other issue (high, medium or low) flags; no issues pass.
func verdictFromIssues(issues []Issue) Verdict {
	if len(issues) == 0 {
		return VerdictPass
	}
	for _, i := range issues {
		if i.Severity == domain.SeverityCritical {
			return VerdictBlock
		}
	}
	return VerdictFlag
}

func buildPrompt(extracted []claims.Claim, facts map[string]string, external bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "External channel: %v\n\nFacts registry:\n", external)
	keys := make([]string, 0, len(facts))
	for k := range facts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s: %s\n", k, facts[k])
	}
	b.WriteString("\nClaims to check:\n")
	for _, c := range extracted {
		fmt.Fprintf(&b, "- [%s] %s\n", c.Category, c.Text)
	}
	return b.String()
}

func cacheKey(extracted []claims.Claim, facts map[string]string, external bool) string {
	h := sha256.New()
	for _, c := range extracted {
		h.Write([]byte(string(c.Category)))
		h.Write([]byte(c.Text))
	}
	keys := make([]string, 0, len(facts))
	for k := range facts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte(facts[k]))
	}
	fmt.Fprintf(h, "%v", external)
	return hex.EncodeToString(h.Sum(nil))
}
