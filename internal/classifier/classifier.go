// Package classifier implements the optional external enrichment stage:
// a two-stage (triage -> deep) call against an OpenAI-compatible chat
// completions endpoint, producing a domain.Classification per finding.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/nexustrace/governor/internal/domain"
	"github.com/nexustrace/governor/internal/redact"
)

// Config configures both classifier stages. Triage is optional; when its
// endpoint is empty, every finding is kept and deep analysis runs directly.
type Config struct {
	Endpoint  string
	Model     string
	APIKey    string
	TimeoutMs int
	BatchSize int

	TriageEndpoint string
	TriageModel    string
	TriageTimeout  int
}

// Classifier runs the triage and deep stages against an OpenAI-compatible
// endpoint, redacting transcripts before they leave the process.
type Classifier struct {
	cfg      Config
	deep     *openai.Client
	triage   *openai.Client
	redactor *redact.Engine
}

// New builds a Classifier. redactor must not be nil: the classifier never
// sends an unredacted transcript.
func New(cfg Config, redactor *redact.Engine) *Classifier {
	deepConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		deepConfig.BaseURL = cfg.Endpoint
	}
	c := &Classifier{cfg: cfg, deep: openai.NewClientWithConfig(deepConfig), redactor: redactor}

	if cfg.TriageEndpoint != "" {
		triageConfig := openai.DefaultConfig(cfg.APIKey)
		triageConfig.BaseURL = cfg.TriageEndpoint
		c.triage = openai.NewClientWithConfig(triageConfig)
	}
	return c
}

type triageResponse struct {
	Keep     bool   `json:"keep"`
	Severity string `json:"severity"`
	Reason   string `json:"reason"`
}

// Classify runs the two-stage pipeline for one finding's chain transcript.
// It never returns an error that should drop the finding: per spec.md
// §4.5, parse/HTTP/timeout failures preserve the finding with a nil
// classification instead.
func (c *Classifier) Classify(ctx context.Context, finding domain.Finding, transcript string) *domain.Classification {
	redactedTranscript, _ := c.redactor.RedactText(transcript)

	if c.triage != nil {
		keep, ok := c.runTriage(ctx, finding, redactedTranscript)
		if ok && !keep {
			return nil
		}
	}

	return c.runDeep(ctx, redactedTranscript)
}

func (c *Classifier) runTriage(ctx context.Context, finding domain.Finding, transcript string) (keep bool, ok bool) {
	timeout := time.Duration(c.cfg.TriageTimeout) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	prompt := fmt.Sprintf("Signal: %s\nSeverity: %s\nTranscript:\n%s\n\nRespond with JSON {keep, severity, reason}.",
		finding.Signal.Kind, finding.Signal.Severity, transcript)

	resp, err := c.triage.CreateChatCompletion(tctx, openai.ChatCompletionRequest{
		Model:       c.cfg.TriageModel,
		Temperature: 0,
		Messages:    []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: prompt}},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil || len(resp.Choices) == 0 {
		// Triage unavailable: fall through to deep analysis rather than
		// silently dropping a finding that was never actually triaged.
		return true, false
	}

	var parsed triageResponse
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &parsed); err != nil {
		return true, false
	}
	return parsed.Keep, true
}

type deepResponse struct {
	RootCause  string  `json:"rootCause"`
	ActionType string  `json:"actionType"`
	ActionText string  `json:"actionText"`
	Confidence float64 `json:"confidence"`
}

func (c *Classifier) runDeep(ctx context.Context, transcript string) *domain.Classification {
	timeout := time.Duration(c.cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	prompt := fmt.Sprintf("Transcript:\n%s\n\nRespond with JSON {rootCause, actionType, actionText, confidence}.", transcript)

	resp, err := c.deep.CreateChatCompletion(dctx, openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Temperature: 0,
		Messages:    []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: prompt}},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		return nil
	}
	if len(resp.Choices) == 0 {
		return nil
	}

	var parsed deepResponse
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &parsed); err != nil {
		return nil
	}

	actionType := domain.ActionType(parsed.ActionType)
	if !validActionType(actionType) {
		actionType = domain.ActionManualReview
	}

	confidence := parsed.Confidence
	if confidence == 0 {
		confidence = 0.5
	}

	return &domain.Classification{
		RootCause:  parsed.RootCause,
		ActionType: actionType,
		ActionText: parsed.ActionText,
		Confidence: confidence,
		Model:      c.cfg.Model,
	}
}

func validActionType(t domain.ActionType) bool {
	switch t {
	case domain.ActionSoulRule, domain.ActionGovernancePolicy, domain.ActionCortexPattern, domain.ActionManualReview:
		return true
	default:
		return false
	}
}
