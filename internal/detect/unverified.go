package detect

import (
	"regexp"

	"github.com/nexustrace/governor/internal/domain"
	"github.com/nexustrace/governor/internal/patterns"
)

// UnverifiedClaimDetector flags system-state claims in agent messages that
// are not preceded, within the chain, by a successful tool result
// substantiating them. Opinion-hedged claims ("I think", "probably") are
// excluded.
type UnverifiedClaimDetector struct{}

func (UnverifiedClaimDetector) Name() string { return "unverified_claim" }

func (UnverifiedClaimDetector) Detect(chain domain.Chain, set *patterns.SignalSet) []domain.Signal {
	var signals []domain.Signal

	sawSuccessfulResult := false

	for i, e := range chain.Events {
		if e.Type == domain.EventToolResult {
			if tool := e.Tool(); tool != nil && !tool.ToolIsError {
				sawSuccessfulResult = true
			}
			continue
		}

		if e.Type != domain.EventMsgOut {
			continue
		}
		content := e.Content()

		isClaim := matchesAnyPack(set, content, func(p *patterns.LanguagePack) []*regexp.Regexp { return p.SystemStateClaims })
		if !isClaim {
			continue
		}
		isOpinion := matchesAnyPack(set, content, func(p *patterns.LanguagePack) []*regexp.Regexp { return p.OpinionExclusions })
		if isOpinion {
			continue
		}
		if sawSuccessfulResult {
			continue
		}

		signals = append(signals, domain.Signal{
			Kind:       domain.SignalUnverifiedClaim,
			Severity:   domain.SeverityMedium,
			EventRange: domain.EventRange{StartIndex: i, EndIndex: i},
			Summary:    "system-state claim with no substantiating tool result",
			Evidence: map[string]any{
				"claim": content,
			},
		})
	}

	return signals
}
