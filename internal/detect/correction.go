package detect

import (
	"regexp"

	"github.com/nexustrace/governor/internal/domain"
	"github.com/nexustrace/governor/internal/patterns"
)

// CorrectionDetector flags a user message carrying a correction indicator
// (or an unambiguous short negative) immediately after an agent assertion.
// A question from the agent suppresses short-negative matches: a bare "no"
// answers a question, it isn't a correction.
type CorrectionDetector struct{}

func (CorrectionDetector) Name() string { return "correction" }

func (CorrectionDetector) Detect(chain domain.Chain, set *patterns.SignalSet) []domain.Signal {
	var signals []domain.Signal

	for i := 1; i < len(chain.Events); i++ {
		prev := chain.Events[i-1]
		cur := chain.Events[i]

		if prev.Type != domain.EventMsgOut || cur.Type != domain.EventMsgIn {
			continue
		}

		prevContent := prev.Content()
		curContent := cur.Content()

		isCorrection := matchesAnyPack(set, curContent, func(p *patterns.LanguagePack) []*regexp.Regexp { return p.Corrections })
		isShortNegative := matchesAnyPack(set, curContent, func(p *patterns.LanguagePack) []*regexp.Regexp { return p.ShortNegatives })
		agentAsked := matchesAnyPack(set, prevContent, func(p *patterns.LanguagePack) []*regexp.Regexp { return p.Questions })

		if isShortNegative && agentAsked {
			// A bare "no" answers the agent's question; not a correction.
			continue
		}
		if !isCorrection && !isShortNegative {
			continue
		}

		signals = append(signals, domain.Signal{
			Kind:       domain.SignalCorrection,
			Severity:   domain.SeverityMedium,
			EventRange: domain.EventRange{StartIndex: i - 1, EndIndex: i},
			Summary:    "user correction follows an agent assertion",
			Evidence: map[string]any{
				"assertion":  prevContent,
				"correction": curContent,
			},
		})
	}

	return signals
}
