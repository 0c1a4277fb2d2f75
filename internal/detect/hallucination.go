package detect

import (
	"regexp"

	"github.com/nexustrace/governor/internal/domain"
	"github.com/nexustrace/governor/internal/patterns"
)

// HallucinationDetector flags a completion-claim msg.out that follows a
// tool error within the chain with no intervening successful result from
// the same tool.
type HallucinationDetector struct{}

func (HallucinationDetector) Name() string { return "hallucination" }

func (HallucinationDetector) Detect(chain domain.Chain, set *patterns.SignalSet) []domain.Signal {
	var signals []domain.Signal

	// erroredTools tracks tool names whose most recent result was an error
	// and have not since had a successful result.
	erroredTools := make(map[string]int) // tool name -> index of the error

	for i, e := range chain.Events {
		if e.Type == domain.EventToolResult {
			tool := e.Tool()
			if tool == nil {
				continue
			}
			if tool.ToolIsError {
				erroredTools[tool.ToolName] = i
			} else {
				delete(erroredTools, tool.ToolName)
			}
			continue
		}

		if e.Type != domain.EventMsgOut {
			continue
		}
		if len(erroredTools) == 0 {
			continue
		}
		content := e.Content()
		if !isCompletionClaim(set, content) {
			continue
		}

		errIndex := 0
		for _, idx := range erroredTools {
			if idx > errIndex {
				errIndex = idx
			}
		}
		signals = append(signals, domain.Signal{
			Kind:       domain.SignalHallucination,
			Severity:   domain.SeverityHigh,
			EventRange: domain.EventRange{StartIndex: errIndex, EndIndex: i},
			Summary:    "completion claim follows unrecovered tool error",
			Evidence: map[string]any{
				"claim": content,
			},
		})
	}

	return signals
}

func isCompletionClaim(set *patterns.SignalSet, text string) bool {
	return matchesAnyPack(set, text, func(p *patterns.LanguagePack) []*regexp.Regexp { return p.CompletionClaims })
}
