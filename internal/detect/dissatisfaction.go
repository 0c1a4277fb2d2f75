package detect

import (
	"regexp"

	"github.com/nexustrace/governor/internal/domain"
	"github.com/nexustrace/governor/internal/patterns"
)

// trailingResolutionWindow bounds how many subsequent events are examined
// for a resolution indicator that downgrades a dissatisfaction signal's
// severity.
const trailingResolutionWindow = 3

// DissatisfactionDetector flags dissatisfaction indicators from the user.
// A satisfaction override in the same message cancels the signal; a
// resolution indicator within a short trailing window downgrades severity.
type DissatisfactionDetector struct{}

func (DissatisfactionDetector) Name() string { return "dissatisfaction" }

func (DissatisfactionDetector) Detect(chain domain.Chain, set *patterns.SignalSet) []domain.Signal {
	var signals []domain.Signal

	for i, e := range chain.Events {
		if e.Type != domain.EventMsgIn {
			continue
		}
		content := e.Content()

		dissatisfied := matchesAnyPack(set, content, func(p *patterns.LanguagePack) []*regexp.Regexp { return p.Dissatisfaction })
		if !dissatisfied {
			continue
		}
		overridden := matchesAnyPack(set, content, func(p *patterns.LanguagePack) []*regexp.Regexp { return p.SatisfactionOverride })
		if overridden {
			continue
		}

		severity := domain.SeverityMedium
		if resolvedSoon(chain.Events, i, set) {
			severity = domain.SeverityLow
		}

		signals = append(signals, domain.Signal{
			Kind:       domain.SignalDissatisfaction,
			Severity:   severity,
			EventRange: domain.EventRange{StartIndex: i, EndIndex: i},
			Summary:    "user dissatisfaction indicator detected",
			Evidence: map[string]any{
				"message": content,
			},
		})
	}

	return signals
}

func resolvedSoon(events []domain.Event, from int, set *patterns.SignalSet) bool {
	end := from + trailingResolutionWindow
	if end >= len(events) {
		end = len(events) - 1
	}
	for i := from + 1; i <= end; i++ {
		content := events[i].Content()
		if content == "" {
			continue
		}
		if matchesAnyPack(set, content, func(p *patterns.LanguagePack) []*regexp.Regexp { return p.ResolutionIndicator }) {
			return true
		}
	}
	return false
}
