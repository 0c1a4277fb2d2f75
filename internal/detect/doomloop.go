package detect

import (
	"fmt"

	"github.com/nexustrace/governor/internal/domain"
	"github.com/nexustrace/governor/internal/patterns"
)

const doomLoopSimilarityThreshold = 0.8

// DoomLoopDetector finds runs of >=3 consecutive tool calls of the same
// tool, with similar params, all of which error. A single successful
// result between failures breaks the loop.
type DoomLoopDetector struct{}

func (DoomLoopDetector) Name() string { return "doom_loop" }

func (DoomLoopDetector) Detect(chain domain.Chain, _ *patterns.SignalSet) []domain.Signal {
	var signals []domain.Signal

	type call struct {
		index  int
		params []byte
		failed bool
	}

	var run []call
	toolName := ""

	flush := func() {
		if len(run) >= 3 {
			signals = append(signals, buildDoomLoopSignal(toolName, run[0].index, run[len(run)-1].index, len(run)))
		}
		run = nil
		toolName = ""
	}

	for i := 0; i < len(chain.Events); i++ {
		e := chain.Events[i]
		if e.Type != domain.EventToolCall {
			continue
		}
		tool := e.Tool()
		if tool == nil {
			continue
		}
		result := matchingResult(chain.Events, i, tool.ToolCallID)
		failed := result != nil && result.Tool() != nil && result.Tool().ToolIsError

		if len(run) > 0 && tool.ToolName == toolName {
			sim := paramSimilarity(toolName, run[len(run)-1].params, tool.Params)
			if sim >= doomLoopSimilarityThreshold {
				if failed {
					run = append(run, call{index: i, params: tool.Params, failed: true})
					continue
				}
				// A single success breaks the loop without starting a new one.
				flush()
				continue
			}
		}

		flush()
		if failed {
			toolName = tool.ToolName
			run = append(run, call{index: i, params: tool.Params, failed: true})
		}
	}
	flush()

	return signals
}

func matchingResult(events []domain.Event, fromIndex int, callID string) *domain.Event {
	for i := fromIndex + 1; i < len(events); i++ {
		if events[i].Type != domain.EventToolResult {
			continue
		}
		tool := events[i].Tool()
		if tool == nil {
			continue
		}
		if callID == "" || tool.ToolCallID == callID {
			return &events[i]
		}
	}
	return nil
}

func buildDoomLoopSignal(toolName string, start, end, loopSize int) domain.Signal {
	severity := domain.SeverityHigh
	if loopSize >= 5 {
		severity = domain.SeverityCritical
	}
	return domain.Signal{
		Kind:       domain.SignalDoomLoop,
		Severity:   severity,
		EventRange: domain.EventRange{StartIndex: start, EndIndex: end},
		Summary:    fmt.Sprintf("%d consecutive failing calls to %q with similar params", loopSize, toolName),
		Evidence: map[string]any{
			"toolName": toolName,
			"loopSize": loopSize,
		},
	}
}
