package detect

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexustrace/governor/internal/domain"
	"github.com/nexustrace/governor/internal/patterns"
)

func testSignalSet(t *testing.T) *patterns.SignalSet {
	t.Helper()
	reg := patterns.NewSignalRegistry()
	require.NoError(t, reg.LoadSyncSubset())
	return reg.Merged()
}

func toolCall(ts, seq int64, toolName, callID string, params string) domain.Event {
	return domain.Event{
		TS: ts, Seq: seq, Agent: "main", Session: "s1", Type: domain.EventToolCall,
		Payload: domain.Payload{Tool: &domain.ToolPayload{ToolName: toolName, ToolCallID: callID, Params: json.RawMessage(params)}},
	}
}

func toolResult(ts, seq int64, toolName, callID string, isError bool, errText string) domain.Event {
	return domain.Event{
		TS: ts, Seq: seq, Agent: "main", Session: "s1", Type: domain.EventToolResult,
		Payload: domain.Payload{Tool: &domain.ToolPayload{ToolName: toolName, ToolCallID: callID, ToolIsError: isError, ToolError: errText}},
	}
}

func msgOut(ts, seq int64, content string) domain.Event {
	return domain.Event{TS: ts, Seq: seq, Agent: "main", Session: "s1", Type: domain.EventMsgOut,
		Payload: domain.Payload{Message: &domain.MessagePayload{Role: domain.RoleAssistant, Content: content}}}
}

func msgIn(ts, seq int64, content string) domain.Event {
	return domain.Event{TS: ts, Seq: seq, Agent: "main", Session: "s1", Type: domain.EventMsgIn,
		Payload: domain.Payload{Message: &domain.MessagePayload{Role: domain.RoleUser, Content: content}}}
}

func TestDoomLoopDetectsThreeFailingCallsWithSimilarParams(t *testing.T) {
	set := testSignalSet(t)
	events := []domain.Event{
		msgIn(0, 1, "check disk"),
		toolCall(100, 2, "exec", "c1", `{"command":"ssh backup df -h"}`),
		toolResult(200, 3, "exec", "c1", true, "Connection refused"),
		toolCall(300, 4, "exec", "c2", `{"command":"ssh backup df -h"}`),
		toolResult(400, 5, "exec", "c2", true, "Connection refused"),
		toolCall(500, 6, "exec", "c3", `{"command":"ssh backup df -h"}`),
		toolResult(600, 7, "exec", "c3", true, "Connection refused"),
		msgOut(700, 8, "Disk looks fine."),
	}
	chain := domain.Chain{Events: events}
	chain.Finalize()

	doomSignals := DoomLoopDetector{}.Detect(chain, set)
	require.Len(t, doomSignals, 1)
	assert.Equal(t, domain.SeverityHigh, doomSignals[0].Severity)
	assert.Equal(t, 3, doomSignals[0].Evidence["loopSize"])

	halluSignals := HallucinationDetector{}.Detect(chain, set)
	require.Len(t, halluSignals, 1)
}

func TestDoomLoopBreaksOnSingleSuccess(t *testing.T) {
	set := testSignalSet(t)
	events := []domain.Event{
		msgIn(0, 1, "check disk"),
		toolCall(100, 2, "exec", "c1", `{"command":"df -h"}`),
		toolResult(200, 3, "exec", "c1", true, "error"),
		toolCall(300, 4, "exec", "c2", `{"command":"df -h"}`),
		toolResult(400, 5, "exec", "c2", false, ""),
		toolCall(500, 6, "exec", "c3", `{"command":"df -h"}`),
		toolResult(600, 7, "exec", "c3", true, "error"),
	}
	chain := domain.Chain{Events: events}
	chain.Finalize()

	signals := DoomLoopDetector{}.Detect(chain, set)
	assert.Empty(t, signals)
}

func TestCorrectionSuppressedWhenAgentAsksQuestion(t *testing.T) {
	set := testSignalSet(t)
	events := []domain.Event{
		msgIn(0, 1, "help"),
		msgOut(100, 2, "Should I overwrite the file?"),
		msgIn(200, 3, "no"),
	}
	chain := domain.Chain{Events: events}
	chain.Finalize()

	signals := CorrectionDetector{}.Detect(chain, set)
	assert.Empty(t, signals)
}

func TestCorrectionDetectedAfterAssertionWithoutQuestion(t *testing.T) {
	set := testSignalSet(t)
	events := []domain.Event{
		msgIn(0, 1, "restart the service"),
		msgOut(100, 2, "The service is restarted."),
		msgIn(200, 3, "no, i meant the other service"),
	}
	chain := domain.Chain{Events: events}
	chain.Finalize()

	signals := CorrectionDetector{}.Detect(chain, set)
	require.Len(t, signals, 1)
}

func TestDissatisfactionCanceledBySatisfactionOverride(t *testing.T) {
	set := testSignalSet(t)
	events := []domain.Event{
		msgIn(0, 1, "restart"),
		msgOut(100, 2, "done"),
		msgIn(200, 3, "this is frustrating but thanks anyway"),
	}
	chain := domain.Chain{Events: events}
	chain.Finalize()

	signals := DissatisfactionDetector{}.Detect(chain, set)
	assert.Empty(t, signals)
}

func TestUnverifiedClaimSuppressedBySuccessfulToolResult(t *testing.T) {
	set := testSignalSet(t)
	events := []domain.Event{
		msgIn(0, 1, "status?"),
		toolCall(50, 2, "exec", "c1", `{"command":"systemctl status svc"}`),
		toolResult(100, 3, "exec", "c1", false, ""),
		msgOut(200, 4, "the service is running"),
	}
	chain := domain.Chain{Events: events}
	chain.Finalize()

	signals := UnverifiedClaimDetector{}.Detect(chain, set)
	assert.Empty(t, signals)
}

func TestUnverifiedClaimFlaggedWithoutSubstantiation(t *testing.T) {
	set := testSignalSet(t)
	events := []domain.Event{
		msgIn(0, 1, "status?"),
		msgOut(200, 4, "the service is running"),
	}
	chain := domain.Chain{Events: events}
	chain.Finalize()

	signals := UnverifiedClaimDetector{}.Detect(chain, set)
	require.Len(t, signals, 1)
}

func TestUnverifiedClaimOpinionExclusionSuppressesSignal(t *testing.T) {
	set := testSignalSet(t)
	events := []domain.Event{
		msgIn(0, 1, "status?"),
		msgOut(200, 4, "i think the service is running"),
	}
	chain := domain.Chain{Events: events}
	chain.Finalize()

	signals := UnverifiedClaimDetector{}.Detect(chain, set)
	assert.Empty(t, signals)
}

func TestTokenJaccardIdenticalCommandsAreSimilar(t *testing.T) {
	assert.Equal(t, 1.0, tokenJaccard("ssh backup df -h", "ssh backup df -h"))
	assert.Less(t, tokenJaccard("ssh backup df -h", "curl example.com"), 0.5)
}
