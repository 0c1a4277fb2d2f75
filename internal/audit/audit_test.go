package audit

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexustrace/governor/internal/domain"
)

func testVerdict(agentID string, action domain.Effect) domain.Verdict {
	return domain.Verdict{
		Action: action,
		Reason: "test",
		EnrichedCtx: domain.EvaluationContext{
			AgentID:    agentID,
			Hook:       "before_tool_call",
			ToolName:   "exec",
			ToolParams: map[string]any{"command": "ls", "password": "hunter2"},
		},
		Trust:           domain.TrustSnapshot{Score: 40, Tier: domain.TierStandard},
		MatchedPolicies: []domain.MatchedPolicy{{PolicyID: "p1", RuleID: "r1", Effect: action, Controls: []string{"CC-1"}}},
	}
}

func TestRecordRedactsSensitiveParamKeys(t *testing.T) {
	dir := t.TempDir()
	s := NewSink(Config{Dir: dir, FlushBatchSize: 1000})
	require.NoError(t, s.Record(testVerdict("main", domain.EffectAllow), time.Millisecond))
	require.NoError(t, s.Flush())

	recs, err := s.QueryRecords(Query{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "[REDACTED]", recs[0].Context.ToolParams["password"])
	assert.Equal(t, "ls", recs[0].Context.ToolParams["command"])
}

func TestRecordUnionsBaselineIncidentControlsOnDeny(t *testing.T) {
	dir := t.TempDir()
	s := NewSink(Config{Dir: dir, FlushBatchSize: 1000})
	require.NoError(t, s.Record(testVerdict("main", domain.EffectDeny), time.Millisecond))
	require.NoError(t, s.Flush())

	recs, err := s.QueryRecords(Query{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Contains(t, recs[0].Controls, "CC-1")
	assert.Contains(t, recs[0].Controls, controlIncidentDetection)
	assert.Contains(t, recs[0].Controls, controlIncidentResponse)
}

func TestRecordOmitsBaselineControlsOnAllow(t *testing.T) {
	dir := t.TempDir()
	s := NewSink(Config{Dir: dir, FlushBatchSize: 1000})
	require.NoError(t, s.Record(testVerdict("main", domain.EffectAllow), time.Millisecond))
	require.NoError(t, s.Flush())

	recs, err := s.QueryRecords(Query{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.NotContains(t, recs[0].Controls, controlIncidentDetection)
}

func TestFlushAutomaticAtBatchSize(t *testing.T) {
	dir := t.TempDir()
	s := NewSink(Config{Dir: dir, FlushBatchSize: 2})
	require.NoError(t, s.Record(testVerdict("main", domain.EffectAllow), 0))
	require.NoError(t, s.Record(testVerdict("main", domain.EffectAllow), 0))

	path := filepath.Join(dir, time.Now().UTC().Format("2006-01-02")+".jsonl")
	assert.FileExists(t, path)
}

func TestQueryFiltersByAgentHookAndVerdict(t *testing.T) {
	dir := t.TempDir()
	s := NewSink(Config{Dir: dir, FlushBatchSize: 1000})
	require.NoError(t, s.Record(testVerdict("main", domain.EffectAllow), 0))
	require.NoError(t, s.Record(testVerdict("helper", domain.EffectDeny), 0))
	require.NoError(t, s.Flush())

	recs, err := s.QueryRecords(Query{AgentID: "helper"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, domain.EffectDeny, recs[0].Verdict)

	recs, err = s.QueryRecords(Query{Verdict: domain.EffectAllow})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "main", recs[0].Context.AgentID)

	recs, err = s.QueryRecords(Query{Hook: "before_tool_call"})
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	recs, err = s.QueryRecords(Query{Hook: "message_sending"})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestCleanupRemovesFilesOlderThanRetention(t *testing.T) {
	dir := t.TempDir()
	s := NewSink(Config{Dir: dir, RetentionDays: 1})
	old := filepath.Join(dir, "2000-01-01.jsonl")
	require.NoError(t, os.WriteFile(old, []byte("{}\n"), 0o644))

	require.NoError(t, s.Cleanup())
	assert.NoFileExists(t, old)
}
