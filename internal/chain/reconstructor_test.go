package chain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexustrace/governor/internal/domain"
)

func msg(ts int64, seq int64, agent, session string, typ domain.EventType, content string) domain.Event {
	return domain.Event{
		ID: "e", TS: ts, Seq: seq, Agent: agent, Session: session, Type: typ,
		Payload: domain.Payload{Message: &domain.MessagePayload{Content: content}},
	}
}

func TestReconstructGroupsByAgentAndSession(t *testing.T) {
	events := []domain.Event{
		msg(1000, 1, "main", "s1", domain.EventMsgIn, "hi"),
		msg(2000, 2, "main", "s1", domain.EventMsgOut, "hello"),
		msg(1000, 1, "other", "s2", domain.EventMsgIn, "hi"),
		msg(2000, 2, "other", "s2", domain.EventMsgOut, "hello"),
	}
	chains, _, err := Reconstruct(context.Background(), events, Options{})
	require.NoError(t, err)
	require.Len(t, chains, 2)
}

func TestReconstructDropsChainsBelowMinimumSize(t *testing.T) {
	events := []domain.Event{
		msg(1000, 1, "main", "s1", domain.EventMsgIn, "hi"),
	}
	chains, dropped, err := Reconstruct(context.Background(), events, Options{})
	require.NoError(t, err)
	assert.Empty(t, chains)
	assert.Equal(t, 1, dropped)
}

func TestReconstructSplitsOnInactivityGap(t *testing.T) {
	events := []domain.Event{
		msg(0, 1, "main", "s1", domain.EventMsgIn, "a"),
		msg(60_000, 2, "main", "s1", domain.EventMsgOut, "b"),
		msg(60*60_000, 3, "main", "s1", domain.EventMsgIn, "c"),
		msg(60*60_000+1000, 4, "main", "s1", domain.EventMsgOut, "d"),
	}
	chains, _, err := Reconstruct(context.Background(), events, Options{GapMinutes: 30})
	require.NoError(t, err)
	require.Len(t, chains, 2)
	assert.Equal(t, domain.BoundaryGap, chains[1].BoundaryType)
}

func TestReconstructSplitsOnLifecycleBoundary(t *testing.T) {
	events := []domain.Event{
		msg(0, 1, "main", "s1", domain.EventMsgIn, "a"),
		msg(1000, 2, "main", "s1", domain.EventMsgOut, "b"),
		{ID: "lc", TS: 1500, Seq: 3, Agent: "main", Session: "s1", Type: domain.EventSessionEnd},
		msg(2000, 4, "main", "s1", domain.EventSessionStart, ""),
		msg(2000, 5, "main", "s1", domain.EventMsgIn, "c"),
		msg(2500, 6, "main", "s1", domain.EventMsgOut, "d"),
	}
	chains, _, err := Reconstruct(context.Background(), events, Options{})
	require.NoError(t, err)
	require.Len(t, chains, 2)
	assert.Equal(t, domain.BoundaryLifecycle, chains[0].BoundaryType)
}

func TestReconstructIsDeterministic(t *testing.T) {
	events := []domain.Event{
		msg(1000, 1, "main", "s1", domain.EventMsgIn, "hi"),
		msg(2000, 2, "main", "s1", domain.EventMsgOut, "hello"),
	}
	a, _, err := Reconstruct(context.Background(), events, Options{})
	require.NoError(t, err)
	b, _, err := Reconstruct(context.Background(), events, Options{})
	require.NoError(t, err)
	require.Len(t, a, 1)
	require.Len(t, b, 1)
	assert.Equal(t, a[0].ID, b[0].ID)
}

func TestDedupeCollapsesFingerprintMatchesKeepingHigherSeq(t *testing.T) {
	events := []domain.Event{
		msg(1000, 1, "main", "s1", domain.EventMsgIn, "hi"),
		msg(1000, 2, "main", "s1", domain.EventMsgIn, "hi"),
		msg(2000, 3, "main", "s1", domain.EventMsgOut, "hello"),
	}
	out := dedupe(events)
	require.Len(t, out, 2)
	assert.Equal(t, int64(2), out[0].Seq)
}

func TestReconstructParallelMatchesSequential(t *testing.T) {
	events := []domain.Event{
		msg(1000, 1, "main", "s1", domain.EventMsgIn, "hi"),
		msg(2000, 2, "main", "s1", domain.EventMsgOut, "hello"),
		msg(1000, 1, "other", "s2", domain.EventMsgIn, "hi"),
		msg(2000, 2, "other", "s2", domain.EventMsgOut, "hello"),
	}
	seq, _, err := Reconstruct(context.Background(), events, Options{})
	require.NoError(t, err)
	par, _, err := Reconstruct(context.Background(), events, Options{Parallel: true})
	require.NoError(t, err)

	seqIDs := map[string]bool{}
	for _, c := range seq {
		seqIDs[c.ID] = true
	}
	for _, c := range par {
		assert.True(t, seqIDs[c.ID])
	}
	assert.Len(t, par, len(seq))
}
