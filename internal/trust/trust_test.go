package trust

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexustrace/governor/internal/domain"
	"github.com/nexustrace/governor/internal/store/trustdb"
)

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	m, err := NewManager(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Shutdown() })
	return m
}

func TestGetCreatesRecordWithConfiguredDefault(t *testing.T) {
	m := newTestManager(t, Config{DefaultScore: map[string]int{"*": 40}})
	rec := m.Get("main")
	assert.Equal(t, 40, rec.Score)
	assert.Equal(t, domain.TierStandard, rec.Tier)
}

func TestRecordSuccessIncreasesCountersMonotonically(t *testing.T) {
	m := newTestManager(t, Config{DefaultScore: map[string]int{"*": 40}})
	m.Get("main")

	first := m.RecordSuccess("main", "exec")
	second := m.RecordSuccess("main", "exec")

	assert.Greater(t, second.Signals.SuccessCount, first.Signals.SuccessCount-1)
	assert.GreaterOrEqual(t, second.Signals.SuccessCount, first.Signals.SuccessCount)
	assert.GreaterOrEqual(t, second.Signals.CleanStreak, first.Signals.CleanStreak)
	assert.Equal(t, 0, second.Signals.ViolationCount)
}

func TestRecordViolationResetsCleanStreak(t *testing.T) {
	m := newTestManager(t, Config{DefaultScore: map[string]int{"*": 40}})
	m.RecordSuccess("main", "exec")
	m.RecordSuccess("main", "exec")
	rec := m.RecordViolation("main", "exec")
	assert.Equal(t, 0, rec.Signals.CleanStreak)
	assert.Equal(t, 1, rec.Signals.ViolationCount)
}

func TestSetScoreClampsToValidRange(t *testing.T) {
	m := newTestManager(t, Config{DefaultScore: map[string]int{"*": 40}})
	rec := m.SetScore("main", 150)
	assert.Equal(t, 100, rec.Score)
	rec = m.SetScore("main", -10)
	assert.Equal(t, 0, rec.Score)
}

func TestTierFromScoreBoundaries(t *testing.T) {
	m := newTestManager(t, Config{DefaultScore: map[string]int{"*": 40}})
	rec := m.SetScore("a", 24)
	assert.Equal(t, domain.TierRestricted, rec.Tier)
	rec = m.SetScore("a", 79)
	assert.Equal(t, domain.TierTrusted, rec.Tier)
	rec = m.SetScore("a", 80)
	assert.Equal(t, domain.TierPrivileged, rec.Tier)
}

func TestFlushPersistsAndReloadRestoresRecords(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trust.json")

	m := newTestManager(t, Config{Path: path, DefaultScore: map[string]int{"*": 40}})
	m.SetScore("main", 72)
	require.NoError(t, m.Flush())

	reloaded := newTestManager(t, Config{Path: path, DefaultScore: map[string]int{"*": 40}})
	rec := reloaded.Get("main")
	assert.Equal(t, 72, rec.Score)
}

func TestRecordSuccessMirrorsToHistoryDBWhenConfigured(t *testing.T) {
	dir := t.TempDir()
	db, err := trustdb.Open(filepath.Join(dir, "trust_history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	m := newTestManager(t, Config{DefaultScore: map[string]int{"*": 40}, History: db})
	m.RecordSuccess("main", "exec")
	m.RecordViolation("main", "exec")

	entries, err := db.History(context.Background(), "main", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "violation:exec", entries[0].Reason)
	assert.Equal(t, "success:exec", entries[1].Reason)
}
