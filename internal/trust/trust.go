// Package trust implements the per-agent tiered trust score: recency
// decay, success/violation learning, and JSON persistence with a periodic
// dirty flush.
package trust

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"github.com/nexustrace/governor/internal/domain"
	"github.com/nexustrace/governor/internal/store/atomicfile"
	"github.com/nexustrace/governor/internal/store/trustdb"
)

// DecayConfig controls inactivity-based score decay.
type DecayConfig struct {
	Enabled        bool
	InactivityDays int
	Rate           float64
}

// Config configures the Trust Manager.
type Config struct {
	Path                   string
	DefaultScore           map[string]int // agent -> default, "*" is the fallback
	PersistIntervalSeconds int
	Decay                  DecayConfig

	// History, when set, receives a mirrored append-only record of every
	// score mutation. It is supplementary: the JSON store at Path remains
	// the sole source of truth on load.
	History *trustdb.DB
}

func (c Config) defaultFor(agent string) int {
	if v, ok := c.DefaultScore[agent]; ok {
		return v
	}
	if v, ok := c.DefaultScore["*"]; ok {
		return v
	}
	return 40
}

// storeFile is the on-disk JSON shape: {version, agents{id -> TrustRecord}}.
type storeFile struct {
	Version int                            `json:"version"`
	Agents  map[string]*domain.TrustRecord `json:"agents"`
}

// Manager owns the trust store: a single writer, JSON-persisted, flushed
// periodically when dirty and on graceful shutdown.
type Manager struct {
	cfg Config

	mu     sync.Mutex
	agents map[string]*domain.TrustRecord
	dirty  bool

	stopFlush chan struct{}
	flushOnce sync.Once
}

// NewManager loads the trust store from cfg.Path if it exists (recomputing
// ageDays on load) and starts the periodic flush loop.
func NewManager(cfg Config) (*Manager, error) {
	m := &Manager{cfg: cfg, agents: make(map[string]*domain.TrustRecord), stopFlush: make(chan struct{})}

	if cfg.Path != "" {
		if err := m.load(); err != nil {
			return nil, err
		}
	}
	m.refreshAgeDays()

	interval := cfg.PersistIntervalSeconds
	if interval <= 0 {
		interval = 30
	}
	go m.flushLoop(time.Duration(interval) * time.Second)
	return m, nil
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.cfg.Path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("trust: read store: %w", err)
	}
	var f storeFile
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("trust: parse store: %w", err)
	}
	if f.Agents != nil {
		m.agents = f.Agents
	}
	return nil
}

func (m *Manager) flushLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = m.Flush()
		case <-m.stopFlush:
			return
		}
	}
}

// Flush persists the store atomically if dirty.
func (m *Manager) Flush() error {
	m.mu.Lock()
	if !m.dirty {
		m.mu.Unlock()
		return nil
	}
	snapshot := storeFile{Version: 1, Agents: m.agents}
	m.dirty = false
	m.mu.Unlock()

	if m.cfg.Path == "" {
		return nil
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("trust: marshal store: %w", err)
	}
	return atomicfile.Write(m.cfg.Path, data, 0o644)
}

// Shutdown stops the flush loop, performs a final flush, and closes the
// history database if one is configured.
func (m *Manager) Shutdown() error {
	m.flushOnce.Do(func() { close(m.stopFlush) })
	err := m.Flush()
	if m.cfg.History != nil {
		if cerr := m.cfg.History.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// Count returns the number of agents with a tracked trust record.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.agents)
}

// Get returns the current record for agent, creating one at the
// configured default score on first access.
func (m *Manager) Get(agent string) domain.TrustRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.getOrCreateLocked(agent)
}

func (m *Manager) getOrCreateLocked(agent string) *domain.TrustRecord {
	rec, ok := m.agents[agent]
	if !ok {
		now := time.Now()
		score := m.cfg.defaultFor(agent)
		rec = &domain.TrustRecord{
			AgentID: agent, Score: score, Tier: domain.TierFromScore(score),
			Created: now, LastActivity: now,
		}
		m.agents[agent] = rec
		m.dirty = true
	}
	m.applyDecayLocked(rec)
	return rec
}

func (m *Manager) applyDecayLocked(rec *domain.TrustRecord) {
	if !m.cfg.Decay.Enabled {
		return
	}
	inactiveDays := int(time.Since(rec.LastActivity).Hours() / 24)
	if inactiveDays < m.cfg.Decay.InactivityDays {
		return
	}
	rec.Score = int(math.Round(float64(rec.Score) * m.cfg.Decay.Rate))
	rec.Tier = domain.TierFromScore(rec.Score)
}

// RecordSuccess raises score via clean streak and success count.
func (m *Manager) RecordSuccess(agent, tool string) domain.TrustRecord {
	m.mu.Lock()
	rec := m.getOrCreateLocked(agent)
	rec.Signals.SuccessCount++
	rec.Signals.CleanStreak++
	rec.LastActivity = time.Now()
	recalculate(rec)
	m.dirty = true
	snapshot := *rec
	m.mu.Unlock()

	m.recordHistory(snapshot, fmt.Sprintf("success:%s", tool))
	return snapshot
}

// RecordViolation lowers score and resets the clean streak.
func (m *Manager) RecordViolation(agent, tool string) domain.TrustRecord {
	m.mu.Lock()
	rec := m.getOrCreateLocked(agent)
	rec.Signals.ViolationCount++
	rec.Signals.CleanStreak = 0
	rec.LastActivity = time.Now()
	recalculate(rec)
	m.dirty = true
	snapshot := *rec
	m.mu.Unlock()

	m.recordHistory(snapshot, fmt.Sprintf("violation:%s", tool))
	return snapshot
}

// SetScore directly overrides an agent's score, clamped to [0, 100].
func (m *Manager) SetScore(agent string, score int) domain.TrustRecord {
	m.mu.Lock()
	rec := m.getOrCreateLocked(agent)
	rec.Score = clamp(score, 0, 100)
	rec.Tier = domain.TierFromScore(rec.Score)
	m.dirty = true
	snapshot := *rec
	m.mu.Unlock()

	m.recordHistory(snapshot, "manual_override")
	return snapshot
}

// recordHistory mirrors a score mutation into the optional trust history
// database. Failures are swallowed: the JSON store remains authoritative
// and a history write-back never blocks scoring.
func (m *Manager) recordHistory(rec domain.TrustRecord, reason string) {
	if m.cfg.History == nil {
		return
	}
	_ = m.cfg.History.Record(context.Background(), rec.AgentID, rec.Score, string(rec.Tier), reason)
}

// refreshAgeDays recomputes every agent's ageDays from its created
// timestamp; called on load.
func (m *Manager) refreshAgeDays() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.agents {
		rec.Signals.AgeDays = int(time.Since(rec.Created).Hours() / 24)
	}
}

// recalculate combines signals monotonically: successes and clean streak
// raise score, violations lower it, age adds a small positive term. The
// result is clamped to [0, 100] and the tier is re-derived.
func recalculate(rec *domain.TrustRecord) {
	base := float64(rec.Score)
	base += float64(rec.Signals.SuccessCount%10) * 0.2
	base += math.Min(float64(rec.Signals.CleanStreak), 20) * 0.3
	base -= float64(rec.Signals.ViolationCount) * 5
	base += math.Min(float64(rec.Signals.AgeDays), 30) * 0.05

	rec.Score = clamp(int(math.Round(base)), 0, 100)
	rec.Tier = domain.TierFromScore(rec.Score)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
