package domain

import (
	"fmt"
	"hash/fnv"
	"sort"
)

// BoundaryType describes why a chain was closed off from the next one.
type BoundaryType string

const (
	BoundaryGap       BoundaryType = "gap"
	BoundaryLifecycle BoundaryType = "lifecycle"
)

// Chain is a contiguous, ordered slice of events belonging to the same
// (session, agent) pair, bounded by lifecycle events or an inactivity gap.
type Chain struct {
	ID           string
	Agent        string
	Session      string
	StartTS      int64
	EndTS        int64
	Events       []Event
	TypeCounts   map[EventType]int
	BoundaryType BoundaryType
}

// NewChainID derives the deterministic chain identifier from its grouping
// key, as required by the spec's `id = hash(session, agent, startTs)` rule.
func NewChainID(session, agent string, startTS int64) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(session))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(agent))
	_, _ = h.Write([]byte{0})
	_, _ = fmt.Fprintf(h, "%d", startTS)
	return fmt.Sprintf("chain-%016x", h.Sum64())
}

// Valid reports whether the chain satisfies the minimum-size invariant:
// every chain must contain at least two events.
func (c *Chain) Valid() bool {
	return len(c.Events) >= 2
}

// recomputeTypeCounts rebuilds the TypeCounts index from Events. Callers
// that mutate Events directly (e.g. deduplication) must call this after.
func (c *Chain) recomputeTypeCounts() {
	counts := make(map[EventType]int, len(c.TypeCounts))
	for _, e := range c.Events {
		counts[e.Type]++
	}
	c.TypeCounts = counts
}

// Finalize sorts events ascending by (ts, seq), recomputes bookkeeping
// fields, and sets StartTS/EndTS from the sorted slice.
func (c *Chain) Finalize() {
	sortEvents(c.Events)
	c.recomputeTypeCounts()
	if len(c.Events) > 0 {
		c.StartTS = c.Events[0].TS
		c.EndTS = c.Events[len(c.Events)-1].TS
	}
	c.ID = NewChainID(c.Session, c.Agent, c.StartTS)
}

func sortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Before(events[j])
	})
}
