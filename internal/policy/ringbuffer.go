package policy

import (
	"sync"
	"time"
)

// frequencyCounter tracks timestamped occurrences per (agent, key) so a
// frequency condition can ask "how many in the last T seconds" without
// unbounded growth: entries older than the longest period asked of this
// counter are dropped lazily on each count.
type frequencyCounter struct {
	mu     sync.Mutex
	events map[string][]time.Time
}

func newFrequencyCounter() *frequencyCounter {
	return &frequencyCounter{events: make(map[string][]time.Time)}
}

// Record appends an occurrence at now for key.
func (f *frequencyCounter) Record(key string, now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[key] = append(f.events[key], now)
}

// CountWithin returns how many occurrences of key fall within [now-period, now],
// pruning older entries from the backing slice as a side effect.
func (f *frequencyCounter) CountWithin(key string, now time.Time, period time.Duration) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	cutoff := now.Add(-period)
	ts := f.events[key]
	kept := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	f.events[key] = kept
	return len(kept)
}
