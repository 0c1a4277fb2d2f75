// Package chain reconstructs conversation chains from an ordered event
// stream: grouping by (session, agent), splitting on lifecycle boundaries,
// inactivity gaps, and run-end/run-start gaps, then deduplicating
// near-identical events within each chain.
package chain

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nexustrace/governor/internal/domain"
)

// Options configures chain splitting thresholds.
type Options struct {
	// GapMinutes is the inactivity gap (in minutes) that forces a new
	// chain. Defaults to 30 when zero.
	GapMinutes int

	// MaxEventsPerChain caps chain size; overflow rolls into a fresh chain.
	// Defaults to 500 when zero.
	MaxEventsPerChain int

	// Parallel enables per-group worker fan-out via errgroup. Chain
	// reconstruction is deterministic either way; this only affects
	// wall-clock time on large event sets.
	Parallel bool
}

const runGapThreshold = 5 * time.Minute

func (o Options) gap() time.Duration {
	minutes := o.GapMinutes
	if minutes <= 0 {
		minutes = 30
	}
	return time.Duration(minutes) * time.Minute
}

func (o Options) maxEvents() int {
	if o.MaxEventsPerChain <= 0 {
		return 500
	}
	return o.MaxEventsPerChain
}

// groupKey identifies a (session, agent) partition of the event stream.
type groupKey struct {
	Session string
	Agent   string
}

// Reconstruct groups events by (session, agent), splits them into chains,
// deduplicates near-identical events within each chain, and drops chains
// with fewer than two events. Given the same input, it always produces the
// same chain IDs and ordering. The second return value counts chains
// dropped for falling below the minimum size.
func Reconstruct(ctx context.Context, events []domain.Event, opts Options) ([]domain.Chain, int, error) {
	groups := groupEvents(events)

	keys := make([]groupKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Session != keys[j].Session {
			return keys[i].Session < keys[j].Session
		}
		return keys[i].Agent < keys[j].Agent
	})

	results := make([][]domain.Chain, len(keys))
	dropped := make([]int, len(keys))

	if !opts.Parallel {
		for i, k := range keys {
			results[i], dropped[i] = splitGroup(groups[k], opts)
		}
	} else {
		g, _ := errgroup.WithContext(ctx)
		for i, k := range keys {
			i, evs := i, groups[k]
			g.Go(func() error {
				results[i], dropped[i] = splitGroup(evs, opts)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, 0, err
		}
	}

	var chains []domain.Chain
	var totalDropped int
	for i, r := range results {
		chains = append(chains, r...)
		totalDropped += dropped[i]
	}
	return chains, totalDropped, nil
}

func groupEvents(events []domain.Event) map[groupKey][]domain.Event {
	groups := make(map[groupKey][]domain.Event)
	for _, e := range events {
		k := groupKey{Session: e.Session, Agent: e.Agent}
		groups[k] = append(groups[k], e)
	}
	return groups
}

// splitGroup orders one (session, agent) group's events by (ts, seq) and
// splits it into chains on lifecycle boundaries, inactivity gaps, and
// run.end->run.start gaps, then deduplicates and drops sub-minimum chains.
// The second return value counts chains dropped for falling below the
// minimum size.
func splitGroup(events []domain.Event, opts Options) ([]domain.Chain, int) {
	sort.SliceStable(events, func(i, j int) bool { return events[i].Before(events[j]) })

	var chains []domain.Chain
	var dropped int
	var current []domain.Event
	maxEvents := opts.maxEvents()
	gap := opts.gap()

	flush := func(boundary domain.BoundaryType) {
		if len(current) == 0 {
			return
		}
		c := buildChain(current, boundary)
		if c.Valid() {
			chains = append(chains, c)
		} else {
			dropped++
		}
		current = nil
	}

	for i, e := range events {
		if len(current) > 0 {
			prev := current[len(current)-1]

			if prev.Type.LifecycleEvent() {
				flush(domain.BoundaryLifecycle)
			} else if time.Duration(e.TS-prev.TS)*time.Millisecond > gap {
				flush(domain.BoundaryGap)
			} else if prev.Type == domain.EventRunEnd && e.Type == domain.EventRunStart &&
				time.Duration(e.TS-prev.TS)*time.Millisecond > runGapThreshold {
				flush(domain.BoundaryGap)
			} else if len(current) >= maxEvents {
				flush(domain.BoundaryGap)
			}
		}

		current = append(current, e)

		if e.Type.LifecycleEvent() && i == len(events)-1 {
			flush(domain.BoundaryLifecycle)
		}
	}
	flush(domain.BoundaryGap)

	return chains, dropped
}

func buildChain(events []domain.Event, boundary domain.BoundaryType) domain.Chain {
	deduped := dedupe(events)
	c := domain.Chain{
		Agent:        firstAgent(deduped),
		Session:      firstSession(deduped),
		Events:       deduped,
		BoundaryType: boundary,
	}
	c.Finalize()
	return c
}

func firstAgent(events []domain.Event) string {
	if len(events) == 0 {
		return ""
	}
	return events[0].Agent
}

func firstSession(events []domain.Event) string {
	if len(events) == 0 {
		return ""
	}
	return events[0].Session
}

// fingerprint identifies near-duplicate events per spec.md §4.2:
// (type, content|toolName+toolParams, agent, session, floor(ts/1000)).
type fingerprint struct {
	Type    domain.EventType
	Key     string
	Agent   string
	Session string
	TSFloor int64
}

func fingerprintOf(e domain.Event) fingerprint {
	key := e.Content()
	if tool := e.Tool(); tool != nil {
		key = tool.ToolName + "|" + string(normalizeParams(tool.Params))
	}
	return fingerprint{
		Type:    e.Type,
		Key:     key,
		Agent:   e.Agent,
		Session: e.Session,
		TSFloor: e.TS / 1000,
	}
}

func normalizeParams(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return raw
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return raw
	}
	out, err := json.Marshal(v)
	if err != nil {
		return raw
	}
	return out
}

// dedupe collapses events sharing a fingerprint, keeping the one with the
// higher seq on collision.
func dedupe(events []domain.Event) []domain.Event {
	best := make(map[fingerprint]domain.Event, len(events))
	order := make([]fingerprint, 0, len(events))

	for _, e := range events {
		fp := fingerprintOf(e)
		existing, seen := best[fp]
		if !seen {
			order = append(order, fp)
			best[fp] = e
			continue
		}
		if e.Seq > existing.Seq {
			best[fp] = e
		}
	}

	out := make([]domain.Event, 0, len(order))
	for _, fp := range order {
		out = append(out, best[fp])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
