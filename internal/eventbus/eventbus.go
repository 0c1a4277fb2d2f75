// Package eventbus implements the trace analyzer's Event Source: a durable,
// subject-addressed reader over NATS JetStream, normalizing the two
// accepted wire envelope shapes into canonical domain.Event values.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/nexustrace/governor/internal/domain"
)

// ErrBusUnavailable is returned by Open when the broker cannot be reached.
// Per spec, this is not fatal to the caller: the pipeline driver treats it
// as "yield an empty report, never fail the caller".
var ErrBusUnavailable = errors.New("eventbus: broker unavailable")

// Config configures the connection to the durable event bus.
type Config struct {
	URL           string
	Stream        string
	SubjectPrefix string
	CredsFile     string
	User          string
	Password      string

	// ConnectTimeout bounds the initial connection attempt.
	ConnectTimeout time.Duration
}

// Status is the result of a non-blocking availability probe.
type Status struct {
	Connected    bool
	StreamExists bool
	Err          error
}

// Source is the Event Source: it owns a NATS connection and a JetStream
// context, and knows how to fetch normalized events for a time range.
type Source struct {
	cfg    Config
	nc     *nats.Conn
	js     jetstream.JetStream
	stream jetstream.Stream
}

// Open connects to the configured broker and resolves the stream handle.
// On any connection failure it returns ErrBusUnavailable wrapping the
// underlying cause; callers must treat this as "degraded, not fatal".
func Open(ctx context.Context, cfg Config) (*Source, error) {
	opts := []nats.Option{nats.Name("governor-eventbus")}
	if cfg.CredsFile != "" {
		opts = append(opts, nats.UserCredentials(cfg.CredsFile))
	} else if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	opts = append(opts, nats.Timeout(timeout))

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: connect %s: %v", ErrBusUnavailable, cfg.URL, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("%w: jetstream: %v", ErrBusUnavailable, err)
	}

	streamCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	stream, err := js.Stream(streamCtx, cfg.Stream)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("%w: stream %s: %v", ErrBusUnavailable, cfg.Stream, err)
	}

	return &Source{cfg: cfg, nc: nc, js: js, stream: stream}, nil
}

// Status performs a non-blocking probe of the current connection state.
func (s *Source) Status() Status {
	if s == nil || s.nc == nil {
		return Status{}
	}
	return Status{Connected: s.nc.IsConnected(), StreamExists: s.stream != nil}
}

// Close releases the underlying connection. It is always safe to call,
// including on a Source that failed to fully open.
func (s *Source) Close() error {
	if s == nil || s.nc == nil {
		return nil
	}
	s.nc.Close()
	return nil
}

// subjectGlob builds the wildcard subject this source consumes:
// <prefix>.>  matches every agent and every event-type suffix under the
// configured prefix, per spec.md §6's
// "<prefix>.<agent>.<event_type_with_underscores>" naming.
func (s *Source) subjectGlob() string {
	prefix := strings.TrimSuffix(s.cfg.SubjectPrefix, ".")
	return prefix + ".>"
}

// FetchByTimeRange returns every normalized event published in
// [startMs, endMs), draining an ephemeral ordered pull consumer anchored at
// startMs. Malformed messages (unknown type, missing timestamp, unparseable
// JSON) are dropped silently, incrementing stats.Dropped.
func (s *Source) FetchByTimeRange(ctx context.Context, startMs, endMs int64, stats *FetchStats) ([]domain.Event, error) {
	if s == nil || s.js == nil {
		return nil, ErrBusUnavailable
	}

	startTime := time.UnixMilli(startMs)
	consumer, err := s.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		FilterSubject: s.subjectGlob(),
		DeliverPolicy: jetstream.DeliverByStartTimePolicy,
		OptStartTime:  &startTime,
		AckPolicy:     jetstream.AckNonePolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: consumer: %v", ErrBusUnavailable, err)
	}

	var events []domain.Event
	for {
		batch, err := consumer.Fetch(256, jetstream.FetchMaxWait(2*time.Second))
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) {
				break
			}
			return events, fmt.Errorf("fetch batch: %w", err)
		}

		drained := false
		for msg := range batch.Messages() {
			drained = true
			ev, ok := Normalize(msg.Data())
			if stats != nil {
				stats.Fetched++
			}
			if !ok {
				if stats != nil {
					stats.Dropped++
				}
				continue
			}
			if ev.TS < startMs || ev.TS >= endMs {
				continue
			}
			events = append(events, ev)
		}
		if err := batch.Error(); err != nil {
			return events, fmt.Errorf("fetch batch: %w", err)
		}
		if !drained {
			break
		}
	}

	return events, nil
}

// FetchStats counts events observed during a fetch, for the pipeline's
// AnalysisReport.Stats.
type FetchStats struct {
	Fetched int
	Dropped int
}
