// Package pipeline drives the trace-analyzer batch run: load checkpoint,
// fetch the event window, reconstruct chains, detect anti-patterns,
// optionally classify and generate artifacts, then persist an updated
// checkpoint and report atomically. A single run may be in flight per
// Driver at a time.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nexustrace/governor/internal/chain"
	"github.com/nexustrace/governor/internal/classifier"
	"github.com/nexustrace/governor/internal/detect"
	"github.com/nexustrace/governor/internal/domain"
	"github.com/nexustrace/governor/internal/eventbus"
	"github.com/nexustrace/governor/internal/outputgen"
	"github.com/nexustrace/governor/internal/patterns"
	"github.com/nexustrace/governor/internal/store/atomicfile"
	"github.com/nexustrace/governor/internal/telemetry"
)

// ErrAlreadyRunning is returned by Run when another run is in flight on
// this Driver.
var ErrAlreadyRunning = errors.New("pipeline: a run is already in progress")

// EventSource is the subset of eventbus.Source the driver depends on, so
// tests can substitute a fake.
type EventSource interface {
	FetchByTimeRange(ctx context.Context, startMs, endMs int64, stats *eventbus.FetchStats) ([]domain.Event, error)
}

// Config configures a Driver.
type Config struct {
	StatePath                string
	ReportPath               string
	MaxFindings              int
	IncrementalContextWindow time.Duration
	ChainOptions             chain.Options
}

// Driver owns checkpoint state and runs the trace-analyzer pipeline
// end-to-end. The zero value is not usable; construct with NewDriver.
type Driver struct {
	cfg        Config
	source     EventSource
	signals    *patterns.SignalRegistry
	classifier *classifier.Classifier // nil disables classification
	metrics    *telemetry.Metrics     // nil disables instrumentation
	tracer     *telemetry.Tracer      // nil disables tracing

	running atomic.Bool
	mu      sync.Mutex
}

// NewDriver constructs a Driver. classify may be nil, in which case
// findings are never classified and every finding's Classification stays
// nil (skipping output generation for it, per the "manual_review is
// dropped" contract already enforced by internal/outputgen). metrics and
// tracer may also be nil, in which case the run proceeds uninstrumented.
func NewDriver(cfg Config, source EventSource, signals *patterns.SignalRegistry, classify *classifier.Classifier, metrics *telemetry.Metrics, tracer *telemetry.Tracer) *Driver {
	return &Driver{cfg: cfg, source: source, signals: signals, classifier: classify, metrics: metrics, tracer: tracer}
}

// RunOptions controls one invocation of Run.
type RunOptions struct {
	// Full reprocesses from the beginning of the event stream, ignoring
	// any persisted checkpoint.
	Full bool
}

// Run executes one end-to-end pass: load checkpoint, fetch the event
// window, reconstruct chains, detect, classify, generate outputs, persist
// the updated checkpoint and report. Only one Run may execute at a time;
// a concurrent call returns ErrAlreadyRunning immediately rather than
// blocking.
func (d *Driver) Run(ctx context.Context, opts RunOptions) (report *domain.AnalysisReport, err error) {
	if !d.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	defer d.running.Store(false)

	mode := "incremental"
	if opts.Full {
		mode = "full"
	}

	start := time.Now()
	if d.tracer != nil {
		var span trace.Span
		ctx, span = d.tracer.Start(ctx, "pipeline.run", attribute.String("mode", mode))
		defer span.End()
		defer func() {
			if err != nil {
				telemetry.RecordError(span, err)
			}
		}()
	}
	defer func() {
		if d.metrics == nil {
			return
		}
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		d.metrics.PipelineRuns.WithLabelValues(outcome).Inc()
		d.metrics.PipelineDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	}()

	d.mu.Lock()
	defer d.mu.Unlock()

	state, err := loadState(d.cfg.StatePath)
	if err != nil {
		return nil, err
	}

	windowStart, windowEnd := d.computeWindow(state, opts)

	var stats domain.Stats
	fetchStats := &eventbus.FetchStats{}
	events, err := d.source.FetchByTimeRange(ctx, windowStart, windowEnd, fetchStats)
	if err != nil {
		if errors.Is(err, eventbus.ErrBusUnavailable) {
			empty := &domain.AnalysisReport{
				Version:         1,
				GeneratedAt:     time.Now().UTC(),
				ProcessingState: state,
			}
			if persistErr := persistReport(d.cfg.ReportPath, empty); persistErr != nil {
				return nil, persistErr
			}
			return empty, nil
		}
		return nil, fmt.Errorf("pipeline: fetch events: %w", err)
	}
	stats.EventsFetched = len(events)
	stats.EventsDropped = fetchStats.Dropped
	if d.metrics != nil {
		d.metrics.EventsProcessed.Add(float64(len(events)))
	}

	chains, chainsDropped, err := chain.Reconstruct(ctx, events, d.cfg.ChainOptions)
	if err != nil {
		return nil, fmt.Errorf("pipeline: reconstruct chains: %w", err)
	}
	stats.ChainsBuilt = len(chains)
	stats.ChainsDropped = chainsDropped
	if d.metrics != nil {
		d.metrics.ChainsBuilt.Add(float64(len(chains)))
	}

	findings := d.detectAndClassify(ctx, chains)
	stats.FindingsRaw = len(findings)

	findings = sortAndTruncateFindings(findings, d.cfg.MaxFindings)
	stats.FindingsKept = len(findings)
	if d.metrics != nil {
		for _, f := range findings {
			d.metrics.FindingsEmitted.WithLabelValues(string(f.Signal.Kind), string(f.Signal.Severity)).Inc()
		}
	}

	outputs := outputgen.Generate(findings)

	report = &domain.AnalysisReport{
		Version:           1,
		GeneratedAt:       time.Now().UTC(),
		Stats:             stats,
		SignalStats:       signalStats(findings),
		Findings:          findings,
		GeneratedOutputs:  outputs,
		RuleEffectiveness: outputgen.Effectiveness(outputs),
	}

	newState := domain.ProcessingState{
		LastProcessedTS:      windowEnd,
		LastProcessedSeq:     maxSeq(events),
		TotalEventsProcessed: state.TotalEventsProcessed + len(events),
		TotalFindings:        state.TotalFindings + len(findings),
		UpdatedAt:            report.GeneratedAt,
	}
	report.ProcessingState = newState

	if err = persistState(d.cfg.StatePath, newState); err != nil {
		return nil, err
	}
	if err = persistReport(d.cfg.ReportPath, report); err != nil {
		return nil, err
	}

	return report, nil
}

// computeWindow picks [start, end) for this run: a full run starts at 0;
// an incremental run resumes from the last checkpoint, rewound by the
// configured incremental context window so a chain split across the
// checkpoint boundary is still reconstructed whole.
func (d *Driver) computeWindow(state domain.ProcessingState, opts RunOptions) (int64, int64) {
	end := time.Now().UnixMilli()
	if opts.Full || state.LastProcessedTS == 0 {
		return 0, end
	}
	start := state.LastProcessedTS - d.cfg.IncrementalContextWindow.Milliseconds()
	if start < 0 {
		start = 0
	}
	return start, end
}

func (d *Driver) detectAndClassify(ctx context.Context, chains []domain.Chain) []domain.Finding {
	detectors := detect.All()
	now := time.Now().UTC()

	var findings []domain.Finding
	for _, c := range chains {
		set := d.mergedSignals()
		for _, det := range detectors {
			for _, sig := range det.Detect(c, set) {
				finding := domain.Finding{
					ID:         uuid.NewString(),
					ChainID:    c.ID,
					Agent:      c.Agent,
					Session:    c.Session,
					Signal:     sig,
					DetectedAt: now,
					OccurredAt: occurredAt(c, sig),
				}
				if d.classifier != nil {
					finding.Classification = d.classifier.Classify(ctx, finding, transcriptFor(c, sig))
				}
				findings = append(findings, finding)
			}
		}
	}
	return findings
}

func (d *Driver) mergedSignals() *patterns.SignalSet {
	if d.signals == nil {
		return &patterns.SignalSet{}
	}
	return d.signals.Merged()
}

func occurredAt(c domain.Chain, sig domain.Signal) time.Time {
	idx := sig.EventRange.EndIndex
	if idx < 0 || idx >= len(c.Events) {
		return time.UnixMilli(c.EndTS)
	}
	return time.UnixMilli(c.Events[idx].TS)
}

func transcriptFor(c domain.Chain, sig domain.Signal) string {
	start := sig.EventRange.StartIndex
	end := sig.EventRange.EndIndex
	if start < 0 {
		start = 0
	}
	if end >= len(c.Events) {
		end = len(c.Events) - 1
	}

	var b strings.Builder
	for i := start; i <= end && i >= 0 && i < len(c.Events); i++ {
		e := c.Events[i]
		fmt.Fprintf(&b, "[%s] ", e.Type)
		if e.Payload.Message != nil {
			fmt.Fprintf(&b, "%s: %s\n", e.Payload.Message.Role, e.Payload.Message.Content)
			continue
		}
		if e.Payload.Tool != nil {
			fmt.Fprintf(&b, "%s toolError=%v\n", e.Payload.Tool.ToolName, e.Payload.Tool.ToolIsError)
		}
	}
	return b.String()
}

func sortAndTruncateFindings(findings []domain.Finding, max int) []domain.Finding {
	sort.SliceStable(findings, func(i, j int) bool {
		if findings[i].Signal.Severity.Rank() != findings[j].Signal.Severity.Rank() {
			return findings[i].Signal.Severity.Rank() > findings[j].Signal.Severity.Rank()
		}
		return findings[i].OccurredAt.Before(findings[j].OccurredAt)
	})
	if max > 0 && len(findings) > max {
		findings = findings[:max]
	}
	return findings
}

func signalStats(findings []domain.Finding) []domain.SignalStat {
	counts := make(map[domain.SignalKind]int)
	var order []domain.SignalKind
	for _, f := range findings {
		if counts[f.Signal.Kind] == 0 {
			order = append(order, f.Signal.Kind)
		}
		counts[f.Signal.Kind]++
	}
	stats := make([]domain.SignalStat, 0, len(order))
	for _, k := range order {
		stats = append(stats, domain.SignalStat{Kind: k, Count: counts[k]})
	}
	return stats
}

func maxSeq(events []domain.Event) int64 {
	var max int64
	for _, e := range events {
		if e.Seq > max {
			max = e.Seq
		}
	}
	return max
}

func loadState(path string) (domain.ProcessingState, error) {
	if path == "" {
		return domain.ProcessingState{}, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return domain.ProcessingState{}, nil
	}
	if err != nil {
		return domain.ProcessingState{}, fmt.Errorf("pipeline: read state: %w", err)
	}
	var state domain.ProcessingState
	if err := json.Unmarshal(data, &state); err != nil {
		return domain.ProcessingState{}, fmt.Errorf("pipeline: parse state: %w", err)
	}
	return state, nil
}

func persistState(path string, state domain.ProcessingState) error {
	if path == "" {
		return nil
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("pipeline: marshal state: %w", err)
	}
	return atomicfile.Write(path, data, 0o644)
}

func persistReport(path string, report *domain.AnalysisReport) error {
	if path == "" {
		return nil
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("pipeline: marshal report: %w", err)
	}
	return atomicfile.Write(path, data, 0o644)
}
