package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nexustrace/governor/internal/audit"
	"github.com/nexustrace/governor/internal/chain"
	"github.com/nexustrace/governor/internal/classifier"
	"github.com/nexustrace/governor/internal/config"
	"github.com/nexustrace/governor/internal/crossagent"
	"github.com/nexustrace/governor/internal/eventbus"
	"github.com/nexustrace/governor/internal/governance"
	"github.com/nexustrace/governor/internal/patterns"
	"github.com/nexustrace/governor/internal/pipeline"
	"github.com/nexustrace/governor/internal/policy"
	"github.com/nexustrace/governor/internal/redact"
	"github.com/nexustrace/governor/internal/store/trustdb"
	"github.com/nexustrace/governor/internal/telemetry"
	"github.com/nexustrace/governor/internal/trust"
	"github.com/nexustrace/governor/internal/validation"
)

// App wires every component into the shapes the CLI commands drive. It is
// built once per invocation from the loaded configuration; external
// dependencies (the event bus, the LLM endpoints) are allowed to be
// unreachable at construction time — per spec, a degraded external
// service never fails the CLI outright.
type App struct {
	Config     *config.Config
	Workspace  string
	Logger     *telemetry.Logger
	Signals    *patterns.SignalRegistry
	RedactCat  *patterns.RedactionRegistry
	Vault      *redact.Vault
	RedactEng  *redact.Engine
	Trust      *trust.Manager
	CrossAgent *crossagent.Manager
	Policy     *policy.Evaluator
	Audit      *audit.Sink
	EventBus   *eventbus.Source // nil when the broker is unreachable
	Pipeline   *pipeline.Driver
	Metrics    *telemetry.Metrics
	Tracer     *telemetry.Tracer
	Validator  *validation.Validator // nil when output validation is disabled
	Engine     *governance.Engine
}

// NewApp loads configPath (or the documented defaults if empty) and
// constructs every component. Workspace roots every relative path the
// components persist to (trust store, audit log, policies, report).
func NewApp(ctx context.Context, configPath, workspace string) (*App, error) {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("governor: load config: %w", err)
		}
		cfg = loaded
	}

	logger := telemetry.NewLogger(telemetry.LogConfig{RedactPatterns: cfg.Audit.RedactPatterns})

	signals := patterns.NewSignalRegistry()
	if err := signals.LoadSyncSubset(); err != nil {
		return nil, fmt.Errorf("governor: load language packs: %w", err)
	}
	go func() {
		for err := range signals.LoadRemainingAsync() {
			if err != nil {
				logger.Warn(ctx, "pattern pack load failed", "error", err)
			}
		}
	}()

	redactCatalog := patterns.NewRedactionRegistry()
	for _, cp := range cfg.Redaction.CustomPatterns {
		if err := redactCatalog.AddCustom(cp.Name, cp.Pattern, patterns.RedactionCategory(cp.Category), cp.Priority); err != nil {
			logger.Warn(ctx, "custom redaction pattern rejected", "name", cp.Name, "error", err)
		}
	}
	vault := redact.NewVault(cfg.Redaction.VaultExpiry())
	redactEngine := redact.NewEngine(redactCatalog, vault)

	var history *trustdb.DB
	if cfg.Trust.HistoryEnabled {
		opened, err := trustdb.Open(filepath.Join(workspace, "governance", "trust_history.db"))
		if err != nil {
			logger.Warn(ctx, "trust history database unavailable, proceeding without it", "error", err)
		} else {
			history = opened
		}
	}

	trustManager, err := trust.NewManager(trust.Config{
		Path:                   filepath.Join(workspace, "governance", "trust.json"),
		DefaultScore:           cfg.Trust.Defaults,
		PersistIntervalSeconds: cfg.Trust.PersistIntervalSeconds,
		Decay: trust.DecayConfig{
			Enabled:        cfg.Trust.Decay.Enabled,
			InactivityDays: cfg.Trust.Decay.InactivityDays,
			Rate:           cfg.Trust.Decay.Rate,
		},
		History: history,
	})
	if err != nil {
		return nil, fmt.Errorf("governor: init trust manager: %w", err)
	}

	policyDir := filepath.Join(workspace, "governance", "policies")
	evaluator, err := policy.NewEvaluator(policyDir, policy.FailMode(cfg.FailMode))
	if err != nil {
		logger.Warn(ctx, "policy directory unavailable, starting with an empty index", "dir", policyDir, "error", err)
		evaluator, _ = policy.NewEvaluator("", policy.FailMode(cfg.FailMode))
	}

	auditSink := audit.NewSink(audit.Config{
		Dir:           filepath.Join(workspace, "governance", "audit"),
		RetentionDays: cfg.Audit.RetentionDays,
	})

	var classify *classifier.Classifier
	if cfg.TraceAnalyzer.LLM.Enabled {
		llm := cfg.TraceAnalyzer.LLM
		clCfg := classifier.Config{
			Endpoint: llm.Endpoint, Model: llm.Model, APIKey: llm.APIKey,
			TimeoutMs: llm.TimeoutMs, BatchSize: llm.BatchSize,
		}
		if llm.Triage != nil {
			clCfg.TriageEndpoint = llm.Triage.Endpoint
			clCfg.TriageModel = llm.Triage.Model
			clCfg.TriageTimeout = llm.Triage.TimeoutMs
		}
		classify = classifier.New(clCfg, redactEngine)
	}

	var source *eventbus.Source
	natsCfg := cfg.TraceAnalyzer.NATS
	if natsCfg.URL != "" {
		opened, err := eventbus.Open(ctx, eventbus.Config{
			URL: natsCfg.URL, Stream: natsCfg.Stream, SubjectPrefix: natsCfg.SubjectPrefix,
			ConnectTimeout: 5 * time.Second,
		})
		if err != nil {
			logger.Warn(ctx, "event bus unreachable, trace analysis will report degraded status", "error", err)
		} else {
			source = opened
		}
	}

	metrics := telemetry.NewMetrics(prometheus.NewRegistry())
	tracer := telemetry.NewTracer(telemetry.TraceConfig{ServiceName: "governor"})

	driver := pipeline.NewDriver(pipeline.Config{
		StatePath:                filepath.Join(workspace, "memory", "reboot", "trace-analysis-state.json"),
		ReportPath:               filepath.Join(workspace, cfg.TraceAnalyzer.Output.ReportPath),
		MaxFindings:              cfg.TraceAnalyzer.Output.MaxFindings,
		IncrementalContextWindow: time.Duration(cfg.TraceAnalyzer.IncrementalContextWindow) * time.Millisecond,
		ChainOptions: chain.Options{
			GapMinutes:        cfg.TraceAnalyzer.GapMinutes,
			MaxEventsPerChain: cfg.TraceAnalyzer.MaxEventsPerChain,
		},
	}, eventSourceOrNil(source), signals, classify, metrics, tracer)

	crossAgentMgr := crossagent.NewManager()

	var validator *validation.Validator
	if cfg.OutputValidation.Enabled && cfg.OutputValidation.LLMValidator.Enabled {
		lv := cfg.OutputValidation.LLMValidator
		validator = validation.New(validation.Config{
			Endpoint:  lv.Endpoint,
			Model:     lv.Model,
			APIKey:    lv.APIKey,
			TimeoutMs: lv.TimeoutMs,
			CacheTTL:  time.Duration(lv.CacheTTLSeconds) * time.Second,
			FailMode:  validationFailMode(lv.FailMode),
		})
	}

	engine := governance.NewEngine(governance.Config{
		FailMode:         policy.FailMode(cfg.FailMode),
		MaxEvalUs:        cfg.Performance.MaxEvalUs,
		ExternalChannels: cfg.OutputValidation.LLMValidator.ExternalChannels,
		ExternalCommands: cfg.OutputValidation.LLMValidator.ExternalCommands,
		Facts:            loadFacts(ctx, cfg.OutputValidation.FactRegistries, logger),
		Allowlist:        redactAllowlistFrom(cfg.Redaction.Allowlist),
	}, evaluator, crossAgentMgr, trustManager, auditSink, redactEngine, validator, logger, metrics, tracer)

	return &App{
		Config: cfg, Workspace: workspace, Logger: logger, Signals: signals,
		RedactCat: redactCatalog, Vault: vault, RedactEng: redactEngine,
		Trust: trustManager, CrossAgent: crossAgentMgr, Policy: evaluator,
		Audit: auditSink, EventBus: source, Pipeline: driver,
		Metrics: metrics, Tracer: tracer, Validator: validator, Engine: engine,
	}, nil
}

// validationFailMode maps the LLM validator's configured open/closed fail
// mode onto the validator's own pass/block vocabulary.
func validationFailMode(m config.FailMode) validation.FailMode {
	if m == config.FailOpen {
		return validation.FailPass
	}
	return validation.FailBlock
}

// redactAllowlistFrom converts the config-loaded allowlist into the
// redact package's own type; the two are structurally identical but kept
// distinct so redact has no dependency on the config package.
func redactAllowlistFrom(a config.AllowlistConfig) redact.AllowlistConfig {
	return redact.AllowlistConfig{
		PIIAllowedChannels:       a.PIIAllowedChannels,
		FinancialAllowedChannels: a.FinancialAllowedChannels,
		ExemptTools:              a.ExemptTools,
		ExemptAgents:             a.ExemptAgents,
	}
}

// loadFacts reads each configured fact registry — a JSON file holding a
// flat map of known-true facts — and merges them into one lookup table for
// the claim validator. A registry that cannot be read or parsed is
// skipped with a warning rather than failing App construction, matching
// the degraded-external-dependency posture used for the event bus and
// trust history store.
func loadFacts(ctx context.Context, registries []string, logger *telemetry.Logger) map[string]string {
	facts := make(map[string]string)
	for _, path := range registries {
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn(ctx, "fact registry unavailable, skipping", "path", path, "error", err)
			continue
		}
		var entries map[string]string
		if err := json.Unmarshal(data, &entries); err != nil {
			logger.Warn(ctx, "fact registry malformed, skipping", "path", path, "error", err)
			continue
		}
		for k, v := range entries {
			facts[k] = v
		}
	}
	return facts
}

// eventSourceOrNil adapts a possibly-nil *eventbus.Source into the
// pipeline.EventSource interface, surfacing ErrBusUnavailable on fetch
// rather than panicking on a nil receiver method call chain.
func eventSourceOrNil(source *eventbus.Source) pipeline.EventSource {
	return source
}

// Shutdown releases every long-lived resource the App opened.
func (a *App) Shutdown() {
	if a.EventBus != nil {
		_ = a.EventBus.Close()
	}
	if a.Trust != nil {
		_ = a.Trust.Shutdown()
	}
	if a.Policy != nil {
		_ = a.Policy.Close()
	}
	if a.Audit != nil {
		_ = a.Audit.Shutdown()
	}
	if a.Vault != nil {
		a.Vault.Shutdown()
	}
	if a.Tracer != nil {
		_ = a.Tracer.Shutdown(context.Background())
	}
}
