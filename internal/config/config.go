// Package config loads the single configuration object shared by the trace
// analyzer and the governance engine. It follows the teacher repo's
// load-then-merge-with-defaults shape (internal/config/loader.go): YAML in,
// unknown keys warned-and-ignored, invalid values replaced by documented
// defaults.
package config

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// FailMode controls the safe-default behavior of a fallible check.
type FailMode string

const (
	FailOpen   FailMode = "open"
	FailClosed FailMode = "closed"
)

// Config is the root configuration object described in spec.md §6.
type Config struct {
	Enabled       bool                 `yaml:"enabled"`
	Timezone      string               `yaml:"timezone"`
	FailMode      FailMode             `yaml:"failMode"`
	Trust         TrustConfig          `yaml:"trust"`
	Audit         AuditConfig          `yaml:"audit"`
	Performance   PerformanceConfig    `yaml:"performance"`
	OutputValidation OutputValidationConfig `yaml:"outputValidation"`
	Redaction     RedactionConfig      `yaml:"redaction"`
	TraceAnalyzer TraceAnalyzerConfig  `yaml:"traceAnalyzer"`
}

type TrustConfig struct {
	Enabled               bool             `yaml:"enabled"`
	Defaults              map[string]int   `yaml:"defaults"`
	PersistIntervalSeconds int             `yaml:"persistIntervalSeconds"`
	Decay                 DecayConfig      `yaml:"decay"`
	MaxHistoryPerAgent    int              `yaml:"maxHistoryPerAgent"`
	Weights               map[string]float64 `yaml:"weights"`
	HistoryEnabled        bool             `yaml:"historyEnabled"`
}

type DecayConfig struct {
	Enabled         bool    `yaml:"enabled"`
	InactivityDays  int     `yaml:"inactivityDays"`
	Rate            float64 `yaml:"rate"`
}

type AuditLevel string

const (
	AuditMinimal  AuditLevel = "minimal"
	AuditStandard AuditLevel = "standard"
	AuditVerbose  AuditLevel = "verbose"
)

type AuditConfig struct {
	Enabled        bool       `yaml:"enabled"`
	RetentionDays  int        `yaml:"retentionDays"`
	Level          AuditLevel `yaml:"level"`
	RedactPatterns []string   `yaml:"redactPatterns"`
}

type PerformanceConfig struct {
	MaxEvalUs          int `yaml:"maxEvalUs"`
	MaxContextMessages int `yaml:"maxContextMessages"`
	FrequencyBufferSize int `yaml:"frequencyBufferSize"`
}

type ContradictionThresholds struct {
	FlagAbove  float64 `yaml:"flagAbove"`
	BlockBelow float64 `yaml:"blockBelow"`
}

type LLMValidatorConfig struct {
	Enabled           bool     `yaml:"enabled"`
	Model             string   `yaml:"model"`
	MaxTokens         int      `yaml:"maxTokens"`
	TimeoutMs         int      `yaml:"timeoutMs"`
	ExternalChannels  []string `yaml:"externalChannels"`
	ExternalCommands  []string `yaml:"externalCommands"`
	Endpoint          string   `yaml:"endpoint"`
	APIKey            string   `yaml:"apiKey"`
	CacheTTLSeconds   int      `yaml:"cacheTtlSeconds"`
	FailMode          FailMode `yaml:"failMode"`
}

type OutputValidationConfig struct {
	Enabled                 bool                    `yaml:"enabled"`
	EnabledDetectors        []string                `yaml:"enabledDetectors"`
	FactRegistries          []string                `yaml:"factRegistries"`
	ContradictionThresholds ContradictionThresholds `yaml:"contradictionThresholds"`
	LLMValidator            LLMValidatorConfig      `yaml:"llmValidator"`
}

type AllowlistConfig struct {
	PIIAllowedChannels       []string `yaml:"piiAllowedChannels"`
	FinancialAllowedChannels []string `yaml:"financialAllowedChannels"`
	ExemptTools              []string `yaml:"exemptTools"`
	ExemptAgents             []string `yaml:"exemptAgents"`
}

type RedactionConfig struct {
	Enabled             bool            `yaml:"enabled"`
	Categories          []string        `yaml:"categories"`
	VaultExpirySeconds  int             `yaml:"vaultExpirySeconds"`
	FailMode            FailMode        `yaml:"failMode"`
	CustomPatterns      []CustomPattern `yaml:"customPatterns"`
	Allowlist           AllowlistConfig `yaml:"allowlist"`
	PerformanceBudgetMs int             `yaml:"performanceBudgetMs"`
}

type CustomPattern struct {
	Name     string `yaml:"name"`
	Pattern  string `yaml:"pattern"`
	Category string `yaml:"category"`
	Priority int    `yaml:"priority"`
}

type ScheduleConfig struct {
	Enabled       bool `yaml:"enabled"`
	IntervalHours int  `yaml:"intervalHours"`
}

type OutputConfig struct {
	MaxFindings int    `yaml:"maxFindings"`
	ReportPath  string `yaml:"reportPath"`
}

type NATSCredentials struct {
	File     string `yaml:"file"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

type NATSConfig struct {
	URL           string           `yaml:"url"`
	Stream        string           `yaml:"stream"`
	SubjectPrefix string           `yaml:"subjectPrefix"`
	Credentials   *NATSCredentials `yaml:"credentials"`
}

type TriageConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Model     string `yaml:"model"`
	TimeoutMs int    `yaml:"timeoutMs"`
}

type ClassifierLLMConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Endpoint  string        `yaml:"endpoint"`
	Model     string        `yaml:"model"`
	APIKey    string        `yaml:"apiKey"`
	TimeoutMs int           `yaml:"timeoutMs"`
	BatchSize int           `yaml:"batchSize"`
	Triage    *TriageConfig `yaml:"triage"`
}

type TraceAnalyzerConfig struct {
	Enabled                   bool                `yaml:"enabled"`
	IncrementalContextWindow  int                 `yaml:"incrementalContextWindow"`
	Schedule                  ScheduleConfig      `yaml:"schedule"`
	Output                    OutputConfig        `yaml:"output"`
	NATS                      NATSConfig          `yaml:"nats"`
	LLM                       ClassifierLLMConfig `yaml:"llm"`
	GapMinutes                int                 `yaml:"gapMinutes"`
	MaxEventsPerChain         int                 `yaml:"maxEventsPerChain"`
}

// Default returns the documented default configuration. Values here are
// authoritative for "invalid values fall back to documented defaults" in
// spec.md §6.
func Default() *Config {
	return &Config{
		Enabled:  true,
		Timezone: "UTC",
		FailMode: FailClosed,
		Trust: TrustConfig{
			Enabled:                true,
			Defaults:               map[string]int{"*": 40},
			PersistIntervalSeconds: 30,
			Decay:                  DecayConfig{Enabled: true, InactivityDays: 14, Rate: 0.95},
			MaxHistoryPerAgent:     1000,
		},
		Audit: AuditConfig{
			Enabled:       true,
			RetentionDays: 90,
			Level:         AuditStandard,
			RedactPatterns: []string{
				"password", "token", "apiKey", "secret",
			},
		},
		Performance: PerformanceConfig{
			MaxEvalUs:           5000,
			MaxContextMessages:  50,
			FrequencyBufferSize: 256,
		},
		OutputValidation: OutputValidationConfig{
			Enabled:          false,
			ContradictionThresholds: ContradictionThresholds{FlagAbove: 0.5, BlockBelow: 0.9},
			LLMValidator:     LLMValidatorConfig{CacheTTLSeconds: 600, FailMode: FailOpen, MaxTokens: 512, TimeoutMs: 10000},
		},
		Redaction: RedactionConfig{
			Enabled:             true,
			Categories:          []string{"credential", "pii", "financial"},
			VaultExpirySeconds:  3600,
			FailMode:            FailClosed,
			PerformanceBudgetMs: 50,
		},
		TraceAnalyzer: TraceAnalyzerConfig{
			Enabled:                  true,
			IncrementalContextWindow: 15 * 60 * 1000,
			Schedule:                 ScheduleConfig{Enabled: true, IntervalHours: 1},
			Output:                   OutputConfig{MaxFindings: 500, ReportPath: "memory/reboot/trace-analysis-report.json"},
			GapMinutes:               30,
			MaxEventsPerChain:        500,
		},
	}
}

// Load reads a YAML configuration file and merges it over Default().
// Unknown keys are ignored with a warning rather than failing the load,
// matching the teacher's tolerant-config-loading posture.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(false) // unknown keys are tolerated, not fatal
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	strict := yaml.NewDecoder(bytes.NewReader(data))
	strict.KnownFields(true)
	if err := strict.Decode(Default()); err != nil {
		slog.Warn("config: unrecognized keys ignored", "path", path, "error", err)
	}

	normalize(cfg)
	return cfg, nil
}

func normalize(cfg *Config) {
	if cfg.FailMode != FailOpen && cfg.FailMode != FailClosed {
		cfg.FailMode = FailClosed
	}
	if cfg.Performance.MaxEvalUs <= 0 {
		cfg.Performance.MaxEvalUs = 5000
	}
	if cfg.Redaction.VaultExpirySeconds <= 0 {
		cfg.Redaction.VaultExpirySeconds = 3600
	}
	if cfg.Trust.PersistIntervalSeconds <= 0 {
		cfg.Trust.PersistIntervalSeconds = 30
	}
	if cfg.Audit.RetentionDays <= 0 {
		cfg.Audit.RetentionDays = 90
	}
	if cfg.TraceAnalyzer.GapMinutes <= 0 {
		cfg.TraceAnalyzer.GapMinutes = 30
	}
	if cfg.TraceAnalyzer.MaxEventsPerChain <= 0 {
		cfg.TraceAnalyzer.MaxEventsPerChain = 500
	}
}

// VaultExpiry returns the configured vault TTL as a time.Duration.
func (c *RedactionConfig) VaultExpiry() time.Duration {
	return time.Duration(c.VaultExpirySeconds) * time.Second
}
