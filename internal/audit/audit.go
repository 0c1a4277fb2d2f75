// Package audit implements the governance compliance audit trail: a
// buffered, append-only JSONL sink rotated daily, with toolParams
// redaction and query support over the persisted log files.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nexustrace/governor/internal/domain"
)

const (
	flushBatchSize = 100

	// baseline incident-response controls unioned into the record whenever
	// a verdict denies a call, independent of which policy matched.
	controlIncidentDetection = "A.5.24"
	controlIncidentResponse  = "A.5.28"
)

// sensitiveParamKeys are toolParams fields always redacted before an audit
// record is written, regardless of policy configuration.
var sensitiveParamKeys = map[string]bool{
	"password": true, "token": true, "apikey": true, "api_key": true,
	"secret": true, "authorization": true, "accesskey": true, "access_key": true,
	"privatekey": true, "private_key": true,
}

// Config configures the audit sink.
type Config struct {
	Dir            string // <workspace>/governance/audit
	RetentionDays  int
	FlushBatchSize int
}

// Sink buffers audit records in memory and flushes them to a
// date-partitioned JSONL file, one file per UTC calendar day.
type Sink struct {
	cfg Config

	mu      sync.Mutex
	buf     []domain.AuditRecord
	batch   int
	openDay string
	file    *os.File
	writer  *bufio.Writer
}

// NewSink constructs a Sink writing under cfg.Dir. The directory is
// created lazily on first write.
func NewSink(cfg Config) *Sink {
	if cfg.FlushBatchSize <= 0 {
		cfg.FlushBatchSize = flushBatchSize
	}
	return &Sink{cfg: cfg}
}

// Dir returns the directory this sink writes day-partitioned JSONL files to.
func (s *Sink) Dir() string {
	return s.cfg.Dir
}

// Record appends one verdict as an audit entry, redacting sensitive
// toolParams and deriving compliance controls from the matched policies
// union plus the baseline incident controls on deny. Flushes immediately
// once the buffer reaches the configured batch size.
func (s *Sink) Record(verdict domain.Verdict, elapsed time.Duration) error {
	rec := buildRecord(verdict, elapsed)

	s.mu.Lock()
	s.buf = append(s.buf, rec)
	shouldFlush := len(s.buf) >= s.cfg.FlushBatchSize
	s.mu.Unlock()

	if shouldFlush {
		return s.Flush()
	}
	return nil
}

func buildRecord(verdict domain.Verdict, elapsed time.Duration) domain.AuditRecord {
	now := time.Now().UTC()
	ctx := verdict.EnrichedCtx
	ctx.ToolParams = redactParams(ctx.ToolParams)

	controls := unionControls(verdict.MatchedPolicies)
	if verdict.Action == domain.EffectDeny {
		controls = unionStrings(controls, []string{controlIncidentDetection, controlIncidentResponse})
	}

	return domain.AuditRecord{
		ID:              uuid.NewString(),
		Timestamp:       now.UnixMilli(),
		TimestampISO:    now.Format(time.RFC3339Nano),
		Verdict:         verdict.Action,
		Reason:          verdict.Reason,
		Context:         ctx,
		Trust:           verdict.Trust,
		MatchedPolicies: verdict.MatchedPolicies,
		Controls:        controls,
		ElapsedMicros:   elapsed.Microseconds(),
	}
}

func redactParams(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		if sensitiveParamKeys[strings.ToLower(k)] {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = v
	}
	return out
}

func unionControls(matched []domain.MatchedPolicy) []string {
	var controls []string
	for _, mp := range matched {
		controls = unionStrings(controls, mp.Controls)
	}
	return controls
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	out := append([]string(nil), a...)
	for _, s := range a {
		seen[s] = true
	}
	for _, s := range b {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// Flush writes every buffered record to its day's JSONL file and clears
// the buffer, rotating the open file handle as records cross a UTC day
// boundary.
func (s *Sink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.buf) == 0 {
		return nil
	}
	if err := os.MkdirAll(s.cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("audit: mkdir %s: %w", s.cfg.Dir, err)
	}

	for _, rec := range s.buf {
		day := time.UnixMilli(rec.Timestamp).UTC().Format("2006-01-02")
		if err := s.ensureOpenLocked(day); err != nil {
			return err
		}
		line, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("audit: marshal record %s: %w", rec.ID, err)
		}
		if _, err := s.writer.Write(line); err != nil {
			return fmt.Errorf("audit: write record %s: %w", rec.ID, err)
		}
		if err := s.writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("audit: write newline: %w", err)
		}
	}
	s.buf = s.buf[:0]

	if s.writer != nil {
		return s.writer.Flush()
	}
	return nil
}

func (s *Sink) ensureOpenLocked(day string) error {
	if s.openDay == day && s.file != nil {
		return nil
	}
	if s.writer != nil {
		_ = s.writer.Flush()
	}
	if s.file != nil {
		_ = s.file.Close()
	}

	path := filepath.Join(s.cfg.Dir, day+".jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("audit: open %s: %w", path, err)
	}
	s.file = f
	s.writer = bufio.NewWriter(f)
	s.openDay = day
	return nil
}

// Shutdown flushes any buffered records and closes the open file handle.
func (s *Sink) Shutdown() error {
	if err := s.Flush(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

// Cleanup removes day files older than cfg.RetentionDays. A
// RetentionDays <= 0 disables cleanup.
func (s *Sink) Cleanup() error {
	if s.cfg.RetentionDays <= 0 {
		return nil
	}
	entries, err := os.ReadDir(s.cfg.Dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("audit: read dir %s: %w", s.cfg.Dir, err)
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -s.cfg.RetentionDays)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		day := strings.TrimSuffix(entry.Name(), ".jsonl")
		t, err := time.Parse("2006-01-02", day)
		if err != nil {
			continue
		}
		if t.Before(cutoff) {
			_ = os.Remove(filepath.Join(s.cfg.Dir, entry.Name()))
		}
	}
	return nil
}

// Query is the set of filters accepted by QueryRecords; zero values are
// unconstrained.
type Query struct {
	AgentID string
	Hook    string
	Verdict domain.Effect
	Since   time.Time
	Until   time.Time
}

// QueryRecords lazily scans the persisted JSONL files (oldest day first)
// and returns records matching q. It does not consult the in-memory
// buffer; call Flush first to include unwritten records.
func (s *Sink) QueryRecords(q Query) ([]domain.AuditRecord, error) {
	entries, err := os.ReadDir(s.cfg.Dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("audit: read dir %s: %w", s.cfg.Dir, err)
	}

	var days []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".jsonl") {
			days = append(days, entry.Name())
		}
	}
	sort.Strings(days)

	var out []domain.AuditRecord
	for _, day := range days {
		recs, err := s.scanFile(filepath.Join(s.cfg.Dir, day), q)
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}
	return out, nil
}

func (s *Sink) scanFile(path string, q Query) ([]domain.AuditRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	defer f.Close()

	var out []domain.AuditRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var rec domain.AuditRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		if matchesQuery(rec, q) {
			out = append(out, rec)
		}
	}
	return out, scanner.Err()
}

func matchesQuery(rec domain.AuditRecord, q Query) bool {
	if q.AgentID != "" && rec.Context.AgentID != q.AgentID {
		return false
	}
	if q.Hook != "" && rec.Context.Hook != q.Hook {
		return false
	}
	if q.Verdict != "" && rec.Verdict != q.Verdict {
		return false
	}
	ts := time.UnixMilli(rec.Timestamp)
	if !q.Since.IsZero() && ts.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && ts.After(q.Until) {
		return false
	}
	return true
}
