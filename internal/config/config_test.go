package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigSatisfiesDocumentedBoundaries(t *testing.T) {
	cfg := Default()
	assert.Equal(t, FailClosed, cfg.FailMode)
	assert.Equal(t, 5000, cfg.Performance.MaxEvalUs)
	assert.Equal(t, 3600, cfg.Redaction.VaultExpirySeconds)
	assert.Equal(t, 30, cfg.TraceAnalyzer.GapMinutes)
}

func TestLoadMergesOverDefaultsAndIgnoresUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := []byte(`
enabled: true
failMode: open
unknown_top_level_key: "should be ignored"
trust:
  enabled: true
  persistIntervalSeconds: 60
redaction:
  vaultExpirySeconds: 120
`)
	require.NoError(t, os.WriteFile(path, contents, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, FailOpen, cfg.FailMode)
	assert.Equal(t, 60, cfg.Trust.PersistIntervalSeconds)
	assert.Equal(t, 120, cfg.Redaction.VaultExpirySeconds)
	// Untouched defaults survive the merge.
	assert.Equal(t, 5000, cfg.Performance.MaxEvalUs)
}

func TestLoadNormalizesInvalidValuesToDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := []byte(`
failMode: "sideways"
performance:
  maxEvalUs: -1
`)
	require.NoError(t, os.WriteFile(path, contents, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, FailClosed, cfg.FailMode)
	assert.Equal(t, 5000, cfg.Performance.MaxEvalUs)
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
