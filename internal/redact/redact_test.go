package redact

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexustrace/governor/internal/domain"
	"github.com/nexustrace/governor/internal/patterns"
)

func newTestEngine() *Engine {
	return NewEngine(patterns.NewRedactionRegistry(), NewVault(time.Hour))
}

func TestVaultStoreAndResolveRoundTrip(t *testing.T) {
	v := NewVault(time.Hour)
	hash := v.Store("sk-ant-abc123", domain.CategoryCredential)
	original, category, err := v.Resolve(hash)
	require.NoError(t, err)
	assert.Equal(t, "sk-ant-abc123", original)
	assert.Equal(t, domain.CategoryCredential, category)
}

func TestVaultResolveUnknownHashFails(t *testing.T) {
	v := NewVault(time.Hour)
	_, _, err := v.Resolve("deadbeef")
	assert.ErrorIs(t, err, ErrUnresolvable)
}

func TestVaultExpiredEntryUnresolvable(t *testing.T) {
	v := NewVault(time.Millisecond)
	hash := v.Store("secret-value", domain.CategoryCredential)
	time.Sleep(5 * time.Millisecond)
	_, _, err := v.Resolve(hash)
	assert.ErrorIs(t, err, ErrUnresolvable)
}

func TestRedactTextReplacesCredentialWithPlaceholder(t *testing.T) {
	e := newTestEngine()
	out, count := e.RedactText("API_KEY=password=sk-proj-abc123def456ghi789jkl012")
	assert.Equal(t, 1, count)
	assert.Contains(t, out, "[REDACTED:credential:")
	assert.NotContains(t, out, "sk-proj-abc123def456ghi789jkl012")
}

func TestResolveAllRoundTripsThroughPlaceholder(t *testing.T) {
	e := newTestEngine()
	redacted, _ := e.RedactText("token=abcdefghijklmnop1234567890")
	resolved, unresolved := e.ResolveAll(redacted)
	assert.Empty(t, unresolved)
	assert.Contains(t, resolved, "abcdefghijklmnop1234567890")
}

func TestResolveToolCallParamsBlocksOnUnresolvablePlaceholder(t *testing.T) {
	e := newTestEngine()
	_, err := e.ResolveToolCallParams([]byte(`{"command":"echo [REDACTED:credential:deadbeef]"}`))
	require.Error(t, err)
	var blockErr *ToolCallBlock
	assert.ErrorAs(t, err, &blockErr)
}

func TestScanOutboundAlwaysRedactsCredentialsRegardlessOfAllowlist(t *testing.T) {
	e := newTestEngine()
	allowlist := AllowlistConfig{PIIAllowedChannels: []string{"internal"}, FinancialAllowedChannels: []string{"internal"}}
	out := e.ScanOutbound("key sk-ant-"+strings.Repeat("x", 24), OutboundScope{Channel: "internal"}, allowlist)
	assert.Contains(t, out, "[REDACTED:credential:")
}

func TestScanOutboundAllowsPIIOnAllowlistedChannel(t *testing.T) {
	e := newTestEngine()
	allowlist := AllowlistConfig{PIIAllowedChannels: []string{"internal"}}
	out := e.ScanOutbound("contact person@example.com", OutboundScope{Channel: "internal"}, allowlist)
	assert.Contains(t, out, "person@example.com")
}

func TestScanOutboundRedactsPIIOnNonAllowlistedChannel(t *testing.T) {
	e := newTestEngine()
	out := e.ScanOutbound("contact person@example.com", OutboundScope{Channel: "twitter"}, AllowlistConfig{})
	assert.Contains(t, out, "[REDACTED:pii:")
}

func TestRedactJSONScansNestedStructures(t *testing.T) {
	e := newTestEngine()
	key := "sk-ant-" + strings.Repeat("x", 24)
	raw := []byte(`{"note":"reach me at person@example.com","nested":{"key":"` + key + `"}}`)
	out, err := e.RedactJSON(raw)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "person@example.com")
	assert.NotContains(t, string(out), key)
}
