package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexustrace/governor/internal/domain"
)

func TestNormalizeSchemaAMessageIn(t *testing.T) {
	raw := []byte(`{"id":"e1","ts":1000,"seq":1,"agent":"main","session":"s1","type":"msg.in","content":"check disk"}`)
	ev, ok := Normalize(raw)
	require.True(t, ok)
	assert.Equal(t, int64(1000), ev.TS)
	assert.Equal(t, domain.EventMsgIn, ev.Type)
	require.NotNil(t, ev.Payload.Message)
	assert.Equal(t, domain.RoleUser, ev.Payload.Message.Role)
	assert.Equal(t, "check disk", ev.Payload.Message.Content)
}

func TestNormalizeSchemaAToolResultCarriesErrorFields(t *testing.T) {
	raw := []byte(`{"id":"e2","ts":1001,"seq":2,"agent":"main","session":"s1","type":"tool.result","toolName":"exec","toolError":"connection refused","toolIsError":true}`)
	ev, ok := Normalize(raw)
	require.True(t, ok)
	require.NotNil(t, ev.Tool())
	assert.True(t, ev.Tool().ToolIsError)
	assert.Equal(t, "connection refused", ev.Tool().ToolError)
}

func TestNormalizeSchemaBNestedEnvelope(t *testing.T) {
	raw := []byte(`{"id":"e3","timestamp":2000,"seq":3,"agent":"main","session":"s1","payload":{"data":{"phase":"msg.out","role":"assistant","content":"Disk looks fine."}},"meta":{"source":"gateway"}}`)
	ev, ok := Normalize(raw)
	require.True(t, ok)
	assert.Equal(t, int64(2000), ev.TS)
	assert.Equal(t, domain.EventMsgOut, ev.Type)
	assert.Equal(t, "Disk looks fine.", ev.Content())
}

func TestNormalizeDropsMissingTimestamp(t *testing.T) {
	raw := []byte(`{"id":"e4","agent":"main","session":"s1","type":"msg.in","content":"hi"}`)
	_, ok := Normalize(raw)
	assert.False(t, ok)
}

func TestNormalizeDropsUnrecognizedType(t *testing.T) {
	raw := []byte(`{"id":"e5","ts":1000,"seq":1,"agent":"main","session":"s1","type":"totally.unknown"}`)
	_, ok := Normalize(raw)
	assert.False(t, ok)
}

func TestNormalizeDropsUnparseableJSON(t *testing.T) {
	_, ok := Normalize([]byte(`not json`))
	assert.False(t, ok)
}

func TestSubjectEventTypeReplacesDots(t *testing.T) {
	assert.Equal(t, "msg_in", subjectEventType(domain.EventMsgIn))
	assert.Equal(t, "session_compaction_start", subjectEventType(domain.EventSessionCompactStart))
}
