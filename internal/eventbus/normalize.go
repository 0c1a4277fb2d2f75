package eventbus

import (
	"encoding/json"
	"strings"

	"github.com/nexustrace/governor/internal/domain"
)

// schemaAEnvelope is the flat, top-level wire shape.
type schemaAEnvelope struct {
	ID      string          `json:"id"`
	TS      *int64          `json:"ts"`
	Seq     int64           `json:"seq"`
	Agent   string          `json:"agent"`
	Session string          `json:"session"`
	Type    string          `json:"type"`
	Role    string          `json:"role"`
	Content string          `json:"content"`

	ToolName    string          `json:"toolName"`
	ToolCallID  string          `json:"toolCallId"`
	Params      json.RawMessage `json:"params"`
	ToolResult  json.RawMessage `json:"toolResult"`
	ToolError   string          `json:"toolError"`
	ToolIsError bool            `json:"toolIsError"`
}

// schemaBEnvelope is the nested, legacy wire shape.
type schemaBEnvelope struct {
	Timestamp *int64 `json:"timestamp"`
	Agent     string `json:"agent"`
	Session   string `json:"session"`
	ID        string `json:"id"`
	Seq       int64  `json:"seq"`
	Payload   struct {
		Data struct {
			Phase       string          `json:"phase"`
			Name        string          `json:"name"`
			Role        string          `json:"role"`
			Content     string          `json:"content"`
			ToolCallID  string          `json:"toolCallId"`
			Params      json.RawMessage `json:"params"`
			ToolResult  json.RawMessage `json:"toolResult"`
			ToolError   string          `json:"toolError"`
			ToolIsError bool            `json:"toolIsError"`
		} `json:"data"`
	} `json:"payload"`
	Meta struct {
		Source string `json:"source"`
	} `json:"meta"`
}

// Normalize parses raw wire bytes, accepting either Schema A (flat, top
// level `ts`) or Schema B (nested `{timestamp, payload.data{...}}`), and
// returns a canonical domain.Event. It returns ok=false for unparseable
// JSON, a missing timestamp, or an unrecognized event type, matching the
// "dropped silently" contract in spec.md §4.1.
func Normalize(raw []byte) (domain.Event, bool) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return domain.Event{}, false
	}

	if _, isSchemaB := probe["timestamp"]; isSchemaB {
		return normalizeSchemaB(raw)
	}
	return normalizeSchemaA(raw)
}

func normalizeSchemaA(raw []byte) (domain.Event, bool) {
	var env schemaAEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return domain.Event{}, false
	}
	if env.TS == nil {
		return domain.Event{}, false
	}

	evType := domain.EventType(env.Type)
	if !evType.IsKnown() {
		return domain.Event{}, false
	}

	ev := domain.Event{
		ID:      env.ID,
		TS:      *env.TS,
		Seq:     env.Seq,
		Agent:   env.Agent,
		Session: env.Session,
		Type:    evType,
	}
	attachPayload(&ev, env.Role, env.Content, env.ToolName, env.ToolCallID, env.Params, env.ToolResult, env.ToolError, env.ToolIsError)
	return ev, true
}

func normalizeSchemaB(raw []byte) (domain.Event, bool) {
	var env schemaBEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return domain.Event{}, false
	}
	if env.Timestamp == nil {
		return domain.Event{}, false
	}

	evType := domain.EventType(env.Payload.Data.Phase)
	if !evType.IsKnown() {
		return domain.Event{}, false
	}

	ev := domain.Event{
		ID:      env.ID,
		TS:      *env.Timestamp,
		Seq:     env.Seq,
		Agent:   env.Agent,
		Session: env.Session,
		Type:    evType,
	}
	d := env.Payload.Data
	attachPayload(&ev, d.Role, d.Content, d.Name, d.ToolCallID, d.Params, d.ToolResult, d.ToolError, d.ToolIsError)
	return ev, true
}

// attachPayload populates the message or tool payload and infers role for
// msg.in/msg.out when not explicitly provided.
func attachPayload(ev *domain.Event, role, content, toolName, toolCallID string, params, toolResult json.RawMessage, toolError string, toolIsError bool) {
	switch ev.Type {
	case domain.EventMsgIn, domain.EventMsgOut, domain.EventMsgSending:
		r := domain.Role(role)
		if r == "" {
			r = inferRole(ev.Type)
		}
		ev.Payload.Message = &domain.MessagePayload{Role: r, Content: content}
	case domain.EventToolCall, domain.EventToolResult:
		ev.Payload.Tool = &domain.ToolPayload{
			ToolName:    toolName,
			ToolCallID:  toolCallID,
			Params:      params,
			ToolResult:  toolResult,
			ToolError:   toolError,
			ToolIsError: toolIsError,
		}
	}
}

func inferRole(t domain.EventType) domain.Role {
	if t == domain.EventMsgIn {
		return domain.RoleUser
	}
	return domain.RoleAssistant
}

// subjectEventType converts a canonical event type into the
// underscore-separated form used in bus subjects, e.g. "msg.in" -> "msg_in".
func subjectEventType(t domain.EventType) string {
	return strings.ReplaceAll(string(t), ".", "_")
}
