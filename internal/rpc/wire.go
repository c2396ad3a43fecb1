package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Sentinel is the literal frame terminating one request's event sequence.
const Sentinel = "[DONE]"

// EventType discriminates wire events.
type EventType string

const (
	EventConversation EventType = "conversation"
	EventMessage      EventType = "message"
	EventToolCall     EventType = "tool-call"
	EventClientTool   EventType = "client-tool-request"
	EventToolResult   EventType = "tool-result"
	EventToolError    EventType = "tool-error"
	EventState        EventType = "state"
	EventDelta        EventType = "delta"
	EventAnswer       EventType = "answer"
	EventError        EventType = "error"
	EventDone         EventType = "done"
)

// ContentBlock is one segment of a tool result payload.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Event is one normalized unit on the server-to-client stream. The wire shape
// depends on Type: delta/answer/error frames carry a single bare key, everything
// else is a typed object. EventDone corresponds to the sentinel frame and has
// no JSON form of its own.
type Event struct {
	Type           EventType
	ConversationID string
	Role           string
	Content        string
	ToolName       string
	Input          map[string]any
	Result         []ContentBlock
	State          string
	Delta          string
	Answer         string
	Err            string
}

// wireFrame is the superset of keys a typed frame may carry.
type wireFrame struct {
	Type           string          `json:"type,omitempty"`
	ConversationID string          `json:"conversationId,omitempty"`
	Role           string          `json:"role,omitempty"`
	Content        json.RawMessage `json:"content,omitempty"`
	ToolName       string          `json:"toolName,omitempty"`
	Input          map[string]any  `json:"input,omitempty"`
	Error          json.RawMessage `json:"error,omitempty"`
	Value          string          `json:"value,omitempty"`
	State          string          `json:"state,omitempty"`
	Delta          *string         `json:"delta,omitempty"`
	Text           *string         `json:"text,omitempty"`
	Answer         *string         `json:"answer,omitempty"`
}

// MarshalJSON renders the event in its wire shape.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventError:
		return json.Marshal(map[string]string{"error": e.Err})
	case EventDelta:
		return json.Marshal(map[string]string{"delta": e.Delta})
	case EventAnswer:
		return json.Marshal(map[string]string{"answer": e.Answer})
	case EventConversation:
		return json.Marshal(map[string]string{"type": "conversation", "conversationId": e.ConversationID})
	case EventMessage:
		return json.Marshal(map[string]string{"type": "message", "role": e.Role, "content": e.Content})
	case EventToolCall, EventClientTool:
		return json.Marshal(map[string]any{"type": string(e.Type), "toolName": e.ToolName, "input": e.Input})
	case EventToolResult:
		return json.Marshal(map[string]any{"type": "tool-result", "content": e.Result})
	case EventToolError:
		return json.Marshal(map[string]string{"type": "tool-error", "error": e.Err})
	case EventState:
		return json.Marshal(map[string]string{"type": "state", "value": e.State})
	case EventDone:
		return nil, fmt.Errorf("sentinel has no JSON form")
	default:
		return nil, fmt.Errorf("unknown event type %q", e.Type)
	}
}

// UnmarshalJSON decodes a frame by the fixed key precedence:
// error > delta > text > answer > type.
func (e *Event) UnmarshalJSON(data []byte) error {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return err
	}

	var f wireFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}

	if _, ok := keys["error"]; ok && f.Type == "" {
		*e = Event{Type: EventError, Err: decodeErrorMessage(f.Error)}
		return nil
	}
	if f.Delta != nil {
		*e = Event{Type: EventDelta, Delta: *f.Delta}
		return nil
	}
	if f.Text != nil && f.Type == "" {
		*e = Event{Type: EventDelta, Delta: *f.Text}
		return nil
	}
	if f.Answer != nil {
		*e = Event{Type: EventAnswer, Answer: *f.Answer}
		return nil
	}

	switch EventType(f.Type) {
	case EventConversation:
		*e = Event{Type: EventConversation, ConversationID: f.ConversationID}
	case EventMessage:
		var content string
		if len(f.Content) > 0 {
			if err := json.Unmarshal(f.Content, &content); err != nil {
				return fmt.Errorf("message content: %w", err)
			}
		}
		*e = Event{Type: EventMessage, Role: f.Role, Content: content}
	case EventToolCall:
		*e = Event{Type: EventToolCall, ToolName: f.ToolName, Input: f.Input}
	case EventClientTool:
		*e = Event{Type: EventClientTool, ToolName: f.ToolName, Input: f.Input}
	case EventToolResult:
		var blocks []ContentBlock
		if len(f.Content) > 0 {
			if err := json.Unmarshal(f.Content, &blocks); err != nil {
				return fmt.Errorf("tool result content: %w", err)
			}
		}
		*e = Event{Type: EventToolResult, Result: blocks}
	case EventToolError:
		*e = Event{Type: EventToolError, Err: decodeErrorMessage(f.Error)}
	case EventState:
		value := f.Value
		if value == "" {
			value = f.State
		}
		*e = Event{Type: EventState, State: value}
	default:
		return fmt.Errorf("unrecognized frame type %q", f.Type)
	}
	return nil
}

// decodeErrorMessage accepts either a plain string or a nested {error:{message}}
// (or {message}) object.
func decodeErrorMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var nested struct {
		Message string `json:"message"`
		Error   struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &nested); err == nil {
		if nested.Message != "" {
			return nested.Message
		}
		if nested.Error.Message != "" {
			return nested.Error.Message
		}
	}
	return string(raw)
}

// EncodeFrame renders one event as a single NDJSON line without the trailing
// newline. The sentinel is emitted as the literal frame, not JSON.
func EncodeFrame(e Event) ([]byte, error) {
	if e.Type == EventDone {
		return []byte(Sentinel), nil
	}
	return json.Marshal(e)
}

// DecodeFrame parses one NDJSON line into an event, recognizing the sentinel.
func DecodeFrame(line []byte) (Event, error) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return Event{}, fmt.Errorf("empty frame")
	}
	if string(trimmed) == Sentinel {
		return Event{Type: EventDone}, nil
	}

	var e Event
	if err := json.Unmarshal(trimmed, &e); err != nil {
		return Event{}, err
	}
	return e, nil
}
