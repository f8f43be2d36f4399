package bridge

import (
	"fmt"
	"time"
)

// Type classifies a message on the wire.
type Type string

const (
	TypeFunctionCall Type = "function_call"
	TypeEvent        Type = "event"
	TypeData         Type = "data"
	TypeControl      Type = "control"
	TypeHeartbeat    Type = "heartbeat"
	TypeResponse     Type = "response"
	TypeError        Type = "error"
)

var knownTypes = map[Type]struct{}{
	TypeFunctionCall: {},
	TypeEvent:        {},
	TypeData:         {},
	TypeControl:      {},
	TypeHeartbeat:    {},
	TypeResponse:     {},
	TypeError:        {},
}

// Message is the self-describing unit exchanged across the boundary. There
// is no ordering guarantee between distinct message IDs; responses are
// matched to requests purely by ID plus the Response flag.
type Message struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	Source    string         `json:"source"`
	Target    string         `json:"target"`
	Payload   map[string]any `json:"payload"`
	Timestamp int64          `json:"timestamp"` // unix milliseconds
	Response  bool           `json:"response,omitempty"`
}

// NewMessage builds a message of the given type with a fresh timestamp.
// The caller assigns the ID (the bridge stamps one on send).
func NewMessage(typ Type, source, target string, payload map[string]any) *Message {
	if payload == nil {
		payload = map[string]any{}
	}
	return &Message{
		Type:      typ,
		Source:    source,
		Target:    target,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Validate checks that a message is structurally complete: id, type,
// source, target, and payload all present, and the type known.
func Validate(msg *Message) error {
	if msg == nil {
		return fmt.Errorf("message is nil")
	}
	if msg.ID == "" {
		return fmt.Errorf("message id is required")
	}
	if msg.Type == "" {
		return fmt.Errorf("message type is required")
	}
	if _, ok := knownTypes[msg.Type]; !ok {
		return fmt.Errorf("unknown message type %q", msg.Type)
	}
	if msg.Source == "" {
		return fmt.Errorf("message source is required")
	}
	if msg.Target == "" {
		return fmt.Errorf("message target is required")
	}
	if msg.Payload == nil {
		return fmt.Errorf("message payload is required")
	}
	return nil
}

// ResponseTo builds a response message correlated to the given request.
func ResponseTo(req *Message, payload map[string]any) *Message {
	resp := NewMessage(TypeResponse, req.Target, req.Source, payload)
	resp.ID = req.ID
	resp.Response = true
	return resp
}

// ErrorTo builds an error response correlated to the given request.
func ErrorTo(req *Message, reason string) *Message {
	resp := NewMessage(TypeError, req.Target, req.Source, map[string]any{"error": reason})
	resp.ID = req.ID
	resp.Response = true
	return resp
}
