package messenger

import (
	"encoding/json"
	"fmt"

	"github.com/vk/snippetrunner/internal/compiler"
	"github.com/vk/snippetrunner/internal/fault"
	"github.com/vk/snippetrunner/internal/model"
)

// ProtocolVersion is stamped on every envelope. Envelopes of another version
// are rejected.
const ProtocolVersion = 1

// Type tags a message payload.
type Type string

const (
	TypeHeartbeatInitialized Type = "HEARTBEAT_INITIALIZED"
	TypeSnippetLoad          Type = "SNIPPET_LOAD"
	TypeSnippetStale         Type = "SNIPPET_STALE"
	TypeRefreshRequest       Type = "REFRESH_REQUEST"
	TypeError                Type = "ERROR"
	TypeLog                  Type = "LOG"
)

// Payload is implemented by the message payloads of this package only.
type Payload interface {
	MessageType() Type
	payload()
}

// HeartbeatInitialized announces that a heartbeat session has started.
type HeartbeatInitialized struct{}

// SnippetLoad asks the runner to render a snippet it has never shown.
type SnippetLoad struct {
	Snippet model.Summary     `json:"snippet"`
	Context *compiler.Context `json:"context"`
}

// SnippetStale tells the runner that the snippet it shows has been changed
// and that the user should be asked before reloading.
type SnippetStale struct {
	Snippet model.Summary     `json:"snippet"`
	Context *compiler.Context `json:"context"`
}

// RefreshRequest asks the heartbeat to jump to a snippet and resend it.
type RefreshRequest struct {
	ID string `json:"id"`
}

// ErrorMessage carries a user-facing failure.
type ErrorMessage struct {
	Message string `json:"message"`
}

// Severity of a LogMessage.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// LogMessage is a best-effort diagnostic.
type LogMessage struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

func (HeartbeatInitialized) MessageType() Type { return TypeHeartbeatInitialized }
func (SnippetLoad) MessageType() Type          { return TypeSnippetLoad }
func (SnippetStale) MessageType() Type         { return TypeSnippetStale }
func (RefreshRequest) MessageType() Type       { return TypeRefreshRequest }
func (ErrorMessage) MessageType() Type         { return TypeError }
func (LogMessage) MessageType() Type           { return TypeLog }

func (HeartbeatInitialized) payload() {}
func (SnippetLoad) payload()          {}
func (SnippetStale) payload()         {}
func (RefreshRequest) payload()       {}
func (ErrorMessage) payload()         {}
func (LogMessage) payload()           {}

// Message is a decoded envelope.
type Message struct {
	Type    Type
	Payload Payload
}

type wireEnvelope struct {
	Version int             `json:"version"`
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Encode wraps p in a versioned envelope.
func Encode(p Payload) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("messenger: nil payload")
	}
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("messenger: encode %s payload: %w", p.MessageType(), err)
	}
	return json.Marshal(wireEnvelope{Version: ProtocolVersion, Type: p.MessageType(), Payload: body})
}

// Decode parses an envelope. Unknown types, foreign versions and payloads
// that do not match their tag are Malformed.
func Decode(data []byte) (Message, error) {
	var env wireEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, fault.Wrap(fault.Malformed, err, "the message is not a valid envelope")
	}
	if env.Version != ProtocolVersion {
		return Message{}, fault.Newf(fault.Malformed, "unsupported protocol version %d", env.Version)
	}

	var p Payload
	switch env.Type {
	case TypeHeartbeatInitialized:
		p = decodeAs[HeartbeatInitialized](env.Payload)
	case TypeSnippetLoad:
		p = decodeAs[SnippetLoad](env.Payload)
	case TypeSnippetStale:
		p = decodeAs[SnippetStale](env.Payload)
	case TypeRefreshRequest:
		p = decodeAs[RefreshRequest](env.Payload)
	case TypeError:
		p = decodeAs[ErrorMessage](env.Payload)
	case TypeLog:
		p = decodeAs[LogMessage](env.Payload)
	default:
		return Message{}, fault.Newf(fault.Malformed, "unknown message type %q", env.Type)
	}
	if p == nil {
		return Message{}, fault.Newf(fault.Malformed, "the %s payload is malformed", env.Type)
	}
	return Message{Type: env.Type, Payload: p}, nil
}

// decodeAs returns nil when raw does not decode into T. An absent payload is
// the zero T.
func decodeAs[T Payload](raw json.RawMessage) Payload {
	var v T
	if len(raw) == 0 || string(raw) == "null" {
		return v
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}
