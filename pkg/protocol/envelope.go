// Package protocol defines the JSON envelopes exchanged with the chat backend over the
// streaming websocket, and the codec that turns them into typed Go values.
//
// Outbound traffic has a single shape (chat.send). Inbound traffic is a closed set of
// envelope kinds; Decode returns one of *StreamEnvelope, *DoneEnvelope, *TitleEnvelope or
// *ErrorEnvelope behind the Inbound interface.
package protocol

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	TypeSend   = "chat.send"
	TypeStream = "chat.stream"
	TypeDone   = "chat.done"
	TypeTitle  = "chat.title"
	TypeError  = "error"
)

// RoleUser is the only role a client ever sends.
const RoleUser = "USER"

// ErrUnknownType is wrapped by DecodeError when the envelope tag is not one we understand.
var ErrUnknownType = errors.New("unknown envelope type")

// DecodeError reports inbound text that could not be turned into an Inbound envelope.
type DecodeError struct {
	Type   string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	msg := "protocol: decode: " + e.Reason
	if e.Type != "" {
		msg += " (type=" + strconv.Quote(e.Type) + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ID is an identifier that the backend may serialize either as a JSON string or a JSON number.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return errors.Wrap(err, "id must be a string or a number")
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// Millis is an epoch-milliseconds timestamp. Integral and fractional numbers are accepted,
// as are numeric strings.
type Millis int64

func (m *Millis) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*m = 0
		return nil
	}
	raw := string(b)
	if b[0] == '"' {
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
		if raw == "" {
			*m = 0
			return nil
		}
	}
	if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*m = Millis(v)
		return nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return errors.Errorf("invalid timestamp %q", raw)
	}
	*m = Millis(int64(f))
	return nil
}

// SendEnvelope is the single outbound envelope kind.
type SendEnvelope struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	Role           string `json:"role"`
	Content        string `json:"content"`
	Ts             int64  `json:"ts"`
}

// NewSendEnvelope fills in the fixed tag and role.
func NewSendEnvelope(conversationID, messageID, content string, ts int64) SendEnvelope {
	return SendEnvelope{
		Type:           TypeSend,
		ConversationID: conversationID,
		MessageID:      messageID,
		Role:           RoleUser,
		Content:        content,
		Ts:             ts,
	}
}

// Encode serializes an outbound envelope. Missing tag and role are filled in.
func Encode(env SendEnvelope) ([]byte, error) {
	if env.Type == "" {
		env.Type = TypeSend
	}
	if env.Type != TypeSend {
		return nil, errors.Errorf("protocol: encode: unsupported outbound type %q", env.Type)
	}
	if env.Role == "" {
		env.Role = RoleUser
	}
	b, err := json.Marshal(env)
	if err != nil {
		return nil, errors.Wrap(err, "protocol: encode")
	}
	return b, nil
}

// Inbound is implemented by every envelope kind the server can send.
type Inbound interface {
	EnvelopeType() string
	isInbound()
}

// StreamEnvelope carries one fragment of a growing assistant reply.
type StreamEnvelope struct {
	MessageID ID     `json:"messageId"`
	Content   string `json:"content"`
	Ts        Millis `json:"ts"`
}

// DoneEnvelope finalizes the assistant reply with the given id.
type DoneEnvelope struct {
	MessageID ID     `json:"messageId"`
	Ts        Millis `json:"ts"`
}

// TitleEnvelope carries a suggested conversation title.
type TitleEnvelope struct {
	ConversationID ID     `json:"conversationId"`
	Content        string `json:"content"`
}

type ErrorCode struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorEnvelope reports a server-side failure, optionally tied to a message.
type ErrorEnvelope struct {
	MessageID ID         `json:"messageId,omitempty"`
	Code      *ErrorCode `json:"code,omitempty"`
	Ts        Millis     `json:"ts"`
}

func (*StreamEnvelope) EnvelopeType() string { return TypeStream }
func (*DoneEnvelope) EnvelopeType() string   { return TypeDone }
func (*TitleEnvelope) EnvelopeType() string  { return TypeTitle }
func (*ErrorEnvelope) EnvelopeType() string  { return TypeError }

func (*StreamEnvelope) isInbound() {}
func (*DoneEnvelope) isInbound()   {}
func (*TitleEnvelope) isInbound()  {}
func (*ErrorEnvelope) isInbound()  {}

// Decode parses one inbound text frame.
func Decode(data []byte) (Inbound, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, &DecodeError{Reason: "invalid json object", Err: err}
	}
	if probe == nil {
		return nil, &DecodeError{Reason: "not an object"}
	}
	rawType, ok := probe["type"]
	if !ok {
		return nil, &DecodeError{Reason: "missing type"}
	}
	var typ string
	if err := json.Unmarshal(rawType, &typ); err != nil {
		return nil, &DecodeError{Reason: "type is not a string", Err: err}
	}
	typ = strings.TrimSpace(typ)

	var env Inbound
	switch typ {
	case TypeStream:
		env = &StreamEnvelope{}
	case TypeDone:
		env = &DoneEnvelope{}
	case TypeTitle:
		env = &TitleEnvelope{}
	case TypeError:
		env = &ErrorEnvelope{}
	case "":
		return nil, &DecodeError{Reason: "missing type"}
	default:
		return nil, &DecodeError{Type: typ, Reason: "unrecognized envelope", Err: ErrUnknownType}
	}
	if err := json.Unmarshal(data, env); err != nil {
		return nil, &DecodeError{Type: typ, Reason: "invalid fields", Err: err}
	}
	return env, nil
}
