// Package ecast implements the wire codec for the Jackbox ecast room
// protocol: JSON envelopes carried over a websocket, with a small set of
// recognized server operations and client request forms.
//
// The decoder is deliberately lenient. Unknown opcodes and malformed
// payloads decode to nothing so a single bad frame never takes down a
// receive loop.
package ecast

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
)

// Server opcodes recognized by the decoder.
const (
	OpcodeClientWelcome = "client/welcome"
	OpcodeText          = "text"
	OpcodeObject        = "object"
)

// Client opcodes used for outbound envelopes.
const (
	OpcodeClientSend   = "client/send"
	OpcodeTextUpdate   = "text/update"
	OpcodeObjectUpdate = "object/update"
)

// Subprotocol is the websocket subprotocol the ecast servers expect.
const Subprotocol = "ecast-v0"

var (
	// ErrUnknownOpcode indicates a frame whose opcode the decoder does not track.
	ErrUnknownOpcode = errors.New("unknown opcode")
	// ErrMalformedFrame indicates a frame whose payload could not be decoded.
	ErrMalformedFrame = errors.New("malformed frame")
)

// Kind tags the two operation payload styles the server pushes.
type Kind int

const (
	// KindText carries the entity payload as a serialized string.
	KindText Kind = iota
	// KindObject carries the entity payload as a raw JSON object.
	KindObject
)

// Operation is a single entity update pushed by the server. Key is an opaque
// string the server assigns; Value holds the full serialized snapshot of the
// addressed entity.
type Operation struct {
	Kind  Kind
	Key   string
	Value []byte
}

// Welcome is the handshake acknowledgment assigning the server-side player id.
type Welcome struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// ServerMessage is the inbound envelope. Result is kept raw until the opcode
// selects a concrete payload shape.
type ServerMessage struct {
	Opcode string          `json:"opcode"`
	Result json.RawMessage `json:"result"`
}

// ClientMessage is the outbound envelope. Seq must increase monotonically per
// connection.
type ClientMessage struct {
	Seq    int    `json:"seq"`
	Opcode string `json:"opcode"`
	Params any    `json:"params"`
}

// ClientSend routes a request body from a player to the room host.
type ClientSend struct {
	From int `json:"from"`
	To   int `json:"to"`
	Body any `json:"body"`
}

// ClientUpdate pushes a key/value entity update from the client.
type ClientUpdate struct {
	Key   string `json:"key"`
	Value any    `json:"val"`
}

type textOperation struct {
	Key   string `json:"key"`
	Value string `json:"val"`
}

type objectOperation struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"val"`
}

// DecodeMessage parses a raw inbound frame into its envelope.
func DecodeMessage(frame []byte) (ServerMessage, error) {
	var msg ServerMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		return ServerMessage{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return msg, nil
}

// DecodeWelcome parses a client/welcome result payload.
func DecodeWelcome(msg ServerMessage) (Welcome, error) {
	if msg.Opcode != OpcodeClientWelcome {
		return Welcome{}, ErrUnknownOpcode
	}
	var w Welcome
	if err := json.Unmarshal(msg.Result, &w); err != nil {
		return Welcome{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return w, nil
}

// DecodeOperation parses a text or object operation out of an envelope.
// Envelopes with any other opcode return ErrUnknownOpcode and are meant to be
// dropped by the caller.
func DecodeOperation(msg ServerMessage) (Operation, error) {
	switch msg.Opcode {
	case OpcodeText:
		var op textOperation
		if err := json.Unmarshal(msg.Result, &op); err != nil {
			return Operation{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return Operation{Kind: KindText, Key: op.Key, Value: []byte(op.Value)}, nil
	case OpcodeObject:
		var op objectOperation
		if err := json.Unmarshal(msg.Result, &op); err != nil {
			return Operation{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return Operation{Kind: KindObject, Key: op.Key, Value: op.Value}, nil
	default:
		return Operation{}, ErrUnknownOpcode
	}
}

// FlexKind tags which JSON shape a Flex field arrived as.
type FlexKind int

const (
	// FlexNone marks an absent or null field.
	FlexNone FlexKind = iota
	// FlexText marks a string field.
	FlexText
	// FlexBool marks a boolean field.
	FlexBool
)

// Flex decodes entity fields that some titles send as a string and others as
// a bool (the player "error" field is the usual offender). The original shape
// is preserved so callers can distinguish "no error" from `false` or "".
type Flex struct {
	Kind FlexKind
	Text string
	Bool bool
}

// MarshalJSON implements json.Marshaler, emitting the original wire shape:
// null for FlexNone, the bare string for FlexText, the bare bool for FlexBool.
func (f Flex) MarshalJSON() ([]byte, error) {
	switch f.Kind {
	case FlexText:
		return json.Marshal(f.Text)
	case FlexBool:
		return json.Marshal(f.Bool)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *Flex) UnmarshalJSON(data []byte) error {
	*f = Flex{}
	if string(data) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = Flex{Kind: FlexText, Text: s}
		return nil
	}
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = Flex{Kind: FlexBool, Bool: b}
		return nil
	}
	return fmt.Errorf("%w: flex field %s", ErrMalformedFrame, data)
}

// Truthy reports whether the field carries a meaningful value: a non-empty
// string or a true bool.
func (f Flex) Truthy() bool {
	switch f.Kind {
	case FlexText:
		return f.Text != ""
	case FlexBool:
		return f.Bool
	default:
		return false
	}
}

// String returns the text form, or "" for non-text values.
func (f Flex) String() string {
	if f.Kind == FlexText {
		return f.Text
	}
	return ""
}

// Bootstrap carries the identity fields sent in the join handshake.
type Bootstrap struct {
	Role     string
	Name     string
	UserID   string
	Format   string
	Password string
}

// QueryString encodes the bootstrap payload as the join URL query.
func (b Bootstrap) QueryString() string {
	q := url.Values{}
	q.Set("role", b.Role)
	q.Set("name", b.Name)
	q.Set("user-id", b.UserID)
	q.Set("format", b.Format)
	q.Set("password", b.Password)
	return q.Encode()
}

// JoinURL builds the websocket URL for joining a room.
func JoinURL(host, roomCode string, b Bootstrap) string {
	return fmt.Sprintf("wss://%s/api/v2/rooms/%s/play?%s", host, roomCode, b.QueryString())
}
