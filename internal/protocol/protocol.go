package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/bytedance/sonic"
)

var (
	ErrInvalidMessage = errors.New("invalid message")
	ErrEmptyPayload   = errors.New("empty payload")
)

// Type is the first element of every wire message
type Type int

const (
	TypeNoop Type = iota
	TypeClose
	TypeError
	TypeUser
)

// String returns the string representation of the type
func (t Type) String() string {
	switch t {
	case TypeNoop:
		return "noop"
	case TypeClose:
		return "close"
	case TypeError:
		return "error"
	case TypeUser:
		return "user"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// Known reports whether the type is one of the four recognized tags
func (t Type) Known() bool {
	return t >= TypeNoop && t <= TypeUser
}

// ErrorRecord describes an uncaught script failure reported to the parent
type ErrorRecord struct {
	Message  string `json:"message"`
	Filename string `json:"filename"`
	Line     int    `json:"line"`
}

// Message is a decoded wire message.
// Payload holds the raw JSON of the second element; Handle is set only when
// the transport delivered a descriptor alongside the frame.
type Message struct {
	Type    Type
	Payload json.RawMessage
	Handle  *os.File
}

// Decode validates and decodes a raw frame.
// A frame is valid when it is a JSON array with at least two elements whose
// first element is an integer. Unknown integer tags are left to the caller.
func Decode(data []byte) (Message, error) {
	var parts []json.RawMessage
	if err := sonic.Unmarshal(data, &parts); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if len(parts) < 2 {
		return Message{}, fmt.Errorf("%w: expected at least 2 elements, got %d", ErrInvalidMessage, len(parts))
	}

	raw := bytes.TrimSpace(parts[0])
	if bytes.Equal(raw, []byte("null")) {
		return Message{}, fmt.Errorf("%w: tag is null", ErrInvalidMessage)
	}

	var tag int
	if err := sonic.Unmarshal(raw, &tag); err != nil {
		return Message{}, fmt.Errorf("%w: tag is not an integer", ErrInvalidMessage)
	}

	return Message{Type: Type(tag), Payload: parts[1]}, nil
}

// Encode serializes a message as [type, payload].
// A nil payload is encoded as null so that NOOP and CLOSE keep the two element shape.
func Encode(msg Message) ([]byte, error) {
	payload := msg.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return sonic.Marshal([]interface{}{int(msg.Type), payload})
}

// EncodeUser wraps an already serialized script value as a USER message
func EncodeUser(payload []byte) ([]byte, error) {
	return Encode(Message{Type: TypeUser, Payload: payload})
}

// EncodeError wraps a failure record as an ERROR message
func EncodeError(rec ErrorRecord) ([]byte, error) {
	body, err := sonic.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode error record: %w", err)
	}
	return Encode(Message{Type: TypeError, Payload: body})
}

// DecodeError extracts the failure record carried by an ERROR message
func DecodeError(msg Message) (ErrorRecord, error) {
	var rec ErrorRecord
	if msg.Type != TypeError {
		return rec, fmt.Errorf("%w: not an error message (%s)", ErrInvalidMessage, msg.Type)
	}
	if len(msg.Payload) == 0 {
		return rec, ErrEmptyPayload
	}
	if err := sonic.Unmarshal(msg.Payload, &rec); err != nil {
		return rec, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return rec, nil
}
