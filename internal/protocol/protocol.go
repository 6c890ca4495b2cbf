// Package protocol defines the JSON envelopes exchanged between the chat
// server and its clients over a WebSocket connection.
//
// The wire format predates this implementation: envelope field names are
// camelCase, message types are lowercase strings, and structured payloads
// (chat messages, typing statuses) travel JSON-encoded inside the envelope's
// data field. Both sides of the protocol must keep producing exactly this
// shape so existing clients keep working.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// MsgType identifies what an Envelope carries.
type MsgType string

const (
	// TypeUsers announces the full roster. Server to client only.
	TypeUsers MsgType = "users"
	// TypeRegister claims a username. Client to server only, and must be
	// the first frame on a connection.
	TypeRegister MsgType = "register"
	// TypeMessage carries chat text: raw composer text from a client,
	// a JSON ChatMessage from the server.
	TypeMessage MsgType = "message"
	// TypeTyping carries a JSON TypingStatus in both directions.
	TypeTyping MsgType = "typing"
)

// MaxUsernameRunes bounds a registered name.
const MaxUsernameRunes = 24

var (
	ErrUnknownType     = errors.New("protocol: unknown message type")
	ErrWrongType       = errors.New("protocol: envelope carries a different payload")
	ErrUsernameEmpty   = errors.New("protocol: username is empty")
	ErrUsernameTooLong = fmt.Errorf("protocol: username exceeds %d characters", MaxUsernameRunes)
	ErrUsernameInvalid = errors.New("protocol: username contains control characters")
)

// Envelope is the wire frame. Exactly one of DataArray and Data is set,
// depending on MessageType; decoders accept either field absent or null.
type Envelope struct {
	MessageType MsgType  `json:"messageType"`
	DataArray   []string `json:"dataArray,omitempty"`
	Data        string   `json:"data,omitempty"`
}

// ChatMessage is the payload of a server-sent message envelope.
// Timestamp is RFC 3339 in the server's clock; clients format it locally.
type ChatMessage struct {
	From      string `json:"from"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp,omitempty"`
}

// TypingStatus is the payload of a typing envelope. The server overwrites
// Username with the sender's registered name before relaying.
//
// Unlike the envelope, this payload uses snake_case on the wire: the field
// is is_typing, not isTyping.
type TypingStatus struct {
	Username string `json:"username"`
	IsTyping bool   `json:"is_typing"`
}

// EncodeRegister frames a username claim.
func EncodeRegister(username string) ([]byte, error) {
	return json.Marshal(Envelope{MessageType: TypeRegister, Data: username})
}

// EncodeText frames raw composer text the way clients send it: the text
// itself is the data field, with no inner JSON.
func EncodeText(text string) ([]byte, error) {
	return json.Marshal(Envelope{MessageType: TypeMessage, Data: text})
}

// EncodeChatMessage frames a stamped message the way the server fans it out.
func EncodeChatMessage(m ChatMessage) ([]byte, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{MessageType: TypeMessage, Data: string(payload)})
}

// EncodeUsers frames the roster broadcast.
func EncodeUsers(usernames []string) ([]byte, error) {
	return json.Marshal(Envelope{MessageType: TypeUsers, DataArray: usernames})
}

// EncodeTyping frames a typing status.
func EncodeTyping(s TypingStatus) ([]byte, error) {
	payload, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{MessageType: TypeTyping, Data: string(payload)})
}

// Decode parses a wire frame and rejects unknown message types.
func Decode(raw []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return Envelope{}, fmt.Errorf("protocol: decode envelope: %w", err)
	}
	switch e.MessageType {
	case TypeUsers, TypeRegister, TypeMessage, TypeTyping:
		return e, nil
	default:
		return Envelope{}, fmt.Errorf("%w: %q", ErrUnknownType, string(e.MessageType))
	}
}

// ChatMessage extracts the inner payload of a server-sent message envelope.
func (e Envelope) ChatMessage() (ChatMessage, error) {
	if e.MessageType != TypeMessage {
		return ChatMessage{}, fmt.Errorf("%w: got %q, want %q", ErrWrongType, e.MessageType, TypeMessage)
	}
	var m ChatMessage
	if err := json.Unmarshal([]byte(e.Data), &m); err != nil {
		return ChatMessage{}, fmt.Errorf("protocol: decode chat message: %w", err)
	}
	return m, nil
}

// TypingStatus extracts the inner payload of a typing envelope.
func (e Envelope) TypingStatus() (TypingStatus, error) {
	if e.MessageType != TypeTyping {
		return TypingStatus{}, fmt.Errorf("%w: got %q, want %q", ErrWrongType, e.MessageType, TypeTyping)
	}
	var s TypingStatus
	if err := json.Unmarshal([]byte(e.Data), &s); err != nil {
		return TypingStatus{}, fmt.Errorf("protocol: decode typing status: %w", err)
	}
	return s, nil
}

// ValidateUsername canonicalizes a requested name: NFC normalization, outer
// whitespace trimmed. It rejects empty names, names over MaxUsernameRunes,
// and names containing control characters. The function is idempotent on
// its own output.
func ValidateUsername(raw string) (string, error) {
	name := strings.TrimSpace(norm.NFC.String(raw))
	if name == "" {
		return "", ErrUsernameEmpty
	}
	count := 0
	for _, r := range name {
		count++
		if unicode.IsControl(r) {
			return "", ErrUsernameInvalid
		}
	}
	if count > MaxUsernameRunes {
		return "", ErrUsernameTooLong
	}
	return name, nil
}
