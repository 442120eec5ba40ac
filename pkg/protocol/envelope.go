package protocol

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Protocol identifier carried in the envelope's protocol field.
const Protocol = "swarmchat/v1"

// Envelope message types
const (
	TypeContactRequest  = "contact_request"
	TypeContactResponse = "contact_response"
	TypeChatMessage     = "chat_message"
)

var ErrMalformedEnvelope = errors.New("malformed envelope")

// Envelope is the versioned wire wrapper. The protocol tag is optional on
// the wire (earlier protocol generations omitted it); when present it must
// equal Protocol for the envelope to be accepted.
type Envelope struct {
	Protocol  string          `json:"protocol,omitempty"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"utc_timestamp,omitempty"`
}

// MatchesProtocol reports whether the envelope's protocol tag is absent or
// equal to the expected identifier.
func (e *Envelope) MatchesProtocol() bool {
	return e.Protocol == "" || e.Protocol == Protocol
}

// EncodeEnvelope builds an envelope of the given type around payload,
// stamps it with the current UTC time, and returns it as a hex-encoded
// JSON string ready for the transport. A nil payload is allowed.
func EncodeEnvelope(msgType string, payload interface{}) (string, error) {
	env := Envelope{
		Protocol:  Protocol,
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
	}

	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return "", fmt.Errorf("encode payload: %w", err)
		}
		env.Payload = raw
	}

	data, err := json.Marshal(&env)
	if err != nil {
		return "", fmt.Errorf("encode envelope: %w", err)
	}

	return hex.EncodeToString(data), nil
}

// DecodeEnvelope parses a hex-encoded JSON envelope. Invalid hex or invalid
// JSON yields an error wrapping ErrMalformedEnvelope; callers must treat
// that as a droppable message, never as a stream-fatal condition.
func DecodeEnvelope(hexmsg string) (*Envelope, error) {
	data, err := hex.DecodeString(hexmsg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedEnvelope)
	}

	return &env, nil
}
