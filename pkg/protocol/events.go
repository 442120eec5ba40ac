package protocol

// ContactEventType discriminates the variants of ContactEvent.
type ContactEventType string

const (
	EventContactRequest  ContactEventType = TypeContactRequest
	EventContactResponse ContactEventType = TypeContactResponse
)

// ContactEvent is one item of a contact subscription stream. Key is the
// sender's public key, the durable identity handle for the contact.
// Exactly one of Request/Response is set, selected by Type.
type ContactEvent struct {
	Type      ContactEventType
	Key       string
	Timestamp int64
	Request   *ContactRequest
	Response  *ContactResponse
}

// ChatEvent is one item of a chat subscription stream.
type ChatEvent struct {
	Key       string
	Timestamp int64
	Message   *ChatMessage
}
