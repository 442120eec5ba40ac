package protocol

import "errors"

var (
	ErrMissingTopic = errors.New("contact request payload missing topic")
	ErrEmptyText    = errors.New("chat message payload missing text")
)

// ContactRequest is the payload of a contact_request envelope. Topic is the
// shared topic the requester generated for the future chat channel and is
// the only required field.
type ContactRequest struct {
	Topic          string `json:"topic"`
	OverlayAddress string `json:"overlay_address,omitempty"`
	Username       string `json:"username,omitempty"`
	Message        string `json:"message,omitempty"`
}

// Validate reports whether the payload carries its required fields.
func (p *ContactRequest) Validate() error {
	if p.Topic == "" {
		return ErrMissingTopic
	}
	return nil
}

// ContactResponse is the payload of a contact_response envelope. A decline
// carries Contact=false and nothing else; address and username are only
// present on acceptance.
type ContactResponse struct {
	Contact        bool   `json:"contact"`
	OverlayAddress string `json:"overlay_address,omitempty"`
	Username       string `json:"username,omitempty"`
}

// Validate always accepts: a bare decline is the minimal legal response.
func (p *ContactResponse) Validate() error {
	return nil
}

// ChatMessage is the payload of a chat_message envelope.
type ChatMessage struct {
	Text string `json:"text"`
}

// Validate reports whether the payload carries its required fields.
func (p *ChatMessage) Validate() error {
	if p.Text == "" {
		return ErrEmptyText
	}
	return nil
}
