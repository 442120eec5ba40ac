package protocol

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/swarmchat/swarmchat-node/pkg/transport"
)

// Subscription is a handle on an active protocol event stream. Unsubscribe
// stops event delivery, closes the event channel and releases the
// transport-side subscription; it is safe to call more than once.
type Subscription struct {
	inner transport.Subscription
	quit  chan struct{}
	once  sync.Once
}

// Unsubscribe cancels the subscription.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		close(s.quit)
		s.inner.Unsubscribe()
	})
}

// Err returns the transport subscription's error channel. It yields at most
// one error, when the transport tears the subscription down from its side.
func (s *Subscription) Err() <-chan error {
	return s.inner.Err()
}

// pump drains raw transport messages through project and forwards accepted
// events until the raw stream closes or the subscription is cancelled.
// project is a pure per-item transform: it never blocks and never buffers.
func pump[T any](raw <-chan transport.Message, sub *Subscription, out chan<- T, project func(transport.Message) (T, bool)) {
	defer close(out)
	for {
		select {
		case <-sub.quit:
			return
		case msg, ok := <-raw:
			if !ok {
				return
			}
			ev, ok := project(msg)
			if !ok {
				continue
			}
			select {
			case out <- ev:
			case <-sub.quit:
				return
			}
		}
	}
}

// decodeValid decodes a raw message and applies the protocol-tag check.
// Malformed or mismatched envelopes are dropped with a diagnostic log;
// a corrupt message never terminates the stream.
func decodeValid(msg transport.Message) (*Envelope, bool) {
	env, err := DecodeEnvelope(msg.Msg)
	if err != nil {
		log.Printf("dropping inbound message from %.16s: %v", msg.Key, err)
		return nil, false
	}
	if !env.MatchesProtocol() {
		log.Printf("dropping inbound message from %.16s: protocol %q", msg.Key, env.Protocol)
		return nil, false
	}
	return env, true
}

// SubscribeContacts opens the contact inbox: a subscription on the topic
// derived from the local public key, narrowed to well-formed
// contact_request and contact_response envelopes.
func (s *Service) SubscribeContacts(ctx context.Context) (<-chan ContactEvent, *Subscription, error) {
	own, err := s.OwnInfo(ctx)
	if err != nil {
		return nil, nil, err
	}

	topic, err := s.transport.StringToTopic(ctx, own.PublicKey)
	if err != nil {
		return nil, nil, err
	}

	raw, inner, err := s.transport.Subscribe(ctx, topic)
	if err != nil {
		return nil, nil, err
	}

	sub := &Subscription{inner: inner, quit: make(chan struct{})}
	out := make(chan ContactEvent)
	go pump(raw, sub, out, projectContactEvent)

	return out, sub, nil
}

func projectContactEvent(msg transport.Message) (ContactEvent, bool) {
	env, ok := decodeValid(msg)
	if !ok {
		return ContactEvent{}, false
	}

	switch env.Type {
	case TypeContactRequest:
		var payload ContactRequest
		if !decodePayload(env, msg.Key, &payload) {
			return ContactEvent{}, false
		}
		return ContactEvent{
			Type:      EventContactRequest,
			Key:       msg.Key,
			Timestamp: env.Timestamp,
			Request:   &payload,
		}, true

	case TypeContactResponse:
		var payload ContactResponse
		if !decodePayload(env, msg.Key, &payload) {
			return ContactEvent{}, false
		}
		return ContactEvent{
			Type:      EventContactResponse,
			Key:       msg.Key,
			Timestamp: env.Timestamp,
			Response:  &payload,
		}, true
	}

	return ContactEvent{}, false
}

// SubscribeChat opens the chat channel with a contact: a subscription on
// the shared topic agreed during the handshake, narrowed to well-formed
// chat_message envelopes. The contact's key is registered against the
// topic concurrently with the subscription, since inbound asymmetric
// messages cannot be decrypted before registration.
func (s *Service) SubscribeChat(ctx context.Context, key, topic string) (<-chan ChatEvent, *Subscription, error) {
	var (
		raw   <-chan transport.Message
		inner transport.Subscription
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		raw, inner, err = s.transport.Subscribe(gctx, topic)
		return err
	})
	g.Go(func() error {
		return s.transport.SetPeerPublicKey(gctx, key, topic)
	})
	if err := g.Wait(); err != nil {
		if inner != nil {
			inner.Unsubscribe()
		}
		return nil, nil, err
	}

	sub := &Subscription{inner: inner, quit: make(chan struct{})}
	out := make(chan ChatEvent)
	go pump(raw, sub, out, func(msg transport.Message) (ChatEvent, bool) {
		env, ok := decodeValid(msg)
		if !ok || env.Type != TypeChatMessage {
			return ChatEvent{}, false
		}
		var payload ChatMessage
		if !decodePayload(env, msg.Key, &payload) {
			return ChatEvent{}, false
		}
		return ChatEvent{
			Key:       msg.Key,
			Timestamp: env.Timestamp,
			Message:   &payload,
		}, true
	})

	return out, sub, nil
}

// validator is implemented by every payload schema.
type validator interface {
	Validate() error
}

// decodePayload unmarshals and shape-checks an envelope payload. A missing,
// unparsable or invalid payload rejects the envelope.
func decodePayload(env *Envelope, key string, dst validator) bool {
	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		log.Printf("dropping %s from %.16s: missing payload", env.Type, key)
		return false
	}
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		log.Printf("dropping %s from %.16s: %v", env.Type, key, err)
		return false
	}
	if err := dst.Validate(); err != nil {
		log.Printf("dropping %s from %.16s: %v", env.Type, key, err)
		return false
	}
	return true
}
