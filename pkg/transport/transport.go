// Package transport defines the messaging substrate capability required by the
// chat protocol layer: topic-scoped publish/subscribe with public-key-addressed
// asymmetric delivery, in the shape of the swarm pss API.
package transport

import (
	"context"
	"errors"
)

var (
	ErrUnknownPeer   = errors.New("peer public key not registered for topic")
	ErrNotConnected  = errors.New("transport not connected")
	ErrInvalidPubKey = errors.New("invalid public key")
)

// Message is a raw inbound item delivered on a topic subscription.
// It mirrors the pss APIMsg: the hex payload, whether it arrived through
// asymmetric encryption, and the sender's public key (hex).
type Message struct {
	Key  string
	Asym bool
	Msg  string
}

// Subscription is a handle on an active topic subscription.
// Unsubscribe stops delivery and releases the transport-side resource;
// it is safe to call more than once.
type Subscription interface {
	Unsubscribe()
	Err() <-chan error
}

// Transport is the capability interface the protocol layer consumes.
// All identifiers (keys, addresses, topics, payloads) cross this boundary
// hex-encoded. Implementations must not retry on failure; errors propagate
// to the caller unchanged.
type Transport interface {
	// GetPublicKey returns the local node's public key.
	GetPublicKey(ctx context.Context) (string, error)

	// BaseAddr returns the local node's overlay routing address.
	BaseAddr(ctx context.Context) (string, error)

	// StringToTopic deterministically derives a topic from an arbitrary
	// string. Equal inputs yield equal topics on every node.
	StringToTopic(ctx context.Context, s string) (string, error)

	// SetPeerPublicKey registers a peer's public key against a topic.
	// Required before SendAsym to that peer on the topic, and before
	// inbound asymmetric messages from the peer can be decrypted.
	SetPeerPublicKey(ctx context.Context, key, topic string) error

	// SendAsym sends a hex message to the peer identified by key,
	// encrypted for that key, scoped to the given topic.
	SendAsym(ctx context.Context, key, topic, msg string) error

	// Subscribe opens a topic subscription. Delivery stops when the
	// returned Subscription is unsubscribed or ctx is cancelled.
	Subscribe(ctx context.Context, topic string) (<-chan Message, Subscription, error)
}
