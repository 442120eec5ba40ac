// Package mem provides an in-process loopback transport: every node on the
// same Bus can reach every other, with pss-style semantics (deterministic
// topic derivation, peer key registration gating asymmetric send). It backs
// the protocol tests and the single-box demo mode.
package mem

import (
	"context"
	"fmt"
	"sync"

	"github.com/swarmchat/swarmchat-node/pkg/crypto"
	"github.com/swarmchat/swarmchat-node/pkg/transport"
)

// subscriber buffer size; the bus drops for slow consumers rather than
// blocking senders, matching the pss contract.
const subBuffer = 128

// Bus is a process-local messaging substrate shared by a set of Nodes.
type Bus struct {
	mu    sync.Mutex
	nodes map[string]*Node
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{nodes: make(map[string]*Node)}
}

// NewNode attaches a fresh node with a generated identity to the bus.
func (b *Bus) NewNode() (*Node, error) {
	kp, err := crypto.GenerateBoxKeyPair()
	if err != nil {
		return nil, err
	}

	addr, err := crypto.GenerateNonce(32)
	if err != nil {
		return nil, err
	}

	n := &Node{
		bus:   b,
		key:   kp,
		addr:  fmt.Sprintf("0x%x", addr),
		peers: make(map[string]map[string]bool),
		subs:  make(map[string][]*subscriber),
	}

	b.mu.Lock()
	b.nodes[kp.PublicKeyHex()] = n
	b.mu.Unlock()

	return n, nil
}

type subscriber struct {
	ch     chan transport.Message
	err    chan error
	closed bool
}

// Node is one participant on the bus. It implements transport.Transport.
type Node struct {
	bus  *Bus
	key  *crypto.BoxKeyPair
	addr string

	mu    sync.Mutex
	peers map[string]map[string]bool // topic -> registered peer keys
	subs  map[string][]*subscriber   // topic -> active subscriptions
}

// GetPublicKey returns the node's public key.
func (n *Node) GetPublicKey(ctx context.Context) (string, error) {
	return n.key.PublicKeyHex(), nil
}

// BaseAddr returns the node's overlay address.
func (n *Node) BaseAddr(ctx context.Context) (string, error) {
	return n.addr, nil
}

// StringToTopic derives a topic from s via BLAKE2b.
func (n *Node) StringToTopic(ctx context.Context, s string) (string, error) {
	return crypto.DeriveTopic(s)
}

// SetPeerPublicKey registers a peer key against a topic. Sends to an
// unregistered (key, topic) pair fail, as they would on a real pss node.
func (n *Node) SetPeerPublicKey(ctx context.Context, key, topic string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.peers[topic] == nil {
		n.peers[topic] = make(map[string]bool)
	}
	n.peers[topic][key] = true
	return nil
}

// SendAsym delivers msg to the node identified by key, scoped to topic.
// The recipient's key must have been registered against the topic first.
func (n *Node) SendAsym(ctx context.Context, key, topic, msg string) error {
	n.mu.Lock()
	registered := n.peers[topic][key]
	n.mu.Unlock()
	if !registered {
		return fmt.Errorf("%w: %.16s on %s", transport.ErrUnknownPeer, key, topic)
	}

	n.bus.mu.Lock()
	peer := n.bus.nodes[key]
	n.bus.mu.Unlock()
	if peer == nil {
		return fmt.Errorf("%w: %.16s", transport.ErrUnknownPeer, key)
	}

	peer.deliver(topic, transport.Message{
		Key:  n.key.PublicKeyHex(),
		Asym: true,
		Msg:  msg,
	})
	return nil
}

func (n *Node) deliver(topic string, msg transport.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, sub := range n.subs[topic] {
		if sub.closed {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
			// slow consumer, drop
		}
	}
}

// Subscribe opens a subscription on topic.
func (n *Node) Subscribe(ctx context.Context, topic string) (<-chan transport.Message, transport.Subscription, error) {
	s := &subscriber{
		ch:  make(chan transport.Message, subBuffer),
		err: make(chan error, 1),
	}

	n.mu.Lock()
	n.subs[topic] = append(n.subs[topic], s)
	n.mu.Unlock()

	sub := &memSubscription{node: n, topic: topic, sub: s}
	if ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			sub.Unsubscribe()
		}()
	}

	return s.ch, sub, nil
}

type memSubscription struct {
	node  *Node
	topic string
	sub   *subscriber
	once  sync.Once
}

func (s *memSubscription) Unsubscribe() {
	s.once.Do(func() {
		n := s.node
		n.mu.Lock()
		defer n.mu.Unlock()
		s.sub.closed = true
		subs := n.subs[s.topic]
		for i, cand := range subs {
			if cand == s.sub {
				n.subs[s.topic] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(s.sub.ch)
	})
}

func (s *memSubscription) Err() <-chan error {
	return s.sub.err
}
