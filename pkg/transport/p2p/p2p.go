// Package p2p provides a standalone mesh transport for operation without a
// swarm node: a libp2p host with gossipsub carrying pss-style topics, kad-dht
// peer discovery, and NaCl box sealing for asymmetric delivery. Nodes are
// identified by x25519 public keys, independent of the libp2p host identity.
package p2p

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	drouting "github.com/libp2p/go-libp2p/p2p/discovery/routing"
	"github.com/multiformats/go-multiaddr"

	"github.com/swarmchat/swarmchat-node/pkg/crypto"
	"github.com/swarmchat/swarmchat-node/pkg/transport"
)

const topicPrefix = "swarmchat/"

// Config contains configuration for creating a mesh node
type Config struct {
	ListenAddrs    []string
	BootstrapPeers []string
	KeyPair        *crypto.BoxKeyPair // messaging identity; generated if nil
}

// DefaultConfig returns default mesh node configuration
func DefaultConfig() *Config {
	return &Config{
		ListenAddrs: []string{"/ip4/0.0.0.0/tcp/0", "/ip4/0.0.0.0/udp/0/quic-v1"},
	}
}

// wireMsg is the cleartext gossip frame. Sealed carries the NaCl box
// output; From authenticates through the box, not through this field
// alone.
type wireMsg struct {
	To     string `json:"to"`
	From   string `json:"from"`
	Sealed []byte `json:"sealed"`
}

// Node is a mesh transport node. It implements transport.Transport.
type Node struct {
	host   host.Host
	dht    *dht.IpfsDHT
	pubsub *pubsub.PubSub
	key    *crypto.BoxKeyPair
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
	peers  map[string]map[string][32]byte // topic -> key hex -> parsed key
}

// NewNode creates a mesh node, joins the DHT and bootstraps against the
// configured peers.
func NewNode(ctx context.Context, config *Config) (*Node, error) {
	if config == nil {
		config = DefaultConfig()
	}

	kp := config.KeyPair
	if kp == nil {
		var err error
		kp, err = crypto.GenerateBoxKeyPair()
		if err != nil {
			return nil, fmt.Errorf("generate identity: %w", err)
		}
	}

	h, err := libp2p.New(
		libp2p.ListenAddrStrings(config.ListenAddrs...),
		libp2p.DefaultTransports,
		libp2p.DefaultMuxers,
		libp2p.DefaultSecurity,
		libp2p.NATPortMap(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}

	dhtInst, err := dht.New(ctx, h, dht.Mode(dht.ModeServer))
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("failed to create DHT: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h,
		pubsub.WithDiscovery(drouting.NewRoutingDiscovery(dhtInst)),
	)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("failed to create gossipsub: %w", err)
	}

	nodeCtx, cancel := context.WithCancel(ctx)
	n := &Node{
		host:   h,
		dht:    dhtInst,
		pubsub: ps,
		key:    kp,
		ctx:    nodeCtx,
		cancel: cancel,
		topics: make(map[string]*pubsub.Topic),
		peers:  make(map[string]map[string][32]byte),
	}

	if err := n.bootstrap(ctx, config.BootstrapPeers); err != nil {
		n.Close()
		return nil, err
	}

	log.Printf("mesh node up: peer %s, identity %.16s...", h.ID(), kp.PublicKeyHex())
	return n, nil
}

func (n *Node) bootstrap(ctx context.Context, peers []string) error {
	for _, peerStr := range peers {
		maddr, err := multiaddr.NewMultiaddr(peerStr)
		if err != nil {
			return fmt.Errorf("invalid bootstrap address %q: %w", peerStr, err)
		}
		info, err := peer.AddrInfoFromP2pAddr(maddr)
		if err != nil {
			return fmt.Errorf("invalid bootstrap address %q: %w", peerStr, err)
		}
		if err := n.host.Connect(ctx, *info); err != nil {
			log.Printf("bootstrap connect to %s failed: %v", info.ID, err)
		}
	}
	if err := n.dht.Bootstrap(ctx); err != nil {
		return fmt.Errorf("dht bootstrap: %w", err)
	}
	return nil
}

// Close shuts the node down.
func (n *Node) Close() error {
	n.cancel()
	n.dht.Close()
	return n.host.Close()
}

// Host returns the libp2p host, for wiring diagnostics.
func (n *Node) Host() host.Host {
	return n.host
}

// Addrs returns the node's dialable addresses in p2p form.
func (n *Node) Addrs() []string {
	info := peer.AddrInfo{ID: n.host.ID(), Addrs: n.host.Addrs()}
	maddrs, err := peer.AddrInfoToP2pAddrs(&info)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(maddrs))
	for _, a := range maddrs {
		out = append(out, a.String())
	}
	return out
}

// GetPublicKey returns the node's messaging public key.
func (n *Node) GetPublicKey(ctx context.Context) (string, error) {
	return n.key.PublicKeyHex(), nil
}

// BaseAddr returns the node's overlay address, the libp2p peer ID bytes.
func (n *Node) BaseAddr(ctx context.Context) (string, error) {
	raw, err := n.host.ID().MarshalBinary()
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(raw), nil
}

// StringToTopic derives a topic from s via BLAKE2b.
func (n *Node) StringToTopic(ctx context.Context, s string) (string, error) {
	return crypto.DeriveTopic(s)
}

// SetPeerPublicKey registers a peer key against a topic.
func (n *Node) SetPeerPublicKey(ctx context.Context, key, topic string) error {
	parsed, err := crypto.ParsePublicKeyHex(key)
	if err != nil {
		return fmt.Errorf("%w: %.16s", transport.ErrInvalidPubKey, key)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.peers[topic] == nil {
		n.peers[topic] = make(map[string][32]byte)
	}
	n.peers[topic][key] = parsed
	return nil
}

// joinTopic returns the pubsub topic for a pss-style topic id, joining it
// on first use. Publishing and subscribing share the joined handle.
func (n *Node) joinTopic(topic string) (*pubsub.Topic, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if t, ok := n.topics[topic]; ok {
		return t, nil
	}
	t, err := n.pubsub.Join(topicPrefix + topic)
	if err != nil {
		return nil, fmt.Errorf("join topic %s: %w", topic, err)
	}
	n.topics[topic] = t
	return t, nil
}

// SendAsym seals msg for the peer identified by key and publishes it on
// the topic. The key must have been registered against the topic first.
func (n *Node) SendAsym(ctx context.Context, key, topic, msg string) error {
	n.mu.Lock()
	recipient, registered := n.peers[topic][key]
	n.mu.Unlock()
	if !registered {
		return fmt.Errorf("%w: %.16s on %s", transport.ErrUnknownPeer, key, topic)
	}

	raw, err := hex.DecodeString(msg)
	if err != nil {
		return fmt.Errorf("message is not hex: %w", err)
	}

	sealed, err := crypto.Seal(raw, recipient, n.key)
	if err != nil {
		return fmt.Errorf("seal message: %w", err)
	}

	frame, err := json.Marshal(&wireMsg{
		To:     key,
		From:   n.key.PublicKeyHex(),
		Sealed: sealed,
	})
	if err != nil {
		return err
	}

	t, err := n.joinTopic(topic)
	if err != nil {
		return err
	}
	return t.Publish(ctx, frame)
}

// Subscribe opens a subscription on topic. Frames not addressed to this
// node, or that fail to open against their claimed sender key, are
// dropped.
func (n *Node) Subscribe(ctx context.Context, topic string) (<-chan transport.Message, transport.Subscription, error) {
	t, err := n.joinTopic(topic)
	if err != nil {
		return nil, nil, err
	}

	psSub, err := t.Subscribe()
	if err != nil {
		return nil, nil, fmt.Errorf("subscribe topic %s: %w", topic, err)
	}

	out := make(chan transport.Message, 64)
	sub := &meshSubscription{inner: psSub, err: make(chan error, 1), quit: make(chan struct{})}

	go n.readLoop(ctx, psSub, out, sub)

	return out, sub, nil
}

func (n *Node) readLoop(ctx context.Context, psSub *pubsub.Subscription, out chan<- transport.Message, sub *meshSubscription) {
	defer close(out)
	own := n.key.PublicKeyHex()
	for {
		m, err := psSub.Next(ctx)
		if err != nil {
			// Next fails permanently once the subscription is
			// cancelled or the context ends.
			select {
			case <-sub.quit:
			case <-ctx.Done():
			default:
				sub.err <- err
			}
			return
		}
		if m.ReceivedFrom == n.host.ID() {
			continue
		}

		var frame wireMsg
		if err := json.Unmarshal(m.Data, &frame); err != nil {
			continue
		}
		if frame.To != own {
			continue
		}

		sender, err := crypto.ParsePublicKeyHex(frame.From)
		if err != nil {
			continue
		}
		plain, err := crypto.Open(frame.Sealed, sender, n.key)
		if err != nil {
			log.Printf("dropping undecryptable frame claiming sender %.16s", frame.From)
			continue
		}

		msg := transport.Message{
			Key:  frame.From,
			Asym: true,
			Msg:  hex.EncodeToString(plain),
		}
		select {
		case out <- msg:
		case <-sub.quit:
			return
		case <-ctx.Done():
			return
		}
	}
}

type meshSubscription struct {
	inner *pubsub.Subscription
	err   chan error
	quit  chan struct{}
	once  sync.Once
}

func (s *meshSubscription) Unsubscribe() {
	s.once.Do(func() {
		close(s.quit)
		s.inner.Cancel()
	})
}

func (s *meshSubscription) Err() <-chan error {
	return s.err
}
