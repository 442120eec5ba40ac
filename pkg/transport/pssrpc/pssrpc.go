// Package pssrpc adapts a running swarm node's pss JSON-RPC API to the
// transport interface. It speaks the pss_* method family over websocket
// and maps the pss receive subscription onto the transport message stream.
package pssrpc

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/swarmchat/swarmchat-node/pkg/transport"
)

// apiMsg mirrors the pss APIMsg notification payload.
type apiMsg struct {
	Msg        hexutil.Bytes `json:"Msg"`
	Asymmetric bool          `json:"Asymmetric"`
	Key        string        `json:"Key"`
}

// Client is a pss transport backed by a remote swarm node.
type Client struct {
	rpc    *rpc.Client
	closed atomic.Bool
}

// Dial connects to a swarm node's websocket RPC endpoint.
func Dial(ctx context.Context, url string) (*Client, error) {
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial pss node: %w", err)
	}
	return &Client{rpc: c}, nil
}

// NewClient wraps an existing RPC connection.
func NewClient(c *rpc.Client) *Client {
	return &Client{rpc: c}
}

// Close tears down the RPC connection. Further calls on the client
// return ErrNotConnected.
func (c *Client) Close() {
	if c.closed.CompareAndSwap(false, true) {
		c.rpc.Close()
	}
}

// call forwards to the RPC connection unless the client has been closed.
func (c *Client) call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	if c.closed.Load() {
		return transport.ErrNotConnected
	}
	return c.call(ctx, result, method, args...)
}

// GetPublicKey returns the node's pss public key.
func (c *Client) GetPublicKey(ctx context.Context) (string, error) {
	var key hexutil.Bytes
	if err := c.call(ctx, &key, "pss_getPublicKey"); err != nil {
		return "", fmt.Errorf("pss_getPublicKey: %w", err)
	}
	return key.String(), nil
}

// BaseAddr returns the node's overlay address.
func (c *Client) BaseAddr(ctx context.Context) (string, error) {
	var addr hexutil.Bytes
	if err := c.call(ctx, &addr, "pss_baseAddr"); err != nil {
		return "", fmt.Errorf("pss_baseAddr: %w", err)
	}
	return addr.String(), nil
}

// StringToTopic derives a pss topic on the node.
func (c *Client) StringToTopic(ctx context.Context, s string) (string, error) {
	var topic string
	if err := c.call(ctx, &topic, "pss_stringToTopic", s); err != nil {
		return "", fmt.Errorf("pss_stringToTopic: %w", err)
	}
	return topic, nil
}

// SetPeerPublicKey registers a peer key against a topic on the node. No
// address hint is passed; the node routes by full broadcast until it
// learns better.
func (c *Client) SetPeerPublicKey(ctx context.Context, key, topic string) error {
	if err := c.call(ctx, nil, "pss_setPeerPublicKey", key, topic, "0x"); err != nil {
		return fmt.Errorf("pss_setPeerPublicKey: %w", err)
	}
	return nil
}

// SendAsym sends an asymmetrically encrypted message through the node.
func (c *Client) SendAsym(ctx context.Context, key, topic, msg string) error {
	if !strings.HasPrefix(msg, "0x") {
		msg = "0x" + msg
	}
	if err := c.call(ctx, nil, "pss_sendAsym", key, topic, msg); err != nil {
		return fmt.Errorf("pss_sendAsym: %w", err)
	}
	return nil
}

// Subscribe opens a pss receive subscription on topic and adapts its
// notifications to transport messages.
func (c *Client) Subscribe(ctx context.Context, topic string) (<-chan transport.Message, transport.Subscription, error) {
	if c.closed.Load() {
		return nil, nil, transport.ErrNotConnected
	}

	msgs := make(chan apiMsg, 64)
	clientSub, err := c.rpc.Subscribe(ctx, "pss", msgs, "receive", topic)
	if err != nil {
		return nil, nil, fmt.Errorf("pss receive subscription: %w", err)
	}

	out := make(chan transport.Message, 64)
	sub := &rpcSubscription{inner: clientSub, quit: make(chan struct{})}

	go func() {
		defer close(out)
		for {
			select {
			case <-sub.quit:
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- transport.Message{
					Key:  m.Key,
					Asym: m.Asymmetric,
					Msg:  strings.TrimPrefix(m.Msg.String(), "0x"),
				}:
				case <-sub.quit:
					return
				}
			}
		}
	}()

	return out, sub, nil
}

type rpcSubscription struct {
	inner *rpc.ClientSubscription
	quit  chan struct{}
	once  sync.Once
}

func (s *rpcSubscription) Unsubscribe() {
	s.once.Do(func() {
		close(s.quit)
		s.inner.Unsubscribe()
	})
}

func (s *rpcSubscription) Err() <-chan error {
	// rpc.ClientSubscription's error channel closes on unsubscribe.
	return s.inner.Err()
}
