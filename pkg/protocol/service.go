package protocol

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/swarmchat/swarmchat-node/pkg/transport"
)

// OwnInfo is the local party's identity record: public key and overlay
// routing address. Immutable once resolved.
type OwnInfo struct {
	PublicKey      string `json:"publicKey"`
	OverlayAddress string `json:"overlayAddress"`
}

// Service is the protocol layer over a single transport. All methods are
// safe for concurrent use; the identity record is resolved at most once
// and shared by every caller.
type Service struct {
	transport transport.Transport

	ownOnce  sync.Once
	own      OwnInfo
	ownErr   error
	resolved atomic.Bool
}

// NewService creates a protocol service over the given transport.
func NewService(t transport.Transport) *Service {
	return &Service{transport: t}
}

// Transport exposes the underlying substrate, for callers that need to
// wire auxiliary subscriptions of their own.
func (s *Service) Transport() transport.Transport {
	return s.transport
}

// OwnInfo returns the local identity record. The first call resolves the
// public key and overlay address from the transport, issuing both lookups
// concurrently; concurrent first callers share the single in-flight
// resolution. Later calls return the cached record.
func (s *Service) OwnInfo(ctx context.Context) (OwnInfo, error) {
	s.ownOnce.Do(func() {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			key, err := s.transport.GetPublicKey(gctx)
			if err != nil {
				return fmt.Errorf("get public key: %w", err)
			}
			s.own.PublicKey = key
			return nil
		})
		g.Go(func() error {
			addr, err := s.transport.BaseAddr(gctx)
			if err != nil {
				return fmt.Errorf("get base address: %w", err)
			}
			s.own.OverlayAddress = addr
			return nil
		})
		s.ownErr = g.Wait()
		if s.ownErr == nil {
			s.resolved.Store(true)
		}
	})
	return s.own, s.ownErr
}

// HasOwnInfo reports whether the identity record has been resolved,
// without blocking. Used by presentation layers to show a loading state.
func (s *Service) HasOwnInfo() bool {
	return s.resolved.Load()
}

// ContactRequestOptions are the optional fields of an outgoing contact
// request.
type ContactRequestOptions struct {
	Username string
	Message  string
}

// SendContactRequest invites the party identified by key. It generates a
// fresh random shared topic for the future chat channel, registers the
// peer's key against both the handshake topic and the shared topic, and
// sends the contact_request over the handshake topic.
//
// The shared topic is returned to the caller, which must persist it as the
// contact's channel identifier; the protocol layer does not keep it.
func (s *Service) SendContactRequest(ctx context.Context, key string, opts ContactRequestOptions) (string, error) {
	var (
		own          OwnInfo
		contactTopic string
		sharedTopic  string
	)

	// The identity lookup and both topic derivations are independent
	// round trips to the transport.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		own, err = s.OwnInfo(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		contactTopic, err = s.transport.StringToTopic(gctx, key)
		return err
	})
	g.Go(func() error {
		var err error
		sharedTopic, err = s.transport.StringToTopic(gctx, uuid.NewString())
		return err
	})
	if err := g.Wait(); err != nil {
		return "", err
	}

	g, gctx = errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.transport.SetPeerPublicKey(gctx, key, contactTopic)
	})
	g.Go(func() error {
		return s.transport.SetPeerPublicKey(gctx, key, sharedTopic)
	})
	if err := g.Wait(); err != nil {
		return "", fmt.Errorf("register peer key: %w", err)
	}

	msg, err := EncodeEnvelope(TypeContactRequest, &ContactRequest{
		Topic:          sharedTopic,
		OverlayAddress: own.OverlayAddress,
		Username:       opts.Username,
		Message:        opts.Message,
	})
	if err != nil {
		return "", err
	}

	if err := s.transport.SendAsym(ctx, key, contactTopic, msg); err != nil {
		return "", fmt.Errorf("send contact request: %w", err)
	}

	return sharedTopic, nil
}

// SendContactResponse answers a pending contact request from key. On
// accept the response carries the local overlay address and username; a
// decline carries contact=false and nothing else, so an unaccepted peer
// learns no identity details.
func (s *Service) SendContactResponse(ctx context.Context, key string, accept bool, username string) error {
	payload := &ContactResponse{Contact: accept}
	if accept {
		own, err := s.OwnInfo(ctx)
		if err != nil {
			return err
		}
		payload.OverlayAddress = own.OverlayAddress
		payload.Username = username
	}

	// Same derivation the requester used: the handshake topic is a pure
	// function of the counterparty's key, so both sides converge on it.
	topic, err := s.transport.StringToTopic(ctx, key)
	if err != nil {
		return err
	}

	if err := s.transport.SetPeerPublicKey(ctx, key, topic); err != nil {
		return fmt.Errorf("register peer key: %w", err)
	}

	msg, err := EncodeEnvelope(TypeContactResponse, payload)
	if err != nil {
		return err
	}

	if err := s.transport.SendAsym(ctx, key, topic, msg); err != nil {
		return fmt.Errorf("send contact response: %w", err)
	}

	return nil
}

// SendChatMessage sends text to key over an established shared topic.
// The caller supplies the topic obtained from a completed handshake.
func (s *Service) SendChatMessage(ctx context.Context, key, topic, text string) error {
	msg, err := EncodeEnvelope(TypeChatMessage, &ChatMessage{Text: text})
	if err != nil {
		return err
	}

	if err := s.transport.SendAsym(ctx, key, topic, msg); err != nil {
		return fmt.Errorf("send chat message: %w", err)
	}

	return nil
}
