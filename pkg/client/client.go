// Package client is the session layer between the stateless protocol and a
// user interface: it runs the inbound subscriptions, folds handshake
// events into the contact store, records chat history and surfaces
// callbacks for presentation.
package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/swarmchat/swarmchat-node/pkg/protocol"
	"github.com/swarmchat/swarmchat-node/pkg/storage"
)

var (
	ErrNotStarted      = errors.New("client not started")
	ErrNotEstablished  = errors.New("no established chat channel with contact")
	ErrNoPendingInvite = errors.New("no pending contact request from key")
)

// Client drives the protocol layer for one local identity.
type Client struct {
	service  *protocol.Service
	db       *storage.ChatDB
	username string

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	started    bool
	contactSub *protocol.Subscription
	chatSubs   map[string]*protocol.Subscription

	// Callbacks for the presentation layer; all optional and invoked
	// from the subscription goroutines.
	OnContactRequest  func(ev protocol.ContactEvent)
	OnContactResponse func(ev protocol.ContactEvent)
	OnChatMessage     func(ev protocol.ChatEvent)
}

// New creates a client over the given protocol service and store.
// username is attached to outgoing requests and acceptances.
func New(service *protocol.Service, db *storage.ChatDB, username string) *Client {
	return &Client{
		service:  service,
		db:       db,
		username: username,
		chatSubs: make(map[string]*protocol.Subscription),
	}
}

// Start resolves the local identity, opens the contact inbox and reopens
// chat channels for every established contact.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}

	c.ctx, c.cancel = context.WithCancel(ctx)

	own, err := c.service.OwnInfo(c.ctx)
	if err != nil {
		c.cancel()
		return fmt.Errorf("resolve own identity: %w", err)
	}
	log.Printf("chat client up: key %.16s..., address %.16s...", own.PublicKey, own.OverlayAddress)

	events, sub, err := c.service.SubscribeContacts(c.ctx)
	if err != nil {
		c.cancel()
		return fmt.Errorf("open contact inbox: %w", err)
	}
	c.contactSub = sub
	go c.contactLoop(events)

	contacts, err := c.db.GetAllContacts()
	if err != nil {
		log.Printf("loading contacts failed: %v", err)
		contacts = nil
	}
	for _, contact := range contacts {
		if contact.State == storage.StateAdded && contact.Topic != "" {
			if err := c.openChatLocked(contact.Key, contact.Topic); err != nil {
				log.Printf("reopening chat with %.16s failed: %v", contact.Key, err)
			}
		}
	}

	c.started = true
	return nil
}

// Stop cancels all subscriptions.
func (c *Client) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return
	}
	c.started = false
	c.cancel()
	if c.contactSub != nil {
		c.contactSub.Unsubscribe()
	}
	for _, sub := range c.chatSubs {
		sub.Unsubscribe()
	}
	c.chatSubs = make(map[string]*protocol.Subscription)
}

// OwnInfo exposes the cached identity record.
func (c *Client) OwnInfo(ctx context.Context) (protocol.OwnInfo, error) {
	return c.service.OwnInfo(ctx)
}

// HasOwnInfo reports whether the identity has been resolved yet.
func (c *Client) HasOwnInfo() bool {
	return c.service.HasOwnInfo()
}

// RequestContact invites key, recording the contact as sent_pending with
// the freshly generated shared topic.
func (c *Client) RequestContact(ctx context.Context, key, greeting string) error {
	topic, err := c.service.SendContactRequest(ctx, key, protocol.ContactRequestOptions{
		Username: c.username,
		Message:  greeting,
	})
	if err != nil {
		return err
	}

	if err := c.db.FoldRequestSent(key, topic, ""); err != nil {
		return fmt.Errorf("record sent request: %w", err)
	}
	return nil
}

// AcceptContact answers a pending inbound request positively and opens
// the chat channel on the shared topic the requester proposed.
func (c *Client) AcceptContact(ctx context.Context, key string) error {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if !started {
		return ErrNotStarted
	}

	contact, err := c.db.GetContact(key)
	if err != nil {
		return ErrNoPendingInvite
	}
	if contact.State != storage.StateReceivedPending {
		return ErrNoPendingInvite
	}

	if err := c.service.SendContactResponse(ctx, key, true, c.username); err != nil {
		return err
	}
	if err := c.db.FoldResponseSent(key, true); err != nil {
		return fmt.Errorf("record acceptance: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.openChatLocked(key, contact.Topic)
}

// DeclineContact answers a pending inbound request negatively. The
// response leaks no identity details.
func (c *Client) DeclineContact(ctx context.Context, key string) error {
	contact, err := c.db.GetContact(key)
	if err != nil || contact.State != storage.StateReceivedPending {
		return ErrNoPendingInvite
	}

	if err := c.service.SendContactResponse(ctx, key, false, ""); err != nil {
		return err
	}
	if err := c.db.FoldResponseSent(key, false); err != nil {
		return fmt.Errorf("record decline: %w", err)
	}
	return nil
}

// SendMessage sends text to an established contact and records it in the
// history.
func (c *Client) SendMessage(ctx context.Context, key, text string) error {
	contact, err := c.db.GetContact(key)
	if err != nil {
		return ErrNotEstablished
	}
	if contact.State != storage.StateAdded || contact.Topic == "" {
		return ErrNotEstablished
	}

	if err := c.service.SendChatMessage(ctx, key, contact.Topic, text); err != nil {
		return err
	}

	return c.db.SaveMessage(&storage.StoredMessage{
		ContactKey: key,
		Text:       text,
		Timestamp:  time.Now().UnixMilli(),
		IsOutgoing: true,
	})
}

// Contacts lists all known contacts with their folded state.
func (c *Client) Contacts() ([]*storage.Contact, error) {
	return c.db.GetAllContacts()
}

// Contact returns one contact record.
func (c *Client) Contact(key string) (*storage.Contact, error) {
	return c.db.GetContact(key)
}

// History returns stored chat history with a contact.
func (c *Client) History(key string, limit int) ([]*storage.StoredMessage, error) {
	return c.db.GetMessages(key, limit)
}

// openChatLocked opens a chat subscription for key on topic; caller holds
// c.mu.
func (c *Client) openChatLocked(key, topic string) error {
	if c.ctx == nil {
		return ErrNotStarted
	}
	if _, open := c.chatSubs[key]; open {
		return nil
	}

	events, sub, err := c.service.SubscribeChat(c.ctx, key, topic)
	if err != nil {
		return fmt.Errorf("open chat with %.16s: %w", key, err)
	}
	c.chatSubs[key] = sub
	go c.chatLoop(key, events)
	return nil
}

func (c *Client) contactLoop(events <-chan protocol.ContactEvent) {
	for ev := range events {
		switch ev.Type {
		case protocol.EventContactRequest:
			req := ev.Request
			if err := c.db.FoldRequestReceived(ev.Key, req.Topic, req.OverlayAddress, req.Username, req.Message); err != nil {
				log.Printf("recording contact request from %.16s failed: %v", ev.Key, err)
				continue
			}
			if c.OnContactRequest != nil {
				c.OnContactRequest(ev)
			}

		case protocol.EventContactResponse:
			resp := ev.Response
			if err := c.db.FoldResponseReceived(ev.Key, resp.Contact, resp.OverlayAddress, resp.Username); err != nil {
				log.Printf("recording contact response from %.16s failed: %v", ev.Key, err)
				continue
			}
			if resp.Contact {
				contact, err := c.db.GetContact(ev.Key)
				if err == nil && contact.Topic != "" {
					c.mu.Lock()
					if err := c.openChatLocked(ev.Key, contact.Topic); err != nil {
						log.Printf("%v", err)
					}
					c.mu.Unlock()
				}
			}
			if c.OnContactResponse != nil {
				c.OnContactResponse(ev)
			}
		}
	}
}

func (c *Client) chatLoop(key string, events <-chan protocol.ChatEvent) {
	for ev := range events {
		if err := c.db.SaveMessage(&storage.StoredMessage{
			ContactKey: key,
			Text:       ev.Message.Text,
			Timestamp:  ev.Timestamp,
			IsOutgoing: false,
		}); err != nil {
			log.Printf("recording message from %.16s failed: %v", key, err)
		}
		if c.OnChatMessage != nil {
			c.OnChatMessage(ev)
		}
	}
}
