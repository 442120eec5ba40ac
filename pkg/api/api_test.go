package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmchat/swarmchat-node/pkg/client"
	"github.com/swarmchat/swarmchat-node/pkg/protocol"
	"github.com/swarmchat/swarmchat-node/pkg/storage"
	"github.com/swarmchat/swarmchat-node/pkg/transport/mem"
)

// testPeer is one API-served chat node on a shared in-memory bus.
type testPeer struct {
	client *client.Client
	server *Server
	key    string
}

func newTestPeer(t *testing.T, bus *mem.Bus, username string) *testPeer {
	t.Helper()

	node, err := bus.NewNode()
	require.NoError(t, err)

	db, err := storage.NewChatDB(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	c := client.New(protocol.NewService(node), db, username)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(c.Stop)

	own, err := c.OwnInfo(context.Background())
	require.NoError(t, err)

	return &testPeer{
		client: c,
		server: NewServer(c, DefaultConfig()),
		key:    own.PublicKey,
	}
}

func (p *testPeer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	p.server.Router().ServeHTTP(w, req)
	return w
}

func TestStatusEndpoint(t *testing.T) {
	bus := mem.NewBus()
	peer := newTestPeer(t, bus, "alice")

	w := peer.do(t, "GET", "/api/v1/status", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.True(t, resp.Ready)
	assert.Equal(t, peer.key, resp.PublicKey)
	assert.NotEmpty(t, resp.OverlayAddress)
}

func TestHealthEndpoint(t *testing.T) {
	bus := mem.NewBus()
	peer := newTestPeer(t, bus, "alice")

	w := peer.do(t, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestContactRequestValidation(t *testing.T) {
	bus := mem.NewBus()
	peer := newTestPeer(t, bus, "alice")

	tests := []struct {
		name string
		body interface{}
		code int
	}{
		{"missing key", map[string]string{}, http.StatusBadRequest},
		{"malformed key", map[string]string{"key": "nothex"}, http.StatusBadRequest},
		{"unknown peer", map[string]string{"key": "0xdeadbeef"}, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := peer.do(t, "POST", "/api/v1/contacts/request", tt.body)
			assert.Equal(t, tt.code, w.Code)
		})
	}
}

// TestHandshakeAndChatOverAPI walks the full flow through the REST
// surface of two nodes sharing one bus.
func TestHandshakeAndChatOverAPI(t *testing.T) {
	bus := mem.NewBus()
	alice := newTestPeer(t, bus, "alice")
	bob := newTestPeer(t, bus, "bob")

	// alice invites bob
	w := alice.do(t, "POST", "/api/v1/contacts/request", map[string]string{
		"key":      bob.key,
		"greeting": "hi bob",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// bob's inbox processes the request asynchronously
	require.Eventually(t, func() bool {
		contact, err := bob.client.Contact(alice.key)
		return err == nil && contact.State == storage.StateReceivedPending
	}, 2*time.Second, 20*time.Millisecond, "request never reached bob")

	// bob sees the pending contact with the greeting
	w = bob.do(t, "GET", "/api/v1/contacts", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listing struct {
		Contacts []ContactInfo `json:"contacts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
	require.Len(t, listing.Contacts, 1)
	assert.Equal(t, "alice", listing.Contacts[0].Username)
	assert.Equal(t, "hi bob", listing.Contacts[0].Greeting)
	assert.Equal(t, string(storage.StateReceivedPending), listing.Contacts[0].State)

	// bob accepts
	w = bob.do(t, "POST", "/api/v1/contacts/"+alice.key+"/accept", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	require.Eventually(t, func() bool {
		contact, err := alice.client.Contact(bob.key)
		return err == nil && contact.State == storage.StateAdded
	}, 2*time.Second, 20*time.Millisecond, "acceptance never reached alice")

	// alice sends a message
	w = alice.do(t, "POST", "/api/v1/chats/"+bob.key+"/messages", map[string]string{
		"text": "hello over the api",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	require.Eventually(t, func() bool {
		history, err := bob.client.History(alice.key, 0)
		return err == nil && len(history) == 1
	}, 2*time.Second, 20*time.Millisecond, "message never reached bob")

	w = bob.do(t, "GET", "/api/v1/chats/"+alice.key+"/messages", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var chat struct {
		Messages []MessageInfo `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &chat))
	require.Len(t, chat.Messages, 1)
	assert.Equal(t, "hello over the api", chat.Messages[0].Text)
	assert.False(t, chat.Messages[0].IsOutgoing)
	assert.NotZero(t, chat.Messages[0].Timestamp)
}

func TestAcceptWithoutPendingRequest(t *testing.T) {
	bus := mem.NewBus()
	peer := newTestPeer(t, bus, "alice")

	w := peer.do(t, "POST", "/api/v1/contacts/0xabcd/accept", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSendMessageWithoutChannel(t *testing.T) {
	bus := mem.NewBus()
	peer := newTestPeer(t, bus, "alice")

	w := peer.do(t, "POST", "/api/v1/chats/0xabcd/messages", map[string]string{"text": "hi"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRateLimiterEvictsExpiredCounters(t *testing.T) {
	rl := NewRateLimiter(10)
	require.True(t, rl.Allow("10.0.0.1"))
	require.True(t, rl.Allow("10.0.0.2"))

	rl.evictExpired(time.Now().Add(2 * time.Minute))

	rl.mu.Lock()
	remaining := len(rl.requests)
	rl.mu.Unlock()
	assert.Equal(t, 0, remaining)

	// a live counter survives a sweep
	require.True(t, rl.Allow("10.0.0.3"))
	rl.evictExpired(time.Now())
	rl.mu.Lock()
	remaining = len(rl.requests)
	rl.mu.Unlock()
	assert.Equal(t, 1, remaining)
}
