package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/swarmchat/swarmchat-node/pkg/client"
	"github.com/swarmchat/swarmchat-node/pkg/storage"
)

// StatusResponse describes the node's identity state
type StatusResponse struct {
	Success        bool   `json:"success"`
	Ready          bool   `json:"ready"`
	PublicKey      string `json:"publicKey,omitempty"`
	OverlayAddress string `json:"overlayAddress,omitempty"`
}

// ContactInfo is the API view of a contact
type ContactInfo struct {
	Key            string `json:"key"`
	Username       string `json:"username,omitempty"`
	OverlayAddress string `json:"overlayAddress,omitempty"`
	State          string `json:"state"`
	Greeting       string `json:"greeting,omitempty"`
	AddedAt        int64  `json:"addedAt"`
}

// MessageInfo is the API view of a stored chat message
type MessageInfo struct {
	Text       string `json:"text"`
	Timestamp  int64  `json:"utc_timestamp"`
	IsOutgoing bool   `json:"outgoing"`
}

// ContactRequestBody is the body of POST /contacts/request
type ContactRequestBody struct {
	Key      string `json:"key" binding:"required"`
	Greeting string `json:"greeting"`
}

// SendMessageBody is the body of POST /chats/:key/messages
type SendMessageBody struct {
	Text string `json:"text" binding:"required"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleStatus handles GET /api/v1/status. The identity resolves lazily,
// so a fresh node reports ready=false until the first protocol operation
// completes.
func (s *Server) handleStatus(c *gin.Context) {
	resp := StatusResponse{Success: true, Ready: s.client.HasOwnInfo()}
	if resp.Ready {
		own, err := s.client.OwnInfo(c.Request.Context())
		if err == nil {
			resp.PublicKey = own.PublicKey
			resp.OverlayAddress = own.OverlayAddress
		}
	}
	c.JSON(http.StatusOK, resp)
}

// handleListContacts handles GET /api/v1/contacts
func (s *Server) handleListContacts(c *gin.Context) {
	contacts, err := s.client.Contacts()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	out := make([]ContactInfo, 0, len(contacts))
	for _, contact := range contacts {
		out = append(out, ContactInfo{
			Key:            contact.Key,
			Username:       contact.Username,
			OverlayAddress: contact.OverlayAddress,
			State:          string(contact.State),
			Greeting:       contact.Greeting,
			AddedAt:        contact.AddedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "contacts": out})
}

// handleContactRequest handles POST /api/v1/contacts/request
func (s *Server) handleContactRequest(c *gin.Context) {
	var body ContactRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "key is required"})
		return
	}
	if !validKey(body.Key) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "key must be 0x-prefixed hex"})
		return
	}

	if err := s.client.RequestContact(c.Request.Context(), body.Key, body.Greeting); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// handleContactAccept handles POST /api/v1/contacts/:key/accept
func (s *Server) handleContactAccept(c *gin.Context) {
	key := c.Param("key")
	if err := s.client.AcceptContact(c.Request.Context(), key); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, client.ErrNoPendingInvite) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// handleContactDecline handles POST /api/v1/contacts/:key/decline
func (s *Server) handleContactDecline(c *gin.Context) {
	key := c.Param("key")
	if err := s.client.DeclineContact(c.Request.Context(), key); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, client.ErrNoPendingInvite) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// handleGetMessages handles GET /api/v1/chats/:key/messages?limit=N
func (s *Server) handleGetMessages(c *gin.Context) {
	key := c.Param("key")
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid limit"})
			return
		}
		limit = parsed
	}

	messages, err := s.client.History(key, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	out := make([]MessageInfo, 0, len(messages))
	for _, msg := range messages {
		out = append(out, MessageInfo{
			Text:       msg.Text,
			Timestamp:  msg.Timestamp,
			IsOutgoing: msg.IsOutgoing,
		})
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "messages": out})
}

// handleSendMessage handles POST /api/v1/chats/:key/messages
func (s *Server) handleSendMessage(c *gin.Context) {
	key := c.Param("key")

	var body SendMessageBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "text is required"})
		return
	}

	if err := s.client.SendMessage(c.Request.Context(), key, body.Text); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, client.ErrNotEstablished) || errors.Is(err, storage.ErrNotFound) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func validKey(key string) bool {
	if !strings.HasPrefix(key, "0x") || len(key) < 4 {
		return false
	}
	for _, r := range key[2:] {
		ok := (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
		if !ok {
			return false
		}
	}
	return true
}
