package ws

import (
	"encoding/json"
	"log"

	"github.com/gorilla/websocket"

	"github.com/driftlab/driftmsg/internal/server/models"
	"github.com/driftlab/driftmsg/internal/server/storage"
)

type Client struct {
	Hub    *Hub
	Conn   *websocket.Conn
	Send   chan []byte
	Store  *storage.Store
	UserID string
	IP     string
}

func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister <- c
		c.Conn.Close()
	}()

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			break
		}

		var ev models.WSEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Printf("JSON Unmarshal error: %v", err)
			continue
		}

		c.ProcessEvent(ev)
	}
}

func (c *Client) WritePump() {
	defer func() {
		c.Conn.Close()
	}()
	for msg := range c.Send {
		c.Conn.WriteMessage(websocket.TextMessage, msg)
	}
}

func (c *Client) ProcessEvent(ev models.WSEvent) {
	switch ev.Type {
	case "joinConversation":
		var convID string
		json.Unmarshal(ev.Payload, &convID)
		if convID == "" || !c.Store.IsParticipant(convID, c.UserID) {
			return
		}
		c.Hub.JoinRoom(convID, c)

	case "leaveConversation":
		var convID string
		json.Unmarshal(ev.Payload, &convID)
		c.Hub.LeaveRoom(convID, c)

	case "sendMessage":
		var payload models.SendMessagePayload
		json.Unmarshal(ev.Payload, &payload)
		c.handleSendMessage(payload)

	case "markAsRead":
		var payload models.MarkAsReadPayload
		json.Unmarshal(ev.Payload, &payload)
		c.handleMarkAsRead(payload)

	case "typing":
		var payload models.TypingPayload
		json.Unmarshal(ev.Payload, &payload)
		if !c.Store.IsParticipant(payload.ConversationID, c.UserID) {
			return
		}
		c.Hub.BroadcastRoom(payload.ConversationID, c, MarshalEvent("userTyping", models.UserTypingPayload{
			UserID:         c.UserID,
			ConversationID: payload.ConversationID,
			IsTyping:       payload.IsTyping,
		}))
	}
}

// handleSendMessage persists the message and fans it out to both
// participants. The sender gets the same newMessage event as the recipient:
// the echo carries the server-assigned id and timestamp.
func (c *Client) handleSendMessage(payload models.SendMessagePayload) {
	if payload.Content == "" && payload.Image == nil {
		return
	}

	// The conversation's actual peer wins over whatever recipient the
	// payload claims.
	peerID, err := c.Store.PeerOf(payload.ConversationID, c.UserID)
	if err != nil {
		log.Printf("sendMessage from %s: %v", c.UserID, err)
		return
	}

	msg, err := c.Store.SaveMessage(payload.ConversationID, c.UserID, payload.Content, payload.Image)
	if err != nil {
		log.Printf("SaveMessage: %v", err)
		return
	}

	data := MarshalEvent("newMessage", msg)
	c.Hub.SendToUser(c.UserID, data)
	c.Hub.SendToUser(peerID, data)
}

func (c *Client) handleMarkAsRead(payload models.MarkAsReadPayload) {
	if len(payload.MessageIDs) == 0 {
		return
	}

	changed, err := c.Store.MarkRead(payload.ConversationID, c.UserID, payload.MessageIDs)
	if err != nil {
		log.Printf("MarkRead: %v", err)
		return
	}
	if len(changed) == 0 {
		return
	}

	peerID, err := c.Store.PeerOf(payload.ConversationID, c.UserID)
	if err != nil {
		return
	}
	c.Hub.SendToUser(peerID, MarshalEvent("messagesRead", models.MessagesReadPayload{
		Reader:         c.UserID,
		MessageIDs:     changed,
		ConversationID: payload.ConversationID,
	}))
}
