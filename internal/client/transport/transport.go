package transport

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/driftlab/driftmsg/internal/client/debug"
)

// Server event names. Lifecycle notifications are surfaced through the same
// handler as synthetic events.
const (
	EventNewMessage   = "newMessage"
	EventUserStatus   = "userStatus"
	EventUserTyping   = "userTyping"
	EventMessagesRead = "messagesRead"

	EventConnected    = "connected"
	EventDisconnected = "disconnected"
	EventConnectError = "connectError"
)

// Client intent event names.
const (
	EventJoinConversation  = "joinConversation"
	EventLeaveConversation = "leaveConversation"
	EventSendMessage       = "sendMessage"
	EventMarkAsRead        = "markAsRead"
	EventTyping            = "typing"
)

const (
	writeWait      = 3 * time.Second
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 30 * time.Second
)

// Event is the wire envelope. Payload stays raw; the handler decodes it.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Handler receives every inbound event, in arrival order.
type Handler func(Event)

// Conn owns the single live websocket session to the messaging server. All
// methods are safe on a nil receiver: a nil *Conn is the "chat unavailable"
// state, and every intent becomes a no-op.
type Conn struct {
	url     string
	token   string
	handler Handler

	mu     sync.Mutex
	ws     *websocket.Conn
	closed bool
}

// Dial establishes the session, authenticating with the supplied bearer
// token. An empty token returns nil: the caller treats chat as unavailable,
// not as a fatal error. A failed dial is also non-fatal; the connection keeps
// retrying in the background until Close.
func Dial(url, token string, handler Handler) *Conn {
	if token == "" {
		debug.Log("transport: no credential, chat unavailable")
		return nil
	}

	c := &Conn{url: url, token: token, handler: handler}
	ws, err := c.dial()
	if err != nil {
		handler(errorEvent(err))
		go func() {
			if c.reconnect() {
				c.readLoop()
			}
		}()
		return c
	}

	c.ws = ws
	handler(Event{Type: EventConnected})
	go c.readLoop()
	return c
}

func (c *Conn) dial() (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)
	ws, _, err := websocket.DefaultDialer.Dial(c.url, header)
	return ws, err
}

// JoinRoom subscribes the session to a conversation's room. Idempotent on the
// server side; a no-op while disconnected.
func (c *Conn) JoinRoom(conversationID string) {
	c.Emit(EventJoinConversation, conversationID)
}

func (c *Conn) LeaveRoom(conversationID string) {
	c.Emit(EventLeaveConversation, conversationID)
}

// Emit sends a fire-and-forget outbound event. No-op if the session is not
// live; write failures are left to the read loop to detect.
func (c *Conn) Emit(event string, payload any) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws == nil || c.closed {
		return
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		debug.Log("transport: marshal %s: %v", event, err)
		return
	}
	data, _ := json.Marshal(Event{Type: event, Payload: raw})
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		debug.Log("transport: write %s: %v", event, err)
	}
}

// Close tears the session down for good. The read loop stops reconnecting.
func (c *Conn) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.ws != nil {
		c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		c.ws.WriteMessage(websocket.CloseMessage, []byte{})
		return c.ws.Close()
	}
	return nil
}

func (c *Conn) readLoop() {
	for {
		c.mu.Lock()
		ws := c.ws
		closed := c.closed
		c.mu.Unlock()
		if closed || ws == nil {
			return
		}

		_, data, err := ws.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.ws = nil
			c.mu.Unlock()
			if closed {
				return
			}
			debug.Log("transport: read: %v", err)
			c.handler(Event{Type: EventDisconnected})
			if !c.reconnect() {
				return
			}
			continue
		}

		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			debug.Log("transport: bad frame: %v", err)
			continue
		}
		c.handler(ev)
	}
}

// reconnect redials with capped exponential backoff until it succeeds or the
// connection is closed. Reports whether a new session is live.
func (c *Conn) reconnect() bool {
	backoff := initialBackoff
	for {
		time.Sleep(backoff)

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return false
		}
		c.mu.Unlock()

		ws, err := c.dial()
		if err != nil {
			debug.Log("transport: reconnect: %v", err)
			c.handler(errorEvent(err))
			if backoff *= 2; backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			ws.Close()
			return false
		}
		c.ws = ws
		c.mu.Unlock()
		c.handler(Event{Type: EventConnected})
		return true
	}
}

func errorEvent(err error) Event {
	raw, _ := json.Marshal(err.Error())
	return Event{Type: EventConnectError, Payload: raw}
}
