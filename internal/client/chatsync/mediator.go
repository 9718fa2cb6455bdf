package chatsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/driftlab/driftmsg/internal/client/debug"
	"github.com/driftlab/driftmsg/internal/client/state"
	"github.com/driftlab/driftmsg/internal/client/transport"
)

var ErrEmptyMessage = errors.New("message needs text or an image")

// Transport is the outbound half of the connection manager. A nil *Conn
// satisfies it: every call degrades to a no-op while chat is unavailable.
type Transport interface {
	JoinRoom(conversationID string)
	LeaveRoom(conversationID string)
	Emit(event string, payload any)
	Close() error
}

// API is the REST collaborator surface the mediator consumes.
type API interface {
	Conversations(ctx context.Context) ([]state.Conversation, error)
	Messages(ctx context.Context, conversationID string) ([]state.Message, error)
	FindOrCreateConversation(ctx context.Context, peerID string) (state.Conversation, error)
	SearchUsers(ctx context.Context, query string) ([]state.Participant, error)
	UploadImage(ctx context.Context, filename string, data []byte) (state.Attachment, error)
}

// Mediator glues user intent, transport and store together. It is the only
// component that calls both sides, which keeps the data flow one-way:
// UI intent -> mediator -> transport, and transport event -> mediator -> store.
type Mediator struct {
	store  *state.Store
	tr     Transport
	api    API
	selfID string

	// Trailing-edge quiet period before emitting typing:false, and how long
	// a peer's typing flag survives without a refresh. TTL runs a little
	// longer than the sender's idle period so a clean stop event usually
	// arrives first.
	TypingIdle time.Duration
	TypingTTL  time.Duration

	mu            sync.Mutex
	activationSeq uint64
	typingConv    string
	typingTimer   *time.Timer
	peerTyping    map[string]*time.Timer
	pending       map[string]*pendingConv
}

type pendingConv struct {
	done chan struct{}
	conv state.Conversation
	err  error
}

func New(store *state.Store, tr Transport, apiClient API, selfID string) *Mediator {
	if tr == nil {
		tr = noopTransport{}
	}
	return &Mediator{
		store:      store,
		tr:         tr,
		api:        apiClient,
		selfID:     selfID,
		TypingIdle: time.Second,
		TypingTTL:  1500 * time.Millisecond,
		peerTyping: make(map[string]*time.Timer),
		pending:    make(map[string]*pendingConv),
	}
}

// SetTransport swaps in the live connection once it exists. Until then every
// outbound intent is safely swallowed, which is also the degraded mode when
// no credential was available.
func (m *Mediator) SetTransport(tr Transport) {
	if tr == nil {
		return
	}
	m.mu.Lock()
	m.tr = tr
	m.mu.Unlock()
}

func (m *Mediator) transport() Transport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tr
}

// noopTransport is the "chat unavailable" transport.
type noopTransport struct{}

func (noopTransport) JoinRoom(string)  {}
func (noopTransport) LeaveRoom(string) {}
func (noopTransport) Emit(string, any) {}
func (noopTransport) Close() error     { return nil }

// --- Wire payloads ---

type sendMessagePayload struct {
	Content        string            `json:"content,omitempty"`
	RecipientID    string            `json:"recipient_id"`
	ConversationID string            `json:"conversation_id"`
	Image          *state.Attachment `json:"image,omitempty"`
}

type markAsReadPayload struct {
	ConversationID string   `json:"conversation_id"`
	MessageIDs     []string `json:"message_ids"`
}

type typingPayload struct {
	ConversationID string `json:"conversation_id"`
	IsTyping       bool   `json:"is_typing"`
}

type userStatusPayload struct {
	UserID string `json:"user_id"`
	Status string `json:"status"`
}

type userTypingPayload struct {
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id"`
	IsTyping       bool   `json:"is_typing"`
}

type messagesReadPayload struct {
	Reader         string   `json:"reader"`
	MessageIDs     []string `json:"message_ids"`
	ConversationID string   `json:"conversation_id"`
}

// --- Inbound events ---

// HandleEvent is registered with the transport and receives every inbound
// event in arrival order. Errors never escape to the UI from here; they land
// in the store's status fields or the debug log.
func (m *Mediator) HandleEvent(ev transport.Event) {
	switch ev.Type {
	case transport.EventConnected:
		m.store.SetConnected(true)
		if active := m.store.ActiveConversation(); active != "" {
			m.transport().JoinRoom(active)
		}

	case transport.EventDisconnected:
		m.store.SetConnected(false)

	case transport.EventConnectError:
		var cause string
		json.Unmarshal(ev.Payload, &cause)
		debug.Log("sync: connect error: %s", cause)
		m.store.SetConnected(false)

	case transport.EventNewMessage:
		var msg state.Message
		if err := json.Unmarshal(ev.Payload, &msg); err != nil {
			debug.Log("sync: bad newMessage payload: %v", err)
			return
		}
		m.handleNewMessage(msg)

	case transport.EventUserStatus:
		var p userStatusPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return
		}
		m.store.SetPresence(p.UserID, p.Status == "online")

	case transport.EventUserTyping:
		var p userTypingPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return
		}
		m.handleUserTyping(p)

	case transport.EventMessagesRead:
		var p messagesReadPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return
		}
		m.store.MarkRead(p.ConversationID, p.MessageIDs)
	}
}

func (m *Mediator) handleNewMessage(msg state.Message) {
	m.store.AppendMessage(msg.ConversationID, msg)
	if msg.SenderID == m.selfID {
		return
	}
	if m.store.ActiveConversation() == msg.ConversationID {
		// Reading it live: acknowledge immediately.
		m.store.MarkRead(msg.ConversationID, []string{msg.ID})
		m.transport().Emit(transport.EventMarkAsRead, markAsReadPayload{
			ConversationID: msg.ConversationID,
			MessageIDs:     []string{msg.ID},
		})
		return
	}
	m.store.IncrementUnread(msg.ConversationID)
}

// Auto-expire a peer's typing flag so a dropped final event cannot leave a
// stuck indicator.
func (m *Mediator) handleUserTyping(p userTypingPayload) {
	m.store.SetTyping(p.ConversationID, p.UserID, p.IsTyping)

	key := p.ConversationID + "\x00" + p.UserID
	m.mu.Lock()
	if t := m.peerTyping[key]; t != nil {
		t.Stop()
		delete(m.peerTyping, key)
	}
	if p.IsTyping {
		m.peerTyping[key] = time.AfterFunc(m.TypingTTL, func() {
			m.mu.Lock()
			delete(m.peerTyping, key)
			m.mu.Unlock()
			m.store.SetTyping(p.ConversationID, p.UserID, false)
		})
	}
	m.mu.Unlock()
}

// --- User intents ---

// RefreshConversations runs the bulk fetch at session start.
func (m *Mediator) RefreshConversations(ctx context.Context) error {
	convs, err := m.api.Conversations(ctx)
	if err != nil {
		m.store.SetError("failed to load conversations")
		return err
	}
	m.store.ReplaceConversationList(convs)
	return nil
}

// SetActiveConversation focuses a conversation: joins its room, fetches its
// history and acknowledges the backlog. Switching again while the fetch is in
// flight makes the earlier result stale; stale results are discarded without
// touching the store.
func (m *Mediator) SetActiveConversation(ctx context.Context, id string) {
	m.mu.Lock()
	m.activationSeq++
	seq := m.activationSeq
	m.mu.Unlock()

	prev := m.store.ActiveConversation()
	if prev != "" && prev != id {
		m.transport().LeaveRoom(prev)
	}
	m.store.SetActiveConversation(id)
	if id == "" {
		return
	}
	m.transport().JoinRoom(id)
	m.store.SetHistoryLoading(true)

	go func() {
		msgs, err := m.api.Messages(ctx, id)

		m.mu.Lock()
		stale := seq != m.activationSeq
		m.mu.Unlock()
		if stale || m.store.ActiveConversation() != id {
			return
		}

		m.store.SetHistoryLoading(false)
		if err != nil {
			m.store.SetError("failed to load messages")
			return
		}
		m.store.ReplaceMessageList(id, msgs)
		m.acknowledgeBacklog(id)
	}()
}

// acknowledgeBacklog collects every unread peer message in one batch and
// emits a single markAsRead.
func (m *Mediator) acknowledgeBacklog(conversationID string) {
	var ids []string
	for _, msg := range m.store.Messages(conversationID) {
		if msg.SenderID != m.selfID && !msg.Read {
			ids = append(ids, msg.ID)
		}
	}
	if len(ids) == 0 {
		return
	}
	m.store.MarkRead(conversationID, ids)
	m.transport().Emit(transport.EventMarkAsRead, markAsReadPayload{
		ConversationID: conversationID,
		MessageIDs:     ids,
	})
}

// Draft is a composed message: text, an image, or both.
type Draft struct {
	Text     string
	Filename string
	Data     []byte
}

// SendMessage validates and emits a message. When an image is attached it is
// uploaded first; an upload failure aborts the whole send so the user never
// silently loses the attachment. No optimistic local append happens: the
// message lands via the server's newMessage echo with its assigned id and
// timestamp.
func (m *Mediator) SendMessage(ctx context.Context, conversationID, recipientID string, draft Draft) error {
	text := strings.TrimSpace(draft.Text)
	if text == "" && len(draft.Data) == 0 {
		return ErrEmptyMessage
	}

	var image *state.Attachment
	if len(draft.Data) > 0 {
		att, err := m.api.UploadImage(ctx, draft.Filename, draft.Data)
		if err != nil {
			return fmt.Errorf("image upload failed: %w", err)
		}
		image = &att
	}

	m.endTypingBurst(conversationID)
	m.transport().Emit(transport.EventSendMessage, sendMessagePayload{
		Content:        text,
		RecipientID:    recipientID,
		ConversationID: conversationID,
		Image:          image,
	})
	return nil
}

// Typing reports local keystroke activity. The first keystroke of a burst
// emits typing:true; a trailing timer emits typing:false after the quiet
// period, and every further keystroke just resets that timer.
func (m *Mediator) Typing(conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.typingConv != conversationID || m.typingTimer == nil {
		if m.typingTimer != nil {
			m.typingTimer.Stop()
			m.emitTyping(m.typingConv, false)
		}
		m.typingConv = conversationID
		m.emitTyping(conversationID, true)
	}
	if m.typingTimer != nil {
		m.typingTimer.Stop()
	}
	m.typingTimer = time.AfterFunc(m.TypingIdle, func() {
		m.typingExpired(conversationID)
	})
}

func (m *Mediator) typingExpired(conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.typingConv != conversationID {
		return
	}
	m.typingTimer = nil
	m.typingConv = ""
	m.emitTyping(conversationID, false)
}

// endTypingBurst closes an open burst early, e.g. when the draft is sent.
func (m *Mediator) endTypingBurst(conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.typingConv != conversationID || m.typingTimer == nil {
		return
	}
	m.typingTimer.Stop()
	m.typingTimer = nil
	m.typingConv = ""
	m.emitTyping(conversationID, false)
}

// emitTyping must be called with m.mu held.
func (m *Mediator) emitTyping(conversationID string, isTyping bool) {
	m.tr.Emit(transport.EventTyping, typingPayload{
		ConversationID: conversationID,
		IsTyping:       isTyping,
	})
}

// StartConversation performs the idempotent find-or-create against the
// server. Concurrent calls for the same peer share one request, so a double
// invocation can never produce two store entries for the same peer.
func (m *Mediator) StartConversation(ctx context.Context, peerID string) (state.Conversation, error) {
	m.mu.Lock()
	if p, ok := m.pending[peerID]; ok {
		m.mu.Unlock()
		<-p.done
		return p.conv, p.err
	}
	p := &pendingConv{done: make(chan struct{})}
	m.pending[peerID] = p
	m.mu.Unlock()

	p.conv, p.err = m.api.FindOrCreateConversation(ctx, peerID)
	if p.err == nil {
		m.store.UpsertConversation(p.conv)
	}
	close(p.done)

	m.mu.Lock()
	delete(m.pending, peerID)
	m.mu.Unlock()
	return p.conv, p.err
}

// SearchUsers relays to the REST collaborator. The local user never appears
// in the results.
func (m *Mediator) SearchUsers(ctx context.Context, query string) ([]state.Participant, error) {
	users, err := m.api.SearchUsers(ctx, query)
	if err != nil {
		return nil, err
	}
	out := users[:0]
	for _, u := range users {
		if u.ID != m.selfID {
			out = append(out, u)
		}
	}
	return out, nil
}

// Logout disconnects the transport and clears the cache. Nothing keeps
// delivering events afterwards: the closed transport stops the read loop, and
// pending timers only touch maps that Reset has emptied.
func (m *Mediator) Logout() {
	m.mu.Lock()
	if m.typingTimer != nil {
		m.typingTimer.Stop()
		m.typingTimer = nil
	}
	m.typingConv = ""
	for key, t := range m.peerTyping {
		t.Stop()
		delete(m.peerTyping, key)
	}
	m.mu.Unlock()

	m.transport().Close()
	m.store.Reset()
}
