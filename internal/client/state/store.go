package state

import "sync"

// Store is the authoritative in-memory chat cache. It is mutated only through
// the named transitions below; readers get copies. The UI never writes here
// directly, and the transport never touches it either; all mutation goes
// through the mediator.
type Store struct {
	mu sync.Mutex

	conversations []Conversation
	messages      map[string][]Message          // conversation id -> ordered list
	presence      map[string]bool               // user id -> online
	typing        map[string]map[string]bool    // conversation id -> user id -> typing
	activeID      string

	connected      bool
	historyLoading bool
	lastError      string

	notify func()
}

func New() *Store {
	return &Store{
		messages: make(map[string][]Message),
		presence: make(map[string]bool),
		typing:   make(map[string]map[string]bool),
	}
}

// OnChange registers a single callback invoked after every transition.
// It runs outside the store lock.
func (s *Store) OnChange(fn func()) {
	s.mu.Lock()
	s.notify = fn
	s.mu.Unlock()
}

func (s *Store) changed() {
	s.mu.Lock()
	fn := s.notify
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// --- Transitions ---

func (s *Store) SetActiveConversation(id string) {
	s.mu.Lock()
	s.activeID = id
	s.mu.Unlock()
	s.changed()
}

// ReplaceConversationList is a full replace after a bulk fetch. No stale
// entries survive.
func (s *Store) ReplaceConversationList(list []Conversation) {
	s.mu.Lock()
	s.conversations = append([]Conversation(nil), list...)
	s.mu.Unlock()
	s.changed()
}

// AppendMessage appends to the conversation's list (creating it if absent),
// refreshes the conversation's last-message preview and moves the
// conversation to the front of the ordered list.
func (s *Store) AppendMessage(convID string, msg Message) {
	s.mu.Lock()
	s.messages[convID] = append(s.messages[convID], msg)

	for i := range s.conversations {
		if s.conversations[i].ID != convID {
			continue
		}
		c := s.conversations[i]
		c.LastMessage = &MessageSummary{
			Content:   msg.Content,
			SenderID:  msg.SenderID,
			CreatedAt: msg.CreatedAt,
		}
		copy(s.conversations[1:i+1], s.conversations[:i])
		s.conversations[0] = c
		break
	}
	s.mu.Unlock()
	s.changed()
}

// ReplaceMessageList installs the fetched history for a conversation and
// zeroes its unread count (viewing history implies having seen it). Live
// appends that landed while the fetch was in flight are merged after the
// fetched list instead of being discarded.
func (s *Store) ReplaceMessageList(convID string, list []Message) {
	s.mu.Lock()
	merged := append([]Message(nil), list...)
	if existing := s.messages[convID]; len(existing) > 0 {
		seen := make(map[string]struct{}, len(list))
		for _, m := range list {
			seen[m.ID] = struct{}{}
		}
		for _, m := range existing {
			if _, ok := seen[m.ID]; !ok {
				merged = append(merged, m)
			}
		}
	}
	s.messages[convID] = merged
	s.zeroUnreadLocked(convID)
	s.mu.Unlock()
	s.changed()
}

// MarkRead flips the read flag on the matching messages and zeroes the
// conversation's unread count. Partial-read tracking is not supported, so
// this always zeroes rather than decrements.
func (s *Store) MarkRead(convID string, messageIDs []string) {
	s.mu.Lock()
	ids := make(map[string]struct{}, len(messageIDs))
	for _, id := range messageIDs {
		ids[id] = struct{}{}
	}
	list := s.messages[convID]
	for i := range list {
		if _, ok := ids[list[i].ID]; ok {
			list[i].Read = true
		}
	}
	s.zeroUnreadLocked(convID)
	s.mu.Unlock()
	s.changed()
}

// IncrementUnread bumps the unread counter. The mediator only calls this when
// the incoming message's conversation is not the active one.
func (s *Store) IncrementUnread(convID string) {
	s.mu.Lock()
	for i := range s.conversations {
		if s.conversations[i].ID == convID {
			s.conversations[i].UnreadCount++
			break
		}
	}
	s.mu.Unlock()
	s.changed()
}

func (s *Store) SetPresence(userID string, online bool) {
	s.mu.Lock()
	if online {
		s.presence[userID] = true
	} else {
		delete(s.presence, userID)
	}
	s.mu.Unlock()
	s.changed()
}

func (s *Store) SetTyping(convID, userID string, isTyping bool) {
	s.mu.Lock()
	if isTyping {
		if s.typing[convID] == nil {
			s.typing[convID] = make(map[string]bool)
		}
		s.typing[convID][userID] = true
	} else if peers := s.typing[convID]; peers != nil {
		delete(peers, userID)
		if len(peers) == 0 {
			delete(s.typing, convID)
		}
	}
	s.mu.Unlock()
	s.changed()
}

// UpsertConversation backs find-or-create: an existing entry is left exactly
// where it is, untouched; a new one is prepended.
func (s *Store) UpsertConversation(conv Conversation) {
	s.mu.Lock()
	for i := range s.conversations {
		if s.conversations[i].ID == conv.ID {
			s.mu.Unlock()
			s.changed()
			return
		}
	}
	s.conversations = append([]Conversation{conv}, s.conversations...)
	s.mu.Unlock()
	s.changed()
}

// Reset clears everything. Invoked on logout.
func (s *Store) Reset() {
	s.mu.Lock()
	s.conversations = nil
	s.messages = make(map[string][]Message)
	s.presence = make(map[string]bool)
	s.typing = make(map[string]map[string]bool)
	s.activeID = ""
	s.connected = false
	s.historyLoading = false
	s.lastError = ""
	s.mu.Unlock()
	s.changed()
}

// --- Status flags (observed by the UI instead of raw errors) ---

func (s *Store) SetConnected(connected bool) {
	s.mu.Lock()
	s.connected = connected
	s.mu.Unlock()
	s.changed()
}

func (s *Store) SetHistoryLoading(loading bool) {
	s.mu.Lock()
	s.historyLoading = loading
	s.mu.Unlock()
	s.changed()
}

func (s *Store) SetError(msg string) {
	s.mu.Lock()
	s.lastError = msg
	s.mu.Unlock()
	s.changed()
}

func (s *Store) zeroUnreadLocked(convID string) {
	for i := range s.conversations {
		if s.conversations[i].ID == convID {
			s.conversations[i].UnreadCount = 0
			break
		}
	}
}

// --- Readers ---

func (s *Store) ActiveConversation() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

func (s *Store) Conversations() []Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Conversation(nil), s.conversations...)
}

func (s *Store) Messages(convID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages[convID]...)
}

func (s *Store) UnreadCount(convID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.conversations {
		if s.conversations[i].ID == convID {
			return s.conversations[i].UnreadCount
		}
	}
	return 0
}

func (s *Store) Online(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presence[userID]
}

// TypingPeers reports the users currently typing in a conversation.
func (s *Store) TypingPeers(convID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for userID := range s.typing[convID] {
		out = append(out, userID)
	}
	return out
}

func (s *Store) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Store) HistoryLoading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.historyLoading
}

func (s *Store) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}
