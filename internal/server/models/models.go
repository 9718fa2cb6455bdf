package models

import (
	"encoding/json"
	"time"
)

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	AvatarURL    string    `json:"avatar_url,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

type Attachment struct {
	URL       string `json:"url"`
	SecureURL string `json:"secure_url"`
	PublicID  string `json:"public_id"`
}

type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	SenderID       string      `json:"sender_id"`
	Content        string      `json:"content,omitempty"`
	Image          *Attachment `json:"image,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	Read           bool        `json:"read"`
}

type MessageSummary struct {
	Content   string    `json:"content"`
	SenderID  string    `json:"sender_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Conversation is the per-requester view of a thread: the other participant's
// profile snapshot, the last-message preview and the requester's unread count.
type Conversation struct {
	ID          string          `json:"id"`
	Participant *User           `json:"participant"`
	LastMessage *MessageSummary `json:"last_message,omitempty"`
	UnreadCount int             `json:"unread_count"`
}

// WS Event Types

type WSEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type SendMessagePayload struct {
	Content        string      `json:"content,omitempty"`
	RecipientID    string      `json:"recipient_id"`
	ConversationID string      `json:"conversation_id"`
	Image          *Attachment `json:"image,omitempty"`
}

type MarkAsReadPayload struct {
	ConversationID string   `json:"conversation_id"`
	MessageIDs     []string `json:"message_ids"`
}

type TypingPayload struct {
	ConversationID string `json:"conversation_id"`
	IsTyping       bool   `json:"is_typing"`
}

type UserStatusPayload struct {
	UserID string `json:"user_id"`
	Status string `json:"status"` // "online" or "offline"
}

type UserTypingPayload struct {
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id"`
	IsTyping       bool   `json:"is_typing"`
}

type MessagesReadPayload struct {
	Reader         string   `json:"reader"`
	MessageIDs     []string `json:"message_ids"`
	ConversationID string   `json:"conversation_id"`
}

// REST payloads

type CredentialsPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type StartConversationPayload struct {
	PeerID string `json:"peer_id"`
}

type LoginResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}
