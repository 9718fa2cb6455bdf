package state

import "time"

// Participant is the other user's profile snapshot as of last server sync.
type Participant struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Attachment is the descriptor returned by the file-storage collaborator.
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

// MessageSummary is the lastMessage preview carried on a conversation.
type MessageSummary struct {
	Content   string    `json:"content"`
	SenderID  string    `json:"sender_id"`
	CreatedAt time.Time `json:"created_at"`
}

type Conversation struct {
	ID          string          `json:"id"`
	Participant *Participant    `json:"participant"`
	LastMessage *MessageSummary `json:"last_message,omitempty"`
	UnreadCount int             `json:"unread_count"`
}
