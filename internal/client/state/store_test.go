package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func conv(id string) Conversation {
	return Conversation{ID: id, Participant: &Participant{ID: "peer-" + id, Username: "peer-" + id}}
}

func msg(id, convID, sender, content string) Message {
	return Message{ID: id, ConversationID: convID, SenderID: sender, Content: content, CreatedAt: time.Now()}
}

func TestAppendMessageMovesConversationToFront(t *testing.T) {
	s := New()
	s.ReplaceConversationList([]Conversation{conv("a"), conv("b"), conv("c")})

	s.AppendMessage("c", msg("m1", "c", "peer-c", "hi"))

	convs := s.Conversations()
	require.Len(t, convs, 3)
	assert.Equal(t, "c", convs[0].ID)
	assert.Equal(t, "a", convs[1].ID)
	assert.Equal(t, "b", convs[2].ID)

	require.NotNil(t, convs[0].LastMessage)
	assert.Equal(t, "hi", convs[0].LastMessage.Content)
	assert.Equal(t, "peer-c", convs[0].LastMessage.SenderID)
}

func TestAppendMessageUnknownConversationCreatesList(t *testing.T) {
	s := New()
	s.AppendMessage("ghost", msg("m1", "ghost", "u1", "hello"))

	msgs := s.Messages("ghost")
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)
}

func TestUnreadNeverNegative(t *testing.T) {
	s := New()
	s.ReplaceConversationList([]Conversation{conv("a")})

	// MarkRead with nothing unread stays at zero.
	s.MarkRead("a", nil)
	assert.Equal(t, 0, s.UnreadCount("a"))

	s.IncrementUnread("a")
	s.IncrementUnread("a")
	assert.Equal(t, 2, s.UnreadCount("a"))

	s.MarkRead("a", nil)
	assert.Equal(t, 0, s.UnreadCount("a"))
	s.MarkRead("a", nil)
	assert.Equal(t, 0, s.UnreadCount("a"))
}

func TestMarkReadFlipsFlags(t *testing.T) {
	s := New()
	s.ReplaceConversationList([]Conversation{conv("a")})
	s.AppendMessage("a", msg("m1", "a", "peer-a", "one"))
	s.AppendMessage("a", msg("m2", "a", "peer-a", "two"))

	s.MarkRead("a", []string{"m1"})

	msgs := s.Messages("a")
	require.Len(t, msgs, 2)
	assert.True(t, msgs[0].Read)
	assert.False(t, msgs[1].Read)
}

func TestReplaceMessageListMergesLiveAppends(t *testing.T) {
	s := New()
	s.ReplaceConversationList([]Conversation{conv("a")})
	s.IncrementUnread("a")

	// A live message lands while the history fetch is in flight.
	s.AppendMessage("a", msg("live", "a", "peer-a", "fresh"))

	history := []Message{
		msg("h1", "a", "peer-a", "old one"),
		msg("h2", "a", "me", "old two"),
	}
	s.ReplaceMessageList("a", history)

	msgs := s.Messages("a")
	require.Len(t, msgs, 3)
	assert.Equal(t, "h1", msgs[0].ID)
	assert.Equal(t, "h2", msgs[1].ID)
	assert.Equal(t, "live", msgs[2].ID)

	// Viewing history zeroes the unread counter.
	assert.Equal(t, 0, s.UnreadCount("a"))
}

func TestReplaceMessageListDeduplicates(t *testing.T) {
	s := New()
	s.AppendMessage("a", msg("m1", "a", "peer-a", "echo"))

	s.ReplaceMessageList("a", []Message{msg("m1", "a", "peer-a", "echo")})

	assert.Len(t, s.Messages("a"), 1)
}

func TestUpsertConversationIdempotent(t *testing.T) {
	s := New()
	s.ReplaceConversationList([]Conversation{conv("a"), conv("b")})
	s.IncrementUnread("b")

	// Existing entry stays where it is, untouched.
	s.UpsertConversation(conv("b"))
	convs := s.Conversations()
	require.Len(t, convs, 2)
	assert.Equal(t, "a", convs[0].ID)
	assert.Equal(t, 1, s.UnreadCount("b"))

	// New entry is prepended.
	s.UpsertConversation(conv("c"))
	convs = s.Conversations()
	require.Len(t, convs, 3)
	assert.Equal(t, "c", convs[0].ID)
}

func TestTypingPeers(t *testing.T) {
	s := New()
	s.SetTyping("a", "u1", true)
	s.SetTyping("a", "u2", true)
	assert.ElementsMatch(t, []string{"u1", "u2"}, s.TypingPeers("a"))

	s.SetTyping("a", "u1", false)
	assert.Equal(t, []string{"u2"}, s.TypingPeers("a"))

	// Clearing an absent peer is harmless.
	s.SetTyping("a", "ghost", false)
	s.SetTyping("b", "ghost", false)
	assert.Equal(t, []string{"u2"}, s.TypingPeers("a"))
}

func TestPresence(t *testing.T) {
	s := New()
	assert.False(t, s.Online("u1"))
	s.SetPresence("u1", true)
	assert.True(t, s.Online("u1"))
	s.SetPresence("u1", false)
	assert.False(t, s.Online("u1"))
}

func TestResetClearsEverything(t *testing.T) {
	s := New()
	s.ReplaceConversationList([]Conversation{conv("a")})
	s.AppendMessage("a", msg("m1", "a", "peer-a", "hi"))
	s.SetActiveConversation("a")
	s.SetPresence("u1", true)
	s.SetTyping("a", "u1", true)
	s.SetConnected(true)
	s.SetError("boom")

	s.Reset()

	assert.Empty(t, s.Conversations())
	assert.Empty(t, s.Messages("a"))
	assert.Equal(t, "", s.ActiveConversation())
	assert.False(t, s.Online("u1"))
	assert.Empty(t, s.TypingPeers("a"))
	assert.False(t, s.Connected())
	assert.Equal(t, "", s.LastError())
}

func TestOnChangeFires(t *testing.T) {
	s := New()
	var calls int
	s.OnChange(func() { calls++ })

	s.SetConnected(true)
	s.SetActiveConversation("a")
	s.AppendMessage("a", msg("m1", "a", "u1", "hi"))

	assert.Equal(t, 3, calls)
}

func TestReadersReturnCopies(t *testing.T) {
	s := New()
	s.ReplaceConversationList([]Conversation{conv("a")})
	s.AppendMessage("a", msg("m1", "a", "peer-a", "hi"))

	convs := s.Conversations()
	convs[0].ID = "mutated"
	assert.Equal(t, "a", s.Conversations()[0].ID)

	msgs := s.Messages("a")
	msgs[0].Content = "mutated"
	assert.Equal(t, "hi", s.Messages("a")[0].Content)
}
