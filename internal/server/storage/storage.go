package storage

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/driftlab/driftmsg/internal/server/models"
)

type Store struct {
	db *sql.DB
}

func New() *Store {
	connStr := os.Getenv("DATABASE_URL")
	if connStr == "" {
		connStr = "postgres://localhost/driftmsg?sslmode=disable"
	}

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	if err = db.Ping(); err != nil {
		log.Fatal("Failed to ping database:", err)
	}

	log.Println("Connected to database")
	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		log.Fatal("Failed to initialize schema:", err)
	}
	return s
}

func (s *Store) Close() {
	s.db.Close()
}

func (s *Store) ensureSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			avatar_url TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			user_a TEXT NOT NULL REFERENCES users(id),
			user_b TEXT NOT NULL REFERENCES users(id),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (user_a, user_b)
		);
		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			sender_id TEXT NOT NULL REFERENCES users(id),
			content TEXT NOT NULL DEFAULT '',
			image_url TEXT,
			image_secure_url TEXT,
			image_public_id TEXT,
			read BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS messages_conversation_idx
			ON messages (conversation_id, created_at);
	`)
	return err
}

// User Methods

func (s *Store) CreateUser(username, passwordHash string) (*models.User, error) {
	u := models.User{ID: uuid.NewString(), Username: username}
	err := s.db.QueryRow(
		"INSERT INTO users (id, username, password_hash) VALUES ($1, $2, $3) RETURNING created_at",
		u.ID, username, passwordHash,
	).Scan(&u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) UserByUsername(username string) (*models.User, error) {
	var u models.User
	err := s.db.QueryRow(
		"SELECT id, username, password_hash, avatar_url, created_at FROM users WHERE username = $1",
		username,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.AvatarURL, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) UserByID(id string) (*models.User, error) {
	var u models.User
	err := s.db.QueryRow(
		"SELECT id, username, avatar_url, created_at FROM users WHERE id = $1",
		id,
	).Scan(&u.ID, &u.Username, &u.AvatarURL, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// SearchUsers matches usernames by substring, excluding the requester.
func (s *Store) SearchUsers(query, excludeID string) ([]models.User, error) {
	rows, err := s.db.Query(`
		SELECT id, username, avatar_url, created_at
		FROM users
		WHERE username ILIKE '%' || $1 || '%' AND id != $2
		ORDER BY username
		LIMIT 20
	`, query, excludeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Username, &u.AvatarURL, &u.CreatedAt); err != nil {
			continue
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// Conversation Methods

// FindOrCreateConversation returns the existing thread for the pair when one
// exists; the (user_a, user_b) unique constraint over the ordered pair makes
// creation race-safe.
func (s *Store) FindOrCreateConversation(userID, peerID string) (string, error) {
	a, b := userID, peerID
	if b < a {
		a, b = b, a
	}

	var id string
	err := s.db.QueryRow(
		"SELECT id FROM conversations WHERE user_a = $1 AND user_b = $2", a, b,
	).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return "", err
	}

	id = uuid.NewString()
	_, err = s.db.Exec(
		"INSERT INTO conversations (id, user_a, user_b) VALUES ($1, $2, $3) ON CONFLICT (user_a, user_b) DO NOTHING",
		id, a, b,
	)
	if err != nil {
		return "", err
	}

	// Re-select: a concurrent insert may have won the conflict.
	err = s.db.QueryRow(
		"SELECT id FROM conversations WHERE user_a = $1 AND user_b = $2", a, b,
	).Scan(&id)
	return id, err
}

// ConversationView assembles the requester's view of a single conversation.
func (s *Store) ConversationView(convID, requesterID string) (*models.Conversation, error) {
	peerID, err := s.PeerOf(convID, requesterID)
	if err != nil {
		return nil, err
	}
	peer, err := s.UserByID(peerID)
	if err != nil {
		return nil, err
	}

	conv := models.Conversation{ID: convID, Participant: peer}

	var summary models.MessageSummary
	err = s.db.QueryRow(`
		SELECT content, sender_id, created_at FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at DESC LIMIT 1
	`, convID).Scan(&summary.Content, &summary.SenderID, &summary.CreatedAt)
	if err == nil {
		conv.LastMessage = &summary
	} else if err != sql.ErrNoRows {
		return nil, err
	}

	err = s.db.QueryRow(`
		SELECT COUNT(*) FROM messages
		WHERE conversation_id = $1 AND sender_id != $2 AND NOT read
	`, convID, requesterID).Scan(&conv.UnreadCount)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// ConversationsForUser returns the requester's conversations, most recent
// activity first.
func (s *Store) ConversationsForUser(userID string) ([]models.Conversation, error) {
	rows, err := s.db.Query(`
		SELECT c.id
		FROM conversations c
		WHERE c.user_a = $1 OR c.user_b = $1
		ORDER BY COALESCE(
			(SELECT MAX(m.created_at) FROM messages m WHERE m.conversation_id = c.id),
			c.created_at
		) DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			continue
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	convs := make([]models.Conversation, 0, len(ids))
	for _, id := range ids {
		conv, err := s.ConversationView(id, userID)
		if err != nil {
			log.Printf("Error building conversation view %s: %v", id, err)
			continue
		}
		convs = append(convs, *conv)
	}
	return convs, nil
}

func (s *Store) IsParticipant(convID, userID string) bool {
	var one int
	err := s.db.QueryRow(
		"SELECT 1 FROM conversations WHERE id = $1 AND (user_a = $2 OR user_b = $2)",
		convID, userID,
	).Scan(&one)
	return err == nil
}

func (s *Store) PeerOf(convID, userID string) (string, error) {
	var a, b string
	err := s.db.QueryRow(
		"SELECT user_a, user_b FROM conversations WHERE id = $1", convID,
	).Scan(&a, &b)
	if err != nil {
		return "", err
	}
	if a == userID {
		return b, nil
	}
	if b == userID {
		return a, nil
	}
	return "", fmt.Errorf("user %s is not in conversation %s", userID, convID)
}

// Message Methods

func (s *Store) MessagesFor(convID string, limit int) ([]models.Message, error) {
	rows, err := s.db.Query(`
		SELECT id, conversation_id, sender_id, content,
		       image_url, image_secure_url, image_public_id, read, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, convID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			continue
		}
		msgs = append(msgs, m)
	}

	// Reverse to get oldest first
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, rows.Err()
}

func scanMessage(rows *sql.Rows) (models.Message, error) {
	var m models.Message
	var imgURL, imgSecure, imgPublic sql.NullString
	err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content,
		&imgURL, &imgSecure, &imgPublic, &m.Read, &m.CreatedAt)
	if err != nil {
		return m, err
	}
	if imgURL.Valid || imgSecure.Valid {
		m.Image = &models.Attachment{
			URL:       imgURL.String,
			SecureURL: imgSecure.String,
			PublicID:  imgPublic.String,
		}
	}
	return m, nil
}

func (s *Store) SaveMessage(convID, senderID, content string, image *models.Attachment) (*models.Message, error) {
	msg := models.Message{
		ID:             uuid.NewString(),
		ConversationID: convID,
		SenderID:       senderID,
		Content:        content,
		Image:          image,
	}

	var imgURL, imgSecure, imgPublic *string
	if image != nil {
		imgURL, imgSecure, imgPublic = &image.URL, &image.SecureURL, &image.PublicID
	}

	err := s.db.QueryRow(`
		INSERT INTO messages (id, conversation_id, sender_id, content, image_url, image_secure_url, image_public_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, msg.ID, convID, senderID, content, imgURL, imgSecure, imgPublic).Scan(&msg.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// MarkRead flips the flag on the reader's incoming messages and reports which
// ids actually changed, so the notification to the sender carries no noise.
func (s *Store) MarkRead(convID, readerID string, messageIDs []string) ([]string, error) {
	rows, err := s.db.Query(`
		UPDATE messages SET read = TRUE
		WHERE conversation_id = $1 AND sender_id != $2 AND NOT read AND id = ANY($3)
		RETURNING id
	`, convID, readerID, pq.Array(messageIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var changed []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			continue
		}
		changed = append(changed, id)
	}
	return changed, rows.Err()
}

func (s *Store) Ping() error {
	return s.db.Ping()
}
