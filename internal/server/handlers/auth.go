package handlers

import (
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// TokenRegistry maps issued bearer tokens to user ids. Tokens live for the
// process lifetime.
type TokenRegistry struct {
	mu     sync.RWMutex
	tokens map[string]string // token -> user id
}

func NewTokenRegistry() *TokenRegistry {
	return &TokenRegistry{tokens: make(map[string]string)}
}

func (t *TokenRegistry) Issue(userID string) string {
	token := uuid.NewString()
	t.mu.Lock()
	t.tokens[token] = userID
	t.mu.Unlock()
	return token
}

func (t *TokenRegistry) Lookup(token string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	userID, ok := t.tokens[token]
	return userID, ok
}

func (t *TokenRegistry) Revoke(token string) {
	t.mu.Lock()
	delete(t.tokens, token)
	t.mu.Unlock()
}

// BearerToken pulls the credential from the Authorization header, falling
// back to the token query parameter for websocket dialers that cannot set
// headers.
func BearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
