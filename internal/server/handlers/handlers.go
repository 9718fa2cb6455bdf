package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"github.com/driftlab/driftmsg/internal/server/models"
	"github.com/driftlab/driftmsg/internal/server/ratelimit"
	"github.com/driftlab/driftmsg/internal/server/storage"
	"github.com/driftlab/driftmsg/internal/server/ws"
)

const maxUploadBytes = 5 << 20

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Server struct {
	Store     *storage.Store
	Hub       *ws.Hub
	Limiter   *ratelimit.RateLimiter
	Tokens    *TokenRegistry
	UploadDir string
	BaseURL   string
}

func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/register", s.handleRegister)
	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("GET /api/conversations", s.authed(s.handleConversations))
	mux.HandleFunc("POST /api/conversations", s.authed(s.handleStartConversation))
	mux.HandleFunc("GET /api/conversations/{id}/messages", s.authed(s.handleMessages))
	mux.HandleFunc("GET /api/users/search", s.authed(s.handleSearch))
	mux.HandleFunc("POST /api/upload", s.authed(s.handleUpload))
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.Handle("GET /uploads/", http.StripPrefix("/uploads/", http.FileServer(http.Dir(s.UploadDir))))
}

func (s *Server) authed(next func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := s.Tokens.Lookup(BearerToken(r))
		if !ok {
			writeError(w, http.StatusUnauthorized, "invalid or missing token")
			return
		}
		next(w, r, userID)
	}
}

// --- Auth ---

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var payload models.CredentialsPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	payload.Username = strings.TrimSpace(payload.Username)
	if payload.Username == "" || payload.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password required")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(payload.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not hash password")
		return
	}

	user, err := s.Store.CreateUser(payload.Username, string(hash))
	if err != nil {
		writeError(w, http.StatusConflict, "username already taken")
		return
	}

	writeJSON(w, http.StatusOK, models.LoginResponse{
		Token: s.Tokens.Issue(user.ID),
		User:  *user,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.Limiter.CanAuth(ratelimit.GetClientIP(r)) {
		writeError(w, http.StatusTooManyRequests, "too many login attempts, please wait a minute")
		return
	}

	var payload models.CredentialsPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	user, err := s.Store.UserByUsername(payload.Username)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(payload.Password)) != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	writeJSON(w, http.StatusOK, models.LoginResponse{
		Token: s.Tokens.Issue(user.ID),
		User:  *user,
	})
}

// --- Conversations & messages ---

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request, userID string) {
	convs, err := s.Store.ConversationsForUser(userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load conversations")
		return
	}
	writeJSON(w, http.StatusOK, convs)
}

func (s *Server) handleStartConversation(w http.ResponseWriter, r *http.Request, userID string) {
	var payload models.StartConversationPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.PeerID == "" {
		writeError(w, http.StatusBadRequest, "peer_id required")
		return
	}
	if payload.PeerID == userID {
		writeError(w, http.StatusBadRequest, "cannot start a conversation with yourself")
		return
	}
	if _, err := s.Store.UserByID(payload.PeerID); err != nil {
		writeError(w, http.StatusNotFound, "no such user")
		return
	}

	convID, err := s.Store.FindOrCreateConversation(userID, payload.PeerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not create conversation")
		return
	}

	conv, err := s.Store.ConversationView(convID, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load conversation")
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request, userID string) {
	convID := r.PathValue("id")
	if !s.Store.IsParticipant(convID, userID) {
		writeError(w, http.StatusForbidden, "not a participant")
		return
	}

	msgs, err := s.Store.MessagesFor(convID, 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load messages")
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request, userID string) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if len([]rune(query)) < 2 {
		writeJSON(w, http.StatusOK, []models.User{})
		return
	}

	users, err := s.Store.SearchUsers(query, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	if users == nil {
		users = []models.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

// --- Upload ---

// handleUpload stands in for the external file-storage collaborator: it keeps
// the bytes on local disk and answers with the same descriptor shape.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, userID string) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes+4096)
	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "image file required")
		return
	}
	defer file.Close()

	if header.Size > maxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "image exceeds 5MB limit")
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil || len(data) > maxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "image exceeds 5MB limit")
		return
	}
	if !strings.HasPrefix(http.DetectContentType(data), "image/") {
		writeError(w, http.StatusUnsupportedMediaType, "only images are accepted")
		return
	}

	publicID := uuid.NewString()
	name := publicID + filepath.Ext(header.Filename)
	if err := os.MkdirAll(s.UploadDir, 0755); err != nil {
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}
	if err := os.WriteFile(filepath.Join(s.UploadDir, name), data, 0644); err != nil {
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}

	url := fmt.Sprintf("%s/uploads/%s", s.BaseURL, name)
	writeJSON(w, http.StatusOK, models.Attachment{
		URL:       url,
		SecureURL: url,
		PublicID:  publicID,
	})
}

// --- Health & websocket ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.Ping(); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	clientIP := ratelimit.GetClientIP(r)
	if !s.Limiter.CanConnect(clientIP) {
		http.Error(w, "Too many connections from your IP", http.StatusTooManyRequests)
		log.Printf("Rate limited connection from %s", clientIP)
		return
	}

	userID, ok := s.Tokens.Lookup(BearerToken(r))
	if !ok {
		http.Error(w, "invalid or missing token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("Upgrade error:", err)
		return
	}

	s.Limiter.AddConnection(clientIP)

	client := &ws.Client{
		Hub:    s.Hub,
		Conn:   conn,
		Send:   make(chan []byte, 256),
		Store:  s.Store,
		UserID: userID,
		IP:     clientIP,
	}
	s.Hub.Register <- client

	go func() {
		defer s.Limiter.RemoveConnection(clientIP)
		client.WritePump()
	}()
	go client.ReadPump()
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
