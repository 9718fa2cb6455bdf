package ui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/driftlab/driftmsg/internal/client/api"
	"github.com/driftlab/driftmsg/internal/client/chatsync"
	"github.com/driftlab/driftmsg/internal/client/session"
	"github.com/driftlab/driftmsg/internal/client/state"
)

const (
	searchDebounce = 500 * time.Millisecond
	searchMinChars = 2
)

// --- View State ---

type viewState int

const (
	viewAuth viewState = iota
	viewConversations
	viewChat
	viewSearch
	viewImage
)

// Runtime bundles everything that exists only after a successful login.
type Runtime struct {
	Store    *state.Store
	Mediator *chatsync.Mediator
	API      *api.Client
	Self     state.Participant
	Updates  chan struct{}
}

// Connector builds the runtime (REST client, transport, store, mediator) for
// an authenticated session. Provided by cmd/client so the model stays free of
// wiring concerns.
type Connector func(sess session.Session) (*Runtime, error)

// --- Messages ---

type storeChangedMsg struct{}

type connectedMsg struct{ rt *Runtime }

type authErrMsg struct{ err error }

type searchTickMsg struct{ seq int }

type searchResultsMsg struct {
	seq   int
	users []state.Participant
	err   error
}

type sentMsg struct{ err error }

type convStartedMsg struct {
	conv state.Conversation
	err  error
}

type stagedFile struct {
	name string
	data []byte
}

// --- Model ---

type Model struct {
	serverURL string
	profile   string
	connect   Connector
	rt        *Runtime

	view   viewState
	width  int
	height int

	// Auth
	authAction    string // "login" or "register"
	usernameInput textinput.Model
	passwordInput textinput.Model
	authFocused   int
	authError     string

	// Conversations
	selectedConv int

	// Chat
	messageInput textinput.Model
	chatViewport viewport.Model
	lastMsgCount int
	attachInput  textinput.Model
	attaching    bool
	staged       *stagedFile
	sending      bool
	composeErr   string

	// Search
	searchInput    textinput.Model
	searchSeq      int
	searchResults  []state.Participant
	selectedResult int
	searchErr      string

	// Image overlay
	imageIndex int
}

func New(serverURL, profile string, connect Connector, resumed *Runtime) Model {
	usernameInput := textinput.New()
	usernameInput.Placeholder = "Username"
	usernameInput.Focus()
	usernameInput.CharLimit = 32
	usernameInput.Width = 30

	passwordInput := textinput.New()
	passwordInput.Placeholder = "Password"
	passwordInput.EchoMode = textinput.EchoPassword
	passwordInput.CharLimit = 64
	passwordInput.Width = 30

	messageInput := textinput.New()
	messageInput.Placeholder = "Type a message..."
	messageInput.CharLimit = 1000
	messageInput.Width = 50

	attachInput := textinput.New()
	attachInput.Placeholder = "Path to image..."
	attachInput.CharLimit = 256
	attachInput.Width = 50

	searchInput := textinput.New()
	searchInput.Placeholder = "Search users (min 2 chars)..."
	searchInput.CharLimit = 64
	searchInput.Width = 40

	m := Model{
		serverURL:     serverURL,
		profile:       profile,
		connect:       connect,
		authAction:    "login",
		usernameInput: usernameInput,
		passwordInput: passwordInput,
		messageInput:  messageInput,
		attachInput:   attachInput,
		searchInput:   searchInput,
		chatViewport:  viewport.New(80, 20),
		view:          viewAuth,
	}
	if resumed != nil {
		m.rt = resumed
		m.view = viewConversations
	}
	return m
}

// --- Commands ---

func listenUpdates(ch chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-ch
		return storeChangedMsg{}
	}
}

func (m Model) authCmd() tea.Cmd {
	username := m.usernameInput.Value()
	password := m.passwordInput.Value()
	action := m.authAction
	serverURL := m.serverURL
	profile := m.profile
	connect := m.connect

	return func() tea.Msg {
		client := api.New(serverURL, "")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		var res *api.LoginResult
		var err error
		if action == "register" {
			res, err = client.Register(ctx, username, password)
		} else {
			res, err = client.Login(ctx, username, password)
		}
		if err != nil {
			return authErrMsg{err: err}
		}

		sess := session.Session{
			ServerURL: serverURL,
			UserID:    res.User.ID,
			Username:  res.User.Username,
			Token:     res.Token,
		}
		session.Save(profile, sess)

		rt, err := connect(sess)
		if err != nil {
			return authErrMsg{err: err}
		}
		return connectedMsg{rt: rt}
	}
}

func refreshConversations(rt *Runtime) tea.Cmd {
	return func() tea.Msg {
		rt.Mediator.RefreshConversations(context.Background())
		return nil
	}
}

func searchTick(seq int) tea.Cmd {
	return tea.Tick(searchDebounce, func(time.Time) tea.Msg {
		return searchTickMsg{seq: seq}
	})
}

func (m Model) searchCmd(query string, seq int) tea.Cmd {
	rt := m.rt
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		users, err := rt.Mediator.SearchUsers(ctx, query)
		return searchResultsMsg{seq: seq, users: users, err: err}
	}
}

func (m Model) sendCmd(convID, recipientID string, draft chatsync.Draft) tea.Cmd {
	rt := m.rt
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return sentMsg{err: rt.Mediator.SendMessage(ctx, convID, recipientID, draft)}
	}
}

func (m Model) startConvCmd(peerID string) tea.Cmd {
	rt := m.rt
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		conv, err := rt.Mediator.StartConversation(ctx, peerID)
		return convStartedMsg{conv: conv, err: err}
	}
}

// --- Init ---

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink}
	if m.rt != nil {
		cmds = append(cmds, listenUpdates(m.rt.Updates), refreshConversations(m.rt))
	}
	return tea.Batch(cmds...)
}

// --- Update ---

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if model, cmd, handled := m.handleKey(msg); handled {
			return model, cmd
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.chatViewport.Width = msg.Width - 4
		m.chatViewport.Height = msg.Height - 9

	case connectedMsg:
		m.rt = msg.rt
		m.view = viewConversations
		m.authError = ""
		return m, tea.Batch(listenUpdates(m.rt.Updates), refreshConversations(m.rt))

	case authErrMsg:
		m.authError = msg.err.Error()

	case storeChangedMsg:
		if m.rt == nil {
			return m, nil // logged out, stop listening
		}
		if m.view == viewChat {
			m.refreshChatViewport()
		}
		return m, listenUpdates(m.rt.Updates)

	case searchTickMsg:
		query := strings.TrimSpace(m.searchInput.Value())
		if msg.seq == m.searchSeq && len([]rune(query)) >= searchMinChars {
			return m, m.searchCmd(query, msg.seq)
		}

	case searchResultsMsg:
		if msg.seq != m.searchSeq {
			break // stale search response
		}
		if msg.err != nil {
			m.searchErr = "search failed, try again"
			break
		}
		m.searchErr = ""
		m.searchResults = msg.users
		m.selectedResult = 0

	case sentMsg:
		m.sending = false
		if msg.err != nil {
			m.composeErr = msg.err.Error()
		} else {
			m.composeErr = ""
			m.messageInput.SetValue("")
			m.staged = nil
		}

	case convStartedMsg:
		if msg.err != nil {
			m.searchErr = "could not start conversation"
			break
		}
		m.view = viewChat
		m.messageInput.Focus()
		m.rt.Mediator.SetActiveConversation(context.Background(), msg.conv.ID)
	}

	// Update text inputs
	switch m.view {
	case viewAuth:
		if m.authFocused == 0 {
			m.usernameInput, _ = m.usernameInput.Update(msg)
		} else {
			m.passwordInput, _ = m.passwordInput.Update(msg)
		}
	case viewChat:
		if m.attaching {
			m.attachInput, _ = m.attachInput.Update(msg)
		} else {
			m.messageInput, _ = m.messageInput.Update(msg)
			m.chatViewport, _ = m.chatViewport.Update(msg)
		}
	case viewSearch:
		before := m.searchInput.Value()
		m.searchInput, _ = m.searchInput.Update(msg)
		if m.searchInput.Value() != before {
			m.searchSeq++
			cmds = append(cmds, searchTick(m.searchSeq))
		}
	}

	return m, tea.Batch(cmds...)
}

func (m Model) handleKey(msg tea.KeyMsg) (Model, tea.Cmd, bool) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit, true

	case "q":
		if m.view == viewConversations {
			return m, tea.Quit, true
		}
		if m.view == viewAuth {
			return m, tea.Quit, true
		}

	case "tab":
		if m.view == viewAuth {
			if m.authFocused == 0 {
				m.authFocused = 1
				m.usernameInput.Blur()
				m.passwordInput.Focus()
			} else {
				m.authFocused = 0
				m.passwordInput.Blur()
				m.usernameInput.Focus()
			}
			return m, nil, true
		}

	case "ctrl+r":
		if m.view == viewAuth {
			if m.authAction == "login" {
				m.authAction = "register"
			} else {
				m.authAction = "login"
			}
			return m, nil, true
		}

	case "enter":
		return m.handleEnter()

	case "up", "down":
		return m.handleArrow(msg.String() == "up")

	case "left", "right":
		if m.view == viewImage {
			images := m.activeImages()
			if msg.String() == "left" && m.imageIndex > 0 {
				m.imageIndex--
			}
			if msg.String() == "right" && m.imageIndex < len(images)-1 {
				m.imageIndex++
			}
			return m, nil, true
		}

	case "/":
		if m.view == viewConversations {
			m.view = viewSearch
			m.searchInput.SetValue("")
			m.searchResults = nil
			m.searchErr = ""
			m.searchInput.Focus()
			return m, nil, true
		}

	case "ctrl+l":
		if m.rt != nil && m.view != viewAuth {
			m.rt.Mediator.Logout()
			session.Clear(m.profile)
			m.rt = nil
			m.view = viewAuth
			m.usernameInput.Focus()
			return m, nil, true
		}

	case "ctrl+p":
		if m.view == viewChat {
			m.attaching = !m.attaching
			m.composeErr = ""
			if m.attaching {
				m.attachInput.SetValue("")
				m.attachInput.Focus()
				m.messageInput.Blur()
			} else {
				m.attachInput.Blur()
				m.messageInput.Focus()
			}
			return m, nil, true
		}

	case "ctrl+o":
		if m.view == viewChat {
			if images := m.activeImages(); len(images) > 0 {
				m.imageIndex = len(images) - 1
				m.view = viewImage
			}
			return m, nil, true
		}

	case "esc":
		switch m.view {
		case viewChat:
			if m.attaching {
				m.attaching = false
				m.messageInput.Focus()
				return m, nil, true
			}
			m.rt.Mediator.SetActiveConversation(context.Background(), "")
			m.view = viewConversations
			return m, nil, true
		case viewSearch:
			m.view = viewConversations
			return m, nil, true
		case viewImage:
			m.view = viewChat
			return m, nil, true
		}
	}

	// Keystrokes in the composer feed the typing indicator.
	if m.view == viewChat && !m.attaching && !m.sending {
		switch msg.Type {
		case tea.KeyRunes, tea.KeySpace, tea.KeyBackspace:
			if active := m.rt.Store.ActiveConversation(); active != "" {
				m.rt.Mediator.Typing(active)
			}
		}
	}

	return m, nil, false
}

func (m Model) handleEnter() (Model, tea.Cmd, bool) {
	switch m.view {
	case viewAuth:
		if m.usernameInput.Value() != "" && m.passwordInput.Value() != "" {
			m.authError = ""
			return m, m.authCmd(), true
		}

	case viewConversations:
		convs := m.visibleConversations()
		if len(convs) > 0 && m.selectedConv < len(convs) {
			conv := convs[m.selectedConv]
			m.view = viewChat
			m.lastMsgCount = 0
			m.messageInput.Focus()
			m.rt.Mediator.SetActiveConversation(context.Background(), conv.ID)
			return m, nil, true
		}

	case viewChat:
		if m.attaching {
			return m.stageAttachment()
		}
		if m.sending {
			return m, nil, true // upload in flight, send disabled
		}
		text := m.messageInput.Value()
		if text == "" && m.staged == nil {
			return m, nil, true
		}
		conv, ok := m.activeConversationEntry()
		if !ok || conv.Participant == nil {
			return m, nil, true
		}
		draft := chatsync.Draft{Text: text}
		if m.staged != nil {
			draft.Filename = m.staged.name
			draft.Data = m.staged.data
		}
		m.sending = true
		return m, m.sendCmd(conv.ID, conv.Participant.ID, draft), true

	case viewSearch:
		if len(m.searchResults) > 0 && m.selectedResult < len(m.searchResults) {
			peer := m.searchResults[m.selectedResult]
			return m, m.startConvCmd(peer.ID), true
		}
	}
	return m, nil, false
}

func (m Model) handleArrow(up bool) (Model, tea.Cmd, bool) {
	switch m.view {
	case viewConversations:
		if up && m.selectedConv > 0 {
			m.selectedConv--
		}
		if !up && m.selectedConv < len(m.visibleConversations())-1 {
			m.selectedConv++
		}
		return m, nil, true
	case viewSearch:
		if up && m.selectedResult > 0 {
			m.selectedResult--
		}
		if !up && m.selectedResult < len(m.searchResults)-1 {
			m.selectedResult++
		}
		return m, nil, true
	}
	return m, nil, false
}

func (m Model) stageAttachment() (Model, tea.Cmd, bool) {
	path := strings.TrimSpace(m.attachInput.Value())
	if path == "" {
		return m, nil, true
	}
	data, err := os.ReadFile(path)
	if err != nil {
		m.composeErr = "could not read file"
		return m, nil, true
	}
	mimeType := DetectMIME(path, data)
	if err := ValidateAttachment(mimeType, int64(len(data))); err != nil {
		m.composeErr = err.Error()
		return m, nil, true
	}
	m.staged = &stagedFile{name: path, data: data}
	m.composeErr = ""
	m.attaching = false
	m.messageInput.Focus()
	return m, nil, true
}

// visibleConversations skips entries with a missing participant reference
// instead of crashing on them.
func (m Model) visibleConversations() []state.Conversation {
	if m.rt == nil {
		return nil
	}
	var out []state.Conversation
	for _, c := range m.rt.Store.Conversations() {
		if c.Participant == nil {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (m Model) activeConversationEntry() (state.Conversation, bool) {
	if m.rt == nil {
		return state.Conversation{}, false
	}
	active := m.rt.Store.ActiveConversation()
	for _, c := range m.rt.Store.Conversations() {
		if c.ID == active {
			return c, true
		}
	}
	return state.Conversation{}, false
}

func (m Model) activeImages() []state.Message {
	if m.rt == nil {
		return nil
	}
	var out []state.Message
	for _, msg := range m.rt.Store.Messages(m.rt.Store.ActiveConversation()) {
		if msg.Image != nil {
			out = append(out, msg)
		}
	}
	return out
}

func (m *Model) refreshChatViewport() {
	msgs := m.rt.Store.Messages(m.rt.Store.ActiveConversation())

	var content strings.Builder
	for i, msg := range msgs {
		if !sameSenderAsPrev(msgs, i) {
			style := otherMessageStyle
			name := m.senderName(msg.SenderID)
			if msg.SenderID == m.rt.Self.ID {
				style = ownMessageStyle
				name = "you"
			}
			content.WriteString(fmt.Sprintf("%s %s\n",
				style.Render(name),
				mutedStyle.Render(msg.CreatedAt.Format("15:04"))))
		}
		if msg.Content != "" {
			content.WriteString("  " + msg.Content + "\n")
		}
		if msg.Image != nil {
			content.WriteString("  " + mutedStyle.Render("[image] "+msg.Image.SecureURL) + "\n")
		}
	}
	m.chatViewport.SetContent(content.String())

	// Auto-scroll to the newest message whenever the list grows.
	if len(msgs) != m.lastMsgCount {
		m.chatViewport.GotoBottom()
		m.lastMsgCount = len(msgs)
	}
}

func (m Model) senderName(userID string) string {
	for _, c := range m.rt.Store.Conversations() {
		if c.Participant != nil && c.Participant.ID == userID {
			return c.Participant.Username
		}
	}
	return userID
}

// --- View ---

func (m Model) View() string {
	switch m.view {
	case viewAuth:
		return m.authView()
	case viewConversations:
		return m.conversationsView()
	case viewChat:
		return m.chatView()
	case viewSearch:
		return m.searchView()
	case viewImage:
		return m.imageView()
	}
	return ""
}

func (m Model) authView() string {
	var s strings.Builder

	s.WriteString("\n\n")
	s.WriteString(titleStyle.Render("DRIFTMSG"))
	s.WriteString("\n\n")

	if m.authAction == "login" {
		s.WriteString(selectedStyle.Render("  → Login"))
		s.WriteString(mutedStyle.Render("   Register\n"))
	} else {
		s.WriteString(mutedStyle.Render("  Login   "))
		s.WriteString(selectedStyle.Render("→ Register\n"))
	}
	s.WriteString(helpStyle.Render("  (Ctrl+R to switch)\n\n"))

	s.WriteString("  Username:\n")
	s.WriteString("  " + m.usernameInput.View() + "\n\n")
	s.WriteString("  Password:\n")
	s.WriteString("  " + m.passwordInput.View() + "\n\n")

	if m.authError != "" {
		s.WriteString(errorStyle.Render("  " + m.authError + "\n\n"))
	}

	s.WriteString(helpStyle.Render("  Tab to switch fields • Enter to submit • q to quit\n"))
	return s.String()
}

func (m Model) conversationsView() string {
	var s strings.Builder

	name := ""
	if m.rt != nil {
		name = m.rt.Self.Username
	}
	s.WriteString(titleStyle.Render("DRIFTMSG - " + name))
	if m.rt != nil && !m.rt.Store.Connected() {
		s.WriteString(mutedStyle.Render("  (offline)"))
	}
	s.WriteString("\n\n")

	convs := m.visibleConversations()
	if len(convs) == 0 {
		s.WriteString(mutedStyle.Render("  No conversations yet.\n"))
		s.WriteString(mutedStyle.Render("  Press '/' to find someone.\n"))
	} else {
		for i, conv := range convs {
			prefix := "  "
			style := mutedStyle
			if i == m.selectedConv {
				prefix = "→ "
				style = selectedStyle
			}

			dot := "○"
			if m.rt.Store.Online(conv.Participant.ID) {
				dot = "●"
			}

			line := fmt.Sprintf("%s%s %s", prefix, dot, conv.Participant.Username)
			if conv.UnreadCount > 0 {
				line += " " + unreadStyle.Render(fmt.Sprintf("%d", conv.UnreadCount))
			}
			if conv.LastMessage != nil {
				preview := conv.LastMessage.Content
				if len(preview) > 30 {
					preview = preview[:30] + "…"
				}
				line += mutedStyle.Render(fmt.Sprintf("  %s · %s", preview, timeSince(conv.LastMessage.CreatedAt)))
			}
			s.WriteString(style.Render(line) + "\n")
		}
	}

	if m.rt != nil && m.rt.Store.LastError() != "" {
		s.WriteString("\n" + errorStyle.Render("  "+m.rt.Store.LastError()) + "\n")
	}

	s.WriteString("\n")
	s.WriteString(helpStyle.Render("  ↑/↓ navigate • Enter to open • / search • Ctrl+L logout • q quit"))
	return s.String()
}

func (m Model) chatView() string {
	var s strings.Builder

	conv, ok := m.activeConversationEntry()
	header := "Chat"
	if ok && conv.Participant != nil {
		header = conv.Participant.Username
		if m.rt.Store.Online(conv.Participant.ID) {
			header += " ● online"
		}
	}
	s.WriteString(titleStyle.Render(header))
	s.WriteString("\n")
	s.WriteString(strings.Repeat("─", max(m.width-2, 10)))
	s.WriteString("\n")

	if m.rt.Store.HistoryLoading() {
		s.WriteString(mutedStyle.Render("Loading messages...\n"))
	}
	s.WriteString(m.chatViewport.View())
	s.WriteString("\n")

	if peers := m.rt.Store.TypingPeers(m.rt.Store.ActiveConversation()); len(peers) > 0 {
		s.WriteString(mutedStyle.Render("typing…"))
	}
	s.WriteString("\n")
	s.WriteString(strings.Repeat("─", max(m.width-2, 10)))
	s.WriteString("\n")

	if m.attaching {
		s.WriteString("Attach: " + m.attachInput.View())
	} else {
		s.WriteString(m.messageInput.View())
	}
	s.WriteString("\n")

	if m.staged != nil {
		s.WriteString(mutedStyle.Render(fmt.Sprintf("📎 %s (%d KB)\n", m.staged.name, len(m.staged.data)/1024)))
	}
	if m.sending {
		s.WriteString(mutedStyle.Render("Sending…\n"))
	}
	if m.composeErr != "" {
		s.WriteString(errorStyle.Render(m.composeErr + "\n"))
	}

	s.WriteString(helpStyle.Render("Enter send • Ctrl+P attach • Ctrl+O view images • Esc back"))
	return s.String()
}

func (m Model) searchView() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render("New Conversation"))
	s.WriteString("\n\n")
	s.WriteString("  " + m.searchInput.View() + "\n\n")

	if m.searchErr != "" {
		s.WriteString(errorStyle.Render("  " + m.searchErr + "\n"))
	}

	for i, u := range m.searchResults {
		prefix := "  "
		style := mutedStyle
		if i == m.selectedResult {
			prefix = "→ "
			style = selectedStyle
		}
		s.WriteString(style.Render(prefix+u.Username) + "\n")
	}

	s.WriteString("\n")
	s.WriteString(helpStyle.Render("  Enter to start chat • Esc to cancel"))
	return s.String()
}

func (m Model) imageView() string {
	images := m.activeImages()
	if len(images) == 0 || m.imageIndex >= len(images) {
		return mutedStyle.Render("No images in this conversation.")
	}

	msg := images[m.imageIndex]
	var s strings.Builder
	s.WriteString(titleStyle.Render(fmt.Sprintf("Image %d/%d", m.imageIndex+1, len(images))))
	s.WriteString("\n\n")
	s.WriteString(boxStyle.Render(fmt.Sprintf(
		"From: %s\nSent: %s\n\n%s",
		m.senderName(msg.SenderID),
		msg.CreatedAt.Format(time.RFC822),
		msg.Image.SecureURL,
	)))
	s.WriteString("\n\n")
	s.WriteString(helpStyle.Render("←/→ browse • Esc to close"))
	return s.String()
}
