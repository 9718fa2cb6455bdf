package main

import (
	"fmt"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"github.com/driftlab/driftmsg/internal/client/api"
	"github.com/driftlab/driftmsg/internal/client/chatsync"
	"github.com/driftlab/driftmsg/internal/client/debug"
	"github.com/driftlab/driftmsg/internal/client/session"
	"github.com/driftlab/driftmsg/internal/client/state"
	"github.com/driftlab/driftmsg/internal/client/transport"
	"github.com/driftlab/driftmsg/internal/client/ui"
)

// wsURL derives the websocket endpoint from the HTTP base URL.
func wsURL(serverURL string) string {
	u := serverURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return strings.TrimRight(u, "/") + "/ws"
}

// connect builds the per-login runtime: REST client, store, mediator and the
// live websocket connection feeding it.
func connect(sess session.Session) (*ui.Runtime, error) {
	apiClient := api.New(sess.ServerURL, sess.Token)
	store := state.New()

	updates := make(chan struct{}, 1)
	store.OnChange(func() {
		select {
		case updates <- struct{}{}:
		default:
		}
	})

	med := chatsync.New(store, nil, apiClient, sess.UserID)
	conn := transport.Dial(wsURL(sess.ServerURL), sess.Token, med.HandleEvent)
	med.SetTransport(conn)

	debug.Log("connected runtime for %s (%s)", sess.Username, sess.UserID)

	return &ui.Runtime{
		Store:    store,
		Mediator: med,
		API:      apiClient,
		Self:     state.Participant{ID: sess.UserID, Username: sess.Username},
		Updates:  updates,
	}, nil
}

func main() {
	godotenv.Load()

	serverURL := os.Getenv("DRIFTMSG_SERVER")
	if serverURL == "" {
		serverURL = "http://localhost:3567"
	}
	profile := os.Getenv("DRIFTMSG_PROFILE")
	if profile == "" {
		profile = "default"
	}

	// Resume a cached session when one exists; a dead token just drops the
	// user back to the auth screen on the first failing request.
	var resumed *ui.Runtime
	if sess := session.Load(profile); sess != nil {
		rt, err := connect(*sess)
		if err == nil {
			resumed = rt
		} else {
			debug.Log("session resume failed: %v", err)
			session.Clear(profile)
		}
	}

	p := tea.NewProgram(ui.New(serverURL, profile, connect, resumed), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}
