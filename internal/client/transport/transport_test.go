package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *eventSink) handle(ev Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *eventSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Type
	}
	return out
}

func (s *eventSink) wait(t *testing.T, typ string) Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		for _, ev := range s.events {
			if ev.Type == typ {
				s.mu.Unlock()
				return ev
			}
		}
		s.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %q, got %v", typ, s.types())
	return Event{}
}

// echoServer upgrades, records the bearer token, and relays whatever the test
// pushes into send while collecting everything the client writes.
type echoServer struct {
	*httptest.Server

	mu       sync.Mutex
	token    string
	received []Event
	send     chan Event
}

func newEchoServer(t *testing.T) *echoServer {
	t.Helper()
	upgrader := websocket.Upgrader{}
	es := &echoServer{send: make(chan Event, 8)}

	es.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		es.mu.Lock()
		es.token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		es.mu.Unlock()

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		go func() {
			for ev := range es.send {
				data, _ := json.Marshal(ev)
				ws.WriteMessage(websocket.TextMessage, data)
			}
		}()

		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			var ev Event
			if json.Unmarshal(data, &ev) == nil {
				es.mu.Lock()
				es.received = append(es.received, ev)
				es.mu.Unlock()
			}
		}
	}))
	t.Cleanup(es.Close)
	return es
}

func (es *echoServer) wsURL() string {
	return "ws" + strings.TrimPrefix(es.URL, "http")
}

func (es *echoServer) waitReceived(t *testing.T, n int) []Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		es.mu.Lock()
		if len(es.received) >= n {
			out := append([]Event(nil), es.received...)
			es.mu.Unlock()
			return out
		}
		es.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d frames from client", n)
	return nil
}

func TestDialWithoutTokenReturnsNil(t *testing.T) {
	c := Dial("ws://localhost:1/ws", "", func(Event) {
		t.Fatal("handler must not fire without a credential")
	})
	assert.Nil(t, c)
}

func TestNilConnIsSafe(t *testing.T) {
	var c *Conn
	c.JoinRoom("c1")
	c.LeaveRoom("c1")
	c.Emit(EventTyping, typingProbe{})
	assert.NoError(t, c.Close())
}

type typingProbe struct {
	ConversationID string `json:"conversation_id"`
}

func TestDialDeliversConnectedAndInboundEvents(t *testing.T) {
	es := newEchoServer(t)
	sink := &eventSink{}

	c := Dial(es.wsURL(), "tok-123", sink.handle)
	require.NotNil(t, c)
	defer c.Close()

	sink.wait(t, EventConnected)
	es.mu.Lock()
	assert.Equal(t, "tok-123", es.token)
	es.mu.Unlock()

	raw, _ := json.Marshal(map[string]string{"id": "m1"})
	es.send <- Event{Type: EventNewMessage, Payload: raw}

	ev := sink.wait(t, EventNewMessage)
	var payload map[string]string
	require.NoError(t, json.Unmarshal(ev.Payload, &payload))
	assert.Equal(t, "m1", payload["id"])
}

func TestEmitWrapsPayloadInEnvelope(t *testing.T) {
	es := newEchoServer(t)
	sink := &eventSink{}

	c := Dial(es.wsURL(), "tok", sink.handle)
	require.NotNil(t, c)
	defer c.Close()
	sink.wait(t, EventConnected)

	c.JoinRoom("c1")
	c.Emit(EventTyping, typingProbe{ConversationID: "c1"})

	frames := es.waitReceived(t, 2)
	assert.Equal(t, EventJoinConversation, frames[0].Type)
	var joined string
	require.NoError(t, json.Unmarshal(frames[0].Payload, &joined))
	assert.Equal(t, "c1", joined)

	assert.Equal(t, EventTyping, frames[1].Type)
	var probe typingProbe
	require.NoError(t, json.Unmarshal(frames[1].Payload, &probe))
	assert.Equal(t, "c1", probe.ConversationID)
}

func TestEmitAfterCloseIsDropped(t *testing.T) {
	es := newEchoServer(t)
	sink := &eventSink{}

	c := Dial(es.wsURL(), "tok", sink.handle)
	require.NotNil(t, c)
	sink.wait(t, EventConnected)

	require.NoError(t, c.Close())
	c.Emit(EventTyping, typingProbe{ConversationID: "c1"})

	// Only silence after close; no disconnected event either, the teardown
	// was deliberate.
	time.Sleep(50 * time.Millisecond)
	for _, typ := range sink.types() {
		assert.NotEqual(t, EventDisconnected, typ)
	}
}

func TestFailedDialEmitsConnectError(t *testing.T) {
	sink := &eventSink{}

	// Nothing listens on this port; the initial dial fails but the conn keeps
	// retrying in the background until closed.
	c := Dial("ws://127.0.0.1:1/ws", "tok", sink.handle)
	require.NotNil(t, c)
	defer c.Close()

	sink.wait(t, EventConnectError)
}
