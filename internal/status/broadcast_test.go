package status

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	logpkg "github.com/agent-racer/scripthost/internal/log"
	"github.com/agent-racer/scripthost/internal/session"
)

// dialTestWS returns the server side of a fresh websocket connection. The
// client side stays open until the test ends.
func dialTestWS(t *testing.T) (*httptest.Server, *websocket.Conn) {
	t.Helper()

	connCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		connCh <- c
	}))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { clientConn.Close() })

	select {
	case serverConn := <-connCh:
		return srv, serverConn
	case <-time.After(2 * time.Second):
		srv.Close()
		t.Fatal("timed out waiting for server-side WebSocket connection")
		return nil, nil
	}
}

func waitForClients(t *testing.T, b *Broadcaster, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if b.ClientCount() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("client count = %d, want %d", b.ClientCount(), want)
}

func TestAddClient_MaxClients(t *testing.T) {
	const maxClients = 2
	b := NewBroadcaster(session.NewStore(), maxClients, logpkg.Discard())
	defer b.Stop()

	for i := 0; i < maxClients; i++ {
		srv, conn := dialTestWS(t)
		defer srv.Close()
		if _, err := b.AddClient(conn); err != nil {
			t.Fatalf("AddClient %d: %v", i, err)
		}
	}

	srv, conn := dialTestWS(t)
	defer srv.Close()
	defer conn.Close()
	if _, err := b.AddClient(conn); !errors.Is(err, ErrTooManyClients) {
		t.Fatalf("expected ErrTooManyClients, got %v", err)
	}
	if got := b.ClientCount(); got != maxClients {
		t.Errorf("client count = %d, want %d", got, maxClients)
	}
}

func TestWritePump_RemovesClientOnWriteError(t *testing.T) {
	srv, serverConn := dialTestWS(t)
	defer srv.Close()

	b := NewBroadcaster(session.NewStore(), 0, logpkg.Discard())
	defer b.Stop()

	c := &client{
		conn: serverConn,
		b:    b,
		send: make(chan []byte, clientSendBuffer),
	}
	b.mu.Lock()
	b.clients[c] = true
	b.mu.Unlock()

	serverConn.Close()
	c.send <- []byte(`{"type":"test"}`)
	go c.writePump()

	waitForClients(t, b, 0)
}

func TestPublish_DropsSlowClient(t *testing.T) {
	srv, serverConn := dialTestWS(t)
	defer srv.Close()
	defer serverConn.Close()

	b := NewBroadcaster(session.NewStore(), 0, logpkg.Discard())
	defer b.Stop()

	// No writePump: the buffer fills and never drains.
	c := &client{
		conn: serverConn,
		b:    b,
		send: make(chan []byte, 1),
	}
	b.mu.Lock()
	b.clients[c] = true
	b.mu.Unlock()

	ev := session.Event{Type: session.EventState, Snapshot: session.Snapshot{ID: "x"}}
	b.Publish(ev)
	b.Publish(ev)

	if got := b.ClientCount(); got != 0 {
		t.Errorf("slow client still registered, count = %d", got)
	}
}

func TestBroadcaster_SequenceIncrements(t *testing.T) {
	b := NewBroadcaster(session.NewStore(), 0, logpkg.Discard())

	if b.seq.Load() != 0 {
		t.Fatalf("expected initial seq 0, got %d", b.seq.Load())
	}
	b.Publish(session.Event{Type: session.EventStarted})
	b.Publish(session.Event{Type: session.EventEnded})
	if got := b.seq.Load(); got != 2 {
		t.Errorf("seq = %d, want 2", got)
	}
}

func TestStop_DisconnectsClients(t *testing.T) {
	b := NewBroadcaster(session.NewStore(), 0, logpkg.Discard())

	srv, conn := dialTestWS(t)
	defer srv.Close()
	if _, err := b.AddClient(conn); err != nil {
		t.Fatal(err)
	}

	b.Stop()
	if got := b.ClientCount(); got != 0 {
		t.Errorf("client count after Stop = %d", got)
	}
}

func TestPublish_ConcurrentRemoveClient(t *testing.T) {
	b := NewBroadcaster(session.NewStore(), 0, logpkg.Discard())
	defer b.Stop()

	const n = 500
	clients := make([]*client, n)
	b.mu.Lock()
	for i := range clients {
		clients[i] = &client{b: b, send: make(chan []byte, clientSendBuffer)}
		b.clients[clients[i]] = true
	}
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, c := range clients {
			b.RemoveClient(c)
		}
	}()

	ev := session.Event{Type: session.EventState, Snapshot: session.Snapshot{ID: "x"}}
	func() {
		defer func() {
			if r := recover(); r != nil {
				t.Fatalf("Publish panicked while clients were removed: %v", r)
			}
		}()
		for i := 0; i < 3; i++ {
			b.Publish(ev)
		}
	}()
	<-done

	if got := b.ClientCount(); got != 0 {
		t.Errorf("client count = %d, want 0", got)
	}
}
