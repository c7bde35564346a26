package status

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	logpkg "github.com/agent-racer/scripthost/internal/log"
	"github.com/agent-racer/scripthost/internal/session"
)

const (
	clientSendBuffer = 64
	writeTimeout     = 10 * time.Second
)

// ErrTooManyClients is returned by AddClient once the connection limit is
// reached.
var ErrTooManyClients = errors.New("too many status clients")

type client struct {
	conn *websocket.Conn
	b    *Broadcaster
	send chan []byte
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.b.RemoveClient(c)
			return
		}
	}
}

func (c *client) remoteAddr() string {
	if c.conn == nil {
		return ""
	}
	return c.conn.RemoteAddr().String()
}

// Broadcaster fans session lifecycle events out to websocket clients.
type Broadcaster struct {
	mu         sync.RWMutex
	clients    map[*client]bool
	store      *session.Store
	maxClients int
	seq        atomic.Uint64
	logger     *slog.Logger
}

// NewBroadcaster creates a broadcaster that sends a snapshot of store to
// every new client. maxClients <= 0 means no limit.
func NewBroadcaster(store *session.Store, maxClients int, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		clients:    make(map[*client]bool),
		store:      store,
		maxClients: maxClients,
		logger:     logpkg.WithComponent(logpkg.OrDefault(logger), "status"),
	}
}

// AddClient registers conn and queues a snapshot of the store as its first
// message.
func (b *Broadcaster) AddClient(conn *websocket.Conn) (*client, error) {
	c := &client{
		conn: conn,
		b:    b,
		send: make(chan []byte, clientSendBuffer),
	}

	snapshot, err := b.encode(MsgSnapshot, SnapshotPayload{Sessions: b.store.GetAll()})
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	if b.maxClients > 0 && len(b.clients) >= b.maxClients {
		b.mu.Unlock()
		return nil, ErrTooManyClients
	}
	c.send <- snapshot
	b.clients[c] = true
	b.mu.Unlock()

	go c.writePump()
	return c, nil
}

// RemoveClient unregisters c and closes its send queue. It is safe to call
// more than once.
func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		close(c.send)
	}
	b.mu.Unlock()
}

// Publish sends one session event to every client. It never blocks: a
// client whose buffer is full is disconnected.
func (b *Broadcaster) Publish(e session.Event) {
	data, err := b.encode(MsgSession, SessionPayload{Event: e.Type.String(), Session: e.Snapshot})
	if err != nil {
		b.logger.Error("encode status message", "error", err)
		return
	}

	// Sends happen under the read lock so RemoveClient cannot close a
	// channel mid-send.
	var slow []*client
	b.mu.RLock()
	for c := range b.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	b.mu.RUnlock()

	for _, c := range slow {
		b.logger.Warn("status client too slow, disconnecting", "remote", c.remoteAddr())
		b.RemoveClient(c)
	}
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Stop disconnects every client.
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.clients {
		delete(b.clients, c)
		close(c.send)
	}
}

func (b *Broadcaster) encode(typ MessageType, payload any) ([]byte, error) {
	return json.Marshal(Message{Type: typ, Seq: b.seq.Add(1), Payload: payload})
}
