// Package bridgetest provides an in-process stand-in for the scripted
// runtime's end of the event channel.
package bridgetest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agent-racer/scripthost/internal/bridge"
)

// Runtime is a websocket server speaking the bridge envelope protocol. It
// records everything the host emits and can push inbound events.
type Runtime struct {
	server   *httptest.Server
	upgrader websocket.Upgrader

	received chan bridge.Message

	mu        sync.Mutex
	conns     map[*websocket.Conn]*sync.Mutex
	total     int
	connected chan struct{}
}

// NewRuntime starts a runtime listening on a random loopback port.
func NewRuntime() *Runtime {
	r := &Runtime{
		received:  make(chan bridge.Message, 256),
		conns:     make(map[*websocket.Conn]*sync.Mutex),
		connected: make(chan struct{}, 16),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", r.handleWS)
	r.server = httptest.NewServer(mux)
	return r
}

// Endpoint returns the http:// endpoint a host would be configured with.
func (r *Runtime) Endpoint() string {
	return r.server.URL
}

// Port returns the listening port.
func (r *Runtime) Port() int {
	u, err := url.Parse(r.server.URL)
	if err != nil {
		return 0
	}
	port, _ := strconv.Atoi(u.Port())
	return port
}

func (r *Runtime) handleWS(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}

	r.mu.Lock()
	r.conns[conn] = &sync.Mutex{}
	r.total++
	r.mu.Unlock()

	select {
	case r.connected <- struct{}{}:
	default:
	}

	go func() {
		defer func() {
			r.mu.Lock()
			delete(r.conns, conn)
			r.mu.Unlock()
			conn.Close()
		}()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg bridge.Message
			if json.Unmarshal(data, &msg) != nil {
				continue
			}
			select {
			case r.received <- msg:
			default:
			}
		}
	}()
}

// WaitConnected blocks until a host connects or the timeout elapses.
func (r *Runtime) WaitConnected(timeout time.Duration) bool {
	select {
	case <-r.connected:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Next returns the next message emitted by the host.
func (r *Runtime) Next(timeout time.Duration) (bridge.Message, error) {
	select {
	case msg := <-r.received:
		return msg, nil
	case <-time.After(timeout):
		return bridge.Message{}, fmt.Errorf("no message within %v", timeout)
	}
}

// Drain discards everything received so far and returns it.
func (r *Runtime) Drain() []bridge.Message {
	var out []bridge.Message
	for {
		select {
		case msg := <-r.received:
			out = append(out, msg)
		default:
			return out
		}
	}
}

// Send pushes an inbound event to every connected host.
func (r *Runtime) Send(event bridge.EventName, payload any) error {
	data, err := bridge.Encode(event, payload)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.conns) == 0 {
		return fmt.Errorf("no host connected")
	}
	for conn, writeMu := range r.conns {
		writeMu.Lock()
		err := conn.WriteMessage(websocket.TextMessage, data)
		writeMu.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

// Connections returns the number of currently open host connections.
func (r *Runtime) Connections() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// TotalConnections counts every connection accepted so far.
func (r *Runtime) TotalConnections() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

// DropClients closes every open connection from the runtime side.
func (r *Runtime) DropClients() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for conn := range r.conns {
		conn.Close()
	}
}

func (r *Runtime) Close() {
	r.DropClients()
	r.server.Close()
}
