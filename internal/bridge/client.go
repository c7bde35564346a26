package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	logpkg "github.com/agent-racer/scripthost/internal/log"
)

const (
	dialBaseDelay  = 100 * time.Millisecond
	dialMaxDelay   = 2 * time.Second
	writeTimeout   = 10 * time.Second
	pongTimeout    = 60 * time.Second
	pingInterval   = 30 * time.Second
	sendBufferSize = 64
	defaultPath    = "/ws"
)

// Handler receives an inbound event. It runs on the client's read goroutine.
type Handler func(event EventName, payload json.RawMessage)

// Handlers maps inbound event names to their handler.
type Handlers map[EventName]Handler

// Client is a websocket pub/sub client for the scripted runtime's event
// channel. Handlers are held as one replaceable set rather than accumulated.
// Each connection keeps the set that was current when it was opened, so
// frames read on an old connection never reach handlers bound for a new one.
type Client struct {
	path   string
	dialer *websocket.Dialer
	logger *slog.Logger

	mu          sync.Mutex
	handlers    Handlers
	onConnected func()
	conn        *connection
}

// connection is one connect attempt and, once dialed, the live socket.
type connection struct {
	url       string
	handlers  Handlers
	ctx       context.Context
	cancel    context.CancelFunc
	send      chan []byte
	done      chan struct{}
	connected atomic.Bool
}

// Option configures a Client.
type Option func(*Client)

// WithPath sets the websocket path appended to the endpoint. Default "/ws".
func WithPath(path string) Option {
	return func(c *Client) {
		if path != "" {
			c.path = path
		}
	}
}

// WithDialer replaces the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) {
		c.dialer = d
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a disconnected client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		path:     defaultPath,
		dialer:   websocket.DefaultDialer,
		handlers: Handlers{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logpkg.WithComponent(logpkg.OrDefault(c.logger), "bridge")
	return c
}

// SetHandlers replaces the whole handler set. It applies to connections
// opened by later calls to Connect.
func (c *Client) SetHandlers(h Handlers) {
	set := make(Handlers, len(h))
	for name, fn := range h {
		set[name] = fn
	}
	c.mu.Lock()
	c.handlers = set
	c.mu.Unlock()
}

// OnConnected sets a function called each time a connection is established.
func (c *Client) OnConnected(fn func()) {
	c.mu.Lock()
	c.onConnected = fn
	c.mu.Unlock()
}

// WebSocketURL converts an event channel endpoint such as
// http://localhost:4269 into the websocket URL to dial.
func WebSocketURL(endpoint, path string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("endpoint %q has no host", endpoint)
	}
	if u.Path == "" || u.Path == "/" {
		if path == "" {
			path = defaultPath
		}
		u.Path = path
	}
	return u.String(), nil
}

// Connect starts connecting to endpoint in the background and returns
// immediately. Dialing is retried until it succeeds or Disconnect is called;
// once an established connection drops it is not re-dialed. Any previous
// connection is dropped first.
func (c *Client) Connect(endpoint string) error {
	wsURL, err := WebSocketURL(endpoint, c.path)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	cn := &connection{
		url:    wsURL,
		ctx:    ctx,
		cancel: cancel,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
	}

	c.mu.Lock()
	cn.handlers = c.handlers
	prev := c.conn
	c.conn = cn
	c.mu.Unlock()

	if prev != nil {
		prev.cancel()
	}

	go c.run(cn)
	return nil
}

// IsConnected reports whether a socket is currently established.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	cn := c.conn
	c.mu.Unlock()
	return cn != nil && cn.connected.Load()
}

// Emit queues an outbound event. Events queued while the dial is still in
// progress are written once it completes.
func (c *Client) Emit(event EventName, payload any) error {
	if !event.IsOutbound() {
		return fmt.Errorf("%w: %s", ErrUnknownEvent, event)
	}
	data, err := Encode(event, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}

	c.mu.Lock()
	cn := c.conn
	c.mu.Unlock()
	if cn == nil {
		return ErrNotConnected
	}

	select {
	case cn.send <- data:
		return nil
	case <-cn.ctx.Done():
		return ErrNotConnected
	default:
		return ErrSendBufferFull
	}
}

// Disconnect closes the connection in the background.
func (c *Client) Disconnect() {
	if cn := c.detach(); cn != nil {
		cn.cancel()
	}
}

// SyncDisconnect closes the connection and waits up to timeout for it to
// shut down.
func (c *Client) SyncDisconnect(timeout time.Duration) error {
	cn := c.detach()
	if cn == nil {
		return nil
	}
	cn.cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-cn.done:
		return nil
	case <-timer.C:
		return ErrDisconnectTimeout
	}
}

func (c *Client) detach() *connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	cn := c.conn
	c.conn = nil
	return cn
}

func (c *Client) run(cn *connection) {
	defer close(cn.done)
	defer cn.cancel()

	ws, err := c.dial(cn)
	if err != nil {
		return
	}

	cn.connected.Store(true)
	c.logger.Info("event channel connected", "url", cn.url)

	c.mu.Lock()
	onConnected := c.onConnected
	c.mu.Unlock()
	if onConnected != nil {
		onConnected()
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writePump(cn, ws)
	}()

	c.readLoop(cn, ws)

	cn.connected.Store(false)
	cn.cancel()
	wg.Wait()
	ws.Close()

	c.mu.Lock()
	if c.conn == cn {
		c.conn = nil
	}
	c.mu.Unlock()
	c.logger.Info("event channel disconnected", "url", cn.url)
}

// dial retries with capped exponential backoff until it connects or the
// connection is cancelled.
func (c *Client) dial(cn *connection) (*websocket.Conn, error) {
	delay := dialBaseDelay
	for {
		ws, _, err := c.dialer.DialContext(cn.ctx, cn.url, nil)
		if err == nil {
			return ws, nil
		}
		if cn.ctx.Err() != nil {
			return nil, cn.ctx.Err()
		}
		c.logger.Debug("event channel dial failed", "url", cn.url, "error", err, "retry_in", delay)

		timer := time.NewTimer(delay)
		select {
		case <-cn.ctx.Done():
			timer.Stop()
			return nil, cn.ctx.Err()
		case <-timer.C:
		}
		delay = min(delay*2, dialMaxDelay)
	}
}

func (c *Client) readLoop(cn *connection, ws *websocket.Conn) {
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongTimeout))
	})
	ws.SetReadDeadline(time.Now().Add(pongTimeout))

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("event channel read failed", "error", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("dropping malformed event", "error", err)
			continue
		}
		c.dispatch(cn, msg)
	}
}

// dispatch delivers msg to the handler cn was opened with. Frames still
// being read after the connection was cancelled are dropped.
func (c *Client) dispatch(cn *connection, msg Message) {
	if cn.ctx.Err() != nil {
		return
	}
	if !msg.Type.IsInbound() {
		c.logger.Debug("dropping unknown inbound event", logpkg.EventKey, msg.Type)
		return
	}
	h := cn.handlers[msg.Type]
	if h == nil {
		c.logger.Debug("no handler for event", logpkg.EventKey, msg.Type)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("event handler panicked", logpkg.EventKey, msg.Type, "panic", r)
		}
	}()
	h(msg.Type, msg.Payload)
}

// writePump owns all writes on ws. On cancellation it flushes whatever is
// still queued, sends a close frame and closes the socket so the reader exits.
func (c *Client) writePump(cn *connection, ws *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	write := func(data []byte) error {
		ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		return ws.WriteMessage(websocket.TextMessage, data)
	}

	for {
		select {
		case data := <-cn.send:
			if err := write(data); err != nil {
				c.logger.Warn("event channel write failed", "error", err)
				ws.Close()
				return
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				ws.Close()
				return
			}
		case <-cn.ctx.Done():
			flushQueued(cn.send, write)
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			ws.Close()
			return
		}
	}
}

func flushQueued(send <-chan []byte, write func([]byte) error) {
	for {
		select {
		case data := <-send:
			if write(data) != nil {
				return
			}
		default:
			return
		}
	}
}
