// Package controller coordinates a main-script session: it binds the event
// channel, hands the runtime process to a supervisor goroutine and reports
// completion on a home dispatcher.
package controller

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agent-racer/scripthost/internal/bridge"
	logpkg "github.com/agent-racer/scripthost/internal/log"
	"github.com/agent-racer/scripthost/internal/metrics"
	"github.com/agent-racer/scripthost/internal/session"
	"github.com/agent-racer/scripthost/internal/supervisor"
)

const (
	DefaultScript            = "nodeWrapper.js"
	DefaultPort              = 4269
	defaultHost              = "localhost"
	defaultDisconnectTimeout = time.Second
)

// Bridge is the event channel client. *bridge.Client satisfies it.
type Bridge interface {
	SetHandlers(h bridge.Handlers)
	Connect(endpoint string) error
	Emit(event bridge.EventName, payload any) error
	Disconnect()
	SyncDisconnect(timeout time.Duration) error
	IsConnected() bool
}

// Runner owns the runtime process for one session. *supervisor.Supervisor
// satisfies it.
type Runner interface {
	Run(scriptPath string, stop <-chan struct{}, onStarted func(pid int)) error
}

// Controller is the façade over one main-script session at a time.
type Controller struct {
	bridge            Bridge
	runner            Runner
	defaultScript     string
	defaultPort       int
	host              string
	disconnectTimeout time.Duration
	dispatcher        Dispatcher
	loop              *Loop
	store             *session.Store
	observer          func(session.Event)
	metrics           *metrics.Collector
	logger            *slog.Logger

	mu        sync.Mutex
	callbacks Callbacks
	current   *session.Session
	closed    bool

	running atomic.Bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithDefaults sets the script and port used by EnsureStarted.
func WithDefaults(script string, port int) Option {
	return func(c *Controller) {
		if script != "" {
			c.defaultScript = script
		}
		if port > 0 {
			c.defaultPort = port
		}
	}
}

// WithEndpointHost sets the host of the event channel endpoint.
func WithEndpointHost(host string) Option {
	return func(c *Controller) {
		if host != "" {
			c.host = host
		}
	}
}

// WithDisconnectTimeout bounds the blocking disconnect done before a new
// session and on Close.
func WithDisconnectTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.disconnectTimeout = d
		}
	}
}

// WithDispatcher sets the home context. Without it the controller runs its
// own Loop and stops it on Close.
func WithDispatcher(d Dispatcher) Option {
	return func(c *Controller) {
		c.dispatcher = d
	}
}

func WithCallbacks(cb Callbacks) Option {
	return func(c *Controller) {
		c.callbacks = cb
	}
}

// WithStore records every session snapshot in store.
func WithStore(store *session.Store) Option {
	return func(c *Controller) {
		c.store = store
	}
}

// WithObserver registers a function that receives every lifecycle event.
// It is called synchronously and must not block.
func WithObserver(fn func(session.Event)) Option {
	return func(c *Controller) {
		c.observer = fn
	}
}

func WithMetrics(m *metrics.Collector) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// New creates an idle controller.
func New(br Bridge, runner Runner, opts ...Option) *Controller {
	c := &Controller{
		bridge:            br,
		runner:            runner,
		defaultScript:     DefaultScript,
		defaultPort:       DefaultPort,
		host:              defaultHost,
		disconnectTimeout: defaultDisconnectTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logpkg.WithComponent(logpkg.OrDefault(c.logger), "controller")
	if c.dispatcher == nil {
		c.loop = NewLoop(c.logger)
		c.dispatcher = c.loop
	}
	return c
}

// SetCallbacks replaces the host callbacks. Callbacks are read when each
// event is delivered, so a change applies to the running session too.
func (c *Controller) SetCallbacks(cb Callbacks) {
	c.mu.Lock()
	c.callbacks = cb
	c.mu.Unlock()
}

func (c *Controller) currentCallbacks() Callbacks {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callbacks
}

// EnsureStarted starts a session with the default script and port unless
// one is already active.
func (c *Controller) EnsureStarted() error {
	err := c.Start(c.defaultScript, c.defaultPort)
	if errors.Is(err, ErrBusy) {
		return nil
	}
	return err
}

// Start begins a session running scriptPath with the event channel on port.
// It returns once the connection and the supervisor goroutine have been
// launched; whether the process actually started is reported through
// IsMainScriptRunning and the callbacks.
func (c *Controller) Start(scriptPath string, port int) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.current != nil {
		c.mu.Unlock()
		return ErrBusy
	}
	sess := session.New(scriptPath, port)
	c.current = sess
	c.mu.Unlock()

	logger := c.sessionLogger(sess)

	if c.bridge.IsConnected() {
		if err := c.bridge.SyncDisconnect(c.disconnectTimeout); err != nil {
			logger.Warn("previous event channel did not close", "error", err)
		}
	}

	c.bridge.SetHandlers(c.handlers(sess, logger))

	endpoint := "http://" + net.JoinHostPort(c.host, strconv.Itoa(port))
	if err := c.bridge.Connect(endpoint); err != nil {
		sess.Stop()
		sess.SetError(err.Error())
		sess.Advance(session.Idle)
		c.mu.Lock()
		c.current = nil
		c.mu.Unlock()
		sess.MarkDone()
		return fmt.Errorf("connect event channel: %w", err)
	}

	logger.Info("session started", "endpoint", endpoint)
	c.metrics.SessionStarted()
	c.publish(session.EventStarted, sess)

	go c.supervise(sess, logger)
	return nil
}

// RunChildScript asks the runtime to execute scriptPath inside the main
// script's process.
func (c *Controller) RunChildScript(scriptPath string) error {
	if !c.running.Load() {
		return ErrNotRunning
	}
	return c.emit(bridge.EventRunChildScript, scriptPath)
}

// StopChildScript asks the runtime to stop the current child script.
func (c *Controller) StopChildScript() error {
	if !c.running.Load() {
		return ErrNotRunning
	}
	return c.emit(bridge.EventStopChildScript, bridge.ForceStop)
}

// Emit forwards data to the runtime as a stdin event. Unlike the
// child-script commands it does not require a running main script; only
// event channel errors are returned.
func (c *Controller) Emit(data string) error {
	return c.emit(bridge.EventStdin, data)
}

// StopMainScript tells the runtime to stop, drops the event channel and
// clears the should-run flag. It does not wait for the process to exit.
func (c *Controller) StopMainScript() {
	if err := c.emit(bridge.EventStopMainScript, bridge.ForceStop); err != nil {
		c.logger.Debug("stop notification not sent", "error", err)
	}
	c.bridge.Disconnect()

	if sess := c.active(); sess != nil {
		c.requestStop(sess, "stop requested")
	}
}

// IsMainScriptRunning reports whether the main script process exists.
func (c *Controller) IsMainScriptRunning() bool {
	return c.running.Load()
}

// State returns the state of the active session, or Idle.
func (c *Controller) State() session.State {
	if sess := c.active(); sess != nil {
		return sess.State()
	}
	return session.Idle
}

// Session returns a snapshot of the active session.
func (c *Controller) Session() (session.Snapshot, bool) {
	if sess := c.active(); sess != nil {
		return sess.Snapshot(), true
	}
	return session.Snapshot{}, false
}

// Close stops the active session and blocks until its supervisor goroutine
// has terminated the process and its completion callback has returned. It
// then drops the event channel. Close must not be called from the home
// dispatcher.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sess := c.current
	c.mu.Unlock()

	if sess != nil {
		c.requestStop(sess, "shutting down")
		<-sess.Done()
	}

	err := c.bridge.SyncDisconnect(c.disconnectTimeout)
	if c.loop != nil {
		c.loop.Close()
	}
	return err
}

func (c *Controller) active() *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *Controller) sessionLogger(sess *session.Session) *slog.Logger {
	return c.logger.With(
		logpkg.SessionIDKey, sess.ID,
		logpkg.ScriptKey, sess.ScriptPath,
		logpkg.PortKey, sess.Port,
	)
}

func (c *Controller) emit(event bridge.EventName, payload any) error {
	if err := c.bridge.Emit(event, payload); err != nil {
		return err
	}
	c.metrics.BridgeEvent(metrics.Outbound, string(event))
	return nil
}

// handlers builds the inbound handler set for sess.
func (c *Controller) handlers(sess *session.Session, logger *slog.Logger) bridge.Handlers {
	inbound := func(event bridge.EventName) {
		c.metrics.BridgeEvent(metrics.Inbound, string(event))
	}

	return bridge.Handlers{
		bridge.EventConsoleLog: func(event bridge.EventName, payload json.RawMessage) {
			inbound(event)
			c.currentCallbacks().consoleLog(logger, bridge.ConsoleText(payload))
		},
		bridge.EventMainScriptEnd: func(event bridge.EventName, payload json.RawMessage) {
			inbound(event)
			c.bridge.Disconnect()
			c.requestStop(sess, "main script ended")
		},
		bridge.EventChildScriptEnd: func(event bridge.EventName, payload json.RawMessage) {
			inbound(event)
			c.currentCallbacks().childScriptEnd(logger, bridge.Text(payload))
		},
		bridge.EventChildScriptError: func(event bridge.EventName, payload json.RawMessage) {
			inbound(event)
			msg := bridge.Text(payload)
			logger.Warn("script error", "message", msg)
			c.metrics.ScriptError()
			c.currentCallbacks().scriptError(logger, sess.ScriptPath, msg)
		},
	}
}

// requestStop clears the should-run flag of sess once.
func (c *Controller) requestStop(sess *session.Session, reason string) {
	if !sess.Stop() {
		return
	}
	c.sessionLogger(sess).Info(reason)
	if sess.Advance(session.Stopping) {
		c.publish(session.EventState, sess)
	}
}

// supervise runs on its own goroutine for the life of the process.
func (c *Controller) supervise(sess *session.Session, logger *slog.Logger) {
	err := c.runner.Run(sess.ScriptPath, sess.Stopping(), func(pid int) {
		sess.SetPID(pid)
		c.running.Store(true)
		c.metrics.SetRunning(true)
		logger.Info("main script running", logpkg.PIDKey, pid)
		if sess.Advance(session.Running) {
			c.publish(session.EventState, sess)
		}
	})
	c.dispatcher.Dispatch(func() { c.finish(sess, err, logger) })
}

// finish runs on the home dispatcher once the process is gone.
func (c *Controller) finish(sess *session.Session, err error, logger *slog.Logger) {
	defer sess.MarkDone()

	sess.Stop()
	if err != nil {
		sess.SetError(err.Error())
	}
	c.bridge.Disconnect()

	c.running.Store(false)
	c.metrics.SetRunning(false)
	sess.Advance(session.Idle)

	c.mu.Lock()
	if c.current == sess {
		c.current = nil
	}
	cb := c.callbacks
	c.mu.Unlock()

	c.publish(session.EventEnded, sess)

	if err != nil {
		var spawnErr *supervisor.SpawnError
		if errors.As(err, &spawnErr) {
			logger.Error("main script failed to spawn", "op", spawnErr.Op, "error", spawnErr.Err)
		} else {
			logger.Error("main script supervision failed", "error", err)
		}
		c.metrics.SpawnFailed()
		cb.spawnError(logger, sess.ScriptPath, err)
		return
	}

	logger.Info("main script ended")
	cb.mainScriptEnd(logger, sess.ScriptPath)
}

func (c *Controller) publish(typ session.EventType, sess *session.Session) {
	snap := sess.Snapshot()
	if c.store != nil {
		c.store.Update(snap)
	}
	if c.observer != nil {
		invoke(c.logger, "observer", func() { c.observer(session.Event{Type: typ, Snapshot: snap}) })
	}
}
