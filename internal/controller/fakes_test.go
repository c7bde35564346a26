package controller

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/agent-racer/scripthost/internal/bridge"
)

type emitted struct {
	Event   bridge.EventName
	Payload any
}

type fakeBridge struct {
	mu              sync.Mutex
	handlers        bridge.Handlers
	handlerSets     int
	endpoints       []string
	emits           []emitted
	connected       bool
	disconnects     int
	syncDisconnects []time.Duration
	connectErr      error
}

func (b *fakeBridge) SetHandlers(h bridge.Handlers) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = h
	b.handlerSets++
}

func (b *fakeBridge) Connect(endpoint string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.connectErr != nil {
		return b.connectErr
	}
	b.endpoints = append(b.endpoints, endpoint)
	b.connected = true
	return nil
}

func (b *fakeBridge) Emit(event bridge.EventName, payload any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.emits = append(b.emits, emitted{Event: event, Payload: payload})
	return nil
}

func (b *fakeBridge) Disconnect() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	b.disconnects++
}

func (b *fakeBridge) SyncDisconnect(timeout time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	b.syncDisconnects = append(b.syncDisconnects, timeout)
	return nil
}

func (b *fakeBridge) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// deliver simulates an inbound event arriving on the read goroutine.
func (b *fakeBridge) deliver(event bridge.EventName, payload string) {
	b.mu.Lock()
	h := b.handlers[event]
	b.mu.Unlock()
	if h != nil {
		h(event, json.RawMessage(payload))
	}
}

func (b *fakeBridge) sent() []emitted {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]emitted(nil), b.emits...)
}

func (b *fakeBridge) disconnectCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.disconnects
}

func (b *fakeBridge) handlerCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers)
}

// fakeRunner behaves like the supervisor without a real process. If gate
// is set, Run waits on it before looking at the stop signal.
type fakeRunner struct {
	gate    chan struct{}
	err     error
	pid     int
	started chan string

	mu    sync.Mutex
	calls int
	exits int
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{pid: 4242, started: make(chan string, 8)}
}

func (r *fakeRunner) Run(scriptPath string, stop <-chan struct{}, onStarted func(int)) error {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.exits++
		r.mu.Unlock()
	}()

	if r.gate != nil {
		<-r.gate
	}
	if r.err != nil {
		return r.err
	}
	select {
	case <-stop:
		return nil
	default:
	}

	onStarted(r.pid)
	r.started <- scriptPath
	<-stop
	return nil
}

func (r *fakeRunner) exitCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exits
}
