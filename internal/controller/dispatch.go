package controller

import (
	"log/slog"
	"runtime/debug"
	"sync"
)

// Dispatcher runs functions on the controller's home context. Completion
// and spawn-error callbacks are delivered through it.
type Dispatcher interface {
	Dispatch(fn func())
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(fn func())

func (f DispatcherFunc) Dispatch(fn func()) { f(fn) }

// Loop is a Dispatcher backed by one goroutine that runs queued functions
// in order.
type Loop struct {
	queue  chan func()
	quit   chan struct{}
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

// NewLoop starts a dispatch loop.
func NewLoop(logger *slog.Logger) *Loop {
	l := &Loop{
		queue:  make(chan func(), 16),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger,
	}
	go l.run()
	return l
}

// Dispatch queues fn. Functions dispatched after Close are dropped.
func (l *Loop) Dispatch(fn func()) {
	select {
	case <-l.quit:
		return
	default:
	}
	select {
	case l.queue <- fn:
	case <-l.quit:
	}
}

// Close stops the loop after the function currently running returns.
// It must not be called from a dispatched function.
func (l *Loop) Close() {
	l.once.Do(func() { close(l.quit) })
	<-l.done
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		select {
		case fn := <-l.queue:
			l.call(fn)
		case <-l.quit:
			return
		}
	}
}

func (l *Loop) call(fn func()) {
	defer func() {
		if r := recover(); r != nil && l.logger != nil {
			l.logger.Error("dispatched function panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	fn()
}
