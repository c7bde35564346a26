package bridge

import "errors"

var (
	// ErrNotConnected is returned by Emit when no connection is live or being dialed.
	ErrNotConnected = errors.New("bridge: not connected")

	// ErrDisconnectTimeout is returned by SyncDisconnect when the connection
	// did not shut down in time.
	ErrDisconnectTimeout = errors.New("bridge: disconnect timed out")

	// ErrSendBufferFull is returned by Emit when the outbound queue is full.
	ErrSendBufferFull = errors.New("bridge: send buffer full")

	// ErrUnknownEvent is returned by Emit for names outside the outbound vocabulary.
	ErrUnknownEvent = errors.New("bridge: unknown outbound event")
)
