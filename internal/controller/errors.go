package controller

import "errors"

var (
	// ErrBusy is returned by Start while a session is active.
	ErrBusy = errors.New("main script already running")

	// ErrNotRunning is returned by child-script commands when no main
	// script process exists.
	ErrNotRunning = errors.New("main script not running")

	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("controller closed")
)
