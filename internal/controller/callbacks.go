package controller

import (
	"log/slog"
)

// Callbacks are the host's hooks into a session. All are optional. None is
// guaranteed to run on the caller's goroutine: OnMainScriptEnd and
// OnSpawnError run on the home dispatcher, the rest on the event channel's
// read goroutine.
type Callbacks struct {
	OnMainScriptEnd  func(scriptPath string)
	OnChildScriptEnd func(info string)
	OnScriptError    func(scriptPath, message string)
	OnConsoleLog     func(message string)
	OnSpawnError     func(scriptPath string, err error)
}

// invoke runs a host callback, logging instead of propagating a panic.
func invoke(logger *slog.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("callback panicked", "callback", name, "panic", r)
		}
	}()
	fn()
}

func (cb Callbacks) mainScriptEnd(logger *slog.Logger, path string) {
	if cb.OnMainScriptEnd != nil {
		invoke(logger, "OnMainScriptEnd", func() { cb.OnMainScriptEnd(path) })
	}
}

func (cb Callbacks) childScriptEnd(logger *slog.Logger, info string) {
	if cb.OnChildScriptEnd != nil {
		invoke(logger, "OnChildScriptEnd", func() { cb.OnChildScriptEnd(info) })
	}
}

func (cb Callbacks) scriptError(logger *slog.Logger, path, msg string) {
	if cb.OnScriptError != nil {
		invoke(logger, "OnScriptError", func() { cb.OnScriptError(path, msg) })
	}
}

func (cb Callbacks) consoleLog(logger *slog.Logger, msg string) {
	if cb.OnConsoleLog != nil {
		invoke(logger, "OnConsoleLog", func() { cb.OnConsoleLog(msg) })
	}
}

func (cb Callbacks) spawnError(logger *slog.Logger, path string, err error) {
	if cb.OnSpawnError != nil {
		invoke(logger, "OnSpawnError", func() { cb.OnSpawnError(path, err) })
	}
}
