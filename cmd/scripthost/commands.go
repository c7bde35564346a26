package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

type commandKind int

const (
	cmdEmit commandKind = iota
	cmdRunChild
	cmdStopChild
	cmdStopMain
)

// command is one line typed on stdin.
type command struct {
	kind commandKind
	arg  string
}

var errUsage = errors.New("usage: :child <path> | :stop-child | :stop | <text>")

// parseCommand recognises the colon-prefixed control commands. Anything
// else is sent to the runtime as stdin data.
func parseCommand(line string) (command, error) {
	trimmed := strings.TrimSpace(line)
	switch {
	case trimmed == ":stop":
		return command{kind: cmdStopMain}, nil
	case trimmed == ":stop-child":
		return command{kind: cmdStopChild}, nil
	case trimmed == ":child" || strings.HasPrefix(trimmed, ":child "):
		path := strings.TrimSpace(strings.TrimPrefix(trimmed, ":child"))
		if path == "" {
			return command{}, errUsage
		}
		return command{kind: cmdRunChild, arg: path}, nil
	}
	return command{kind: cmdEmit, arg: line}, nil
}

// commander is the part of the controller driven from the terminal.
type commander interface {
	RunChildScript(path string) error
	StopChildScript() error
	StopMainScript()
	Emit(data string) error
}

func execute(c commander, cmd command) error {
	switch cmd.kind {
	case cmdRunChild:
		return c.RunChildScript(cmd.arg)
	case cmdStopChild:
		return c.StopChildScript()
	case cmdStopMain:
		c.StopMainScript()
		return nil
	default:
		return c.Emit(cmd.arg)
	}
}

// readCommands executes one command per input line until r is exhausted.
func readCommands(r io.Reader, c commander, errOut io.Writer, logger *slog.Logger) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		cmd, err := parseCommand(line)
		if err == nil {
			err = execute(c, cmd)
		}
		if err != nil {
			fmt.Fprintln(errOut, err)
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("stdin read failed", "error", err)
	}
}
