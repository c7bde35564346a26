package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logpkg "github.com/agent-racer/scripthost/internal/log"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    command
		wantErr bool
	}{
		{name: "stop", line: ":stop", want: command{kind: cmdStopMain}},
		{name: "stop child", line: "  :stop-child ", want: command{kind: cmdStopChild}},
		{name: "child", line: ":child scripts/a.js", want: command{kind: cmdRunChild, arg: "scripts/a.js"}},
		{name: "child without path", line: ":child", wantErr: true},
		{name: "plain text", line: "hello world", want: command{kind: cmdEmit, arg: "hello world"}},
		{name: "unknown colon", line: ":children", want: command{kind: cmdEmit, arg: ":children"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseCommand(tt.line)
			if tt.wantErr {
				assert.ErrorIs(t, err, errUsage)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

type fakeCommander struct {
	calls    []string
	childErr error
}

func (f *fakeCommander) RunChildScript(path string) error {
	f.calls = append(f.calls, "child:"+path)
	return f.childErr
}

func (f *fakeCommander) StopChildScript() error {
	f.calls = append(f.calls, "stop-child")
	return nil
}

func (f *fakeCommander) StopMainScript() {
	f.calls = append(f.calls, "stop")
}

func (f *fakeCommander) Emit(data string) error {
	f.calls = append(f.calls, "emit:"+data)
	return nil
}

func TestReadCommands(t *testing.T) {
	f := &fakeCommander{childErr: errors.New("main script not running")}
	input := strings.Join([]string{
		"ping",
		"",
		":child b.js",
		":stop-child",
		":child",
		":stop",
	}, "\n")
	var errOut bytes.Buffer

	readCommands(strings.NewReader(input), f, &errOut, logpkg.Discard())

	assert.Equal(t, []string{"emit:ping", "child:b.js", "stop-child", "stop"}, f.calls)
	assert.Contains(t, errOut.String(), "main script not running")
	assert.Contains(t, errOut.String(), "usage:")
}

func TestLoadConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scripthost.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bridge:\n  port: 5000\nruntime:\n  executable: deno\n"), 0644))

	cfg, err := loadConfig(
		&rootOptions{configPath: path, logLevel: "debug", logFormat: "json"},
		&runOptions{port: 6000, runtimeDir: "/opt/runtime", status: true},
	)
	require.NoError(t, err)

	assert.Equal(t, 6000, cfg.Bridge.Port)
	assert.Equal(t, "deno", cfg.Runtime.Executable)
	assert.Equal(t, "/opt/runtime", cfg.Runtime.Dir)
	assert.True(t, cfg.Status.Enabled)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	_, err := loadConfig(&rootOptions{logFormat: "xml"}, &runOptions{})
	assert.Error(t, err)
}

func TestRootCommandHasRun(t *testing.T) {
	root := newRootCommand()
	run, _, err := root.Find([]string{"run"})
	require.NoError(t, err)
	assert.Equal(t, "run", run.Name())
	for _, name := range []string{"port", "runtime-dir", "exe", "status"} {
		assert.NotNil(t, run.Flags().Lookup(name), name)
	}
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}
