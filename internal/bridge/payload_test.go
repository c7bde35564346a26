package bridge

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestText(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{"string unquoted", `"child.js"`, "child.js"},
		{"escaped string", `"line\nbreak \"quoted\""`, "line\nbreak \"quoted\""},
		{"object compacted", `{ "path" : "child.js",  "code": 0 }`, `{"path":"child.js","code":0}`},
		{"number", `42`, "42"},
		{"null", `null`, "null"},
		{"array", `[1, 2]`, "[1,2]"},
		{"empty", ``, ""},
		{"whitespace", `   `, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Text(json.RawMessage(tt.payload)))
		})
	}
}

func TestConsoleText(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{"msg field unwrapped", `{"msg":"hello"}`, "hello"},
		{"plain string", `"hello"`, "hello"},
		{"non-string msg", `{"msg":{"a":1}}`, `{"msg":{"a":1}}`},
		{"no msg field", `{"level":"info"}`, `{"level":"info"}`},
		{"array", `["a","b"]`, `["a","b"]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ConsoleText(json.RawMessage(tt.payload)))
		})
	}
}

func TestEncode(t *testing.T) {
	data, err := Encode(EventRunChildScript, "child.js")
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"runChildScript","payload":"child.js"}`, string(data))

	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, EventRunChildScript, msg.Type)
	assert.Equal(t, "child.js", Text(msg.Payload))
}

func TestVocabulary(t *testing.T) {
	for _, e := range []EventName{EventConsoleLog, EventMainScriptEnd, EventChildScriptEnd, EventChildScriptError} {
		assert.True(t, e.IsInbound(), e)
		assert.False(t, e.IsOutbound(), e)
	}
	for _, e := range []EventName{EventRunChildScript, EventStdin, EventStopMainScript, EventStopChildScript} {
		assert.True(t, e.IsOutbound(), e)
		assert.False(t, e.IsInbound(), e)
	}
	assert.False(t, EventName("bogus").IsInbound())
}

func TestWebSocketURL(t *testing.T) {
	tests := []struct {
		endpoint string
		path     string
		want     string
		wantErr  bool
	}{
		{"http://localhost:4269", "/ws", "ws://localhost:4269/ws", false},
		{"http://localhost:4269/", "", "ws://localhost:4269/ws", false},
		{"https://example.com:443", "/socket", "wss://example.com:443/socket", false},
		{"ws://127.0.0.1:1/custom", "/ws", "ws://127.0.0.1:1/custom", false},
		{"ftp://localhost:21", "/ws", "", true},
		{"http://", "/ws", "", true},
		{"://bad", "/ws", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			got, err := WebSocketURL(tt.endpoint, tt.path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEmitWithoutConnect(t *testing.T) {
	c := NewClient()
	assert.ErrorIs(t, c.Emit(EventStdin, "x"), ErrNotConnected)
	assert.False(t, c.IsConnected())
	assert.NoError(t, c.SyncDisconnect(0))
}

func TestEmitRejectsInboundNames(t *testing.T) {
	c := NewClient()
	assert.ErrorIs(t, c.Emit(EventConsoleLog, "x"), ErrUnknownEvent)
}

func TestFlushQueued(t *testing.T) {
	send := make(chan []byte, 3)
	send <- []byte("a")
	send <- []byte("b")

	var written []string
	flushQueued(send, func(b []byte) error {
		written = append(written, string(b))
		return nil
	})
	assert.Equal(t, []string{"a", "b"}, written)
	assert.Empty(t, send)
}
