package bridge

import (
	"bytes"
	"encoding/json"

	"github.com/tidwall/gjson"
)

// Text renders a payload the way callbacks receive it: JSON strings lose
// their quotes, everything else is compacted JSON. A missing payload is "".
func Text(payload json.RawMessage) string {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return ""
	}
	res := gjson.ParseBytes(trimmed)
	if res.Type == gjson.String {
		return res.String()
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return string(trimmed)
	}
	return buf.String()
}

// ConsoleText renders a console.log payload. The runtime wraps log lines as
// {"msg": "..."}; that field is unwrapped when it is a string.
func ConsoleText(payload json.RawMessage) string {
	if gjson.ValidBytes(payload) {
		if msg := gjson.GetBytes(payload, "msg"); msg.Type == gjson.String {
			return msg.String()
		}
	}
	return Text(payload)
}
