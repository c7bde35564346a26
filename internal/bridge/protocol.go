package bridge

import "encoding/json"

// EventName identifies a message on the event channel. The vocabulary is
// fixed: the runtime and the host agree on exactly these names.
type EventName string

// Inbound events, sent by the scripted runtime.
const (
	EventConsoleLog       EventName = "console.log"
	EventMainScriptEnd    EventName = "mainScriptEnd"
	EventChildScriptEnd   EventName = "childScriptEnd"
	EventChildScriptError EventName = "childScriptError"
)

// Outbound events, sent by the host.
const (
	EventRunChildScript  EventName = "runChildScript"
	EventStdin           EventName = "stdin"
	EventStopMainScript  EventName = "stopMainScript"
	EventStopChildScript EventName = "stopChildScript"
)

// ForceStop is the payload of both stop events.
const ForceStop = "ForceStop"

var inbound = map[EventName]bool{
	EventConsoleLog:       true,
	EventMainScriptEnd:    true,
	EventChildScriptEnd:   true,
	EventChildScriptError: true,
}

var outbound = map[EventName]bool{
	EventRunChildScript:  true,
	EventStdin:           true,
	EventStopMainScript:  true,
	EventStopChildScript: true,
}

// IsInbound reports whether the runtime may send this event.
func (e EventName) IsInbound() bool { return inbound[e] }

// IsOutbound reports whether the host may send this event.
func (e EventName) IsOutbound() bool { return outbound[e] }

// Message is the envelope for every frame on the channel.
type Message struct {
	Type    EventName       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Encode builds the wire form of an event.
func Encode(event EventName, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Type: event, Payload: raw})
}
