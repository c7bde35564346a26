package status

import (
	"github.com/agent-racer/scripthost/internal/session"
)

type MessageType string

const (
	MsgSnapshot MessageType = "snapshot"
	MsgSession  MessageType = "session"
)

type Message struct {
	Type    MessageType `json:"type"`
	Seq     uint64      `json:"seq"`
	Payload any         `json:"payload"`
}

type SnapshotPayload struct {
	Sessions []*session.Snapshot `json:"sessions"`
}

// SessionPayload carries one lifecycle event.
type SessionPayload struct {
	Event   string           `json:"event"`
	Session session.Snapshot `json:"session"`
}
