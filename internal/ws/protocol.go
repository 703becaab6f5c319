package ws

import (
	"github.com/agent-beacon/backend/internal/session"
)

type MessageType string

const (
	MsgSnapshot     MessageType = "snapshot"
	MsgNotification MessageType = "notification"
	MsgError        MessageType = "error"
)

type WSMessage struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload"`
}

// SnapshotPayload carries the full ordered view. Clients replace their
// state wholesale; there is no delta protocol, the view is small.
type SnapshotPayload struct {
	Sessions []session.Session   `json:"sessions"`
	Global   session.GlobalState `json:"global"`
}

type NotificationPayload struct {
	Kind        string          `json:"kind"`
	Escalated   bool            `json:"escalated,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	SessionID   string          `json:"sessionId"`
	ProjectName string          `json:"projectName"`
	StatusLine  string          `json:"statusLine"`
	Session     session.Session `json:"session"`
}

func notificationKindName(k session.NotificationKind) string {
	switch k {
	case session.NotifyWaiting:
		return "waiting"
	case session.NotifyCompleted:
		return "completed"
	case session.NotifyTerminated:
		return "terminated"
	}
	return "unknown"
}
