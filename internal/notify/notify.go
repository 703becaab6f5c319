// Package notify delivers desktop notifications for session state
// changes. Platform-specific senders live in notify_*.go files behind
// build tags; unsupported platforms degrade to a log line.
package notify

import (
	"fmt"
	"log"

	"github.com/agent-beacon/backend/internal/session"
)

// Desktop implements session.Notifier by shelling out to the native
// notification mechanism.
type Desktop struct{}

func NewDesktop() *Desktop {
	return &Desktop{}
}

func (d *Desktop) Notify(n session.Notification) {
	title, body := messageFor(n)
	if err := send(title, body); err != nil {
		log.Printf("notify: %v", err)
	}
}

// messageFor renders one notification into a title/body pair.
func messageFor(n session.Notification) (string, string) {
	project := n.Session.ProjectName
	if project == "" {
		project = n.Session.ID
	}

	switch n.Kind {
	case session.NotifyWaiting:
		if n.Escalated {
			return fmt.Sprintf("%s is still waiting", project), n.Session.DisplayStatusLine()
		}
		return fmt.Sprintf("%s needs input", project), n.Session.DisplayStatusLine()
	case session.NotifyCompleted:
		return fmt.Sprintf("%s finished", project), n.Session.DisplayStatusLine()
	case session.NotifyTerminated:
		return fmt.Sprintf("%s ended", project), n.Reason.DisplayName()
	}
	return project, ""
}

// Multi fans one notification out to several sinks.
type Multi []session.Notifier

func (m Multi) Notify(n session.Notification) {
	for _, sink := range m {
		if sink != nil {
			sink.Notify(n)
		}
	}
}
