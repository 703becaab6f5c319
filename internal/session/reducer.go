package session

import (
	"strings"
	"time"
)

// NotificationKind classifies a notification decision produced by the
// reducer or the liveness merge.
type NotificationKind int

const (
	NotifyWaiting NotificationKind = iota
	NotifyCompleted
	NotifyTerminated
)

// Notification is a side-effect decision attached to an upsert. The
// embedded session is a snapshot taken at decision time, safe to hand to
// the sink without further locking.
type Notification struct {
	Kind      NotificationKind
	Escalated bool
	Reason    TerminationReason
	Session   Session
}

// MutationOp discriminates the reducer result.
type MutationOp int

const (
	OpNone MutationOp = iota
	OpUpsert
	OpRemove
)

// Mutation is the outcome of reducing one event against the current
// record: an upsert with an optional notification, a removal, or nothing.
type Mutation struct {
	Op           MutationOp
	Session      *Session
	Notification *Notification
	RemoveID     string
}

// Reduce computes the mutation for one event. Pure: no I/O, no shared
// state, total over every event kind including events for unknown
// sessions.
func Reduce(current *Session, ev Event, now time.Time, tuning Tuning) Mutation {
	if ev.Kind == KindSessionEnded {
		if current == nil {
			// Nothing to end.
			return Mutation{Op: OpNone}
		}
		next := current.Clone()
		next.UpdatedAt = now
		next.Status = StatusCompleted
		next.StatusReason = "SESSION_ENDED"
		next.CompletedAt = timePtr(now)
		next.WaitingSince = nil
		next.LivenessState = LivenessTerminated
		next.TerminationReason = ReasonSessionEndEvent
		next.CleanupDeadline = timePtr(now.Add(tuning.TerminatedRetention))
		next.OfflineMarkedAt = nil
		return Mutation{
			Op:      OpUpsert,
			Session: next,
			Notification: &Notification{
				Kind:    NotifyTerminated,
				Reason:  ReasonSessionEndEvent,
				Session: *next,
			},
		}
	}

	var next *Session
	if current != nil {
		next = current.Clone()
	} else {
		next = &Session{
			ID:               ev.SessionID,
			ProjectName:      inferredProjectName(ev),
			Cwd:              ev.Cwd,
			Status:           StatusProcessing,
			MaxContextTokens: tuning.MaxContextTokensFor(ev.Model),
			MaxContextBytes:  DefaultMaxContextBytes,
			Model:            ev.Model,
			SourceConfidence: ConfidenceUnknown,
			LivenessState:    LivenessAlive,
			LastSeenAliveAt:  timePtr(now),
		}
	}

	next.UpdatedAt = now
	if ev.ProjectName != "" {
		next.ProjectName = ev.ProjectName
	}
	if ev.Cwd != "" {
		next.Cwd = ev.Cwd
	}
	if ev.Model != "" {
		next.Model = ev.Model
	}
	mergeProvenance(next, ev)
	next.SourceFingerprint = BuildFingerprint(next.SourceBundleID, next.TerminalTTY, next.ShellPID, next.SourcePID)

	// Receiving any event is itself strong evidence of life.
	next.LivenessState = LivenessAlive
	next.LastSeenAliveAt = timePtr(now)
	next.OfflineMarkedAt = nil
	next.CleanupDeadline = nil
	next.TerminationReason = ""

	switch ev.Kind {
	case KindPromptSubmitted:
		next.Status = StatusProcessing
		next.StatusReason = statusReasonFromPrompt(ev.Prompt)
		next.WaitingSince = nil
		next.CompletedAt = nil
		return Mutation{Op: OpUpsert, Session: next}

	case KindToolUseCompleted:
		next.Status = StatusProcessing
		next.WaitingSince = nil
		next.CompletedAt = nil
		applyUsage(next, ev, tuning)
		return Mutation{Op: OpUpsert, Session: next}

	case KindPermissionNeeded:
		next.Status = StatusWaiting
		next.StatusReason = orDefault(ev.ToolName, "WAITING_FOR_INPUT")
		return Mutation{Op: OpUpsert, Session: next, Notification: waitingDecision(next, now, tuning)}

	case KindNotification:
		if entersWaiting(ev.NotificationType) {
			next.Status = StatusWaiting
			next.StatusReason = orDefault(ev.Message, orDefault(ev.NotificationType, "WAITING_FOR_INPUT"))
			return Mutation{Op: OpUpsert, Session: next, Notification: waitingDecision(next, now, tuning)}
		}
		// Other notification sub-types still refresh provenance and timestamps.
		return Mutation{Op: OpUpsert, Session: next}

	case KindStopped:
		next.Status = StatusCompleted
		next.StatusReason = "DONE"
		next.CompletedAt = timePtr(now)
		next.WaitingSince = nil
		return Mutation{Op: OpUpsert, Session: next, Notification: &Notification{
			Kind:    NotifyCompleted,
			Session: *next,
		}}
	}

	return Mutation{Op: OpNone}
}

// mergeProvenance folds the event's provenance fields into the session.
// Absent values never erase previously known provenance.
func mergeProvenance(next *Session, ev Event) {
	if ev.SourceApp != "" {
		next.SourceApp = ev.SourceApp
	}
	if ev.SourceBundleID != "" {
		next.SourceBundleID = ev.SourceBundleID
	}
	if ev.SourcePID != nil {
		next.SourcePID = *ev.SourcePID
	}
	if ev.SourceConfidence != "" {
		next.SourceConfidence = ev.SourceConfidence
	}
	if ev.ShellPID != nil {
		next.ShellPID = *ev.ShellPID
	}
	if ev.ShellPPID != nil {
		next.ShellPPID = *ev.ShellPPID
	}
	if ev.TerminalTTY != "" {
		next.TerminalTTY = ev.TerminalTTY
	}
	if ev.TerminalSessionID != "" {
		next.TerminalSessionID = ev.TerminalSessionID
	}
	if ev.TerminalWindowID != "" {
		next.TerminalWindowID = ev.TerminalWindowID
	}
	if ev.TerminalPaneID != "" {
		next.TerminalPaneID = ev.TerminalPaneID
	}
}

// applyUsage updates usage counters from a tool-use event. Token counts
// are preferred; bytes are the legacy fallback. Max-context values are
// replaced when the event supplies one and kept otherwise.
func applyUsage(next *Session, ev Event, tuning Tuning) {
	if ev.UsageTokens != nil && *ev.UsageTokens >= 0 {
		next.UsageTokens = *ev.UsageTokens
		if ev.Model != "" {
			next.MaxContextTokens = tuning.MaxContextTokensFor(ev.Model)
		}
		if ev.MaxContextTokens != nil && *ev.MaxContextTokens > 0 {
			next.MaxContextTokens = *ev.MaxContextTokens
		}
		next.UsageSegments = Segments(next.UsageTokens, next.MaxContextTokens)
		next.UsageBytes = next.UsageTokens * TokenBytesRatio
	} else if ev.UsageBytes != nil && *ev.UsageBytes >= 0 {
		next.UsageBytes = *ev.UsageBytes
		if ev.MaxContextBytes != nil && *ev.MaxContextBytes > 0 {
			next.MaxContextBytes = *ev.MaxContextBytes
		}
		next.UsageSegments = Segments(next.UsageBytes, next.MaxContextBytes)
	}
	if ev.MaxContextBytes != nil && *ev.MaxContextBytes > 0 {
		next.MaxContextBytes = *ev.MaxContextBytes
	}
}

// waitingDecision applies the silence/escalation windows and mutates the
// session's notification bookkeeping. Returns nil when suppressed; the
// status mutation still applies either way. Both windows are evaluated
// against the session's own waiting-start time.
func waitingDecision(next *Session, now time.Time, tuning Tuning) *Notification {
	if next.WaitingSince == nil {
		next.WaitingSince = timePtr(now)
	}

	escalated := now.Sub(*next.WaitingSince) >= tuning.NotifyEscalationWindow

	if last := next.LastWaitingNotificationAt; last != nil && now.Sub(*last) < tuning.NotifySilenceWindow {
		return nil
	}

	next.LastWaitingNotificationAt = timePtr(now)
	if escalated {
		next.NotificationRepeatCount++
	}

	return &Notification{
		Kind:      NotifyWaiting,
		Escalated: escalated,
		Session:   *next,
	}
}

// entersWaiting reports whether a generic notification's sub-type counts
// as a prompt for user input. Matched case/punctuation-insensitively.
func entersWaiting(notificationType string) bool {
	switch normalizeToken(notificationType) {
	case "permission_prompt", "permission_request", "idle_prompt":
		return true
	}
	return false
}

func inferredProjectName(ev Event) string {
	if ev.ProjectName != "" {
		return strings.ToUpper(ev.ProjectName)
	}
	if ev.Cwd != "" {
		parts := strings.Split(strings.TrimRight(ev.Cwd, "/"), "/")
		if folder := parts[len(parts)-1]; folder != "" {
			return strings.ToUpper(folder)
		}
	}
	return "UNKNOWN_SESSION"
}

// statusReasonFromPrompt derives a terse status label from the first 24
// characters of the prompt: spaces become underscores, uppercased.
func statusReasonFromPrompt(prompt string) string {
	trimmed := strings.TrimSpace(prompt)
	if trimmed == "" {
		return "PROCESSING"
	}
	runes := []rune(trimmed)
	if len(runes) > 24 {
		runes = runes[:24]
	}
	return strings.ToUpper(strings.ReplaceAll(string(runes), " ", "_"))
}

func timePtr(t time.Time) *time.Time {
	return &t
}
