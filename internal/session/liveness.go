package session

import (
	"strings"
	"time"

	"github.com/agent-beacon/backend/internal/procsnap"
)

// evidence is the outcome of evaluating process-table evidence for one
// session.
type evidence int

const (
	evidenceAlive evidence = iota
	evidenceMissing
	evidenceUnknown
)

// LivenessMonitor recomputes each session's liveness state from a process
// snapshot, independent of the display status. Reconcile is a pure
// function over its inputs: feeding its output back in with the same
// snapshot and time yields the same result, so re-running a check is
// always safe.
type LivenessMonitor struct {
	tuning Tuning
}

func NewLivenessMonitor(tuning Tuning) *LivenessMonitor {
	return &LivenessMonitor{tuning: tuning}
}

// Reconcile returns the next session map. Input sessions are not
// mutated; every returned record is a fresh copy. Sessions past their
// cleanup deadline are dropped from the result entirely.
func (m *LivenessMonitor) Reconcile(sessions map[string]*Session, snap *procsnap.Snapshot, now time.Time) map[string]*Session {
	next := make(map[string]*Session, len(sessions))
	for id, s := range sessions {
		if out := m.reconcileOne(s, snap, now); out != nil {
			next[id] = out
		}
	}
	return next
}

func (m *LivenessMonitor) reconcileOne(s *Session, snap *procsnap.Snapshot, now time.Time) *Session {
	next := s.Clone()

	if next.LivenessState == LivenessTerminated {
		if next.CleanupDeadline != nil && !now.Before(*next.CleanupDeadline) {
			return nil
		}
		return next
	}

	// Escape hatch: a session that has gone silent for the hard-expiry
	// window and has no positive liveness evidence is dead regardless of
	// what the process table says.
	if now.Sub(next.UpdatedAt) > m.tuning.HardExpiry && next.LivenessState != LivenessAlive {
		return m.terminate(next, ReasonHeartbeatTimeout, now)
	}

	if snap == nil {
		// Collection failed this cycle. Absence of evidence is not
		// evidence of absence.
		return next
	}

	ev, reason := evaluate(next, snap)
	switch ev {
	case evidenceAlive:
		next.LivenessState = LivenessAlive
		next.LastSeenAliveAt = timePtr(now)
		next.OfflineMarkedAt = nil
		next.CleanupDeadline = nil
		next.TerminationReason = ""
		return next

	case evidenceMissing:
		if next.OfflineMarkedAt == nil {
			next.OfflineMarkedAt = timePtr(now)
			next.LivenessState = LivenessSuspectOffline
			return next
		}
		if now.Sub(*next.OfflineMarkedAt) < m.tuning.OfflineGracePeriod {
			next.LivenessState = LivenessSuspectOffline
			return next
		}
		next.LivenessState = LivenessOffline
		return m.terminate(next, reason, now)

	default:
		return next
	}
}

func (m *LivenessMonitor) terminate(s *Session, reason TerminationReason, now time.Time) *Session {
	s.LivenessState = LivenessTerminated
	s.TerminationReason = reason
	s.CleanupDeadline = timePtr(now.Add(m.tuning.TerminatedRetention))
	s.OfflineMarkedAt = nil

	if s.Status == StatusProcessing || s.Status == StatusWaiting {
		s.Status = StatusCompleted
		s.StatusReason = strings.ToUpper(string(reason))
		s.CompletedAt = timePtr(now)
		s.WaitingSince = nil
	}
	return s
}

// evaluate prefers the most authoritative signal available. ShellPPID is
// the agent's own process; the shell the user typed into (ShellPID)
// usually outlives the agent, so checking it alone produces false
// "alive" readings after the agent has exited.
func evaluate(s *Session, snap *procsnap.Snapshot) (evidence, TerminationReason) {
	tty := procsnap.NormalizeTTY(s.TerminalTTY)

	agentPID := s.ShellPPID
	shellPID := s.ShellPID
	if shellPID <= 0 {
		shellPID = s.SourcePID
	}

	if agentPID > 1 {
		if _, ok := snap.Lookup(agentPID); !ok {
			return evidenceMissing, ReasonProcessMissing
		}
	}

	if shellPID > 1 {
		entry, ok := snap.Lookup(shellPID)
		if !ok {
			return evidenceMissing, ReasonProcessMissing
		}
		if tty != "" && entry.TTY != tty {
			return evidenceMissing, ReasonTTYMissing
		}
		return evidenceAlive, ""
	}

	if tty != "" {
		if snap.TTYInUse(tty) {
			return evidenceAlive, ""
		}
		return evidenceMissing, ReasonTTYMissing
	}

	// No pid, no terminal: liveness cannot be disproved.
	return evidenceUnknown, ""
}
