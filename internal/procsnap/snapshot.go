// Package procsnap provides point-in-time snapshots of the OS process
// table for liveness reconciliation. A snapshot is an immutable value:
// callers receive it by pointer but never mutate it, so it can be passed
// into a reconciliation pass without locking.
package procsnap

import "strings"

// Entry describes one process at snapshot time.
type Entry struct {
	PID  int
	PPID int
	// TTY is the controlling terminal in normalized /dev/... form, or ""
	// when the process has none.
	TTY string
}

// Snapshot is a one-shot view of the process table with a secondary
// terminal index.
type Snapshot struct {
	EntriesByPID map[int]Entry
	PIDsByTTY    map[string]map[int]struct{}
}

// Provider produces process snapshots. Implementations return nil when
// collection fails: a missing snapshot is inconclusive and must never be
// read as "all processes are gone".
type Provider interface {
	Snapshot() *Snapshot
}

// New builds a snapshot from raw entries, normalizing terminals and
// populating the TTY index.
func New(entries []Entry) *Snapshot {
	snap := &Snapshot{
		EntriesByPID: make(map[int]Entry, len(entries)),
		PIDsByTTY:    make(map[string]map[int]struct{}),
	}
	for _, e := range entries {
		e.TTY = NormalizeTTY(e.TTY)
		snap.EntriesByPID[e.PID] = e
		if e.TTY != "" {
			set, ok := snap.PIDsByTTY[e.TTY]
			if !ok {
				set = make(map[int]struct{})
				snap.PIDsByTTY[e.TTY] = set
			}
			set[e.PID] = struct{}{}
		}
	}
	return snap
}

// Lookup returns the entry for pid.
func (s *Snapshot) Lookup(pid int) (Entry, bool) {
	e, ok := s.EntriesByPID[pid]
	return e, ok
}

// TTYInUse reports whether any process has the given (normalized)
// terminal as its controlling terminal.
func (s *Snapshot) TTYInUse(tty string) bool {
	return len(s.PIDsByTTY[tty]) > 0
}

// NormalizeTTY canonicalizes terminal names to lowercase /dev/... paths.
// Placeholder values from the process table ("?", "not a tty") and empty
// strings normalize to "", meaning no terminal.
func NormalizeTTY(value string) string {
	raw := strings.ToLower(strings.TrimSpace(value))
	if raw == "" || raw == "?" || raw == "not a tty" || raw == "??" {
		return ""
	}
	if strings.HasPrefix(raw, "/dev/") {
		return raw
	}
	return "/dev/" + raw
}
