package session

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/agent-beacon/backend/internal/procsnap"
)

// Notifier receives user-facing notification decisions. Implementations
// must not block; the store calls them outside its lock but on the event
// path.
type Notifier interface {
	Notify(n Notification)
}

// Publisher receives the full session view after every state change.
type Publisher interface {
	Publish(v View)
}

// GlobalStatus summarizes all sessions into one aggregate state for
// menu-bar style consumers.
type GlobalStatus int

const (
	GlobalIdle GlobalStatus = iota
	GlobalDone
	GlobalWaiting
	GlobalProcessing
)

var globalStatusNames = map[GlobalStatus]string{
	GlobalIdle:       "idle",
	GlobalDone:       "done",
	GlobalWaiting:    "waiting",
	GlobalProcessing: "processing",
}

func (g GlobalStatus) String() string {
	if n, ok := globalStatusNames[g]; ok {
		return n
	}
	return "unknown"
}

func (g GlobalStatus) MarshalJSON() ([]byte, error) {
	return []byte(`"` + g.String() + `"`), nil
}

func (g *GlobalStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for v, name := range globalStatusNames {
		if name == raw {
			*g = v
			return nil
		}
	}
	*g = GlobalIdle
	return nil
}

// GlobalState is the aggregate status plus its qualifiers.
type GlobalState struct {
	Status GlobalStatus `json:"status"`
	// WaitingCount is the number of sessions waiting for input, reported
	// for both the waiting and processing aggregate states.
	WaitingCount int `json:"waitingCount"`
	// AnyWaiting flags attention needed while the aggregate state is
	// processing.
	AnyWaiting bool `json:"anyWaiting"`
}

// View is one published snapshot: the visible sessions in display order
// plus the aggregate state. Sessions are value copies, safe to serialize
// without further locking.
type View struct {
	Sessions []Session   `json:"sessions"`
	Global   GlobalState `json:"global"`
}

// Store is the single writer over the session map. All mutation funnels
// through Handle (event batches) and applyReconciliation (liveness);
// readers get copies. Notification and publish callbacks run outside the
// lock.
type Store struct {
	mu               sync.Mutex
	sessions         map[string]*Session
	doneVisibleUntil time.Time
	livenessRevision uint64

	tuning    Tuning
	monitor   *LivenessMonitor
	snapshots procsnap.Provider
	notifier  Notifier
	publisher Publisher
	clock     func() time.Time
}

// NewStore builds a store. notifier and publisher may be nil.
func NewStore(tuning Tuning, snapshots procsnap.Provider, notifier Notifier, publisher Publisher) *Store {
	return &Store{
		sessions:  make(map[string]*Session),
		tuning:    tuning,
		monitor:   NewLivenessMonitor(tuning),
		snapshots: snapshots,
		notifier:  notifier,
		publisher: publisher,
		clock:     time.Now,
	}
}

// Handle applies a coalesced event batch. Each event is reduced at its
// own embedded timestamp when present, falling back to the wall clock,
// so replayed or delayed events keep their original ordering semantics.
func (st *Store) Handle(events []Event) {
	if len(events) == 0 {
		return
	}

	var notifications []Notification
	st.mu.Lock()
	for _, ev := range events {
		now := st.clock()
		if ev.Timestamp != nil {
			now = *ev.Timestamp
		}

		mut := Reduce(st.sessions[ev.SessionID], ev, now, st.tuning)
		switch mut.Op {
		case OpUpsert:
			st.sessions[mut.Session.ID] = mut.Session
			if ev.Kind == KindStopped {
				st.doneVisibleUntil = now.Add(st.tuning.DoneVisibleDuration)
			}
		case OpRemove:
			delete(st.sessions, mut.RemoveID)
		}
		if mut.Notification != nil {
			notifications = append(notifications, *mut.Notification)
		}
	}
	st.pruneLocked(st.clock())
	view := st.buildViewLocked(st.clock())
	st.mu.Unlock()

	st.dispatch(notifications)
	st.publish(view)
}

// Get returns a copy of one session, including terminated sessions still
// inside their retention window.
func (st *Store) Get(id string) (Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *s.Clone(), true
}

// Snapshot returns the current published view without mutating anything.
func (st *Store) Snapshot() View {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.buildViewLocked(st.clock())
}

// Terminate force-terminates one session, e.g. from an operator action.
func (st *Store) Terminate(id string) bool {
	now := st.clock()
	st.mu.Lock()
	s, ok := st.sessions[id]
	if !ok || s.IsTerminated() {
		st.mu.Unlock()
		return ok
	}
	st.sessions[id] = st.monitor.terminate(s.Clone(), ReasonManual, now)
	terminated := *st.sessions[id]
	view := st.buildViewLocked(now)
	st.mu.Unlock()

	st.dispatch([]Notification{{Kind: NotifyTerminated, Reason: ReasonManual, Session: terminated}})
	st.publish(view)
	return true
}

// StartLiveness runs the periodic liveness loop until ctx is cancelled.
func (st *Store) StartLiveness(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				st.ReconcileLiveness(st.clock())
			}
		}
	}()
}

// ReconcileLiveness runs one liveness pass: copy the map, collect a
// process snapshot off the lock, reconcile, then merge back. The
// revision counter fences out a slow pass that was overtaken by a newer
// one.
func (st *Store) ReconcileLiveness(now time.Time) {
	st.mu.Lock()
	st.livenessRevision++
	rev := st.livenessRevision
	working := make(map[string]*Session, len(st.sessions))
	for id, s := range st.sessions {
		working[id] = s.Clone()
	}
	st.mu.Unlock()

	var snap *procsnap.Snapshot
	if st.snapshots != nil {
		snap = st.snapshots.Snapshot()
		if snap == nil {
			log.Printf("liveness: process snapshot unavailable, skipping negative evidence")
		}
	}
	next := st.monitor.Reconcile(working, snap, now)
	st.applyReconciliation(working, next, rev)
}

// applyReconciliation merges a finished liveness pass back into the live
// map. Sessions mutated by events while the pass ran are left alone; the
// next pass will re-evaluate them from fresher state. Newly terminated
// sessions produce exactly one notification.
func (st *Store) applyReconciliation(before, after map[string]*Session, rev uint64) {
	var notifications []Notification
	st.mu.Lock()
	if rev != st.livenessRevision {
		st.mu.Unlock()
		return
	}
	for id, pre := range before {
		cur, ok := st.sessions[id]
		if !ok {
			continue
		}
		if !cur.UpdatedAt.Equal(pre.UpdatedAt) {
			continue
		}
		post, kept := after[id]
		if !kept {
			// Retention expired during the pass.
			delete(st.sessions, id)
			continue
		}
		st.sessions[id] = post
		if post.IsTerminated() && !pre.IsTerminated() {
			notifications = append(notifications, Notification{
				Kind:    NotifyTerminated,
				Reason:  post.TerminationReason,
				Session: *post,
			})
		}
	}
	st.pruneLocked(st.clock())
	view := st.buildViewLocked(st.clock())
	st.mu.Unlock()

	st.dispatch(notifications)
	st.publish(view)
}

// pruneLocked drops sessions nothing can revive. Terminated sessions go
// at their retention deadline. Processing sessions silent past the
// hard-expiry window go regardless of liveness evidence: every event
// resets liveness optimistically, and a session without pid or tty
// provenance never accrues negative evidence, so waiting for a not-alive
// reading would retain them forever. Waiting sessions are left for the
// liveness monitor, whose termination still produces a notification.
func (st *Store) pruneLocked(now time.Time) {
	for id, s := range st.sessions {
		if s.IsTerminated() {
			if s.CleanupDeadline != nil && !now.Before(*s.CleanupDeadline) {
				delete(st.sessions, id)
			}
			continue
		}
		if now.Sub(s.UpdatedAt) <= st.tuning.HardExpiry {
			continue
		}
		if s.Status == StatusProcessing {
			delete(st.sessions, id)
			continue
		}
		if s.Status != StatusWaiting && s.LivenessState != LivenessAlive {
			delete(st.sessions, id)
		}
	}
}

// buildViewLocked assembles the published view: terminated and destroyed
// sessions are hidden, the rest sorted by status priority, then recency.
func (st *Store) buildViewLocked(now time.Time) View {
	visible := make([]Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		if s.IsTerminated() || s.Status == StatusDestroyed {
			continue
		}
		visible = append(visible, *s.Clone())
	}

	sort.SliceStable(visible, func(i, j int) bool {
		a, b := visible[i], visible[j]
		if a.Status.Priority() != b.Status.Priority() {
			return a.Status.Priority() < b.Status.Priority()
		}
		return recency(a).After(recency(b))
	})

	return View{
		Sessions: visible,
		Global:   st.globalStateLocked(visible, now),
	}
}

// recency is the tiebreak timestamp within one status bucket: completed
// sessions rank by completion time, everything else by last update.
func recency(s Session) time.Time {
	if s.Status == StatusCompleted && s.CompletedAt != nil {
		return *s.CompletedAt
	}
	return s.UpdatedAt
}

func (st *Store) globalStateLocked(visible []Session, now time.Time) GlobalState {
	var processing, waiting int
	for _, s := range visible {
		switch s.Status {
		case StatusProcessing:
			processing++
		case StatusWaiting:
			waiting++
		}
	}

	switch {
	case processing > 0:
		return GlobalState{Status: GlobalProcessing, WaitingCount: waiting, AnyWaiting: waiting > 0}
	case waiting > 0:
		return GlobalState{Status: GlobalWaiting, WaitingCount: waiting, AnyWaiting: true}
	case now.Before(st.doneVisibleUntil):
		return GlobalState{Status: GlobalDone}
	default:
		return GlobalState{Status: GlobalIdle}
	}
}

func (st *Store) dispatch(notifications []Notification) {
	if st.notifier == nil {
		return
	}
	for _, n := range notifications {
		st.notifier.Notify(n)
	}
}

func (st *Store) publish(view View) {
	if st.publisher != nil {
		st.publisher.Publish(view)
	}
}
