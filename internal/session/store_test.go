package session

import (
	"sync"
	"testing"
	"time"

	"github.com/agent-beacon/backend/internal/procsnap"
)

type fakeProvider struct {
	mu   sync.Mutex
	snap *procsnap.Snapshot
}

func (p *fakeProvider) Snapshot() *procsnap.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap
}

func (p *fakeProvider) set(snap *procsnap.Snapshot) {
	p.mu.Lock()
	p.snap = snap
	p.mu.Unlock()
}

type recordNotifier struct {
	mu    sync.Mutex
	notes []Notification
}

func (n *recordNotifier) Notify(note Notification) {
	n.mu.Lock()
	n.notes = append(n.notes, note)
	n.mu.Unlock()
}

func (n *recordNotifier) all() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Notification, len(n.notes))
	copy(out, n.notes)
	return out
}

type recordPublisher struct {
	mu    sync.Mutex
	views []View
}

func (p *recordPublisher) Publish(v View) {
	p.mu.Lock()
	p.views = append(p.views, v)
	p.mu.Unlock()
}

func (p *recordPublisher) last() (View, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.views) == 0 {
		return View{}, false
	}
	return p.views[len(p.views)-1], true
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func newTestStore() (*Store, *fakeProvider, *recordNotifier, *recordPublisher, *testClock) {
	provider := &fakeProvider{}
	notifier := &recordNotifier{}
	publisher := &recordPublisher{}
	clock := &testClock{now: t0}
	st := NewStore(DefaultTuning(), provider, notifier, publisher)
	st.clock = clock.Now
	return st, provider, notifier, publisher, clock
}

func at(t time.Time) *time.Time { return &t }

func TestStore_HandleUpsertsAndPublishes(t *testing.T) {
	st, _, _, publisher, _ := newTestStore()

	st.Handle([]Event{{Kind: KindPromptSubmitted, SessionID: "s1", Prompt: "go", Timestamp: at(t0)}})

	view, ok := publisher.last()
	if !ok {
		t.Fatal("Handle should publish")
	}
	if len(view.Sessions) != 1 || view.Sessions[0].ID != "s1" {
		t.Fatalf("view = %+v", view.Sessions)
	}
	if view.Global.Status != GlobalProcessing {
		t.Errorf("global = %v, want processing", view.Global.Status)
	}

	got, ok := st.Get("s1")
	if !ok || got.Status != StatusProcessing {
		t.Errorf("Get = %+v %v", got, ok)
	}
}

func TestStore_EventTimestampWinsOverClock(t *testing.T) {
	st, _, _, _, clock := newTestStore()
	clock.set(t0.Add(time.Hour))

	evTime := t0.Add(5 * time.Minute)
	st.Handle([]Event{{Kind: KindPromptSubmitted, SessionID: "s1", Timestamp: at(evTime)}})

	got, _ := st.Get("s1")
	if !got.UpdatedAt.Equal(evTime) {
		t.Errorf("UpdatedAt = %v, want embedded timestamp %v", got.UpdatedAt, evTime)
	}
}

func TestStore_ViewOrdering(t *testing.T) {
	st, _, _, publisher, _ := newTestStore()

	st.Handle([]Event{
		{Kind: KindPromptSubmitted, SessionID: "proc-old", Timestamp: at(t0)},
		{Kind: KindPromptSubmitted, SessionID: "done-early", Timestamp: at(t0)},
		{Kind: KindStopped, SessionID: "done-early", Timestamp: at(t0.Add(10 * time.Second))},
		{Kind: KindPromptSubmitted, SessionID: "done-late", Timestamp: at(t0)},
		{Kind: KindStopped, SessionID: "done-late", Timestamp: at(t0.Add(20 * time.Second))},
		{Kind: KindPermissionNeeded, SessionID: "needs-input", Timestamp: at(t0.Add(time.Second))},
		{Kind: KindPromptSubmitted, SessionID: "proc-new", Timestamp: at(t0.Add(30 * time.Second))},
	})

	view, _ := publisher.last()
	got := make([]string, 0, len(view.Sessions))
	for _, s := range view.Sessions {
		got = append(got, s.ID)
	}
	// Waiting first, processing next (newest first), completed last
	// (latest completion first).
	want := []string{"needs-input", "proc-new", "proc-old", "done-late", "done-early"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestStore_GlobalStatus(t *testing.T) {
	t.Run("processing with waiting flags attention", func(t *testing.T) {
		st, _, _, publisher, _ := newTestStore()
		st.Handle([]Event{
			{Kind: KindPromptSubmitted, SessionID: "a", Timestamp: at(t0)},
			{Kind: KindPermissionNeeded, SessionID: "b", Timestamp: at(t0)},
		})
		view, _ := publisher.last()
		if view.Global.Status != GlobalProcessing {
			t.Errorf("status = %v, processing outranks waiting", view.Global.Status)
		}
		if !view.Global.AnyWaiting || view.Global.WaitingCount != 1 {
			t.Errorf("global = %+v, waiting session should be flagged", view.Global)
		}
	})

	t.Run("waiting only", func(t *testing.T) {
		st, _, _, publisher, _ := newTestStore()
		st.Handle([]Event{
			{Kind: KindPermissionNeeded, SessionID: "a", Timestamp: at(t0)},
			{Kind: KindPermissionNeeded, SessionID: "b", Timestamp: at(t0)},
		})
		view, _ := publisher.last()
		if view.Global.Status != GlobalWaiting || view.Global.WaitingCount != 2 {
			t.Errorf("global = %+v", view.Global)
		}
	})

	t.Run("done window then idle", func(t *testing.T) {
		st, _, _, publisher, clock := newTestStore()
		st.Handle([]Event{
			{Kind: KindPromptSubmitted, SessionID: "a", Timestamp: at(t0)},
			{Kind: KindStopped, SessionID: "a", Timestamp: at(t0)},
		})
		clock.set(t0.Add(3 * time.Second))
		if view := st.Snapshot(); view.Global.Status != GlobalDone {
			t.Errorf("t=3s: global = %v, want done", view.Global.Status)
		}
		clock.set(t0.Add(6 * time.Second))
		if view := st.Snapshot(); view.Global.Status != GlobalIdle {
			t.Errorf("t=6s: global = %v, want idle", view.Global.Status)
		}
		if _, ok := publisher.last(); !ok {
			t.Error("expected at least one publish")
		}
	})
}

func TestStore_SessionEndedHidesButKeepsQueryable(t *testing.T) {
	st, _, notifier, publisher, _ := newTestStore()

	st.Handle([]Event{{Kind: KindPromptSubmitted, SessionID: "s1", Timestamp: at(t0)}})
	st.Handle([]Event{{Kind: KindSessionEnded, SessionID: "s1", Timestamp: at(t0.Add(time.Second))}})

	view, _ := publisher.last()
	if len(view.Sessions) != 0 {
		t.Errorf("terminated session should be hidden from the view, got %d", len(view.Sessions))
	}

	got, ok := st.Get("s1")
	if !ok {
		t.Fatal("terminated session should stay queryable during retention")
	}
	if !got.IsTerminated() {
		t.Errorf("LivenessState = %v", got.LivenessState)
	}

	var terminated int
	for _, n := range notifier.all() {
		if n.Kind == NotifyTerminated {
			terminated++
		}
	}
	if terminated != 1 {
		t.Errorf("terminated notifications = %d, want exactly 1", terminated)
	}
}

func TestStore_RetentionPurge(t *testing.T) {
	st, _, _, _, clock := newTestStore()
	tuning := DefaultTuning()

	st.Handle([]Event{{Kind: KindPromptSubmitted, SessionID: "s1", Timestamp: at(t0)}})
	st.Handle([]Event{{Kind: KindSessionEnded, SessionID: "s1", Timestamp: at(t0)}})

	// Still inside retention.
	clock.set(t0.Add(tuning.TerminatedRetention - time.Second))
	st.ReconcileLiveness(clock.Now())
	if _, ok := st.Get("s1"); !ok {
		t.Fatal("session purged before its retention deadline")
	}

	clock.set(t0.Add(tuning.TerminatedRetention + time.Second))
	st.ReconcileLiveness(clock.Now())
	if _, ok := st.Get("s1"); ok {
		t.Error("session should be purged after its retention deadline")
	}
}

func TestStore_LivenessTerminationNotifiesOnce(t *testing.T) {
	st, provider, notifier, _, clock := newTestStore()
	tuning := DefaultTuning()

	st.Handle([]Event{{
		Kind:      KindPromptSubmitted,
		SessionID: "s1",
		ShellPID:  intPtr(100),
		Timestamp: at(t0),
	}})
	provider.set(procsnap.New(nil)) // process table without pid 100

	clock.set(t0.Add(time.Second))
	st.ReconcileLiveness(clock.Now()) // marks suspect
	clock.set(t0.Add(time.Second + tuning.OfflineGracePeriod + time.Second))
	st.ReconcileLiveness(clock.Now()) // terminates
	st.ReconcileLiveness(clock.Now()) // re-run must not re-notify

	var terminated int
	for _, n := range notifier.all() {
		if n.Kind == NotifyTerminated {
			terminated++
			if n.Reason != ReasonProcessMissing {
				t.Errorf("reason = %v", n.Reason)
			}
		}
	}
	if terminated != 1 {
		t.Errorf("terminated notifications = %d, want exactly 1", terminated)
	}
}

func TestStore_ReconcileSkipsSessionsMutatedMeanwhile(t *testing.T) {
	st, _, _, _, clock := newTestStore()
	tuning := DefaultTuning()

	st.Handle([]Event{{Kind: KindPromptSubmitted, SessionID: "s1", ShellPID: intPtr(100), Timestamp: at(t0)}})

	// Simulate a pass that computed termination from a stale copy while an
	// event advanced the session.
	before := map[string]*Session{}
	st.mu.Lock()
	for id, s := range st.sessions {
		before[id] = s.Clone()
	}
	rev := st.livenessRevision
	st.mu.Unlock()

	monitor := NewLivenessMonitor(tuning)
	mid := monitor.Reconcile(before, procsnap.New(nil), t0.Add(time.Second))
	after := monitor.Reconcile(mid, procsnap.New(nil), t0.Add(time.Minute))

	newer := t0.Add(30 * time.Second)
	st.Handle([]Event{{Kind: KindToolUseCompleted, SessionID: "s1", Timestamp: at(newer)}})

	clock.set(t0.Add(time.Minute))
	st.applyReconciliation(before, after, rev)

	got, _ := st.Get("s1")
	if !got.UpdatedAt.Equal(newer) {
		t.Errorf("UpdatedAt = %v, stale reconciliation clobbered a fresher session", got.UpdatedAt)
	}
	if got.IsTerminated() {
		t.Error("stale termination applied over a fresher event")
	}
}

func TestStore_StaleReconcileRevisionDiscarded(t *testing.T) {
	st, _, _, _, clock := newTestStore()

	st.Handle([]Event{{Kind: KindPromptSubmitted, SessionID: "s1", ShellPID: intPtr(100), Timestamp: at(t0)}})

	before := map[string]*Session{}
	st.mu.Lock()
	for id, s := range st.sessions {
		before[id] = s.Clone()
	}
	rev := st.livenessRevision
	st.mu.Unlock()

	after := NewLivenessMonitor(DefaultTuning()).Reconcile(before, procsnap.New(nil), t0.Add(time.Minute))

	// A newer pass started in the meantime.
	clock.set(t0.Add(time.Minute))
	st.ReconcileLiveness(clock.Now())

	st.applyReconciliation(before, after, rev)

	got, _ := st.Get("s1")
	if got.TerminationReason == ReasonProcessMissing && got.IsTerminated() {
		// The overtaken pass must not have applied; the newer pass ran with
		// a nil snapshot (no provider data) and cannot have terminated it.
		t.Error("overtaken reconciliation was applied")
	}
}

func TestStore_HardExpiryPrunesSilentProcessing(t *testing.T) {
	st, _, _, _, clock := newTestStore()
	tuning := DefaultTuning()

	// No pid or tty provenance: liveness stays optimistically alive and
	// the session never accrues negative evidence.
	st.Handle([]Event{{Kind: KindPromptSubmitted, SessionID: "stale", Timestamp: at(t0)}})
	got, _ := st.Get("stale")
	if got.LivenessState != LivenessAlive || got.Status != StatusProcessing {
		t.Fatalf("setup: liveness=%v status=%v", got.LivenessState, got.Status)
	}

	clock.set(t0.Add(tuning.HardExpiry + time.Minute))
	st.Handle([]Event{{Kind: KindPromptSubmitted, SessionID: "fresh", Timestamp: at(clock.Now())}})

	if _, ok := st.Get("stale"); ok {
		t.Error("processing session silent past hard expiry should be pruned even while marked alive")
	}
	if _, ok := st.Get("fresh"); !ok {
		t.Error("fresh session should survive")
	}
}

func TestStore_HardExpiryPruneOnReconcile(t *testing.T) {
	st, _, _, _, clock := newTestStore()
	tuning := DefaultTuning()

	st.Handle([]Event{{Kind: KindPromptSubmitted, SessionID: "stale", Timestamp: at(t0)}})

	clock.set(t0.Add(tuning.HardExpiry + time.Minute))
	st.ReconcileLiveness(clock.Now())

	if _, ok := st.Get("stale"); ok {
		t.Error("silent processing session should also be pruned on the liveness path")
	}
}

func TestStore_HardExpiryPrunesNonAliveCompleted(t *testing.T) {
	st, _, _, _, clock := newTestStore()
	tuning := DefaultTuning()

	st.Handle([]Event{
		{Kind: KindPromptSubmitted, SessionID: "done", Timestamp: at(t0)},
		{Kind: KindStopped, SessionID: "done", Timestamp: at(t0)},
	})
	st.mu.Lock()
	st.sessions["done"].LivenessState = LivenessSuspectOffline
	st.mu.Unlock()

	clock.set(t0.Add(tuning.HardExpiry + time.Minute))
	st.Handle([]Event{{Kind: KindPromptSubmitted, SessionID: "fresh", Timestamp: at(clock.Now())}})

	if _, ok := st.Get("done"); ok {
		t.Error("silent non-alive completed session past hard expiry should be pruned")
	}
}

func TestStore_PruneLeavesWaitingForLivenessTermination(t *testing.T) {
	st, _, notifier, _, clock := newTestStore()
	tuning := DefaultTuning()

	st.Handle([]Event{{Kind: KindPermissionNeeded, SessionID: "w", Timestamp: at(t0)}})
	st.mu.Lock()
	st.sessions["w"].LivenessState = LivenessSuspectOffline
	st.mu.Unlock()

	clock.set(t0.Add(tuning.HardExpiry + time.Minute))
	st.Handle([]Event{{Kind: KindPromptSubmitted, SessionID: "fresh", Timestamp: at(clock.Now())}})

	if _, ok := st.Get("w"); !ok {
		t.Fatal("waiting session must survive the event-path prune")
	}

	// The monitor terminates it instead, with a notification.
	st.ReconcileLiveness(clock.Now())
	got, ok := st.Get("w")
	if !ok || !got.IsTerminated() || got.TerminationReason != ReasonHeartbeatTimeout {
		t.Fatalf("session = %+v, want terminated via heartbeat timeout", got)
	}

	var terminated int
	for _, n := range notifier.all() {
		if n.Kind == NotifyTerminated {
			terminated++
		}
	}
	if terminated != 1 {
		t.Errorf("terminated notifications = %d, want exactly 1", terminated)
	}
}

func TestStore_Terminate(t *testing.T) {
	st, _, notifier, publisher, _ := newTestStore()
	st.Handle([]Event{{Kind: KindPermissionNeeded, SessionID: "s1", Timestamp: at(t0)}})

	if !st.Terminate("s1") {
		t.Fatal("Terminate should find the session")
	}

	got, _ := st.Get("s1")
	if !got.IsTerminated() || got.TerminationReason != ReasonManual {
		t.Errorf("session = %+v", got)
	}
	if got.Status != StatusCompleted {
		t.Errorf("waiting session should be forced to completed, got %v", got.Status)
	}

	view, _ := publisher.last()
	if len(view.Sessions) != 0 {
		t.Error("terminated session should leave the view")
	}

	notes := notifier.all()
	if len(notes) == 0 || notes[len(notes)-1].Kind != NotifyTerminated {
		t.Error("manual termination should notify")
	}

	if st.Terminate("missing") {
		t.Error("Terminate on unknown id should report false")
	}
}
