package session

import (
	"sync"
	"time"
)

// Coalescer absorbs bursts of events per session id over a short debounce
// window and delivers compacted, order-preserving batches downstream.
// Hook emitters fire one event per sub-step, far faster than the UI
// refreshes, and out-of-order delivery of a terminal event followed by a
// stale non-terminal one must not resurrect a session, so same-id events
// are merged with a fixed precedence before delivery.
//
// Enqueue is safe for concurrent use and never blocks on delivery. At
// most one batch is in flight at a time, which gives downstream a strict
// total order of batches.
type Coalescer struct {
	mu         sync.Mutex
	pending    map[string]Event
	order      []string
	interval   time.Duration
	deliver    func([]Event)
	flushTimer *time.Timer
	inFlight   bool
}

// NewCoalescer creates a coalescer that delivers batches via deliver
// after each debounce interval elapses.
func NewCoalescer(interval time.Duration, deliver func([]Event)) *Coalescer {
	return &Coalescer{
		pending:  make(map[string]Event),
		interval: interval,
		deliver:  deliver,
	}
}

// Enqueue merges the event into the pending set and schedules a flush if
// one is not already scheduled.
func (c *Coalescer) Enqueue(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev, exists := c.pending[ev.SessionID]
	if !exists {
		c.order = append(c.order, ev.SessionID)
		c.pending[ev.SessionID] = ev
	} else {
		c.pending[ev.SessionID] = coalesce(prev, ev)
	}
	c.scheduleLocked(c.interval)
}

// coalesce picks the representative of two same-id events within one
// window. SessionEnded is the final lifecycle event and always wins;
// Stopped beats any other non-terminal event; otherwise the later
// arrival wins.
func coalesce(prev, incoming Event) Event {
	if incoming.Kind == KindSessionEnded {
		return incoming
	}
	if prev.Kind == KindSessionEnded {
		return prev
	}
	if prev.Kind == KindStopped {
		return prev
	}
	if incoming.Kind == KindStopped {
		return incoming
	}
	return incoming
}

func (c *Coalescer) scheduleLocked(delay time.Duration) {
	if c.flushTimer != nil {
		return
	}
	c.flushTimer = time.AfterFunc(delay, c.flush)
}

func (c *Coalescer) flush() {
	c.mu.Lock()
	c.flushTimer = nil

	if len(c.order) == 0 {
		c.mu.Unlock()
		return
	}
	if c.inFlight {
		// A delivery is still running; try again next interval rather
		// than delivering concurrently.
		c.scheduleLocked(c.interval)
		c.mu.Unlock()
		return
	}

	batch := make([]Event, 0, len(c.order))
	for _, id := range c.order {
		if ev, ok := c.pending[id]; ok {
			batch = append(batch, ev)
		}
	}
	c.pending = make(map[string]Event)
	c.order = nil
	c.inFlight = true
	c.mu.Unlock()

	go func() {
		c.deliver(batch)

		c.mu.Lock()
		c.inFlight = false
		if len(c.order) > 0 {
			// Events accumulated during delivery; flush them right away.
			c.scheduleLocked(0)
		}
		c.mu.Unlock()
	}()
}
