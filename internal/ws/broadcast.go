package ws

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/agent-beacon/backend/internal/session"
	"github.com/gorilla/websocket"
)

// ErrTooManyConnections is returned by AddClient when the connection
// limit is reached.
var ErrTooManyConnections = errors.New("too many websocket connections")

type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func newClient(conn *websocket.Conn) *client {
	c := &client{
		conn: conn,
		send: make(chan []byte, 64),
		done: make(chan struct{}),
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for {
		select {
		case msg := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// close stops the write pump. The send channel is never closed, so a
// broadcast racing a disconnect cannot panic on a closed channel.
func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// Broadcaster fans session views out to websocket clients. It is the
// store's Publisher: views arrive on every state change, are coalesced
// latest-wins behind a throttle timer, and only the freshest view ever
// reaches the wire. Notifications are forwarded immediately, they are
// rare and time-sensitive.
type Broadcaster struct {
	mu             sync.RWMutex
	clients        map[*client]bool
	maxConns       int
	filter         *session.PrivacyFilter
	throttle       time.Duration
	snapshotTicker *time.Ticker

	flushMu    sync.Mutex
	pending    *session.View
	latest     session.View
	flushTimer *time.Timer

	// source re-reads the authoritative view for periodic keepalive
	// snapshots. Set via BindSource once the store exists.
	source func() session.View
}

// NewBroadcaster creates a broadcaster. maxConns of 0 means unlimited.
func NewBroadcaster(filter *session.PrivacyFilter, throttle, snapshotInterval time.Duration, maxConns int) *Broadcaster {
	if filter == nil {
		filter = &session.PrivacyFilter{}
	}
	b := &Broadcaster{
		clients:  make(map[*client]bool),
		maxConns: maxConns,
		filter:   filter,
		throttle: throttle,
	}

	b.snapshotTicker = time.NewTicker(snapshotInterval)
	go b.snapshotLoop()

	return b
}

// BindSource wires the authoritative view reader. Breaks the
// construction cycle: the store needs the broadcaster as its publisher,
// and the broadcaster needs the store for fresh snapshots.
func (b *Broadcaster) BindSource(source func() session.View) {
	b.flushMu.Lock()
	b.source = source
	b.flushMu.Unlock()
}

func (b *Broadcaster) AddClient(conn *websocket.Conn) (*client, error) {
	c := newClient(conn)

	b.mu.Lock()
	if b.maxConns > 0 && len(b.clients) >= b.maxConns {
		b.mu.Unlock()
		c.close()
		return nil, ErrTooManyConnections
	}
	b.clients[c] = true
	b.mu.Unlock()

	// New clients get the current view right away instead of waiting for
	// the next change.
	b.flushMu.Lock()
	view := b.latest
	if b.source != nil {
		view = b.source()
	}
	b.flushMu.Unlock()

	data, _ := json.Marshal(b.snapshotMessage(view))
	select {
	case c.send <- data:
	default:
		// Client too slow, drop the snapshot
	}

	return c, nil
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		c.close()
	}
	b.mu.Unlock()
}

// Publish implements session.Publisher. Intermediate views superseded
// before the throttle fires are dropped, never queued.
func (b *Broadcaster) Publish(v session.View) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.pending = &v
	if b.flushTimer == nil {
		b.flushTimer = time.AfterFunc(b.throttle, b.flush)
	}
}

// Notify implements session.Notifier, forwarding notification decisions
// to connected clients unthrottled.
func (b *Broadcaster) Notify(n session.Notification) {
	s := b.filter.Apply(n.Session)
	b.broadcast(WSMessage{
		Type: MsgNotification,
		Payload: NotificationPayload{
			Kind:        notificationKindName(n.Kind),
			Escalated:   n.Escalated,
			Reason:      string(n.Reason),
			SessionID:   s.ID,
			ProjectName: s.ProjectName,
			StatusLine:  s.DisplayStatusLine(),
			Session:     s,
		},
	})
}

func (b *Broadcaster) flush() {
	b.flushMu.Lock()
	view := b.pending
	b.pending = nil
	b.flushTimer = nil
	if view != nil {
		b.latest = *view
	}
	b.flushMu.Unlock()

	if view == nil {
		return
	}
	b.broadcast(b.snapshotMessage(*view))
}

func (b *Broadcaster) snapshotLoop() {
	for range b.snapshotTicker.C {
		b.flushMu.Lock()
		view := b.latest
		if b.source != nil {
			view = b.source()
			b.latest = view
		}
		b.flushMu.Unlock()
		b.broadcast(b.snapshotMessage(view))
	}
}

func (b *Broadcaster) snapshotMessage(view session.View) WSMessage {
	filtered := b.filter.ApplyView(view)
	return WSMessage{
		Type: MsgSnapshot,
		Payload: SnapshotPayload{
			Sessions: filtered.Sessions,
			Global:   filtered.Global,
		},
	}
}

func (b *Broadcaster) broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("broadcast marshal error: %v", err)
		return
	}

	b.mu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- data:
		default:
			// Client can't keep up, disconnect it
			log.Printf("ws client too slow, disconnecting")
			b.RemoveClient(c)
		}
	}
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Close stops the periodic snapshot loop.
func (b *Broadcaster) Close() {
	b.snapshotTicker.Stop()
}
