package push

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/vitovidale/video-pipeline/domain"
	"github.com/vitovidale/video-pipeline/metrics"
	"go.uber.org/zap"
)

var ErrConnectionClosed = errors.New("connection_closed")

// Writer is the transport side of a live connection (an SSE response).
type Writer interface {
	WriteEvent(name string, data []byte) error
}

// Connection is one registered push channel. Writes are serialized; once
// closed it rejects further writes and Done is closed.
type Connection struct {
	id       uint64
	memberID snowflake.ID
	w        Writer

	mu     sync.Mutex
	closed bool
	done   chan struct{}
	timer  *time.Timer

	onClose func(*Connection)
}

func (c *Connection) ID() uint64             { return c.id }
func (c *Connection) MemberID() snowflake.ID { return c.memberID }
func (c *Connection) Done() <-chan struct{}  { return c.done }

func (c *Connection) write(name string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnectionClosed
	}
	return c.w.WriteEvent(name, data)
}

// Close deregisters the connection. It waits for an in-flight write so the
// transport is never touched after Close returns.
func (c *Connection) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
	}
	close(c.done)
	c.mu.Unlock()

	if c.onClose != nil {
		c.onClose(c)
	}
}

type Option func(*Hub)

// WithConnectionTimeout bounds the lifetime of every connection.
func WithConnectionTimeout(d time.Duration) Option {
	return func(h *Hub) { h.timeout = d }
}

func WithClock(c domain.Clock) Option {
	return func(h *Hub) { h.clock = c }
}

// Hub is the process-wide registry of live connections, at most one per
// member. It is created once and shared by everything that pushes.
type Hub struct {
	mu    sync.RWMutex
	conns map[snowflake.ID]*Connection

	nextID  atomic.Uint64
	timeout time.Duration
	clock   domain.Clock
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewHub(log *zap.Logger, m *metrics.Metrics, opts ...Option) *Hub {
	h := &Hub{
		conns:   make(map[snowflake.ID]*Connection),
		clock:   domain.SystemClock{},
		log:     log.Named("push.hub"),
		metrics: m,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type controlPayload struct {
	Type      string       `json:"type"`
	MemberID  snowflake.ID `json:"memberId,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// Connect registers a connection for memberID, closing any connection the
// member already had, and writes the initial connected event.
func (h *Hub) Connect(memberID snowflake.ID, w Writer) (*Connection, error) {
	conn := &Connection{
		id:       h.nextID.Add(1),
		memberID: memberID,
		w:        w,
		done:     make(chan struct{}),
		onClose:  h.deregister,
	}

	h.mu.Lock()
	prev := h.conns[memberID]
	h.conns[memberID] = conn
	count := len(h.conns)
	h.mu.Unlock()
	h.metrics.SetConnections(count)

	if prev != nil {
		h.log.Info("replacing existing connection", zap.String("member_id", memberID.String()), zap.Uint64("previous", prev.id))
		prev.Close()
	}

	if h.timeout > 0 {
		conn.mu.Lock()
		conn.timer = time.AfterFunc(h.timeout, conn.Close)
		conn.mu.Unlock()
	}

	data, _ := json.Marshal(controlPayload{Type: domain.PushEventConnected, MemberID: memberID, Timestamp: h.clock.Now()})
	if err := conn.write(domain.PushEventConnected, data); err != nil {
		conn.Close()
		return nil, err
	}
	h.log.Debug("connection registered", zap.String("member_id", memberID.String()), zap.Uint64("connection_id", conn.id))
	return conn, nil
}

// Send writes event to the member's connection. It returns false when the
// member has no connection or the write fails; a failed connection is removed.
func (h *Hub) Send(memberID snowflake.ID, event domain.PushEvent) bool {
	conn := h.lookup(memberID)
	if conn == nil {
		h.metrics.PushDelivery(event.Name, false)
		return false
	}
	data, err := json.Marshal(event.Data)
	if err != nil {
		h.log.Error("push payload not encodable", zap.String("event", event.Name), zap.Error(err))
		h.metrics.PushDelivery(event.Name, false)
		return false
	}
	if err := conn.write(event.Name, data); err != nil {
		h.log.Info("push write failed, dropping connection",
			zap.String("member_id", memberID.String()),
			zap.String("event", event.Name),
			zap.Error(err),
		)
		conn.Close()
		h.metrics.PushDelivery(event.Name, false)
		return false
	}
	h.metrics.PushDelivery(event.Name, true)
	return true
}

// Broadcast sends to each member and returns how many deliveries succeeded.
func (h *Hub) Broadcast(memberIDs []snowflake.ID, event domain.PushEvent) int {
	delivered := 0
	for _, id := range memberIDs {
		if h.Send(id, event) {
			delivered++
		}
	}
	return delivered
}

func (h *Hub) BroadcastAll(event domain.PushEvent) int {
	return h.Broadcast(h.Members(), event)
}

// Heartbeat writes a heartbeat to every connection and removes those whose
// write fails. It returns the number removed.
func (h *Hub) Heartbeat() int {
	data, _ := json.Marshal(controlPayload{Type: domain.PushEventHeartbeat, Timestamp: h.clock.Now()})

	reaped := 0
	for _, conn := range h.snapshot() {
		if err := conn.write(domain.PushEventHeartbeat, data); err != nil {
			conn.Close()
			reaped++
		}
	}
	if reaped > 0 {
		h.log.Info("heartbeat reaped dead connections", zap.Int("count", reaped))
	}
	h.metrics.HeartbeatReaped(reaped)
	return reaped
}

func (h *Hub) Disconnect(memberID snowflake.ID) bool {
	conn := h.lookup(memberID)
	if conn == nil {
		return false
	}
	conn.Close()
	return true
}

func (h *Hub) DisconnectAll() int {
	conns := h.snapshot()
	for _, conn := range conns {
		conn.Close()
	}
	return len(conns)
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) IsConnected(memberID snowflake.ID) bool {
	return h.lookup(memberID) != nil
}

func (h *Hub) Members() []snowflake.ID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]snowflake.ID, 0, len(h.conns))
	for id := range h.conns {
		ids = append(ids, id)
	}
	return ids
}

func (h *Hub) lookup(memberID snowflake.ID) *Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.conns[memberID]
}

func (h *Hub) snapshot() []*Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conns := make([]*Connection, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	return conns
}

// deregister removes conn only if it is still the member's registered
// connection, so a replaced connection cannot evict its successor.
func (h *Hub) deregister(conn *Connection) {
	h.mu.Lock()
	current, ok := h.conns[conn.memberID]
	if ok && current == conn {
		delete(h.conns, conn.memberID)
	}
	count := len(h.conns)
	h.mu.Unlock()
	h.metrics.SetConnections(count)
}
