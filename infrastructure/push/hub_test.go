package push

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitovidale/video-pipeline/domain"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

type frame struct {
	name string
	data []byte
}

type memWriter struct {
	mu     sync.Mutex
	frames []frame
	broken bool
}

func (w *memWriter) WriteEvent(name string, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.broken {
		return errors.New("broken pipe")
	}
	w.frames = append(w.frames, frame{name: name, data: data})
	return nil
}

func (w *memWriter) breakPipe() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.broken = true
}

func (w *memWriter) names() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.frames))
	for _, f := range w.frames {
		out = append(out, f.name)
	}
	return out
}

func newTestHub(opts ...Option) *Hub {
	return NewHub(zap.NewNop(), nil, opts...)
}

func TestConnectWritesConnectedEvent(t *testing.T) {
	h := newTestHub()
	w := &memWriter{}

	conn, err := h.Connect(7, w)
	require.NoError(t, err)
	assert.Equal(t, snowflake.ID(7), conn.MemberID())
	assert.True(t, h.IsConnected(7))
	assert.Equal(t, 1, h.Count())

	require.Len(t, w.frames, 1)
	assert.Equal(t, domain.PushEventConnected, w.frames[0].name)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(w.frames[0].data, &payload))
	assert.Equal(t, "connected", payload["type"])
	assert.Equal(t, "7", payload["memberId"])
}

func TestConnectFailsOnBrokenTransport(t *testing.T) {
	h := newTestHub()
	w := &memWriter{broken: true}

	_, err := h.Connect(7, w)
	assert.Error(t, err)
	assert.Zero(t, h.Count())
}

func TestConnectReplacesPreviousConnection(t *testing.T) {
	h := newTestHub()
	first, err := h.Connect(1, &memWriter{})
	require.NoError(t, err)
	w2 := &memWriter{}
	second, err := h.Connect(1, w2)
	require.NoError(t, err)

	select {
	case <-first.Done():
	default:
		t.Fatal("previous connection still open")
	}
	assert.Equal(t, 1, h.Count())

	// closing the replaced connection again must not evict its successor
	first.Close()
	assert.True(t, h.IsConnected(1))

	require.True(t, h.Send(1, domain.PushEvent{Name: domain.PushEventProgress, Data: map[string]int{"p": 5}}))
	assert.Equal(t, []string{domain.PushEventConnected, domain.PushEventProgress}, w2.names())
	assert.NotEqual(t, first.ID(), second.ID())
}

func TestSendDropsFailedConnection(t *testing.T) {
	h := newTestHub()
	w := &memWriter{}
	conn, err := h.Connect(3, w)
	require.NoError(t, err)

	assert.False(t, h.Send(99, domain.PushEvent{Name: domain.PushEventNotification}))

	w.breakPipe()
	assert.False(t, h.Send(3, domain.PushEvent{Name: domain.PushEventNotification, Data: "x"}))
	assert.False(t, h.IsConnected(3))
	<-conn.Done()
}

func TestSendRejectsUnencodablePayload(t *testing.T) {
	h := newTestHub()
	_, err := h.Connect(3, &memWriter{})
	require.NoError(t, err)

	assert.False(t, h.Send(3, domain.PushEvent{Name: domain.PushEventProgress, Data: make(chan int)}))
	assert.True(t, h.IsConnected(3))
}

func TestHeartbeatReapsDeadConnections(t *testing.T) {
	h := newTestHub()
	const total, dead = 6, 2
	writers := make([]*memWriter, total)
	for i := range writers {
		writers[i] = &memWriter{}
		_, err := h.Connect(snowflake.ID(i+1), writers[i])
		require.NoError(t, err)
	}
	for i := 0; i < dead; i++ {
		writers[i].breakPipe()
	}

	assert.Equal(t, dead, h.Heartbeat())
	assert.Equal(t, total-dead, h.Count())
	for _, w := range writers[dead:] {
		assert.Equal(t, []string{domain.PushEventConnected, domain.PushEventHeartbeat}, w.names())
	}
	assert.Zero(t, h.Heartbeat())
}

func TestBroadcast(t *testing.T) {
	h := newTestHub()
	for i := 1; i <= 3; i++ {
		_, err := h.Connect(snowflake.ID(i), &memWriter{})
		require.NoError(t, err)
	}
	ev := domain.PushEvent{Name: domain.PushEventNotification, Data: "all"}

	assert.Equal(t, 2, h.Broadcast([]snowflake.ID{1, 3, 4}, ev))
	assert.Equal(t, 3, h.BroadcastAll(ev))
	assert.ElementsMatch(t, []snowflake.ID{1, 2, 3}, h.Members())
}

func TestConnectionTimeout(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := newTestHub(WithConnectionTimeout(20 * time.Millisecond))
	conn, err := h.Connect(5, &memWriter{})
	require.NoError(t, err)

	select {
	case <-conn.Done():
	case <-time.After(time.Second):
		t.Fatal("connection did not time out")
	}
	assert.False(t, h.IsConnected(5))
}

func TestDisconnect(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := newTestHub(WithConnectionTimeout(time.Hour))
	for i := 1; i <= 4; i++ {
		_, err := h.Connect(snowflake.ID(i), &memWriter{})
		require.NoError(t, err)
	}

	assert.True(t, h.Disconnect(2))
	assert.False(t, h.Disconnect(2))
	assert.Equal(t, 3, h.DisconnectAll())
	assert.Zero(t, h.Count())
}

func TestClosedConnectionRejectsWrites(t *testing.T) {
	h := newTestHub()
	conn, err := h.Connect(1, &memWriter{})
	require.NoError(t, err)

	conn.Close()
	conn.Close()
	assert.ErrorIs(t, conn.write("x", nil), ErrConnectionClosed)
}

func TestHubRegistryUnderConcurrentUse(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := newTestHub(WithConnectionTimeout(time.Hour))
	const (
		members = 8
		workers = 16
		rounds  = 200
	)
	ev := domain.PushEvent{Name: domain.PushEventNotification, Data: "x"}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				member := snowflake.ID((w+i)%members + 1)
				switch i % 6 {
				case 0:
					writer := &memWriter{}
					if _, err := h.Connect(member, writer); err == nil && i%12 == 0 {
						writer.breakPipe()
					}
				case 1:
					h.Send(member, ev)
				case 2:
					h.Heartbeat()
				case 3:
					h.Broadcast([]snowflake.ID{member, member + 1}, ev)
				case 4:
					h.Disconnect(member)
				case 5:
					if conn, err := h.Connect(member, &memWriter{}); err == nil {
						conn.Close()
					}
				}
				h.Count()
				h.Members()
			}
		}(w)
	}
	wg.Wait()

	live := h.Members()
	assert.LessOrEqual(t, len(live), members)
	seen := map[snowflake.ID]bool{}
	for _, m := range live {
		assert.False(t, seen[m], "member %s registered twice", m)
		seen[m] = true
		assert.True(t, h.IsConnected(m))
	}
	assert.Equal(t, len(live), h.Count())

	h.Heartbeat()
	h.DisconnectAll()
	assert.Zero(t, h.Count())
}
