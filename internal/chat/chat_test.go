package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn is an in-memory ConnLike.
type fakeConn struct {
	mu      sync.Mutex
	written [][]byte
	closed  chan struct{}
	once    sync.Once
	failW   bool
}

func newFakeConn() *fakeConn { return &fakeConn{closed: make(chan struct{})} }

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	<-f.closed
	return 0, nil, io.EOF
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	if f.failW {
		return errors.New("broken pipe")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, data)
	return nil
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

type keyed struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

func (k keyed) DeliveryKey() string { return k.ID }

type rawEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// drain returns the frames queued on c without a write pump.
func drain(t *testing.T, c *Client) []rawEnvelope {
	t.Helper()
	var out []rawEnvelope
	for {
		select {
		case data := <-c.Send:
			var env rawEnvelope
			require.NoError(t, json.Unmarshal(data, &env))
			out = append(out, env)
		default:
			return out
		}
	}
}

func onlineSets(t *testing.T, envs []rawEnvelope) [][]string {
	t.Helper()
	var sets [][]string
	for _, e := range envs {
		if e.Event != EventOnlineUsers {
			continue
		}
		var ids []string
		require.NoError(t, json.Unmarshal(e.Data, &ids))
		sets = append(sets, ids)
	}
	return sets
}

func newClient(identity string) *Client {
	return NewClient(identity, newFakeConn(), 16, 32)
}

func TestRegistryRejectsAnonymous(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"", "undefined", "null"} {
		assert.False(t, r.Connect(id, newClient(id)), "identity %q", id)
	}
	assert.Equal(t, 0, r.Len())
}

func TestRegistryLastConnectWins(t *testing.T) {
	r := NewRegistry()
	first, second := newClient("u1"), newClient("u1")

	require.True(t, r.Connect("u1", first))
	require.True(t, r.Connect("u1", second))

	assert.Equal(t, 1, r.Len())
	got, ok := r.Lookup("u1")
	require.True(t, ok)
	assert.Same(t, second, got)
}

func TestRegistryDisconnectComparesHandle(t *testing.T) {
	r := NewRegistry()
	old, cur := newClient("u1"), newClient("u1")
	r.Connect("u1", old)
	r.Connect("u1", cur)

	assert.False(t, r.Disconnect("u1", old), "stale handle must not evict the newer entry")
	got, ok := r.Lookup("u1")
	require.True(t, ok)
	assert.Same(t, cur, got)

	assert.True(t, r.Disconnect("u1", cur))
	_, ok = r.Lookup("u1")
	assert.False(t, ok)
}

func TestRegistryIdentitiesSorted(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"c", "a", "b"} {
		r.Connect(id, newClient(id))
	}
	assert.Equal(t, []string{"a", "b", "c"}, r.Identities())
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := newClient("shared")
			r.Connect("shared", c)
			r.Lookup("shared")
			r.Disconnect("shared", c)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, r.Len(), 1)
}

func TestManagerPresenceChurn(t *testing.T) {
	m := NewManager(Options{PushTimeout: 50 * time.Millisecond})
	watcher := newClient("")
	u := newClient("u1")

	m.Connect(watcher)
	m.Connect(u)
	m.Disconnect(u)

	sets := onlineSets(t, drain(t, watcher))
	require.Len(t, sets, 3)
	assert.Empty(t, sets[0])
	assert.Equal(t, []string{"u1"}, sets[1])
	assert.Empty(t, sets[2])
	assert.True(t, u.Closed())
}

func TestManagerReconnectRace(t *testing.T) {
	m := NewManager(Options{PushTimeout: 50 * time.Millisecond})
	watcher := newClient("")
	m.Connect(watcher)

	first, second := newClient("u1"), newClient("u1")
	m.Connect(first)
	// The second socket connects before the first one's disconnect is
	// processed.
	m.Connect(second)
	m.Disconnect(first)

	got, ok := m.Registry.Lookup("u1")
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.Equal(t, []string{"u1"}, m.Online())

	sets := onlineSets(t, drain(t, watcher))
	require.NotEmpty(t, sets)
	assert.Equal(t, []string{"u1"}, sets[len(sets)-1])
}

func TestManagerConnectTwiceKeepsOneEntry(t *testing.T) {
	m := NewManager(Options{})
	first, second := newClient("u1"), newClient("u1")
	m.Connect(first)
	m.Connect(second)

	assert.Equal(t, 1, m.Registry.Len())
	got, _ := m.Registry.Lookup("u1")
	assert.Same(t, second, got)
}

func TestPushDirect(t *testing.T) {
	m := NewManager(Options{PushTimeout: 50 * time.Millisecond})
	b := newClient("b")
	m.Connect(b)
	drain(t, b)

	assert.False(t, m.PushDirect("nobody", EventNewMessage, keyed{ID: "m0"}))
	assert.True(t, m.PushDirect("b", EventNewMessage, keyed{ID: "m1", Text: "hi"}))

	envs := drain(t, b)
	require.Len(t, envs, 1)
	assert.Equal(t, EventNewMessage, envs[0].Event)
	assert.JSONEq(t, `{"id":"m1","text":"hi"}`, string(envs[0].Data))
}

func TestPushDirectTimesOutOnFullBuffer(t *testing.T) {
	m := NewManager(Options{PushTimeout: 20 * time.Millisecond})
	b := NewClient("b", newFakeConn(), 1, 8)
	m.Registry.Connect("b", b)

	assert.True(t, m.PushDirect("b", EventLevelUp, map[string]int{"level": 2}))
	start := time.Now()
	assert.False(t, m.PushDirect("b", EventLevelUp, map[string]int{"level": 3}))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestPushDirectClosedClient(t *testing.T) {
	m := NewManager(Options{PushTimeout: 20 * time.Millisecond})
	b := newClient("b")
	m.Registry.Connect("b", b)
	b.Close()

	assert.False(t, m.PushDirect("b", EventNewNotification, keyed{ID: "n1"}))
}

func TestDirectAndRoomDeliverOnce(t *testing.T) {
	m := NewManager(Options{PushTimeout: 50 * time.Millisecond})
	b := newClient("b")
	m.Connect(b)
	drain(t, b)

	msg := keyed{ID: "m1", Text: "hi"}
	assert.True(t, m.PushDirect("b", EventNewMessage, msg))
	assert.Equal(t, 1, m.PublishRoom("b", EventNewMessage, msg))

	envs := drain(t, b)
	assert.Len(t, envs, 1)
}

func TestRoomReachesSupersededConnection(t *testing.T) {
	m := NewManager(Options{PushTimeout: 50 * time.Millisecond})
	old, cur := newClient("b"), newClient("b")
	m.Connect(old)
	m.Connect(cur)
	drain(t, old)
	drain(t, cur)

	msg := keyed{ID: "m1"}
	m.PushDirect("b", EventNewMessage, msg)
	assert.Equal(t, 2, m.PublishRoom("b", EventNewMessage, msg))

	assert.Len(t, drain(t, old), 1)
	assert.Len(t, drain(t, cur), 1)
}

func TestBroadcastReachesAnonymous(t *testing.T) {
	m := NewManager(Options{})
	anon, named := newClient(""), newClient("a")
	m.Connect(anon)
	m.Connect(named)
	drain(t, anon)
	drain(t, named)

	assert.Equal(t, 2, m.Broadcast(EventNewSession, map[string]string{"id": "s1"}))
	assert.Len(t, drain(t, anon), 1)
	assert.Len(t, drain(t, named), 1)
}

func TestStartLoop(t *testing.T) {
	m := NewManager(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Start(ctx) }()

	c := newClient("u1")
	m.Register(c)
	require.Eventually(t, func() bool {
		_, ok := m.Registry.Lookup("u1")
		return ok
	}, time.Second, 5*time.Millisecond)

	m.Unregister(c)
	require.Eventually(t, func() bool { return m.Registry.Len() == 0 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	late := newClient("late")
	m.Register(late)
	assert.True(t, late.Closed())
}

func TestWritePumpWritesAndStopsOnClose(t *testing.T) {
	conn := newFakeConn()
	c := NewClient("u1", conn, 4, 4)
	stopped := make(chan struct{})
	go func() {
		c.WritePump()
		close(stopped)
	}()

	c.Send <- []byte(`{"event":"levelUp"}`)
	require.Eventually(t, func() bool {
		conn.mu.Lock()
		defer conn.mu.Unlock()
		return len(conn.written) == 1
	}, time.Second, 5*time.Millisecond)

	c.Close()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("write pump did not stop")
	}
}

func TestWritePumpClosesOnWriteError(t *testing.T) {
	conn := newFakeConn()
	conn.failW = true
	c := NewClient("u1", conn, 4, 4)
	go c.WritePump()

	c.Send <- []byte("x")
	require.Eventually(t, c.Closed, time.Second, 5*time.Millisecond)
}

func TestRoomsJoinRejectsAnonymous(t *testing.T) {
	rs := NewRooms()
	c := newClient("u1")
	for _, room := range []string{"", "undefined", "null"} {
		assert.False(t, rs.Join(room, c), room)
	}
	assert.True(t, rs.Join("u1", c))
	assert.Equal(t, []*Client{c}, rs.Members("u1"))
}

func TestPublishRoomKeepsLookalikeIdentitiesApart(t *testing.T) {
	m := NewManager(Options{PushTimeout: 50 * time.Millisecond})
	target := newClient("b")
	dotted := newClient("x/../b")
	spaced := newClient(" b ")
	clients := []*Client{target, dotted, spaced}
	for _, c := range clients {
		m.Connect(c)
	}
	for _, c := range clients {
		drain(t, c)
	}

	n := m.PublishRoom("b", EventNewMessage, keyed{ID: "m1"})
	assert.Equal(t, 1, n)
	assert.Len(t, drain(t, target), 1)
	assert.Empty(t, drain(t, dotted))
	assert.Empty(t, drain(t, spaced))

	assert.True(t, m.PushDirect(" b ", EventNewMessage, keyed{ID: "m2"}))
	assert.Empty(t, drain(t, target))
	assert.Len(t, drain(t, spaced), 1)
}
