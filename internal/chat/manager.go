// Package chat owns live connections: the presence registry, the room table
// and the push primitives every other package delivers through.
package chat

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Options configures a ChatManager.
type Options struct {
	// PushTimeout bounds a direct push; a push that times out counts as
	// "recipient offline".
	PushTimeout time.Duration
	Logger      *slog.Logger
}

// ChatManager is the connection lifecycle manager.
type ChatManager struct {
	mu sync.RWMutex

	Clients  map[string]*Client // connection id -> client, anonymous included
	Registry *Registry
	Rooms    *Rooms

	RegisterChan   chan *Client
	UnregisterChan chan *Client
	stopped        chan struct{}

	pushTimeout time.Duration
	logger      *slog.Logger
}

func NewManager(opts Options) *ChatManager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &ChatManager{
		Clients:        map[string]*Client{},
		Registry:       NewRegistry(),
		Rooms:          NewRooms(),
		RegisterChan:   make(chan *Client),
		UnregisterChan: make(chan *Client),
		stopped:        make(chan struct{}),
		pushTimeout:    opts.PushTimeout,
		logger:         opts.Logger.With("component", "chat"),
	}
}

// Start serialises connect and disconnect events until ctx is done, so
// presence snapshots go out in churn order.
func (m *ChatManager) Start(ctx context.Context) error {
	defer close(m.stopped)
	for {
		select {
		case client := <-m.RegisterChan:
			m.Connect(client)
		case client := <-m.UnregisterChan:
			m.Disconnect(client)
		case <-ctx.Done():
			m.closeAll()
			return nil
		}
	}
}

// Register hands c to the lifecycle loop.
func (m *ChatManager) Register(c *Client) {
	select {
	case m.RegisterChan <- c:
	case <-m.stopped:
		c.Close()
	}
}

// Unregister hands c to the lifecycle loop for teardown.
func (m *ChatManager) Unregister(c *Client) {
	select {
	case m.UnregisterChan <- c:
	case <-m.stopped:
		c.Close()
	}
}

// Connect admits c. Identified connections take over the registry entry
// for their identity and join the room named after it.
func (m *ChatManager) Connect(c *Client) {
	m.mu.Lock()
	m.Clients[c.Id] = c
	m.mu.Unlock()

	if m.Registry.Connect(c.Identity, c) {
		m.Rooms.Join(c.Identity, c)
		m.logger.Debug("identity online", "identity", c.Identity, "conn", c.Id)
	} else {
		m.logger.Debug("anonymous connection", "conn", c.Id)
	}
	m.broadcastPresence()
}

// Disconnect tears c down. The registry entry is removed only if it still
// points at c.
func (m *ChatManager) Disconnect(c *Client) {
	m.mu.Lock()
	delete(m.Clients, c.Id)
	m.mu.Unlock()

	m.Rooms.LeaveAll(c)
	if m.Registry.Disconnect(c.Identity, c) {
		m.logger.Debug("identity offline", "identity", c.Identity, "conn", c.Id)
	}
	c.Close()
	m.broadcastPresence()
}

// Online returns the identities currently holding a connection.
func (m *ChatManager) Online() []string {
	return m.Registry.Identities()
}

// ClientJson describes a live connection.
type ClientJson struct {
	Id       string `json:"id"`
	Identity string `json:"identity,omitempty"`
}

func (m *ChatManager) ListClients() []ClientJson {
	m.mu.RLock()
	out := make([]ClientJson, 0, len(m.Clients))
	for id, c := range m.Clients {
		out = append(out, ClientJson{Id: id, Identity: c.Identity})
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Id < out[j].Id })
	return out
}

// PushDirect sends one event to the connection registered for identity.
// It returns false when the identity is offline, the connection is gone or
// the push timed out. Nothing is queued or retried.
func (m *ChatManager) PushDirect(identity, event string, payload any) bool {
	c, ok := m.Registry.Lookup(identity)
	if !ok {
		return false
	}
	f, err := encode(event, payload)
	if err != nil {
		m.logger.Error("encode event", "event", event, "error", err)
		return false
	}
	delivered := c.deliver(f, m.pushTimeout)
	if !delivered {
		m.logger.Debug("direct push dropped", "identity", identity, "event", event)
	}
	return delivered
}

// PublishRoom sends event to every connection tagged with room and returns
// how many accepted it.
func (m *ChatManager) PublishRoom(room, event string, payload any) int {
	members := m.Rooms.Members(room)
	if len(members) == 0 {
		return 0
	}
	f, err := encode(event, payload)
	if err != nil {
		m.logger.Error("encode event", "event", event, "error", err)
		return 0
	}
	n := 0
	for _, c := range members {
		if c.deliver(f, m.pushTimeout) {
			n++
		}
	}
	return n
}

// Broadcast sends event to every live connection without blocking on slow
// ones.
func (m *ChatManager) Broadcast(event string, payload any) int {
	f, err := encode(event, payload)
	if err != nil {
		m.logger.Error("encode event", "event", event, "error", err)
		return 0
	}
	m.mu.RLock()
	snapshot := make([]*Client, 0, len(m.Clients))
	for _, c := range m.Clients {
		snapshot = append(snapshot, c)
	}
	m.mu.RUnlock()

	n := 0
	for _, c := range snapshot {
		if c.deliver(f, 0) {
			n++
		}
	}
	return n
}

// broadcastPresence sends the full online set to everyone: O(n) per churn
// event.
func (m *ChatManager) broadcastPresence() {
	online := m.Registry.Identities()
	n := m.Broadcast(EventOnlineUsers, online)
	m.logger.Debug("presence broadcast", "online", len(online), "reached", n)
}

func (m *ChatManager) closeAll() {
	m.mu.Lock()
	clients := make([]*Client, 0, len(m.Clients))
	for _, c := range m.Clients {
		clients = append(clients, c)
	}
	m.mu.Unlock()
	for _, c := range clients {
		c.Close()
	}
}
