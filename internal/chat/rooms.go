package chat

import "sync"

// Rooms tags connections with logical room names. Each identified
// connection joins the room named after its identity, which gives messaging
// a second delivery path independent of the registry entry. Room names are
// compared byte for byte, like identities.
type Rooms struct {
	mu         sync.RWMutex
	RoomUsers  map[string]map[*Client]bool // room -> set(client)
	ClientRoom map[*Client]map[string]bool // client -> set(room)
}

func NewRooms() *Rooms {
	return &Rooms{
		RoomUsers:  map[string]map[*Client]bool{},
		ClientRoom: map[*Client]map[string]bool{},
	}
}

// Join adds c to room. Anonymous room names are rejected.
func (rs *Rooms) Join(room string, c *Client) bool {
	if Anonymous(room) || c == nil {
		return false
	}
	r := room
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if _, ok := rs.RoomUsers[r]; !ok {
		rs.RoomUsers[r] = map[*Client]bool{}
	}
	rs.RoomUsers[r][c] = true
	if _, ok := rs.ClientRoom[c]; !ok {
		rs.ClientRoom[c] = map[string]bool{}
	}
	rs.ClientRoom[c][r] = true
	return true
}

// LeaveAll drops c from every room it joined.
func (rs *Rooms) LeaveAll(c *Client) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	for r := range rs.ClientRoom[c] {
		if s, ok := rs.RoomUsers[r]; ok {
			delete(s, c)
			if len(s) == 0 {
				delete(rs.RoomUsers, r)
			}
		}
	}
	delete(rs.ClientRoom, c)
}

// Members returns a snapshot of the connections in room.
func (rs *Rooms) Members(room string) []*Client {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	subs := rs.RoomUsers[room]
	out := make([]*Client, 0, len(subs))
	for c := range subs {
		out = append(out, c)
	}
	return out
}
