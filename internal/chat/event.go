package chat

import "encoding/json"

// Server -> client event names.
const (
	EventOnlineUsers     = "getOnlineUsers"
	EventNewMessage      = "newMessage"
	EventNewNotification = "newNotification"
	EventLevelUp         = "levelUp"
	EventBadgeUnlocked   = "badgeUnlocked"
	EventUserUpdated     = "userUpdated"
	EventNewSession      = "newSession"
	EventSessionEnded    = "sessionEnded"
	EventSessionUpdated  = "sessionUpdated"
	EventProfileUpdated  = "profileUpdated"
	EventIntegrityAlert  = "integrityAlert"
)

// Envelope is the frame written to a connection.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Keyed payloads are written at most once per connection, even when the
// direct push and the room broadcast both reach it.
type Keyed interface {
	DeliveryKey() string
}

type frame struct {
	key  string // dedupe key, empty for presence snapshots and relays
	data []byte
}

func encode(event string, payload any) (frame, error) {
	data, err := json.Marshal(&Envelope{Event: event, Data: payload})
	if err != nil {
		return frame{}, err
	}
	f := frame{data: data}
	if k, ok := payload.(Keyed); ok {
		f.key = event + ":" + k.DeliveryKey()
	}
	return f, nil
}
