// Package relay forwards events produced by other platform services
// (gamification, profiles, live sessions, exam integrity) to connected
// clients. Payloads are opaque: the relay never inspects them.
package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pelusa-v/pelusa-live/internal/chat"
)

var ErrUnknownEvent = errors.New("unknown relay event")

// Deliverer is implemented by *chat.ChatManager.
type Deliverer interface {
	PushDirect(identity, event string, payload any) bool
	Broadcast(event string, payload any) int
}

// Event is a collaborator event as received on the internal hook.
type Event struct {
	Name       string          `json:"event"`
	Recipients []string        `json:"recipients"`
	Payload    json.RawMessage `json:"payload"`
}

type Relay struct {
	delivery Deliverer
	logger   *slog.Logger

	// Emit dispatch tables, keyed by event name
	direct   map[string]func(identity string, payload json.RawMessage) bool
	sessions map[string]func(participants []string, payload json.RawMessage) int
}

func New(delivery Deliverer, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Relay{delivery: delivery, logger: logger.With("component", "relay")}
	r.direct = map[string]func(string, json.RawMessage) bool{
		chat.EventLevelUp:        r.LevelUp,
		chat.EventBadgeUnlocked:  r.BadgeUnlocked,
		chat.EventUserUpdated:    r.UserUpdated,
		chat.EventProfileUpdated: r.ProfileUpdated,
		chat.EventIntegrityAlert: r.IntegrityAlert,
	}
	r.sessions = map[string]func([]string, json.RawMessage) int{
		chat.EventNewSession:     r.SessionStarted,
		chat.EventSessionEnded:   r.SessionEnded,
		chat.EventSessionUpdated: r.SessionUpdated,
	}
	return r
}

func (r *Relay) LevelUp(identity string, payload json.RawMessage) bool {
	return r.push(identity, chat.EventLevelUp, payload)
}

func (r *Relay) BadgeUnlocked(identity string, payload json.RawMessage) bool {
	return r.push(identity, chat.EventBadgeUnlocked, payload)
}

func (r *Relay) UserUpdated(identity string, payload json.RawMessage) bool {
	return r.push(identity, chat.EventUserUpdated, payload)
}

func (r *Relay) ProfileUpdated(identity string, payload json.RawMessage) bool {
	return r.push(identity, chat.EventProfileUpdated, payload)
}

func (r *Relay) IntegrityAlert(identity string, payload json.RawMessage) bool {
	return r.push(identity, chat.EventIntegrityAlert, payload)
}

func (r *Relay) SessionStarted(participants []string, payload json.RawMessage) int {
	return r.session(participants, chat.EventNewSession, payload)
}

func (r *Relay) SessionEnded(participants []string, payload json.RawMessage) int {
	return r.session(participants, chat.EventSessionEnded, payload)
}

func (r *Relay) SessionUpdated(participants []string, payload json.RawMessage) int {
	return r.session(participants, chat.EventSessionUpdated, payload)
}

// Emit dispatches ev to the matching relay method and returns how many
// connections it reached. Direct events require at least one recipient.
func (r *Relay) Emit(ev Event) (int, error) {
	payload := ev.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	if send, ok := r.sessions[ev.Name]; ok {
		return send(ev.Recipients, payload), nil
	}
	send, ok := r.direct[ev.Name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Name)
	}
	if len(ev.Recipients) == 0 {
		return 0, fmt.Errorf("%w: %q needs recipients", ErrUnknownEvent, ev.Name)
	}
	delivered := 0
	for _, id := range ev.Recipients {
		if send(id, payload) {
			delivered++
		}
	}
	return delivered, nil
}

func (r *Relay) push(identity, event string, payload json.RawMessage) bool {
	ok := r.delivery.PushDirect(identity, event, payload)
	if !ok {
		r.logger.Debug("relay target offline", "event", event, "identity", identity)
	}
	return ok
}

func (r *Relay) session(participants []string, event string, payload json.RawMessage) int {
	if len(participants) == 0 {
		return r.delivery.Broadcast(event, payload)
	}
	delivered := 0
	for _, id := range participants {
		if r.push(id, event, payload) {
			delivered++
		}
	}
	return delivered
}
