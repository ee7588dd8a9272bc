// Package notification persists cross-feature notifications and pushes them
// to online recipients. The store is the source of truth; the push is a
// latency optimisation.
package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pelusa-v/pelusa-live/internal/chat"
	"github.com/pelusa-v/pelusa-live/internal/store"
)

var ErrInvalidRequest = errors.New("invalid notification")

// Request describes one notification to create.
type Request struct {
	RecipientID string                 `json:"recipientId"`
	SenderID    string                 `json:"senderId,omitempty"`
	Type        store.NotificationType `json:"type"`
	Content     string                 `json:"content"`
	RelatedID   string                 `json:"relatedId,omitempty"`
}

func (r Request) validate() error {
	switch {
	case chat.Anonymous(r.RecipientID):
		return fmt.Errorf("%w: recipient is required", ErrInvalidRequest)
	case strings.TrimSpace(string(r.Type)) == "":
		return fmt.Errorf("%w: type is required", ErrInvalidRequest)
	case strings.TrimSpace(r.Content) == "":
		return fmt.Errorf("%w: content is required", ErrInvalidRequest)
	}
	return nil
}

// Pusher is the direct delivery channel.
type Pusher interface {
	PushDirect(identity, event string, payload any) bool
}

// Enqueuer hands a batch to a durable background queue.
type Enqueuer interface {
	EnqueueNotifications(ctx context.Context, reqs []Request) error
}

// FanoutResult summarises a NotifyMany call.
type FanoutResult struct {
	Requested int  `json:"requested"`
	Created   int  `json:"created"`
	Failed    int  `json:"failed"`
	Queued    bool `json:"queued"`
}

type Service struct {
	store  store.NotificationStore
	pusher Pusher
	logger *slog.Logger

	queue          Enqueuer
	queueThreshold int
}

func NewService(st store.NotificationStore, pusher Pusher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, pusher: pusher, logger: logger.With("component", "notification")}
}

// SetQueue routes NotifyMany batches of at least threshold requests
// through q. Set after construction because the queue's worker calls back
// into Create.
func (s *Service) SetQueue(q Enqueuer, threshold int) {
	s.queue = q
	s.queueThreshold = max(threshold, 1)
}

// Create persists the notification, then pushes it to the recipient if
// online. Only persistence failures are returned.
func (s *Service) Create(ctx context.Context, req Request) (*store.Notification, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	n := &store.Notification{
		RecipientID: req.RecipientID,
		SenderID:    req.SenderID,
		Type:        req.Type,
		Content:     req.Content,
		RelatedID:   req.RelatedID,
	}
	if err := s.store.CreateNotification(ctx, n); err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}
	if !s.pusher.PushDirect(n.RecipientID, chat.EventNewNotification, n) {
		s.logger.Debug("recipient offline, notification stored only", "recipient", n.RecipientID, "id", n.ID)
	}
	return n, nil
}

// Notify is the fire-and-forget form of Create for callers whose own action
// must not fail because of a notification.
func (s *Service) Notify(ctx context.Context, req Request) {
	if _, err := s.Create(ctx, req); err != nil {
		s.logger.Warn("notification dropped", "recipient", req.RecipientID, "type", req.Type, "error", err)
	}
}

// NotifyMany creates one notification per request. Each request is handled
// independently so a bad recipient cannot block the rest.
func (s *Service) NotifyMany(ctx context.Context, reqs []Request) FanoutResult {
	res := FanoutResult{Requested: len(reqs)}
	if len(reqs) == 0 {
		return res
	}
	if s.queue != nil && len(reqs) >= s.queueThreshold {
		err := s.queue.EnqueueNotifications(ctx, reqs)
		if err == nil {
			res.Queued = true
			return res
		}
		s.logger.Warn("enqueue fan-out failed, delivering inline", "count", len(reqs), "error", err)
	}
	for _, req := range reqs {
		if _, err := s.Create(ctx, req); err != nil {
			res.Failed++
			s.logger.Warn("fan-out notification failed", "recipient", req.RecipientID, "type", req.Type, "error", err)
			continue
		}
		res.Created++
	}
	return res
}

// List returns the recipient's notifications, newest first.
func (s *Service) List(ctx context.Context, recipient string, limit int) ([]store.Notification, error) {
	out, err := s.store.ListNotifications(ctx, recipient, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return out, nil
}

func (s *Service) UnreadCount(ctx context.Context, recipient string) (int, error) {
	n, err := s.store.UnreadCount(ctx, recipient)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

// MarkRead is idempotent.
func (s *Service) MarkRead(ctx context.Context, recipient, id string) error {
	if err := s.store.MarkRead(ctx, recipient, id); err != nil {
		return fmt.Errorf("mark read %s: %w", id, err)
	}
	return nil
}

// MarkAllRead is idempotent.
func (s *Service) MarkAllRead(ctx context.Context, recipient string) error {
	changed, err := s.store.MarkAllRead(ctx, recipient)
	if err != nil {
		return fmt.Errorf("mark all read: %w", err)
	}
	s.logger.Debug("marked all read", "recipient", recipient, "changed", changed)
	return nil
}
