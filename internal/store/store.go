// Package store persists conversations, messages and notifications.
package store

import (
	"context"
	"errors"
	"strconv"
	"time"
)

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("not found")

// Message is immutable once created.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	ReceiverID     string    `json:"receiverId"`
	Text           string    `json:"text,omitempty"`
	ImageURL       string    `json:"image,omitempty"`
	AudioURL       string    `json:"audio,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

func (m Message) DeliveryKey() string { return m.ID }

// Conversation is the two-party thread between a pair of identities.
type Conversation struct {
	ID           string    `json:"id"`
	PairKey      string    `json:"-"`
	Participants [2]string `json:"participants"`
	MessageIDs   []string  `json:"messages"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// NotificationType is extensible; collaborators may use their own values.
type NotificationType string

const (
	TypeEnrollment   NotificationType = "enrollment"
	TypeCourseUpdate NotificationType = "course_update"
	TypeComment      NotificationType = "comment"
	TypeChat         NotificationType = "chat"
	TypeSystem       NotificationType = "system"
	TypeAssignment   NotificationType = "assignment"
	TypeGrade        NotificationType = "grade"
	TypeQuiz         NotificationType = "quiz"
	TypeForumLike    NotificationType = "forum_like"
	TypeFollow       NotificationType = "follow"
	TypeLevelUp      NotificationType = "level_up"
	TypeBadge        NotificationType = "badge"
	TypeLiveSession  NotificationType = "live_session"
	TypeIntegrity    NotificationType = "integrity"
)

type Notification struct {
	ID          string           `json:"id"`
	RecipientID string           `json:"recipientId"`
	SenderID    string           `json:"senderId,omitempty"`
	Type        NotificationType `json:"type"`
	Content     string           `json:"content"`
	RelatedID   string           `json:"relatedId,omitempty"`
	IsRead      bool             `json:"isRead"`
	CreatedAt   time.Time        `json:"createdAt"`
}

func (n Notification) DeliveryKey() string { return n.ID }

// ConversationStore holds two-party conversations and their messages.
type ConversationStore interface {
	// UpsertConversation returns the conversation for the unordered pair
	// (a, b), creating it atomically if absent.
	UpsertConversation(ctx context.Context, a, b string) (*Conversation, error)
	// FindConversation returns ErrNotFound when the pair never talked.
	FindConversation(ctx context.Context, a, b string) (*Conversation, error)
	// AppendMessage persists msg and its reference on conv as one unit.
	// On success conv reflects the appended reference.
	AppendMessage(ctx context.Context, conv *Conversation, msg *Message) error
	// ListMessages returns the pair's messages in append order, or an
	// empty slice when no conversation exists.
	ListMessages(ctx context.Context, a, b string) ([]Message, error)
	// ListConversations returns the conversations identity takes part in,
	// most recently updated first.
	ListConversations(ctx context.Context, identity string) ([]Conversation, error)
}

type NotificationStore interface {
	CreateNotification(ctx context.Context, n *Notification) error
	// ListNotifications returns newest first; limit <= 0 means no limit.
	ListNotifications(ctx context.Context, recipient string, limit int) ([]Notification, error)
	UnreadCount(ctx context.Context, recipient string) (int, error)
	// MarkRead flips IsRead on one notification owned by recipient.
	// Returns ErrNotFound for unknown ids and other recipients' records.
	MarkRead(ctx context.Context, recipient, id string) error
	// MarkAllRead returns the number of notifications that changed.
	MarkAllRead(ctx context.Context, recipient string) (int, error)
}

// Store is everything the service needs from persistence.
type Store interface {
	ConversationStore
	NotificationStore
	Close()
}

// PairKey is the canonical key of the unordered pair (a, b). The length
// prefix keeps ids containing the separator from colliding.
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return strconv.Itoa(len(a)) + ":" + a + "|" + b
}

func sortedPair(a, b string) [2]string {
	if b < a {
		a, b = b, a
	}
	return [2]string{a, b}
}
