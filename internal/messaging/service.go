// Package messaging sends direct messages between two identities: persist
// first, then push, then notify.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/pelusa-v/pelusa-live/internal/chat"
	"github.com/pelusa-v/pelusa-live/internal/media"
	"github.com/pelusa-v/pelusa-live/internal/notification"
	"github.com/pelusa-v/pelusa-live/internal/store"
)

var (
	ErrInvalidParticipant = errors.New("sender and receiver are required")
	ErrEmptyMessage       = errors.New("message needs text, an image or audio")
	ErrTextTooLong        = errors.New("message text too long")
	ErrRateLimited        = errors.New("sending too fast")
	ErrNoMediaStore       = errors.New("attachments are not enabled")
	ErrMediaUpload        = errors.New("media upload failed")
)

// Deliverer is the push side of the chat package.
type Deliverer interface {
	PushDirect(identity, event string, payload any) bool
	PublishRoom(room, event string, payload any) int
}

// Notifier must not fail the send; it has no error to return.
type Notifier interface {
	Notify(ctx context.Context, req notification.Request)
}

type Options struct {
	MaxTextRunes  int
	MaxMediaBytes int64
	// Rate and Burst bound sends per sender; Rate <= 0 disables the limit.
	Rate  rate.Limit
	Burst int
	// LimiterCacheSize caps how many senders keep a limiter; the least
	// recently active sender is forgotten first. Defaults to 4096.
	LimiterCacheSize int
	Logger           *slog.Logger
}

// SendInput is one outgoing message. Image and Audio are optional.
type SendInput struct {
	SenderID   string
	ReceiverID string
	Text       string
	Image      *media.Upload
	Audio      *media.Upload
}

type Service struct {
	store    store.ConversationStore
	media    media.Store
	delivery Deliverer
	notifier Notifier
	opts     Options
	limiters *lru.Cache[string, *rate.Limiter]
	logger   *slog.Logger
}

func NewService(st store.ConversationStore, mediaStore media.Store, delivery Deliverer, notifier Notifier, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.LimiterCacheSize <= 0 {
		opts.LimiterCacheSize = 4096
	}
	limiters, _ := lru.New[string, *rate.Limiter](opts.LimiterCacheSize)
	return &Service{
		store:    st,
		media:    mediaStore,
		delivery: delivery,
		notifier: notifier,
		opts:     opts,
		limiters: limiters,
		logger:   opts.Logger.With("component", "messaging"),
	}
}

func (s *Service) allow(sender string) bool {
	if s.opts.Rate <= 0 {
		return true
	}
	l, ok := s.limiters.Get(sender)
	if !ok {
		l = rate.NewLimiter(s.opts.Rate, s.opts.Burst)
		if prev, found, _ := s.limiters.PeekOrAdd(sender, l); found {
			l = prev
		}
	}
	return l.Allow()
}

func (s *Service) validate(in *SendInput) error {
	if chat.Anonymous(in.SenderID) || chat.Anonymous(in.ReceiverID) {
		return ErrInvalidParticipant
	}
	in.Text = strings.TrimSpace(in.Text)
	if in.Text == "" && in.Image == nil && in.Audio == nil {
		return ErrEmptyMessage
	}
	if s.opts.MaxTextRunes > 0 && utf8.RuneCountInString(in.Text) > s.opts.MaxTextRunes {
		return fmt.Errorf("%w: limit %d characters", ErrTextTooLong, s.opts.MaxTextRunes)
	}
	if in.Image != nil {
		if err := media.Check(media.KindImage, *in.Image, s.opts.MaxMediaBytes); err != nil {
			return err
		}
	}
	if in.Audio != nil {
		if err := media.Check(media.KindAudio, *in.Audio, s.opts.MaxMediaBytes); err != nil {
			return err
		}
	}
	if (in.Image != nil || in.Audio != nil) && s.media == nil {
		return ErrNoMediaStore
	}
	return nil
}

func (s *Service) upload(ctx context.Context, kind media.Kind, u *media.Upload) (string, error) {
	if u == nil {
		return "", nil
	}
	url, err := s.media.Put(ctx, kind, *u)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrMediaUpload, kind, err)
	}
	return url, nil
}

// discard removes attachments of a send that did not complete.
func (s *Service) discard(ctx context.Context, urls ...string) {
	ctx = context.WithoutCancel(ctx)
	for _, url := range urls {
		if url == "" {
			continue
		}
		if err := s.media.Delete(ctx, url); err != nil {
			s.logger.Warn("orphaned attachment", "url", url, "error", err)
		}
	}
}

// Send persists the message, then attempts a direct push and a room publish
// to the receiver, then notifies the receiver. Delivery and notification
// outcomes never change the result.
func (s *Service) Send(ctx context.Context, in SendInput) (*store.Message, error) {
	if err := s.validate(&in); err != nil {
		return nil, err
	}
	if !s.allow(in.SenderID) {
		return nil, ErrRateLimited
	}

	imageURL, err := s.upload(ctx, media.KindImage, in.Image)
	if err != nil {
		return nil, err
	}
	audioURL, err := s.upload(ctx, media.KindAudio, in.Audio)
	if err != nil {
		s.discard(ctx, imageURL)
		return nil, err
	}

	conv, err := s.store.UpsertConversation(ctx, in.SenderID, in.ReceiverID)
	if err != nil {
		s.discard(ctx, imageURL, audioURL)
		return nil, fmt.Errorf("find conversation: %w", err)
	}
	msg := &store.Message{
		SenderID:   in.SenderID,
		ReceiverID: in.ReceiverID,
		Text:       in.Text,
		ImageURL:   imageURL,
		AudioURL:   audioURL,
	}
	if err := s.store.AppendMessage(ctx, conv, msg); err != nil {
		s.discard(ctx, imageURL, audioURL)
		return nil, fmt.Errorf("append message: %w", err)
	}

	direct := s.delivery.PushDirect(in.ReceiverID, chat.EventNewMessage, *msg)
	room := s.delivery.PublishRoom(in.ReceiverID, chat.EventNewMessage, *msg)
	s.logger.Debug("message sent", "id", msg.ID, "conversation", conv.ID, "direct", direct, "room", room)

	s.notifier.Notify(ctx, notification.Request{
		RecipientID: in.ReceiverID,
		SenderID:    in.SenderID,
		Type:        store.TypeChat,
		Content:     Preview(*msg),
		RelatedID:   conv.ID,
	})
	return msg, nil
}

// Conversation returns the messages between a and b in send order.
func (s *Service) Conversation(ctx context.Context, a, b string) ([]store.Message, error) {
	if chat.Anonymous(a) || chat.Anonymous(b) {
		return nil, ErrInvalidParticipant
	}
	msgs, err := s.store.ListMessages(ctx, a, b)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// Conversations lists the threads identity takes part in, most recent first.
func (s *Service) Conversations(ctx context.Context, identity string) ([]store.Conversation, error) {
	convs, err := s.store.ListConversations(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return convs, nil
}
