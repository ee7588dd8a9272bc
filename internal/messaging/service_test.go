package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pelusa-v/pelusa-live/internal/chat"
	"github.com/pelusa-v/pelusa-live/internal/media"
	"github.com/pelusa-v/pelusa-live/internal/notification"
	"github.com/pelusa-v/pelusa-live/internal/store"
)

type event struct {
	kind    string // "direct" or "room"
	target  string
	name    string
	payload any
}

// fakeDelivery stands in for chat.ChatManager.
type fakeDelivery struct {
	mu     sync.Mutex
	online map[string]bool
	events []event
}

func (d *fakeDelivery) PushDirect(identity, name string, payload any) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.online[identity] {
		return false
	}
	d.events = append(d.events, event{"direct", identity, name, payload})
	return true
}

func (d *fakeDelivery) PublishRoom(room, name string, payload any) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.online[room] {
		return 0
	}
	d.events = append(d.events, event{"room", room, name, payload})
	return 1
}

func (d *fakeDelivery) named(kind, name string) []event {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []event
	for _, e := range d.events {
		if e.kind == kind && e.name == name {
			out = append(out, e)
		}
	}
	return out
}

type fakeMedia struct {
	puts    []media.Kind
	deleted []string
	err     error
	failOn  media.Kind
}

func (m *fakeMedia) Put(_ context.Context, kind media.Kind, _ media.Upload) (string, error) {
	if m.err != nil && (m.failOn == "" || m.failOn == kind) {
		return "", m.err
	}
	m.puts = append(m.puts, kind)
	return fmt.Sprintf("https://cdn.test/%s/%d", kind, len(m.puts)), nil
}

func (m *fakeMedia) Delete(_ context.Context, url string) error {
	m.deleted = append(m.deleted, url)
	return nil
}

type recordingNotifier struct{ reqs []notification.Request }

func (n *recordingNotifier) Notify(_ context.Context, req notification.Request) {
	n.reqs = append(n.reqs, req)
}

type fixture struct {
	store    *store.Memory
	delivery *fakeDelivery
	media    *fakeMedia
	notifier *recordingNotifier
	svc      *Service
}

func newFixture(online ...string) *fixture {
	f := &fixture{
		store:    store.NewMemory(),
		delivery: &fakeDelivery{online: map[string]bool{}},
		media:    &fakeMedia{},
		notifier: &recordingNotifier{},
	}
	for _, id := range online {
		f.delivery.online[id] = true
	}
	f.svc = NewService(f.store, f.media, f.delivery, f.notifier, Options{MaxTextRunes: 500, MaxMediaBytes: 1 << 20})
	return f
}

func image() *media.Upload {
	return &media.Upload{Filename: "a.png", ContentType: "image/png", Size: 3, Body: strings.NewReader("png")}
}

func audio() *media.Upload {
	return &media.Upload{Filename: "a.webm", ContentType: "audio/webm", Size: 3, Body: strings.NewReader("ogg")}
}

func TestSendPreservesOrder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	var sent []*store.Message
	for i := 0; i < 10; i++ {
		m, err := f.svc.Send(ctx, SendInput{SenderID: "a", ReceiverID: "b", Text: fmt.Sprintf("m%d", i)})
		require.NoError(t, err)
		sent = append(sent, m)
	}

	got, err := f.svc.Conversation(ctx, "a", "b")
	require.NoError(t, err)
	require.Len(t, got, len(sent))
	for i := range sent {
		assert.Equal(t, *sent[i], got[i])
	}
}

func TestSendPushesOnceToOnlineReceiver(t *testing.T) {
	f := newFixture("b")

	msg, err := f.svc.Send(context.Background(), SendInput{SenderID: "a", ReceiverID: "b", Text: "hello"})
	require.NoError(t, err)

	direct := f.delivery.named("direct", chat.EventNewMessage)
	require.Len(t, direct, 1)
	assert.Equal(t, "b", direct[0].target)
	assert.Equal(t, *msg, direct[0].payload)

	room := f.delivery.named("room", chat.EventNewMessage)
	require.Len(t, room, 1)
	assert.Equal(t, "b", room[0].target)
}

func TestSendToOfflineReceiverIsRetrievable(t *testing.T) {
	f := newFixture()

	msg, err := f.svc.Send(context.Background(), SendInput{SenderID: "a", ReceiverID: "b", Text: "are you there"})
	require.NoError(t, err)
	assert.Empty(t, f.delivery.events)

	got, err := f.svc.Conversation(context.Background(), "b", "a")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, msg.ID, got[0].ID)
}

func TestSendToOfflineReceiverScenario(t *testing.T) {
	st := store.NewMemory()
	delivery := &fakeDelivery{online: map[string]bool{"a": true}}
	notifications := notification.NewService(st, delivery, nil)
	svc := NewService(st, nil, delivery, notifications, Options{})
	ctx := context.Background()

	msg, err := svc.Send(ctx, SendInput{SenderID: "a", ReceiverID: "b", Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", msg.Text)

	conv, err := st.FindConversation(ctx, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, []string{msg.ID}, conv.MessageIDs)

	assert.Empty(t, delivery.events, "receiver is offline")

	list, err := notifications.List(ctx, "b", 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, store.TypeChat, list[0].Type)
	assert.Equal(t, "hi", list[0].Content)
	assert.Equal(t, "a", list[0].SenderID)
	assert.Equal(t, conv.ID, list[0].RelatedID)
	assert.False(t, list[0].IsRead)
}

func TestSendNotifiesWithPreview(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.Send(ctx, SendInput{SenderID: "a", ReceiverID: "b", Text: "this is a rather long message body"})
	require.NoError(t, err)
	_, err = f.svc.Send(ctx, SendInput{SenderID: "a", ReceiverID: "b", Image: image(), Audio: audio()})
	require.NoError(t, err)
	_, err = f.svc.Send(ctx, SendInput{SenderID: "a", ReceiverID: "b", Audio: audio()})
	require.NoError(t, err)

	require.Len(t, f.notifier.reqs, 3)
	assert.Equal(t, "this is a rather lon...", f.notifier.reqs[0].Content)
	assert.Equal(t, "sent a photo", f.notifier.reqs[1].Content)
	assert.Equal(t, "sent a voice message", f.notifier.reqs[2].Content)
	for _, r := range f.notifier.reqs {
		assert.Equal(t, store.TypeChat, r.Type)
		assert.Equal(t, "b", r.RecipientID)
		assert.Equal(t, "a", r.SenderID)
	}
	assert.Equal(t, []media.Kind{media.KindImage, media.KindAudio, media.KindAudio}, f.media.puts)
}

func TestSendValidation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.Send(ctx, SendInput{SenderID: "a", ReceiverID: "b", Text: "   "})
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = f.svc.Send(ctx, SendInput{SenderID: "", ReceiverID: "b", Text: "x"})
	assert.ErrorIs(t, err, ErrInvalidParticipant)

	_, err = f.svc.Send(ctx, SendInput{SenderID: "a", ReceiverID: "b", Text: strings.Repeat("x", 501)})
	assert.ErrorIs(t, err, ErrTextTooLong)

	bad := &media.Upload{Filename: "x.exe", ContentType: "application/octet-stream"}
	_, err = f.svc.Send(ctx, SendInput{SenderID: "a", ReceiverID: "b", Image: bad})
	assert.ErrorIs(t, err, media.ErrUnsupportedType)

	got, err := f.store.ListMessages(ctx, "a", "b")
	require.NoError(t, err)
	assert.Empty(t, got, "validation failures have no side effects")
	assert.Empty(t, f.notifier.reqs)
}

func TestSendMediaFailureAbortsBeforePersistence(t *testing.T) {
	f := newFixture("b")
	f.media.err = errors.New("bucket unavailable")

	_, err := f.svc.Send(context.Background(), SendInput{SenderID: "a", ReceiverID: "b", Text: "look", Image: image()})
	require.ErrorIs(t, err, ErrMediaUpload)

	_, err = f.store.FindConversation(context.Background(), "a", "b")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, f.delivery.events)
	assert.Empty(t, f.notifier.reqs)
}

func TestSendAudioFailureRemovesUploadedImage(t *testing.T) {
	f := newFixture("b")
	f.media.err = errors.New("bucket unavailable")
	f.media.failOn = media.KindAudio

	_, err := f.svc.Send(context.Background(), SendInput{SenderID: "a", ReceiverID: "b", Image: image(), Audio: audio()})
	require.ErrorIs(t, err, ErrMediaUpload)
	assert.Equal(t, []media.Kind{media.KindImage}, f.media.puts)
	assert.Equal(t, []string{"https://cdn.test/image/1"}, f.media.deleted)
}

func TestSendWithoutMediaStore(t *testing.T) {
	f := newFixture()
	svc := NewService(f.store, nil, f.delivery, f.notifier, Options{})
	_, err := svc.Send(context.Background(), SendInput{SenderID: "a", ReceiverID: "b", Image: image()})
	assert.ErrorIs(t, err, ErrNoMediaStore)
}

type failingAppend struct{ *store.Memory }

func (failingAppend) AppendMessage(context.Context, *store.Conversation, *store.Message) error {
	return errors.New("disk full")
}

func TestSendPersistenceFailure(t *testing.T) {
	f := newFixture("b")
	svc := NewService(failingAppend{store.NewMemory()}, f.media, f.delivery, f.notifier, Options{})

	_, err := svc.Send(context.Background(), SendInput{SenderID: "a", ReceiverID: "b", Text: "x"})
	require.ErrorContains(t, err, "disk full")
	assert.Empty(t, f.delivery.events)
	assert.Empty(t, f.notifier.reqs)
}

func TestSendPersistenceFailureRemovesAttachments(t *testing.T) {
	f := newFixture("b")
	svc := NewService(failingAppend{store.NewMemory()}, f.media, f.delivery, f.notifier, Options{})

	_, err := svc.Send(context.Background(), SendInput{SenderID: "a", ReceiverID: "b", Image: image(), Audio: audio()})
	require.Error(t, err)
	assert.ElementsMatch(t, []string{"https://cdn.test/image/1", "https://cdn.test/audio/2"}, f.media.deleted)
}

func TestSendRateLimit(t *testing.T) {
	f := newFixture()
	svc := NewService(f.store, nil, f.delivery, f.notifier, Options{Rate: 0.001, Burst: 2})
	ctx := context.Background()

	for range 2 {
		_, err := svc.Send(ctx, SendInput{SenderID: "a", ReceiverID: "b", Text: "x"})
		require.NoError(t, err)
	}
	_, err := svc.Send(ctx, SendInput{SenderID: "a", ReceiverID: "b", Text: "x"})
	assert.ErrorIs(t, err, ErrRateLimited)

	_, err = svc.Send(ctx, SendInput{SenderID: "c", ReceiverID: "b", Text: "x"})
	assert.NoError(t, err, "limits are per sender")
}

func TestSendRateLimitCacheSize(t *testing.T) {
	ctx := context.Background()
	exhaust := func(svc *Service) {
		for range 2 {
			_, err := svc.Send(ctx, SendInput{SenderID: "a", ReceiverID: "b", Text: "x"})
			require.NoError(t, err)
		}
		_, err := svc.Send(ctx, SendInput{SenderID: "c", ReceiverID: "b", Text: "x"})
		require.NoError(t, err)
	}

	f := newFixture()
	small := NewService(f.store, nil, f.delivery, f.notifier, Options{Rate: 0.001, Burst: 2, LimiterCacheSize: 1})
	exhaust(small)
	_, err := small.Send(ctx, SendInput{SenderID: "a", ReceiverID: "b", Text: "x"})
	assert.NoError(t, err, "sender a was evicted by c and starts a fresh bucket")

	f = newFixture()
	large := NewService(f.store, nil, f.delivery, f.notifier, Options{Rate: 0.001, Burst: 2, LimiterCacheSize: 2})
	exhaust(large)
	_, err = large.Send(ctx, SendInput{SenderID: "a", ReceiverID: "b", Text: "x"})
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestConversations(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	_, err := f.svc.Send(ctx, SendInput{SenderID: "a", ReceiverID: "b", Text: "x"})
	require.NoError(t, err)
	_, err = f.svc.Send(ctx, SendInput{SenderID: "c", ReceiverID: "a", Text: "y"})
	require.NoError(t, err)

	convs, err := f.svc.Conversations(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, convs, 2)
}

func TestPreview(t *testing.T) {
	cases := []struct {
		name string
		msg  store.Message
		want string
	}{
		{"short text", store.Message{Text: "hi"}, "hi"},
		{"exactly twenty", store.Message{Text: "12345678901234567890"}, "12345678901234567890"},
		{"long text", store.Message{Text: "123456789012345678901"}, "12345678901234567890..."},
		{"multibyte", store.Message{Text: strings.Repeat("ñ", 25)}, strings.Repeat("ñ", 20) + "..."},
		{"text wins over image", store.Message{Text: "caption", ImageURL: "u"}, "caption"},
		{"image wins over audio", store.Message{ImageURL: "u", AudioURL: "v"}, "sent a photo"},
		{"audio", store.Message{AudioURL: "v"}, "sent a voice message"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Preview(tc.msg))
		})
	}
}
