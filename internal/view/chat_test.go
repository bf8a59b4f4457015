package view

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"duet/internal/apperr"
	"duet/internal/client"
	"duet/internal/models"
	"duet/internal/testserver"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeStream struct {
	events chan models.Event
	mu     sync.Mutex
	typing []string
}

func newFakeStream() *fakeStream {
	return &fakeStream{events: make(chan models.Event, 10)}
}

func (s *fakeStream) Events() <-chan models.Event { return s.events }
func (s *fakeStream) Touch() error                { return nil }
func (s *fakeStream) Typing(peerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.typing = append(s.typing, peerID)
	return nil
}

func (s *fakeStream) typed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.typing...)
}

type fakeAPI struct {
	self    models.Profile
	peers   []models.Profile
	history []models.Message
	sendErr error

	// when set, History signals loading and waits for release
	loading chan struct{}
	release chan struct{}

	mu    sync.Mutex
	reads int
}

func (f *fakeAPI) Me(context.Context) (models.Profile, error)         { return f.self, nil }
func (f *fakeAPI) Profiles(context.Context) ([]models.Profile, error) { return f.peers, nil }
func (f *fakeAPI) History(context.Context, string) ([]models.Message, error) {
	if f.loading != nil {
		close(f.loading)
		<-f.release
	}
	return f.history, nil
}

func (f *fakeAPI) Send(_ context.Context, peerID string, draft models.Draft) (models.Message, error) {
	if f.sendErr != nil {
		return models.Message{}, f.sendErr
	}
	return models.Message{
		ID:          "m-" + draft.Content,
		Content:     draft.Content,
		SenderID:    f.self.ID,
		RecipientID: peerID,
		CreatedAt:   time.Now(),
	}, nil
}

func (f *fakeAPI) MarkRead(context.Context, string) ([]models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	return nil, nil
}

func (f *fakeAPI) Upload(context.Context, models.MediaKind, string, io.Reader) (models.MediaRef, error) {
	return models.MediaRef{}, apperr.BadRequest("File is not an image")
}

func (f *fakeAPI) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

func newFakeChat(t *testing.T, opts ...Option) (*Chat, *fakeAPI, *fakeStream) {
	t.Helper()
	api := &fakeAPI{
		self:  models.Profile{ID: "a", DisplayName: "Alice"},
		peers: []models.Profile{{ID: "b", DisplayName: "Bob"}, {ID: "c", DisplayName: "carol"}},
	}
	chat := NewChat(api, opts...)
	require.NoError(t, chat.Load(context.Background()))

	stream := newFakeStream()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = chat.Run(ctx, stream)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return chat, api, stream
}

func render(t *testing.T, c *Chat) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, c.Render(&buf))
	return buf.String()
}

// flush waits until the reader loop has handled everything sent before.
func flush(t *testing.T, chat *Chat, stream *fakeStream, marker string) {
	t.Helper()
	stream.events <- models.Event{Type: models.EventTypePresence, Online: []string{marker}}
	require.Eventually(t, func() bool { return chat.IsOnline(marker) }, time.Second, 5*time.Millisecond)
}

func TestChat_TypingDecay(t *testing.T) {
	clock := &fakeClock{now: time.UnixMilli(1700000000000)}
	chat, _, stream := newFakeChat(t, WithClock(clock.Now))
	require.NoError(t, chat.Select(context.Background(), "b"))

	typing := models.Event{Type: models.EventTypeTyping, ProfileID: "b", Channel: models.PairKey("a", "b")}

	stream.events <- typing
	flush(t, chat, stream, "m1")
	require.True(t, chat.PeerTyping())
	require.Contains(t, render(t, chat), "Bob is typing…")

	clock.Advance(1500 * time.Millisecond)
	require.True(t, chat.PeerTyping())

	// A follow-up within the window extends it.
	stream.events <- typing
	flush(t, chat, stream, "m2")
	clock.Advance(1500 * time.Millisecond)
	require.True(t, chat.PeerTyping())

	clock.Advance(600 * time.Millisecond)
	require.False(t, chat.PeerTyping())
	require.NotContains(t, render(t, chat), "typing")

	// Typing in another pair is not shown.
	stream.events <- models.Event{Type: models.EventTypeTyping, ProfileID: "c", Channel: models.PairKey("a", "c")}
	flush(t, chat, stream, "m3")
	require.False(t, chat.PeerTyping())
}

func TestChat_ComposerChanged(t *testing.T) {
	chat, _, stream := newFakeChat(t)

	// Nothing open yet.
	chat.ComposerChanged("h")
	require.Eventually(t, func() bool {
		chat.mu.Lock()
		defer chat.mu.Unlock()
		return chat.stream != nil
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, chat.Select(context.Background(), "b"))
	chat.ComposerChanged("")
	chat.ComposerChanged("h")
	chat.ComposerChanged("he")
	chat.ComposerChanged(" ")
	require.Equal(t, []string{"b", "b", "b"}, stream.typed())
}

func TestChat_InboundMarksRead(t *testing.T) {
	chat, api, stream := newFakeChat(t)
	require.NoError(t, chat.Select(context.Background(), "b"))
	require.Equal(t, 0, api.readCount())

	inbound := models.Message{ID: "1", Content: "hey", SenderID: "b", SenderName: "Bob", RecipientID: "a", CreatedAt: time.Now()}
	stream.events <- models.Event{Type: models.EventTypeMessageInsert, Message: &inbound}
	require.Eventually(t, func() bool { return api.readCount() == 1 }, time.Second, 5*time.Millisecond)

	// Messages of another pair are not shown.
	other := models.Message{ID: "2", Content: "psst", SenderID: "c", RecipientID: "a", CreatedAt: time.Now()}
	stream.events <- models.Event{Type: models.EventTypeMessageInsert, Message: &other}
	flush(t, chat, stream, "b")

	out := render(t, chat)
	require.Contains(t, out, "Bob: hey")
	require.NotContains(t, out, "psst")
	require.Equal(t, 1, api.readCount())
}

func TestChat_Toasts(t *testing.T) {
	chat, api, _ := newFakeChat(t)

	err := chat.SendText(context.Background(), "hello")
	require.Error(t, err)
	toasts := chat.Toasts()
	require.Len(t, toasts, 1)
	require.Equal(t, ToastError, toasts[0].Kind)
	require.Empty(t, chat.Toasts())

	require.NoError(t, chat.Select(context.Background(), "b"))
	api.sendErr = errors.New("connection refused")
	require.Error(t, chat.SendText(context.Background(), "hello"))
	require.Equal(t, "connection refused", chat.Toasts()[0].Message)

	require.Error(t, chat.SendImage(context.Background(), "x.txt", strings.NewReader("not an image")))
	require.Equal(t, "File is not an image", chat.Toasts()[0].Message)

	// The view stays usable.
	api.sendErr = nil
	require.NoError(t, chat.SendText(context.Background(), "hello"))
	require.Contains(t, render(t, chat), "you: hello ✓")
}

func TestChat_Render(t *testing.T) {
	chat, _, _ := newFakeChat(t)

	out := render(t, chat)
	require.Contains(t, out, "duet · Alice")
	require.Contains(t, out, "○ Bob")
	require.Contains(t, out, "Select someone to chat with")

	// Peers are sorted by name regardless of case.
	require.Less(t, strings.Index(out, "Bob"), strings.Index(out, "carol"))

	require.NoError(t, chat.Select(context.Background(), "b"))
	out = render(t, chat)
	require.Contains(t, out, "> ○ Bob")
	require.Contains(t, out, EmptyConversation)
}

// Two people in a conversation, each with their own view, against a real server.
func TestChat_Scenario(t *testing.T) {
	srv := testserver.Start(t, models.GateModeCode)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	enter := func(alias string) (*client.Client, models.Profile) {
		c, err := client.New(srv.URL)
		require.NoError(t, err)
		session, err := c.Enter(ctx, models.CodeRequest{Code: testserver.AccessCode, Alias: alias})
		require.NoError(t, err)
		return c, *session.Profile
	}
	run := func(c *client.Client) *Chat {
		chat := NewChat(c)
		require.NoError(t, chat.Load(ctx))
		stream, err := c.Stream(ctx)
		require.NoError(t, err)
		go func() { _ = chat.Run(ctx, stream) }()
		return chat
	}

	aliceClient, alice := enter("Alice")
	bobClient, bob := enter("Bob")
	aliceChat := run(aliceClient)
	bobChat := run(bobClient)

	require.Eventually(t, func() bool { return aliceChat.IsOnline(bob.ID) }, 5*time.Second, 10*time.Millisecond)

	// A opens B: empty state.
	require.NoError(t, aliceChat.Select(ctx, bob.ID))
	require.Contains(t, render(t, aliceChat), EmptyConversation)

	// A sends hello: single check.
	require.NoError(t, aliceChat.SendText(ctx, "hello"))
	out := render(t, aliceChat)
	require.Contains(t, out, "you: hello ✓")
	require.NotContains(t, out, "✓✓")
	require.Len(t, aliceChat.Messages(), 1)

	// B opens A: the message is read and A sees a double check.
	require.NoError(t, bobChat.Select(ctx, alice.ID))
	require.Contains(t, render(t, bobChat), "Alice: hello")
	require.Eventually(t, func() bool {
		return strings.Contains(render(t, aliceChat), "you: hello ✓✓")
	}, 5*time.Second, 10*time.Millisecond)

	// B types, A sees it.
	bobChat.ComposerChanged("h")
	require.Eventually(t, aliceChat.PeerTyping, 5*time.Second, 10*time.Millisecond)

	// B replies while A has the conversation open, so A reads it right away.
	require.NoError(t, bobChat.SendText(ctx, "hi there"))
	require.Eventually(t, func() bool {
		return strings.Contains(render(t, bobChat), "you: hi there ✓✓")
	}, 5*time.Second, 10*time.Millisecond)
	require.False(t, aliceChat.PeerTyping())

	// Echoes did not duplicate anything.
	require.Len(t, aliceChat.Messages(), 2)
	require.Len(t, bobChat.Messages(), 2)
}

func TestChat_InsertWhileHistoryLoads(t *testing.T) {
	chat, api, stream := newFakeChat(t)
	api.loading = make(chan struct{})
	api.release = make(chan struct{})

	selected := make(chan error, 1)
	go func() {
		selected <- chat.Select(context.Background(), "b")
	}()
	<-api.loading

	inbound := models.Message{ID: "1", Content: "quick", SenderID: "b", SenderName: "Bob", RecipientID: "a", CreatedAt: time.Now()}
	stream.events <- models.Event{Type: models.EventTypeMessageInsert, Message: &inbound}
	flush(t, chat, stream, "m1")

	// The snapshot was taken before the insert.
	close(api.release)
	require.NoError(t, <-selected)

	msgs := chat.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "quick", msgs[0].Content)
	require.GreaterOrEqual(t, api.readCount(), 1)
}
