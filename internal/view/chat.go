// Package view holds the state of the chat screen and renders it as text.
package view

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"duet/internal/apperr"
	"duet/internal/conversation"
	"duet/internal/models"

	"github.com/rs/zerolog/log"
)

const (
	TypingTimeout = 2 * time.Second
	TouchInterval = 30 * time.Second

	EmptyConversation = "No messages yet. Say hello!"
)

// API is the part of the server API the chat screen needs.
type API interface {
	Me(ctx context.Context) (models.Profile, error)
	Profiles(ctx context.Context) ([]models.Profile, error)
	History(ctx context.Context, peerID string) ([]models.Message, error)
	Send(ctx context.Context, peerID string, draft models.Draft) (models.Message, error)
	MarkRead(ctx context.Context, peerID string) ([]models.Message, error)
	Upload(ctx context.Context, kind models.MediaKind, filename string, r io.Reader) (models.MediaRef, error)
}

// Stream is the realtime connection of the signed in profile.
type Stream interface {
	Events() <-chan models.Event
	Typing(peerID string) error
	Touch() error
}

type ToastKind string

const (
	ToastInfo  ToastKind = "info"
	ToastError ToastKind = "error"
)

type Toast struct {
	Kind    ToastKind
	Message string
}

type Chat struct {
	api    API
	now    func() time.Time
	render func()

	mu          sync.Mutex
	self        models.Profile
	peers       []models.Profile
	online      map[string]bool
	conv        *conversation.Conversation
	typingUntil time.Time
	toasts      []Toast
	stream      Stream
}

type Option func(*Chat)

// WithClock replaces time.Now, e.g. to drive the typing indicator in tests.
func WithClock(now func() time.Time) Option {
	return func(c *Chat) {
		c.now = now
	}
}

// WithRenderHook is called after every state change.
func WithRenderHook(f func()) Option {
	return func(c *Chat) {
		c.render = f
	}
}

func NewChat(api API, opts ...Option) *Chat {
	c := &Chat{
		api:    api,
		now:    time.Now,
		online: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load fetches the own profile and the peer list.
func (c *Chat) Load(ctx context.Context) error {
	self, err := c.api.Me(ctx)
	if err != nil {
		return c.fail(err)
	}
	c.mu.Lock()
	c.self = self
	c.mu.Unlock()

	return c.reloadPeers(ctx)
}

func (c *Chat) reloadPeers(ctx context.Context) error {
	peers, err := c.api.Profiles(ctx)
	if err != nil {
		return c.fail(err)
	}
	sort.SliceStable(peers, func(i, j int) bool {
		return strings.ToLower(peers[i].DisplayName) < strings.ToLower(peers[j].DisplayName)
	})

	c.mu.Lock()
	c.peers = peers
	for _, p := range peers {
		if p.Online {
			c.online[p.ID] = true
		}
	}
	c.mu.Unlock()
	c.changed()
	return nil
}

// Run consumes realtime events until the stream ends or ctx is done.
// It is the only goroutine that applies change events to the view.
func (c *Chat) Run(ctx context.Context, stream Stream) error {
	c.mu.Lock()
	c.stream = stream
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.stream = nil
		c.mu.Unlock()
	}()

	touch := time.NewTicker(TouchInterval)
	defer touch.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-touch.C:
			if err := stream.Touch(); err != nil {
				log.Debug().Err(err).Msg("touch failed")
			}
		case event, ok := <-stream.Events():
			if !ok {
				return nil
			}
			c.handle(ctx, event)
		}
	}
}

func (c *Chat) handle(ctx context.Context, event models.Event) {
	switch event.Type {
	case models.EventTypePresence:
		online := make(map[string]bool, len(event.Online))
		for _, id := range event.Online {
			online[id] = true
		}
		c.mu.Lock()
		c.online = online
		c.mu.Unlock()

	case models.EventTypeTyping:
		c.mu.Lock()
		if c.conv != nil && event.ProfileID == c.conv.PeerID && event.Channel == c.conv.Channel() {
			c.typingUntil = c.now().Add(TypingTimeout)
		}
		c.mu.Unlock()

	case models.EventTypeMessageInsert, models.EventTypeMessageUpdate:
		if event.Message == nil {
			return
		}
		c.mu.Lock()
		conv := c.conv
		known := c.knownLocked(event.Message.SenderID)
		c.mu.Unlock()

		if !known {
			// Someone who signed up after the peer list was loaded.
			_ = c.reloadPeers(ctx)
		}
		if conv == nil {
			return
		}
		conv.Apply(event)

	default:
		return
	}
	c.changed()
}

func (c *Chat) knownLocked(id string) bool {
	if id == c.self.ID {
		return true
	}
	for _, p := range c.peers {
		if p.ID == id {
			return true
		}
	}
	return false
}

// onConversationChange runs on the reader loop for every applied change.
func (c *Chat) onConversationChange(ctx context.Context, conv *conversation.Conversation) func(conversation.Change) {
	return func(change conversation.Change) {
		if change.Kind != conversation.Inserted || change.Message.SenderID != conv.PeerID {
			return
		}
		c.mu.Lock()
		c.typingUntil = time.Time{}
		c.mu.Unlock()

		// The conversation is open, so the message is read right away.
		if _, err := c.api.MarkRead(ctx, conv.PeerID); err != nil {
			_ = c.fail(err)
		}
	}
}

// Select opens the conversation with the peer.
func (c *Chat) Select(ctx context.Context, peerID string) error {
	c.mu.Lock()
	selfID := c.self.ID
	c.mu.Unlock()
	if peerID == selfID {
		return c.fail(apperr.BadRequest("Cannot open a conversation with yourself"))
	}

	// Installed before the history request so feed rows that arrive while
	// it loads are kept.
	conv := conversation.New(conversation.Config{SelfID: selfID, PeerID: peerID})
	conv.ChangeCallback = c.onConversationChange(ctx, conv)

	c.mu.Lock()
	prev := c.conv
	c.conv = conv
	c.typingUntil = time.Time{}
	c.mu.Unlock()

	history, err := c.api.History(ctx, peerID)
	if err != nil {
		c.mu.Lock()
		if c.conv == conv {
			c.conv = prev
		}
		c.mu.Unlock()
		return c.fail(err)
	}
	conv.Merge(history)
	c.changed()

	if conv.Unread() > 0 {
		if _, err := c.api.MarkRead(ctx, peerID); err != nil {
			return c.fail(err)
		}
	}
	return nil
}

func (c *Chat) openConversation() (*conversation.Conversation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conv == nil {
		return nil, apperr.BadRequest("Select someone to chat with first")
	}
	return c.conv, nil
}

func (c *Chat) SendText(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return c.send(ctx, models.Draft{Content: text})
}

func (c *Chat) SendImage(ctx context.Context, filename string, r io.Reader) error {
	ref, err := c.upload(ctx, models.MediaKindImage, filename, r)
	if err != nil {
		return err
	}
	return c.send(ctx, models.Draft{ImageURL: ref.URL, ThumbnailURL: ref.ThumbnailURL})
}

func (c *Chat) SendVoice(ctx context.Context, filename string, r io.Reader) error {
	ref, err := c.upload(ctx, models.MediaKindVoice, filename, r)
	if err != nil {
		return err
	}
	return c.send(ctx, models.Draft{VoiceURL: ref.URL})
}

func (c *Chat) upload(ctx context.Context, kind models.MediaKind, filename string, r io.Reader) (models.MediaRef, error) {
	if _, err := c.openConversation(); err != nil {
		return models.MediaRef{}, c.fail(err)
	}
	ref, err := c.api.Upload(ctx, kind, filename, r)
	if err != nil {
		return models.MediaRef{}, c.fail(err)
	}
	return ref, nil
}

func (c *Chat) send(ctx context.Context, draft models.Draft) error {
	conv, err := c.openConversation()
	if err != nil {
		return c.fail(err)
	}
	message, err := c.api.Send(ctx, conv.PeerID, draft)
	if err != nil {
		return c.fail(err)
	}
	if conv.Add(message) {
		c.changed()
	}
	return nil
}

// ComposerChanged signals typing to the peer for every non-empty change.
func (c *Chat) ComposerChanged(text string) {
	if text == "" {
		return
	}
	c.mu.Lock()
	stream := c.stream
	conv := c.conv
	c.mu.Unlock()
	if stream == nil || conv == nil {
		return
	}
	if err := stream.Typing(conv.PeerID); err != nil {
		log.Debug().Err(err).Msg("typing signal failed")
	}
}

func (c *Chat) PeerTyping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conv != nil && c.now().Before(c.typingUntil)
}

func (c *Chat) IsOnline(profileID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online[profileID]
}

func (c *Chat) Peers() []models.Profile {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]models.Profile, len(c.peers))
	copy(result, c.peers)
	return result
}

// Messages of the open conversation.
func (c *Chat) Messages() []models.Message {
	c.mu.Lock()
	conv := c.conv
	c.mu.Unlock()
	if conv == nil {
		return nil
	}
	return conv.Messages()
}

// Toasts returns and clears pending notifications.
func (c *Chat) Toasts() []Toast {
	c.mu.Lock()
	defer c.mu.Unlock()
	toasts := c.toasts
	c.toasts = nil
	return toasts
}

// Report shows err as an error toast.
func (c *Chat) Report(err error) {
	_ = c.fail(err)
}

func (c *Chat) fail(err error) error {
	c.mu.Lock()
	c.toasts = append(c.toasts, Toast{Kind: ToastError, Message: errorMessage(err)})
	c.mu.Unlock()
	c.changed()
	return err
}

func (c *Chat) changed() {
	if c.render != nil {
		c.render()
	}
}

func errorMessage(err error) string {
	if appErr, ok := apperr.As(err); ok {
		return appErr.Message
	}
	if errors.Is(err, context.Canceled) {
		return "Cancelled"
	}
	return err.Error()
}

func (c *Chat) peerLocked(id string) (models.Profile, bool) {
	for _, p := range c.peers {
		if p.ID == id {
			return p, true
		}
	}
	return models.Profile{}, false
}

func dot(online bool) string {
	if online {
		return "●"
	}
	return "○"
}

// Render writes the whole screen.
func (c *Chat) Render(w io.Writer) error {
	c.mu.Lock()
	self := c.self
	peers := append([]models.Profile(nil), c.peers...)
	online := c.online
	conv := c.conv
	typing := conv != nil && c.now().Before(c.typingUntil)
	var peer models.Profile
	if conv != nil {
		peer, _ = c.peerLocked(conv.PeerID)
	}
	c.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "duet · %s\n", self.DisplayName)
	for _, p := range peers {
		marker := " "
		if conv != nil && p.ID == conv.PeerID {
			marker = ">"
		}
		fmt.Fprintf(&b, "%s %s %s\n", marker, dot(online[p.ID]), p.DisplayName)
	}
	b.WriteString("\n")

	if conv == nil {
		b.WriteString("Select someone to chat with\n")
		_, err := io.WriteString(w, b.String())
		return err
	}

	name := peer.DisplayName
	if name == "" {
		name = conv.PeerID
	}
	fmt.Fprintf(&b, "── %s %s ──\n", dot(online[conv.PeerID]), name)

	messages := conv.Messages()
	if len(messages) == 0 {
		b.WriteString(EmptyConversation + "\n")
	}
	for _, m := range messages {
		writeMessage(&b, m, self.ID)
	}
	if typing {
		fmt.Fprintf(&b, "%s is typing…\n", name)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func writeMessage(b *strings.Builder, m models.Message, selfID string) {
	mine := m.SenderID == selfID
	author := m.SenderName
	if mine {
		author = "you"
	}
	fmt.Fprintf(b, "[%s] %s:", m.CreatedAt.Local().Format("15:04"), author)
	if m.Content != "" {
		fmt.Fprintf(b, " %s", m.Content)
	}
	if m.ImageURL != "" {
		fmt.Fprintf(b, " [image %s]", m.ImageURL)
	}
	if m.VoiceURL != "" {
		fmt.Fprintf(b, " [voice %s]", m.VoiceURL)
	}
	if mine {
		if m.IsRead() {
			b.WriteString(" ✓✓")
		} else {
			b.WriteString(" ✓")
		}
	}
	b.WriteString("\n")
}
