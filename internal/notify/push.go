package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"unicode/utf8"

	"duet/internal/models"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/rs/zerolog/log"
)

const previewLength = 80

type PushStore interface {
	ListPushSubscriptions(profileID string) ([]models.PushSubscription, error)
	DeletePushSubscription(profileID, endpoint string) error
}

type PushConfig struct {
	PublicKey  string
	PrivateKey string
	Subject    string
}

// WebPush notifies offline recipients about new messages.
type WebPush struct {
	PushConfig
	store  PushStore
	client webpush.HTTPClient
}

func NewWebPush(cfg PushConfig, store PushStore) *WebPush {
	return &WebPush{PushConfig: cfg, store: store, client: http.DefaultClient}
}

func (w *WebPush) Enabled() bool {
	return w != nil && w.PublicKey != "" && w.PrivateKey != ""
}

type pushPayload struct {
	Title  string `json:"title"`
	Body   string `json:"body"`
	PeerID string `json:"peerId"`
}

// NotifyMessage pushes a preview of m to every subscription of its recipient.
// Subscriptions the push service reports as gone are removed.
func (w *WebPush) NotifyMessage(ctx context.Context, m models.Message) {
	if !w.Enabled() {
		return
	}
	subs, err := w.store.ListPushSubscriptions(m.RecipientID)
	if err != nil {
		log.Error().Err(err).Str("profile_id", m.RecipientID).Msg("failed to list push subscriptions")
		return
	}
	if len(subs) == 0 {
		return
	}

	payload, err := json.Marshal(pushPayload{
		Title:  m.SenderName,
		Body:   preview(m),
		PeerID: m.SenderID,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to encode push payload")
		return
	}

	for _, sub := range subs {
		if err := w.send(ctx, m.RecipientID, payload, sub); err != nil {
			log.Warn().Err(err).Str("profile_id", m.RecipientID).Msg("push failed")
		}
	}
}

func (w *WebPush) send(ctx context.Context, profileID string, payload []byte, sub models.PushSubscription) error {
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.Keys.P256dh,
			Auth:   sub.Keys.Auth,
		},
	}, &webpush.Options{
		HTTPClient:      w.client,
		Subscriber:      w.Subject,
		VAPIDPublicKey:  w.PublicKey,
		VAPIDPrivateKey: w.PrivateKey,
		TTL:             60,
	})
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return w.store.DeletePushSubscription(profileID, sub.Endpoint)
	case resp.StatusCode >= 300:
		return fmt.Errorf("push service returned %d", resp.StatusCode)
	}
	return nil
}

func preview(m models.Message) string {
	switch {
	case m.Content != "":
		if utf8.RuneCountInString(m.Content) <= previewLength {
			return m.Content
		}
		return string([]rune(m.Content)[:previewLength]) + "…"
	case m.ImageURL != "":
		return "📷 Photo"
	case m.VoiceURL != "":
		return "🎤 Voice message"
	}
	return "New message"
}
