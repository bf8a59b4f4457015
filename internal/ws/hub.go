package ws

import (
	"sort"
	"sync"
	"time"

	"duet/internal/models"

	"github.com/rs/zerolog/log"
)

const subscriberBuffer = 100

// ProfileToucher records when a profile owner was last seen.
type ProfileToucher interface {
	TouchProfile(id string, at time.Time) error
}

type Hub struct {
	// Map of profileID -> live connection channels
	subscribers map[string]map[chan models.Event]struct{}

	toucher ProfileToucher
	now     func() time.Time

	mu sync.RWMutex
}

func NewHub(toucher ProfileToucher) *Hub {
	return &Hub{
		subscribers: make(map[string]map[chan models.Event]struct{}),
		toucher:     toucher,
		now:         time.Now,
	}
}

// Join registers a new connection of the profile and announces presence.
func (h *Hub) Join(profileID string) chan models.Event {
	ch := make(chan models.Event, subscriberBuffer)

	h.mu.Lock()
	conns, ok := h.subscribers[profileID]
	if !ok {
		conns = make(map[chan models.Event]struct{})
		h.subscribers[profileID] = conns
	}
	conns[ch] = struct{}{}
	h.mu.Unlock()

	h.touch(profileID)
	h.broadcastPresence()
	return ch
}

// Leave unregisters the connection channel and closes it.
// Presence changes once the last connection of the profile is gone.
func (h *Hub) Leave(profileID string, ch chan models.Event) {
	h.mu.Lock()
	conns, ok := h.subscribers[profileID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, ok := conns[ch]; !ok {
		h.mu.Unlock()
		return
	}
	delete(conns, ch)
	close(ch)
	wentOffline := len(conns) == 0
	if wentOffline {
		delete(h.subscribers, profileID)
	}
	h.mu.Unlock()

	if wentOffline {
		h.touch(profileID)
		h.broadcastPresence()
	}
}

// Dispatch handles a signal sent by a client.
func (h *Hub) Dispatch(profileID string, msg models.ClientMessage) {
	switch msg.Type {
	case models.ClientMessageTypeTyping:
		if msg.PeerID == "" || msg.PeerID == profileID {
			return
		}
		h.Publish(models.Event{
			Type:      models.EventTypeTyping,
			ProfileID: profileID,
			Channel:   models.PairKey(profileID, msg.PeerID),
		}, msg.PeerID)
	case models.ClientMessageTypeTouch:
		h.touch(profileID)
	}
}

// Publish delivers the event to every connection of the given profiles.
// Slow connections drop events instead of blocking the publisher.
func (h *Hub) Publish(event models.Event, recipients ...string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[string]bool, len(recipients))
	for _, id := range recipients {
		if seen[id] {
			continue
		}
		seen[id] = true
		for ch := range h.subscribers[id] {
			h.send(id, ch, event)
		}
	}
}

func (h *Hub) IsOnline(profileID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[profileID]) > 0
}

// Online returns the sorted ids of profiles with at least one live connection.
func (h *Hub) Online() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.onlineLocked()
}

func (h *Hub) onlineLocked() []string {
	online := make([]string, 0, len(h.subscribers))
	for id := range h.subscribers {
		online = append(online, id)
	}
	sort.Strings(online)
	return online
}

func (h *Hub) broadcastPresence() {
	h.mu.RLock()
	defer h.mu.RUnlock()

	event := models.Event{
		Type:   models.EventTypePresence,
		Online: h.onlineLocked(),
	}
	for id, conns := range h.subscribers {
		for ch := range conns {
			h.send(id, ch, event)
		}
	}
}

// send must be called with at least the read lock held,
// so the channel cannot be closed concurrently.
func (h *Hub) send(profileID string, ch chan models.Event, event models.Event) {
	select {
	case ch <- event:
	default:
		log.Warn().
			Str("profile_id", profileID).
			Str("event", string(event.Type)).
			Msg("subscriber is slow, event dropped")
	}
}

func (h *Hub) touch(profileID string) {
	if h.toucher == nil {
		return
	}
	if err := h.toucher.TouchProfile(profileID, h.now()); err != nil {
		log.Error().Err(err).Str("profile_id", profileID).Msg("failed to touch profile")
	}
}
