// Package conversation keeps the client-side copy of one open conversation
// in sync with the server's change feed.
package conversation

import (
	"sort"
	"sync"

	"duet/internal/models"
)

type ChangeKind int

const (
	Inserted ChangeKind = iota
	Updated
)

type Change struct {
	Kind    ChangeKind
	Message models.Message
}

type Conversation struct {
	SelfID string
	PeerID string

	messages []models.Message
	// message id -> index in messages
	index map[string]int

	ChangeCallback func(change Change)

	mux sync.RWMutex
}

type Config struct {
	SelfID         string
	PeerID         string
	History        []models.Message
	ChangeCallback func(change Change)
}

func New(config Config) *Conversation {
	c := &Conversation{
		SelfID:         config.SelfID,
		PeerID:         config.PeerID,
		index:          make(map[string]int),
		ChangeCallback: config.ChangeCallback,
	}
	for _, m := range config.History {
		c.upsert(m)
	}
	return c
}

// Channel is the name of the realtime channel the pair shares.
func (c *Conversation) Channel() string {
	return models.PairKey(c.SelfID, c.PeerID)
}

// Owns reports whether the message belongs to this conversation.
func (c *Conversation) Owns(m models.Message) bool {
	return m.Between(c.SelfID, c.PeerID)
}

// Add appends a message the user just sent. When its change event
// arrived first the message is already there and nothing happens.
func (c *Conversation) Add(m models.Message) bool {
	if !c.Owns(m) {
		return false
	}
	c.mux.Lock()
	changed, _ := c.upsert(m)
	c.mux.Unlock()
	return changed
}

// Merge folds a history snapshot into a conversation that may already hold
// rows from the change feed. Rows are matched by id and the callback is not
// called.
func (c *Conversation) Merge(history []models.Message) {
	c.mux.Lock()
	defer c.mux.Unlock()
	for _, m := range history {
		if c.Owns(m) {
			c.upsert(m)
		}
	}
}

// Apply folds a change event into the conversation. Events of other pairs
// and events that change nothing are ignored.
func (c *Conversation) Apply(event models.Event) bool {
	if event.Message == nil || !c.Owns(*event.Message) {
		return false
	}

	var kind ChangeKind
	switch event.Type {
	case models.EventTypeMessageInsert:
		kind = Inserted
	case models.EventTypeMessageUpdate:
		kind = Updated
	default:
		return false
	}

	c.mux.Lock()
	changed, inserted := c.upsert(*event.Message)
	c.mux.Unlock()

	if !changed {
		return false
	}
	if inserted {
		kind = Inserted
	}
	if c.ChangeCallback != nil {
		c.ChangeCallback(Change{Kind: kind, Message: *event.Message})
	}
	return true
}

// upsert must be called with the write lock held.
func (c *Conversation) upsert(m models.Message) (changed, inserted bool) {
	i, ok := c.index[m.ID]
	if ok {
		old := c.messages[i]
		if old.ReadAt != nil {
			// read_at never goes back to unset, and never moves.
			m.ReadAt = old.ReadAt
		}
		if sameState(old, m) {
			return false, false
		}
		c.messages[i] = m
		return true, false
	}

	// History arrives ordered and the feed follows insertion order, so the
	// new row is almost always the last one.
	pos := sort.Search(len(c.messages), func(i int) bool {
		return c.messages[i].CreatedAt.After(m.CreatedAt)
	})
	c.messages = append(c.messages, models.Message{})
	copy(c.messages[pos+1:], c.messages[pos:])
	c.messages[pos] = m
	for j := pos; j < len(c.messages); j++ {
		c.index[c.messages[j].ID] = j
	}
	return true, true
}

func sameState(a, b models.Message) bool {
	if (a.ReadAt == nil) != (b.ReadAt == nil) {
		return false
	}
	return a.ReadAt == nil || a.ReadAt.Equal(*b.ReadAt)
}

func (c *Conversation) Messages() []models.Message {
	c.mux.RLock()
	defer c.mux.RUnlock()

	result := make([]models.Message, len(c.messages))
	copy(result, c.messages)
	return result
}

func (c *Conversation) Len() int {
	c.mux.RLock()
	defer c.mux.RUnlock()
	return len(c.messages)
}

// Unread counts messages from the peer the user has not read yet.
func (c *Conversation) Unread() int {
	c.mux.RLock()
	defer c.mux.RUnlock()

	n := 0
	for _, m := range c.messages {
		if m.SenderID == c.PeerID && !m.IsRead() {
			n++
		}
	}
	return n
}
