package client

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"duet/internal/models"

	"github.com/gorilla/websocket"
)

const streamBuffer = 100

// Stream is a live realtime connection. Events is closed when the
// connection ends; Err then reports why.
type Stream struct {
	conn   *websocket.Conn
	events chan models.Event

	writeMu sync.Mutex

	mu  sync.Mutex
	err error

	closeOnce sync.Once
	done      chan struct{}
}

// Stream opens the realtime connection. It is closed when ctx is done.
func (c *Client) Stream(ctx context.Context) (*Stream, error) {
	u := *c.baseURL
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path += "/api/realtime"

	header := http.Header{}
	if token := c.Token(); token != "" {
		header.Set("token", token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("realtime connection rejected with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to open realtime connection: %w", err)
	}

	s := &Stream{
		conn:   conn,
		events: make(chan models.Event, streamBuffer),
		done:   make(chan struct{}),
	}
	go s.readLoop()
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()
	return s, nil
}

func (s *Stream) readLoop() {
	defer close(s.events)
	// Runs after setErr, so a dropped connection keeps its error.
	defer s.Close()
	for {
		var event models.Event
		if err := s.conn.ReadJSON(&event); err != nil {
			s.setErr(err)
			return
		}
		select {
		case s.events <- event:
		case <-s.done:
			return
		}
	}
}

func (s *Stream) Events() <-chan models.Event {
	return s.events
}

func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Stream) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		// Closed on purpose.
		return
	default:
	}
	if s.err == nil {
		s.err = err
	}
}

// Typing tells the peer that the user is composing a message.
func (s *Stream) Typing(peerID string) error {
	return s.write(models.ClientMessage{Type: models.ClientMessageTypeTyping, PeerID: peerID})
}

// Touch refreshes the profile's last activity time.
func (s *Stream) Touch() error {
	return s.write(models.ClientMessage{Type: models.ClientMessageTypeTouch})
}

func (s *Stream) write(msg models.ClientMessage) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(msg)
}

func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		close(s.done)
		s.mu.Unlock()
		_ = s.conn.Close()
	})
}
