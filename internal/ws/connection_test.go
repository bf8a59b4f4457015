package ws

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"duet/internal/models"
)

type mockWS struct {
	readCh      chan models.ClientMessage
	writeCh     chan any
	closeCh     chan struct{}
	closeOnce   sync.Once
	closed      bool
	errToReturn error
}

func newMockWS() *mockWS {
	return &mockWS{
		readCh:  make(chan models.ClientMessage, 10),
		writeCh: make(chan any, 10),
		closeCh: make(chan struct{}),
	}
}

func (m *mockWS) Close() error {
	m.closeOnce.Do(func() {
		m.closed = true
		close(m.closeCh)
	})
	return nil
}

func (m *mockWS) WriteJSON(v any) error {
	if m.errToReturn != nil {
		return m.errToReturn
	}
	m.writeCh <- v
	return nil
}

func (m *mockWS) ReadJSON(v any) error {
	if m.errToReturn != nil {
		return m.errToReturn
	}
	select {
	case msg, ok := <-m.readCh:
		if !ok {
			return errors.New("closed")
		}
		if ptr, ok := v.(*models.ClientMessage); ok {
			*ptr = msg
		}
		return nil
	case <-m.closeCh:
		return errors.New("connection closed")
	}
}

type mockHub struct {
	joinCh     chan string
	leaveCh    chan string
	dispatchCh chan models.ClientMessage
	// per profile channel
	profileChans map[string]chan models.Event
}

func newMockHub() *mockHub {
	return &mockHub{
		joinCh:       make(chan string, 10),
		leaveCh:      make(chan string, 10),
		dispatchCh:   make(chan models.ClientMessage, 10),
		profileChans: make(map[string]chan models.Event),
	}
}

func (m *mockHub) Join(profileID string) chan models.Event {
	m.joinCh <- profileID
	ch := make(chan models.Event, 10)
	m.profileChans[profileID] = ch
	return ch
}

func (m *mockHub) Leave(profileID string, ch chan models.Event) {
	m.leaveCh <- profileID
	if existing, ok := m.profileChans[profileID]; ok && existing == ch {
		close(ch)
		delete(m.profileChans, profileID)
	}
}

func (m *mockHub) Dispatch(profileID string, msg models.ClientMessage) {
	m.dispatchCh <- msg
}

func TestConnection_Lifecycle(t *testing.T) {
	hub := newMockHub()
	ws := newMockWS()
	profileID := "p1"

	conn := NewConnection(hub, ws, profileID)
	if conn == nil {
		t.Fatal("NewConnection returned nil")
	}

	select {
	case id := <-hub.joinCh:
		if id != profileID {
			t.Errorf("Expected Join with %s, got %s", profileID, id)
		}
	default:
		t.Error("Join not called on NewConnection")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error)
	go func() {
		done <- conn.Handle(ctx)
	}()

	// 1. Client -> Hub
	ws.readCh <- models.ClientMessage{Type: models.ClientMessageTypeTyping, PeerID: "p2"}

	select {
	case received := <-hub.dispatchCh:
		if received.PeerID != "p2" || received.Type != models.ClientMessageTypeTyping {
			t.Errorf("Hub received wrong signal: %v", received)
		}
	case <-time.After(1 * time.Second):
		t.Error("Hub did not receive dispatched signal")
	}

	// 2. Hub -> Client
	hub.profileChans[profileID] <- models.Event{
		Type:    models.EventTypeMessageInsert,
		Message: &models.Message{Content: "hi back"},
	}

	select {
	case received := <-ws.writeCh:
		event, ok := received.(models.Event)
		if !ok {
			t.Fatalf("WS received wrong type: %T", received)
		}
		if event.Message == nil || event.Message.Content != "hi back" {
			t.Errorf("WS received wrong content: %v", event)
		}
	case <-time.After(1 * time.Second):
		t.Error("WS did not receive server event")
	}

	// 3. Stop
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Handle returned error: %v", err)
		}
	case <-time.After(1 * time.Second):
		t.Error("Handle did not return after cancel")
	}

	select {
	case id := <-hub.leaveCh:
		if id != profileID {
			t.Errorf("Expected Leave with %s, got %s", profileID, id)
		}
	default:
		t.Error("Leave not called")
	}

	if !ws.closed {
		t.Error("WS Close not called")
	}
}

func TestConnection_WSError(t *testing.T) {
	hub := newMockHub()
	ws := newMockWS()

	conn := NewConnection(hub, ws, "p2")

	// Simulate ReadJSON error immediately
	ws.errToReturn = errors.New("read error")

	done := make(chan error)
	go func() {
		done <- conn.Handle(context.Background())
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Error("Expected error from Handle, got nil")
		}
	case <-time.After(1 * time.Second):
		t.Error("Handle did not return on error")
	}

	if !ws.closed {
		t.Error("WS Close not called")
	}
}
