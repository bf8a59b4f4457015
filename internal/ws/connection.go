package ws

import (
	"context"
	"errors"
	"sync"

	"duet/internal/models"
)

type wsConnection interface {
	Close() error
	WriteJSON(v any) error
	ReadJSON(v any) error
}

type messageHub interface {
	Join(profileID string) chan models.Event
	Leave(profileID string, ch chan models.Event)
	Dispatch(profileID string, msg models.ClientMessage)
}

// Connection pumps signals from one websocket into the hub
// and events from the hub back to the websocket.
type Connection struct {
	ws         wsConnection
	hub        messageHub
	profileID  string
	fromClient chan models.ClientMessage
	fromServer chan models.Event
	errorCh    chan error
}

func NewConnection(
	hub messageHub,
	ws wsConnection,
	profileID string,
) *Connection {
	return &Connection{
		ws:         ws,
		hub:        hub,
		profileID:  profileID,
		fromClient: make(chan models.ClientMessage),
		fromServer: hub.Join(profileID),
		errorCh:    make(chan error, 2),
	}
}

func (c *Connection) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		close(c.errorCh)
		c.hub.Leave(c.profileID, c.fromServer)
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.pumpMessages(ctx)
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.mainLoop(ctx)
		cancel()
	})

	var err error
	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
	}
	_ = c.ws.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func (c *Connection) pumpMessages(ctx context.Context) error {
	for {
		var msg models.ClientMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			return err
		}
		select {
		case c.fromClient <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connection) mainLoop(ctx context.Context) error {
	for {
		select {
		case msg := <-c.fromClient:
			c.hub.Dispatch(c.profileID, msg)
		case event, ok := <-c.fromServer:
			if !ok {
				return nil
			}
			if err := c.ws.WriteJSON(event); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}
