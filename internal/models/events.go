package models

// ClientMessage represents a message sent from the client over the realtime connection.
type ClientMessage struct {
	Type   ClientMessageType `json:"type"`
	PeerID string            `json:"peerId,omitempty"`
}

type ClientMessageType string

const (
	ClientMessageTypeTyping ClientMessageType = "typing"
	ClientMessageTypeTouch  ClientMessageType = "touch"
)

// Event represents a realtime event delivered to the client.
type Event struct {
	Type      EventType `json:"type"`
	Message   *Message  `json:"message,omitempty"`
	Online    []string  `json:"online,omitempty"`
	ProfileID string    `json:"profileId,omitempty"`
	Channel   string    `json:"channel,omitempty"`
}

type EventType string

const (
	EventTypeMessageInsert EventType = "message.insert"
	EventTypeMessageUpdate EventType = "message.update"
	EventTypePresence      EventType = "presence"
	EventTypeTyping        EventType = "typing"
)

// PushSubscription is a browser web push endpoint registered by a profile.
type PushSubscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}
