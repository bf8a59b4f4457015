package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
)

// Profile is the application-level user record. There is exactly one
// profile per identity (an alias in code mode, an account otherwise).
type Profile struct {
	ID           string     `json:"id"`
	IdentityRef  string     `json:"identityRef"`
	DisplayName  string     `json:"displayName"`
	LastActiveAt *time.Time `json:"lastActiveAt,omitempty"`
	Online       bool       `json:"online"`
}

// Message is a single chat message between two profiles.
// Only ReadAt may change after creation, and only once.
type Message struct {
	ID           string     `json:"id"`
	Content      string     `json:"content"`
	ContentHTML  string     `json:"contentHtml,omitempty"`
	SenderName   string     `json:"senderName"`
	SenderID     string     `json:"senderId"`
	RecipientID  string     `json:"recipientId"`
	CreatedAt    time.Time  `json:"createdAt"`
	ImageURL     string     `json:"imageUrl,omitempty"`
	ThumbnailURL string     `json:"thumbnailUrl,omitempty"`
	VoiceURL     string     `json:"voiceUrl,omitempty"`
	ReadAt       *time.Time `json:"readAt,omitempty"`
}

func (m Message) IsRead() bool {
	return m.ReadAt != nil
}

// Between reports whether the message belongs to the unordered pair {a, b}.
func (m Message) Between(a, b string) bool {
	return (m.SenderID == a && m.RecipientID == b) || (m.SenderID == b && m.RecipientID == a)
}

// Draft is what a client submits to create a message.
// Exactly one of the fields is normally set, text may accompany media.
type Draft struct {
	Content      string `json:"content"`
	ImageURL     string `json:"imageUrl,omitempty"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
	VoiceURL     string `json:"voiceUrl,omitempty"`
}

func (d Draft) Empty() bool {
	return strings.TrimSpace(d.Content) == "" && d.ImageURL == "" && d.VoiceURL == ""
}

type MediaKind string

const (
	MediaKindImage MediaKind = "image"
	MediaKindVoice MediaKind = "voice"
)

func ParseMediaKind(s string) (MediaKind, error) {
	switch MediaKind(s) {
	case MediaKindImage, MediaKindVoice:
		return MediaKind(s), nil
	}
	return "", fmt.Errorf("unknown media kind %q", s)
}

// MediaRef is returned by the uploader and references a stored object.
type MediaRef struct {
	Kind         MediaKind `json:"kind"`
	URL          string    `json:"url"`
	ThumbnailURL string    `json:"thumbnailUrl,omitempty"`
	MimeType     string    `json:"mimeType"`
}

// PairKey returns the deterministic channel name for a pair of profiles.
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return fmt.Sprintf("dm_%s_%s", a, b)
}

// PairMembers splits a pair key back into its two profile ids.
func PairMembers(key string) (string, string, bool) {
	if !strings.HasPrefix(key, "dm_") {
		return "", "", false
	}
	parts := strings.Split(key[3:], "_")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
