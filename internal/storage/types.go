package storage

import (
	"encoding"
	"encoding/binary"
	"time"

	"duet/internal/auth"
	"duet/internal/models"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

// Timestamps are stored as unix milliseconds, 0 meaning "not set".

func toMillis(t *time.Time) int64 {
	if t == nil || t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) *time.Time {
	if ms == 0 {
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	return &t
}

type DBSession struct {
	TokenHash string `msgpack:"tokenHash"`
	ProfileID string `msgpack:"profileId"`
	ExpiresAt int64  `msgpack:"expiresAt"`
}

func (t *DBSession) Key() []byte {
	return []byte(t.TokenHash)
}

func (t *DBSession) MarshalBinary() (data []byte, err error) {
	type alias DBSession
	return msgpack.Marshal((*alias)(t))
}

func (t *DBSession) UnmarshalBinary(data []byte) error {
	type alias DBSession
	return msgpack.Unmarshal(data, (*alias)(t))
}

type DBProfile struct {
	ID           string `msgpack:"id"`
	IdentityRef  string `msgpack:"identityRef"`
	DisplayName  string `msgpack:"displayName"`
	LastActiveAt int64  `msgpack:"lastActiveAt"`
}

func newDBProfile(p models.Profile) *DBProfile {
	return &DBProfile{
		ID:           p.ID,
		IdentityRef:  p.IdentityRef,
		DisplayName:  p.DisplayName,
		LastActiveAt: toMillis(p.LastActiveAt),
	}
}

func (p *DBProfile) Model() models.Profile {
	return models.Profile{
		ID:           p.ID,
		IdentityRef:  p.IdentityRef,
		DisplayName:  p.DisplayName,
		LastActiveAt: fromMillis(p.LastActiveAt),
	}
}

func (p *DBProfile) Key() []byte {
	return []byte(p.ID)
}

func (p *DBProfile) MarshalBinary() (data []byte, err error) {
	type alias DBProfile
	return msgpack.Marshal((*alias)(p))
}

func (p *DBProfile) UnmarshalBinary(data []byte) error {
	type alias DBProfile
	return msgpack.Unmarshal(data, (*alias)(p))
}

type DBAccount struct {
	ID                  string `msgpack:"id"`
	Email               string `msgpack:"email"`
	PasswordHash        string `msgpack:"passwordHash"`
	ProfileID           string `msgpack:"profileId"`
	CreatedAt           int64  `msgpack:"createdAt"`
	FailedLoginAttempts int64  `msgpack:"failedLoginAttempts"`
	LastAttemptTime     int64  `msgpack:"lastAttemptTime"`
}

func newDBAccount(a auth.Account) *DBAccount {
	return &DBAccount{
		ID:                  a.ID,
		Email:               a.Email,
		PasswordHash:        a.PasswordHash,
		ProfileID:           a.ProfileID,
		CreatedAt:           toMillis(&a.CreatedAt),
		FailedLoginAttempts: a.FailedLoginAttempts,
		LastAttemptTime:     a.LastAttemptTime,
	}
}

func (a *DBAccount) Model() auth.Account {
	account := auth.Account{
		ID:                  a.ID,
		Email:               a.Email,
		PasswordHash:        a.PasswordHash,
		ProfileID:           a.ProfileID,
		FailedLoginAttempts: a.FailedLoginAttempts,
		LastAttemptTime:     a.LastAttemptTime,
	}
	if created := fromMillis(a.CreatedAt); created != nil {
		account.CreatedAt = *created
	}
	return account
}

func (a *DBAccount) Key() []byte {
	return []byte(a.ID)
}

func (a *DBAccount) MarshalBinary() (data []byte, err error) {
	type alias DBAccount
	return msgpack.Marshal((*alias)(a))
}

func (a *DBAccount) UnmarshalBinary(data []byte) error {
	type alias DBAccount
	return msgpack.Unmarshal(data, (*alias)(a))
}

type DBMessage struct {
	Seq          uint64 `msgpack:"seq"`
	ID           string `msgpack:"id"`
	Content      string `msgpack:"content"`
	ContentHTML  string `msgpack:"contentHtml"`
	SenderName   string `msgpack:"senderName"`
	SenderID     string `msgpack:"senderId"`
	RecipientID  string `msgpack:"recipientId"`
	CreatedAt    int64  `msgpack:"createdAt"`
	ImageURL     string `msgpack:"imageUrl"`
	ThumbnailURL string `msgpack:"thumbnailUrl"`
	VoiceURL     string `msgpack:"voiceUrl"`
	ReadAt       int64  `msgpack:"readAt"`
}

func newDBMessage(m models.Message) *DBMessage {
	return &DBMessage{
		ID:           m.ID,
		Content:      m.Content,
		ContentHTML:  m.ContentHTML,
		SenderName:   m.SenderName,
		SenderID:     m.SenderID,
		RecipientID:  m.RecipientID,
		CreatedAt:    toMillis(&m.CreatedAt),
		ImageURL:     m.ImageURL,
		ThumbnailURL: m.ThumbnailURL,
		VoiceURL:     m.VoiceURL,
		ReadAt:       toMillis(m.ReadAt),
	}
}

func (m *DBMessage) Model() models.Message {
	msg := models.Message{
		ID:           m.ID,
		Content:      m.Content,
		ContentHTML:  m.ContentHTML,
		SenderName:   m.SenderName,
		SenderID:     m.SenderID,
		RecipientID:  m.RecipientID,
		ImageURL:     m.ImageURL,
		ThumbnailURL: m.ThumbnailURL,
		VoiceURL:     m.VoiceURL,
		ReadAt:       fromMillis(m.ReadAt),
	}
	if created := fromMillis(m.CreatedAt); created != nil {
		msg.CreatedAt = *created
	}
	return msg
}

// Key orders messages inside a conversation bucket by insertion sequence.
func (m *DBMessage) Key() []byte {
	return seqKey(m.Seq)
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}

// DBMessageRef locates a message by id.
type DBMessageRef struct {
	ID      string `msgpack:"id"`
	PairKey string `msgpack:"pairKey"`
	Seq     uint64 `msgpack:"seq"`
}

func (r *DBMessageRef) Key() []byte {
	return []byte(r.ID)
}

func (r *DBMessageRef) MarshalBinary() (data []byte, err error) {
	type alias DBMessageRef
	return msgpack.Marshal((*alias)(r))
}

func (r *DBMessageRef) UnmarshalBinary(data []byte) error {
	type alias DBMessageRef
	return msgpack.Unmarshal(data, (*alias)(r))
}

type DBPushSubscription struct {
	ProfileID string `msgpack:"profileId"`
	Endpoint  string `msgpack:"endpoint"`
	P256dh    string `msgpack:"p256dh"`
	Auth      string `msgpack:"auth"`
}

func (s *DBPushSubscription) Key() []byte {
	return []byte(s.Endpoint)
}

func (s *DBPushSubscription) MarshalBinary() (data []byte, err error) {
	type alias DBPushSubscription
	return msgpack.Marshal((*alias)(s))
}

func (s *DBPushSubscription) UnmarshalBinary(data []byte) error {
	type alias DBPushSubscription
	return msgpack.Unmarshal(data, (*alias)(s))
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
