package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"time"

	"duet/internal/auth"
	"duet/internal/models"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

var (
	bucketProfiles          = []byte("profiles")
	bucketProfileIdentities = []byte("profile_identities")
	bucketAccounts          = []byte("accounts")
	bucketSessions          = []byte("sessions")
	bucketMessages          = []byte("messages")
	bucketMessageIDs        = []byte("message_ids")
	bucketMeta              = []byte("meta")
	bucketFiles             = []byte("files")
	bucketPush              = []byte("push_subscriptions")

	keyLastMessageAt = []byte("last_message_at")
)

var (
	ErrIdentityTaken  = errors.New("identity already has a profile")
	ErrUnknownProfile = errors.New("message references an unknown profile")
	ErrSelfMessage    = errors.New("sender and recipient must differ")
)

type BboltStorage struct {
	db *bbolt.DB
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{
			bucketProfiles,
			bucketProfileIdentities,
			bucketAccounts,
			bucketSessions,
			bucketMessages,
			bucketMessageIDs,
			bucketMeta,
			bucketFiles,
			bucketPush,
		} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// CreateProfile stores a new profile and binds it to its identity reference.
func (s *BboltStorage) CreateProfile(profile models.Profile) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		identities := tx.Bucket(bucketProfileIdentities)
		if identities.Get([]byte(profile.IdentityRef)) != nil {
			return ErrIdentityTaken
		}
		dbProfile := newDBProfile(profile)
		data, err := dbProfile.MarshalBinary()
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketProfiles).Put(dbProfile.Key(), data); err != nil {
			return err
		}
		return identities.Put([]byte(profile.IdentityRef), dbProfile.Key())
	})
}

func getProfile(tx *bbolt.Tx, id string) (*DBProfile, error) {
	data := tx.Bucket(bucketProfiles).Get([]byte(id))
	if data == nil {
		return nil, models.ErrNotFound
	}
	var p DBProfile
	if err := p.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *BboltStorage) GetProfile(id string) (models.Profile, error) {
	var profile models.Profile
	err := s.db.View(func(tx *bbolt.Tx) error {
		p, err := getProfile(tx, id)
		if err != nil {
			return err
		}
		profile = p.Model()
		return nil
	})
	return profile, err
}

func (s *BboltStorage) GetProfileByIdentity(identityRef string) (models.Profile, error) {
	var profile models.Profile
	err := s.db.View(func(tx *bbolt.Tx) error {
		id := tx.Bucket(bucketProfileIdentities).Get([]byte(identityRef))
		if id == nil {
			return models.ErrNotFound
		}
		p, err := getProfile(tx, string(id))
		if err != nil {
			return err
		}
		profile = p.Model()
		return nil
	})
	return profile, err
}

// ListProfiles returns all profiles ordered by display name.
func (s *BboltStorage) ListProfiles() ([]models.Profile, error) {
	var profiles []models.Profile
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketProfiles).ForEach(func(k, v []byte) error {
			var p DBProfile
			if err := p.UnmarshalBinary(v); err != nil {
				return err
			}
			profiles = append(profiles, p.Model())
			return nil
		})
	})
	sort.Slice(profiles, func(i, j int) bool {
		return profiles[i].DisplayName < profiles[j].DisplayName
	})
	return profiles, err
}

// TouchProfile records liveness of the profile owner.
func (s *BboltStorage) TouchProfile(id string, at time.Time) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		p, err := getProfile(tx, id)
		if err != nil {
			return err
		}
		p.LastActiveAt = at.UnixMilli()
		data, err := p.MarshalBinary()
		if err != nil {
			return err
		}
		return tx.Bucket(bucketProfiles).Put(p.Key(), data)
	})
}

// UpsertAccount stores new or updated account credentials.
func (s *BboltStorage) UpsertAccount(account auth.Account) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		dbAccount := newDBAccount(account)
		data, err := dbAccount.MarshalBinary()
		if err != nil {
			return err
		}
		return tx.Bucket(bucketAccounts).Put(dbAccount.Key(), data)
	})
}

// ListAccounts returns all accounts stored in the database.
func (s *BboltStorage) ListAccounts() ([]auth.Account, error) {
	var accounts []auth.Account
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketAccounts).ForEach(func(k, v []byte) error {
			var dbAccount DBAccount
			if err := dbAccount.UnmarshalBinary(v); err != nil {
				return err
			}
			accounts = append(accounts, dbAccount.Model())
			return nil
		})
	})
	return accounts, err
}

func (s *BboltStorage) UpsertSession(tokenHash string, session auth.SessionRecord) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		dbSession := &DBSession{
			TokenHash: tokenHash,
			ProfileID: session.ProfileID,
			ExpiresAt: session.ExpiresAt.UnixMilli(),
		}
		data, err := dbSession.MarshalBinary()
		if err != nil {
			return err
		}
		return tx.Bucket(bucketSessions).Put(dbSession.Key(), data)
	})
}

func (s *BboltStorage) DeleteSession(tokenHash string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSessions).Delete([]byte(tokenHash))
	})
}

// DeleteSessionsForProfile removes every session of the profile and returns the removed hashes.
func (s *BboltStorage) DeleteSessionsForProfile(profileID string) ([]string, error) {
	var removed []string
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		err := b.ForEach(func(k, v []byte) error {
			var dbSession DBSession
			if err := dbSession.UnmarshalBinary(v); err != nil {
				return err
			}
			if dbSession.ProfileID == profileID {
				removed = append(removed, string(k))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, hash := range removed {
			if err := b.Delete([]byte(hash)); err != nil {
				return err
			}
		}
		return nil
	})
	return removed, err
}

func (s *BboltStorage) ListSessions() (map[string]auth.SessionRecord, error) {
	sessions := make(map[string]auth.SessionRecord)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSessions).ForEach(func(k, v []byte) error {
			var dbSession DBSession
			if err := dbSession.UnmarshalBinary(v); err != nil {
				return err
			}
			sessions[dbSession.TokenHash] = auth.SessionRecord{
				ProfileID: dbSession.ProfileID,
				ExpiresAt: time.UnixMilli(dbSession.ExpiresAt),
			}
			return nil
		})
	})
	return sessions, err
}

// InsertMessage appends a message to its conversation. The store assigns the id
// (when missing) and a creation time that is strictly later than any earlier insert.
func (s *BboltStorage) InsertMessage(message models.Message, now time.Time) (models.Message, error) {
	if message.SenderID == message.RecipientID {
		return models.Message{}, ErrSelfMessage
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := getProfile(tx, message.SenderID); err != nil {
			return fmt.Errorf("sender %s: %w", message.SenderID, ErrUnknownProfile)
		}
		if _, err := getProfile(tx, message.RecipientID); err != nil {
			return fmt.Errorf("recipient %s: %w", message.RecipientID, ErrUnknownProfile)
		}

		if message.ID == "" {
			message.ID = uuid.NewString()
		}

		meta := tx.Bucket(bucketMeta)
		created := now.UnixMilli()
		if last := meta.Get(keyLastMessageAt); len(last) == 8 {
			if prev := int64(binary.BigEndian.Uint64(last)); created <= prev {
				created = prev + 1
			}
		}
		if err := meta.Put(keyLastMessageAt, seqKey(uint64(created))); err != nil {
			return err
		}
		message.CreatedAt = time.UnixMilli(created).UTC()
		message.ReadAt = nil

		pairKey := models.PairKey(message.SenderID, message.RecipientID)
		conversation, err := tx.Bucket(bucketMessages).CreateBucketIfNotExists([]byte(pairKey))
		if err != nil {
			return fmt.Errorf("failed to create conversation bucket: %w", err)
		}
		seq, err := conversation.NextSequence()
		if err != nil {
			return err
		}

		dbMessage := newDBMessage(message)
		dbMessage.Seq = seq
		data, err := dbMessage.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		if err := conversation.Put(dbMessage.Key(), data); err != nil {
			return fmt.Errorf("failed to put message: %w", err)
		}

		ref := &DBMessageRef{ID: message.ID, PairKey: pairKey, Seq: seq}
		refData, err := ref.MarshalBinary()
		if err != nil {
			return err
		}
		return tx.Bucket(bucketMessageIDs).Put(ref.Key(), refData)
	})
	if err != nil {
		return models.Message{}, err
	}
	return message, nil
}

// ListConversation returns every message exchanged between a and b, oldest first.
func (s *BboltStorage) ListConversation(a, b string) ([]models.Message, error) {
	messages := []models.Message{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		conversation := tx.Bucket(bucketMessages).Bucket([]byte(models.PairKey(a, b)))
		if conversation == nil {
			return nil
		}
		return conversation.ForEach(func(k, v []byte) error {
			if v == nil {
				return nil
			}
			var dbMessage DBMessage
			if err := dbMessage.UnmarshalBinary(v); err != nil {
				return err
			}
			messages = append(messages, dbMessage.Model())
			return nil
		})
	})
	return messages, err
}

func (s *BboltStorage) GetMessage(id string) (models.Message, error) {
	var message models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		refData := tx.Bucket(bucketMessageIDs).Get([]byte(id))
		if refData == nil {
			return models.ErrNotFound
		}
		var ref DBMessageRef
		if err := ref.UnmarshalBinary(refData); err != nil {
			return err
		}
		conversation := tx.Bucket(bucketMessages).Bucket([]byte(ref.PairKey))
		if conversation == nil {
			return models.ErrNotFound
		}
		data := conversation.Get(seqKey(ref.Seq))
		if data == nil {
			return models.ErrNotFound
		}
		var dbMessage DBMessage
		if err := dbMessage.UnmarshalBinary(data); err != nil {
			return err
		}
		message = dbMessage.Model()
		return nil
	})
	return message, err
}

// MarkRead sets ReadAt on every unread message sent by peerID to readerID
// and returns the messages that changed. Already read messages are never touched.
func (s *BboltStorage) MarkRead(readerID, peerID string, at time.Time) ([]models.Message, error) {
	var updated []models.Message
	err := s.db.Update(func(tx *bbolt.Tx) error {
		conversation := tx.Bucket(bucketMessages).Bucket([]byte(models.PairKey(readerID, peerID)))
		if conversation == nil {
			return nil
		}

		type change struct {
			key  []byte
			data []byte
		}
		var changes []change

		err := conversation.ForEach(func(k, v []byte) error {
			if v == nil {
				return nil
			}
			var dbMessage DBMessage
			if err := dbMessage.UnmarshalBinary(v); err != nil {
				return err
			}
			if dbMessage.SenderID != peerID || dbMessage.RecipientID != readerID || dbMessage.ReadAt != 0 {
				return nil
			}
			dbMessage.ReadAt = at.UnixMilli()
			data, err := dbMessage.MarshalBinary()
			if err != nil {
				return err
			}
			changes = append(changes, change{key: append([]byte(nil), k...), data: data})
			updated = append(updated, dbMessage.Model())
			return nil
		})
		if err != nil {
			return err
		}

		for _, c := range changes {
			if err := conversation.Put(c.key, c.data); err != nil {
				return err
			}
		}
		return nil
	})
	return updated, err
}

func (s *BboltStorage) UpsertPushSubscription(profileID string, sub models.PushSubscription) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket(bucketPush).CreateBucketIfNotExists([]byte(profileID))
		if err != nil {
			return err
		}
		dbSub := &DBPushSubscription{
			ProfileID: profileID,
			Endpoint:  sub.Endpoint,
			P256dh:    sub.Keys.P256dh,
			Auth:      sub.Keys.Auth,
		}
		data, err := dbSub.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbSub.Key(), data)
	})
}

func (s *BboltStorage) ListPushSubscriptions(profileID string) ([]models.PushSubscription, error) {
	var subs []models.PushSubscription
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketPush).Bucket([]byte(profileID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var dbSub DBPushSubscription
			if err := dbSub.UnmarshalBinary(v); err != nil {
				return err
			}
			var sub models.PushSubscription
			sub.Endpoint = dbSub.Endpoint
			sub.Keys.P256dh = dbSub.P256dh
			sub.Keys.Auth = dbSub.Auth
			subs = append(subs, sub)
			return nil
		})
	})
	return subs, err
}

func (s *BboltStorage) DeletePushSubscription(profileID, endpoint string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketPush).Bucket([]byte(profileID))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(endpoint))
	})
}
