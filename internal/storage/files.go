package storage

import (
	"fmt"

	"duet/internal/models"

	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"
)

// FileMetadata describes an object stored in the media bucket.
// Key is the object path, "<profile_id>/<name>".
type FileMetadata struct {
	Key       string           `msgpack:"key"`
	Kind      models.MediaKind `msgpack:"kind"`
	MimeType  string           `msgpack:"mimeType"`
	Size      int64            `msgpack:"size"`
	CreatedAt int64            `msgpack:"createdAt"`
	ProfileID string           `msgpack:"profileId"`
}

func (f *FileMetadata) MarshalBinary() (data []byte, err error) {
	type alias FileMetadata
	return msgpack.Marshal((*alias)(f))
}

func (f *FileMetadata) UnmarshalBinary(data []byte) error {
	type alias FileMetadata
	return msgpack.Unmarshal(data, (*alias)(f))
}

func (s *BboltStorage) UpsertFileMetadata(meta FileMetadata) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketFiles)
		data, err := meta.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal file metadata: %w", err)
		}
		return b.Put([]byte(meta.Key), data)
	})
}

func (s *BboltStorage) GetFileMetadata(key string) (FileMetadata, error) {
	var meta FileMetadata
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketFiles)
		data := b.Get([]byte(key))
		if data == nil {
			return fmt.Errorf("file metadata for %s: %w", key, models.ErrNotFound)
		}
		return meta.UnmarshalBinary(data)
	})
	return meta, err
}
