package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"duet/internal/apperr"
	"duet/internal/filestore"
	"duet/internal/models"
	"duet/internal/storage"

	"github.com/h2non/filetype"
	"github.com/nfnt/resize"
	"github.com/rs/zerolog/log"
)

const ThumbnailSize = 320

var (
	ErrTooLarge    = apperr.New(http.StatusRequestEntityTooLarge, "File is too large")
	ErrEmptyUpload = apperr.BadRequest("File is empty")
)

// Recorders produce voice notes in these containers, which sniff as video.
var voiceContainers = map[string]string{
	"webm": "audio/webm",
	"ogg":  "audio/ogg",
	"mp4":  "audio/mp4",
	"m4a":  "audio/mp4",
}

type MetadataStore interface {
	UpsertFileMetadata(meta storage.FileMetadata) error
	GetFileMetadata(key string) (storage.FileMetadata, error)
}

type Uploader struct {
	files    filestore.FileStore
	meta     MetadataStore
	maxBytes int64
	now      func() time.Time

	mu         sync.Mutex
	lastMillis int64
}

func NewUploader(files filestore.FileStore, meta MetadataStore, maxBytes int64) *Uploader {
	return &Uploader{
		files:    files,
		meta:     meta,
		maxBytes: maxBytes,
		now:      time.Now,
	}
}

// Upload stores a media blob owned by profileID and returns a reference
// suitable for attaching to a message.
func (u *Uploader) Upload(ctx context.Context, profileID string, kind models.MediaKind, r io.Reader) (models.MediaRef, error) {
	data, err := io.ReadAll(io.LimitReader(r, u.maxBytes+1))
	if err != nil {
		return models.MediaRef{}, fmt.Errorf("failed to read upload: %w", err)
	}
	if int64(len(data)) > u.maxBytes {
		return models.MediaRef{}, ErrTooLarge
	}
	if len(data) == 0 {
		return models.MediaRef{}, ErrEmptyUpload
	}

	ext, mimeType, err := sniff(kind, data)
	if err != nil {
		return models.MediaRef{}, err
	}

	millis := u.nextMillis()
	key := fmt.Sprintf("%s/%d.%s", profileID, millis, ext)
	if err := u.store(ctx, profileID, kind, key, mimeType, data); err != nil {
		return models.MediaRef{}, err
	}

	ref := models.MediaRef{
		Kind:     kind,
		URL:      u.files.URL(key),
		MimeType: mimeType,
	}

	if kind == models.MediaKindImage {
		thumb, err := thumbnail(data)
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("thumbnail skipped")
			return ref, nil
		}
		thumbKey := fmt.Sprintf("%s/%d.thumb.jpg", profileID, millis)
		if err := u.store(ctx, profileID, kind, thumbKey, "image/jpeg", thumb); err != nil {
			return models.MediaRef{}, err
		}
		ref.ThumbnailURL = u.files.URL(thumbKey)
	}

	return ref, nil
}

// OwnedBy reports whether url points at an object uploaded by profileID.
func (u *Uploader) OwnedBy(profileID, url string) bool {
	key, ok := strings.CutPrefix(url, u.files.URL(""))
	if !ok {
		return false
	}
	key, err := filestore.CleanKey(key)
	if err != nil {
		return false
	}
	meta, err := u.meta.GetFileMetadata(key)
	if err != nil {
		return false
	}
	return meta.ProfileID == profileID
}

func (u *Uploader) store(ctx context.Context, profileID string, kind models.MediaKind, key, mimeType string, data []byte) error {
	if err := u.files.Save(ctx, key, bytes.NewReader(data), mimeType); err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}
	return u.meta.UpsertFileMetadata(storage.FileMetadata{
		Key:       key,
		Kind:      kind,
		MimeType:  mimeType,
		Size:      int64(len(data)),
		CreatedAt: u.now().UnixMilli(),
		ProfileID: profileID,
	})
}

// nextMillis keeps keys unique when uploads land in the same millisecond.
func (u *Uploader) nextMillis() int64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	ms := u.now().UnixMilli()
	if ms <= u.lastMillis {
		ms = u.lastMillis + 1
	}
	u.lastMillis = ms
	return ms
}

func sniff(kind models.MediaKind, data []byte) (string, string, error) {
	t, err := filetype.Match(data)
	if err != nil || t == filetype.Unknown {
		return "", "", apperr.BadRequest("Unsupported file type")
	}

	switch kind {
	case models.MediaKindImage:
		if !filetype.IsImage(data) {
			return "", "", apperr.BadRequest("File is not an image")
		}
		return t.Extension, t.MIME.Value, nil
	case models.MediaKindVoice:
		if filetype.IsAudio(data) {
			return t.Extension, t.MIME.Value, nil
		}
		if mime, ok := voiceContainers[t.Extension]; ok {
			return t.Extension, mime, nil
		}
		return "", "", apperr.BadRequest("File is not an audio recording")
	}
	return "", "", apperr.BadRequest("Unknown media kind %q", kind)
}

func thumbnail(data []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	thumb := resize.Thumbnail(ThumbnailSize, ThumbnailSize, img, resize.Lanczos3)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: 80}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
