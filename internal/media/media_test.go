package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"strings"
	"testing"
	"time"

	"duet/internal/apperr"
	"duet/internal/filestore"
	"duet/internal/models"
	"duet/internal/storage"

	"github.com/stretchr/testify/require"
)

// 1x1 PNG
const pngBase64 = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNkYAAAAAYAAjCB0C8AAAAASUVORK5CYII="

type metaRecorder struct {
	items []storage.FileMetadata
}

func (m *metaRecorder) UpsertFileMetadata(meta storage.FileMetadata) error {
	m.items = append(m.items, meta)
	return nil
}

func (m *metaRecorder) GetFileMetadata(key string) (storage.FileMetadata, error) {
	for _, item := range m.items {
		if item.Key == key {
			return item, nil
		}
	}
	return storage.FileMetadata{}, models.ErrNotFound
}

func wavHeader() []byte {
	b := make([]byte, 44)
	copy(b, "RIFF")
	copy(b[8:], "WAVEfmt ")
	return b
}

func newTestUploader(t *testing.T, maxBytes int64) (*Uploader, *filestore.LocalFileStore, *metaRecorder) {
	t.Helper()
	files, err := filestore.NewLocalFileStore(t.TempDir(), "/media")
	require.NoError(t, err)
	meta := &metaRecorder{}
	u := NewUploader(files, meta, maxBytes)
	u.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return u, files, meta
}

func TestUploadImage(t *testing.T) {
	u, files, meta := newTestUploader(t, 1<<20)
	png, err := base64.StdEncoding.DecodeString(pngBase64)
	require.NoError(t, err)

	ref, err := u.Upload(context.Background(), "p1", models.MediaKindImage, bytes.NewReader(png))
	require.NoError(t, err)
	require.Equal(t, models.MediaKindImage, ref.Kind)
	require.Equal(t, "image/png", ref.MimeType)
	require.Equal(t, "/media/p1/1700000000000.png", ref.URL)
	require.Equal(t, "/media/p1/1700000000000.thumb.jpg", ref.ThumbnailURL)

	rc, err := files.Open(context.Background(), "p1/1700000000000.png")
	require.NoError(t, err)
	stored, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.Equal(t, png, stored)

	require.Len(t, meta.items, 2)
	require.Equal(t, "p1", meta.items[0].ProfileID)
	require.Equal(t, int64(len(png)), meta.items[0].Size)

	// A second upload in the same millisecond gets its own key.
	ref2, err := u.Upload(context.Background(), "p1", models.MediaKindImage, bytes.NewReader(png))
	require.NoError(t, err)
	require.Equal(t, "/media/p1/1700000000001.png", ref2.URL)

	require.True(t, u.OwnedBy("p1", ref.URL))
	require.True(t, u.OwnedBy("p1", ref.ThumbnailURL))
	require.False(t, u.OwnedBy("p2", ref.URL))
}

func TestOwnedBy(t *testing.T) {
	u, _, _ := newTestUploader(t, 1<<20)
	png, err := base64.StdEncoding.DecodeString(pngBase64)
	require.NoError(t, err)

	ref, err := u.Upload(context.Background(), "p1", models.MediaKindImage, bytes.NewReader(png))
	require.NoError(t, err)

	for _, url := range []string{
		// another profile's upload reached through the own prefix
		"/media/p2/../p1/1700000000000.png",
		// never uploaded
		"/media/p2/1700000000000.png",
		"/media/p2/",
		"/media/",
		"https://elsewhere.example.com/media/p2/x.png",
		"",
	} {
		require.False(t, u.OwnedBy("p2", url), url)
	}
	require.False(t, u.OwnedBy("p1", "/media/p1/../p1/1700000000000.png"))
	require.True(t, u.OwnedBy("p1", ref.URL))
}

func TestUploadVoice(t *testing.T) {
	u, _, _ := newTestUploader(t, 1<<20)

	ref, err := u.Upload(context.Background(), "p1", models.MediaKindVoice, bytes.NewReader(wavHeader()))
	require.NoError(t, err)
	require.Equal(t, models.MediaKindVoice, ref.Kind)
	require.True(t, strings.HasSuffix(ref.URL, ".wav"))
	require.Empty(t, ref.ThumbnailURL)

	png, err := base64.StdEncoding.DecodeString(pngBase64)
	require.NoError(t, err)
	_, err = u.Upload(context.Background(), "p1", models.MediaKindVoice, bytes.NewReader(png))
	require.EqualError(t, err, "File is not an audio recording")
}

func TestUploadRejects(t *testing.T) {
	u, _, meta := newTestUploader(t, 16)

	_, err := u.Upload(context.Background(), "p1", models.MediaKindImage, strings.NewReader("just some text"))
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, 400, appErr.Code)

	_, err = u.Upload(context.Background(), "p1", models.MediaKindVoice, bytes.NewReader(wavHeader()))
	require.ErrorIs(t, err, ErrTooLarge)

	_, err = u.Upload(context.Background(), "p1", models.MediaKindImage, strings.NewReader(""))
	require.ErrorIs(t, err, ErrEmptyUpload)

	require.Empty(t, meta.items)
}
