package filestore

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/require"
)

func TestCleanKey(t *testing.T) {
	for _, key := range []string{"p1/123.png", "p1/123.thumb.jpg"} {
		got, err := CleanKey(key)
		require.NoError(t, err)
		require.Equal(t, key, got)
	}
	for _, key := range []string{"", "/etc/passwd", "../x", "p1/../../x", "p1//x", "..", "p1\\x"} {
		_, err := CleanKey(key)
		require.ErrorIs(t, err, ErrInvalidKey, key)
	}
}

func TestLocalFileStore(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalFileStore(t.TempDir(), "/media/")
	require.NoError(t, err)

	require.NoError(t, store.Save(ctx, "p1/1.png", strings.NewReader("first"), "image/png"))
	// Saving again keeps the original content.
	require.NoError(t, store.Save(ctx, "p1/1.png", strings.NewReader("second"), "image/png"))

	rc, err := store.Open(ctx, "p1/1.png")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.Equal(t, "first", string(data))

	require.Equal(t, "/media/p1/1.png", store.URL("p1/1.png"))

	_, err = store.Open(ctx, "p1/missing.png")
	require.Error(t, err)
	require.ErrorIs(t, store.Save(ctx, "../escape", strings.NewReader("x"), ""), ErrInvalidKey)
}

type fakeS3 struct {
	objects map[string][]byte
	types   map[string]string
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = data
	f.types[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func TestS3FileStore(t *testing.T) {
	ctx := context.Background()
	fake := &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
	store := newS3FileStore(fake, "chat-media", "https://cdn.example.com/")

	require.NoError(t, store.Save(ctx, "p1/2.webm", strings.NewReader("voice"), "audio/webm"))
	require.NoError(t, store.Save(ctx, "p1/2.webm", strings.NewReader("other"), "audio/webm"))
	require.Equal(t, "voice", string(fake.objects["p1/2.webm"]))
	require.Equal(t, "audio/webm", fake.types["p1/2.webm"])

	rc, err := store.Open(ctx, "p1/2.webm")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "voice", string(data))

	require.Equal(t, "https://cdn.example.com/p1/2.webm", store.URL("p1/2.webm"))

	_, err = store.Open(ctx, "p1/none")
	require.Error(t, err)
}
