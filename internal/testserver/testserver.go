// Package testserver runs a complete in-process duet server for tests.
package testserver

import (
	"context"
	"encoding/base64"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"duet/internal/api"
	"duet/internal/auth"
	"duet/internal/filestore"
	duethttp "duet/internal/http"
	"duet/internal/models"
	"duet/internal/notify"
	"duet/internal/storage"
	"duet/internal/ws"

	"github.com/stretchr/testify/require"
)

const AccessCode = "letmein"

type Server struct {
	URL   string
	Store *storage.BboltStorage
	Auth  *auth.Service
	Hub   *ws.Hub
}

// Start serves the API and the realtime endpoint on an httptest server
// until the test ends.
func Start(t testing.TB, mode models.GateMode) *Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	dir := t.TempDir()
	store, err := storage.NewBboltStorage(filepath.Join(dir, "duet.db"))
	require.NoError(t, err)

	authService, err := auth.NewService(ctx, auth.Config{
		Secret:      base64.StdEncoding.EncodeToString([]byte("test-secret")),
		TokenExpiry: time.Hour,
		Mode:        mode,
		AccessCode:  AccessCode,
		BaseURL:     "http://duet.test",
	}, store, notify.LogMailer{})
	require.NoError(t, err)

	files, err := filestore.NewLocalFileStore(filepath.Join(dir, "media"), "/media")
	require.NoError(t, err)

	hub := ws.NewHub(store)
	handlers := api.New(ctx, api.Config{MaxBytes: 1 << 20}, authService, store, hub, files, notify.NewWebPush(notify.PushConfig{}, store))
	apiServer := duethttp.NewAPIServer(duethttp.APIServerConfig{LocalMedia: true}, authService, handlers, ws.NewServer(ctx, authService, hub))

	srv := httptest.NewServer(apiServer.Handler())
	t.Cleanup(func() {
		cancel()
		srv.CloseClientConnections()
		srv.Close()
		_ = store.Close()
	})

	return &Server{URL: srv.URL, Store: store, Auth: authService, Hub: hub}
}
