package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"duet/internal/models"

	"github.com/stretchr/testify/require"
)

const (
	testAdminAddr = "127.0.0.1:18888"
	testAPIAddr   = "127.0.0.1:18887"
)

func startServer(t *testing.T) {
	t.Helper()
	dir := t.TempDir()

	t.Setenv("DUET_DB", filepath.Join(dir, "integration.db"))
	t.Setenv("MEDIA_PATH", filepath.Join(dir, "media"))
	t.Setenv("ADMIN_ADDR", testAdminAddr)
	t.Setenv("API_ADDR", testAPIAddr)
	t.Setenv("BASE_URL", "http://"+testAPIAddr)
	t.Setenv("AUTH_SECRET", "very-secure-test-secret")
	t.Setenv("GATE_MODE", "code")
	t.Setenv("ACCESS_CODE", "letmein")
	t.Setenv("ADMIN_PASSWORD", "")
	t.Setenv("LOG_LEVEL", "error")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, nil, io.Discard)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				t.Errorf("Server error: %v", err)
			}
		case <-time.After(10 * time.Second):
			t.Error("server did not stop")
		}
	})

	waitForServer(t, fmt.Sprintf("http://%s/admin/profiles", testAdminAddr), 50)
}

func waitForServer(t *testing.T, url string, attempts int) {
	t.Helper()
	for range attempts {
		resp, err := http.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server at %s did not start", url)
}

type session struct {
	token   string
	profile models.Profile
}

func doJSON(t *testing.T, method, url, token string, body, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("token", token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	if out != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func enter(t *testing.T, alias string) session {
	t.Helper()
	var s models.Session
	status := doJSON(t, http.MethodPost, apiURL("/api/enter"), "", models.CodeRequest{Code: "letmein", Alias: alias}, &s)
	require.Equal(t, http.StatusOK, status)
	require.NotEmpty(t, s.Token)
	require.NotNil(t, s.Profile)
	return session{token: s.Token, profile: *s.Profile}
}

func apiURL(path string) string {
	return "http://" + testAPIAddr + path
}

func TestIntegration(t *testing.T) {
	startServer(t)

	// Root without a session redirects to the gate.
	{
		client := &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
		resp, err := client.Get(apiURL("/"))
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusFound, resp.StatusCode)
		location, err := resp.Location()
		require.NoError(t, err)
		require.Equal(t, "/login.html", location.Path)
	}

	for _, asset := range []string{"/login.html", "/gate.js", "/app.js", "/style.css"} {
		resp, err := http.Get(apiURL(asset))
		require.NoError(t, err)
		_ = resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode, asset)
	}

	var info models.GateInfo
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, apiURL("/api/gate"), "", nil, &info))
	require.Equal(t, models.GateModeCode, info.Mode)

	status := doJSON(t, http.MethodPost, apiURL("/api/enter"), "", models.CodeRequest{Code: "wrong", Alias: "Alice"}, nil)
	require.Equal(t, http.StatusUnauthorized, status)

	alice := enter(t, "Alice")
	bob := enter(t, "Bob")

	// The same alias maps back to the same profile.
	again := enter(t, "alice")
	require.Equal(t, alice.profile.ID, again.profile.ID)

	var peers []models.Profile
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, apiURL("/api/profiles"), alice.token, nil, &peers))
	require.Len(t, peers, 1)
	require.Equal(t, bob.profile.ID, peers[0].ID)

	messagesURL := apiURL("/api/conversations/" + bob.profile.ID + "/messages")

	var sent models.Message
	status = doJSON(t, http.MethodPost, messagesURL, alice.token, models.Draft{Content: "Hello Bob"}, &sent)
	require.Equal(t, http.StatusCreated, status)
	require.Equal(t, alice.profile.ID, sent.SenderID)
	require.False(t, sent.IsRead())

	var history []models.Message
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, apiURL("/api/conversations/"+alice.profile.ID+"/messages"), bob.token, nil, &history))
	require.Len(t, history, 1)
	require.Equal(t, "Hello Bob", history[0].Content)

	var updated []models.Message
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodPost, apiURL("/api/conversations/"+alice.profile.ID+"/read"), bob.token, nil, &updated))
	require.Len(t, updated, 1)

	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, messagesURL, alice.token, nil, &history))
	require.Len(t, history, 1)
	require.True(t, history[0].IsRead())

	var all []models.Profile
	require.Equal(t, http.StatusOK, doJSON(t, http.MethodGet, fmt.Sprintf("http://%s/admin/profiles", testAdminAddr), "", nil, &all))
	require.Len(t, all, 2)

	require.Equal(t, http.StatusOK, doJSON(t, http.MethodPost, apiURL("/api/logout"), alice.token, nil, nil))
	require.Equal(t, http.StatusUnauthorized, doJSON(t, http.MethodGet, apiURL("/api/me"), alice.token, nil, nil))
}
