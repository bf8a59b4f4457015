package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"duet/internal/models"
	"duet/internal/testserver"

	"github.com/stretchr/testify/require"
)

const pngBase64 = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNkYAAAAAYAAjCB0C8AAAAASUVORK5CYII="

type cli struct {
	t       *testing.T
	server  string
	session string
}

func newCLI(t *testing.T, server, name string) *cli {
	return &cli{t: t, server: server, session: filepath.Join(t.TempDir(), name+".session")}
}

func (c *cli) run(stdin string, args ...string) (string, error) {
	c.t.Helper()
	cmd := newRootCmd()
	cmd.SetArgs(append([]string{"--server", c.server, "--session-file", c.session}, args...))
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (c *cli) mustRun(args ...string) string {
	c.t.Helper()
	out, err := c.run("", args...)
	require.NoError(c.t, err, out)
	return out
}

func TestDuetctlCodeMode(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	srv := testserver.Start(t, models.GateModeCode)

	alice := newCLI(t, srv.URL, "alice")
	bob := newCLI(t, srv.URL, "bob")

	require.Contains(t, alice.mustRun("gate"), "code")

	_, err := alice.run("", "enter", "--alias", "Alice", "--code", "wrong")
	require.EqualError(t, err, "Invalid access code")

	_, err = alice.run("", "login", "--email", "alice@example.com", "--password", "password123")
	require.Error(t, err)

	require.Contains(t, alice.mustRun("enter", "--alias", "Alice", "--code", testserver.AccessCode), "Signed in as Alice")
	token, err := os.ReadFile(alice.session)
	require.NoError(t, err)
	require.NotEmpty(t, strings.TrimSpace(string(token)))

	// The code can come from the environment too.
	t.Setenv("DUETCTL_CODE", testserver.AccessCode)
	require.Contains(t, bob.mustRun("enter", "--alias", "Bob"), "Signed in as Bob")

	out := alice.mustRun("peers")
	require.Contains(t, out, "Bob")
	require.NotContains(t, out, "Alice")

	alice.mustRun("send", "bob", "hello", "world")

	// Opening the conversation reads it.
	require.Contains(t, bob.mustRun("history", "Alice"), "Alice: hello world")
	require.Contains(t, alice.mustRun("history", "Bob"), "you: hello world ✓✓")

	png, err := base64.StdEncoding.DecodeString(pngBase64)
	require.NoError(t, err)
	image := filepath.Join(t.TempDir(), "dot.png")
	require.NoError(t, os.WriteFile(image, png, 0600))
	alice.mustRun("send-image", "Bob", image)
	require.Contains(t, bob.mustRun("history", "Alice"), "[image ")

	_, err = alice.run("", "send-voice", "Bob", image)
	require.Error(t, err)

	_, err = alice.run("", "send", "Nobody", "hi")
	require.ErrorContains(t, err, "nobody called")

	out, err = bob.run("hi from the terminal\n/quit\n", "chat", "Alice")
	require.NoError(t, err, out)
	require.Contains(t, out, "you: hi from the terminal")
	require.Contains(t, alice.mustRun("history", "Bob"), "Bob: hi from the terminal")

	require.Contains(t, alice.mustRun("logout"), "Signed out")
	_, err = os.Stat(alice.session)
	require.ErrorIs(t, err, os.ErrNotExist)
	_, err = alice.run("", "peers")
	require.ErrorContains(t, err, "not signed in")
}

func TestDuetctlAccountMode(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	srv := testserver.Start(t, models.GateModeAccount)
	alice := newCLI(t, srv.URL, "alice")

	_, err := alice.run("", "enter", "--alias", "Alice", "--code", "x")
	require.Error(t, err)

	_, err = alice.run("", "signup", "--email", "alice@example.com", "--name", "Alice", "--password", "short")
	require.ErrorContains(t, err, "at least 8")

	require.Contains(t, alice.mustRun("signup", "--email", "alice@example.com", "--name", "Alice", "--password", "password123"), "Signed in as Alice")
	alice.mustRun("logout")

	require.Contains(t, alice.mustRun("forgot", "--email", "alice@example.com"), "reset link")

	link, err := srv.Auth.ResetLink("alice@example.com")
	require.NoError(t, err)
	require.Contains(t, alice.mustRun("reset", link, "--password", "new-password"), "Signed in as Alice")

	alice.mustRun("logout")
	_, err = alice.run("", "login", "--email", "alice@example.com", "--password", "password123")
	require.EqualError(t, err, "Invalid email or password")
	require.Contains(t, alice.mustRun("login", "--email", "alice@example.com", "--password", "new-password"), "Signed in as Alice")
}
