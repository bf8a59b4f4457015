// Package client is the Go side of the duet web client: it talks to the
// HTTP API and the realtime websocket of a duet server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"duet/internal/apperr"
	"duet/internal/models"
)

const sessionChangesBuffer = 16

type SessionEvent string

const (
	SignedIn         SessionEvent = "signed-in"
	SignedOut        SessionEvent = "signed-out"
	PasswordRecovery SessionEvent = "password-recovery"
)

// SessionChange is emitted whenever the client's authentication state moves.
type SessionChange struct {
	Event   SessionEvent
	Profile *models.Profile
}

type Client struct {
	baseURL *url.URL
	http    *http.Client

	mu            sync.RWMutex
	token         string
	recoveryToken string

	changes chan SessionChange
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

// WithToken resumes an existing session.
func WithToken(token string) Option {
	return func(cl *Client) {
		cl.token = token
	}
}

func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid server url %q: scheme must be http or https", baseURL)
	}

	c := &Client{
		baseURL: u,
		http:    http.DefaultClient,
		changes: make(chan SessionChange, sessionChangesBuffer),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SessionChanges delivers session notifications. Notifications are dropped
// when nobody drains the channel.
func (c *Client) SessionChanges() <-chan SessionChange {
	return c.changes
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) SignedIn() bool {
	return c.Token() != ""
}

func (c *Client) notify(event SessionEvent, profile *models.Profile) {
	select {
	case c.changes <- SessionChange{Event: event, Profile: profile}:
	default:
	}
}

func (c *Client) Gate(ctx context.Context) (models.GateMode, error) {
	var info models.GateInfo
	if err := c.do(ctx, http.MethodGet, "/api/gate", nil, &info); err != nil {
		return "", err
	}
	return info.Mode, nil
}

func (c *Client) Enter(ctx context.Context, req models.CodeRequest) (models.Session, error) {
	return c.startSession(ctx, "/api/enter", req)
}

func (c *Client) SignUp(ctx context.Context, req models.SignupRequest) (models.Session, error) {
	return c.startSession(ctx, "/api/signup", req)
}

func (c *Client) Login(ctx context.Context, req models.LoginRequest) (models.Session, error) {
	return c.startSession(ctx, "/api/login", req)
}

// ResetPassword sets a new password using the token of the last opened
// reset link and signs in.
func (c *Client) ResetPassword(ctx context.Context, password, confirm string) (models.Session, error) {
	c.mu.RLock()
	token := c.recoveryToken
	c.mu.RUnlock()
	if token == "" {
		return models.Session{}, apperr.BadRequest("Open the reset link first")
	}

	session, err := c.startSession(ctx, "/api/reset-password", models.ResetPasswordRequest{
		Token:           token,
		Password:        password,
		ConfirmPassword: confirm,
	})
	if err == nil {
		c.mu.Lock()
		c.recoveryToken = ""
		c.mu.Unlock()
	}
	return session, err
}

func (c *Client) ForgotPassword(ctx context.Context, req models.ForgotPasswordRequest) (string, error) {
	var resp models.APIResponse
	if err := c.do(ctx, http.MethodPost, "/api/forgot-password", req, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

// OpenResetLink remembers the token of a password reset link
// and announces password recovery.
func (c *Client) OpenResetLink(link string) error {
	u, err := url.Parse(link)
	if err != nil {
		return fmt.Errorf("invalid reset link: %w", err)
	}
	token := u.Query().Get("reset")
	if token == "" {
		return apperr.BadRequest("Reset link is invalid or has expired")
	}

	c.mu.Lock()
	c.recoveryToken = token
	c.mu.Unlock()
	c.notify(PasswordRecovery, nil)
	return nil
}

func (c *Client) Logout(ctx context.Context) error {
	err := c.do(ctx, http.MethodPost, "/api/logout", nil, nil)

	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
	c.notify(SignedOut, nil)
	return err
}

func (c *Client) startSession(ctx context.Context, path string, req any) (models.Session, error) {
	var session models.Session
	if err := c.do(ctx, http.MethodPost, path, req, &session); err != nil {
		return models.Session{}, err
	}

	c.mu.Lock()
	c.token = session.Token
	c.mu.Unlock()
	c.notify(SignedIn, session.Profile)
	return session, nil
}

func (c *Client) Me(ctx context.Context) (models.Profile, error) {
	var profile models.Profile
	err := c.do(ctx, http.MethodGet, "/api/me", nil, &profile)
	return profile, err
}

// Profiles lists everyone except the signed in profile.
func (c *Client) Profiles(ctx context.Context) ([]models.Profile, error) {
	var profiles []models.Profile
	err := c.do(ctx, http.MethodGet, "/api/profiles", nil, &profiles)
	return profiles, err
}

func (c *Client) History(ctx context.Context, peerID string) ([]models.Message, error) {
	var messages []models.Message
	err := c.do(ctx, http.MethodGet, conversationPath(peerID, "messages"), nil, &messages)
	return messages, err
}

func (c *Client) Send(ctx context.Context, peerID string, draft models.Draft) (models.Message, error) {
	var message models.Message
	err := c.do(ctx, http.MethodPost, conversationPath(peerID, "messages"), draft, &message)
	return message, err
}

// MarkRead marks everything the peer sent as read and returns the changed messages.
func (c *Client) MarkRead(ctx context.Context, peerID string) ([]models.Message, error) {
	var messages []models.Message
	err := c.do(ctx, http.MethodPost, conversationPath(peerID, "read"), nil, &messages)
	return messages, err
}

func (c *Client) Upload(ctx context.Context, kind models.MediaKind, filename string, r io.Reader) (models.MediaRef, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return models.MediaRef{}, err
	}
	if _, err := io.Copy(part, r); err != nil {
		return models.MediaRef{}, fmt.Errorf("failed to read %s: %w", filename, err)
	}
	if err := mw.Close(); err != nil {
		return models.MediaRef{}, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/media?kind="+url.QueryEscape(string(kind)), &body)
	if err != nil {
		return models.MediaRef{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var ref models.MediaRef
	err = c.send(req, &ref)
	return ref, err
}

func conversationPath(peerID, action string) string {
	return fmt.Sprintf("/api/conversations/%s/%s", url.PathEscape(peerID), action)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, body)
	if err != nil {
		return nil, err
	}
	if token := c.Token(); token != "" {
		req.Header.Set("token", token)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

// send executes req. Error responses become *apperr.AppError so callers can
// show the server's message as is.
func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		var body models.APIResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Message == "" {
			body.Message = http.StatusText(resp.StatusCode)
		}
		return apperr.New(resp.StatusCode, body.Message)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
