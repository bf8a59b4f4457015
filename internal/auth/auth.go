package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"duet/internal/apperr"
	"duet/internal/content"
	"duet/internal/models"

	"github.com/c-pro/geche"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultTokenExpiry      = 24 * time.Hour
	DefaultResetTokenExpiry = time.Hour

	aliasIdentityPrefix   = "alias:"
	accountIdentityPrefix = "account:"
)

var (
	ErrInvalidCode        = apperr.Unauthorized("Invalid access code")
	ErrInvalidCredentials = apperr.Unauthorized("Invalid email or password")
	ErrEmailTaken         = apperr.New(http.StatusConflict, "An account with this email already exists")
	ErrInvalidResetToken  = apperr.BadRequest("Reset link is invalid or has expired")
	ErrWrongMode          = apperr.BadRequest("This sign-in method is not enabled")
)

// Account holds credentials of the richer identity variant.
type Account struct {
	ID           string
	Email        string
	PasswordHash string
	ProfileID    string
	CreatedAt    time.Time
	// Consecutive failed login attempts, used to throttle brute force attacks.
	FailedLoginAttempts int64
	LastAttemptTime     int64
}

func (a *Account) ResetFailedLoginAttempts(now time.Time) {
	a.FailedLoginAttempts = 0
	a.LastAttemptTime = now.Unix()
}

func (a *Account) IncrementFailedLoginAttempts(now time.Time) {
	a.FailedLoginAttempts++
	a.LastAttemptTime = now.Unix()
}

// SessionRecord is what a session token hash resolves to.
type SessionRecord struct {
	ProfileID string
	ExpiresAt time.Time
}

type Storage interface {
	UpsertAccount(account Account) error
	ListAccounts() ([]Account, error)
	UpsertSession(tokenHash string, session SessionRecord) error
	DeleteSession(tokenHash string) error
	DeleteSessionsForProfile(profileID string) ([]string, error)
	ListSessions() (map[string]SessionRecord, error)
	CreateProfile(profile models.Profile) error
	GetProfile(id string) (models.Profile, error)
	GetProfileByIdentity(identityRef string) (models.Profile, error)
}

// Mailer delivers password reset links.
type Mailer interface {
	SendPasswordReset(ctx context.Context, email, link string) error
}

type Config struct {
	Secret           string
	secretBytes      []byte
	TokenExpiry      time.Duration
	ResetTokenExpiry time.Duration
	Mode             models.GateMode
	AccessCode       string
	BaseURL          string
}

func (c *Config) Validate() error {
	if c.Secret == "" {
		return errors.New("secret is required")
	}

	var err error
	c.secretBytes, err = base64.StdEncoding.DecodeString(c.Secret)
	if err != nil {
		return fmt.Errorf("auth secret is not a valid base64: %w", err)
	}

	if c.TokenExpiry == 0 {
		c.TokenExpiry = DefaultTokenExpiry
	}
	if c.ResetTokenExpiry == 0 {
		c.ResetTokenExpiry = DefaultResetTokenExpiry
	}

	switch c.Mode {
	case models.GateModeCode:
		if c.AccessCode == "" {
			return errors.New("access code is required in code mode")
		}
	case models.GateModeAccount:
	default:
		return fmt.Errorf("unknown gate mode %q", c.Mode)
	}

	return nil
}

type Service struct {
	Config
	store  Storage
	mailer Mailer
	// accounts by lowercased email
	accounts *geche.Locker[string, *Account]
	// token hash -> session
	sessions geche.Geche[string, SessionRecord]
	now      func() time.Time
}

func NewService(ctx context.Context, config Config, store Storage, mailer Mailer) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	s := &Service{
		Config:   config,
		store:    store,
		mailer:   mailer,
		accounts: geche.NewLocker[string, *Account](geche.NewMapCache[string, *Account]()),
		sessions: geche.NewMapTTLCache[string, SessionRecord](ctx, config.TokenExpiry, time.Minute),
		now:      time.Now,
	}

	accounts, err := store.ListAccounts()
	if err != nil {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}
	tx := s.accounts.Lock()
	for i := range accounts {
		tx.Set(strings.ToLower(accounts[i].Email), &accounts[i])
	}
	tx.Unlock()

	sessions, err := store.ListSessions()
	if err != nil {
		return nil, fmt.Errorf("failed to load sessions: %w", err)
	}
	now := s.now()
	for hash, session := range sessions {
		if now.After(session.ExpiresAt) {
			_ = store.DeleteSession(hash)
			continue
		}
		s.sessions.Set(hash, session)
	}

	log.Info().
		Str("mode", string(config.Mode)).
		Int("accounts", len(accounts)).
		Int("sessions", len(sessions)).
		Msg("auth service loaded")

	return s, nil
}

func (s *Service) Mode() models.GateMode {
	return s.Config.Mode
}

// Enter admits anyone presenting the shared access code under the given alias.
// The profile for the alias is created on first entry.
func (s *Service) Enter(req models.CodeRequest) (models.Session, error) {
	if s.Config.Mode != models.GateModeCode {
		return models.Session{}, ErrWrongMode
	}
	if err := apperr.Validate(req); err != nil {
		return models.Session{}, err
	}
	alias, err := content.NormalizeName(req.Alias)
	if err != nil {
		return models.Session{}, apperr.BadRequest("Alias: %s", err)
	}
	if !hmac.Equal([]byte(req.Code), []byte(s.AccessCode)) {
		return models.Session{}, ErrInvalidCode
	}

	profile, err := s.ensureProfile(aliasIdentityPrefix+strings.ToLower(alias), alias)
	if err != nil {
		return models.Session{}, err
	}
	return s.issueSession(profile)
}

func (s *Service) ensureProfile(identityRef, displayName string) (models.Profile, error) {
	profile, err := s.store.GetProfileByIdentity(identityRef)
	if err == nil {
		return profile, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return models.Profile{}, fmt.Errorf("failed to look up profile: %w", err)
	}

	profile = models.Profile{
		ID:          uuid.NewString(),
		IdentityRef: identityRef,
		DisplayName: displayName,
	}
	if err := s.store.CreateProfile(profile); err != nil {
		// Lost a race with a concurrent first entry.
		if existing, getErr := s.store.GetProfileByIdentity(identityRef); getErr == nil {
			return existing, nil
		}
		return models.Profile{}, fmt.Errorf("failed to create profile: %w", err)
	}
	log.Info().Str("profile_id", profile.ID).Msg("profile created")
	return profile, nil
}

func (s *Service) SignUp(req models.SignupRequest) (models.Session, error) {
	if s.Config.Mode != models.GateModeAccount {
		return models.Session{}, ErrWrongMode
	}
	if err := apperr.Validate(req); err != nil {
		return models.Session{}, err
	}
	displayName, err := content.NormalizeName(req.DisplayName)
	if err != nil {
		return models.Session{}, apperr.BadRequest("Display name: %s", err)
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return models.Session{}, fmt.Errorf("failed to hash password: %w", err)
	}

	tx := s.accounts.Lock()
	defer tx.Unlock()
	if _, err := tx.Get(email); err == nil {
		return models.Session{}, ErrEmailTaken
	}

	account := &Account{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    s.now().UTC(),
	}
	profile, err := s.ensureProfile(accountIdentityPrefix+account.ID, displayName)
	if err != nil {
		return models.Session{}, err
	}
	account.ProfileID = profile.ID

	if err := s.store.UpsertAccount(*account); err != nil {
		return models.Session{}, fmt.Errorf("failed to store account: %w", err)
	}
	tx.Set(email, account)

	return s.issueSession(profile)
}

func (s *Service) Login(req models.LoginRequest) (models.Session, error) {
	if s.Config.Mode != models.GateModeAccount {
		return models.Session{}, ErrWrongMode
	}
	if err := apperr.Validate(req); err != nil {
		return models.Session{}, err
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	now := s.now()
	tx := s.accounts.Lock()
	defer tx.Unlock()
	account, err := tx.Get(email)
	if err != nil {
		return models.Session{}, ErrInvalidCredentials
	}

	if account.FailedLoginAttempts > 3 {
		failed := account.FailedLoginAttempts
		nextAttempt := account.LastAttemptTime + 30*(failed*failed)
		if now.Unix() < nextAttempt {
			return models.Session{}, apperr.New(http.StatusTooManyRequests,
				fmt.Sprintf("Too many failed login attempts. Next attempt in %d seconds", nextAttempt-now.Unix()))
		}
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(req.Password)); err != nil {
		account.IncrementFailedLoginAttempts(now)
		if err := s.store.UpsertAccount(*account); err != nil {
			log.Error().Err(err).Str("account_id", account.ID).Msg("failed to persist login attempt")
		}
		return models.Session{}, ErrInvalidCredentials
	}

	account.ResetFailedLoginAttempts(now)
	if err := s.store.UpsertAccount(*account); err != nil {
		return models.Session{}, fmt.Errorf("failed to store account: %w", err)
	}

	profile, err := s.store.GetProfile(account.ProfileID)
	if err != nil {
		return models.Session{}, fmt.Errorf("failed to load profile for account %s: %w", account.ID, err)
	}
	return s.issueSession(profile)
}

func (s *Service) Logout(token string) error {
	hash := s.hashToken(token)
	_ = s.sessions.Del(hash)
	return s.store.DeleteSession(hash)
}

// ProfileID resolves a session token to the profile it belongs to.
func (s *Service) ProfileID(token string) (string, error) {
	if token == "" {
		return "", apperr.ErrUnauthorized
	}
	session, err := s.sessions.Get(s.hashToken(token))
	if err != nil || s.now().After(session.ExpiresAt) {
		return "", apperr.ErrUnauthorized
	}
	return session.ProfileID, nil
}

// ForgotPassword mails a reset link when the account exists.
// It reports success either way so callers cannot tell which emails have accounts.
func (s *Service) ForgotPassword(ctx context.Context, req models.ForgotPasswordRequest) error {
	if s.Config.Mode != models.GateModeAccount {
		return ErrWrongMode
	}
	if err := apperr.Validate(req); err != nil {
		return err
	}

	link, err := s.ResetLink(req.Email)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			log.Error().Err(err).Msg("failed to create reset link")
		}
		return nil
	}

	if err := s.mailer.SendPasswordReset(ctx, strings.ToLower(strings.TrimSpace(req.Email)), link); err != nil {
		log.Error().Err(err).Msg("failed to send password reset")
	}
	return nil
}

// ResetLink builds a password reset link for the account with the given email.
func (s *Service) ResetLink(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	tx := s.accounts.Lock()
	account, err := tx.Get(email)
	tx.Unlock()
	if err != nil {
		return "", fmt.Errorf("account %s: %w", email, models.ErrNotFound)
	}

	now := s.now()
	claims := resetClaims{
		Stamp: s.passwordStamp(account.PasswordHash),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ResetTokenExpiry)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secretBytes)
	if err != nil {
		return "", fmt.Errorf("failed to sign reset token: %w", err)
	}

	base := strings.TrimRight(s.BaseURL, "/")
	return fmt.Sprintf("%s/login.html?reset=%s", base, url.QueryEscape(token)), nil
}

// ResetPassword sets a new password using a token from ResetLink. All existing
// sessions of the account are revoked and a fresh one is returned.
func (s *Service) ResetPassword(req models.ResetPasswordRequest) (models.Session, error) {
	if s.Config.Mode != models.GateModeAccount {
		return models.Session{}, ErrWrongMode
	}
	if err := apperr.Validate(req); err != nil {
		return models.Session{}, err
	}

	var claims resetClaims
	_, err := jwt.ParseWithClaims(req.Token, &claims, func(t *jwt.Token) (any, error) {
		return s.secretBytes, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return models.Session{}, ErrInvalidResetToken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return models.Session{}, fmt.Errorf("failed to hash password: %w", err)
	}

	tx := s.accounts.Lock()
	account, err := tx.Get(claims.Subject)
	// The stamp changes with the password, so a token works once.
	if err != nil || !hmac.Equal([]byte(claims.Stamp), []byte(s.passwordStamp(account.PasswordHash))) {
		tx.Unlock()
		return models.Session{}, ErrInvalidResetToken
	}
	updated := *account
	updated.PasswordHash = string(hash)
	updated.ResetFailedLoginAttempts(s.now())
	if err := s.store.UpsertAccount(updated); err != nil {
		tx.Unlock()
		return models.Session{}, fmt.Errorf("failed to store account: %w", err)
	}
	tx.Set(claims.Subject, &updated)
	tx.Unlock()

	removed, err := s.store.DeleteSessionsForProfile(updated.ProfileID)
	if err != nil {
		return models.Session{}, fmt.Errorf("failed to revoke sessions: %w", err)
	}
	for _, h := range removed {
		_ = s.sessions.Del(h)
	}
	log.Info().Str("account_id", updated.ID).Int("revoked", len(removed)).Msg("password reset")

	profile, err := s.store.GetProfile(updated.ProfileID)
	if err != nil {
		return models.Session{}, fmt.Errorf("failed to load profile: %w", err)
	}
	return s.issueSession(profile)
}

type resetClaims struct {
	Stamp string `json:"stamp"`
	jwt.RegisteredClaims
}

func (s *Service) issueSession(profile models.Profile) (models.Session, error) {
	token, err := generateToken()
	if err != nil {
		return models.Session{}, err
	}
	expires := s.now().Add(s.TokenExpiry)
	record := SessionRecord{ProfileID: profile.ID, ExpiresAt: expires}
	hash := s.hashToken(token)
	if err := s.store.UpsertSession(hash, record); err != nil {
		return models.Session{}, fmt.Errorf("failed to store session: %w", err)
	}
	s.sessions.Set(hash, record)

	return models.Session{
		Success:     true,
		Token:       token,
		TokenExpiry: expires.Unix(),
		Profile:     &profile,
	}, nil
}

func (s *Service) hashToken(token string) string {
	h := hmac.New(sha256.New, s.secretBytes)
	h.Write([]byte(token))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func (s *Service) passwordStamp(passwordHash string) string {
	h := hmac.New(sha256.New, s.secretBytes)
	h.Write([]byte(passwordHash))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil)[:12])
}

func generateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
