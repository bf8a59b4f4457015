package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"duet/internal/apperr"
	"duet/internal/auth"
	"duet/internal/filestore"
	"duet/internal/media"
	"duet/internal/notify"
	"duet/internal/storage"
	"duet/internal/ws"

	"github.com/c-pro/geche"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

type ctxKey int

const profileIDKey ctxKey = iota

type API struct {
	auth     *auth.Service
	store    *storage.BboltStorage
	hub      *ws.Hub
	files    filestore.FileStore
	uploader *media.Uploader
	push     *notify.WebPush
	limiter  *ipLimiter
	maxBytes int64
	now      func() time.Time
}

type Config struct {
	// LoginRate is the sustained interval between gate attempts per client IP.
	LoginRate time.Duration
	MaxBytes  int64
}

func New(
	ctx context.Context,
	cfg Config,
	authService *auth.Service,
	store *storage.BboltStorage,
	hub *ws.Hub,
	files filestore.FileStore,
	push *notify.WebPush,
) *API {
	return &API{
		auth:     authService,
		store:    store,
		hub:      hub,
		files:    files,
		uploader: media.NewUploader(files, store, cfg.MaxBytes),
		push:     push,
		limiter:  newIPLimiter(ctx, cfg.LoginRate),
		maxBytes: cfg.MaxBytes,
		now:      time.Now,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("failed to encode response")
	}
}

// writeError maps err to a JSON error body. Errors that are not AppErrors
// are logged and reported as a generic internal error.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := apperr.As(err)
	if !ok {
		log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
		appErr = apperr.ErrInternal
	}
	writeJSON(w, appErr.Code, struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}{false, appErr.Message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		return apperr.BadRequest("Invalid request body")
	}
	return nil
}

func profileID(r *http.Request) string {
	id, _ := r.Context().Value(profileIDKey).(string)
	return id
}

// RequireAuth rejects requests without a live session and stores
// the caller's profile id in the request context.
func (a *API) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := a.auth.ProfileID(auth.RequestToken(r))
		if err != nil {
			writeError(w, r, apperr.ErrUnauthorized)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), profileIDKey, id)))
	}
}

// RequireSameOrigin rejects browser requests coming from another site.
func RequireSameOrigin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !auth.SameOrigin(r) {
			writeError(w, r, apperr.ErrForbidden)
			return
		}
		next(w, r)
	}
}

// RateLimit throttles handlers per client IP.
func (a *API) RateLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !a.limiter.allow(clientIP(r)) {
			writeError(w, r, apperr.ErrRateLimit)
			return
		}
		next(w, r)
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

const limiterBurst = 5

type ipLimiter struct {
	every    rate.Limit
	limiters *geche.Locker[string, *rate.Limiter]
}

func newIPLimiter(ctx context.Context, interval time.Duration) *ipLimiter {
	every := rate.Inf
	if interval > 0 {
		every = rate.Every(interval)
	}
	return &ipLimiter{
		every: every,
		limiters: geche.NewLocker[string, *rate.Limiter](
			geche.NewMapTTLCache[string, *rate.Limiter](ctx, time.Hour, time.Minute),
		),
	}
}

func (l *ipLimiter) allow(ip string) bool {
	tx := l.limiters.Lock()
	limiter, err := tx.Get(ip)
	if err != nil {
		limiter = rate.NewLimiter(l.every, limiterBurst)
		tx.Set(ip, limiter)
	}
	tx.Unlock()
	return limiter.Allow()
}
