package http

import (
	"context"
	"crypto/subtle"
	"net/http"
	"sync"

	"duet/internal/api"

	"github.com/rs/zerolog/log"
)

type AdminServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

type AdminServerConfig struct {
	Addr string
	// Basic auth is enforced only when Password is set.
	User     string
	Password string
}

func NewAdminServer(cfg AdminServerConfig, adminHandler *api.AdminHandler) *AdminServer {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /admin/profiles", adminHandler.ProfilesHandler)
	mux.HandleFunc("POST /admin/password-reset", adminHandler.PasswordResetHandler)

	addr := cfg.Addr
	if addr == "" {
		addr = "localhost:8081"
	}

	return &AdminServer{
		server: &http.Server{
			Addr:    addr,
			Handler: basicAuth(cfg.User, cfg.Password, mux),
		},
	}
}

func basicAuth(user, password string, next http.Handler) http.Handler {
	if password == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 ||
			subtle.ConstantTimeCompare([]byte(p), []byte(password)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="duet admin"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *AdminServer) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("Admin API started")
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *AdminServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
