package http

import (
	"context"
	"net/http"
	"sync"

	"duet/internal/api"
	"duet/internal/auth"
	"duet/internal/ws"
	"duet/static"

	"github.com/rs/zerolog/log"
)

type APIServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

type APIServerConfig struct {
	Addr string
	// LocalMedia serves the media bucket from this server.
	LocalMedia bool
}

func NewAPIServer(cfg APIServerConfig, authService *auth.Service, apiHandlers *api.API, wsServer *ws.Server) *APIServer {
	mux := http.NewServeMux()

	// Serve static files with auth check
	mux.HandleFunc("/", NewFileServerHandler(authService, static.Content))

	// Gate
	mux.HandleFunc("GET /api/gate", apiHandlers.GateHandler)
	mux.HandleFunc("POST /api/enter", gate(apiHandlers, apiHandlers.EnterHandler))
	mux.HandleFunc("POST /api/signup", gate(apiHandlers, apiHandlers.SignupHandler))
	mux.HandleFunc("POST /api/login", gate(apiHandlers, apiHandlers.LoginHandler))
	mux.HandleFunc("POST /api/forgot-password", gate(apiHandlers, apiHandlers.ForgotPasswordHandler))
	mux.HandleFunc("POST /api/reset-password", gate(apiHandlers, apiHandlers.ResetPasswordHandler))
	mux.HandleFunc("POST /api/logout", api.RequireSameOrigin(apiHandlers.LogoutHandler))

	// Directory and conversations
	mux.HandleFunc("GET /api/me", apiHandlers.RequireAuth(apiHandlers.MeHandler))
	mux.HandleFunc("GET /api/profiles", apiHandlers.RequireAuth(apiHandlers.ProfilesHandler))
	mux.HandleFunc("GET /api/conversations/{peer}/messages", apiHandlers.RequireAuth(apiHandlers.HistoryHandler))
	mux.HandleFunc("POST /api/conversations/{peer}/messages", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.SendHandler)))
	mux.HandleFunc("POST /api/conversations/{peer}/read", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.ReadHandler)))

	// Media
	mux.HandleFunc("POST /api/media", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.UploadMediaHandler)))
	if cfg.LocalMedia {
		mux.HandleFunc("GET /media/{owner}/{name}", apiHandlers.MediaHandler)
	}

	// Push
	mux.HandleFunc("GET /api/push/key", apiHandlers.PushKeyHandler)
	mux.HandleFunc("POST /api/push/subscribe", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.PushSubscribeHandler)))

	// WebSocket endpoint
	mux.HandleFunc("GET /api/realtime", wsServer.HandleConnections)

	addr := cfg.Addr
	if addr == "" {
		addr = ":8080"
	}

	return &APIServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// gate wraps unauthenticated credential endpoints.
func gate(a *api.API, h http.HandlerFunc) http.HandlerFunc {
	return api.RequireSameOrigin(a.RateLimit(h))
}

func (s *APIServer) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("API server started")
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *APIServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}

// Handler exposes the routed handler, e.g. for httptest servers.
func (s *APIServer) Handler() http.Handler {
	return s.server.Handler
}
