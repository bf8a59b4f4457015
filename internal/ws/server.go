package ws

import (
	"context"
	"net/http"

	"duet/internal/auth"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type authenticator interface {
	ProfileID(token string) (string, error)
}

type Server struct {
	// ctx bounds the lifetime of hijacked connections,
	// which http.Server.Shutdown does not track.
	ctx      context.Context
	auth     authenticator
	hub      messageHub
	upgrader *websocket.Upgrader
}

func NewServer(ctx context.Context, sessions authenticator, hub messageHub) *Server {
	return &Server{
		ctx:  ctx,
		auth: sessions,
		hub:  hub,
		upgrader: &websocket.Upgrader{
			CheckOrigin: auth.SameOrigin,
		},
	}
}

func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	profileID, err := s.auth.ProfileID(auth.RequestToken(r))
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("profile_id", profileID).Msg("error upgrading to websocket")
		return
	}

	log.Debug().Str("profile_id", profileID).Msg("realtime connection opened")
	err = NewConnection(s.hub, conn, profileID).Handle(s.ctx)
	if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		log.Debug().Err(err).Str("profile_id", profileID).Msg("realtime connection closed")
	}
}
