package api

import (
	"errors"
	"net/http"

	"duet/internal/apperr"
	"duet/internal/auth"
	"duet/internal/models"
	"duet/internal/storage"
	"duet/internal/ws"
)

type AdminHandler struct {
	authService *auth.Service
	store       *storage.BboltStorage
	hub         *ws.Hub
}

func NewAdminHandler(authService *auth.Service, store *storage.BboltStorage, hub *ws.Hub) *AdminHandler {
	return &AdminHandler{authService: authService, store: store, hub: hub}
}

type PasswordResetRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type PasswordResetResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Link    string `json:"link,omitempty"`
}

func (h *AdminHandler) ProfilesHandler(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.store.ListProfiles()
	if err != nil {
		writeError(w, r, err)
		return
	}
	for i := range profiles {
		profiles[i].Online = h.hub.IsOnline(profiles[i].ID)
	}
	if profiles == nil {
		profiles = []models.Profile{}
	}
	writeJSON(w, http.StatusOK, profiles)
}

// PasswordResetHandler returns a reset link for an account without mailing it.
func (h *AdminHandler) PasswordResetHandler(w http.ResponseWriter, r *http.Request) {
	if h.authService.Mode() != models.GateModeAccount {
		writeError(w, r, auth.ErrWrongMode)
		return
	}

	var req PasswordResetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := apperr.Validate(req); err != nil {
		writeError(w, r, err)
		return
	}

	link, err := h.authService.ResetLink(req.Email)
	if errors.Is(err, models.ErrNotFound) {
		writeError(w, r, apperr.NotFound("No account with this email"))
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, PasswordResetResponse{Success: true, Link: link})
}
