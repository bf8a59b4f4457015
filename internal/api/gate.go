package api

import (
	"net/http"
	"time"

	"duet/internal/auth"
	"duet/internal/models"
)

func (a *API) GateHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.GateInfo{Mode: a.auth.Mode()})
}

func (a *API) EnterHandler(w http.ResponseWriter, r *http.Request) {
	var req models.CodeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	session, err := a.auth.Enter(req)
	a.writeSession(w, r, session, err)
}

func (a *API) SignupHandler(w http.ResponseWriter, r *http.Request) {
	var req models.SignupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	session, err := a.auth.SignUp(req)
	a.writeSession(w, r, session, err)
}

func (a *API) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	session, err := a.auth.Login(req)
	a.writeSession(w, r, session, err)
}

func (a *API) ResetPasswordHandler(w http.ResponseWriter, r *http.Request) {
	var req models.ResetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	session, err := a.auth.ResetPassword(req)
	a.writeSession(w, r, session, err)
}

func (a *API) ForgotPasswordHandler(w http.ResponseWriter, r *http.Request) {
	var req models.ForgotPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := a.auth.ForgotPassword(r.Context(), req); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.APIResponse{
		Success: true,
		Message: "If an account exists for this email, a reset link is on its way",
	})
}

func (a *API) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	if token := auth.RequestToken(r); token != "" {
		if err := a.auth.Logout(token); err != nil {
			writeError(w, r, err)
			return
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.TokenCookie,
		Value:    "",
		HttpOnly: true,
		Path:     "/",
		MaxAge:   -1,
	})
	writeJSON(w, http.StatusOK, models.APIResponse{Success: true})
}

func (a *API) writeSession(w http.ResponseWriter, r *http.Request, session models.Session, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     auth.TokenCookie,
		Value:    session.Token,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Path:     "/",
		Expires:  time.Unix(session.TokenExpiry, 0),
	})
	writeJSON(w, http.StatusOK, session)
}
