package view

import (
	"context"
	"fmt"
	"sync"

	"duet/internal/apperr"
	"duet/internal/models"
)

// GateClient is the part of the client that admits users.
type GateClient interface {
	Gate(ctx context.Context) (models.GateMode, error)
	Enter(ctx context.Context, req models.CodeRequest) (models.Session, error)
	SignUp(ctx context.Context, req models.SignupRequest) (models.Session, error)
	Login(ctx context.Context, req models.LoginRequest) (models.Session, error)
	ForgotPassword(ctx context.Context, req models.ForgotPasswordRequest) (string, error)
	OpenResetLink(link string) error
	ResetPassword(ctx context.Context, password, confirm string) (models.Session, error)
}

// GateForm is the form the gate currently shows.
type GateForm string

const (
	FormCode   GateForm = "code"
	FormLogin  GateForm = "login"
	FormSignup GateForm = "signup"
	FormForgot GateForm = "forgot"
	FormReset  GateForm = "reset"
)

type resetForm struct {
	Password        string `validate:"required,min=8,max=72"`
	ConfirmPassword string `validate:"required,eqfield=Password"`
}

// Gate drives the sign-in screen. In code mode it only ever shows the code
// form; in account mode it switches between login, signup, forgot and reset.
type Gate struct {
	client GateClient
	mode   models.GateMode

	mu      sync.Mutex
	form    GateForm
	session *models.Session
	toasts  []Toast
}

func NewGate(ctx context.Context, client GateClient) (*Gate, error) {
	mode, err := client.Gate(ctx)
	if err != nil {
		return nil, err
	}
	g := &Gate{client: client, mode: mode, form: FormLogin}
	if mode == models.GateModeCode {
		g.form = FormCode
	}
	return g, nil
}

func (g *Gate) Mode() models.GateMode {
	return g.mode
}

func (g *Gate) Form() GateForm {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.form
}

// Show switches to another account form.
func (g *Gate) Show(form GateForm) error {
	switch form {
	case FormLogin, FormSignup, FormForgot:
		if g.mode != models.GateModeAccount {
			return apperr.BadRequest("This sign-in method is not enabled")
		}
	case FormCode:
		if g.mode != models.GateModeCode {
			return apperr.BadRequest("This sign-in method is not enabled")
		}
	case FormReset:
		return apperr.BadRequest("Open the reset link from your email")
	default:
		return fmt.Errorf("unknown form %q", form)
	}

	g.mu.Lock()
	g.form = form
	g.mu.Unlock()
	return nil
}

// Session is set once the user got through.
func (g *Gate) Session() *models.Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.session
}

func (g *Gate) Toasts() []Toast {
	g.mu.Lock()
	defer g.mu.Unlock()
	toasts := g.toasts
	g.toasts = nil
	return toasts
}

func (g *Gate) Enter(ctx context.Context, alias, code string) error {
	req := models.CodeRequest{Code: code, Alias: alias}
	return g.submit(FormCode, req, func() (models.Session, error) {
		return g.client.Enter(ctx, req)
	})
}

func (g *Gate) Login(ctx context.Context, email, password string) error {
	req := models.LoginRequest{Email: email, Password: password}
	return g.submit(FormLogin, req, func() (models.Session, error) {
		return g.client.Login(ctx, req)
	})
}

func (g *Gate) SignUp(ctx context.Context, req models.SignupRequest) error {
	return g.submit(FormSignup, req, func() (models.Session, error) {
		return g.client.SignUp(ctx, req)
	})
}

// Forgot requests a reset link and returns to the login form.
func (g *Gate) Forgot(ctx context.Context, email string) error {
	req := models.ForgotPasswordRequest{Email: email}
	if err := g.check(FormForgot, req); err != nil {
		return g.fail(err)
	}
	msg, err := g.client.ForgotPassword(ctx, req)
	if err != nil {
		return g.fail(err)
	}

	g.mu.Lock()
	g.toasts = append(g.toasts, Toast{Kind: ToastInfo, Message: msg})
	g.form = FormLogin
	g.mu.Unlock()
	return nil
}

// OpenResetLink switches to the reset form for the token in link.
func (g *Gate) OpenResetLink(link string) error {
	if g.mode != models.GateModeAccount {
		return g.fail(apperr.BadRequest("This sign-in method is not enabled"))
	}
	if err := g.client.OpenResetLink(link); err != nil {
		return g.fail(err)
	}
	g.mu.Lock()
	g.form = FormReset
	g.mu.Unlock()
	return nil
}

func (g *Gate) Reset(ctx context.Context, password, confirm string) error {
	form := resetForm{Password: password, ConfirmPassword: confirm}
	return g.submit(FormReset, form, func() (models.Session, error) {
		return g.client.ResetPassword(ctx, password, confirm)
	})
}

// check validates a form locally before anything goes to the server.
func (g *Gate) check(form GateForm, req any) error {
	if current := g.Form(); current != form {
		return apperr.BadRequest("The %s form is not open", form)
	}
	return apperr.Validate(req)
}

func (g *Gate) submit(form GateForm, req any, call func() (models.Session, error)) error {
	if err := g.check(form, req); err != nil {
		return g.fail(err)
	}
	session, err := call()
	if err != nil {
		return g.fail(err)
	}
	g.mu.Lock()
	g.session = &session
	g.mu.Unlock()
	return nil
}

func (g *Gate) fail(err error) error {
	g.mu.Lock()
	g.toasts = append(g.toasts, Toast{Kind: ToastError, Message: errorMessage(err)})
	g.mu.Unlock()
	return err
}
