package models

// GateMode selects how the identity gate admits users.
type GateMode string

const (
	// GateModeCode admits anyone who knows the shared access code.
	// It is a placeholder with no real access-control value.
	GateModeCode    GateMode = "code"
	GateModeAccount GateMode = "account"
)

type GateInfo struct {
	Mode GateMode `json:"mode"`
}

type CodeRequest struct {
	Code  string `json:"code" validate:"required"`
	Alias string `json:"alias" validate:"required,max=32"`
}

type SignupRequest struct {
	Email           string `json:"email" validate:"required,email"`
	DisplayName     string `json:"displayName" validate:"required,max=32"`
	Password        string `json:"password" validate:"required,min=8,max=72"`
	ConfirmPassword string `json:"confirmPassword" validate:"required,eqfield=Password"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type ResetPasswordRequest struct {
	Token           string `json:"token" validate:"required"`
	Password        string `json:"password" validate:"required,min=8,max=72"`
	ConfirmPassword string `json:"confirmPassword" validate:"required,eqfield=Password"`
}

// Session is handed to the client after a successful gate pass.
type Session struct {
	Success     bool     `json:"success"`
	Message     string   `json:"message,omitempty"`
	Token       string   `json:"token,omitempty"`
	TokenExpiry int64    `json:"tokenExpiry,omitempty"`
	Profile     *Profile `json:"profile,omitempty"`
}
