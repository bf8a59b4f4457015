package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"duet/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     any
		wantMsg string
	}{
		{
			name:    "missing alias",
			req:     models.CodeRequest{Code: "x"},
			wantMsg: "Alias is required",
		},
		{
			name: "short password",
			req: models.SignupRequest{
				Email: "a@example.com", DisplayName: "A",
				Password: "short", ConfirmPassword: "short",
			},
			wantMsg: "Password must be at least 8 characters",
		},
		{
			name: "mismatched passwords",
			req: models.SignupRequest{
				Email: "a@example.com", DisplayName: "A",
				Password: "long-enough", ConfirmPassword: "different!",
			},
			wantMsg: "Passwords do not match",
		},
		{
			name:    "bad email",
			req:     models.LoginRequest{Email: "nope", Password: "x"},
			wantMsg: "Please enter a valid email address",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.req)
			require.Error(t, err)
			appErr, ok := As(err)
			require.True(t, ok)
			assert.Equal(t, http.StatusBadRequest, appErr.Code)
			assert.Equal(t, tt.wantMsg, appErr.Message)
		})
	}

	require.NoError(t, Validate(models.CodeRequest{Code: "x", Alias: "alice"}))
}

func TestMessage(t *testing.T) {
	wrapped := fmt.Errorf("enter: %w", Unauthorized("Invalid access code"))
	assert.Equal(t, "Invalid access code", Message(wrapped))
	assert.Equal(t, "internal error", Message(errors.New("boom")))
}
