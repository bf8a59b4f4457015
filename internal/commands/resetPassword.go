package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"duet/internal/api"
	"duet/internal/config"
)

// ResetPassword asks the running server's admin API for a password reset
// link and writes it to out.
func ResetPassword(email string, cfg *config.Config, out io.Writer) error {
	reqBody, err := json.Marshal(api.PasswordResetRequest{Email: email})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("http://%s/admin/password-reset", cfg.AdminAddr)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.AdminPassword != "" {
		req.SetBasicAuth(cfg.AdminUser, cfg.AdminPassword)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call admin API: %w. Is the server running?", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("failed to create reset link (Status: %d): %s", resp.StatusCode, string(body))
	}

	var result api.PasswordResetResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	_, _ = fmt.Fprintf(out, "\nPassword reset link for %s:\n%s\n\n", email, result.Link)
	_, _ = fmt.Fprintln(out, "The link can be used once and expires soon. Share it only with the account owner.")
	return nil
}
