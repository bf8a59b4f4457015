package notify

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

const resetSubject = "Reset your duet password"

// SendGridMailer delivers password reset links through SendGrid.
type SendGridMailer struct {
	client *sendgrid.Client
	from   *mail.Email
}

func NewSendGridMailer(apiKey, from string) *SendGridMailer {
	return &SendGridMailer{
		client: sendgrid.NewSendClient(apiKey),
		from:   mail.NewEmail("duet", from),
	}
}

func (m *SendGridMailer) SendPasswordReset(ctx context.Context, email, link string) error {
	plain, html := resetBody(link)
	message := mail.NewSingleEmail(m.from, resetSubject, mail.NewEmail("", email), plain, html)
	resp, err := m.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("failed to send mail: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sendgrid rejected mail: status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}

// LogMailer writes reset links to the log. Used when no mail provider is configured.
type LogMailer struct{}

func (LogMailer) SendPasswordReset(_ context.Context, email, link string) error {
	log.Warn().Str("email", email).Str("link", link).Msg("password reset requested, no mailer configured")
	return nil
}

func resetBody(link string) (string, string) {
	plain := fmt.Sprintf("Someone asked to reset your duet password.\n\nOpen this link to choose a new one:\n%s\n\nIf it wasn't you, ignore this mail.", link)
	html := fmt.Sprintf(`<p>Someone asked to reset your duet password.</p><p><a href="%s">Choose a new password</a></p><p>If it wasn't you, ignore this mail.</p>`, link)
	return plain, html
}
