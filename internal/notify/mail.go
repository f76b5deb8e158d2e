package notify

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"
)

// Mailer delivers one HTML email.
type Mailer interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// SMTPMailer sends mail through an SMTP relay, one connection per message.
type SMTPMailer struct {
	from string
	dial func() (gomail.SendCloser, error)
}

// NewSMTPMailer creates a mailer for the given relay. Credentials may be empty for
// unauthenticated relays.
func NewSMTPMailer(host string, port int, username, password, from string) *SMTPMailer {
	d := gomail.NewDialer(host, port, username, password)
	return &SMTPMailer{from: from, dial: d.Dial}
}

func (m *SMTPMailer) Send(ctx context.Context, to, subject, htmlBody string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", htmlBody)

	s, err := m.dial()
	if err != nil {
		return fmt.Errorf("failed to connect to smtp relay: %w", err)
	}
	defer s.Close()

	if err := gomail.Send(s, msg); err != nil {
		return fmt.Errorf("failed to send mail to %s: %w", MaskEmail(to), err)
	}
	return nil
}
