// Package notify dispatches signer and owner notifications over email and SMS.
// Tablet signers sign in person and receive nothing.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"

	"github.com/avissapr/signflow/internal/models"
	"github.com/rs/zerolog"
)

var templates = template.Must(template.New("notify").Parse(`
{{define "link"}}<p>Hello {{.Name}},</p>
<p>You have been asked to sign <b>{{.Collection}}</b>.</p>
<p><a href="{{.Link}}">Open the documents</a></p>{{end}}
{{define "decline"}}<p>{{.Name}} declined to sign <b>{{.Collection}}</b>.</p>
{{if .Reason}}<p>Reason: {{.Reason}}</p>{{end}}{{end}}
{{define "otp"}}<p>Your verification code is <b>{{.Code}}</b>.</p>{{end}}
{{define "signed"}}<p>Hello {{.Name}},</p>
<p>All parties signed <b>{{.Collection}}</b>.</p>
<p><a href="{{.Link}}">Download the signed documents</a></p>{{end}}
`))

type message struct {
	Name       string
	Collection string
	Link       string
	Reason     string
	Code       string
}

// Dispatcher implements the engine's Notifier over a mailer and an SMS sender.
type Dispatcher struct {
	mail   Mailer
	sms    SMSSender
	logger zerolog.Logger
}

// NewDispatcher creates a dispatcher. sms may be nil when no gateway is configured; SMS
// signers then fall back to email.
func NewDispatcher(mail Mailer, sms SMSSender, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{mail: mail, sms: sms, logger: logger.With().Str("component", "notify").Logger()}
}

// SendSigningLinkToNextSigner sends the signing link over the signer's channel.
func (d *Dispatcher) SendSigningLinkToNextSigner(ctx context.Context, c *models.DocumentCollection, s *models.Signer, link string) error {
	switch d.channel(s) {
	case models.SendByTablet:
		d.logger.Debug().Str("signer_id", s.ID.String()).Msg("tablet signer, no link sent")
		return nil
	case models.SendBySMS:
		return d.sms.SendSMS(ctx, s.Contact.Phone, fmt.Sprintf("Please sign %s: %s", c.Name, link))
	}
	body, err := render("link", message{Name: s.Contact.Name, Collection: c.Name, Link: link})
	if err != nil {
		return err
	}
	return d.mail.Send(ctx, s.Contact.Email, "Documents waiting for your signature: "+c.Name, body)
}

// SendDocumentDecline tells the collection owner that a signer declined.
func (d *Dispatcher) SendDocumentDecline(ctx context.Context, c *models.DocumentCollection, s *models.Signer) error {
	if c.OwnerEmail == "" {
		d.logger.Warn().Str("collection_id", c.ID.String()).Msg("collection owner has no email, decline notice dropped")
		return nil
	}
	body, err := render("decline", message{Name: s.Contact.Name, Collection: c.Name, Reason: s.DeclineReason})
	if err != nil {
		return err
	}
	return d.mail.Send(ctx, c.OwnerEmail, "Signature declined: "+c.Name, body)
}

// SendOtpCode delivers a verification code and returns the masked destination it went to.
func (d *Dispatcher) SendOtpCode(ctx context.Context, s *models.Signer, code string) (string, error) {
	if d.channel(s) == models.SendBySMS {
		if err := d.sms.SendSMS(ctx, s.Contact.Phone, "Your verification code is "+code); err != nil {
			return "", err
		}
		return MaskPhone(s.Contact.Phone), nil
	}
	if s.Contact.Email == "" {
		return "", fmt.Errorf("signer %s has no email or phone for verification codes", s.ID)
	}
	body, err := render("otp", message{Code: code})
	if err != nil {
		return "", err
	}
	if err := d.mail.Send(ctx, s.Contact.Email, "Your verification code", body); err != nil {
		return "", err
	}
	return MaskEmail(s.Contact.Email), nil
}

// SendSignedDocument sends the download link of a completed collection.
func (d *Dispatcher) SendSignedDocument(ctx context.Context, c *models.DocumentCollection, s *models.Signer, downloadLink string) error {
	switch d.channel(s) {
	case models.SendBySMS:
		return d.sms.SendSMS(ctx, s.Contact.Phone, fmt.Sprintf("%s is signed: %s", c.Name, downloadLink))
	case models.SendByTablet:
		if s.Contact.Email == "" {
			return nil
		}
	}
	body, err := render("signed", message{Name: s.Contact.Name, Collection: c.Name, Link: downloadLink})
	if err != nil {
		return err
	}
	return d.mail.Send(ctx, s.Contact.Email, "Signed: "+c.Name, body)
}

func (d *Dispatcher) SendEmailNotification(ctx context.Context, to, subject, body string) error {
	return d.mail.Send(ctx, to, subject, body)
}

// channel resolves the effective channel: SMS needs a phone and a gateway, otherwise email.
func (d *Dispatcher) channel(s *models.Signer) models.SendingMethod {
	switch s.SendingMethod {
	case models.SendByTablet:
		return models.SendByTablet
	case models.SendBySMS:
		if d.sms != nil && s.Contact.Phone != "" {
			return models.SendBySMS
		}
	}
	return models.SendByEmail
}

func render(name string, data message) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to render %s notification: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// MaskEmail hides the local part of an address except its first character.
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return strings.Repeat("*", len(email))
	}
	return email[:1] + strings.Repeat("*", at-1) + email[at:]
}

// MaskPhone hides every digit but the last four.
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		return strings.Repeat("*", len(phone))
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}
