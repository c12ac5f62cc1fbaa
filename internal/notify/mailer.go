package notify

import (
	"context"
	"fmt"

	"github.com/wneessen/go-mail"
)

type Message struct {
	Subject     string
	Body        string
	From        string
	To          []string
	ContentType string
}

// Mailer delivers a message. Delivery failures are returned to the caller as is.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
}

// SMTPMailer sends mail through an SMTP relay, upgrading to TLS when the relay offers it
// and authenticating when a username is configured.
type SMTPMailer struct {
	cfg  SMTPConfig
	send func(ctx context.Context, msg *mail.Msg) error
}

func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	m := &SMTPMailer{cfg: cfg}
	m.send = m.dialAndSend
	return m
}

func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return fmt.Errorf("send mail %q: no recipients", msg.Subject)
	}
	mm, err := buildMessage(msg)
	if err != nil {
		return fmt.Errorf("build mail %q: %w", msg.Subject, err)
	}
	if err := m.send(ctx, mm); err != nil {
		return fmt.Errorf("send mail %q: %w", msg.Subject, err)
	}
	return nil
}

func (m *SMTPMailer) dialAndSend(ctx context.Context, msg *mail.Msg) error {
	opts := []mail.Option{
		mail.WithPort(m.cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if m.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.cfg.Username),
			mail.WithPassword(m.cfg.Password),
		)
	}
	client, err := mail.NewClient(m.cfg.Host, opts...)
	if err != nil {
		return err
	}
	return client.DialAndSendWithContext(ctx, msg)
}

// buildMessage validates the addresses and leaves header and body encoding to go-mail.
func buildMessage(msg Message) (*mail.Msg, error) {
	mm := mail.NewMsg()
	if err := mm.From(msg.From); err != nil {
		return nil, fmt.Errorf("from address: %w", err)
	}
	if err := mm.To(msg.To...); err != nil {
		return nil, fmt.Errorf("to address: %w", err)
	}
	mm.Subject(msg.Subject)
	mm.SetDate()

	contentType := mail.TypeTextPlain
	if msg.ContentType != "" {
		contentType = mail.ContentType(msg.ContentType)
	}
	mm.SetBodyString(contentType, msg.Body)
	return mm, nil
}
