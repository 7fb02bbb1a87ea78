package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
)

// Message is one email. Every recipient receives the same body.
type Message struct {
	To      []string
	Subject string
	Body    string
}

type Mailer interface {
	Send(ctx context.Context, m Message) error
}

type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

// SMTPMailer delivers messages through an SMTP relay with PLAIN auth.
type SMTPMailer struct {
	c SMTPConfig
}

func NewSMTPMailer(c SMTPConfig) *SMTPMailer {
	return &SMTPMailer{c: c}
}

func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if m.c.Username != "" {
		auth = smtp.PlainAuth("", m.c.Username, m.c.Password, m.c.Host)
	}

	addr := net.JoinHostPort(m.c.Host, m.c.Port)
	if err := smtp.SendMail(addr, auth, m.c.From, msg.To, encode(m.c.From, msg)); err != nil {
		return fmt.Errorf("smtp: send %q: %w", msg.Subject, err)
	}

	return nil
}

func encode(from string, msg Message) []byte {
	return fmt.Appendf(nil, "From: %s\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"MIME-Version: 1.0\r\n"+
		"Content-Type: text/plain; charset=\"utf-8\"\r\n"+
		"\r\n"+
		"%s\r\n", from, strings.Join(msg.To, ","), msg.Subject, strings.ReplaceAll(msg.Body, "\n", "\r\n"))
}

// LogMailer only logs messages, for development.
type LogMailer struct{}

func (LogMailer) Send(ctx context.Context, m Message) error {
	slog.InfoContext(ctx, "mail: message not delivered, log driver", "to", m.To, "subject", m.Subject, "body", m.Body)
	return nil
}
