// Package email provides the transactional email transport.
package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
	"time"
)

// Config holds the SMTP relay settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	UseTLS   bool
	Timeout  time.Duration
}

type sendFunc func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error

// Dispatcher sends HTML email through an SMTP relay. Unlike the push
// transport it holds no persistent connection; every dispatch dials fresh.
type Dispatcher struct {
	cfg    Config
	send   sendFunc
	logger *slog.Logger
}

// NewDispatcher creates a configured email dispatcher.
func NewDispatcher(cfg Config, logger *slog.Logger) *Dispatcher {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	d := &Dispatcher{
		cfg:    cfg,
		logger: logger.With("component", "EmailDispatcher"),
	}
	if cfg.UseTLS {
		d.send = d.sendWithStartTLS
	} else {
		d.send = smtp.SendMail
	}
	return d
}

// Dispatch builds the message and sends it, guarded by the context and the
// configured timeout.
func (d *Dispatcher) Dispatch(ctx context.Context, to, subject, html string) error {
	msg := buildMessage(d.cfg.From, to, subject, html)
	addr := fmt.Sprintf("%s:%d", d.cfg.Host, d.cfg.Port)

	var auth smtp.Auth
	if d.cfg.Username != "" {
		auth = smtp.PlainAuth("", d.cfg.Username, d.cfg.Password, d.cfg.Host)
	}

	done := make(chan error, 1)
	go func() { done <- d.send(addr, auth, d.cfg.From, []string{to}, msg) }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send failed: %w", err)
		}
		d.logger.Info("Email dispatched.", "to", to)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("email send cancelled: %w", ctx.Err())
	case <-time.After(d.cfg.Timeout):
		return fmt.Errorf("email send timed out after %s", d.cfg.Timeout)
	}
}

// buildMessage assembles the RFC 2822 headers and HTML body.
func buildMessage(from, to, subject, html string) []byte {
	if subject == "" {
		subject = "Notification"
	}

	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("From: %s\r\n", from))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", to))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(html)
	return []byte(msg.String())
}

// sendWithStartTLS runs the explicit client flow so TLS is negotiated before
// credentials go over the wire.
func (d *Dispatcher) sendWithStartTLS(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
	client, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer func() { _ = client.Close() }()

	if err := client.StartTLS(&tls.Config{ServerName: d.cfg.Host}); err != nil {
		return fmt.Errorf("failed to start TLS: %w", err)
	}
	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	for _, recipient := range to {
		if err := client.Rcpt(recipient); err != nil {
			return fmt.Errorf("failed to add recipient %s: %w", recipient, err)
		}
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to open data writer: %w", err)
	}
	if _, err := writer.Write(msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to flush message: %w", err)
	}
	return client.Quit()
}
