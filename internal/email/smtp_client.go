package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/config"
	"github.com/brandon/mailsync/internal/parts"
	"github.com/brandon/mailsync/pkg/types"
)

// sendTimeout bounds one SMTP submission
const sendTimeout = 5 * time.Minute

// SMTPClient submits composed messages for one account
type SMTPClient struct {
	config *config.AccountConfig
	logger *logrus.Logger
}

// NewSMTPClient creates a new SMTP client
func NewSMTPClient(cfg *config.AccountConfig, logger *logrus.Logger) *SMTPClient {
	return &SMTPClient{
		config: cfg,
		logger: logger,
	}
}

// Send submits raw, addressed to every To, Cc and Bcc recipient of msg,
// with the identity as envelope sender
func (c *SMTPClient) Send(ctx context.Context, identity *types.Identity, msg *types.Message, raw []byte) error {
	if c.config.SMTPHost == "" {
		return fmt.Errorf("no SMTP server configured for %s", c.config.Name)
	}
	recipients := append(append(msg.To.Strings(), msg.Cc.Strings()...), msg.Bcc.Strings()...)
	if len(recipients) == 0 {
		return fmt.Errorf("message %d has no recipients", msg.ID)
	}
	raw, err := parts.WithoutBcc(raw)
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(c.config.SMTPHost, fmt.Sprint(c.config.SMTPPort))
	tlsConfig := &tls.Config{ServerName: c.config.SMTPHost, MinVersion: tls.VersionTLS12}

	deadline := time.Now().Add(sendTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	dialer := &net.Dialer{Deadline: deadline}

	var conn net.Conn
	if c.config.SMTPPort == 465 {
		// TLS connection (port 465)
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer conn.Close()
	if err := conn.SetDeadline(deadline); err != nil {
		return err
	}

	// Abort the conversation when the worker is interrupted
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	client, err := smtp.NewClient(conn, c.config.SMTPHost)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer client.Close()

	if _, isTLS := conn.(*tls.Conn); !isTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				return fmt.Errorf("failed to start TLS: %w", err)
			}
		}
	}

	if c.config.SMTPPassword != "" {
		auth := smtp.PlainAuth("", c.config.SMTPUsername, c.config.SMTPPassword, c.config.SMTPHost)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("failed to authenticate: %w", err)
		}
	}

	if err := client.Mail(identity.Email); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	for _, to := range recipients {
		if err := client.Rcpt(to); err != nil {
			return fmt.Errorf("failed to set recipient %s: %w", to, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to send data command: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"account":    c.config.Name,
		"recipients": len(recipients),
	}).Info("Submitted message")
	return client.Quit()
}
