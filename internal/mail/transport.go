// Package mail renders and delivers voter email over SMTP.
package mail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gopkg.in/gomail.v2"

	"github.com/iliyamo/election-backend/internal/config"
)

// ErrNoTransport is returned when neither SMTP server is configured.
var ErrNoTransport = errors.New("mail: no smtp server configured")

// dialer is the part of *gomail.Dialer the transport needs.
type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// Transport sends one HTML message at a time through the primary SMTP
// server, falling back to the backup server when the primary fails.
type Transport struct {
	from    string
	dryRun  bool
	primary dialer
	backup  dialer
	log     *slog.Logger
}

func newDialer(c config.SMTPConfig) dialer {
	if c.Host == "" {
		return nil
	}
	return gomail.NewDialer(c.Host, c.Port, c.Username, c.Password)
}

func NewTransport(cfg config.MailConfig, log *slog.Logger) *Transport {
	if log == nil {
		log = slog.Default()
	}
	return &Transport{
		from:    cfg.From,
		dryRun:  cfg.DryRun,
		primary: newDialer(cfg.Primary),
		backup:  newDialer(cfg.Backup),
		log:     log,
	}
}

// Send delivers html to a single recipient.  Bodies without a <body> tag
// are wrapped in a plain document first.
func (t *Transport) Send(ctx context.Context, to, subject, html string) error {
	if t.dryRun {
		t.log.Info("mail dry run", slog.String("to", to), slog.String("subject", subject))
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", t.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", FormatHTML(html))

	if t.primary == nil && t.backup == nil {
		return ErrNoTransport
	}
	var primaryErr error
	if t.primary != nil {
		if primaryErr = t.primary.DialAndSend(m); primaryErr == nil {
			t.log.Info("mail sent", slog.String("to", to), slog.String("via", "primary"))
			return nil
		}
		t.log.Warn("primary smtp failed", slog.String("to", to), slog.Any("err", primaryErr))
	}
	if t.backup == nil {
		return fmt.Errorf("send mail: %w", primaryErr)
	}
	if err := t.backup.DialAndSend(m); err != nil {
		return fmt.Errorf("send mail via backup: %w", errors.Join(primaryErr, err))
	}
	t.log.Info("mail sent", slog.String("to", to), slog.String("via", "backup"))
	return nil
}
