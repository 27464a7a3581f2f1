package email

import (
	"fmt"
	"net/smtp"

	"github.com/rs/zerolog/log"

	"flock/internal/platform/config"
)

// Sender delivers a single message. Job executors depend on this
// interface so tests can substitute a recorder.
type Sender interface {
	Send(to, subject, body string) error
}

type SMTPSender struct {
	cfg config.SMTPConfig
}

func NewSMTPSender(cfg config.SMTPConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

func (s *SMTPSender) Send(to, subject, body string) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	msg := []byte(fmt.Sprintf(
		"From: %s <%s>\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n",
		s.cfg.FromName, s.cfg.FromAddress, to, subject, body,
	))

	return smtp.SendMail(addr, auth, s.cfg.FromAddress, []string{to}, msg)
}

// LogSender just logs the message. Used in development when no SMTP
// relay is configured.
type LogSender struct{}

func (LogSender) Send(to, subject, _ string) error {
	log.Info().Str("to", to).Str("subject", subject).Msg("email send (log only)")
	return nil
}

func NewSender(cfg config.EmailConfig) Sender {
	if cfg.Provider == "smtp" && cfg.SMTP.Host != "" {
		return NewSMTPSender(cfg.SMTP)
	}
	return LogSender{}
}
