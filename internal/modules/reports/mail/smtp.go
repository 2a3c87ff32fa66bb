package mail

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"

	"github.com/gaborage/go-bricks-mis-reports/internal/config"
	"github.com/gaborage/go-bricks/logger"
)

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPSender delivers messages through an SMTP relay using PLAIN auth.
// smtp.SendMail upgrades to TLS when the server offers STARTTLS.
type SMTPSender struct {
	host     string
	port     int
	username string
	password string
	logger   logger.Logger
	sendFn   sendMailFunc
}

func NewSMTPSender(cfg config.SMTPConfig, log logger.Logger) *SMTPSender {
	return &SMTPSender{
		host:     cfg.Host,
		port:     cfg.Port,
		username: cfg.Username,
		password: cfg.Password,
		logger:   log,
		sendFn:   smtp.SendMail,
	}
}

// WithPassword returns a copy that authenticates with password, for
// credentials resolved after construction.
func (s *SMTPSender) WithPassword(password string) *SMTPSender {
	c := *s
	c.password = password
	return &c
}

// Send returns the generated Message-ID. ctx is only checked before
// dialing; net/smtp has no context support.
func (s *SMTPSender) Send(ctx context.Context, msg *Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	raw, err := msg.Build()
	if err != nil {
		return "", fmt.Errorf("build message: %w", err)
	}

	var auth smtp.Auth
	if s.username != "" {
		auth = smtp.PlainAuth("", s.username, s.password, s.host)
	}
	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))

	if err := s.sendFn(addr, auth, msg.From, msg.To, raw); err != nil {
		return "", fmt.Errorf("smtp send via %s: %w", addr, err)
	}

	s.logger.Info().
		Str("message_id", msg.ID).
		Str("subject", msg.Subject).
		Int("recipients", len(msg.To)).
		Msg("Email sent via SMTP")
	return msg.ID, nil
}
