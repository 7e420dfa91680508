/*
smtp.go - Credential delivery over SMTP

PURPOSE:
  Sends the temporary password of a newly provisioned account to its
  owner. Delivery is best-effort: the caller records whether it worked and
  never undoes the approval because of a failure here.

NOT CONFIGURED:
  With an empty Host every send returns ErrNotConfigured. The approval
  result then reports emailSent=false and echoes the password instead.
*/
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"text/template"

	"github.com/sirupsen/logrus"

	"github.com/warp/personnel-engine/changerequest"
)

var ErrNotConfigured = errors.New("smtp is not configured")

// SMTPConfig holds the relay settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPSender implements changerequest.CredentialSender.
type SMTPSender struct {
	cfg  SMTPConfig
	send SendFunc
	log  logrus.FieldLogger
}

func NewSMTPSender(cfg SMTPConfig, log logrus.FieldLogger) *SMTPSender {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &SMTPSender{cfg: cfg, send: smtp.SendMail, log: log}
}

// WithSendFunc replaces the transport, used by tests.
func (s *SMTPSender) WithSendFunc(fn SendFunc) *SMTPSender {
	s.send = fn
	return s
}

func (s *SMTPSender) Configured() bool {
	return s.cfg.Host != "" && s.cfg.From != ""
}

func (s *SMTPSender) SendCredentials(ctx context.Context, c changerequest.Credentials) error {
	if !s.Configured() {
		return ErrNotConfigured
	}
	if strings.TrimSpace(c.To) == "" {
		return errors.New("recipient address is empty")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg, err := s.compose(c)
	if err != nil {
		return err
	}

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	if err := s.send(addr, auth, s.cfg.From, []string{c.To}, msg); err != nil {
		return fmt.Errorf("failed to send credentials to %s: %w", c.To, err)
	}

	if s.log != nil {
		s.log.WithFields(logrus.Fields{
			"username": c.Username,
			"to":       c.To,
		}).Info("credentials sent")
	}
	return nil
}

var credentialsBody = template.Must(template.New("credentials").Parse(
	`Your account has been created.

Username:           {{.Username}}
Temporary password: {{.TempPassword}}
Role:               {{.Role}}
{{- if .UnitLabel}}
Unit:               {{.UnitLabel}}
{{- end}}

You will be asked to choose a new password at first login.
`))

func (s *SMTPSender) compose(c changerequest.Credentials) ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", s.cfg.From)
	fmt.Fprintf(&buf, "To: %s\r\n", c.To)
	buf.WriteString("Subject: Your account credentials\r\n")
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	if err := credentialsBody.Execute(&buf, c); err != nil {
		return nil, fmt.Errorf("failed to render message: %w", err)
	}
	return buf.Bytes(), nil
}
