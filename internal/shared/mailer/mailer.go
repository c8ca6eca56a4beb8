package mailer

import (
	"fmt"
	"net/smtp"
	"strings"
)

// Config SMTP 配置
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Mailer is a thin fire-and-forget SMTP sender.
// Template rendering happens outside the engine; the engine only hands over
// a symbolic template name plus key/value data, and this client turns that
// into a plain-text notification. A Mailer with an empty host is a no-op.
type Mailer struct {
	cfg Config
}

// New creates a Mailer. Returns a no-op sender when host is empty.
func New(cfg Config) *Mailer {
	return &Mailer{cfg: cfg}
}

// Enabled reports whether SMTP is configured
func (m *Mailer) Enabled() bool {
	return m != nil && m.cfg.Host != ""
}

// Send delivers one notification mail. Callers treat errors as warnings:
// a failed mail never affects the transition that triggered it.
func (m *Mailer) Send(to []string, subject, template string, data map[string]string) error {
	if !m.Enabled() {
		return nil
	}
	if len(to) == 0 {
		return nil
	}

	var body strings.Builder
	body.WriteString(fmt.Sprintf("Template: %s\r\n\r\n", template))
	for k, v := range data {
		body.WriteString(fmt.Sprintf("%s: %s\r\n", k, v))
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s",
		m.cfg.From, strings.Join(to, ", "), subject, body.String())

	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	return smtp.SendMail(addr, auth, m.cfg.From, to, []byte(msg))
}
