// Package mailer delivers API tokens by email
package mailer

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"

	"gopkg.in/gomail.v2"
)

// Subjects for the two token emails
const (
	SubjectNewToken      = "OpenAQI API Token Request"
	SubjectRetrieveToken = "OpenAQI Retrieve API Token"
)

var bodyTemplate = template.Must(template.New("token").Parse(
	"Below is your token for access to OpenAQI's API:\n{{.Token}}\n" +
		"For instructions on how to use your API token, visit openaqi.io/api\n\n" +
		"Kind Regards,\n\nOpenAQI Support\nsupport@openaqi.io",
))

// Message is a token email
type Message struct {
	To      string
	Subject string
	Token   string
}

// Notifier delivers a token email
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPConfig holds SMTP delivery settings
type SMTPConfig struct {
	Host          string
	Port          int
	Username      string
	Password      string
	Sender        string
	SubjectPrefix string
}

// SMTPNotifier sends token emails through an SMTP relay
type SMTPNotifier struct {
	config SMTPConfig
	dialer *gomail.Dialer
}

// NewSMTPNotifier creates a notifier for cfg
func NewSMTPNotifier(cfg SMTPConfig) *SMTPNotifier {
	return &SMTPNotifier{
		config: cfg,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
	}
}

// Configured reports whether a relay host was set
func (n *SMTPNotifier) Configured() bool {
	return n.config.Host != ""
}

// Send renders and delivers msg. The context is checked before dialing since
// gomail has no context support.
func (n *SMTPNotifier) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !n.Configured() {
		return fmt.Errorf("smtp relay not configured")
	}

	m, err := n.compose(msg)
	if err != nil {
		return err
	}
	if err := n.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", msg.To, err)
	}
	return nil
}

func (n *SMTPNotifier) compose(msg Message) (*gomail.Message, error) {
	body, err := RenderBody(msg.Token)
	if err != nil {
		return nil, err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.config.Sender)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", FormatSubject(n.config.SubjectPrefix, msg.Subject))
	m.SetBody("text/plain", body)
	return m, nil
}

// FormatSubject joins the configured prefix and subject with a space
func FormatSubject(prefix, subject string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return subject
	}
	return prefix + " " + subject
}

// RenderBody returns the plain-text body carrying token
func RenderBody(token string) (string, error) {
	var buf bytes.Buffer
	if err := bodyTemplate.Execute(&buf, struct{ Token string }{token}); err != nil {
		return "", fmt.Errorf("failed to render email body: %w", err)
	}
	return buf.String(), nil
}
