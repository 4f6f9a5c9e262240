// Package email sends localized transactional email over SMTP.
package email

import (
	"bytes"
	"fmt"
	"html/template"
	"mime"
	"net/smtp"
	"strings"

	"storefront/api/internal/i18n"
)

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service provides email sending
type Service struct {
	config   Config
	server   string
	auth     smtp.Auth
	messages *i18n.Bundle
	send     sendFunc
}

// NewService creates a new email service. messages translates subjects and
// bodies into each recipient's language.
func NewService(config Config, messages *i18n.Bundle) *Service {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}

	return &Service{
		config:   config,
		server:   config.Host + ":" + config.Port,
		auth:     auth,
		messages: messages,
		send:     smtp.SendMail,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// Recipient is the addressee of a transactional email.
type Recipient struct {
	Email  string
	Name   string
	Locale string
}

// TicketReply describes an agent response the customer is notified about.
type TicketReply struct {
	Number  int64
	Subject string
	Agent   string
	Excerpt string
	URL     string
}

type layoutData struct {
	Lang    string
	OrgName string
	Heading string
	Body    string
	Quote   string
	Button  string
	URL     string
	Footer  string
}

func (s *Service) SendVerificationEmail(to Recipient, orgName, verificationURL string) error {
	l := s.localizer(to.Locale)
	data := layoutData{
		OrgName: orgName,
		Heading: l.T("email.verify.heading", map[string]any{"Name": to.Name}),
		Body:    l.T("email.verify.body", nil),
		Button:  l.T("email.verify.button", nil),
		URL:     verificationURL,
	}
	return s.sendLayout(to, l, l.T("email.verify.subject", nil), data)
}

func (s *Service) SendPasswordResetEmail(to Recipient, orgName, resetURL string) error {
	l := s.localizer(to.Locale)
	data := layoutData{
		OrgName: orgName,
		Heading: l.T("email.reset.heading", nil),
		Body:    l.T("email.reset.body", nil),
		Button:  l.T("email.reset.button", nil),
		URL:     resetURL,
	}
	return s.sendLayout(to, l, l.T("email.reset.subject", nil), data)
}

func (s *Service) SendTicketReplyEmail(to Recipient, orgName string, reply TicketReply) error {
	l := s.localizer(to.Locale)
	data := layoutData{
		OrgName: orgName,
		Heading: l.T("email.ticket_reply.heading", map[string]any{"Agent": reply.Agent}),
		Quote:   excerpt(reply.Excerpt, 600),
		Button:  l.T("email.ticket_reply.button", nil),
		URL:     reply.URL,
	}
	subject := l.T("email.ticket_reply.subject", map[string]any{"Number": reply.Number, "Subject": reply.Subject})
	return s.sendLayout(to, l, subject, data)
}

func (s *Service) localizer(locale string) *i18n.Localizer {
	return s.messages.Localizer(s.messages.Negotiate(locale, "en"))
}

func (s *Service) sendLayout(to Recipient, l *i18n.Localizer, subject string, data layoutData) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}
	data.Lang = l.Lang()
	data.Footer = l.T("email.footer", map[string]any{"Org": data.OrgName})

	var html bytes.Buffer
	if err := layoutTemplate.Execute(&html, data); err != nil {
		return fmt.Errorf("render email: %w", err)
	}
	return s.send(s.server, s.auth, s.config.From, []string{to.Email}, s.buildMessage(to.Email, subject, plainText(data), html.String()))
}

func (s *Service) buildMessage(to, subject, text, htmlBody string) []byte {
	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", s.config.FromName), s.config.From)
	}

	boundary := "storefront-alternative"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", text)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return msg.Bytes()
}

func plainText(data layoutData) string {
	parts := []string{data.Heading}
	for _, p := range []string{data.Body, data.Quote} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if data.URL != "" {
		parts = append(parts, data.Button+": "+data.URL)
	}
	parts = append(parts, "--", data.Footer)
	return strings.Join(parts, "\r\n\r\n")
}

func excerpt(text string, limit int) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return strings.TrimSpace(string(runes[:limit])) + "…"
}

var layoutTemplate = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html lang="{{.Lang}}">
<head>
    <meta charset="UTF-8">
    <title>{{.Heading}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0066cc; padding-bottom: 10px; margin-bottom: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #0066cc; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .quote { border-left: 3px solid #ddd; padding-left: 12px; color: #555; white-space: pre-wrap; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
        .link { word-break: break-all; color: #0066cc; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.OrgName}}</h1>
    </div>

    <h2>{{.Heading}}</h2>
    {{if .Body}}<p>{{.Body}}</p>{{end}}
    {{if .Quote}}<blockquote class="quote">{{.Quote}}</blockquote>{{end}}
    {{if .URL}}
    <p>
        <a href="{{.URL}}" class="button">{{.Button}}</a>
    </p>
    <p class="link">{{.URL}}</p>
    {{end}}

    <div class="footer">
        <p>{{.Footer}}</p>
    </div>
</body>
</html>`))
