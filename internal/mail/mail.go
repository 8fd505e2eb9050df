// Package mail sends email through the Gmail REST API.
package mail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BTreeMap/AssistPipe/internal/googleapi"
	"github.com/BTreeMap/AssistPipe/internal/models"
)

const (
	baseURL = "https://gmail.googleapis.com/gmail/v1"

	// ScopeGmailSend grants permission to send mail as the user.
	ScopeGmailSend = "https://www.googleapis.com/auth/gmail.send"
)

// Message is an outgoing email.
type Message struct {
	To      string
	Subject string
	Body    string
	HTML    bool
}

// Sender is the outgoing mail surface.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Opts holds configuration options for the Gmail sender.
type Opts struct {
	Client *googleapi.Client
	From   string
}

// Option defines a configuration option for the Gmail sender.
type Option func(*Opts)

// WithClient sets the authenticated Google API client.
func WithClient(client *googleapi.Client) Option {
	return func(o *Opts) { o.Client = client }
}

// WithFrom sets the From header on outgoing mail. Optional; Gmail fills in
// the authenticated user when absent.
func WithFrom(address string) Option {
	return func(o *Opts) { o.From = address }
}

// GmailSender implements Sender against the Gmail API.
type GmailSender struct {
	client *googleapi.Client
	from   string
}

// NewGmailSender creates a Gmail-backed sender.
func NewGmailSender(opts ...Option) (*GmailSender, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Client == nil {
		return nil, fmt.Errorf("google API client must be provided")
	}
	return &GmailSender{client: cfg.Client, from: cfg.From}, nil
}

// Send builds an RFC 2822 message and posts it to the Gmail send endpoint.
func (s *GmailSender) Send(ctx context.Context, msg Message) error {
	if strings.TrimSpace(msg.To) == "" {
		return models.ErrEmptyRecipient
	}
	if strings.TrimSpace(msg.Body) == "" {
		return models.ErrEmptyBody
	}

	raw := BuildRFC2822(s.from, msg)
	payload := map[string]string{
		"raw": base64.RawURLEncoding.EncodeToString([]byte(raw)),
	}

	data, err := s.client.Request(ctx, http.MethodPost, baseURL+"/users/me/messages/send", payload)
	if err != nil {
		slog.Error("GmailSender send failed", "to", msg.To, "error", err)
		return fmt.Errorf("send mail: %w", err)
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("parse send response: %w", err)
	}
	slog.Info("GmailSender sent email", "to", msg.To, "subject", msg.Subject, "messageID", resp.ID)
	return nil
}

// BuildRFC2822 assembles the wire form of a message. Header values have CR
// and LF stripped so user input cannot inject extra headers.
func BuildRFC2822(from string, msg Message) string {
	var b strings.Builder
	if from != "" {
		fmt.Fprintf(&b, "From: %s\r\n", sanitizeHeader(from))
	}
	fmt.Fprintf(&b, "To: %s\r\n", sanitizeHeader(msg.To))
	fmt.Fprintf(&b, "Subject: %s\r\n", sanitizeHeader(msg.Subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	if msg.HTML {
		b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	} else {
		b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	}
	b.WriteString("\r\n")
	b.WriteString(msg.Body)
	return b.String()
}

func sanitizeHeader(value string) string {
	value = strings.ReplaceAll(value, "\r", "")
	value = strings.ReplaceAll(value, "\n", "")
	return strings.TrimSpace(value)
}

// MeetingInvitation renders the HTML body for a meeting confirmation email.
func MeetingInvitation(personName string, event models.Event) Message {
	var b strings.Builder
	b.WriteString("<html><body>")
	fmt.Fprintf(&b, "<p>Hi %s,</p>", personName)
	fmt.Fprintf(&b, "<p>A meeting has been scheduled: <b>%s</b></p>", event.Summary)
	fmt.Fprintf(&b, "<p>When: %s to %s</p>",
		event.Start.Format("Monday, 2 January 2006 15:04"),
		event.End.Format("15:04"))
	if event.Location != "" {
		fmt.Fprintf(&b, "<p>Where: %s</p>", event.Location)
	}
	if event.MeetLink != "" {
		fmt.Fprintf(&b, "<p>Join: <a href=%q>%s</a></p>", event.MeetLink, event.MeetLink)
	}
	if event.HTMLLink != "" {
		fmt.Fprintf(&b, "<p><a href=%q>View in calendar</a></p>", event.HTMLLink)
	}
	b.WriteString("</body></html>")
	return Message{
		Subject: "Meeting: " + event.Summary,
		Body:    b.String(),
		HTML:    true,
	}
}

// MockSender implements Sender by recording messages (for tests).
type MockSender struct {
	Sent []Message
	Err  error
}

func NewMockSender() *MockSender {
	return &MockSender{}
}

func (m *MockSender) Send(ctx context.Context, msg Message) error {
	if m.Err != nil {
		return m.Err
	}
	m.Sent = append(m.Sent, msg)
	return nil
}
