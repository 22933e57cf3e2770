package notification

import (
	"context"
	"fmt"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

const (
	DefaultSendGridHost = "https://api.sendgrid.com"
	sendGridMailPath    = "/v3/mail/send"
)

// SendGridSender delivers HTML email through the SendGrid v3 mail API.
type SendGridSender struct {
	apiKey string
	host   string
	from   *sgmail.Email
	client *rest.Client
}

type SendGridOption func(*SendGridSender)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) SendGridOption {
	return func(s *SendGridSender) { s.client = &rest.Client{HTTPClient: c} }
}

// NewSendGridSender builds a sender. from may be a bare address or
// "Name <address>".
func NewSendGridSender(apiKey, host, from string, opts ...SendGridOption) *SendGridSender {
	if host == "" {
		host = DefaultSendGridHost
	}
	s := &SendGridSender{
		apiKey: apiKey,
		host:   strings.TrimRight(host, "/"),
		from:   parseSender(from),
		client: &rest.Client{HTTPClient: &http.Client{Timeout: 10 * time.Second}},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func parseSender(from string) *sgmail.Email {
	if addr, err := mail.ParseAddress(from); err == nil {
		return sgmail.NewEmail(addr.Name, addr.Address)
	}
	return sgmail.NewEmail("", from)
}

func (s *SendGridSender) SendEmail(ctx context.Context, to, subject, body string) error {
	m := sgmail.NewV3MailInit(s.from, subject, sgmail.NewEmail("", to), sgmail.NewContent("text/html", body))

	req := sendgrid.GetRequest(s.apiKey, sendGridMailPath, s.host)
	req.Method = rest.Post
	req.Body = sgmail.GetRequestBody(m)

	resp, err := s.client.SendWithContext(ctx, req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := strings.TrimSpace(resp.Body)
		if len(detail) > 1024 {
			detail = detail[:1024]
		}
		return fmt.Errorf("email api returned %d: %s", resp.StatusCode, detail)
	}
	return nil
}
