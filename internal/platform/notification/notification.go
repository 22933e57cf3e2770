// Package notification renders and delivers patient emails: templates with
// {{key}} placeholders, a delivery manager with bounded retries, and senders for
// the transactional email API, the log, and tests.
package notification

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Notification is the record of one delivery.
type Notification struct {
	ID         string     `json:"id"`
	Recipient  string     `json:"recipient"`
	Subject    string     `json:"subject"`
	Body       string     `json:"body"`
	TemplateID string     `json:"template_id,omitempty"`
	Status     string     `json:"status"`
	Attempts   int        `json:"attempts"`
	CreatedAt  time.Time  `json:"created_at"`
	SentAt     *time.Time `json:"sent_at,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// EmailSender delivers one HTML email.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// ---------------------------------------------------------------------------
// Templates
// ---------------------------------------------------------------------------

const (
	TemplateConsultationApproved = "consultation-approved"
	TemplateConsultationRejected = "consultation-rejected"
)

type Template struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// TemplateEngine renders {{key}} placeholders. Values are HTML-escaped in the
// body and inserted verbatim in the subject.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]*Template)}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:      TemplateConsultationApproved,
			Subject: "Your weight loss consultation has been approved",
			Body: `<h1>Good news, your treatment is approved</h1>
<p>A pharmacist has reviewed your consultation and approved your treatment plan.</p>
<p>Your medication is being prepared and will be dispatched shortly. You will receive a tracking link by email as soon as it ships.</p>
<p>You can follow progress and message our clinical team at any time from your <a href="{{portal_url}}/dashboard">patient dashboard</a>.</p>`,
		},
		{
			ID:      TemplateConsultationRejected,
			Subject: "An update on your weight loss consultation",
			Body: `<h1>We are unable to approve your treatment</h1>
<p>A pharmacist has carefully reviewed your consultation and decided that this treatment is not suitable for you at this time.</p>
<p><strong>Pharmacist's note:</strong> {{reason}}</p>
<p>Your payment of {{refund_amount}} has been refunded in full. Refunds usually reach your account within 5 to 10 working days.</p>
<p>If you have questions, reply to this email or visit your <a href="{{portal_url}}/dashboard">patient dashboard</a>.</p>`,
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// RegisterTemplate adds or replaces a template.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render fills a template. Placeholders missing from data are left as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	subject = t.Subject
	body = t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, html.EscapeString(v))
	}
	return subject, body, nil
}

// ---------------------------------------------------------------------------
// Manager
// ---------------------------------------------------------------------------

type ManagerOption func(*Manager)

// WithRetries sets the total number of attempts and the pause between them.
func WithRetries(attempts int, delay time.Duration) ManagerOption {
	return func(m *Manager) {
		if attempts > 0 {
			m.maxAttempts = attempts
		}
		m.retryDelay = delay
	}
}

// Manager renders templates and hands them to an EmailSender, retrying
// transient failures a bounded number of times.
type Manager struct {
	sender      EmailSender
	templates   *TemplateEngine
	logger      zerolog.Logger
	maxAttempts int
	retryDelay  time.Duration

	mu    sync.Mutex
	stats map[string]int
}

func NewManager(sender EmailSender, tpl *TemplateEngine, logger zerolog.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		sender:      sender,
		templates:   tpl,
		logger:      logger,
		maxAttempts: 3,
		retryDelay:  time.Second,
		stats:       make(map[string]int),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// SendFromTemplate renders templateID and delivers it to recipient. The
// returned Notification records the outcome even when err is non-nil.
func (m *Manager) SendFromTemplate(ctx context.Context, templateID string, data map[string]string, recipient string) (*Notification, error) {
	if recipient == "" {
		return nil, errors.New("recipient is required")
	}
	subject, body, err := m.templates.Render(templateID, data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	n := &Notification{
		ID:         uuid.New().String(),
		Recipient:  recipient,
		Subject:    subject,
		Body:       body,
		TemplateID: templateID,
		Status:     "pending",
		CreatedAt:  time.Now().UTC(),
	}

	var sendErr error
retry:
	for n.Attempts < m.maxAttempts {
		n.Attempts++
		sendErr = m.sender.SendEmail(ctx, recipient, subject, body)
		if sendErr == nil {
			break
		}
		m.logger.Warn().Err(sendErr).
			Str("notification_id", n.ID).
			Str("template_id", templateID).
			Int("attempt", n.Attempts).
			Msg("email delivery failed")
		if n.Attempts >= m.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			sendErr = ctx.Err()
			break retry
		case <-time.After(m.retryDelay):
		}
	}

	if sendErr != nil {
		n.Status = "failed"
		n.Error = sendErr.Error()
	} else {
		n.Status = "sent"
		sentAt := time.Now().UTC()
		n.SentAt = &sentAt
	}

	m.mu.Lock()
	m.stats[n.Status]++
	m.mu.Unlock()

	return n, sendErr
}

// Stats returns delivery counts by status.
func (m *Manager) Stats() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int, len(m.stats))
	for k, v := range m.stats {
		out[k] = v
	}
	return out
}

// ---------------------------------------------------------------------------
// Senders
// ---------------------------------------------------------------------------

// LogEmailSender writes emails to the log instead of delivering them. Used when
// no email API key is configured.
type LogEmailSender struct {
	Logger zerolog.Logger
}

func (s LogEmailSender) SendEmail(_ context.Context, to, subject, body string) error {
	s.Logger.Info().
		Str("to", to).
		Str("subject", subject).
		Int("body_bytes", len(body)).
		Msg("email delivery disabled, message logged")
	return nil
}

// EmailCall records a single call to SendEmail.
type EmailCall struct {
	To      string
	Subject string
	Body    string
}

// MockEmailSender is a test double for EmailSender. It fails every call when
// ShouldFail is set, or only the first FailTimes calls.
type MockEmailSender struct {
	mu         sync.Mutex
	calls      []EmailCall
	ShouldFail bool
	FailTimes  int
	FailError  string
}

func (m *MockEmailSender) SendEmail(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, EmailCall{To: to, Subject: subject, Body: body})
	if m.ShouldFail || len(m.calls) <= m.FailTimes {
		msg := m.FailError
		if msg == "" {
			msg = "send failed"
		}
		return errors.New(msg)
	}
	return nil
}

// Calls returns a copy of recorded email calls.
func (m *MockEmailSender) Calls() []EmailCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EmailCall, len(m.calls))
	copy(out, m.calls)
	return out
}
