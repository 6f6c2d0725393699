// Package notification delivers best-effort email and SMS messages. Callers
// hand messages to a Dispatcher, which sends them in the background and
// only logs failures.
package notification

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/gomail.v2"

	"github.com/ehr/medbridge/internal/platform/metrics"
)

// Channel is the delivery medium chosen for an address.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Notifier sends one message to one address.
type Notifier interface {
	Notify(ctx context.Context, addr, subject, body string) error
}

// EmailSender is the interface for sending email messages.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// SMSSender is the interface for sending SMS messages.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// ChannelFor picks email for addresses containing "@", SMS otherwise.
func ChannelFor(addr string) Channel {
	if strings.Contains(addr, "@") {
		return ChannelEmail
	}
	return ChannelSMS
}

// Router is a Notifier that routes by address format.
type Router struct {
	Email EmailSender
	SMS   SMSSender
}

func (r *Router) Notify(ctx context.Context, addr, subject, body string) error {
	if addr == "" {
		return errors.New("empty notification address")
	}
	switch ChannelFor(addr) {
	case ChannelEmail:
		if r.Email == nil {
			return fmt.Errorf("no email sender configured")
		}
		return r.Email.SendEmail(ctx, addr, subject, body)
	default:
		if r.SMS == nil {
			return fmt.Errorf("no sms sender configured")
		}
		return r.SMS.SendSMS(ctx, addr, body)
	}
}

// SMTPConfig configures the SMTP sender.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPSender sends plain-text email through an SMTP relay.
type SMTPSender struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	return &SMTPSender{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
	}
}

func (s *SMTPSender) SendEmail(_ context.Context, to, subject, body string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)
	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("send email to %s: %w", to, err)
	}
	return nil
}

// LogSender writes messages to the log instead of delivering them. It is
// the SMS channel in every environment and the email channel when SMTP is
// not configured. Codes and link secrets are masked at Info; the full body
// is only written at Debug.
type LogSender struct {
	logger zerolog.Logger
}

func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{logger: logger.With().Str("component", "notification").Logger()}
}

func (s *LogSender) SendEmail(_ context.Context, to, subject, body string) error {
	s.logger.Info().Str("channel", string(ChannelEmail)).Str("to", to).Str("subject", subject).Msg(maskSecrets(body))
	s.logger.Debug().Str("channel", string(ChannelEmail)).Str("to", to).Msg(body)
	return nil
}

func (s *LogSender) SendSMS(_ context.Context, to, body string) error {
	s.logger.Info().Str("channel", string(ChannelSMS)).Str("to", to).Msg(maskSecrets(body))
	s.logger.Debug().Str("channel", string(ChannelSMS)).Str("to", to).Msg(body)
	return nil
}

// secretPattern matches 6-digit consent codes and 64-char hex link tokens.
var secretPattern = regexp.MustCompile(`\b(\d{6}|[0-9a-f]{64})\b`)

func maskSecrets(body string) string {
	return secretPattern.ReplaceAllStringFunc(body, func(m string) string {
		return strings.Repeat("*", len(m))
	})
}

// Dispatcher sends notifications asynchronously. Send never blocks on
// delivery and never returns a delivery error.
type Dispatcher struct {
	notifier Notifier
	logger   zerolog.Logger
	wg       sync.WaitGroup
}

func NewDispatcher(notifier Notifier, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{notifier: notifier, logger: logger}
}

// Send queues one message. The request context is detached so delivery
// outlives the request that triggered it.
func (d *Dispatcher) Send(ctx context.Context, addr, subject, body string) {
	ctx = context.WithoutCancel(ctx)
	channel := string(ChannelFor(addr))
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.notifier.Notify(ctx, addr, subject, body); err != nil {
			metrics.NotificationsSent.WithLabelValues(channel, "failed").Inc()
			d.logger.Warn().Err(err).Str("channel", channel).Str("subject", subject).Msg("notification delivery failed")
			return
		}
		metrics.NotificationsSent.WithLabelValues(channel, "sent").Inc()
	}()
}

// Wait blocks until every queued message has been attempted. Used on
// shutdown and in tests.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// ---------------------------------------------------------------------------
// Templates
// ---------------------------------------------------------------------------

// Template identifiers.
const (
	TemplateConsentCode       = "consent-code"
	TemplatePasswordReset     = "password-reset"
	TemplateEmailVerification = "email-verification"
	TemplateStaffWelcome      = "staff-welcome"
)

// Template defines a reusable notification template.
type Template struct {
	ID      string
	Subject string
	Body    string
}

// TemplateEngine renders {{key}} placeholders.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]*Template)}
	for _, t := range []Template{
		{
			ID:      TemplateConsentCode,
			Subject: "Your record transfer code",
			Body:    "{{hospital}} has requested access to your medical record. Share this code only if you consent: {{code}}. It expires in {{ttl}}.",
		},
		{
			ID:      TemplatePasswordReset,
			Subject: "Password Reset Request",
			Body:    "You requested a password reset. Open the following link within 1 hour to choose a new password: {{reset_link}}",
		},
		{
			ID:      TemplateEmailVerification,
			Subject: "Verify your email",
			Body:    "Hello {{name}}, confirm your email address by opening: {{verify_link}}",
		},
		{
			ID:      TemplateStaffWelcome,
			Subject: "Welcome to {{hospital}}",
			Body:    "Hello {{name}}, an account with role {{role}} was created for you at {{hospital}}.",
		},
	} {
		e.RegisterTemplate(t)
	}
	return e
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render looks up a template by ID and replaces {{key}} with data values.
// Keys absent from data are left as-is.
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
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}

// ---------------------------------------------------------------------------
// Mock Senders (test doubles)
// ---------------------------------------------------------------------------

// Message records a single delivery attempt.
type Message struct {
	To      string
	Subject string
	Body    string
}

// MockNotifier is a test double for Notifier.
type MockNotifier struct {
	mu         sync.Mutex
	calls      []Message
	ShouldFail bool
}

func (m *MockNotifier) Notify(_ context.Context, addr, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Message{To: addr, Subject: subject, Body: body})
	if m.ShouldFail {
		return errors.New("delivery failed")
	}
	return nil
}

// Calls returns a copy of recorded calls.
func (m *MockNotifier) Calls() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.calls))
	copy(out, m.calls)
	return out
}
