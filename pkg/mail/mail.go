package mail

import (
	"context"
	"fmt"
	"strings"
	"time"

	gomail "github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"github.com/noah-isme/campus-leave-api/pkg/config"
)

// Message is a single outgoing HTML email.
type Message struct {
	To       string
	Subject  string
	HTMLBody string
}

// Transport delivers messages. Implementations return an error for any delivery failure.
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPTransport sends through an SMTP relay using go-mail.
type SMTPTransport struct {
	from    string
	timeout time.Duration
	opts    []gomail.Option
	host    string
}

// NewSMTPTransport builds a transport from configuration. A connection is dialled per message.
func NewSMTPTransport(cfg config.MailConfig) (*SMTPTransport, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, fmt.Errorf("mail host is required")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, fmt.Errorf("mail sender address is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	opts := []gomail.Option{
		gomail.WithPort(cfg.Port),
		gomail.WithTimeout(timeout),
		gomail.WithTLSPolicy(tlsPolicy(cfg.TLSPolicy)),
	}
	if cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}
	return &SMTPTransport{from: cfg.From, timeout: timeout, opts: opts, host: cfg.Host}, nil
}

// Send dials the relay and delivers msg.
func (t *SMTPTransport) Send(ctx context.Context, msg Message) error {
	m := gomail.NewMsg()
	if err := m.From(t.from); err != nil {
		return fmt.Errorf("set sender: %w", err)
	}
	if err := m.To(msg.To); err != nil {
		return fmt.Errorf("set recipient %q: %w", msg.To, err)
	}
	m.Subject(msg.Subject)
	m.SetDate()
	m.SetBodyString(gomail.TypeTextHTML, msg.HTMLBody)

	client, err := gomail.NewClient(t.host, t.opts...)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// LogTransport records messages instead of sending them. Used when mail is disabled.
type LogTransport struct {
	logger *zap.Logger
}

// NewLogTransport constructs a log-only transport.
func NewLogTransport(logger *zap.Logger) *LogTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogTransport{logger: logger}
}

// Send logs the message envelope.
func (t *LogTransport) Send(_ context.Context, msg Message) error {
	t.logger.Info("mail disabled, message not sent", zap.String("to", msg.To), zap.String("subject", msg.Subject))
	return nil
}

func tlsPolicy(raw string) gomail.TLSPolicy {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "mandatory":
		return gomail.TLSMandatory
	case "none", "notls":
		return gomail.NoTLS
	default:
		return gomail.TLSOpportunistic
	}
}
