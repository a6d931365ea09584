package mailer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/sandeepkv93/account-lifecycle-service/internal/config"
	"github.com/sandeepkv93/account-lifecycle-service/internal/observability"
	"github.com/sandeepkv93/account-lifecycle-service/internal/service"
	"github.com/sethvargo/go-retry"
	"github.com/wneessen/go-mail"
)

// SendFunc delivers fully built messages. The default dials the configured
// SMTP server once per call.
type SendFunc func(ctx context.Context, msgs ...*mail.Msg) error

// SMTPMailer is the mail-backed notification sink.
type SMTPMailer struct {
	from         string
	send         SendFunc
	logger       *slog.Logger
	maxRetries   uint64
	retryBackoff time.Duration
}

func NewSMTPMailer(cfg *config.Config, logger *slog.Logger) (*SMTPMailer, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.SMTPPort),
		mail.WithTimeout(cfg.SMTPTimeout),
		mail.WithTLSPolicy(tlsPolicy(cfg.SMTPTLSPolicy)),
	}
	if cfg.SMTPUsername != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.SMTPUsername),
			mail.WithPassword(cfg.SMTPPassword),
		)
	}
	client, err := mail.NewClient(cfg.SMTPHost, opts...)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}
	m := NewSMTPMailerWithSender(cfg.SMTPFrom, client.DialAndSendWithContext, logger)
	return m.WithRetry(cfg.SMTPMaxRetries, cfg.SMTPRetryBackoff), nil
}

func NewSMTPMailerWithSender(from string, send SendFunc, logger *slog.Logger) *SMTPMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &SMTPMailer{from: from, send: send, logger: logger}
}

// WithRetry retries temporary SMTP failures up to maxRetries times with
// exponential backoff starting at base. Zero disables retries.
func (m *SMTPMailer) WithRetry(maxRetries uint64, base time.Duration) *SMTPMailer {
	m.maxRetries = maxRetries
	m.retryBackoff = base
	return m
}

func (m *SMTPMailer) SendEmailVerification(ctx context.Context, n service.VerificationNotification) error {
	msg, err := m.verificationMessage(n)
	if err != nil {
		return m.failed(ctx, service.NotificationKindVerification, n.AccountID, err)
	}
	return m.deliver(ctx, service.NotificationKindVerification, n.AccountID, msg)
}

func (m *SMTPMailer) SendPasswordReset(ctx context.Context, n service.PasswordResetNotification) error {
	msg, err := m.passwordResetMessage(n)
	if err != nil {
		return m.failed(ctx, service.NotificationKindPasswordReset, n.AccountID, err)
	}
	return m.deliver(ctx, service.NotificationKindPasswordReset, n.AccountID, msg)
}

func (m *SMTPMailer) verificationMessage(n service.VerificationNotification) (*mail.Msg, error) {
	htmlBody, textBody, err := renderBodies(verificationHTML, verificationText, templateData{
		Name: n.Name,
		Link: n.VerificationURL,
	})
	if err != nil {
		return nil, err
	}
	return m.newMessage(n.Email, verificationSubject, htmlBody, textBody)
}

func (m *SMTPMailer) passwordResetMessage(n service.PasswordResetNotification) (*mail.Msg, error) {
	htmlBody, textBody, err := renderBodies(passwordResetHTML, passwordResetText, templateData{
		Name:      n.Name,
		Link:      n.ResetURL,
		ExpiresAt: n.ExpiresAt.UTC().Format(time.RFC1123),
	})
	if err != nil {
		return nil, err
	}
	return m.newMessage(n.Email, passwordResetSubject, htmlBody, textBody)
}

func (m *SMTPMailer) newMessage(to, subject, htmlBody, textBody string) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(m.from); err != nil {
		return nil, fmt.Errorf("set from address: %w", err)
	}
	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("set recipient: %w", err)
	}
	msg.Subject(subject)
	msg.SetDate()
	msg.SetMessageID()
	msg.SetBodyString(mail.TypeTextHTML, htmlBody)
	msg.AddAlternativeString(mail.TypeTextPlain, textBody)
	return msg, nil
}

func (m *SMTPMailer) deliver(ctx context.Context, kind, accountID string, msg *mail.Msg) error {
	if err := m.sendWithRetry(ctx, kind, msg); err != nil {
		return m.failed(ctx, kind, accountID, err)
	}
	observability.RecordNotificationDelivery(ctx, kind, "smtp", "success")
	m.logger.InfoContext(ctx, "notification email sent", "kind", kind, "account_id", accountID)
	return nil
}

func (m *SMTPMailer) sendWithRetry(ctx context.Context, kind string, msg *mail.Msg) error {
	if m.maxRetries == 0 || m.retryBackoff <= 0 {
		return m.send(ctx, msg)
	}
	backoff := retry.WithMaxRetries(m.maxRetries, retry.NewExponential(m.retryBackoff))
	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := m.send(ctx, msg)
		if err == nil || !isTemporary(err) {
			return err
		}
		m.logger.DebugContext(ctx, "retrying notification email", "kind", kind, "attempt", attempt, "error", err)
		return retry.RetryableError(err)
	})
}

// isTemporary reports 4xx SMTP replies and network errors.
func isTemporary(err error) bool {
	var sendErr *mail.SendError
	if errors.As(err, &sendErr) {
		return sendErr.IsTemp()
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func (m *SMTPMailer) failed(ctx context.Context, kind, accountID string, err error) error {
	observability.RecordNotificationDelivery(ctx, kind, "smtp", "failure")
	m.logger.WarnContext(ctx, "notification email failed", "kind", kind, "account_id", accountID, "error", err)
	return fmt.Errorf("%w: %s email: %w", service.ErrDelivery, kind, err)
}

func tlsPolicy(policy string) mail.TLSPolicy {
	switch policy {
	case "opportunistic":
		return mail.TLSOpportunistic
	case "none":
		return mail.NoTLS
	default:
		return mail.TLSMandatory
	}
}
