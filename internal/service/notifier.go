package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/sandeepkv93/account-lifecycle-service/internal/observability"
)

const (
	NotificationKindVerification  = "verification"
	NotificationKindPasswordReset = "password_reset"
)

//go:generate mockgen -source=notifier.go -destination=notifier_mock_test.go -package=service

type VerificationNotification struct {
	AccountID       string `json:"account_id"`
	Name            string `json:"name"`
	Email           string `json:"email"`
	Token           string `json:"token"`
	VerificationURL string `json:"verification_url"`
}

type EmailVerificationNotifier interface {
	SendEmailVerification(ctx context.Context, notification VerificationNotification) error
}

type PasswordResetNotification struct {
	AccountID string    `json:"account_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	ResetURL  string    `json:"reset_url"`
}

type PasswordResetNotifier interface {
	SendPasswordReset(ctx context.Context, notification PasswordResetNotification) error
}

// Notifier is a sink able to deliver both lifecycle notifications.
type Notifier interface {
	EmailVerificationNotifier
	PasswordResetNotifier
}

// DevNotifier writes links to the log instead of sending mail.
type DevNotifier struct {
	logger *slog.Logger
}

func NewDevNotifier(logger *slog.Logger) *DevNotifier {
	return &DevNotifier{logger: logger}
}

func (n *DevNotifier) SendEmailVerification(ctx context.Context, notification VerificationNotification) error {
	n.logger.InfoContext(ctx, "email verification link issued",
		"account_id", notification.AccountID,
		"email", notification.Email,
		"verification", notification.VerificationURL,
	)
	observability.RecordNotificationDelivery(ctx, NotificationKindVerification, "log", "success")
	return nil
}

func (n *DevNotifier) SendPasswordReset(ctx context.Context, notification PasswordResetNotification) error {
	n.logger.InfoContext(ctx, "password reset link issued",
		"account_id", notification.AccountID,
		"email", notification.Email,
		"expires_at", notification.ExpiresAt,
		"reset", notification.ResetURL,
	)
	observability.RecordNotificationDelivery(ctx, NotificationKindPasswordReset, "log", "success")
	return nil
}
