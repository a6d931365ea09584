package seed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/sandeepkv93/account-lifecycle-service/internal/config"
	"github.com/sandeepkv93/account-lifecycle-service/internal/repository"
	"github.com/sandeepkv93/account-lifecycle-service/internal/security"
	"github.com/sandeepkv93/account-lifecycle-service/internal/service"
)

type AccountInput struct {
	Name     string
	Email    string
	Password string
}

// secretCapture swallows outgoing mail and keeps the verification secret so
// the seeded account can be verified in the same run.
type secretCapture struct {
	verification string
}

func (c *secretCapture) SendEmailVerification(_ context.Context, n service.VerificationNotification) error {
	c.verification = n.Token
	return nil
}

func (c *secretCapture) SendPasswordReset(context.Context, service.PasswordResetNotification) error {
	return nil
}

// Seeder provisions ready-to-use accounts through the normal registration
// and verification path.
type Seeder struct {
	cfg      *config.Config
	accounts repository.AccountRepository
	now      func() time.Time
}

func NewSeeder(cfg *config.Config, accounts repository.AccountRepository) *Seeder {
	return &Seeder{cfg: cfg, accounts: accounts, now: time.Now}
}

// EnsureVerifiedAccount registers the account and verifies it. An existing
// account with the same email is left untouched and reported as not created.
func (s *Seeder) EnsureVerifiedAccount(ctx context.Context, in AccountInput) (bool, error) {
	capture := &secretCapture{}
	authSvc := service.NewAuthService(
		s.cfg,
		s.accounts,
		security.NewJWTManager(s.cfg.JWTIssuer, s.cfg.JWTAudience, s.cfg.JWTAccessSecret, s.cfg.JWTRefreshSecret),
		security.NewPasswordHasher(s.cfg.AuthBcryptCost),
		capture,
		capture,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	).WithClock(s.now)

	_, err := authSvc.Register(ctx, service.RegisterRequest{Name: in.Name, Email: in.Email, Password: in.Password})
	if errors.Is(err, service.ErrDuplicateAccount) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if capture.verification == "" {
		return true, fmt.Errorf("registration did not issue a verification secret")
	}
	if _, err := authSvc.VerifyEmail(ctx, capture.verification); err != nil {
		return true, fmt.Errorf("verify seeded account: %w", err)
	}
	return true, nil
}

// MarkVerified verifies an already registered account by email.
func (s *Seeder) MarkVerified(ctx context.Context, email string) error {
	account, err := s.accounts.FindByEmail(ctx, repository.NormalizeEmail(email))
	if err != nil {
		return err
	}
	if account.Verified {
		return nil
	}
	account.MarkVerified(s.now().UTC())
	return s.accounts.Save(ctx, account)
}
