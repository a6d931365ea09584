package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/google/uuid"
	"github.com/sandeepkv93/account-lifecycle-service/internal/config"
	"github.com/sandeepkv93/account-lifecycle-service/internal/domain"
	"github.com/sandeepkv93/account-lifecycle-service/internal/observability"
	"github.com/sandeepkv93/account-lifecycle-service/internal/repository"
	"github.com/sandeepkv93/account-lifecycle-service/internal/security"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// bcrypt ignores input past 72 bytes.
const maxPasswordBytes = 72

const (
	verifyEmailRoute   = "verify-email"
	resetPasswordRoute = "reset-password"
)

type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r RegisterRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required, validation.Length(1, 255)),
		validation.Field(&r.Email, validation.Required, validation.Length(3, 255), is.Email),
		validation.Field(&r.Password, validation.Required, validation.By(maxBytes(maxPasswordBytes))),
	)
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type PasswordResetRequest struct {
	Email string `json:"email"`
}

func (r PasswordResetRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
	)
}

type ResetPasswordRequest struct {
	NewPassword string `json:"newPassword"`
}

func (r ResetPasswordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.NewPassword, validation.Required, validation.By(maxBytes(maxPasswordBytes))),
	)
}

type RegisterResult struct {
	Account          *domain.Account `json:"account"`
	VerificationSent bool            `json:"verificationEmailSent"`
}

type TokenPair struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

type AccessTokenResult struct {
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// AuthService owns every account state transition: registration, email
// verification, login, refresh and the password reset pair.
type AuthService struct {
	cfg                   *config.Config
	accounts              repository.AccountRepository
	tokens                *security.JWTManager
	hasher                *security.PasswordHasher
	verificationNotifier  EmailVerificationNotifier
	passwordResetNotifier PasswordResetNotifier
	logger                *slog.Logger
	tracer                trace.Tracer

	now       func() time.Time
	newSecret func() (string, error)
	dummyHash string
}

func NewAuthService(
	cfg *config.Config,
	accounts repository.AccountRepository,
	tokens *security.JWTManager,
	hasher *security.PasswordHasher,
	verificationNotifier EmailVerificationNotifier,
	passwordResetNotifier PasswordResetNotifier,
	logger *slog.Logger,
) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	// Compared against when the email is unknown so both login failures cost one bcrypt run.
	dummy, _ := hasher.Hash("account-lifecycle-service-timing-equalizer")
	return &AuthService{
		cfg:                   cfg,
		accounts:              accounts,
		tokens:                tokens,
		hasher:                hasher,
		verificationNotifier:  verificationNotifier,
		passwordResetNotifier: passwordResetNotifier,
		logger:                logger,
		tracer:                otel.Tracer("account-lifecycle-service/service"),
		now:                   time.Now,
		newSecret:             security.NewSecret,
		dummyHash:             dummy,
	}
}

// WithClock swaps the time source used for reset expiry and timestamps.
func (s *AuthService) WithClock(now func() time.Time) *AuthService {
	s.now = now
	return s
}

func (s *AuthService) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	ctx, span := s.tracer.Start(ctx, "auth.register")
	defer span.End()

	req.Name = strings.TrimSpace(req.Name)
	req.Email = repository.NormalizeEmail(req.Email)
	if err := req.Validate(); err != nil {
		observability.RecordAuthLocalFlowEvent(ctx, "register", "invalid")
		return nil, newValidationError(err)
	}

	if _, err := s.accounts.FindByEmail(ctx, req.Email); err == nil {
		observability.RecordAuthLocalFlowEvent(ctx, "register", "duplicate")
		return nil, ErrDuplicateAccount
	} else if !errors.Is(err, repository.ErrAccountNotFound) {
		return nil, s.fail(ctx, span, "register", fmt.Errorf("lookup account: %w", err))
	}

	passwordHash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, s.fail(ctx, span, "register", err)
	}
	secret, err := s.newSecret()
	if err != nil {
		return nil, s.fail(ctx, span, "register", err)
	}
	digest := security.HashSecret(secret)
	now := s.now().UTC()
	account := &domain.Account{
		ID:                     uuid.NewString(),
		Name:                   req.Name,
		Email:                  req.Email,
		PasswordHash:           passwordHash,
		VerificationSecretHash: &digest,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if err := s.accounts.Insert(ctx, account); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			observability.RecordAuthLocalFlowEvent(ctx, "register", "duplicate")
			return nil, ErrDuplicateAccount
		}
		return nil, s.fail(ctx, span, "register", fmt.Errorf("insert account: %w", err))
	}
	span.SetAttributes(attribute.String("account.id", account.ID))
	observability.RecordAuthLocalFlowEvent(ctx, "register", "created")

	result := &RegisterResult{Account: account}
	link, err := s.link(verifyEmailRoute, secret)
	if err == nil {
		err = s.verificationNotifier.SendEmailVerification(ctx, VerificationNotification{
			AccountID:       account.ID,
			Name:            account.Name,
			Email:           account.Email,
			Token:           secret,
			VerificationURL: link,
		})
	}
	if err != nil {
		// The account stays; the caller sees VerificationSent=false.
		span.RecordError(err)
		s.logger.WarnContext(ctx, "verification notification failed",
			"account_id", account.ID,
			"error", err,
		)
		observability.RecordAuthLocalFlowEvent(ctx, "register", "notify_failed")
		return result, nil
	}
	result.VerificationSent = true
	return result, nil
}

func (s *AuthService) VerifyEmail(ctx context.Context, secret string) (*domain.Account, error) {
	ctx, span := s.tracer.Start(ctx, "auth.verify_email")
	defer span.End()

	account, err := s.lookupBySecret(ctx, span, "verify_email", secret, s.accounts.FindByVerificationSecret)
	if err != nil {
		return nil, err
	}
	account.MarkVerified(s.now().UTC())
	if err := s.accounts.Save(ctx, account); err != nil {
		return nil, s.fail(ctx, span, "verify_email", fmt.Errorf("save account: %w", err))
	}
	observability.RecordAuthLocalFlowEvent(ctx, "verify_email", "verified")
	return account, nil
}

func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*TokenPair, error) {
	ctx, span := s.tracer.Start(ctx, "auth.login")
	defer span.End()

	account, err := s.accounts.FindByEmail(ctx, req.Email)
	if err != nil {
		if !errors.Is(err, repository.ErrAccountNotFound) {
			observability.RecordAuthLogin(ctx, "error")
			return nil, s.fail(ctx, span, "login", fmt.Errorf("lookup account: %w", err))
		}
		_, _ = s.hasher.Verify(s.dummyHash, req.Password)
		observability.RecordAuthLogin(ctx, "invalid_credentials")
		return nil, ErrInvalidCredentials
	}
	ok, err := s.hasher.Verify(account.PasswordHash, req.Password)
	if err != nil {
		observability.RecordAuthLogin(ctx, "error")
		return nil, s.fail(ctx, span, "login", err)
	}
	if !ok {
		observability.RecordAuthLogin(ctx, "invalid_credentials")
		return nil, ErrInvalidCredentials
	}
	if s.cfg.AuthRequireVerifiedLogin && !account.Verified {
		observability.RecordAuthLogin(ctx, "unverified")
		return nil, ErrInvalidCredentials
	}

	access, accessExp, err := s.tokens.Mint(security.AccessToken, account.ID, s.cfg.JWTAccessTTL)
	if err != nil {
		observability.RecordAuthLogin(ctx, "error")
		return nil, s.fail(ctx, span, "login", err)
	}
	refresh, refreshExp, err := s.tokens.Mint(security.RefreshToken, account.ID, s.cfg.JWTRefreshTTL)
	if err != nil {
		observability.RecordAuthLogin(ctx, "error")
		return nil, s.fail(ctx, span, "login", err)
	}
	span.SetAttributes(attribute.String("account.id", account.ID))
	observability.RecordAuthLogin(ctx, "success")
	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// RefreshAccessToken mints a new access token for the refresh token's subject.
// The refresh token itself is neither rotated nor revoked.
func (s *AuthService) RefreshAccessToken(ctx context.Context, refreshToken string) (*AccessTokenResult, error) {
	ctx, span := s.tracer.Start(ctx, "auth.refresh")
	defer span.End()

	claims, err := s.tokens.ParseRefreshToken(refreshToken)
	if err != nil {
		observability.RecordAuthRefresh(ctx, "invalid_token")
		return nil, ErrInvalidToken
	}
	access, exp, err := s.tokens.Mint(security.AccessToken, claims.Subject, s.cfg.JWTAccessTTL)
	if err != nil {
		observability.RecordAuthRefresh(ctx, "error")
		return nil, s.fail(ctx, span, "refresh", err)
	}
	observability.RecordAuthRefresh(ctx, "success")
	return &AccessTokenResult{AccessToken: access, ExpiresAt: exp}, nil
}

// RequestPasswordReset reports ErrAccountNotFound for unknown emails.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) error {
	ctx, span := s.tracer.Start(ctx, "auth.password_reset.request")
	defer span.End()

	account, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			observability.RecordAuthLocalFlowEvent(ctx, "password_reset", "not_found")
			return ErrAccountNotFound
		}
		return s.fail(ctx, span, "password_reset", fmt.Errorf("lookup account: %w", err))
	}

	secret, err := s.newSecret()
	if err != nil {
		return s.fail(ctx, span, "password_reset", err)
	}
	now := s.now().UTC()
	expiresAt := now.Add(s.cfg.AuthPasswordResetTTL)
	account.StartPasswordReset(security.HashSecret(secret), expiresAt, now)
	if err := s.accounts.Save(ctx, account); err != nil {
		return s.fail(ctx, span, "password_reset", fmt.Errorf("save account: %w", err))
	}

	link, err := s.link(resetPasswordRoute, secret)
	if err != nil {
		return s.fail(ctx, span, "password_reset", err)
	}
	if err := s.passwordResetNotifier.SendPasswordReset(ctx, PasswordResetNotification{
		AccountID: account.ID,
		Name:      account.Name,
		Email:     account.Email,
		Token:     secret,
		ExpiresAt: expiresAt,
		ResetURL:  link,
	}); err != nil {
		observability.RecordAuthLocalFlowEvent(ctx, "password_reset", "delivery_failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, "delivery failed")
		if errors.Is(err, ErrDelivery) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrDelivery, err)
	}
	observability.RecordAuthLocalFlowEvent(ctx, "password_reset", "requested")
	return nil
}

// ValidateResetToken is a pure check; it never mutates the account.
func (s *AuthService) ValidateResetToken(ctx context.Context, secret string) error {
	ctx, span := s.tracer.Start(ctx, "auth.password_reset.validate")
	defer span.End()

	if _, err := s.activeResetAccount(ctx, span, secret); err != nil {
		return err
	}
	observability.RecordAuthLocalFlowEvent(ctx, "password_reset", "validated")
	return nil
}

func (s *AuthService) ResetPassword(ctx context.Context, secret, newPassword string) error {
	ctx, span := s.tracer.Start(ctx, "auth.password_reset.complete")
	defer span.End()

	account, err := s.activeResetAccount(ctx, span, secret)
	if err != nil {
		return err
	}
	if err := (ResetPasswordRequest{NewPassword: newPassword}).Validate(); err != nil {
		observability.RecordAuthLocalFlowEvent(ctx, "password_reset", "invalid")
		return newValidationError(err)
	}
	passwordHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return s.fail(ctx, span, "password_reset", err)
	}
	account.CompletePasswordReset(passwordHash, s.now().UTC())
	if err := s.accounts.Save(ctx, account); err != nil {
		return s.fail(ctx, span, "password_reset", fmt.Errorf("save account: %w", err))
	}
	observability.RecordAuthLocalFlowEvent(ctx, "password_reset", "completed")
	return nil
}

func (s *AuthService) activeResetAccount(ctx context.Context, span trace.Span, secret string) (*domain.Account, error) {
	account, err := s.lookupBySecret(ctx, span, "password_reset", secret, s.accounts.FindByResetSecret)
	if err != nil {
		return nil, err
	}
	if !account.ResetSecretValid(s.now()) {
		observability.RecordAuthLocalFlowEvent(ctx, "password_reset", "expired")
		return nil, ErrInvalidToken
	}
	return account, nil
}

func (s *AuthService) lookupBySecret(
	ctx context.Context,
	span trace.Span,
	flow, secret string,
	find func(context.Context, string) (*domain.Account, error),
) (*domain.Account, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		observability.RecordAuthLocalFlowEvent(ctx, flow, "invalid_token")
		return nil, ErrInvalidToken
	}
	account, err := find(ctx, security.HashSecret(secret))
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			observability.RecordAuthLocalFlowEvent(ctx, flow, "invalid_token")
			return nil, ErrInvalidToken
		}
		return nil, s.fail(ctx, span, flow, fmt.Errorf("lookup account: %w", err))
	}
	return account, nil
}

func (s *AuthService) link(route, secret string) (string, error) {
	base, err := url.Parse(s.cfg.AuthFrontendURL)
	if err != nil {
		return "", fmt.Errorf("parse frontend url: %w", err)
	}
	return base.JoinPath(route, secret).String(), nil
}

func (s *AuthService) fail(ctx context.Context, span trace.Span, flow string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, flow+" failed")
	observability.RecordAuthLocalFlowEvent(ctx, flow, "error")
	s.logger.ErrorContext(ctx, "auth flow failed", "flow", flow, "error", err)
	return err
}

func maxBytes(n int) validation.RuleFunc {
	return func(value interface{}) error {
		s, _ := value.(string)
		if len(s) > n {
			return fmt.Errorf("must be at most %d bytes", n)
		}
		return nil
	}
}
