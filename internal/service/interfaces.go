package service

import (
	"context"

	"github.com/sandeepkv93/account-lifecycle-service/internal/domain"
)

type AuthServiceInterface interface {
	Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error)
	VerifyEmail(ctx context.Context, secret string) (*domain.Account, error)
	Login(ctx context.Context, req LoginRequest) (*TokenPair, error)
	RefreshAccessToken(ctx context.Context, refreshToken string) (*AccessTokenResult, error)
	RequestPasswordReset(ctx context.Context, email string) error
	ValidateResetToken(ctx context.Context, secret string) error
	ResetPassword(ctx context.Context, secret, newPassword string) error
}

type UserServiceInterface interface {
	GetByID(ctx context.Context, id string) (*domain.Account, error)
	List(ctx context.Context) ([]domain.Account, error)
}
