package service

import (
	"context"
	"errors"

	"github.com/sandeepkv93/account-lifecycle-service/internal/domain"
	"github.com/sandeepkv93/account-lifecycle-service/internal/repository"
)

type UserService struct {
	accounts repository.AccountRepository
}

func NewUserService(accounts repository.AccountRepository) *UserService {
	return &UserService{accounts: accounts}
}

func (s *UserService) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	account, err := s.accounts.FindByID(ctx, id)
	if errors.Is(err, repository.ErrAccountNotFound) {
		return nil, ErrAccountNotFound
	}
	return account, err
}

func (s *UserService) List(ctx context.Context) ([]domain.Account, error) {
	return s.accounts.List(ctx)
}
