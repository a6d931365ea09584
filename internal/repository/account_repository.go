package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sandeepkv93/account-lifecycle-service/internal/domain"
	"github.com/sandeepkv93/account-lifecycle-service/internal/observability"

	"gorm.io/gorm"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrDuplicateKey    = errors.New("duplicate key")
)

// AccountRepository is the credential store. Secret lookups take the stored
// digest, never the raw secret.
type AccountRepository interface {
	FindByID(ctx context.Context, id string) (*domain.Account, error)
	FindByEmail(ctx context.Context, email string) (*domain.Account, error)
	FindByVerificationSecret(ctx context.Context, digest string) (*domain.Account, error)
	FindByResetSecret(ctx context.Context, digest string) (*domain.Account, error)
	Insert(ctx context.Context, account *domain.Account) error
	Save(ctx context.Context, account *domain.Account) error
	List(ctx context.Context) ([]domain.Account, error)
}

type GormAccountRepository struct{ db *gorm.DB }

func NewAccountRepository(db *gorm.DB) AccountRepository { return &GormAccountRepository{db: db} }

func (r *GormAccountRepository) FindByID(ctx context.Context, id string) (*domain.Account, error) {
	return r.findOne(ctx, "find_by_id", "id = ?", id)
}

func (r *GormAccountRepository) FindByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return r.findOne(ctx, "find_by_email", "email = ?", NormalizeEmail(email))
}

func (r *GormAccountRepository) FindByVerificationSecret(ctx context.Context, digest string) (*domain.Account, error) {
	if digest == "" {
		return nil, ErrAccountNotFound
	}
	return r.findOne(ctx, "find_by_verification_secret", "verification_secret_hash = ?", digest)
}

func (r *GormAccountRepository) FindByResetSecret(ctx context.Context, digest string) (*domain.Account, error) {
	if digest == "" {
		return nil, ErrAccountNotFound
	}
	return r.findOne(ctx, "find_by_reset_secret", "reset_secret_hash = ?", digest)
}

func (r *GormAccountRepository) Insert(ctx context.Context, account *domain.Account) error {
	account.Email = NormalizeEmail(account.Email)
	err := r.db.WithContext(ctx).Create(account).Error
	if err != nil {
		if isUniqueViolation(err) {
			observability.RecordRepositoryOperation(ctx, "account", "insert", "duplicate")
			return ErrDuplicateKey
		}
		observability.RecordRepositoryOperation(ctx, "account", "insert", "error")
		return fmt.Errorf("insert account: %w", err)
	}
	observability.RecordRepositoryOperation(ctx, "account", "insert", "success")
	return nil
}

// Save writes the full document keyed by ID, inserting it when absent.
func (r *GormAccountRepository) Save(ctx context.Context, account *domain.Account) error {
	account.Email = NormalizeEmail(account.Email)
	err := r.db.WithContext(ctx).Save(account).Error
	if err != nil {
		if isUniqueViolation(err) {
			observability.RecordRepositoryOperation(ctx, "account", "save", "duplicate")
			return ErrDuplicateKey
		}
		observability.RecordRepositoryOperation(ctx, "account", "save", "error")
		return fmt.Errorf("save account: %w", err)
	}
	observability.RecordRepositoryOperation(ctx, "account", "save", "success")
	return nil
}

func (r *GormAccountRepository) List(ctx context.Context) ([]domain.Account, error) {
	var accounts []domain.Account
	if err := r.db.WithContext(ctx).Order("created_at asc").Find(&accounts).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "account", "list", "error")
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	observability.RecordRepositoryOperation(ctx, "account", "list", "success")
	return accounts, nil
}

func (r *GormAccountRepository) findOne(ctx context.Context, op, query string, arg any) (*domain.Account, error) {
	var a domain.Account
	err := r.db.WithContext(ctx).Where(query, arg).First(&a).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "account", op, "not_found")
			return nil, ErrAccountNotFound
		}
		observability.RecordRepositoryOperation(ctx, "account", op, "error")
		return nil, fmt.Errorf("account %s: %w", strings.ReplaceAll(op, "_", " "), err)
	}
	observability.RecordRepositoryOperation(ctx, "account", op, "success")
	return &a, nil
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.UniqueViolation
	}
	return false
}
