package seed

import (
	"context"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/sandeepkv93/account-lifecycle-service/internal/config"
	"github.com/sandeepkv93/account-lifecycle-service/internal/database"
	"github.com/sandeepkv93/account-lifecycle-service/internal/domain"
	"github.com/sandeepkv93/account-lifecycle-service/internal/repository"
	"github.com/sandeepkv93/account-lifecycle-service/internal/security"
)

func newSeedTestSeeder(t *testing.T) (*Seeder, repository.AccountRepository) {
	t.Helper()
	dsn := "file:" + t.Name() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent), TranslateError: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := &config.Config{
		JWTIssuer:        "iss",
		JWTAudience:      "aud",
		JWTAccessSecret:  "abcdefghijklmnopqrstuvwxyz123456",
		JWTRefreshSecret: "abcdefghijklmnopqrstuvwxyz654321",
		JWTAccessTTL:     time.Minute,
		JWTRefreshTTL:    time.Hour,
		AuthBcryptCost:   bcrypt.MinCost,
		AuthFrontendURL:  "http://localhost:5173",
	}
	repo := repository.NewAccountRepository(db)
	return NewSeeder(cfg, repo), repo
}

func TestEnsureVerifiedAccountCreatesOnce(t *testing.T) {
	seeder, repo := newSeedTestSeeder(t)
	ctx := context.Background()
	in := AccountInput{Name: "Dev", Email: " Dev@Example.com ", Password: "s3cret-pass"}

	created, err := seeder.EnsureVerifiedAccount(ctx, in)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if !created {
		t.Fatal("expected account to be created")
	}

	account, err := repo.FindByEmail(ctx, "dev@example.com")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if !account.Verified || account.VerificationSecretHash != nil {
		t.Fatalf("expected verified account with consumed secret: %+v", account)
	}
	ok, err := security.VerifyPassword(account.PasswordHash, "s3cret-pass")
	if err != nil || !ok {
		t.Fatalf("expected stored password to verify, ok=%v err=%v", ok, err)
	}

	created, err = seeder.EnsureVerifiedAccount(ctx, in)
	if err != nil {
		t.Fatalf("second seed: %v", err)
	}
	if created {
		t.Fatal("expected existing account to be left alone")
	}
}

func TestEnsureVerifiedAccountRejectsInvalidInput(t *testing.T) {
	seeder, _ := newSeedTestSeeder(t)
	if _, err := seeder.EnsureVerifiedAccount(context.Background(), AccountInput{Name: "x", Email: "nope"}); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestMarkVerified(t *testing.T) {
	seeder, repo := newSeedTestSeeder(t)
	ctx := context.Background()
	digest := security.HashSecret("pending")
	now := time.Now().UTC()
	if err := repo.Insert(ctx, &domain.Account{
		ID:                     "acct-1",
		Name:                   "Ann",
		Email:                  "ann@example.com",
		PasswordHash:           "$2a$04$placeholder",
		VerificationSecretHash: &digest,
		CreatedAt:              now,
		UpdatedAt:              now,
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if err := seeder.MarkVerified(ctx, "ANN@example.com"); err != nil {
		t.Fatalf("mark verified: %v", err)
	}
	account, err := repo.FindByID(ctx, "acct-1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if !account.Verified || account.VerificationSecretHash != nil {
		t.Fatalf("expected verified account: %+v", account)
	}

	if err := seeder.MarkVerified(ctx, "missing@example.com"); err == nil {
		t.Fatal("expected not found error")
	}
}
