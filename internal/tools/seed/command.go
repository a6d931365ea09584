package seed

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/sandeepkv93/account-lifecycle-service/internal/config"
	"github.com/sandeepkv93/account-lifecycle-service/internal/database"
	"github.com/sandeepkv93/account-lifecycle-service/internal/observability"
	"github.com/sandeepkv93/account-lifecycle-service/internal/repository"
	"github.com/sandeepkv93/account-lifecycle-service/internal/tools/common"
	"github.com/sandeepkv93/account-lifecycle-service/internal/tools/ui"
)

type options struct {
	envFile string
	ci      bool
}

func NewRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{Use: "seed", Short: "Development account seeding"}
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "path to env file")
	cmd.PersistentFlags().BoolVar(&opts.ci, "ci", false, "non-interactive machine-readable output")
	cmd.AddCommand(newAccountCommand(opts), newDryRunCommand(opts), newVerifyEmailCommand(opts))
	return cmd
}

func newAccountCommand(opts *options) *cobra.Command {
	in := AccountInput{}
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Create a verified account if it does not exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(opts, "account", func(ctx context.Context, seeder *Seeder) ([]string, error) {
				created, err := seeder.EnsureVerifiedAccount(ctx, in)
				if err != nil {
					return nil, err
				}
				email := repository.NormalizeEmail(in.Email)
				if !created {
					return []string{"account already exists: " + email}, nil
				}
				return []string{"created verified account: " + email}, nil
			})
		},
	}
	cmd.Flags().StringVar(&in.Name, "name", "Dev User", "display name")
	cmd.Flags().StringVar(&in.Email, "email", "dev@example.com", "account email")
	cmd.Flags().StringVar(&in.Password, "password", "", "account password (required)")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newDryRunCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "dry-run",
		Short: "Show what seeding would touch",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(opts, "dry-run", func(ctx context.Context, seeder *Seeder) ([]string, error) {
				accounts, err := seeder.accounts.List(ctx)
				if err != nil {
					return nil, err
				}
				verified := 0
				for _, a := range accounts {
					if a.Verified {
						verified++
					}
				}
				return []string{
					fmt.Sprintf("existing accounts: %d (%d verified)", len(accounts), verified),
					"account: would register and verify the given email unless it exists",
					"verify-email: would mark an existing account verified",
				}, nil
			})
		},
	}
}

func newVerifyEmailCommand(opts *options) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "verify-email",
		Short: "Mark an account email as verified",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(opts, "verify-email", func(ctx context.Context, seeder *Seeder) ([]string, error) {
				if strings.TrimSpace(email) == "" {
					return nil, fmt.Errorf("email is required")
				}
				if err := seeder.MarkVerified(ctx, email); err != nil {
					return nil, err
				}
				return []string{"marked email verified: " + repository.NormalizeEmail(email)}, nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email to mark verified")
	return cmd
}

func execute(opts *options, command string, fn func(context.Context, *Seeder) ([]string, error)) error {
	title := "seed " + command
	details, err := run(opts, title, func(ctx context.Context) ([]string, error) {
		cfg, db, err := loadConfigDB(opts.envFile)
		if err != nil {
			return nil, err
		}
		sqlDB, _ := db.DB()
		defer func() { _ = sqlDB.Close() }()
		if err := database.Migrate(db); err != nil {
			return nil, err
		}
		return fn(ctx, NewSeeder(cfg, repository.NewAccountRepository(db)))
	})
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	observability.RecordToolCommandRun(context.Background(), "seed", command, outcome)
	if opts.ci {
		common.PrintCIResult(err == nil, title, details, err)
	}
	if err != nil {
		os.Exit(3)
	}
	return nil
}

func run(opts *options, title string, fn func(context.Context) ([]string, error)) ([]string, error) {
	if opts.ci {
		return fn(context.Background())
	}
	return ui.Run(title, fn)
}

func loadConfigDB(envFile string) (*config.Config, *gorm.DB, error) {
	if err := common.LoadEnvFile(envFile); err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	db, err := database.Open(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, db, nil
}
