package migrate

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/account-lifecycle-service/internal/di"
	"github.com/sandeepkv93/account-lifecycle-service/internal/observability"
	"github.com/sandeepkv93/account-lifecycle-service/internal/tools/common"
	"github.com/sandeepkv93/account-lifecycle-service/internal/tools/ui"
)

type options struct {
	envFile string
	timeout time.Duration
	ci      bool
}

func NewRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration tooling",
	}
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "path to env file")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "operation timeout")
	cmd.PersistentFlags().BoolVar(&opts.ci, "ci", false, "non-interactive machine-readable output")

	cmd.AddCommand(
		newUpCommand(opts),
		newStatusCommand(opts),
		newPlanCommand(opts),
	)
	return cmd
}

func newUpCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(opts, "up", func(ctx context.Context, runner *di.MigrationRunner) ([]string, error) {
				pending, err := runner.Plan()
				if err != nil {
					return nil, err
				}
				if err := runner.WithOutput(io.Discard).Run(); err != nil {
					return nil, err
				}
				return append([]string{fmt.Sprintf("applied %d schema change(s)", len(pending))}, pending...), nil
			})
		},
	}
}

func newStatusCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check connectivity and pending schema changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(opts, "status", func(ctx context.Context, runner *di.MigrationRunner) ([]string, error) {
				sqlDB, err := runner.DB().DB()
				if err != nil {
					return nil, err
				}
				if err := sqlDB.PingContext(ctx); err != nil {
					return nil, fmt.Errorf("db ping: %w", err)
				}
				pending, err := runner.Plan()
				if err != nil {
					return nil, err
				}
				details := []string{
					"database reachable",
					"driver: " + runner.DB().Dialector.Name(),
				}
				if len(pending) == 0 {
					return append(details, "schema: up to date"), nil
				}
				return append(details, fmt.Sprintf("schema: %d pending change(s)", len(pending))), nil
			})
		},
	}
}

func newPlanCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Show migration plan (dry-run)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(opts, "plan", func(ctx context.Context, runner *di.MigrationRunner) ([]string, error) {
				pending, err := runner.Plan()
				if err != nil {
					return nil, err
				}
				if len(pending) == 0 {
					return []string{"nothing to apply", "no mutation executed in plan mode"}, nil
				}
				return append(pending, "no mutation executed in plan mode"), nil
			})
		},
	}
}

func execute(opts *options, command string, fn func(context.Context, *di.MigrationRunner) ([]string, error)) error {
	title := "migrate " + command
	details, err := run(opts, title, func(ctx context.Context) ([]string, error) {
		runner, err := loadRunner(opts.envFile)
		if err != nil {
			return nil, err
		}
		defer func() { _ = runner.Close() }()
		return fn(ctx, runner)
	})
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	observability.RecordToolCommandRun(context.Background(), "migrate", command, outcome)
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
		ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
		defer cancel()
		return fn(ctx)
	}
	return ui.Run(title, fn)
}

func loadRunner(envFile string) (*di.MigrationRunner, error) {
	if err := common.LoadEnvFile(envFile); err != nil {
		return nil, err
	}
	return di.InitializeMigrationRunner()
}
