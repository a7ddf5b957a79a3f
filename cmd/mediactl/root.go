package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/benbjohnson/clock"
	"github.com/spf13/cobra"

	"github.com/testforge/backend/internal/config"
	"github.com/testforge/backend/internal/database"
	"github.com/testforge/backend/internal/pkg/secretbox"
	"github.com/testforge/backend/internal/provider"
	"github.com/testforge/backend/internal/repository"
	"github.com/testforge/backend/internal/service"
)

var (
	outputFormat string
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:   "mediactl",
	Short: "Operate the TestForge media backend",
	Long: `mediactl talks to the media database directly. It reads the same
configuration as the API server (config.yaml or TESTFORGE_* variables).

Examples:
  mediactl accounts import accounts.yaml
  mediactl accounts list
  mediactl usage reconcile -o yaml
  mediactl billing set-plan 6f1c... professional --cycle yearly`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "output format (table, json, yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")
}

// app holds the services a command needs. It is built per invocation.
type app struct {
	accounts service.StorageAccountService
	billing  service.BillingService
	jobs     *service.UsageJobs
	close    func()
}

func newApp(ctx context.Context) (*app, error) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	box, err := secretbox.NewFromBase64(cfg.Security.CredentialKey)
	if err != nil {
		return nil, fmt.Errorf("invalid credential key: %w", err)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}

	clk := clock.New()
	pool := db.Pool()
	accountRepo := repository.NewStorageAccountRepository(pool)
	imageRepo := repository.NewImageRepository(pool)
	providers := provider.NewFactory(cfg.Providers, box, provider.WithClock(clk))

	return &app{
		accounts: service.NewStorageAccountService(accountRepo, box, logger),
		billing:  service.NewBillingService(repository.NewBillingRepository(pool), imageRepo, clk),
		jobs: service.NewUsageJobs(repository.NewUsageLedger(pool), accountRepo, providers, service.JobsConfig{
			ReconcileRate: cfg.Media.ReconcileRate,
		}, clk, logger),
		close: db.Close,
	}, nil
}

// withApp runs fn with a connected app and closes it afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a)
}
