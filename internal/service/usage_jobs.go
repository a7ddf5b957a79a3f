package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/time/rate"

	"github.com/testforge/backend/internal/metrics"
	"github.com/testforge/backend/internal/models"
	"github.com/testforge/backend/internal/provider"
	"github.com/testforge/backend/internal/repository"
)

// JobsConfig schedules the background usage jobs. A zero interval disables a job.
type JobsConfig struct {
	ResetInterval     time.Duration
	ReconcileInterval time.Duration
	// ReconcileRate is the number of provider usage calls per second.
	ReconcileRate float64
}

// Drift compares one account's provider-reported storage with the local mirror.
type Drift struct {
	AccountID     uuid.UUID       `json:"account_id" yaml:"account_id"`
	Account       string          `json:"account" yaml:"account"`
	Provider      models.Provider `json:"provider" yaml:"provider"`
	LocalStorage  int64           `json:"local_storage" yaml:"local_storage"`
	RemoteStorage int64           `json:"remote_storage" yaml:"remote_storage"`
	Drift         int64           `json:"drift" yaml:"drift"`
}

// UsageJobs runs the monthly counter reset and the provider reconciliation.
// Reconciliation only reports drift; the usage ledger stays the sole writer
// of usage counters.
type UsageJobs struct {
	ledger    repository.UsageLedger
	accounts  repository.StorageAccountRepository
	providers ProviderFactory
	limiter   *rate.Limiter
	cfg       JobsConfig
	clock     clock.Clock
	logger    *slog.Logger
}

// NewUsageJobs creates the usage jobs.
func NewUsageJobs(
	ledger repository.UsageLedger,
	accounts repository.StorageAccountRepository,
	providers ProviderFactory,
	cfg JobsConfig,
	clk clock.Clock,
	logger *slog.Logger,
) *UsageJobs {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if cfg.ReconcileRate > 0 {
		limit = rate.Limit(cfg.ReconcileRate)
	}
	return &UsageJobs{
		ledger:    ledger,
		accounts:  accounts,
		providers: providers,
		limiter:   rate.NewLimiter(limit, 1),
		cfg:       cfg,
		clock:     clk,
		logger:    logger,
	}
}

// ResetMonthly zeroes the monthly counters that are due.
func (j *UsageJobs) ResetMonthly(ctx context.Context) (*repository.ResetReport, error) {
	report, err := j.ledger.ResetMonthly(ctx, j.clock.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("monthly reset failed: %w", err)
	}
	metrics.Reset(report.Accounts, report.Organizations)
	if report.Accounts > 0 || report.Organizations > 0 {
		j.logger.Info("monthly usage reset",
			slog.Int("accounts", report.Accounts),
			slog.Int("organizations", report.Organizations),
		)
	}
	return report, nil
}

// Reconcile asks every enabled account's backend for its usage and reports
// the difference from the local mirror. Per-account failures are collected
// and do not stop the remaining accounts.
func (j *UsageJobs) Reconcile(ctx context.Context) ([]Drift, error) {
	accounts, err := j.accounts.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list storage accounts: %w", err)
	}

	var (
		drifts []Drift
		errs   error
	)
	for _, account := range accounts {
		if account.Status == models.AccountStatusDisabled {
			continue
		}
		if err := j.limiter.Wait(ctx); err != nil {
			return drifts, multierr.Append(errs, err)
		}

		d, err := j.reconcileAccount(ctx, account)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("account %s: %w", account.Name, err))
			continue
		}
		drifts = append(drifts, *d)
	}
	return drifts, errs
}

func (j *UsageJobs) reconcileAccount(ctx context.Context, account *models.StorageAccount) (*Drift, error) {
	backend, err := j.providers.For(account)
	if err != nil {
		return nil, err
	}
	stats, err := backend.GetUsageStats(ctx)
	if err != nil {
		metrics.ProviderError(string(account.Provider), provider.OpUsage)
		return nil, err
	}

	d := &Drift{
		AccountID:     account.ID,
		Account:       account.Name,
		Provider:      account.Provider,
		LocalStorage:  account.StorageUsed,
		RemoteStorage: stats.Storage.Used,
		Drift:         stats.Storage.Used - account.StorageUsed,
	}
	metrics.AccountDrift(account.Name, string(account.Provider), d.Drift)
	if d.Drift != 0 {
		j.logger.Warn("storage usage drift",
			slog.String("account", account.Name),
			slog.Int64("local", d.LocalStorage),
			slog.Int64("remote", d.RemoteStorage),
			slog.Int64("drift", d.Drift),
		)
	}
	return d, nil
}

// Run executes the jobs on their intervals until ctx is done. The reset runs
// once immediately so a restarted server catches up on missed cycles.
func (j *UsageJobs) Run(ctx context.Context) {
	var resetC, reconcileC <-chan time.Time
	if j.cfg.ResetInterval > 0 {
		t := j.clock.Ticker(j.cfg.ResetInterval)
		defer t.Stop()
		resetC = t.C
		j.runReset(ctx)
	}
	if j.cfg.ReconcileInterval > 0 {
		t := j.clock.Ticker(j.cfg.ReconcileInterval)
		defer t.Stop()
		reconcileC = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-resetC:
			j.runReset(ctx)
		case <-reconcileC:
			if _, err := j.Reconcile(ctx); err != nil {
				j.logger.Error("usage reconcile finished with errors", slog.Any("error", err))
			}
		}
	}
}

func (j *UsageJobs) runReset(ctx context.Context) {
	if _, err := j.ResetMonthly(ctx); err != nil {
		j.logger.Error("monthly usage reset failed", slog.Any("error", err))
	}
}
