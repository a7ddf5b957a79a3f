package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/testforge/backend/internal/models"
	"github.com/testforge/backend/internal/provider"
)

func newTestJobs(store *memStore, factory *fakeFactory, clk clock.Clock, cfg JobsConfig) (*fakeLedger, *UsageJobs) {
	ledger := &fakeLedger{memStore: store}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return ledger, NewUsageJobs(ledger, fakeAccounts{store}, factory, cfg, clk, logger)
}

func TestUsageJobs_ResetMonthly(t *testing.T) {
	store := newMemStore()
	clk := clock.NewMock()
	now := time.Date(2026, 5, 15, 0, 0, 0, 0, time.UTC)
	clk.Set(now)

	stale := store.addAccount(&models.StorageAccount{Name: "stale", UploadsUsed: 40, UploadsLimit: 100, LastResetAt: now.AddDate(0, -2, 0)})
	fresh := store.addAccount(&models.StorageAccount{Name: "fresh", UploadsUsed: 40, UploadsLimit: 100, LastResetAt: now.AddDate(0, 0, -7)})

	_, jobs := newTestJobs(store, newFakeFactory(), clk, JobsConfig{})
	report, err := jobs.ResetMonthly(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Accounts)
	assert.Zero(t, stale.UploadsUsed)
	assert.True(t, stale.LastResetAt.Equal(now))
	assert.Equal(t, int64(40), fresh.UploadsUsed)
}

func TestUsageJobs_ReconcileReportsDriftAndCollectsErrors(t *testing.T) {
	store := newMemStore()
	factory := newFakeFactory()
	ok := store.addAccount(&models.StorageAccount{Name: "ok", Provider: models.ProviderCloudinary, StorageUsed: 1_000})
	broken := store.addAccount(&models.StorageAccount{Name: "broken", Provider: models.ProviderImageKit})
	off := store.addAccount(&models.StorageAccount{Name: "off", Provider: models.ProviderBackblaze, Status: models.AccountStatusDisabled})

	factory.providers[ok.ID] = &fakeProvider{usage: &provider.UsageStats{Storage: provider.Quantity{Used: 1_250}}}
	factory.providers[broken.ID] = &fakeProvider{usageErr: errors.New("HTTP 500")}
	factory.providers[off.ID] = &fakeProvider{usageErr: errors.New("must not be called")}

	_, jobs := newTestJobs(store, factory, clock.NewMock(), JobsConfig{})
	drifts, err := jobs.Reconcile(context.Background())

	require.Error(t, err)
	errs := multierr.Errors(err)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "account broken")

	require.Len(t, drifts, 1)
	assert.Equal(t, "ok", drifts[0].Account)
	assert.Equal(t, int64(250), drifts[0].Drift)
	assert.Equal(t, int64(1_000), ok.StorageUsed, "reconcile never writes usage")
}

func TestUsageJobs_RunResetsOnStartAndOnTick(t *testing.T) {
	store := newMemStore()
	clk := clock.NewMock()
	ledger, jobs := newTestJobs(store, newFakeFactory(), clk, JobsConfig{ResetInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		jobs.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(ledger.resets) == 1
	}, time.Second, 5*time.Millisecond)

	clk.Add(time.Hour)
	assert.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(ledger.resets) == 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}
