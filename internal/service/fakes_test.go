package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/testforge/backend/internal/models"
	"github.com/testforge/backend/internal/optimizer"
	apierrors "github.com/testforge/backend/internal/pkg/errors"
	"github.com/testforge/backend/internal/provider"
	"github.com/testforge/backend/internal/repository"
)

// --- In-memory store shared by the repository fakes ---

type memStore struct {
	mu        sync.Mutex
	images    map[uuid.UUID]*models.Image
	accounts  map[uuid.UUID]*models.StorageAccount
	billing   map[uuid.UUID]*models.OrganizationBilling
	userUsage map[[2]uuid.UUID]*models.UserUsage
}

func newMemStore() *memStore {
	return &memStore{
		images:    make(map[uuid.UUID]*models.Image),
		accounts:  make(map[uuid.UUID]*models.StorageAccount),
		billing:   make(map[uuid.UUID]*models.OrganizationBilling),
		userUsage: make(map[[2]uuid.UUID]*models.UserUsage),
	}
}

func (m *memStore) addAccount(a *models.StorageAccount) *models.StorageAccount {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = models.AccountStatusActive
	}
	m.accounts[a.ID] = a
	return a
}

func (m *memStore) addBilling(orgID uuid.UUID, plan models.Plan) *models.OrganizationBilling {
	b := models.NewOrganizationBilling(orgID, time.Now())
	b.ApplyPlan(plan)
	m.billing[orgID] = b
	return b
}

type fakeImages struct{ *memStore }

func (f fakeImages) Create(ctx context.Context, img *models.Image) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images[img.ID] = img
	return nil
}

func (f fakeImages) GetByID(ctx context.Context, id uuid.UUID) (*models.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.images[id], nil
}

func (f fakeImages) SoftDelete(ctx context.Context, id, actorID uuid.UUID, at time.Time) (*models.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.softDelete(id, actorID, at)
}

func (m *memStore) softDelete(id, actorID uuid.UUID, at time.Time) (*models.Image, error) {
	img, ok := m.images[id]
	if !ok {
		return nil, apierrors.NewNotFoundError("Image")
	}
	if img.IsDeleted() {
		return nil, apierrors.ErrAlreadyDeleted
	}
	img.DeletedAt = &at
	img.DeletedBy = &actorID
	return img, nil
}

func (f fakeImages) ListByEntity(ctx context.Context, entityType models.EntityType, entityID uuid.UUID, includeDeleted bool) ([]*models.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Image
	for _, img := range f.images {
		if img.EntityType == entityType && img.EntityID == entityID && (includeDeleted || !img.IsDeleted()) {
			out = append(out, img)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (f fakeImages) AggregateOrgUsage(ctx context.Context, orgID uuid.UUID) (*models.OrgUsage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	usage := &models.OrgUsage{OrgID: orgID, ByProvider: []models.ProviderUsage{}}
	byProvider := map[models.Provider]*models.ProviderUsage{}
	for _, img := range f.images {
		if img.OrgID != orgID || img.IsDeleted() {
			continue
		}
		usage.TotalSize += img.FileSize
		usage.TotalImages++
		p, ok := byProvider[img.Provider]
		if !ok {
			p = &models.ProviderUsage{Provider: img.Provider}
			byProvider[img.Provider] = p
		}
		p.TotalSize += img.FileSize
		p.TotalImages++
	}
	for _, p := range byProvider {
		usage.ByProvider = append(usage.ByProvider, *p)
	}
	sort.Slice(usage.ByProvider, func(i, j int) bool { return usage.ByProvider[i].Provider < usage.ByProvider[j].Provider })
	return usage, nil
}

func (f fakeImages) AggregateUserUsage(ctx context.Context, userID uuid.UUID, orgID *uuid.UUID, since time.Time) (*models.UserUploadStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := &models.UserUploadStats{UserID: userID, OrgID: orgID, Since: since}
	var ratios float64
	for _, img := range f.images {
		if img.UploadedBy != userID || img.IsDeleted() || img.CreatedAt.Before(since) {
			continue
		}
		if orgID != nil && img.OrgID != *orgID {
			continue
		}
		stats.TotalSize += img.FileSize
		stats.TotalImages++
		ratios += img.Optimization.CompressionRatio
	}
	if stats.TotalImages > 0 {
		stats.AvgCompressionRatio = ratios / float64(stats.TotalImages)
	}
	return stats, nil
}

type fakeAccounts struct{ *memStore }

func (f fakeAccounts) Create(ctx context.Context, account *models.StorageAccount) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addAccount(account)
	return nil
}

func (f fakeAccounts) GetByID(ctx context.Context, id uuid.UUID) (*models.StorageAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accounts[id], nil
}

func (f fakeAccounts) GetByName(ctx context.Context, name string) (*models.StorageAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.accounts {
		if a.Name == name {
			return a, nil
		}
	}
	return nil, nil
}

func (f fakeAccounts) List(ctx context.Context) ([]*models.StorageAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.StorageAccount
	for _, a := range f.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f fakeAccounts) ListSelectable(ctx context.Context) ([]*models.StorageAccount, error) {
	all, _ := f.List(ctx)
	var out []*models.StorageAccount
	for _, a := range all {
		if a.Selectable() {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f fakeAccounts) UpdateCredentials(ctx context.Context, id uuid.UUID, sealed []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.accounts[id]; ok {
		a.Credentials = sealed
	}
	return nil
}

func (f fakeAccounts) SetStatus(ctx context.Context, id uuid.UUID, status models.AccountStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.accounts[id]; ok {
		a.Status = status
	}
	return nil
}

func (f fakeAccounts) Enable(ctx context.Context, id uuid.UUID) (*models.StorageAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return nil, nil
	}
	a.Status = models.AccountStatusActive
	a.Status = a.DeriveStatus()
	return a, nil
}

type fakeBilling struct{ *memStore }

func (f fakeBilling) GetOrCreate(ctx context.Context, orgID uuid.UUID, now time.Time) (*models.OrganizationBilling, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.billing[orgID]
	if !ok {
		b = models.NewOrganizationBilling(orgID, now)
		f.billing[orgID] = b
	}
	cp := *b
	return &cp, nil
}

func (f fakeBilling) Get(ctx context.Context, orgID uuid.UUID) (*models.OrganizationBilling, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.billing[orgID], nil
}

func (f fakeBilling) ChangePlan(ctx context.Context, orgID uuid.UUID, plan models.Plan, cycle models.BillingCycle) (*models.OrganizationBilling, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.billing[orgID]
	if !ok {
		return nil, nil
	}
	b.ApplyPlan(plan)
	if cycle != "" {
		b.BillingCycle = cycle
	}
	return b, nil
}

func (f fakeBilling) SetStatus(ctx context.Context, orgID uuid.UUID, status models.BillingStatus, approvedBy uuid.UUID, note string, at time.Time) (*models.OrganizationBilling, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.billing[orgID]
	if !ok {
		return nil, nil
	}
	b.Status = status
	if status == models.BillingStatusActive {
		b.Status = b.DeriveStatus()
	}
	b.ApprovedBy = &approvedBy
	b.ApprovedAt = &at
	b.ApprovalNote = &note
	return b, nil
}

func (f fakeBilling) ListUserUsage(ctx context.Context, orgID uuid.UUID) ([]*models.UserUsage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.UserUsage
	for key, u := range f.userUsage {
		if key[0] == orgID {
			out = append(out, u)
		}
	}
	return out, nil
}

// fakeLedger applies debits and credits to the shared store the way the
// Postgres ledger does: both sides or neither.
type fakeLedger struct {
	*memStore
	debitErr error
	resets   []time.Time
}

func (f *fakeLedger) Debit(ctx context.Context, req repository.DebitRequest) error {
	if f.debitErr != nil {
		return f.debitErr
	}
	if req.At.IsZero() {
		return errors.New("debit time is required")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[req.AccountID]
	if !ok {
		return errors.New("account not found")
	}
	b, ok := f.billing[req.OrgID]
	if !ok {
		return errors.New("billing not found")
	}
	at := req.At
	a.StorageUsed += req.Size
	a.UploadsUsed++
	a.LastUsedAt = &at
	a.Status = a.DeriveStatus()
	b.StorageUsed += req.Size
	b.UploadsUsed++
	b.Status = b.DeriveStatus()

	key := [2]uuid.UUID{req.OrgID, req.UserID}
	u, ok := f.userUsage[key]
	if !ok {
		u = &models.UserUsage{OrgID: req.OrgID, UserID: req.UserID}
		f.userUsage[key] = u
	}
	u.Uploads++
	u.Storage += req.Size
	u.LastUploadAt = &at

	if req.Image != nil {
		f.images[req.Image.ID] = req.Image
	}
	return nil
}

func (f *fakeLedger) Credit(ctx context.Context, req repository.CreditRequest) (*models.Image, error) {
	if req.At.IsZero() {
		return nil, errors.New("credit time is required")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var deleted *models.Image
	if req.ImageID != uuid.Nil {
		img, err := f.softDelete(req.ImageID, req.ActorID, req.At)
		if err != nil {
			return nil, err
		}
		deleted = img
		req.AccountID, req.OrgID, req.UserID, req.Size = img.ProviderAccountID, img.OrgID, img.UploadedBy, img.FileSize
	}
	if a, ok := f.accounts[req.AccountID]; ok {
		a.StorageUsed = max(a.StorageUsed-req.Size, 0)
		a.UploadsUsed = max(a.UploadsUsed-1, 0)
		a.Status = a.DeriveStatus()
	}
	if b, ok := f.billing[req.OrgID]; ok {
		b.StorageUsed = max(b.StorageUsed-req.Size, 0)
		b.UploadsUsed = max(b.UploadsUsed-1, 0)
		b.Status = b.DeriveStatus()
	}
	return deleted, nil
}

func (f *fakeLedger) ResetMonthly(ctx context.Context, now time.Time) (*repository.ResetReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets = append(f.resets, now)
	report := &repository.ResetReport{}
	cutoff := repository.ResetCutoff(now)
	for _, a := range f.accounts {
		if !a.LastResetAt.After(cutoff) {
			a.UploadsUsed, a.BandwidthUsed, a.TransformationsUsed = 0, 0, 0
			a.LastResetAt = now
			a.Status = a.DeriveStatus()
			report.Accounts++
		}
	}
	return report, nil
}

// --- Optimizer and provider doubles ---

type mockOptimizer struct {
	mock.Mock
}

func (m *mockOptimizer) Optimize(ctx context.Context, raw []byte, opts optimizer.Options) (*optimizer.Result, error) {
	args := m.Called(ctx, raw, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*optimizer.Result), args.Error(1)
}

type fakeProvider struct {
	mu        sync.Mutex
	name      models.Provider
	uploads   []provider.UploadOptions
	deletes   []string
	uploadErr error
	deleteErr error
	usage     *provider.UsageStats
	usageErr  error
}

func (p *fakeProvider) Name() models.Provider { return p.name }

func (p *fakeProvider) Upload(ctx context.Context, data []byte, opts provider.UploadOptions) (*provider.UploadResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.uploadErr != nil {
		return nil, p.uploadErr
	}
	p.uploads = append(p.uploads, opts)
	thumb := "https://cdn.example.com/thumb/" + opts.FileName
	return &provider.UploadResult{
		AssetID:      "asset-" + opts.FileName,
		URL:          "https://cdn.example.com/" + opts.FileName,
		ThumbnailURL: &thumb,
		Size:         int64(len(data)),
	}, nil
}

func (p *fakeProvider) Delete(ctx context.Context, assetID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.deleteErr != nil {
		return p.deleteErr
	}
	p.deletes = append(p.deletes, assetID)
	return nil
}

func (p *fakeProvider) GetUsageStats(ctx context.Context) (*provider.UsageStats, error) {
	if p.usageErr != nil {
		return nil, p.usageErr
	}
	return p.usage, nil
}

// fakeFactory returns one fakeProvider per account.
type fakeFactory struct {
	providers map[uuid.UUID]*fakeProvider
	calls     int
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{providers: make(map[uuid.UUID]*fakeProvider)}
}

func (f *fakeFactory) For(account *models.StorageAccount) (provider.StorageProvider, error) {
	f.calls++
	p, ok := f.providers[account.ID]
	if !ok {
		p = &fakeProvider{name: account.Provider}
		f.providers[account.ID] = p
	}
	return p, nil
}

func (f *fakeFactory) totalUploads() int {
	n := 0
	for _, p := range f.providers {
		n += len(p.uploads)
	}
	return n
}

// firstRand always draws the best-scored candidate.
type firstRand struct{}

func (firstRand) Float64() float64 { return 0 }

var (
	_ repository.ImageRepository          = fakeImages{}
	_ repository.StorageAccountRepository = fakeAccounts{}
	_ repository.BillingRepository        = fakeBilling{}
	_ repository.UsageLedger              = (*fakeLedger)(nil)
	_ provider.StorageProvider            = (*fakeProvider)(nil)
)
