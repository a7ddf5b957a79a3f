// Package service provides the business logic of the media storage backend.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/testforge/backend/internal/metrics"
	"github.com/testforge/backend/internal/models"
	"github.com/testforge/backend/internal/optimizer"
	apierrors "github.com/testforge/backend/internal/pkg/errors"
	"github.com/testforge/backend/internal/pkg/ulid"
	"github.com/testforge/backend/internal/provider"
	"github.com/testforge/backend/internal/quota"
	"github.com/testforge/backend/internal/repository"
)

const (
	// DefaultStatsWindowDays is used when a stats request names no window.
	DefaultStatsWindowDays = 30
	// MaxStatsWindowDays bounds the trailing window of user upload stats.
	MaxStatsWindowDays = 365

	compensateTimeout = 30 * time.Second
)

// ImageOptimizer re-encodes uploaded images.
type ImageOptimizer interface {
	Optimize(ctx context.Context, raw []byte, opts optimizer.Options) (*optimizer.Result, error)
}

// ProviderFactory builds the adapter of a storage account.
type ProviderFactory interface {
	For(account *models.StorageAccount) (provider.StorageProvider, error)
}

// AccountSelector picks the account an upload goes to.
type AccountSelector interface {
	Select(pool []*models.StorageAccount, size int64) (*models.StorageAccount, error)
}

// MediaService defines the image upload and accounting operations.
type MediaService interface {
	UploadImage(ctx context.Context, req UploadImageRequest) (*UploadOutcome, error)
	DeleteImage(ctx context.Context, imageID, actorID uuid.UUID) error
	ListEntityImages(ctx context.Context, entityType models.EntityType, entityID uuid.UUID) ([]*models.ImageSummary, error)
	GetOrganizationUsage(ctx context.Context, orgID uuid.UUID) (*models.OrgUsage, error)
	GetUserUploadStats(ctx context.Context, userID uuid.UUID, orgID *uuid.UUID, windowDays int) (*models.UserUploadStats, error)
}

// UploadImageRequest is one image upload.
type UploadImageRequest struct {
	Data       []byte
	FileName   string
	UserID     uuid.UUID
	OrgID      uuid.UUID
	EntityType models.EntityType
	EntityID   uuid.UUID
}

// OutcomeKind tells which variant of UploadOutcome is set.
type OutcomeKind string

const (
	OutcomeUploaded          OutcomeKind = "uploaded"
	OutcomeQuotaDenied       OutcomeKind = "quota_denied"
	OutcomeCapacityExhausted OutcomeKind = "capacity_exhausted"
)

// UploadOutcome is the non-error result of an upload.
// Image is set for OutcomeUploaded, Decision for OutcomeQuotaDenied and
// Required for OutcomeCapacityExhausted.
type UploadOutcome struct {
	Kind     OutcomeKind          `json:"kind"`
	Image    *models.ImageSummary `json:"image,omitempty"`
	Decision *quota.Decision      `json:"decision,omitempty"`
	Required int64                `json:"required,omitempty"`
}

// MediaConfig holds the pipeline settings.
type MediaConfig struct {
	Optimize optimizer.Options
	Folder   string
}

type mediaService struct {
	images    repository.ImageRepository
	accounts  repository.StorageAccountRepository
	billing   repository.BillingRepository
	ledger    repository.UsageLedger
	optimizer ImageOptimizer
	selector  AccountSelector
	providers ProviderFactory
	cfg       MediaConfig
	clock     clock.Clock
	logger    *slog.Logger
}

// NewMediaService creates a new media service.
func NewMediaService(
	images repository.ImageRepository,
	accounts repository.StorageAccountRepository,
	billing repository.BillingRepository,
	ledger repository.UsageLedger,
	opt ImageOptimizer,
	selector AccountSelector,
	providers ProviderFactory,
	cfg MediaConfig,
	clk clock.Clock,
	logger *slog.Logger,
) MediaService {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &mediaService{
		images:    images,
		accounts:  accounts,
		billing:   billing,
		ledger:    ledger,
		optimizer: opt,
		selector:  selector,
		providers: providers,
		cfg:       cfg,
		clock:     clk,
		logger:    logger,
	}
}

// UploadImage runs the full pipeline: quota pre-check on the original size,
// optimize, quota post-check on the optimized size, account selection,
// remote upload, then one transaction that records the image and debits both
// ledgers. No database lock is held while talking to the backend.
func (s *mediaService) UploadImage(ctx context.Context, req UploadImageRequest) (*UploadOutcome, error) {
	if err := validateUpload(req); err != nil {
		return nil, err
	}

	billing, err := s.billing.GetOrCreate(ctx, req.OrgID, s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to load billing: %w", err)
	}

	originalSize := int64(len(req.Data))
	if d := quota.CheckUpload(billing, originalSize); !d.Allowed {
		return s.denied(req, d), nil
	}

	result, err := s.optimizer.Optimize(ctx, req.Data, s.cfg.Optimize)
	if err != nil {
		metrics.Upload("", metrics.OutcomeFailed, 0)
		return nil, err
	}

	if d := quota.CheckUpload(billing, result.Size); !d.Allowed {
		return s.denied(req, d), nil
	}

	pool, err := s.accounts.ListSelectable(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list storage accounts: %w", err)
	}
	account, err := s.selector.Select(pool, result.Size)
	if err != nil {
		var capErr *apierrors.CapacityExhaustedError
		if errors.As(err, &capErr) {
			metrics.CapacityExhausted()
			s.logger.Warn("no storage account can take upload",
				slog.String("org_id", req.OrgID.String()),
				slog.Int64("required", capErr.Required),
				slog.Int("accounts", capErr.Candidates),
			)
			return &UploadOutcome{Kind: OutcomeCapacityExhausted, Required: capErr.Required}, nil
		}
		return nil, err
	}

	backend, err := s.providers.For(account)
	if err != nil {
		return nil, fmt.Errorf("failed to build provider for account %s: %w", account.Name, err)
	}

	now := s.clock.Now().UTC()
	fileName := ulid.FileName(now, extensionFor(result.Format))
	uploaded, err := backend.Upload(ctx, result.Data, provider.UploadOptions{
		FileName: fileName,
		Folder:   path.Join(s.cfg.Folder, req.OrgID.String()),
		MimeType: result.MimeType,
		Tags:     []string{string(req.EntityType), req.EntityID.String()},
	})
	if err != nil {
		metrics.ProviderError(string(account.Provider), provider.OpUpload)
		metrics.Upload(string(account.Provider), metrics.OutcomeFailed, 0)
		return nil, err
	}

	img := &models.Image{
		ID:                uuid.New(),
		OrgID:             req.OrgID,
		UploadedBy:        req.UserID,
		EntityType:        req.EntityType,
		EntityID:          req.EntityID,
		FileName:          fileName,
		OriginalName:      req.FileName,
		FileSize:          result.Size,
		OriginalSize:      originalSize,
		MimeType:          result.MimeType,
		Width:             result.Width,
		Height:            result.Height,
		Provider:          account.Provider,
		ProviderAccountID: account.ID,
		ProviderAssetID:   uploaded.AssetID,
		URL:               uploaded.URL,
		ThumbnailURL:      uploaded.ThumbnailURL,
		Optimization: models.OptimizationInfo{
			Format:           result.Format,
			HasAlpha:         result.HasAlpha,
			Progressive:      result.Progressive,
			CompressionRatio: result.CompressionRatio,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.ledger.Debit(ctx, repository.DebitRequest{
		AccountID: account.ID,
		OrgID:     req.OrgID,
		UserID:    req.UserID,
		Size:      result.Size,
		At:        now,
		Image:     img,
	})
	if err != nil {
		s.compensate(ctx, backend, account, uploaded.AssetID, err)
		metrics.Upload(string(account.Provider), metrics.OutcomeFailed, 0)
		return nil, fmt.Errorf("failed to record upload: %w", err)
	}

	metrics.Upload(string(account.Provider), metrics.OutcomeUploaded, result.Size)
	s.logger.Info("image uploaded",
		slog.String("image_id", img.ID.String()),
		slog.String("org_id", req.OrgID.String()),
		slog.String("account", account.Name),
		slog.Int64("original_size", originalSize),
		slog.Int64("size", result.Size),
	)

	return &UploadOutcome{Kind: OutcomeUploaded, Image: img.Summary()}, nil
}

func (s *mediaService) denied(req UploadImageRequest, d quota.Decision) *UploadOutcome {
	metrics.QuotaDenied(d.Code)
	s.logger.Info("upload denied by quota",
		slog.String("org_id", req.OrgID.String()),
		slog.String("code", d.Code),
		slog.String("reason", d.Reason),
	)
	return &UploadOutcome{Kind: OutcomeQuotaDenied, Decision: &d}
}

// compensate removes a remote object whose commit failed. It runs detached
// from the caller's cancellation; its own failure is only logged.
func (s *mediaService) compensate(ctx context.Context, backend provider.StorageProvider, account *models.StorageAccount, assetID string, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensateTimeout)
	defer cancel()

	err := backend.Delete(ctx, assetID)
	metrics.CompensatingDelete(err == nil)
	if err != nil {
		s.logger.Error("orphaned remote object after failed commit",
			slog.String("account", account.Name),
			slog.String("asset_id", assetID),
			slog.Any("cause", cause),
			slog.Any("error", err),
		)
		return
	}
	s.logger.Warn("removed remote object after failed commit",
		slog.String("account", account.Name),
		slog.String("asset_id", assetID),
		slog.Any("cause", cause),
	)
}

// DeleteImage removes the remote object, then soft-deletes the image and
// credits both ledgers in one transaction.
func (s *mediaService) DeleteImage(ctx context.Context, imageID, actorID uuid.UUID) error {
	img, err := s.images.GetByID(ctx, imageID)
	if err != nil {
		return fmt.Errorf("failed to get image: %w", err)
	}
	if img == nil {
		return apierrors.NewNotFoundError("Image")
	}
	if img.IsDeleted() {
		return apierrors.ErrAlreadyDeleted
	}

	account, err := s.accounts.GetByID(ctx, img.ProviderAccountID)
	if err != nil {
		return fmt.Errorf("failed to get storage account: %w", err)
	}
	if account == nil {
		return apierrors.NewNotFoundError("Storage account")
	}

	backend, err := s.providers.For(account)
	if err != nil {
		return fmt.Errorf("failed to build provider for account %s: %w", account.Name, err)
	}
	if err := backend.Delete(ctx, img.ProviderAssetID); err != nil {
		metrics.ProviderError(string(account.Provider), provider.OpDelete)
		return err
	}

	if _, err := s.ledger.Credit(ctx, repository.CreditRequest{
		ImageID: img.ID,
		ActorID: actorID,
		At:      s.clock.Now().UTC(),
	}); err != nil {
		return err
	}

	s.logger.Info("image deleted",
		slog.String("image_id", img.ID.String()),
		slog.String("actor_id", actorID.String()),
		slog.Int64("size", img.FileSize),
	)
	return nil
}

// ListEntityImages returns the live images attached to an entity, newest first.
func (s *mediaService) ListEntityImages(ctx context.Context, entityType models.EntityType, entityID uuid.UUID) ([]*models.ImageSummary, error) {
	if !entityType.Valid() {
		return nil, apierrors.NewValidationError("entity_type", "unknown entity type")
	}
	images, err := s.images.ListByEntity(ctx, entityType, entityID, false)
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}
	out := make([]*models.ImageSummary, 0, len(images))
	for _, img := range images {
		out = append(out, img.Summary())
	}
	return out, nil
}

// GetOrganizationUsage aggregates the live images of an organization.
func (s *mediaService) GetOrganizationUsage(ctx context.Context, orgID uuid.UUID) (*models.OrgUsage, error) {
	usage, err := s.images.AggregateOrgUsage(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate usage: %w", err)
	}
	return usage, nil
}

// GetUserUploadStats aggregates a user's uploads over the trailing windowDays.
func (s *mediaService) GetUserUploadStats(ctx context.Context, userID uuid.UUID, orgID *uuid.UUID, windowDays int) (*models.UserUploadStats, error) {
	if windowDays == 0 {
		windowDays = DefaultStatsWindowDays
	}
	if windowDays < 0 || windowDays > MaxStatsWindowDays {
		return nil, apierrors.NewValidationError("days", fmt.Sprintf("must be between 1 and %d", MaxStatsWindowDays))
	}

	since := s.clock.Now().UTC().AddDate(0, 0, -windowDays)
	stats, err := s.images.AggregateUserUsage(ctx, userID, orgID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate user usage: %w", err)
	}
	stats.WindowDays = windowDays
	stats.Since = since
	return stats, nil
}

func validateUpload(req UploadImageRequest) error {
	errs := map[string]string{}
	if len(req.Data) == 0 {
		errs["file"] = "file is empty"
	}
	if strings.TrimSpace(req.FileName) == "" {
		errs["file_name"] = "file name is required"
	}
	if req.UserID == uuid.Nil {
		errs["user_id"] = "user is required"
	}
	if req.OrgID == uuid.Nil {
		errs["org_id"] = "organization is required"
	}
	if !req.EntityType.Valid() {
		errs["entity_type"] = "unknown entity type"
	}
	if req.EntityID == uuid.Nil {
		errs["entity_id"] = "entity is required"
	}
	if len(errs) > 0 {
		return apierrors.NewValidationErrors(errs)
	}
	return nil
}

func extensionFor(format string) string {
	if format == optimizer.FormatJPEG {
		return "jpg"
	}
	return format
}

var _ MediaService = (*mediaService)(nil)
