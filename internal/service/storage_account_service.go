package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/testforge/backend/internal/models"
	apierrors "github.com/testforge/backend/internal/pkg/errors"
	"github.com/testforge/backend/internal/pkg/secretbox"
	"github.com/testforge/backend/internal/provider"
	"github.com/testforge/backend/internal/repository"
)

// StorageAccountService provisions the backend accounts uploads are spread over.
type StorageAccountService interface {
	Create(ctx context.Context, req CreateStorageAccountRequest) (*models.StorageAccount, error)
	List(ctx context.Context) ([]*models.StorageAccount, error)
	Disable(ctx context.Context, id uuid.UUID) (*models.StorageAccount, error)
	Enable(ctx context.Context, id uuid.UUID) (*models.StorageAccount, error)
	RotateCredentials(ctx context.Context, id uuid.UUID, credentials json.RawMessage) (*models.StorageAccount, error)
}

// CreateStorageAccountRequest registers one backend account.
// Credentials is the provider-specific JSON bundle; it is sealed before storage.
type CreateStorageAccountRequest struct {
	Name           string          `json:"name" yaml:"name" validate:"required,min=1,max=100"`
	Provider       models.Provider `json:"provider" yaml:"provider" validate:"required,oneof=cloudinary imagekit backblaze"`
	Credentials    json.RawMessage `json:"credentials" yaml:"-" validate:"required"`
	Priority       int             `json:"priority" yaml:"priority"`
	StorageLimit   int64           `json:"storage_limit" yaml:"storage_limit" validate:"gte=0"`
	BandwidthLimit int64           `json:"bandwidth_limit" yaml:"bandwidth_limit" validate:"gte=0"`
	UploadsLimit   int64           `json:"uploads_limit" yaml:"uploads_limit" validate:"gte=0"`
}

type storageAccountService struct {
	accounts repository.StorageAccountRepository
	box      *secretbox.Box
	validate *validator.Validate
	logger   *slog.Logger
}

// NewStorageAccountService creates a new storage account service.
func NewStorageAccountService(accounts repository.StorageAccountRepository, box *secretbox.Box, logger *slog.Logger) StorageAccountService {
	if logger == nil {
		logger = slog.Default()
	}
	return &storageAccountService{
		accounts: accounts,
		box:      box,
		validate: validator.New(),
		logger:   logger,
	}
}

// Create validates and seals the credentials and stores the account as active.
func (s *storageAccountService) Create(ctx context.Context, req CreateStorageAccountRequest) (*models.StorageAccount, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, apierrors.NewValidationError("request", err.Error())
	}

	existing, err := s.accounts.GetByName(ctx, req.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to check account name: %w", err)
	}
	if existing != nil {
		return nil, apierrors.NewConflictError(fmt.Sprintf("storage account %q already exists", req.Name))
	}

	sealed, err := provider.SealCredentials(s.box, req.Provider, req.Credentials)
	if err != nil {
		return nil, apierrors.NewValidationError("credentials", err.Error())
	}

	account := &models.StorageAccount{
		ID:             uuid.New(),
		Name:           req.Name,
		Provider:       req.Provider,
		Credentials:    sealed,
		Status:         models.AccountStatusActive,
		Priority:       req.Priority,
		StorageLimit:   req.StorageLimit,
		BandwidthLimit: req.BandwidthLimit,
		UploadsLimit:   req.UploadsLimit,
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to create storage account: %w", err)
	}

	s.logger.Info("storage account created",
		slog.String("account", account.Name),
		slog.String("provider", string(account.Provider)),
	)
	return account, nil
}

// List returns every account. Credentials never leave the service in clear text.
func (s *storageAccountService) List(ctx context.Context) ([]*models.StorageAccount, error) {
	accounts, err := s.accounts.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list storage accounts: %w", err)
	}
	return accounts, nil
}

// Disable takes an account out of selection until it is enabled again.
func (s *storageAccountService) Disable(ctx context.Context, id uuid.UUID) (*models.StorageAccount, error) {
	account, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get storage account: %w", err)
	}
	if account == nil {
		return nil, apierrors.NewNotFoundError("Storage account")
	}
	if err := s.accounts.SetStatus(ctx, id, models.AccountStatusDisabled); err != nil {
		return nil, fmt.Errorf("failed to disable storage account: %w", err)
	}
	account.Status = models.AccountStatusDisabled
	s.logger.Info("storage account disabled", slog.String("account", account.Name))
	return account, nil
}

// Enable returns an account to selection with its status recomputed from usage.
func (s *storageAccountService) Enable(ctx context.Context, id uuid.UUID) (*models.StorageAccount, error) {
	account, err := s.accounts.Enable(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to enable storage account: %w", err)
	}
	if account == nil {
		return nil, apierrors.NewNotFoundError("Storage account")
	}
	s.logger.Info("storage account enabled",
		slog.String("account", account.Name),
		slog.String("status", string(account.Status)),
	)
	return account, nil
}

// RotateCredentials replaces the sealed credentials of an account. The new
// bundle is validated against the account's provider before it is stored.
func (s *storageAccountService) RotateCredentials(ctx context.Context, id uuid.UUID, credentials json.RawMessage) (*models.StorageAccount, error) {
	if len(credentials) == 0 {
		return nil, apierrors.NewValidationError("credentials", "credentials are required")
	}
	account, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get storage account: %w", err)
	}
	if account == nil {
		return nil, apierrors.NewNotFoundError("Storage account")
	}

	sealed, err := provider.SealCredentials(s.box, account.Provider, credentials)
	if err != nil {
		return nil, apierrors.NewValidationError("credentials", err.Error())
	}
	if err := s.accounts.UpdateCredentials(ctx, id, sealed); err != nil {
		return nil, fmt.Errorf("failed to update credentials: %w", err)
	}
	account.Credentials = sealed

	s.logger.Info("storage account credentials rotated", slog.String("account", account.Name))
	return account, nil
}

var _ StorageAccountService = (*storageAccountService)(nil)
