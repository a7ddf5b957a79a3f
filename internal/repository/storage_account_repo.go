package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/testforge/backend/internal/models"
)

// StorageAccountRepository defines the interface for storage account operations.
// Usage columns are written only by UsageLedger.
type StorageAccountRepository interface {
	Create(ctx context.Context, account *models.StorageAccount) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.StorageAccount, error)
	GetByName(ctx context.Context, name string) (*models.StorageAccount, error)
	List(ctx context.Context) ([]*models.StorageAccount, error)
	ListSelectable(ctx context.Context) ([]*models.StorageAccount, error)
	UpdateCredentials(ctx context.Context, id uuid.UUID, sealed []byte) error
	SetStatus(ctx context.Context, id uuid.UUID, status models.AccountStatus) error
	Enable(ctx context.Context, id uuid.UUID) (*models.StorageAccount, error)
}

type storageAccountRepo struct {
	pool *pgxpool.Pool
}

// NewStorageAccountRepository creates a new storage account repository.
func NewStorageAccountRepository(pool *pgxpool.Pool) StorageAccountRepository {
	return &storageAccountRepo{pool: pool}
}

const accountColumns = `id, name, provider, credentials, status, priority,
		       storage_limit, bandwidth_limit, uploads_limit,
		       storage_used, bandwidth_used, uploads_used, transformations_used,
		       usage_updated_at, last_reset_at, last_used_at, created_at, updated_at`

// Create inserts a new storage account.
func (r *storageAccountRepo) Create(ctx context.Context, account *models.StorageAccount) error {
	query := `
		INSERT INTO storage_accounts (id, name, provider, credentials, status, priority,
		                              storage_limit, bandwidth_limit, uploads_limit)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING last_reset_at, created_at, updated_at`

	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	if account.Status == "" {
		account.Status = models.AccountStatusActive
	}

	return r.pool.QueryRow(ctx, query,
		account.ID,
		account.Name,
		account.Provider,
		account.Credentials,
		account.Status,
		account.Priority,
		account.StorageLimit,
		account.BandwidthLimit,
		account.UploadsLimit,
	).Scan(&account.LastResetAt, &account.CreatedAt, &account.UpdatedAt)
}

// GetByID retrieves a storage account by ID.
func (r *storageAccountRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.StorageAccount, error) {
	return r.getOne(ctx, `SELECT `+accountColumns+` FROM storage_accounts WHERE id = $1`, id)
}

// GetByName retrieves a storage account by its unique name.
func (r *storageAccountRepo) GetByName(ctx context.Context, name string) (*models.StorageAccount, error) {
	return r.getOne(ctx, `SELECT `+accountColumns+` FROM storage_accounts WHERE name = $1`, name)
}

func (r *storageAccountRepo) getOne(ctx context.Context, query string, arg any) (*models.StorageAccount, error) {
	a, err := scanAccount(r.pool.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// List returns every account ordered by provider and name.
func (r *storageAccountRepo) List(ctx context.Context) ([]*models.StorageAccount, error) {
	return r.list(ctx, `SELECT `+accountColumns+` FROM storage_accounts ORDER BY provider, name`)
}

// ListSelectable returns accounts the selector may consider.
func (r *storageAccountRepo) ListSelectable(ctx context.Context) ([]*models.StorageAccount, error) {
	return r.list(ctx, `
		SELECT `+accountColumns+`
		FROM storage_accounts
		WHERE status IN ('active', 'near_limit')
		ORDER BY priority DESC, name`)
}

func (r *storageAccountRepo) list(ctx context.Context, query string) ([]*models.StorageAccount, error) {
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []*models.StorageAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// UpdateCredentials replaces the sealed credential bundle.
func (r *storageAccountRepo) UpdateCredentials(ctx context.Context, id uuid.UUID, sealed []byte) error {
	_, err := r.pool.Exec(ctx, `UPDATE storage_accounts SET credentials = $2, updated_at = NOW() WHERE id = $1`, id, sealed)
	return err
}

// SetStatus forces a status, used to disable an account.
func (r *storageAccountRepo) SetStatus(ctx context.Context, id uuid.UUID, status models.AccountStatus) error {
	_, err := r.pool.Exec(ctx, `UPDATE storage_accounts SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	return err
}

// Enable lifts a disabled status and recomputes it from current usage under a row lock.
func (r *storageAccountRepo) Enable(ctx context.Context, id uuid.UUID) (*models.StorageAccount, error) {
	var account *models.StorageAccount
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		a, err := scanAccount(tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM storage_accounts WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		a.Status = models.AccountStatusActive
		a.Status = a.DeriveStatus()
		if _, err := tx.Exec(ctx, `UPDATE storage_accounts SET status = $2, updated_at = NOW() WHERE id = $1`, id, a.Status); err != nil {
			return err
		}
		account = a
		return nil
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return account, nil
}

func scanAccount(row pgx.Row) (*models.StorageAccount, error) {
	var a models.StorageAccount
	err := row.Scan(
		&a.ID,
		&a.Name,
		&a.Provider,
		&a.Credentials,
		&a.Status,
		&a.Priority,
		&a.StorageLimit,
		&a.BandwidthLimit,
		&a.UploadsLimit,
		&a.StorageUsed,
		&a.BandwidthUsed,
		&a.UploadsUsed,
		&a.TransformationsUsed,
		&a.UsageUpdatedAt,
		&a.LastResetAt,
		&a.LastUsedAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Compile-time check to ensure storageAccountRepo implements StorageAccountRepository.
var _ StorageAccountRepository = (*storageAccountRepo)(nil)
