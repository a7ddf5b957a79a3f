package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/testforge/backend/internal/models"
)

// BillingRepository defines the interface for organization billing operations.
// Usage columns are written only by UsageLedger.
type BillingRepository interface {
	// GetOrCreate returns the billing record, creating a free-plan one whose cycle starts at now if absent.
	GetOrCreate(ctx context.Context, orgID uuid.UUID, now time.Time) (*models.OrganizationBilling, error)
	Get(ctx context.Context, orgID uuid.UUID) (*models.OrganizationBilling, error)
	// ChangePlan mirrors the plan's limits and recomputes status under a row lock.
	ChangePlan(ctx context.Context, orgID uuid.UUID, plan models.Plan, cycle models.BillingCycle) (*models.OrganizationBilling, error)
	// SetStatus records a manual status change with its approval fields.
	SetStatus(ctx context.Context, orgID uuid.UUID, status models.BillingStatus, approvedBy uuid.UUID, note string, at time.Time) (*models.OrganizationBilling, error)
	ListUserUsage(ctx context.Context, orgID uuid.UUID) ([]*models.UserUsage, error)
}

type billingRepo struct {
	pool *pgxpool.Pool
}

// NewBillingRepository creates a new billing repository.
func NewBillingRepository(pool *pgxpool.Pool) BillingRepository {
	return &billingRepo{pool: pool}
}

const billingColumns = `org_id, plan, billing_cycle, status,
		       storage_limit, bandwidth_limit, uploads_limit, max_file_size,
		       storage_used, bandwidth_used, uploads_used, cycle_start,
		       approved_by, approved_at, approval_note, created_at, updated_at`

// GetOrCreate returns the billing record, creating a free-plan one if absent.
func (r *billingRepo) GetOrCreate(ctx context.Context, orgID uuid.UUID, now time.Time) (*models.OrganizationBilling, error) {
	fresh := models.NewOrganizationBilling(orgID, now.UTC())

	query := `
		INSERT INTO organization_billing (org_id, plan, billing_cycle, status,
		                                  storage_limit, bandwidth_limit, uploads_limit, max_file_size, cycle_start)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (org_id) DO NOTHING`

	_, err := r.pool.Exec(ctx, query,
		fresh.OrgID,
		fresh.Plan,
		fresh.BillingCycle,
		fresh.Status,
		fresh.StorageLimit,
		fresh.BandwidthLimit,
		fresh.UploadsLimit,
		fresh.MaxFileSize,
		fresh.CycleStart,
	)
	if err != nil {
		return nil, err
	}

	return scanBilling(r.pool.QueryRow(ctx, `SELECT `+billingColumns+` FROM organization_billing WHERE org_id = $1`, orgID))
}

// Get retrieves a billing record, or nil if the organization has none.
func (r *billingRepo) Get(ctx context.Context, orgID uuid.UUID) (*models.OrganizationBilling, error) {
	b, err := scanBilling(r.pool.QueryRow(ctx, `SELECT `+billingColumns+` FROM organization_billing WHERE org_id = $1`, orgID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// ChangePlan mirrors the plan's limits and recomputes status under a row lock.
func (r *billingRepo) ChangePlan(ctx context.Context, orgID uuid.UUID, plan models.Plan, cycle models.BillingCycle) (*models.OrganizationBilling, error) {
	return r.mutate(ctx, orgID, func(b *models.OrganizationBilling) {
		b.ApplyPlan(plan)
		if cycle != "" {
			b.BillingCycle = cycle
		}
	})
}

// SetStatus records a manual status change with its approval fields.
// Setting active recomputes from usage, so it may land on exceeded.
func (r *billingRepo) SetStatus(ctx context.Context, orgID uuid.UUID, status models.BillingStatus, approvedBy uuid.UUID, note string, at time.Time) (*models.OrganizationBilling, error) {
	return r.mutate(ctx, orgID, func(b *models.OrganizationBilling) {
		b.Status = status
		if status == models.BillingStatusActive {
			b.Status = b.DeriveStatus()
		}
		b.ApprovedBy = &approvedBy
		b.ApprovedAt = &at
		b.ApprovalNote = &note
	})
}

func (r *billingRepo) mutate(ctx context.Context, orgID uuid.UUID, fn func(*models.OrganizationBilling)) (*models.OrganizationBilling, error) {
	var out *models.OrganizationBilling
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		b, err := scanBilling(tx.QueryRow(ctx, `SELECT `+billingColumns+` FROM organization_billing WHERE org_id = $1 FOR UPDATE`, orgID))
		if err != nil {
			return err
		}
		fn(b)

		query := `
			UPDATE organization_billing
			SET plan = $2, billing_cycle = $3, status = $4,
			    storage_limit = $5, bandwidth_limit = $6, uploads_limit = $7, max_file_size = $8,
			    approved_by = $9, approved_at = $10, approval_note = $11, updated_at = NOW()
			WHERE org_id = $1
			RETURNING updated_at`
		if err := tx.QueryRow(ctx, query,
			b.OrgID,
			b.Plan,
			b.BillingCycle,
			b.Status,
			b.StorageLimit,
			b.BandwidthLimit,
			b.UploadsLimit,
			b.MaxFileSize,
			b.ApprovedBy,
			b.ApprovedAt,
			b.ApprovalNote,
		).Scan(&b.UpdatedAt); err != nil {
			return err
		}
		out = b
		return nil
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListUserUsage returns the per-user breakdown, heaviest users first.
func (r *billingRepo) ListUserUsage(ctx context.Context, orgID uuid.UUID) ([]*models.UserUsage, error) {
	query := `
		SELECT org_id, user_id, uploads, storage, last_upload_at
		FROM organization_user_usage
		WHERE org_id = $1
		ORDER BY storage DESC, user_id`

	rows, err := r.pool.Query(ctx, query, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.UserUsage
	for rows.Next() {
		var u models.UserUsage
		if err := rows.Scan(&u.OrgID, &u.UserID, &u.Uploads, &u.Storage, &u.LastUploadAt); err != nil {
			return nil, err
		}
		out = append(out, &u)
	}
	return out, rows.Err()
}

func scanBilling(row pgx.Row) (*models.OrganizationBilling, error) {
	var b models.OrganizationBilling
	err := row.Scan(
		&b.OrgID,
		&b.Plan,
		&b.BillingCycle,
		&b.Status,
		&b.StorageLimit,
		&b.BandwidthLimit,
		&b.UploadsLimit,
		&b.MaxFileSize,
		&b.StorageUsed,
		&b.BandwidthUsed,
		&b.UploadsUsed,
		&b.CycleStart,
		&b.ApprovedBy,
		&b.ApprovedAt,
		&b.ApprovalNote,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// Compile-time check to ensure billingRepo implements BillingRepository.
var _ BillingRepository = (*billingRepo)(nil)
