package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/testforge/backend/internal/models"
	apierrors "github.com/testforge/backend/internal/pkg/errors"
)

// UsageLedger is the only writer of usage counters on storage accounts and
// organization billing. Each Debit/Credit updates both ledgers in one
// transaction, locking the account row, then the billing row, then the
// per-user row. Counters change through single atomic increments, so
// concurrent uploads on the same account or organization serialize on the
// row lock and none is lost.
type UsageLedger interface {
	Debit(ctx context.Context, req DebitRequest) error
	Credit(ctx context.Context, req CreditRequest) (*models.Image, error)
	ResetMonthly(ctx context.Context, now time.Time) (*ResetReport, error)
}

// DebitRequest charges one upload of Size bytes at time At, which is required.
// When Image is set it is inserted in the same transaction.
type DebitRequest struct {
	AccountID uuid.UUID
	OrgID     uuid.UUID
	UserID    uuid.UUID
	Size      int64
	At        time.Time
	Image     *models.Image
}

// CreditRequest refunds one upload at time At, which is required. When ImageID is set, the image is
// soft-deleted in the same transaction and its stored file size, account
// and organization are used, so a repeated delete can never refund twice.
type CreditRequest struct {
	AccountID uuid.UUID
	OrgID     uuid.UUID
	UserID    uuid.UUID
	Size      int64
	At        time.Time
	ImageID   uuid.UUID
	ActorID   uuid.UUID
}

// ResetReport counts the records a monthly reset touched.
type ResetReport struct {
	Accounts      int `json:"accounts"`
	Organizations int `json:"organizations"`
}

type usageLedger struct {
	pool *pgxpool.Pool
}

// NewUsageLedger creates the Postgres-backed usage ledger.
func NewUsageLedger(pool *pgxpool.Pool) UsageLedger {
	return &usageLedger{pool: pool}
}

// Debit increments storage and upload counters on the account, the
// organization and the uploading user, then recomputes both statuses.
func (l *usageLedger) Debit(ctx context.Context, req DebitRequest) error {
	if req.Size < 0 {
		return fmt.Errorf("debit size must not be negative: %d", req.Size)
	}
	if req.At.IsZero() {
		return errors.New("debit time is required")
	}

	return pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		if err := adjustAccount(ctx, tx, req.AccountID, req.Size, 1, &req.At); err != nil {
			return err
		}
		if err := adjustBilling(ctx, tx, req.OrgID, req.Size, 1); err != nil {
			return err
		}

		userQuery := `
			INSERT INTO organization_user_usage (org_id, user_id, uploads, storage, last_upload_at)
			VALUES ($1, $2, 1, $3, $4)
			ON CONFLICT (org_id, user_id)
			DO UPDATE SET uploads = organization_user_usage.uploads + 1,
			              storage = organization_user_usage.storage + EXCLUDED.storage,
			              last_upload_at = EXCLUDED.last_upload_at`
		if _, err := tx.Exec(ctx, userQuery, req.OrgID, req.UserID, req.Size, req.At); err != nil {
			return fmt.Errorf("debit user usage: %w", err)
		}

		if req.Image != nil {
			if err := insertImage(ctx, tx, req.Image); err != nil {
				return fmt.Errorf("create image record: %w", err)
			}
		}
		return nil
	})
}

// Credit is the inverse of Debit. Counters floor at zero and sticky statuses
// (disabled, suspended, cancelled) survive.
func (l *usageLedger) Credit(ctx context.Context, req CreditRequest) (*models.Image, error) {
	if req.At.IsZero() {
		return nil, errors.New("credit time is required")
	}

	var deleted *models.Image
	err := pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		if req.ImageID != uuid.Nil {
			img, err := softDeleteImage(ctx, tx, req.ImageID, req.ActorID, req.At)
			if err != nil {
				return err
			}
			deleted = img
			req.AccountID = img.ProviderAccountID
			req.OrgID = img.OrgID
			req.UserID = img.UploadedBy
			req.Size = img.FileSize
		}

		if err := adjustAccount(ctx, tx, req.AccountID, -req.Size, -1, nil); err != nil {
			return err
		}
		if err := adjustBilling(ctx, tx, req.OrgID, -req.Size, -1); err != nil {
			return err
		}

		userQuery := `
			UPDATE organization_user_usage
			SET uploads = GREATEST(uploads - 1, 0),
			    storage = GREATEST(storage - $3, 0)
			WHERE org_id = $1 AND user_id = $2`
		if _, err := tx.Exec(ctx, userQuery, req.OrgID, req.UserID, req.Size); err != nil {
			return fmt.Errorf("credit user usage: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// adjustAccount applies a signed delta to an account and recomputes its status.
// lastUsed is stamped only on debit.
func adjustAccount(ctx context.Context, tx pgx.Tx, id uuid.UUID, size, uploads int64, lastUsed *time.Time) error {
	query := `
		UPDATE storage_accounts
		SET storage_used = GREATEST(storage_used + $2, 0),
		    uploads_used = GREATEST(uploads_used + $3, 0),
		    last_used_at = COALESCE($4, last_used_at),
		    updated_at = NOW()
		WHERE id = $1
		RETURNING ` + accountColumns

	a, err := scanAccount(tx.QueryRow(ctx, query, id, size, uploads, lastUsed))
	if errors.Is(err, pgx.ErrNoRows) {
		return apierrors.NewNotFoundError("Storage account")
	}
	if err != nil {
		return fmt.Errorf("adjust account usage: %w", err)
	}
	return setAccountStatus(ctx, tx, a)
}

// adjustBilling applies a signed delta to an organization and recomputes its status.
func adjustBilling(ctx context.Context, tx pgx.Tx, orgID uuid.UUID, size, uploads int64) error {
	query := `
		UPDATE organization_billing
		SET storage_used = GREATEST(storage_used + $2, 0),
		    uploads_used = GREATEST(uploads_used + $3, 0),
		    updated_at = NOW()
		WHERE org_id = $1
		RETURNING ` + billingColumns

	b, err := scanBilling(tx.QueryRow(ctx, query, orgID, size, uploads))
	if errors.Is(err, pgx.ErrNoRows) {
		return apierrors.NewNotFoundError("Organization billing")
	}
	if err != nil {
		return fmt.Errorf("adjust billing usage: %w", err)
	}
	return setBillingStatus(ctx, tx, b)
}

func setAccountStatus(ctx context.Context, q querier, a *models.StorageAccount) error {
	next := a.DeriveStatus()
	if next == a.Status {
		return nil
	}
	_, err := q.Exec(ctx, `UPDATE storage_accounts SET status = $2 WHERE id = $1`, a.ID, next)
	return err
}

func setBillingStatus(ctx context.Context, q querier, b *models.OrganizationBilling) error {
	next := b.DeriveStatus()
	if next == b.Status {
		return nil
	}
	_, err := q.Exec(ctx, `UPDATE organization_billing SET status = $2 WHERE org_id = $1`, b.OrgID, next)
	return err
}

// ResetCutoff is the latest last-reset time that is due for a reset at now.
func ResetCutoff(now time.Time) time.Time {
	return now.AddDate(0, -1, 0)
}

// ResetMonthly zeroes monthly counters on every account and organization
// whose cycle started at least one month before now. Records reset more
// recently are untouched.
func (l *usageLedger) ResetMonthly(ctx context.Context, now time.Time) (*ResetReport, error) {
	cutoff := ResetCutoff(now)
	report := &ResetReport{}

	err := pgx.BeginFunc(ctx, l.pool, func(tx pgx.Tx) error {
		accountQuery := `
			UPDATE storage_accounts
			SET bandwidth_used = 0, uploads_used = 0, transformations_used = 0,
			    last_reset_at = $1, updated_at = $1
			WHERE last_reset_at <= $2
			RETURNING ` + accountColumns
		accounts, err := collectAccounts(tx.Query(ctx, accountQuery, now, cutoff))
		if err != nil {
			return fmt.Errorf("reset accounts: %w", err)
		}
		for _, a := range accounts {
			if err := setAccountStatus(ctx, tx, a); err != nil {
				return err
			}
		}
		report.Accounts = len(accounts)

		billingQuery := `
			UPDATE organization_billing
			SET bandwidth_used = 0, uploads_used = 0, cycle_start = $1, updated_at = $1
			WHERE cycle_start <= $2
			RETURNING ` + billingColumns
		rows, err := tx.Query(ctx, billingQuery, now, cutoff)
		if err != nil {
			return fmt.Errorf("reset billing: %w", err)
		}
		var billings []*models.OrganizationBilling
		for rows.Next() {
			b, err := scanBilling(rows)
			if err != nil {
				rows.Close()
				return err
			}
			billings = append(billings, b)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		orgIDs := make([]uuid.UUID, 0, len(billings))
		for _, b := range billings {
			if err := setBillingStatus(ctx, tx, b); err != nil {
				return err
			}
			orgIDs = append(orgIDs, b.OrgID)
		}
		report.Organizations = len(billings)

		if len(orgIDs) > 0 {
			if _, err := tx.Exec(ctx, `UPDATE organization_user_usage SET uploads = 0 WHERE org_id = ANY($1)`, orgIDs); err != nil {
				return fmt.Errorf("reset user usage: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

func collectAccounts(rows pgx.Rows, err error) ([]*models.StorageAccount, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.StorageAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Compile-time check to ensure usageLedger implements UsageLedger.
var _ UsageLedger = (*usageLedger)(nil)
