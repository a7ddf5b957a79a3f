package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/testforge/backend/internal/models"
	apierrors "github.com/testforge/backend/internal/pkg/errors"
)

// ImageRepository defines the interface for image metadata operations.
// Aggregates never include soft-deleted rows.
type ImageRepository interface {
	Create(ctx context.Context, img *models.Image) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Image, error)
	SoftDelete(ctx context.Context, id, actorID uuid.UUID, at time.Time) (*models.Image, error)
	ListByEntity(ctx context.Context, entityType models.EntityType, entityID uuid.UUID, includeDeleted bool) ([]*models.Image, error)
	AggregateOrgUsage(ctx context.Context, orgID uuid.UUID) (*models.OrgUsage, error)
	AggregateUserUsage(ctx context.Context, userID uuid.UUID, orgID *uuid.UUID, since time.Time) (*models.UserUploadStats, error)
}

type imageRepo struct {
	pool *pgxpool.Pool
}

// NewImageRepository creates a new image repository.
func NewImageRepository(pool *pgxpool.Pool) ImageRepository {
	return &imageRepo{pool: pool}
}

const imageColumns = `id, org_id, uploaded_by, entity_type, entity_id, file_name, original_name,
		       file_size, original_size, mime_type, width, height, provider, provider_account_id,
		       provider_asset_id, url, thumbnail_url, optimization, deleted_at, deleted_by,
		       created_at, updated_at`

// Create inserts a new image record.
func (r *imageRepo) Create(ctx context.Context, img *models.Image) error {
	return insertImage(ctx, r.pool, img)
}

// GetByID retrieves an image by ID, including soft-deleted ones.
func (r *imageRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Image, error) {
	query := `SELECT ` + imageColumns + ` FROM images WHERE id = $1`

	img, err := scanImage(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return img, nil
}

// SoftDelete marks an image deleted and returns the updated record.
func (r *imageRepo) SoftDelete(ctx context.Context, id, actorID uuid.UUID, at time.Time) (*models.Image, error) {
	return softDeleteImage(ctx, r.pool, id, actorID, at)
}

// ListByEntity lists images attached to an entity, newest first.
func (r *imageRepo) ListByEntity(ctx context.Context, entityType models.EntityType, entityID uuid.UUID, includeDeleted bool) ([]*models.Image, error) {
	query := `SELECT ` + imageColumns + `
		FROM images
		WHERE entity_type = $1 AND entity_id = $2 AND ($3 OR deleted_at IS NULL)
		ORDER BY created_at DESC, id DESC`

	rows, err := r.pool.Query(ctx, query, entityType, entityID, includeDeleted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var images []*models.Image
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

// AggregateOrgUsage sums live image sizes for an organization, grouped by provider.
func (r *imageRepo) AggregateOrgUsage(ctx context.Context, orgID uuid.UUID) (*models.OrgUsage, error) {
	query := `
		SELECT provider, COALESCE(SUM(file_size), 0), COUNT(*)
		FROM images
		WHERE org_id = $1 AND deleted_at IS NULL
		GROUP BY provider
		ORDER BY provider`

	rows, err := r.pool.Query(ctx, query, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	usage := &models.OrgUsage{OrgID: orgID, ByProvider: []models.ProviderUsage{}}
	for rows.Next() {
		var p models.ProviderUsage
		if err := rows.Scan(&p.Provider, &p.TotalSize, &p.TotalImages); err != nil {
			return nil, err
		}
		usage.TotalSize += p.TotalSize
		usage.TotalImages += p.TotalImages
		usage.ByProvider = append(usage.ByProvider, p)
	}
	return usage, rows.Err()
}

// AggregateUserUsage sums a user's live uploads created at or after since,
// optionally restricted to one organization.
func (r *imageRepo) AggregateUserUsage(ctx context.Context, userID uuid.UUID, orgID *uuid.UUID, since time.Time) (*models.UserUploadStats, error) {
	query := `
		SELECT COALESCE(SUM(file_size), 0),
		       COUNT(*),
		       COALESCE(AVG((optimization->>'compression_ratio')::float8), 0)
		FROM images
		WHERE uploaded_by = $1
		  AND ($2::uuid IS NULL OR org_id = $2)
		  AND created_at >= $3
		  AND deleted_at IS NULL`

	stats := &models.UserUploadStats{UserID: userID, OrgID: orgID, Since: since}
	err := r.pool.QueryRow(ctx, query, userID, orgID, since).Scan(
		&stats.TotalSize,
		&stats.TotalImages,
		&stats.AvgCompressionRatio,
	)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// insertImage writes a new image row through q.
func insertImage(ctx context.Context, q querier, img *models.Image) error {
	query := `
		INSERT INTO images (id, org_id, uploaded_by, entity_type, entity_id, file_name, original_name,
		                    file_size, original_size, mime_type, width, height, provider, provider_account_id,
		                    provider_asset_id, url, thumbnail_url, optimization)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING created_at, updated_at`

	if img.ID == uuid.Nil {
		img.ID = uuid.New()
	}

	return q.QueryRow(ctx, query,
		img.ID,
		img.OrgID,
		img.UploadedBy,
		img.EntityType,
		img.EntityID,
		img.FileName,
		img.OriginalName,
		img.FileSize,
		img.OriginalSize,
		img.MimeType,
		img.Width,
		img.Height,
		img.Provider,
		img.ProviderAccountID,
		img.ProviderAssetID,
		img.URL,
		img.ThumbnailURL,
		img.Optimization,
	).Scan(&img.CreatedAt, &img.UpdatedAt)
}

// softDeleteImage sets deleted_at/deleted_by on a live image. It returns
// ErrAlreadyDeleted or a not-found error when no live row matched.
func softDeleteImage(ctx context.Context, q querier, id, actorID uuid.UUID, at time.Time) (*models.Image, error) {
	query := `
		UPDATE images SET deleted_at = $2, deleted_by = $3, updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING ` + imageColumns

	img, err := scanImage(q.QueryRow(ctx, query, id, at, actorID))
	if err == nil {
		return img, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM images WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, err
	}
	if exists {
		return nil, apierrors.ErrAlreadyDeleted
	}
	return nil, apierrors.NewNotFoundError("Image")
}

func scanImage(row pgx.Row) (*models.Image, error) {
	var img models.Image
	err := row.Scan(
		&img.ID,
		&img.OrgID,
		&img.UploadedBy,
		&img.EntityType,
		&img.EntityID,
		&img.FileName,
		&img.OriginalName,
		&img.FileSize,
		&img.OriginalSize,
		&img.MimeType,
		&img.Width,
		&img.Height,
		&img.Provider,
		&img.ProviderAccountID,
		&img.ProviderAssetID,
		&img.URL,
		&img.ThumbnailURL,
		&img.Optimization,
		&img.DeletedAt,
		&img.DeletedBy,
		&img.CreatedAt,
		&img.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &img, nil
}

// Compile-time check to ensure imageRepo implements ImageRepository.
var _ ImageRepository = (*imageRepo)(nil)
