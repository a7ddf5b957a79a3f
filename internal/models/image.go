package models

import (
	"time"

	"github.com/google/uuid"
)

// EntityType is the kind of record an image is attached to.
type EntityType string

const (
	EntityTypeCase         EntityType = "case"
	EntityTypeFeedback     EntityType = "feedback"
	EntityTypeFeature      EntityType = "feature"
	EntityTypeOrganization EntityType = "organization"
	EntityTypeUser         EntityType = "user"
	EntityTypeSession      EntityType = "session"
)

// Valid returns true if the entity type is known.
func (e EntityType) Valid() bool {
	switch e {
	case EntityTypeCase, EntityTypeFeedback, EntityTypeFeature,
		EntityTypeOrganization, EntityTypeUser, EntityTypeSession:
		return true
	default:
		return false
	}
}

// OptimizationInfo records what the optimizer did to an upload. Stored as JSONB.
type OptimizationInfo struct {
	Format           string  `json:"format"`
	HasAlpha         bool    `json:"has_alpha"`
	Progressive      bool    `json:"progressive"`
	CompressionRatio float64 `json:"compression_ratio"`
}

// Image is the metadata record of an uploaded asset.
// Rows are never removed; DeletedAt marks a soft delete.
type Image struct {
	ID                uuid.UUID        `json:"id" db:"id"`
	OrgID             uuid.UUID        `json:"org_id" db:"org_id"`
	UploadedBy        uuid.UUID        `json:"uploaded_by" db:"uploaded_by"`
	EntityType        EntityType       `json:"entity_type" db:"entity_type"`
	EntityID          uuid.UUID        `json:"entity_id" db:"entity_id"`
	FileName          string           `json:"file_name" db:"file_name"`
	OriginalName      string           `json:"original_name" db:"original_name"`
	FileSize          int64            `json:"file_size" db:"file_size"`
	OriginalSize      int64            `json:"original_size" db:"original_size"`
	MimeType          string           `json:"mime_type" db:"mime_type"`
	Width             int              `json:"width" db:"width"`
	Height            int              `json:"height" db:"height"`
	Provider          Provider         `json:"provider" db:"provider"`
	ProviderAccountID uuid.UUID        `json:"provider_account_id" db:"provider_account_id"`
	ProviderAssetID   string           `json:"-" db:"provider_asset_id"`
	URL               string           `json:"url" db:"url"`
	ThumbnailURL      *string          `json:"thumbnail_url,omitempty" db:"thumbnail_url"`
	Optimization      OptimizationInfo `json:"optimization" db:"optimization"`
	DeletedAt         *time.Time       `json:"deleted_at,omitempty" db:"deleted_at"`
	DeletedBy         *uuid.UUID       `json:"deleted_by,omitempty" db:"deleted_by"`
	CreatedAt         time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at" db:"updated_at"`
}

// IsDeleted returns true if the image was soft-deleted.
func (i *Image) IsDeleted() bool {
	return i.DeletedAt != nil
}

// ImageSummary is the client-facing view of an image.
type ImageSummary struct {
	ID               uuid.UUID  `json:"id"`
	EntityType       EntityType `json:"entity_type"`
	EntityID         uuid.UUID  `json:"entity_id"`
	FileName         string     `json:"file_name"`
	OriginalName     string     `json:"original_name"`
	FileSize         int64      `json:"file_size"`
	OriginalSize     int64      `json:"original_size"`
	MimeType         string     `json:"mime_type"`
	Width            int        `json:"width"`
	Height           int        `json:"height"`
	Provider         Provider   `json:"provider"`
	URL              string     `json:"url"`
	ThumbnailURL     *string    `json:"thumbnail_url,omitempty"`
	CompressionRatio float64    `json:"compression_ratio"`
	UploadedBy       uuid.UUID  `json:"uploaded_by"`
	CreatedAt        time.Time  `json:"created_at"`
}

// Summary converts the record to its client-facing view.
func (i *Image) Summary() *ImageSummary {
	return &ImageSummary{
		ID:               i.ID,
		EntityType:       i.EntityType,
		EntityID:         i.EntityID,
		FileName:         i.FileName,
		OriginalName:     i.OriginalName,
		FileSize:         i.FileSize,
		OriginalSize:     i.OriginalSize,
		MimeType:         i.MimeType,
		Width:            i.Width,
		Height:           i.Height,
		Provider:         i.Provider,
		URL:              i.URL,
		ThumbnailURL:     i.ThumbnailURL,
		CompressionRatio: i.Optimization.CompressionRatio,
		UploadedBy:       i.UploadedBy,
		CreatedAt:        i.CreatedAt,
	}
}
