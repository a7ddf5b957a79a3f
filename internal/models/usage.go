package models

import (
	"time"

	"github.com/google/uuid"
)

// ProviderUsage is the non-deleted footprint of an organization on one backend.
type ProviderUsage struct {
	Provider    Provider `json:"provider"`
	TotalSize   int64    `json:"total_size"`
	TotalImages int64    `json:"total_images"`
}

// OrgUsage summarizes the live images of an organization.
type OrgUsage struct {
	OrgID       uuid.UUID       `json:"org_id"`
	TotalSize   int64           `json:"total_size"`
	TotalImages int64           `json:"total_images"`
	ByProvider  []ProviderUsage `json:"by_provider"`
}

// UserUploadStats summarizes a user's uploads over a trailing window.
type UserUploadStats struct {
	UserID              uuid.UUID  `json:"user_id"`
	OrgID               *uuid.UUID `json:"org_id,omitempty"`
	WindowDays          int        `json:"window_days"`
	Since               time.Time  `json:"since"`
	TotalSize           int64      `json:"total_size"`
	TotalImages         int64      `json:"total_images"`
	AvgCompressionRatio float64    `json:"avg_compression_ratio"`
}

// UsageSummary combines billing limits with live usage for an organization.
type UsageSummary struct {
	OrgID        uuid.UUID     `json:"org_id"`
	Plan         Plan          `json:"plan"`
	Status       BillingStatus `json:"status"`
	StorageUsed  int64         `json:"storage_used"`
	StorageLimit int64         `json:"storage_limit"`
	UploadsUsed  int64         `json:"uploads_used"`
	UploadsLimit int64         `json:"uploads_limit"`
	MaxFileSize  int64         `json:"max_file_size"`
	CycleStart   time.Time     `json:"cycle_start"`
	Images       *OrgUsage     `json:"images"`
}
