package models

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Provider identifies a third-party storage backend.
type Provider string

const (
	ProviderCloudinary Provider = "cloudinary"
	ProviderImageKit   Provider = "imagekit"
	ProviderBackblaze  Provider = "backblaze"
)

// Valid returns true if the provider is supported.
func (p Provider) Valid() bool {
	switch p {
	case ProviderCloudinary, ProviderImageKit, ProviderBackblaze:
		return true
	default:
		return false
	}
}

// String returns the string representation
func (p Provider) String() string {
	return string(p)
}

// AccountStatus is the capacity state of a storage account.
type AccountStatus string

const (
	AccountStatusActive    AccountStatus = "active"
	AccountStatusNearLimit AccountStatus = "near_limit"
	AccountStatusExhausted AccountStatus = "exhausted"
	AccountStatusDisabled  AccountStatus = "disabled"
)

// Status thresholds expressed in basis points of remaining capacity.
const (
	exhaustedBasisPoints = 500  // 5% left
	nearLimitBasisPoints = 2000 // 20% left
)

// StorageAccount is one credential set on one backend, with its capacity and usage mirror.
// A zero limit means the dimension is unlimited.
type StorageAccount struct {
	ID          uuid.UUID     `json:"id" db:"id"`
	Name        string        `json:"name" db:"name"`
	Provider    Provider      `json:"provider" db:"provider"`
	Credentials []byte        `json:"-" db:"credentials"` // sealed, see pkg/secretbox
	Status      AccountStatus `json:"status" db:"status"`
	Priority    int           `json:"priority" db:"priority"`

	StorageLimit   int64 `json:"storage_limit" db:"storage_limit"`
	BandwidthLimit int64 `json:"bandwidth_limit" db:"bandwidth_limit"`
	UploadsLimit   int64 `json:"uploads_limit" db:"uploads_limit"`

	StorageUsed         int64      `json:"storage_used" db:"storage_used"`
	BandwidthUsed       int64      `json:"bandwidth_used" db:"bandwidth_used"`
	UploadsUsed         int64      `json:"uploads_used" db:"uploads_used"`
	TransformationsUsed int64      `json:"transformations_used" db:"transformations_used"`
	UsageUpdatedAt      *time.Time `json:"usage_updated_at,omitempty" db:"usage_updated_at"`
	LastResetAt         time.Time  `json:"last_reset_at" db:"last_reset_at"`

	LastUsedAt *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
}

// RemainingStorage returns free storage bytes, or math.MaxInt64 when unlimited.
func (a *StorageAccount) RemainingStorage() int64 {
	return remaining(a.StorageUsed, a.StorageLimit)
}

// RemainingUploads returns uploads left this month, or math.MaxInt64 when unlimited.
func (a *StorageAccount) RemainingUploads() int64 {
	return remaining(a.UploadsUsed, a.UploadsLimit)
}

// CanAccommodate reports whether a file of size bytes fits on the account.
func (a *StorageAccount) CanAccommodate(size int64) bool {
	return a.RemainingStorage() >= size && a.RemainingUploads() > 0
}

// Selectable reports whether the selector may consider the account at all.
func (a *StorageAccount) Selectable() bool {
	return a.Status == AccountStatusActive || a.Status == AccountStatusNearLimit
}

// StorageAvailability is the unused fraction of storage.
func (a *StorageAccount) StorageAvailability() float64 {
	return availability(a.StorageUsed, a.StorageLimit)
}

// BandwidthAvailability is the unused fraction of monthly bandwidth.
func (a *StorageAccount) BandwidthAvailability() float64 {
	return availability(a.BandwidthUsed, a.BandwidthLimit)
}

// UploadAvailability is the unused fraction of monthly uploads.
func (a *StorageAccount) UploadAvailability() float64 {
	return availability(a.UploadsUsed, a.UploadsLimit)
}

// MinAvailability is the smallest availability across all dimensions.
func (a *StorageAccount) MinAvailability() float64 {
	return math.Min(a.StorageAvailability(), math.Min(a.BandwidthAvailability(), a.UploadAvailability()))
}

// DeriveStatus recomputes status from usage. Disabled is sticky.
func (a *StorageAccount) DeriveStatus() AccountStatus {
	if a.Status == AccountStatusDisabled {
		return AccountStatusDisabled
	}
	dims := [][2]int64{
		{a.StorageUsed, a.StorageLimit},
		{a.BandwidthUsed, a.BandwidthLimit},
		{a.UploadsUsed, a.UploadsLimit},
	}
	status := AccountStatusActive
	for _, d := range dims {
		switch {
		case withinBasisPoints(d[0], d[1], exhaustedBasisPoints):
			return AccountStatusExhausted
		case withinBasisPoints(d[0], d[1], nearLimitBasisPoints):
			status = AccountStatusNearLimit
		}
	}
	return status
}

// withinBasisPoints reports (limit-used)/limit <= bp/10000 using integer math.
func withinBasisPoints(used, limit, bp int64) bool {
	if limit <= 0 {
		return false
	}
	left := limit - used
	if left <= 0 {
		return true
	}
	// left*10000 <= limit*bp, computed in float to avoid overflow on TB-sized limits
	return float64(left)*10000 <= float64(limit)*float64(bp)
}

func remaining(used, limit int64) int64 {
	if limit <= 0 {
		return math.MaxInt64
	}
	return limit - used
}

func availability(used, limit int64) float64 {
	if limit <= 0 {
		return 1
	}
	v := float64(limit-used) / float64(limit)
	if v < 0 {
		return 0
	}
	return v
}
