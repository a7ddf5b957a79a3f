// Package models defines the data models for the media storage service.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Plan represents a billing plan tier.
type Plan string

const (
	PlanFree         Plan = "free"
	PlanStarter      Plan = "starter"
	PlanProfessional Plan = "professional"
	PlanBusiness     Plan = "business"
	PlanEnterprise   Plan = "enterprise"
)

// Valid returns true if the plan is one of the known tiers.
func (p Plan) Valid() bool {
	switch p {
	case PlanFree, PlanStarter, PlanProfessional, PlanBusiness, PlanEnterprise:
		return true
	default:
		return false
	}
}

// BillingCycle is the invoicing interval of a plan.
type BillingCycle string

const (
	BillingCycleMonthly BillingCycle = "monthly"
	BillingCycleYearly  BillingCycle = "yearly"
)

// BillingStatus represents the state of an organization's billing record.
type BillingStatus string

const (
	BillingStatusActive    BillingStatus = "active"
	BillingStatusExceeded  BillingStatus = "exceeded"
	BillingStatusSuspended BillingStatus = "suspended"
	BillingStatusCancelled BillingStatus = "cancelled"
)

// Sticky reports whether the status was set manually and must survive
// usage recomputation.
func (s BillingStatus) Sticky() bool {
	return s == BillingStatusSuspended || s == BillingStatusCancelled
}

// OrganizationBilling holds plan limits and running usage for a tenant.
type OrganizationBilling struct {
	OrgID        uuid.UUID     `json:"org_id" db:"org_id"`
	Plan         Plan          `json:"plan" db:"plan"`
	BillingCycle BillingCycle  `json:"billing_cycle" db:"billing_cycle"`
	Status       BillingStatus `json:"status" db:"status"`

	StorageLimit   int64 `json:"storage_limit" db:"storage_limit"`
	BandwidthLimit int64 `json:"bandwidth_limit" db:"bandwidth_limit"`
	UploadsLimit   int64 `json:"uploads_limit" db:"uploads_limit"`
	MaxFileSize    int64 `json:"max_file_size" db:"max_file_size"`

	StorageUsed   int64     `json:"storage_used" db:"storage_used"`
	BandwidthUsed int64     `json:"bandwidth_used" db:"bandwidth_used"`
	UploadsUsed   int64     `json:"uploads_used" db:"uploads_used"`
	CycleStart    time.Time `json:"cycle_start" db:"cycle_start"`

	ApprovedBy   *uuid.UUID `json:"approved_by,omitempty" db:"approved_by"`
	ApprovedAt   *time.Time `json:"approved_at,omitempty" db:"approved_at"`
	ApprovalNote *string    `json:"approval_note,omitempty" db:"approval_note"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// NewOrganizationBilling returns a fresh free-plan billing record.
func NewOrganizationBilling(orgID uuid.UUID, now time.Time) *OrganizationBilling {
	b := &OrganizationBilling{
		OrgID:        orgID,
		BillingCycle: BillingCycleMonthly,
		Status:       BillingStatusActive,
		CycleStart:   now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	b.ApplyPlan(PlanFree)
	return b
}

// ApplyPlan mirrors the static limits of plan onto the record and recomputes status.
func (b *OrganizationBilling) ApplyPlan(plan Plan) {
	limits := GetPlanLimits(plan)
	b.Plan = plan
	b.StorageLimit = limits.Storage
	b.BandwidthLimit = limits.Bandwidth
	b.UploadsLimit = limits.UploadsPerMonth
	b.MaxFileSize = limits.MaxFileSize
	b.Status = b.DeriveStatus()
}

// RemainingStorage returns storage left under the plan. It may be negative if usage drifted.
func (b *OrganizationBilling) RemainingStorage() int64 {
	return b.StorageLimit - b.StorageUsed
}

// RemainingUploads returns uploads left in the current cycle.
func (b *OrganizationBilling) RemainingUploads() int64 {
	return b.UploadsLimit - b.UploadsUsed
}

// DeriveStatus computes the status implied by current usage.
// Suspended and cancelled are manual states and are returned unchanged.
func (b *OrganizationBilling) DeriveStatus() BillingStatus {
	if b.Status.Sticky() {
		return b.Status
	}
	if atOrOverLimit(b.StorageUsed, b.StorageLimit) || atOrOverLimit(b.UploadsUsed, b.UploadsLimit) {
		return BillingStatusExceeded
	}
	return BillingStatusActive
}

// atOrOverLimit reports used >= 100% of limit. A zero limit has no meaningful
// percentage and never counts as exceeded; the quota guard rejects those uploads instead.
func atOrOverLimit(used, limit int64) bool {
	if limit <= 0 {
		return false
	}
	return used >= limit
}

// UserUsage is the per-user usage breakdown within an organization.
type UserUsage struct {
	OrgID        uuid.UUID  `json:"org_id" db:"org_id"`
	UserID       uuid.UUID  `json:"user_id" db:"user_id"`
	Uploads      int64      `json:"uploads" db:"uploads"`
	Storage      int64      `json:"storage" db:"storage"`
	LastUploadAt *time.Time `json:"last_upload_at,omitempty" db:"last_upload_at"`
}
