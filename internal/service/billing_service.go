package service

import (
	"context"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/testforge/backend/internal/models"
	apierrors "github.com/testforge/backend/internal/pkg/errors"
	"github.com/testforge/backend/internal/repository"
)

// BillingService defines the interface for billing operations.
type BillingService interface {
	Get(ctx context.Context, orgID uuid.UUID) (*models.OrganizationBilling, error)
	GetUsageSummary(ctx context.Context, orgID uuid.UUID) (*models.UsageSummary, error)
	ChangePlan(ctx context.Context, orgID uuid.UUID, req ChangePlanRequest) (*models.OrganizationBilling, error)

	// Manual status changes, recorded with the approving user and a note.
	Suspend(ctx context.Context, orgID, actorID uuid.UUID, note string) (*models.OrganizationBilling, error)
	Cancel(ctx context.Context, orgID, actorID uuid.UUID, note string) (*models.OrganizationBilling, error)
	Reactivate(ctx context.Context, orgID, actorID uuid.UUID, note string) (*models.OrganizationBilling, error)

	ListUserUsage(ctx context.Context, orgID uuid.UUID) ([]*models.UserUsage, error)
}

// ChangePlanRequest moves an organization to another plan.
type ChangePlanRequest struct {
	Plan         models.Plan         `json:"plan" validate:"required,oneof=free starter professional business enterprise"`
	BillingCycle models.BillingCycle `json:"billing_cycle" validate:"omitempty,oneof=monthly yearly"`
}

type billingService struct {
	billing repository.BillingRepository
	images  repository.ImageRepository
	clock   clock.Clock
}

// NewBillingService creates a new billing service.
func NewBillingService(billing repository.BillingRepository, images repository.ImageRepository, clk clock.Clock) BillingService {
	if clk == nil {
		clk = clock.New()
	}
	return &billingService{billing: billing, images: images, clock: clk}
}

// Get returns the organization's billing, creating it on the free plan on first access.
func (s *billingService) Get(ctx context.Context, orgID uuid.UUID) (*models.OrganizationBilling, error) {
	b, err := s.billing.GetOrCreate(ctx, orgID, s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to load billing: %w", err)
	}
	return b, nil
}

// GetUsageSummary combines plan limits with the organization's live images.
func (s *billingService) GetUsageSummary(ctx context.Context, orgID uuid.UUID) (*models.UsageSummary, error) {
	b, err := s.Get(ctx, orgID)
	if err != nil {
		return nil, err
	}
	images, err := s.images.AggregateOrgUsage(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate usage: %w", err)
	}
	return &models.UsageSummary{
		OrgID:        orgID,
		Plan:         b.Plan,
		Status:       b.Status,
		StorageUsed:  b.StorageUsed,
		StorageLimit: b.StorageLimit,
		UploadsUsed:  b.UploadsUsed,
		UploadsLimit: b.UploadsLimit,
		MaxFileSize:  b.MaxFileSize,
		CycleStart:   b.CycleStart,
		Images:       images,
	}, nil
}

// ChangePlan re-mirrors the plan's limits. Suspended and cancelled
// organizations keep their status.
func (s *billingService) ChangePlan(ctx context.Context, orgID uuid.UUID, req ChangePlanRequest) (*models.OrganizationBilling, error) {
	if !req.Plan.Valid() {
		return nil, apierrors.NewValidationError("plan", "unknown plan")
	}
	if _, err := s.Get(ctx, orgID); err != nil {
		return nil, err
	}
	b, err := s.billing.ChangePlan(ctx, orgID, req.Plan, req.BillingCycle)
	if err != nil {
		return nil, fmt.Errorf("failed to change plan: %w", err)
	}
	if b == nil {
		return nil, apierrors.NewNotFoundError("Billing")
	}
	return b, nil
}

func (s *billingService) Suspend(ctx context.Context, orgID, actorID uuid.UUID, note string) (*models.OrganizationBilling, error) {
	return s.setStatus(ctx, orgID, models.BillingStatusSuspended, actorID, note)
}

func (s *billingService) Cancel(ctx context.Context, orgID, actorID uuid.UUID, note string) (*models.OrganizationBilling, error) {
	return s.setStatus(ctx, orgID, models.BillingStatusCancelled, actorID, note)
}

// Reactivate lifts a manual status. The result is exceeded if usage is
// still over the plan.
func (s *billingService) Reactivate(ctx context.Context, orgID, actorID uuid.UUID, note string) (*models.OrganizationBilling, error) {
	return s.setStatus(ctx, orgID, models.BillingStatusActive, actorID, note)
}

func (s *billingService) setStatus(ctx context.Context, orgID uuid.UUID, status models.BillingStatus, actorID uuid.UUID, note string) (*models.OrganizationBilling, error) {
	if actorID == uuid.Nil {
		return nil, apierrors.NewValidationError("approved_by", "approving user is required")
	}
	if _, err := s.Get(ctx, orgID); err != nil {
		return nil, err
	}
	b, err := s.billing.SetStatus(ctx, orgID, status, actorID, note, s.clock.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to set billing status: %w", err)
	}
	if b == nil {
		return nil, apierrors.NewNotFoundError("Billing")
	}
	return b, nil
}

// ListUserUsage returns the per-user breakdown of an organization.
func (s *billingService) ListUserUsage(ctx context.Context, orgID uuid.UUID) ([]*models.UserUsage, error) {
	users, err := s.billing.ListUserUsage(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user usage: %w", err)
	}
	return users, nil
}

var _ BillingService = (*billingService)(nil)
