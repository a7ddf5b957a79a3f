package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/testforge/backend/internal/middleware"
	"github.com/testforge/backend/internal/models"
	apierrors "github.com/testforge/backend/internal/pkg/errors"
	"github.com/testforge/backend/internal/pkg/response"
	"github.com/testforge/backend/internal/service"
)

// BillingHandler handles plan and usage requests of the caller's organization.
type BillingHandler struct {
	billing  service.BillingService
	validate *validator.Validate
}

// NewBillingHandler creates a new billing handler.
func NewBillingHandler(billing service.BillingService) *BillingHandler {
	return &BillingHandler{
		billing:  billing,
		validate: newValidator(),
	}
}

// RegisterRoutes mounts the billing routes on r.
func (h *BillingHandler) RegisterRoutes(r chi.Router) {
	r.Get("/usage", h.Usage)
	r.Get("/billing", h.Get)
	r.Get("/billing/users", h.ListUserUsage)
	r.With(middleware.RequireRole(middleware.RoleAdmin)).Put("/billing/plan", h.ChangePlan)
}

// RegisterAdminRoutes mounts the manual status routes. They act on any organization.
func (h *BillingHandler) RegisterAdminRoutes(r chi.Router) {
	r.Post("/billing/{orgID}/suspend", h.setStatus(h.billing.Suspend))
	r.Post("/billing/{orgID}/cancel", h.setStatus(h.billing.Cancel))
	r.Post("/billing/{orgID}/reactivate", h.setStatus(h.billing.Reactivate))
}

// Usage handles GET /v1/usage
func (h *BillingHandler) Usage(w http.ResponseWriter, r *http.Request) {
	orgID := middleware.GetOrgIDFromContext(r.Context())
	if orgID == uuid.Nil {
		response.Error(w, apierrors.ErrUnauthorized)
		return
	}

	summary, err := h.billing.GetUsageSummary(r.Context(), orgID)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, summary)
}

// Get handles GET /v1/billing
func (h *BillingHandler) Get(w http.ResponseWriter, r *http.Request) {
	orgID := middleware.GetOrgIDFromContext(r.Context())
	if orgID == uuid.Nil {
		response.Error(w, apierrors.ErrUnauthorized)
		return
	}

	b, err := h.billing.Get(r.Context(), orgID)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, b)
}

// ListUserUsage handles GET /v1/billing/users
func (h *BillingHandler) ListUserUsage(w http.ResponseWriter, r *http.Request) {
	orgID := middleware.GetOrgIDFromContext(r.Context())
	if orgID == uuid.Nil {
		response.Error(w, apierrors.ErrUnauthorized)
		return
	}

	users, err := h.billing.ListUserUsage(r.Context(), orgID)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, users)
}

// ChangePlan handles PUT /v1/billing/plan
func (h *BillingHandler) ChangePlan(w http.ResponseWriter, r *http.Request) {
	orgID := middleware.GetOrgIDFromContext(r.Context())
	if orgID == uuid.Nil {
		response.Error(w, apierrors.ErrUnauthorized)
		return
	}

	var req service.ChangePlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierrors.ErrBadRequest.WithMessage("Invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(w, validationError(err))
		return
	}

	b, err := h.billing.ChangePlan(r.Context(), orgID, req)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, b)
}

// StatusChangeRequest is the body of a manual billing status change.
type StatusChangeRequest struct {
	Note string `json:"note" validate:"max=500"`
}

// setStatus adapts one of the manual status operations to a handler for
// POST /v1/admin/billing/{orgID}/...
func (h *BillingHandler) setStatus(fn func(ctx context.Context, orgID, actorID uuid.UUID, note string) (*models.OrganizationBilling, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID := middleware.GetUserIDFromContext(r.Context())
		orgID, err := uuid.Parse(chi.URLParam(r, "orgID"))
		if err != nil {
			response.Error(w, apierrors.NewValidationError("orgID", "invalid UUID format"))
			return
		}

		var req StatusChangeRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				response.Error(w, apierrors.ErrBadRequest.WithMessage("Invalid request body"))
				return
			}
		}
		if err := h.validate.Struct(req); err != nil {
			response.Error(w, validationError(err))
			return
		}

		b, err := fn(r.Context(), orgID, actorID, req.Note)
		if err != nil {
			response.Error(w, err)
			return
		}
		response.OK(w, b)
	}
}
