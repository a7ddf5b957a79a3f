package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/testforge/backend/internal/models"
	apierrors "github.com/testforge/backend/internal/pkg/errors"
	"github.com/testforge/backend/internal/pkg/response"
	"github.com/testforge/backend/internal/repository"
	"github.com/testforge/backend/internal/service"
)

// UsageJobRunner triggers the usage jobs on demand.
type UsageJobRunner interface {
	ResetMonthly(ctx context.Context) (*repository.ResetReport, error)
	Reconcile(ctx context.Context) ([]service.Drift, error)
}

// AdminHandler handles storage account provisioning and usage job requests.
type AdminHandler struct {
	accounts service.StorageAccountService
	jobs     UsageJobRunner
	validate *validator.Validate
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(accounts service.StorageAccountService, jobs UsageJobRunner) *AdminHandler {
	return &AdminHandler{
		accounts: accounts,
		jobs:     jobs,
		validate: newValidator(),
	}
}

// RegisterRoutes mounts the admin routes on r.
func (h *AdminHandler) RegisterRoutes(r chi.Router) {
	r.Get("/storage-accounts", h.ListAccounts)
	r.Post("/storage-accounts", h.CreateAccount)
	r.Post("/storage-accounts/{id}/disable", h.DisableAccount)
	r.Post("/storage-accounts/{id}/enable", h.EnableAccount)
	r.Put("/storage-accounts/{id}/credentials", h.RotateCredentials)

	r.Post("/usage/reset", h.ResetUsage)
	r.Post("/usage/reconcile", h.ReconcileUsage)
}

// ListAccounts handles GET /v1/admin/storage-accounts
func (h *AdminHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.accounts.List(r.Context())
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, accounts)
}

// CreateAccount handles POST /v1/admin/storage-accounts
func (h *AdminHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req service.CreateStorageAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierrors.ErrBadRequest.WithMessage("Invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(w, validationError(err))
		return
	}

	account, err := h.accounts.Create(r.Context(), req)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.Created(w, account)
}

// DisableAccount handles POST /v1/admin/storage-accounts/{id}/disable
func (h *AdminHandler) DisableAccount(w http.ResponseWriter, r *http.Request) {
	h.changeAccount(w, r, h.accounts.Disable)
}

// EnableAccount handles POST /v1/admin/storage-accounts/{id}/enable
func (h *AdminHandler) EnableAccount(w http.ResponseWriter, r *http.Request) {
	h.changeAccount(w, r, h.accounts.Enable)
}

// RotateCredentialsRequest carries the replacement credential bundle.
type RotateCredentialsRequest struct {
	Credentials json.RawMessage `json:"credentials" validate:"required"`
}

// RotateCredentials handles PUT /v1/admin/storage-accounts/{id}/credentials
func (h *AdminHandler) RotateCredentials(w http.ResponseWriter, r *http.Request) {
	var req RotateCredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, apierrors.ErrBadRequest.WithMessage("Invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(w, validationError(err))
		return
	}
	h.changeAccount(w, r, func(ctx context.Context, id uuid.UUID) (*models.StorageAccount, error) {
		return h.accounts.RotateCredentials(ctx, id, req.Credentials)
	})
}

func (h *AdminHandler) changeAccount(w http.ResponseWriter, r *http.Request, fn func(context.Context, uuid.UUID) (*models.StorageAccount, error)) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, apierrors.NewValidationError("id", "invalid UUID format"))
		return
	}
	account, err := fn(r.Context(), id)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, account)
}

// ResetUsage handles POST /v1/admin/usage/reset
func (h *AdminHandler) ResetUsage(w http.ResponseWriter, r *http.Request) {
	report, err := h.jobs.ResetMonthly(r.Context())
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, report)
}

// ReconcileUsage handles POST /v1/admin/usage/reconcile. Drift of the
// accounts that answered is returned even when others failed.
func (h *AdminHandler) ReconcileUsage(w http.ResponseWriter, r *http.Request) {
	drifts, err := h.jobs.Reconcile(r.Context())
	if err != nil && drifts == nil {
		response.Error(w, err)
		return
	}
	result := map[string]any{"accounts": drifts}
	if err != nil {
		result["error"] = err.Error()
	}
	response.OK(w, result)
}
