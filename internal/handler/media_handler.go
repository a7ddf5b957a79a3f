// Package handler provides HTTP handlers for the media API.
package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/testforge/backend/internal/middleware"
	"github.com/testforge/backend/internal/models"
	apierrors "github.com/testforge/backend/internal/pkg/errors"
	"github.com/testforge/backend/internal/pkg/response"
	"github.com/testforge/backend/internal/service"
)

// multipartMemory is the part of a multipart upload kept in memory; the rest
// spills to a temp file that is removed when the request ends.
const multipartMemory = 8 << 20

// MediaHandler handles image upload and listing requests.
type MediaHandler struct {
	media          service.MediaService
	maxUploadBytes int64
}

// NewMediaHandler creates a new media handler.
func NewMediaHandler(media service.MediaService, maxUploadBytes int64) *MediaHandler {
	return &MediaHandler{media: media, maxUploadBytes: maxUploadBytes}
}

// RegisterRoutes mounts the media routes on r. uploadMiddlewares run only
// in front of the upload endpoint.
func (h *MediaHandler) RegisterRoutes(r chi.Router, uploadMiddlewares ...func(http.Handler) http.Handler) {
	r.With(uploadMiddlewares...).Post("/images", h.Upload)
	r.Delete("/images/{id}", h.Delete)
	r.Get("/entities/{type}/{id}/images", h.ListByEntity)
	r.Get("/usage/images", h.OrgImages)
	r.Get("/usage/users/{userID}", h.UserStats)
}

// Upload handles POST /v1/images
func (h *MediaHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserIDFromContext(ctx)
	orgID := middleware.GetOrgIDFromContext(ctx)
	if userID == uuid.Nil || orgID == uuid.Nil {
		response.Error(w, apierrors.ErrUnauthorized)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(w, apierrors.ErrPayloadTooLarge)
			return
		}
		response.Error(w, apierrors.ErrBadRequest.WithMessage("Invalid multipart form"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		response.Error(w, apierrors.NewValidationError("file", "file is required"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		response.Error(w, apierrors.ErrBadRequest.WithMessage("Failed to read file"))
		return
	}

	entityType := models.EntityType(r.FormValue("entity_type"))
	if !entityType.Valid() {
		response.Error(w, apierrors.NewValidationError("entity_type", "unknown entity type"))
		return
	}
	entityID, err := uuid.Parse(r.FormValue("entity_id"))
	if err != nil {
		response.Error(w, apierrors.NewValidationError("entity_id", "invalid UUID format"))
		return
	}

	outcome, err := h.media.UploadImage(ctx, service.UploadImageRequest{
		Data:       data,
		FileName:   header.Filename,
		UserID:     userID,
		OrgID:      orgID,
		EntityType: entityType,
		EntityID:   entityID,
	})
	if err != nil {
		response.Error(w, err)
		return
	}

	switch outcome.Kind {
	case service.OutcomeUploaded:
		response.Created(w, outcome.Image)
	case service.OutcomeQuotaDenied:
		d := outcome.Decision
		response.Error(w, apierrors.ErrQuotaExceeded.WithMessage(d.Reason).WithDetails(d))
	case service.OutcomeCapacityExhausted:
		response.Error(w, &apierrors.CapacityExhaustedError{Required: outcome.Required})
	default:
		response.Error(w, apierrors.ErrInternal)
	}
}

// Delete handles DELETE /v1/images/{id}
func (h *MediaHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserIDFromContext(r.Context())
	if userID == uuid.Nil {
		response.Error(w, apierrors.ErrUnauthorized)
		return
	}

	imageID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, apierrors.NewValidationError("id", "invalid UUID format"))
		return
	}

	if err := h.media.DeleteImage(r.Context(), imageID, userID); err != nil {
		response.Error(w, err)
		return
	}
	response.NoContent(w)
}

// ListByEntity handles GET /v1/entities/{type}/{id}/images
func (h *MediaHandler) ListByEntity(w http.ResponseWriter, r *http.Request) {
	entityType := models.EntityType(chi.URLParam(r, "type"))
	entityID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Error(w, apierrors.NewValidationError("id", "invalid UUID format"))
		return
	}

	images, err := h.media.ListEntityImages(r.Context(), entityType, entityID)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, images)
}

// UserStats handles GET /v1/usage/users/{userID}?days=&org=
func (h *MediaHandler) UserStats(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		response.Error(w, apierrors.NewValidationError("userID", "invalid UUID format"))
		return
	}

	days := 0
	if v := r.URL.Query().Get("days"); v != "" {
		days, err = strconv.Atoi(v)
		if err != nil {
			response.Error(w, apierrors.NewValidationError("days", "must be an integer"))
			return
		}
	}

	var orgID *uuid.UUID
	if v := r.URL.Query().Get("org"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			response.Error(w, apierrors.NewValidationError("org", "invalid UUID format"))
			return
		}
		orgID = &id
	}

	stats, err := h.media.GetUserUploadStats(r.Context(), userID, orgID, days)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, stats)
}

// OrgImages handles GET /v1/usage/images
func (h *MediaHandler) OrgImages(w http.ResponseWriter, r *http.Request) {
	orgID := middleware.GetOrgIDFromContext(r.Context())
	if orgID == uuid.Nil {
		response.Error(w, apierrors.ErrUnauthorized)
		return
	}

	usage, err := h.media.GetOrganizationUsage(r.Context(), orgID)
	if err != nil {
		response.Error(w, err)
		return
	}
	response.OK(w, usage)
}
