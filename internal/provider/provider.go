// Package provider implements the storage backends images are uploaded to.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"

	"github.com/testforge/backend/internal/models"
	apierrors "github.com/testforge/backend/internal/pkg/errors"
)

// Operation names used in ProviderError.
const (
	OpAuthorize = "authorize"
	OpUpload    = "upload"
	OpDelete    = "delete"
	OpUsage     = "usage"
)

// StorageProvider is the uniform contract over every backend.
type StorageProvider interface {
	Name() models.Provider
	Upload(ctx context.Context, data []byte, opts UploadOptions) (*UploadResult, error)
	Delete(ctx context.Context, assetID string) error
	GetUsageStats(ctx context.Context) (*UsageStats, error)
}

// UploadOptions describes the object being stored.
type UploadOptions struct {
	FileName string
	Folder   string
	MimeType string
	Tags     []string
}

// UploadResult is what the backend reports for a stored object.
type UploadResult struct {
	AssetID      string
	URL          string
	ThumbnailURL *string
	Width        int
	Height       int
	Format       string
	Size         int64
}

// Quantity is a used/limit pair. A zero Limit means the backend did not report one.
type Quantity struct {
	Used  int64 `json:"used"`
	Limit int64 `json:"limit"`
}

// UsageStats is the backend's own view of account consumption.
type UsageStats struct {
	Storage         Quantity `json:"storage"`
	Bandwidth       Quantity `json:"bandwidth"`
	Transformations *int64   `json:"transformations,omitempty"`
}

// httpError is the cause attached to ProviderError for non-2xx replies.
type httpError struct {
	status int
	body   string
}

func (e *httpError) Error() string {
	if e.body == "" {
		return http.StatusText(e.status)
	}
	return fmt.Sprintf("%s: %s", http.StatusText(e.status), e.body)
}

// maxErrorBody caps how much of an error reply is kept.
const maxErrorBody = 512

// doJSON sends req and decodes a 2xx JSON reply into out (which may be nil).
// Every failure is returned as *apierrors.ProviderError.
func doJSON(client *http.Client, req *http.Request, name models.Provider, op string, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return apierrors.NewProviderError(name.String(), op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &apierrors.ProviderError{
			Provider:   name.String(),
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        &httpError{status: resp.StatusCode, body: string(bytes.TrimSpace(body))},
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apierrors.NewProviderError(name.String(), op, fmt.Errorf("failed to parse response: %w", err))
	}
	return nil
}

// multipartBody builds a form with the given fields and one file part.
func multipartBody(fields map[string]string, fileField, fileName, mimeType string, data []byte) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, fileField, fileName))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	h.Set("Content-Type", mimeType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
