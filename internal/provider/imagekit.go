package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/benbjohnson/clock"

	"github.com/testforge/backend/internal/models"
	apierrors "github.com/testforge/backend/internal/pkg/errors"
)

// ImageKit stores images through the ImageKit upload and management APIs.
type ImageKit struct {
	creds     ImageKitCredentials
	uploadURL string
	apiURL    string
	client    *http.Client
	clock     clock.Clock
	thumbSize int
}

// NewImageKit creates an ImageKit adapter.
func NewImageKit(creds ImageKitCredentials, uploadURL, apiURL string, client *http.Client, clk clock.Clock, thumbSize int) *ImageKit {
	return &ImageKit{
		creds:     creds,
		uploadURL: strings.TrimRight(uploadURL, "/"),
		apiURL:    strings.TrimRight(apiURL, "/"),
		client:    client,
		clock:     clk,
		thumbSize: thumbSize,
	}
}

// Name implements StorageProvider.
func (k *ImageKit) Name() models.Provider { return models.ProviderImageKit }

type imageKitUploadResponse struct {
	FileID       string `json:"fileId"`
	Name         string `json:"name"`
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnailUrl"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	Size         int64  `json:"size"`
	FileType     string `json:"fileType"`
}

// Upload implements StorageProvider.
func (k *ImageKit) Upload(ctx context.Context, data []byte, opts UploadOptions) (*UploadResult, error) {
	fields := map[string]string{
		"fileName":          opts.FileName,
		"useUniqueFileName": "false",
	}
	if opts.Folder != "" {
		fields["folder"] = opts.Folder
	}
	if len(opts.Tags) > 0 {
		fields["tags"] = strings.Join(opts.Tags, ",")
	}

	body, contentType, err := multipartBody(fields, "file", opts.FileName, opts.MimeType, data)
	if err != nil {
		return nil, apierrors.NewProviderError(k.Name().String(), OpUpload, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.uploadURL+"/files/upload", body)
	if err != nil {
		return nil, apierrors.NewProviderError(k.Name().String(), OpUpload, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.SetBasicAuth(k.creds.PrivateKey, "")

	var resp imageKitUploadResponse
	if err := doJSON(k.client, req, k.Name(), OpUpload, &resp); err != nil {
		return nil, err
	}

	thumb := resp.ThumbnailURL
	if thumb == "" {
		thumb = k.thumbnailURL(resp.URL)
	}
	return &UploadResult{
		AssetID:      resp.FileID,
		URL:          resp.URL,
		ThumbnailURL: &thumb,
		Width:        resp.Width,
		Height:       resp.Height,
		Format:       formatFromName(resp.Name),
		Size:         resp.Size,
	}, nil
}

// Delete implements StorageProvider. A 404 counts as deleted.
func (k *ImageKit) Delete(ctx context.Context, assetID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, k.apiURL+"/files/"+url.PathEscape(assetID), nil)
	if err != nil {
		return apierrors.NewProviderError(k.Name().String(), OpDelete, err)
	}
	req.SetBasicAuth(k.creds.PrivateKey, "")

	err = doJSON(k.client, req, k.Name(), OpDelete, nil)
	var provErr *apierrors.ProviderError
	if errors.As(err, &provErr) && provErr.StatusCode == http.StatusNotFound {
		return nil
	}
	return err
}

type imageKitUsageResponse struct {
	BandwidthBytes           int64 `json:"bandwidthBytes"`
	MediaLibraryStorageBytes int64 `json:"mediaLibraryStorageBytes"`
	ExtensionUnitsCount      int64 `json:"extensionUnitsCount"`
}

// GetUsageStats implements StorageProvider. Bandwidth covers the current calendar month.
func (k *ImageKit) GetUsageStats(ctx context.Context) (*UsageStats, error) {
	now := k.clock.Now().UTC()
	start := now.AddDate(0, 0, 1-now.Day())

	q := url.Values{}
	q.Set("startDate", start.Format("2006-01-02"))
	q.Set("endDate", now.Format("2006-01-02"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.apiURL+"/accounts/usage?"+q.Encode(), nil)
	if err != nil {
		return nil, apierrors.NewProviderError(k.Name().String(), OpUsage, err)
	}
	req.SetBasicAuth(k.creds.PrivateKey, "")

	var resp imageKitUsageResponse
	if err := doJSON(k.client, req, k.Name(), OpUsage, &resp); err != nil {
		return nil, err
	}

	ext := resp.ExtensionUnitsCount
	return &UsageStats{
		Storage:         Quantity{Used: resp.MediaLibraryStorageBytes},
		Bandwidth:       Quantity{Used: resp.BandwidthBytes},
		Transformations: &ext,
	}, nil
}

// thumbnailURL appends a resize transformation as a tr query parameter.
func (k *ImageKit) thumbnailURL(fileURL string) string {
	sep := "?"
	if strings.Contains(fileURL, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%str=w-%d,h-%d", fileURL, sep, k.thumbSize, k.thumbSize)
}

func formatFromName(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 && i < len(name)-1 {
		return strings.ToLower(name[i+1:])
	}
	return ""
}
