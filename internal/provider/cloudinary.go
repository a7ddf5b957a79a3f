package provider

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/benbjohnson/clock"

	"github.com/testforge/backend/internal/models"
	apierrors "github.com/testforge/backend/internal/pkg/errors"
)

// Cloudinary stores images through the Cloudinary upload API using signed requests.
type Cloudinary struct {
	creds     CloudinaryCredentials
	baseURL   string
	client    *http.Client
	clock     clock.Clock
	thumbSize int
}

// NewCloudinary creates a Cloudinary adapter.
func NewCloudinary(creds CloudinaryCredentials, baseURL string, client *http.Client, clk clock.Clock, thumbSize int) *Cloudinary {
	return &Cloudinary{
		creds:     creds,
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    client,
		clock:     clk,
		thumbSize: thumbSize,
	}
}

// Name implements StorageProvider.
func (c *Cloudinary) Name() models.Provider { return models.ProviderCloudinary }

type cloudinaryUploadResponse struct {
	PublicID  string `json:"public_id"`
	SecureURL string `json:"secure_url"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Format    string `json:"format"`
	Bytes     int64  `json:"bytes"`
}

// Upload implements StorageProvider.
func (c *Cloudinary) Upload(ctx context.Context, data []byte, opts UploadOptions) (*UploadResult, error) {
	params := map[string]string{
		"public_id": strings.TrimSuffix(opts.FileName, path.Ext(opts.FileName)),
		"timestamp": strconv.FormatInt(c.clock.Now().Unix(), 10),
	}
	if opts.Folder != "" {
		params["folder"] = opts.Folder
	}
	if len(opts.Tags) > 0 {
		params["tags"] = strings.Join(opts.Tags, ",")
	}
	params["signature"] = c.sign(params)
	params["api_key"] = c.creds.APIKey

	body, contentType, err := multipartBody(params, "file", opts.FileName, opts.MimeType, data)
	if err != nil {
		return nil, apierrors.NewProviderError(c.Name().String(), OpUpload, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("image/upload"), body)
	if err != nil {
		return nil, apierrors.NewProviderError(c.Name().String(), OpUpload, err)
	}
	req.Header.Set("Content-Type", contentType)

	var resp cloudinaryUploadResponse
	if err := doJSON(c.client, req, c.Name(), OpUpload, &resp); err != nil {
		return nil, err
	}

	thumb := c.thumbnailURL(resp.SecureURL)
	return &UploadResult{
		AssetID:      resp.PublicID,
		URL:          resp.SecureURL,
		ThumbnailURL: &thumb,
		Width:        resp.Width,
		Height:       resp.Height,
		Format:       resp.Format,
		Size:         resp.Bytes,
	}, nil
}

type cloudinaryDestroyResponse struct {
	Result string `json:"result"`
}

// Delete implements StorageProvider. An asset that no longer exists counts as deleted.
func (c *Cloudinary) Delete(ctx context.Context, assetID string) error {
	params := map[string]string{
		"public_id": assetID,
		"timestamp": strconv.FormatInt(c.clock.Now().Unix(), 10),
	}
	params["signature"] = c.sign(params)
	params["api_key"] = c.creds.APIKey

	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("image/destroy"), strings.NewReader(form.Encode()))
	if err != nil {
		return apierrors.NewProviderError(c.Name().String(), OpDelete, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var resp cloudinaryDestroyResponse
	if err := doJSON(c.client, req, c.Name(), OpDelete, &resp); err != nil {
		return err
	}
	switch resp.Result {
	case "ok", "not found":
		return nil
	default:
		return apierrors.NewProviderError(c.Name().String(), OpDelete, fmt.Errorf("unexpected result %q", resp.Result))
	}
}

type cloudinaryMetric struct {
	Usage int64 `json:"usage"`
	Limit int64 `json:"limit"`
}

type cloudinaryUsageResponse struct {
	Storage         cloudinaryMetric `json:"storage"`
	Bandwidth       cloudinaryMetric `json:"bandwidth"`
	Transformations cloudinaryMetric `json:"transformations"`
}

// GetUsageStats implements StorageProvider.
func (c *Cloudinary) GetUsageStats(ctx context.Context) (*UsageStats, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("usage"), nil)
	if err != nil {
		return nil, apierrors.NewProviderError(c.Name().String(), OpUsage, err)
	}
	req.SetBasicAuth(c.creds.APIKey, c.creds.APISecret)

	var resp cloudinaryUsageResponse
	if err := doJSON(c.client, req, c.Name(), OpUsage, &resp); err != nil {
		return nil, err
	}

	transformations := resp.Transformations.Usage
	return &UsageStats{
		Storage:         Quantity{Used: resp.Storage.Usage, Limit: resp.Storage.Limit},
		Bandwidth:       Quantity{Used: resp.Bandwidth.Usage, Limit: resp.Bandwidth.Limit},
		Transformations: &transformations,
	}, nil
}

func (c *Cloudinary) endpoint(p string) string {
	return fmt.Sprintf("%s/%s/%s", c.baseURL, url.PathEscape(c.creds.CloudName), p)
}

// sign computes the request signature: SHA-1 over the sorted k=v pairs joined
// with '&', followed by the API secret.
func (c *Cloudinary) sign(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+params[k])
	}
	sum := sha1.Sum([]byte(strings.Join(pairs, "&") + c.creds.APISecret))
	return hex.EncodeToString(sum[:])
}

// thumbnailURL injects a crop transformation into a delivery URL.
func (c *Cloudinary) thumbnailURL(secureURL string) string {
	transform := fmt.Sprintf("/image/upload/c_fill,w_%d,h_%d/", c.thumbSize, c.thumbSize)
	return strings.Replace(secureURL, "/image/upload/", transform, 1)
}
