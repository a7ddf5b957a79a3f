package provider

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-playground/validator/v10"

	"github.com/testforge/backend/internal/config"
	"github.com/testforge/backend/internal/models"
	"github.com/testforge/backend/internal/pkg/secretbox"
)

var validate = validator.New()

// CloudinaryCredentials is the credential bundle of a Cloudinary account.
type CloudinaryCredentials struct {
	CloudName string `json:"cloud_name" yaml:"cloud_name" validate:"required"`
	APIKey    string `json:"api_key" yaml:"api_key" validate:"required"`
	APISecret string `json:"api_secret" yaml:"api_secret" validate:"required"`
}

// ImageKitCredentials is the credential bundle of an ImageKit account.
type ImageKitCredentials struct {
	PublicKey   string `json:"public_key" yaml:"public_key"`
	PrivateKey  string `json:"private_key" yaml:"private_key" validate:"required"`
	URLEndpoint string `json:"url_endpoint" yaml:"url_endpoint" validate:"required"`
}

// BackblazeCredentials is the credential bundle of a Backblaze B2 account.
type BackblazeCredentials struct {
	KeyID          string `json:"key_id" yaml:"key_id" validate:"required"`
	ApplicationKey string `json:"application_key" yaml:"application_key" validate:"required"`
	BucketID       string `json:"bucket_id" yaml:"bucket_id" validate:"required"`
	BucketName     string `json:"bucket_name" yaml:"bucket_name" validate:"required"`
}

// Factory builds a StorageProvider for one account on demand.
type Factory struct {
	cfg       config.ProvidersConfig
	box       *secretbox.Box
	client    *http.Client
	clock     clock.Clock
	tokens    *tokenCache
	thumbSize int
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithHTTPClient overrides the HTTP client used by adapters.
func WithHTTPClient(c *http.Client) FactoryOption {
	return func(f *Factory) { f.client = c }
}

// WithClock overrides the clock used for signatures and token expiry.
func WithClock(c clock.Clock) FactoryOption {
	return func(f *Factory) { f.clock = c }
}

// WithThumbnailSize sets the edge length of synthesized thumbnails.
func WithThumbnailSize(px int) FactoryOption {
	return func(f *Factory) { f.thumbSize = px }
}

// NewFactory creates a factory. The B2 token cache lives here so it outlives
// the per-call adapters.
func NewFactory(cfg config.ProvidersConfig, box *secretbox.Box, opts ...FactoryOption) *Factory {
	f := &Factory{
		cfg:       cfg,
		box:       box,
		clock:     clock.New(),
		thumbSize: 200,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.client == nil {
		timeout := cfg.HTTPTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		f.client = &http.Client{Timeout: timeout}
	}
	ttl := cfg.B2TokenTTL
	if ttl <= 0 {
		ttl = DefaultB2TokenTTL
	}
	f.tokens = newTokenCache(f.clock, ttl)
	return f
}

// For decrypts the account's credentials and returns its adapter.
func (f *Factory) For(account *models.StorageAccount) (StorageProvider, error) {
	plain, err := f.box.Open(account.Credentials)
	if err != nil {
		return nil, fmt.Errorf("failed to open credentials of account %s: %w", account.ID, err)
	}

	switch account.Provider {
	case models.ProviderCloudinary:
		var creds CloudinaryCredentials
		if err := json.Unmarshal(plain, &creds); err != nil {
			return nil, fmt.Errorf("invalid cloudinary credentials: %w", err)
		}
		return NewCloudinary(creds, f.cfg.CloudinaryURL, f.client, f.clock, f.thumbSize), nil
	case models.ProviderImageKit:
		var creds ImageKitCredentials
		if err := json.Unmarshal(plain, &creds); err != nil {
			return nil, fmt.Errorf("invalid imagekit credentials: %w", err)
		}
		return NewImageKit(creds, f.cfg.ImageKitURL, f.cfg.ImageKitAPIURL, f.client, f.clock, f.thumbSize), nil
	case models.ProviderBackblaze:
		var creds BackblazeCredentials
		if err := json.Unmarshal(plain, &creds); err != nil {
			return nil, fmt.Errorf("invalid backblaze credentials: %w", err)
		}
		return NewBackblaze(creds, f.cfg.BackblazeURL, f.client, f.tokens), nil
	default:
		return nil, fmt.Errorf("unsupported provider %q", account.Provider)
	}
}

// SealCredentials validates and encrypts a credential bundle for provider.
func SealCredentials(box *secretbox.Box, p models.Provider, raw json.RawMessage) ([]byte, error) {
	var target any
	switch p {
	case models.ProviderCloudinary:
		target = &CloudinaryCredentials{}
	case models.ProviderImageKit:
		target = &ImageKitCredentials{}
	case models.ProviderBackblaze:
		target = &BackblazeCredentials{}
	default:
		return nil, fmt.Errorf("unsupported provider %q", p)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return nil, fmt.Errorf("invalid %s credentials: %w", p, err)
	}
	if err := validate.Struct(target); err != nil {
		return nil, fmt.Errorf("invalid %s credentials: %w", p, err)
	}
	normalized, err := json.Marshal(target)
	if err != nil {
		return nil, err
	}
	return box.Seal(normalized)
}
