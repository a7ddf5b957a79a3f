package provider

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/singleflight"

	"github.com/testforge/backend/internal/models"
	apierrors "github.com/testforge/backend/internal/pkg/errors"
)

// DefaultB2TokenTTL is how long an authorization token is reused.
// B2 tokens are valid for 24h.
const DefaultB2TokenTTL = 19 * time.Minute

const b2AuthorizeTimeout = 30 * time.Second

// b2Session is the result of b2_authorize_account.
type b2Session struct {
	Token       string `json:"authorizationToken"`
	APIURL      string `json:"apiUrl"`
	DownloadURL string `json:"downloadUrl"`
	expires     time.Time
}

// tokenCache keeps one B2 session per application key. Concurrent misses for
// the same key share a single authorize call.
type tokenCache struct {
	mu       sync.Mutex
	clock    clock.Clock
	ttl      time.Duration
	sessions map[string]*b2Session
	group    singleflight.Group
}

func newTokenCache(clk clock.Clock, ttl time.Duration) *tokenCache {
	return &tokenCache{clock: clk, ttl: ttl, sessions: make(map[string]*b2Session)}
}

func (c *tokenCache) lookup(keyID string) *b2Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[keyID]
	if !ok || !c.clock.Now().Before(s.expires) {
		return nil
	}
	return s
}

// get returns the cached session or joins the authorize call for keyID. The
// call outlives a cancelled caller, bounded by b2AuthorizeTimeout, so the
// other callers waiting on it still get a session.
func (c *tokenCache) get(ctx context.Context, keyID string, fetch func(ctx context.Context) (*b2Session, error)) (*b2Session, error) {
	if s := c.lookup(keyID); s != nil {
		return s, nil
	}

	ch := c.group.DoChan(keyID, func() (any, error) {
		// A flight that finished between lookup and DoChan already stored a session.
		if s := c.lookup(keyID); s != nil {
			return s, nil
		}
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b2AuthorizeTimeout)
		defer cancel()
		s, err := fetch(fetchCtx)
		if err != nil {
			return nil, err
		}
		s.expires = c.clock.Now().Add(c.ttl)
		c.mu.Lock()
		c.sessions[keyID] = s
		c.mu.Unlock()
		return s, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*b2Session), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *tokenCache) invalidate(keyID string) {
	c.mu.Lock()
	delete(c.sessions, keyID)
	c.mu.Unlock()
}

// Backblaze stores images in a B2 bucket through the native B2 API.
type Backblaze struct {
	creds   BackblazeCredentials
	baseURL string
	client  *http.Client
	tokens  *tokenCache
}

// NewBackblaze creates a Backblaze adapter sharing the given token cache.
func NewBackblaze(creds BackblazeCredentials, baseURL string, client *http.Client, tokens *tokenCache) *Backblaze {
	return &Backblaze{
		creds:   creds,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		tokens:  tokens,
	}
}

// Name implements StorageProvider.
func (b *Backblaze) Name() models.Provider { return models.ProviderBackblaze }

func (b *Backblaze) session(ctx context.Context) (*b2Session, error) {
	return b.tokens.get(ctx, b.creds.KeyID, func(ctx context.Context) (*b2Session, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/b2api/v2/b2_authorize_account", nil)
		if err != nil {
			return nil, apierrors.NewProviderError(b.Name().String(), OpAuthorize, err)
		}
		req.SetBasicAuth(b.creds.KeyID, b.creds.ApplicationKey)

		var s b2Session
		if err := doJSON(b.client, req, b.Name(), OpAuthorize, &s); err != nil {
			return nil, err
		}
		return &s, nil
	})
}

// call POSTs a JSON body to a B2 API operation using the cached session.
func (b *Backblaze) call(ctx context.Context, op, apiName string, in, out any) error {
	s, err := b.session(ctx)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(in)
	if err != nil {
		return apierrors.NewProviderError(b.Name().String(), op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.APIURL+"/b2api/v2/"+apiName, bytes.NewReader(payload))
	if err != nil {
		return apierrors.NewProviderError(b.Name().String(), op, err)
	}
	req.Header.Set("Authorization", s.Token)
	req.Header.Set("Content-Type", "application/json")

	return b.check(doJSON(b.client, req, b.Name(), op, out))
}

// check drops the cached session when B2 rejects the token.
func (b *Backblaze) check(err error) error {
	var provErr *apierrors.ProviderError
	if errors.As(err, &provErr) && provErr.StatusCode == http.StatusUnauthorized {
		b.tokens.invalidate(b.creds.KeyID)
	}
	return err
}

type b2UploadURL struct {
	UploadURL string `json:"uploadUrl"`
	Token     string `json:"authorizationToken"`
}

type b2File struct {
	FileID        string `json:"fileId"`
	FileName      string `json:"fileName"`
	ContentLength int64  `json:"contentLength"`
	ContentType   string `json:"contentType"`
}

// Upload implements StorageProvider. The asset id is "<fileId>/<fileName>"
// because deleting a B2 file version needs both.
func (b *Backblaze) Upload(ctx context.Context, data []byte, opts UploadOptions) (*UploadResult, error) {
	var target b2UploadURL
	if err := b.call(ctx, OpUpload, "b2_get_upload_url", map[string]string{"bucketId": b.creds.BucketID}, &target); err != nil {
		return nil, err
	}

	name := opts.FileName
	if opts.Folder != "" {
		name = path.Join(opts.Folder, opts.FileName)
	}
	sum := sha1.Sum(data)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.UploadURL, bytes.NewReader(data))
	if err != nil {
		return nil, apierrors.NewProviderError(b.Name().String(), OpUpload, err)
	}
	contentType := opts.MimeType
	if contentType == "" {
		contentType = "b2/x-auto"
	}
	req.Header.Set("Authorization", target.Token)
	req.Header.Set("X-Bz-File-Name", (&url.URL{Path: name}).EscapedPath())
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Bz-Content-Sha1", hex.EncodeToString(sum[:]))
	if len(opts.Tags) > 0 {
		req.Header.Set("X-Bz-Info-tags", url.QueryEscape(strings.Join(opts.Tags, ",")))
	}
	req.ContentLength = int64(len(data))

	var file b2File
	if err := b.check(doJSON(b.client, req, b.Name(), OpUpload, &file)); err != nil {
		return nil, err
	}

	s, err := b.session(ctx)
	if err != nil {
		return nil, err
	}
	return &UploadResult{
		AssetID: file.FileID + "/" + file.FileName,
		URL:     b.publicURL(s.DownloadURL, file.FileName),
		Format:  formatFromName(file.FileName),
		Size:    file.ContentLength,
	}, nil
}

// Delete implements StorageProvider. A file that is already gone counts as deleted.
func (b *Backblaze) Delete(ctx context.Context, assetID string) error {
	fileID, fileName, ok := strings.Cut(assetID, "/")
	if !ok || fileID == "" || fileName == "" {
		return apierrors.NewProviderError(b.Name().String(), OpDelete, fmt.Errorf("malformed asset id %q", assetID))
	}

	err := b.call(ctx, OpDelete, "b2_delete_file_version", map[string]string{
		"fileId":   fileID,
		"fileName": fileName,
	}, nil)

	var provErr *apierrors.ProviderError
	if errors.As(err, &provErr) {
		var he *httpError
		if errors.As(provErr.Err, &he) && (he.status == http.StatusNotFound || strings.Contains(he.body, "file_not_present")) {
			return nil
		}
	}
	return err
}

type b2ListResponse struct {
	Files        []b2File `json:"files"`
	NextFileName *string  `json:"nextFileName"`
}

// listPageSize is the B2 maximum for one b2_list_file_names call.
const listPageSize = 10000

// GetUsageStats implements StorageProvider. B2 has no usage endpoint, so
// storage is the sum of the bucket's file sizes and bandwidth is not reported.
func (b *Backblaze) GetUsageStats(ctx context.Context) (*UsageStats, error) {
	var total int64
	var start *string
	for {
		in := map[string]any{
			"bucketId":     b.creds.BucketID,
			"maxFileCount": listPageSize,
		}
		if start != nil {
			in["startFileName"] = *start
		}

		var page b2ListResponse
		if err := b.call(ctx, OpUsage, "b2_list_file_names", in, &page); err != nil {
			return nil, err
		}
		for _, f := range page.Files {
			total += f.ContentLength
		}
		if page.NextFileName == nil {
			break
		}
		start = page.NextFileName
	}
	return &UsageStats{Storage: Quantity{Used: total}}, nil
}

func (b *Backblaze) publicURL(downloadURL, fileName string) string {
	return fmt.Sprintf("%s/file/%s/%s",
		strings.TrimRight(downloadURL, "/"),
		url.PathEscape(b.creds.BucketName),
		(&url.URL{Path: fileName}).EscapedPath())
}
