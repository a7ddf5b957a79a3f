package provider

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "github.com/testforge/backend/internal/pkg/errors"
)

// fakeB2 emulates the subset of the B2 native API the adapter uses.
type fakeB2 struct {
	t          *testing.T
	srv        *httptest.Server
	authorized atomic.Int32
	rejectNext atomic.Bool
	// authorizeGate, when set, holds authorize requests until it is closed.
	authorizeGate    chan struct{}
	authorizeArrived chan struct{}
	deleted          []string
	mu               sync.Mutex
}

func newFakeB2(t *testing.T) *fakeB2 {
	f := &fakeB2{t: t}
	mux := http.NewServeMux()
	mux.HandleFunc("/b2api/v2/b2_authorize_account", f.authorize)
	mux.HandleFunc("/b2api/v2/b2_get_upload_url", f.withToken(f.getUploadURL))
	mux.HandleFunc("/upload", f.upload)
	mux.HandleFunc("/b2api/v2/b2_delete_file_version", f.withToken(f.deleteFile))
	mux.HandleFunc("/b2api/v2/b2_list_file_names", f.withToken(f.listFiles))
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeB2) authorize(w http.ResponseWriter, r *http.Request) {
	user, pass, ok := r.BasicAuth()
	if !ok || user != "key-id" || pass != "app-key" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if f.authorizeGate != nil {
		f.authorizeArrived <- struct{}{}
		select {
		case <-f.authorizeGate:
		case <-r.Context().Done():
			return
		}
	}
	f.authorized.Add(1)
	json.NewEncoder(w).Encode(map[string]string{
		"authorizationToken": "token",
		"apiUrl":             f.srv.URL,
		"downloadUrl":        "https://f000.backblazeb2.com",
	})
}

func (f *fakeB2) withToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "token" || f.rejectNext.CompareAndSwap(true, false) {
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, `{"code":"expired_auth_token"}`)
			return
		}
		next(w, r)
	}
}

func (f *fakeB2) getUploadURL(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{
		"uploadUrl":          f.srv.URL + "/upload",
		"authorizationToken": "upload-token",
	})
}

func (f *fakeB2) upload(w http.ResponseWriter, r *http.Request) {
	assert.Equal(f.t, "upload-token", r.Header.Get("Authorization"))
	body, _ := io.ReadAll(r.Body)
	sum := sha1.Sum(body)
	assert.Equal(f.t, hex.EncodeToString(sum[:]), r.Header.Get("X-Bz-Content-Sha1"))
	json.NewEncoder(w).Encode(map[string]any{
		"fileId":        "4_zfile",
		"fileName":      r.Header.Get("X-Bz-File-Name"),
		"contentLength": len(body),
		"contentType":   r.Header.Get("Content-Type"),
	})
}

func (f *fakeB2) deleteFile(w http.ResponseWriter, r *http.Request) {
	var in map[string]string
	json.NewDecoder(r.Body).Decode(&in)
	if in["fileId"] == "missing" {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"code":"file_not_present","message":"File not present"}`)
		return
	}
	f.mu.Lock()
	f.deleted = append(f.deleted, in["fileId"]+"|"+in["fileName"])
	f.mu.Unlock()
	io.WriteString(w, `{}`)
}

func (f *fakeB2) listFiles(w http.ResponseWriter, r *http.Request) {
	var in map[string]any
	json.NewDecoder(r.Body).Decode(&in)
	if in["startFileName"] == nil {
		io.WriteString(w, `{"files":[{"contentLength":100},{"contentLength":200}],"nextFileName":"c"}`)
		return
	}
	io.WriteString(w, `{"files":[{"contentLength":50}],"nextFileName":null}`)
}

func newTestBackblaze(f *fakeB2, clk clock.Clock) *Backblaze {
	creds := BackblazeCredentials{KeyID: "key-id", ApplicationKey: "app-key", BucketID: "bucket-1", BucketName: "media"}
	return NewBackblaze(creds, f.srv.URL, f.srv.Client(), newTokenCache(clk, DefaultB2TokenTTL))
}

func TestBackblaze_Upload(t *testing.T) {
	f := newFakeB2(t)
	b := newTestBackblaze(f, clock.NewMock())

	res, err := b.Upload(context.Background(), []byte("image-bytes"), UploadOptions{
		FileName: "01hx.webp",
		Folder:   "case",
		MimeType: "image/webp",
	})
	require.NoError(t, err)

	assert.Equal(t, "4_zfile/case/01hx.webp", res.AssetID)
	assert.Equal(t, "https://f000.backblazeb2.com/file/media/case/01hx.webp", res.URL)
	assert.Equal(t, "webp", res.Format)
	assert.Equal(t, int64(11), res.Size)
	assert.Nil(t, res.ThumbnailURL)
}

func TestBackblaze_TokenCachedForTTL(t *testing.T) {
	f := newFakeB2(t)
	clk := clock.NewMock()
	b := newTestBackblaze(f, clk)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := b.Upload(ctx, []byte("x"), UploadOptions{FileName: "a.jpg"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), f.authorized.Load(), "concurrent uploads must share one authorization")

	clk.Add(18 * time.Minute)
	_, err := b.Upload(ctx, []byte("x"), UploadOptions{FileName: "a.jpg"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.authorized.Load())

	clk.Add(2 * time.Minute)
	_, err = b.Upload(ctx, []byte("x"), UploadOptions{FileName: "a.jpg"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.authorized.Load(), "token must be refreshed after 19 minutes")
}

func TestBackblaze_CancelledCallerDoesNotFailSharedAuthorize(t *testing.T) {
	f := newFakeB2(t)
	f.authorizeGate = make(chan struct{})
	f.authorizeArrived = make(chan struct{}, 1)
	b := newTestBackblaze(f, clock.NewMock())

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := b.Upload(firstCtx, []byte("x"), UploadOptions{FileName: "a.jpg"})
		firstErr <- err
	}()
	<-f.authorizeArrived

	secondErr := make(chan error, 1)
	go func() {
		_, err := b.Upload(context.Background(), []byte("x"), UploadOptions{FileName: "b.jpg"})
		secondErr <- err
	}()

	cancelFirst()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(f.authorizeGate)
	assert.NoError(t, <-secondErr)
	assert.Equal(t, int32(1), f.authorized.Load(), "the cancelled caller's authorize call is reused")
}

func TestBackblaze_UnauthorizedDropsToken(t *testing.T) {
	f := newFakeB2(t)
	b := newTestBackblaze(f, clock.NewMock())
	ctx := context.Background()

	_, err := b.Upload(ctx, []byte("x"), UploadOptions{FileName: "a.jpg"})
	require.NoError(t, err)

	f.rejectNext.Store(true)
	_, err = b.Upload(ctx, []byte("x"), UploadOptions{FileName: "a.jpg"})
	var provErr *apierrors.ProviderError
	require.True(t, errors.As(err, &provErr))
	assert.Equal(t, http.StatusUnauthorized, provErr.StatusCode)

	_, err = b.Upload(ctx, []byte("x"), UploadOptions{FileName: "a.jpg"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.authorized.Load())
}

func TestBackblaze_AuthorizeFailure(t *testing.T) {
	f := newFakeB2(t)
	creds := BackblazeCredentials{KeyID: "key-id", ApplicationKey: "wrong", BucketID: "bucket-1"}
	b := NewBackblaze(creds, f.srv.URL, f.srv.Client(), newTokenCache(clock.NewMock(), DefaultB2TokenTTL))

	_, err := b.Upload(context.Background(), []byte("x"), UploadOptions{FileName: "a.jpg"})
	var provErr *apierrors.ProviderError
	require.True(t, errors.As(err, &provErr))
	assert.Equal(t, OpAuthorize, provErr.Op)
	assert.Equal(t, "backblaze", provErr.Provider)
}

func TestBackblaze_Delete(t *testing.T) {
	f := newFakeB2(t)
	b := newTestBackblaze(f, clock.NewMock())
	ctx := context.Background()

	require.NoError(t, b.Delete(ctx, "4_zfile/case/01hx.webp"))
	assert.Equal(t, []string{"4_zfile|case/01hx.webp"}, f.deleted)

	assert.NoError(t, b.Delete(ctx, "missing/x.jpg"), "file already gone counts as deleted")

	err := b.Delete(ctx, "no-separator")
	var provErr *apierrors.ProviderError
	assert.True(t, errors.As(err, &provErr))
}

func TestBackblaze_GetUsageStats(t *testing.T) {
	f := newFakeB2(t)
	b := newTestBackblaze(f, clock.NewMock())

	stats, err := b.GetUsageStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(350), stats.Storage.Used)
	assert.Nil(t, stats.Transformations)
}
