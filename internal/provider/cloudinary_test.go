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
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "github.com/testforge/backend/internal/pkg/errors"
)

func mockClock(t time.Time) *clock.Mock {
	c := clock.NewMock()
	c.Set(t)
	return c
}

func newTestCloudinary(t *testing.T, handler http.HandlerFunc) *Cloudinary {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	creds := CloudinaryCredentials{CloudName: "demo", APIKey: "key", APISecret: "secret"}
	return NewCloudinary(creds, srv.URL, srv.Client(), mockClock(time.Unix(1700000000, 0)), 200)
}

func TestCloudinary_Upload(t *testing.T) {
	c := newTestCloudinary(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/demo/image/upload", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))

		assert.Equal(t, "key", r.FormValue("api_key"))
		assert.Equal(t, "01hx", r.FormValue("public_id"))
		assert.Equal(t, "media/case", r.FormValue("folder"))
		assert.Equal(t, "a,b", r.FormValue("tags"))
		assert.Equal(t, "1700000000", r.FormValue("timestamp"))

		sum := sha1.Sum([]byte("folder=media/case&public_id=01hx&tags=a,b&timestamp=1700000000secret"))
		assert.Equal(t, hex.EncodeToString(sum[:]), r.FormValue("signature"))

		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		data, _ := io.ReadAll(f)
		assert.Equal(t, "pixels", string(data))
		assert.Equal(t, "image/webp", hdr.Header.Get("Content-Type"))

		json.NewEncoder(w).Encode(map[string]any{
			"public_id":  "media/case/01hx",
			"secure_url": "https://res.cloudinary.com/demo/image/upload/v1/media/case/01hx.webp",
			"width":      640,
			"height":     480,
			"format":     "webp",
			"bytes":      6,
		})
	})

	res, err := c.Upload(context.Background(), []byte("pixels"), UploadOptions{
		FileName: "01hx.webp",
		Folder:   "media/case",
		MimeType: "image/webp",
		Tags:     []string{"a", "b"},
	})
	require.NoError(t, err)

	assert.Equal(t, "media/case/01hx", res.AssetID)
	assert.Equal(t, 640, res.Width)
	assert.Equal(t, int64(6), res.Size)
	require.NotNil(t, res.ThumbnailURL)
	assert.Equal(t, "https://res.cloudinary.com/demo/image/upload/c_fill,w_200,h_200/v1/media/case/01hx.webp", *res.ThumbnailURL)
}

func TestCloudinary_Delete(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		result  string
		wantErr bool
	}{
		{"ok", http.StatusOK, "ok", false},
		{"already gone", http.StatusOK, "not found", false},
		{"unexpected result", http.StatusOK, "error", true},
		{"server error", http.StatusInternalServerError, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCloudinary(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/demo/image/destroy", r.URL.Path)
				require.NoError(t, r.ParseForm())
				assert.Equal(t, "asset-1", r.PostFormValue("public_id"))
				assert.NotEmpty(t, r.PostFormValue("signature"))
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(map[string]string{"result": tt.result})
			})

			err := c.Delete(context.Background(), "asset-1")
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var provErr *apierrors.ProviderError
			require.True(t, errors.As(err, &provErr))
			assert.Equal(t, "cloudinary", provErr.Provider)
			assert.Equal(t, OpDelete, provErr.Op)
		})
	}
}

func TestCloudinary_GetUsageStats(t *testing.T) {
	c := newTestCloudinary(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/demo/usage", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "key", user)
		assert.Equal(t, "secret", pass)
		io.WriteString(w, `{"storage":{"usage":1000,"limit":5000},"bandwidth":{"usage":20},"transformations":{"usage":7}}`)
	})

	stats, err := c.GetUsageStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Quantity{Used: 1000, Limit: 5000}, stats.Storage)
	assert.Equal(t, int64(20), stats.Bandwidth.Used)
	require.NotNil(t, stats.Transformations)
	assert.Equal(t, int64(7), *stats.Transformations)
}

func TestCloudinary_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c := NewCloudinary(CloudinaryCredentials{CloudName: "demo"}, srv.URL, http.DefaultClient, clock.New(), 200)

	_, err := c.Upload(context.Background(), []byte("x"), UploadOptions{FileName: "a.jpg"})

	var provErr *apierrors.ProviderError
	require.True(t, errors.As(err, &provErr))
	assert.Equal(t, OpUpload, provErr.Op)
	assert.Zero(t, provErr.StatusCode)
}

func TestCloudinary_ContextCancelled(t *testing.T) {
	c := newTestCloudinary(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("request must not reach the server")
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Upload(ctx, []byte("x"), UploadOptions{FileName: "a.jpg"})
	assert.ErrorIs(t, err, context.Canceled)
}
