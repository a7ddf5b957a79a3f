package provider

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/testforge/backend/internal/config"
	"github.com/testforge/backend/internal/models"
	"github.com/testforge/backend/internal/pkg/secretbox"
)

func testBox(t *testing.T) *secretbox.Box {
	t.Helper()
	box, err := secretbox.New(bytes.Repeat([]byte{1}, 32))
	require.NoError(t, err)
	return box
}

func TestFactory_For(t *testing.T) {
	box := testBox(t)
	f := NewFactory(config.ProvidersConfig{
		CloudinaryURL:  "https://cloudinary.test",
		ImageKitURL:    "https://upload.imagekit.test",
		ImageKitAPIURL: "https://api.imagekit.test",
		BackblazeURL:   "https://b2.test",
	}, box)

	tests := []struct {
		provider models.Provider
		creds    string
		want     models.Provider
	}{
		{models.ProviderCloudinary, `{"cloud_name":"c","api_key":"k","api_secret":"s"}`, models.ProviderCloudinary},
		{models.ProviderImageKit, `{"private_key":"p","url_endpoint":"https://ik.imagekit.io/x"}`, models.ProviderImageKit},
		{models.ProviderBackblaze, `{"key_id":"k","application_key":"a","bucket_id":"b","bucket_name":"n"}`, models.ProviderBackblaze},
	}
	for _, tt := range tests {
		t.Run(string(tt.provider), func(t *testing.T) {
			sealed, err := SealCredentials(box, tt.provider, json.RawMessage(tt.creds))
			require.NoError(t, err)

			p, err := f.For(&models.StorageAccount{ID: uuid.New(), Provider: tt.provider, Credentials: sealed})
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Name())
		})
	}
}

func TestFactory_SharesTokenCache(t *testing.T) {
	box := testBox(t)
	f := NewFactory(config.ProvidersConfig{}, box)

	sealed, err := SealCredentials(box, models.ProviderBackblaze,
		json.RawMessage(`{"key_id":"k","application_key":"a","bucket_id":"b","bucket_name":"n"}`))
	require.NoError(t, err)
	account := &models.StorageAccount{ID: uuid.New(), Provider: models.ProviderBackblaze, Credentials: sealed}

	a, err := f.For(account)
	require.NoError(t, err)
	b, err := f.For(account)
	require.NoError(t, err)

	assert.Same(t, a.(*Backblaze).tokens, b.(*Backblaze).tokens)
	assert.Equal(t, DefaultB2TokenTTL, f.tokens.ttl)
}

func TestFactory_Errors(t *testing.T) {
	box := testBox(t)
	f := NewFactory(config.ProvidersConfig{}, box)

	_, err := f.For(&models.StorageAccount{Provider: models.ProviderCloudinary, Credentials: []byte("not sealed")})
	assert.Error(t, err)

	sealed, err := box.Seal([]byte(`{}`))
	require.NoError(t, err)
	_, err = f.For(&models.StorageAccount{Provider: "dropbox", Credentials: sealed})
	assert.ErrorContains(t, err, "unsupported provider")
}

func TestSealCredentials_Validation(t *testing.T) {
	box := testBox(t)

	_, err := SealCredentials(box, models.ProviderCloudinary, json.RawMessage(`{"cloud_name":"c"}`))
	assert.Error(t, err, "missing api key and secret")

	_, err = SealCredentials(box, models.ProviderBackblaze, json.RawMessage(`not json`))
	assert.Error(t, err)

	sealed, err := SealCredentials(box, models.ProviderImageKit,
		json.RawMessage(`{"private_key":"p","url_endpoint":"u","extra":"dropped"}`))
	require.NoError(t, err)
	plain, err := box.Open(sealed)
	require.NoError(t, err)
	assert.NotContains(t, string(plain), "extra")
}
