package ulid

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileName(t *testing.T) {
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		ext  string
		want string
	}{
		{"dotless extension", "webp", ".webp"},
		{"dotted extension", ".jpg", ".jpg"},
		{"no extension", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FileName(now, tt.ext)
			assert.True(t, strings.HasSuffix(got, tt.want))
			assert.Equal(t, strings.ToLower(got), got)

			id := strings.TrimSuffix(got, tt.want)
			require.True(t, IsValid(id), "generated id %q is not a ULID", id)
			ts, err := Time(id)
			require.NoError(t, err)
			assert.True(t, ts.Equal(now))
		})
	}
}

func TestNewFromTime_Monotonic(t *testing.T) {
	now := time.Now()
	a := NewFromTime(now)
	b := NewFromTime(now)
	assert.Less(t, a, b)
}

func TestIsValid(t *testing.T) {
	assert.True(t, IsValid(New()))
	assert.False(t, IsValid("not-a-ulid"))
	assert.False(t, IsValid(""))
}
