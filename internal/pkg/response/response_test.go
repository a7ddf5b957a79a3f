package response

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "github.com/testforge/backend/internal/pkg/errors"
)

func TestOK(t *testing.T) {
	rr := httptest.NewRecorder()
	OK(rr, map[string]int{"total_images": 2})

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"data":{"total_images":2}}`, rr.Body.String())
}

func TestError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{
			name:       "api error keeps details",
			err:        apierrors.ErrQuotaExceeded.WithMessage("Upload limit reached").WithDetails(map[string]string{"code": "upload_limit_exceeded"}),
			wantStatus: http.StatusPaymentRequired,
			wantBody:   `{"error":{"code":"quota_exceeded","message":"Upload limit reached","details":{"code":"upload_limit_exceeded"}}}`,
		},
		{
			name:       "wrapped capacity error",
			err:        fmt.Errorf("select account: %w", &apierrors.CapacityExhaustedError{Required: 2048, Candidates: 3}),
			wantStatus: http.StatusInsufficientStorage,
			wantBody:   `{"error":{"code":"capacity_exhausted","message":"No storage capacity is available for this file","details":{"required":2048}}}`,
		},
		{
			name:       "unknown error hides cause",
			err:        fmt.Errorf("pq: connection refused"),
			wantStatus: http.StatusInternalServerError,
			wantBody:   `{"error":{"code":"internal_error","message":"An internal error occurred"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			Error(rr, tt.err)

			require.Equal(t, tt.wantStatus, rr.Code)
			assert.JSONEq(t, tt.wantBody, rr.Body.String())
		})
	}
}

func TestNoContent(t *testing.T) {
	rr := httptest.NewRecorder()
	NoContent(rr)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Empty(t, rr.Body.String())
}
