package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestReadyHandler(t *testing.T) {
	up := pingFunc(func(context.Context) error { return nil })
	down := pingFunc(func(context.Context) error { return assert.AnError })

	tests := []struct {
		name       string
		db, redis  pinger
		wantStatus int
		wantBody   string
	}{
		{"ready", up, up, http.StatusOK, `"database":"connected"`},
		{"database down", down, up, http.StatusServiceUnavailable, `"component":"database"`},
		{"redis down", up, down, http.StatusServiceUnavailable, `"component":"redis"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			readyHandler(tt.db, tt.redis).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ready", nil))
			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Contains(t, rr.Body.String(), tt.wantBody)
		})
	}
}
