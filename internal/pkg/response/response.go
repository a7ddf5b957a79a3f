// Package response writes the JSON envelope shared by all media API endpoints.
package response

import (
	"encoding/json"
	"log/slog"
	"net/http"

	apierrors "github.com/testforge/backend/internal/pkg/errors"
)

// Response is the envelope: exactly one of Data or Error is set.
type Response struct {
	Data  any                 `json:"data,omitempty"`
	Error *apierrors.APIError `json:"error,omitempty"`
}

// JSON writes data in the envelope with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	write(w, status, Response{Data: data})
}

// OK writes a 200 OK response.
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, data)
}

// Created writes a 201 Created response.
func Created(w http.ResponseWriter, data any) {
	JSON(w, http.StatusCreated, data)
}

// NoContent writes a 204 No Content response.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// Error writes err as an API error. Errors that map to a 5xx status are
// logged with their cause, since the client only sees the generic message.
func Error(w http.ResponseWriter, err error) {
	apiErr := apierrors.AsAPIError(err)
	if apiErr.StatusCode >= http.StatusInternalServerError {
		slog.Error("request failed",
			slog.String("code", apiErr.Code),
			slog.Int("status", apiErr.StatusCode),
			slog.String("error", err.Error()),
		)
	}
	write(w, apiErr.StatusCode, Response{Error: apiErr})
}

func write(w http.ResponseWriter, status int, body Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}
