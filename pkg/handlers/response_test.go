package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/chemforge-inc/chemforge-engine/pkg/apperrors"
	"github.com/chemforge-inc/chemforge-engine/pkg/identity"
)

func TestErrorResponse(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		message    string
		details    string
	}{
		{"bad request", http.StatusBadRequest, "Missing required parameter: id", ""},
		{"not found", http.StatusNotFound, "not found", ""},
		{"internal error", http.StatusInternalServerError, "Failed to create company", "upstream said no"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()

			if err := ErrorResponse(w, tt.statusCode, tt.message, tt.details); err != nil {
				t.Fatalf("ErrorResponse returned error: %v", err)
			}

			resp := w.Result()
			defer resp.Body.Close()

			if resp.StatusCode != tt.statusCode {
				t.Errorf("status code = %d, want %d", resp.StatusCode, tt.statusCode)
			}
			if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want %q", ct, "application/json")
			}

			var body map[string]any
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode response body: %v", err)
			}
			if body["success"] != false {
				t.Errorf("body[success] = %v, want false", body["success"])
			}
			if body["error"] != tt.message {
				t.Errorf("body[error] = %q, want %q", body["error"], tt.message)
			}
			if _, has := body["details"]; has != (tt.details != "") {
				t.Errorf("details present = %v, want %v", has, tt.details != "")
			}
			if _, has := body["data"]; has {
				t.Error("error envelope must not carry data")
			}
		})
	}
}

func TestSuccessResponse(t *testing.T) {
	w := httptest.NewRecorder()

	if err := SuccessResponse(w, http.StatusCreated, map[string]string{"id": "1"}); err != nil {
		t.Fatalf("SuccessResponse returned error: %v", err)
	}
	if w.Code != http.StatusCreated {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusCreated)
	}

	var body struct {
		Success bool              `json:"success"`
		Data    map[string]string `json:"data"`
		Error   *string           `json:"error"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if !body.Success || body.Data["id"] != "1" || body.Error != nil {
		t.Errorf("unexpected envelope: %+v", body)
	}
}

func TestWriteJSON_Status200(t *testing.T) {
	w := httptest.NewRecorder()

	if err := WriteJSON(w, http.StatusOK, map[string]string{"key": "value"}); err != nil {
		t.Fatalf("WriteJSON returned error: %v", err)
	}
	if w.Code != http.StatusOK {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: bad", apperrors.ErrInvalidRequest), http.StatusBadRequest},
		{apperrors.ErrInvalidIdentifier, http.StatusBadRequest},
		{identity.ErrInvalidCredentials, http.StatusUnauthorized},
		{apperrors.ErrTenantSuspended, http.StatusForbidden},
		{fmt.Errorf("company x: %w", apperrors.ErrNotFound), http.StatusNotFound},
		{apperrors.ErrTenantNotProvisioned, http.StatusNotFound},
		{apperrors.ErrConflict, http.StatusConflict},
		{apperrors.ErrDeploymentFailed, http.StatusInternalServerError},
		{apperrors.ErrUpstreamUnavailable, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
