package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/medbridge/pkg/apperror"
)

func serveError(t *testing.T, err error) (*httptest.ResponseRecorder, ErrorResponse) {
	t.Helper()
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/api/v1/transfers", nil), rec)
	c.Set("request_id", "req-1")

	ErrorHandler(zerolog.Nop())(err, c)

	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return rec, body
}

func TestErrorHandler_AppErrors(t *testing.T) {
	tokenUsed := apperror.New(apperror.KindToken, "token_already_used", "OTP already used")
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"token", fmt.Errorf("transfer: %w", tokenUsed), http.StatusBadRequest, "token_already_used"},
		{"not found", apperror.NotFound("patient"), http.StatusNotFound, "not_found"},
		{"conflict", apperror.Conflict("duplicate_license", "license already registered"), http.StatusConflict, "duplicate_license"},
		{"storage", apperror.Storage("transfer.insert_case", errors.New("conn reset")), http.StatusInternalServerError, "storage_failure"},
		{"echo", echo.NewHTTPError(http.StatusForbidden, "required role: DOCTOR"), http.StatusForbidden, "forbidden"},
		{"plain", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := serveError(t, tt.err)
			if rec.Code != tt.status {
				t.Errorf("expected %d, got %d", tt.status, rec.Code)
			}
			if body.Code != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, body.Code)
			}
			if body.RequestID != "req-1" {
				t.Errorf("expected request id, got %q", body.RequestID)
			}
		})
	}
}

func TestErrorHandler_StorageHidesCause(t *testing.T) {
	_, body := serveError(t, apperror.Storage("insert", errors.New("password authentication failed for user postgres")))
	if body.Message != "storage failure" {
		t.Errorf("cause leaked into message: %q", body.Message)
	}
}

func TestErrorHandler_ValidationErrors(t *testing.T) {
	type req struct {
		NationalID string `json:"national_id" validate:"required,nationalid"`
	}
	err := NewRequestValidator().Validate(&req{NationalID: "12345"})
	rec, body := serveError(t, err)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if body.Message != "national_id must be exactly 12 digits" {
		t.Errorf("unexpected message %q", body.Message)
	}
}
