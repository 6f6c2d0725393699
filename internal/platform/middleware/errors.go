package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/medbridge/pkg/apperror"
)

// ErrorResponse is the JSON body of every error reply.
type ErrorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// ErrorHandler returns an echo.HTTPErrorHandler that maps application
// errors to statuses and a uniform body. Storage and unknown errors are
// logged with their cause and reported without it.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		rid, _ := c.Get("request_id").(string)
		status, body := toResponse(err)
		body.RequestID = rid

		if status >= http.StatusInternalServerError {
			logger.Error().Err(err).
				Str("request_id", rid).
				Str("path", c.Request().URL.Path).
				Msg("request failed")
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(status)
		} else {
			werr = c.JSON(status, body)
		}
		if werr != nil {
			logger.Error().Err(werr).Msg("write error response")
		}
	}
}

func toResponse(err error) (int, ErrorResponse) {
	var ae *apperror.Error
	if errors.As(err, &ae) {
		return ae.StatusCode(), ErrorResponse{Code: ae.Code, Message: ae.Message}
	}

	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		return http.StatusBadRequest, ErrorResponse{Code: "validation_failed", Message: describeValidation(ve)}
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		if s, ok := he.Message.(string); ok {
			msg = s
		}
		return he.Code, ErrorResponse{Code: codeForStatus(he.Code), Message: msg}
	}

	return http.StatusInternalServerError, ErrorResponse{Code: "internal_error", Message: "internal server error"}
}

func describeValidation(ve validator.ValidationErrors) string {
	if len(ve) == 0 {
		return "invalid request"
	}
	fe := ve[0]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "nationalid":
		return fmt.Sprintf("%s must be exactly 12 digits", fe.Field())
	case "email":
		return fmt.Sprintf("%s must be a valid email", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param())
	case "len", "numeric":
		return fmt.Sprintf("%s has an invalid format", fe.Field())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case http.StatusRequestEntityTooLarge:
		return "payload_too_large"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusGatewayTimeout:
		return "timeout"
	default:
		if status >= 500 {
			return "internal_error"
		}
		return "error"
	}
}
