package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/medbridge/internal/platform/auth"
)

// Audit logs every access to patient data and every consent or transfer
// action: who, which tenant, which route, and the outcome.
func Audit(logger zerolog.Logger) echo.MiddlewareFunc {
	logger = logger.With().Str("component", "audit").Logger()
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)

			route := c.Path()
			if !isAudited(route) {
				return err
			}

			status := c.Response().Status
			if err != nil {
				status = statusOf(err)
			}

			evt := logger.Info().
				Time("at", time.Now().UTC()).
				Str("action", actionFor(c.Request().Method, route)).
				Str("route", route).
				Str("request_id", stringValue(c.Get("request_id"))).
				Int("status", status)
			if p, ok := auth.PrincipalFromContext(c.Request().Context()); ok {
				evt = evt.Str("user_id", p.UserID.String()).
					Str("tenant_id", p.TenantID.String()).
					Str("role", p.Role)
			}
			if id := c.Param("id"); id != "" {
				evt = evt.Str("resource_id", id)
			}
			evt.Msg("phi access")

			return err
		}
	}
}

func isAudited(route string) bool {
	return strings.Contains(route, "/patients") ||
		strings.Contains(route, "/prescriptions") ||
		strings.Contains(route, "/transfers")
}

func actionFor(method, route string) string {
	switch {
	case strings.HasSuffix(route, "/search"):
		return "search"
	case strings.HasSuffix(route, "/consent"):
		return "consent_request"
	case strings.HasSuffix(route, "/transfers"):
		return "transfer"
	}
	switch method {
	case http.MethodGet:
		return "read"
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	}
	return strings.ToLower(method)
}

func stringValue(v interface{}) string {
	s, _ := v.(string)
	return s
}
