package middleware

import (
	"fmt"
	"runtime"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/medbridge/internal/platform/metrics"
	"github.com/ehr/medbridge/pkg/apperror"
)

const maxStack = 8 << 10

// Recovery turns a handler panic into a 500. The log line carries the
// tenant scope so a crash can be traced to a hospital.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				buf := make([]byte, maxStack)
				buf = buf[:runtime.Stack(buf, false)]

				metrics.PanicsRecovered.Inc()
				evt := logger.Error().
					Str("path", c.Request().URL.Path).
					Str("panic", fmt.Sprint(r)).
					Bytes("stack", buf)
				for _, key := range []string{"request_id", "tenant_id", "partition"} {
					if v, ok := c.Get(key).(string); ok {
						evt = evt.Str(key, v)
					}
				}
				evt.Msg("panic recovered")

				err = apperror.New(apperror.KindInternal, "internal_error", "internal server error")
			}()
			return next(c)
		}
	}
}
