package dashboard

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/medbridge/internal/platform/auth"
	"github.com/ehr/medbridge/internal/platform/db"
	"github.com/ehr/medbridge/pkg/apperror"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/dashboard", h.Get)
}

func (h *Handler) Get(c echo.Context) error {
	ctx := c.Request().Context()
	principal, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return apperror.Unauthorized("authentication required")
	}
	p, ok := db.PartitionFromContext(ctx)
	if !ok {
		return apperror.Unauthorized("tenant not resolved")
	}
	sum, err := h.svc.Summary(ctx, p, principal.TenantID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sum)
}
