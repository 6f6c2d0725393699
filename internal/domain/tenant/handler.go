package tenant

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/medbridge/internal/platform/auth"
	"github.com/ehr/medbridge/pkg/apperror"
)

type Handler struct {
	dir  *Directory
	prov *Provisioner
}

func NewHandler(dir *Directory, prov *Provisioner) *Handler {
	return &Handler{dir: dir, prov: prov}
}

// RegisterPublicRoutes mounts hospital self-registration.
func (h *Handler) RegisterPublicRoutes(public *echo.Group) {
	public.POST("/tenants", h.Register)
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/tenant", h.Current)
}

func (h *Handler) Register(c echo.Context) error {
	var in Onboarding
	if err := c.Bind(&in); err != nil {
		return apperror.Validation("invalid request body")
	}
	if c.Echo().Validator != nil {
		if err := c.Validate(&in); err != nil {
			return err
		}
	}
	res, err := h.prov.Provision(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) Current(c echo.Context) error {
	p, ok := auth.PrincipalFromContext(c.Request().Context())
	if !ok {
		return apperror.Unauthorized("authentication required")
	}
	t, err := h.dir.Get(c.Request().Context(), p.TenantID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, t)
}
