package patient

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/medbridge/internal/platform/auth"
	"github.com/ehr/medbridge/internal/platform/db"
	"github.com/ehr/medbridge/pkg/apperror"
	"github.com/ehr/medbridge/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleNurse, auth.RoleReceptionist, auth.RolePharmacist))
	readGroup.GET("/patients", h.List)
	readGroup.GET("/patients/:id", h.Get)
	readGroup.GET("/patients/:id/cases", h.ListCases)

	writeGroup := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleNurse, auth.RoleReceptionist))
	writeGroup.POST("/patients", h.Create)
	writeGroup.PUT("/patients/:id", h.Update)

	clinical := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleNurse))
	clinical.POST("/patients/:id/cases", h.AddCase)
}

func partition(c echo.Context) (db.Partition, error) {
	p, ok := db.PartitionFromContext(c.Request().Context())
	if !ok {
		return db.Partition{}, apperror.Unauthorized("tenant not resolved")
	}
	return p, nil
}

func caller(c echo.Context) auth.Principal {
	p, _ := auth.PrincipalFromContext(c.Request().Context())
	return p
}

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperror.Validation("invalid patient id")
	}
	return id, nil
}

func bind(c echo.Context, dst interface{}) error {
	if err := c.Bind(dst); err != nil {
		return apperror.Validation("invalid request body")
	}
	if c.Echo().Validator != nil {
		if err := c.Validate(dst); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) Create(c echo.Context) error {
	p, err := partition(c)
	if err != nil {
		return err
	}
	var in CreateInput
	if err := bind(c, &in); err != nil {
		return err
	}
	pt, err := h.svc.Create(c.Request().Context(), p, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, pt)
}

func (h *Handler) List(c echo.Context) error {
	p, err := partition(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	f := Filter{
		Search:     c.QueryParam("search"),
		NationalID: c.QueryParam("national_id"),
		Phone:      c.QueryParam("phone"),
		Limit:      pg.Limit,
		Offset:     pg.Offset,
	}
	patients, total, err := h.svc.List(c.Request().Context(), p, caller(c), f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(patients, total, pg))
}

func (h *Handler) Get(c echo.Context) error {
	p, err := partition(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	detail, err := h.svc.Get(c.Request().Context(), p, caller(c), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, detail)
}

func (h *Handler) Update(c echo.Context) error {
	p, err := partition(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var patch Patch
	if err := bind(c, &patch); err != nil {
		return err
	}
	pt, err := h.svc.Update(c.Request().Context(), p, caller(c), id, patch)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pt)
}

func (h *Handler) AddCase(c echo.Context) error {
	p, err := partition(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var in CaseInput
	if err := bind(c, &in); err != nil {
		return err
	}
	cs, err := h.svc.AddCase(c.Request().Context(), p, caller(c), id, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, cs)
}

func (h *Handler) ListCases(c echo.Context) error {
	p, err := partition(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	cases, err := h.svc.ListCases(c.Request().Context(), p, caller(c), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": cases})
}
