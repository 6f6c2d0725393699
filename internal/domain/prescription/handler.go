package prescription

import (
	"net/http"

	"github.com/google/uuid"
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
	readGroup := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleNurse, auth.RolePharmacist))
	readGroup.GET("/patients/:id/prescriptions", h.ListByPatient)
	readGroup.GET("/prescriptions/:id", h.Get)

	writeGroup := api.Group("", auth.RequireRole(auth.RoleDoctor))
	writeGroup.POST("/patients/:id/prescriptions", h.Create)
	writeGroup.PUT("/prescriptions/:id", h.Update)
	writeGroup.DELETE("/prescriptions/:id", h.Delete)
}

func scope(c echo.Context) (db.Partition, uuid.UUID, error) {
	p, ok := db.PartitionFromContext(c.Request().Context())
	if !ok {
		return db.Partition{}, uuid.Nil, apperror.Unauthorized("tenant not resolved")
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return db.Partition{}, uuid.Nil, apperror.Validation("invalid id")
	}
	return p, id, nil
}

func bindInput(c echo.Context) (Input, error) {
	var in Input
	if err := c.Bind(&in); err != nil {
		return in, apperror.Validation("invalid request body")
	}
	if c.Echo().Validator != nil {
		if err := c.Validate(&in); err != nil {
			return in, err
		}
	}
	return in, nil
}

func (h *Handler) Create(c echo.Context) error {
	p, patientID, err := scope(c)
	if err != nil {
		return err
	}
	in, err := bindInput(c)
	if err != nil {
		return err
	}
	principal, _ := auth.PrincipalFromContext(c.Request().Context())
	rx, err := h.svc.Create(c.Request().Context(), p, patientID, principal.UserID, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, rx)
}

func (h *Handler) ListByPatient(c echo.Context) error {
	p, patientID, err := scope(c)
	if err != nil {
		return err
	}
	rxs, err := h.svc.ListByPatient(c.Request().Context(), p, patientID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": rxs})
}

func (h *Handler) Get(c echo.Context) error {
	p, id, err := scope(c)
	if err != nil {
		return err
	}
	rx, err := h.svc.Get(c.Request().Context(), p, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rx)
}

func (h *Handler) Update(c echo.Context) error {
	p, id, err := scope(c)
	if err != nil {
		return err
	}
	in, err := bindInput(c)
	if err != nil {
		return err
	}
	rx, err := h.svc.Update(c.Request().Context(), p, id, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rx)
}

func (h *Handler) Delete(c echo.Context) error {
	p, id, err := scope(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), p, id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
