package transfer

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
	g := api.Group("/transfers", auth.RequireRole(auth.RoleDoctor))
	g.POST("/search", h.Search)
	g.POST("/consent", h.RequestConsent)
	g.POST("", h.Submit)
}

func scope(c echo.Context) (auth.Principal, db.Partition, error) {
	ctx := c.Request().Context()
	p, ok := auth.PrincipalFromContext(ctx)
	if !ok {
		return auth.Principal{}, db.Partition{}, apperror.Unauthorized("authentication required")
	}
	part, ok := db.PartitionFromContext(ctx)
	if !ok {
		return auth.Principal{}, db.Partition{}, apperror.Unauthorized("tenant not resolved")
	}
	return p, part, nil
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

type searchRequest struct {
	NationalID string `json:"national_id" validate:"required,nationalid"`
}

func (h *Handler) Search(c echo.Context) error {
	_, part, err := scope(c)
	if err != nil {
		return err
	}
	var req searchRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	matches, err := h.svc.Search(c.Request().Context(), part, req.NationalID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": matches})
}

type consentRequest struct {
	EntryID uuid.UUID `json:"entry_id" validate:"required"`
}

func (h *Handler) RequestConsent(c echo.Context) error {
	principal, part, err := scope(c)
	if err != nil {
		return err
	}
	var req consentRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := h.svc.RequestConsent(c.Request().Context(), principal, part, req.EntryID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) Submit(c echo.Context) error {
	principal, _, err := scope(c)
	if err != nil {
		return err
	}
	var sub Submission
	if err := bind(c, &sub); err != nil {
		return err
	}
	patientID, err := h.svc.Submit(c.Request().Context(), principal, sub)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"patient_id": patientID,
		"message":    "patient record transferred",
	})
}
