package staff

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/medbridge/internal/platform/auth"
	"github.com/ehr/medbridge/pkg/apperror"
	"github.com/ehr/medbridge/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterPublicRoutes mounts the unauthenticated account endpoints.
func (h *Handler) RegisterPublicRoutes(public *echo.Group) {
	public.POST("/auth/login", h.Login)
	public.POST("/auth/forgot-password", h.ForgotPassword)
	public.POST("/auth/reset-password", h.ResetPassword)
	public.POST("/auth/verify-email", h.VerifyEmail)
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/profile", h.GetProfile)
	api.PUT("/profile", h.UpdateProfile)
	api.PUT("/profile/password", h.ChangePassword)

	adminGroup := api.Group("", auth.RequireRole(auth.RoleAdmin))
	adminGroup.POST("/staff", h.CreateStaff)
	adminGroup.GET("/staff", h.ListStaff)
	adminGroup.PATCH("/staff/:id/status", h.SetStatus)
}

func principal(c echo.Context) (auth.Principal, error) {
	p, ok := auth.PrincipalFromContext(c.Request().Context())
	if !ok {
		return auth.Principal{}, apperror.Unauthorized("authentication required")
	}
	return p, nil
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

// -- Authentication --

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (h *Handler) Login(c echo.Context) error {
	var req loginRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := h.svc.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

type forgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

func (h *Handler) ForgotPassword(c echo.Context) error {
	var req forgotPasswordRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.svc.ForgotPassword(c.Request().Context(), req.Email); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{
		"message": "if the email is registered, a reset link has been sent",
	})
}

type resetPasswordRequest struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required,min=8"`
}

func (h *Handler) ResetPassword(c echo.Context) error {
	var req resetPasswordRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.svc.ResetPassword(c.Request().Context(), req.Token, req.Password); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "password updated"})
}

type verifyEmailRequest struct {
	Token string `json:"token" validate:"required"`
}

func (h *Handler) VerifyEmail(c echo.Context) error {
	var req verifyEmailRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.svc.VerifyEmail(c.Request().Context(), req.Token); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "email verified"})
}

// -- Profile --

func (h *Handler) GetProfile(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	u, err := h.svc.GetProfile(c.Request().Context(), p.UserID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) UpdateProfile(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var req ProfileUpdate
	if err := bind(c, &req); err != nil {
		return err
	}
	u, err := h.svc.UpdateProfile(c.Request().Context(), p.UserID, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8"`
}

func (h *Handler) ChangePassword(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var req changePasswordRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.svc.ChangePassword(c.Request().Context(), p.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Staff administration --

func (h *Handler) CreateStaff(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var req CreateStaffInput
	if err := bind(c, &req); err != nil {
		return err
	}
	u, err := h.svc.CreateStaff(c.Request().Context(), p, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, u)
}

func (h *Handler) ListStaff(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	users, total, err := h.svc.ListStaff(c.Request().Context(), p.TenantID, c.QueryParam("role"), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(users, total, pg))
}

type statusRequest struct {
	Status string `json:"status" validate:"required,oneof=ACTIVE INACTIVE"`
}

func (h *Handler) SetStatus(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperror.Validation("invalid id")
	}
	var req statusRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.svc.SetStatus(c.Request().Context(), p, id, req.Status); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"id": id.String(), "status": req.Status})
}
