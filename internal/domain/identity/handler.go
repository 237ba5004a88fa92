package identity

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/telecare/telecare/internal/platform/auth"
	"github.com/telecare/telecare/internal/platform/response"
	"github.com/telecare/telecare/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/doctors", h.ListDoctors)
	api.GET("/doctors/:id", h.GetDoctor)

	admin := api.Group("/users", auth.RequireRole(auth.RoleAdmin))
	admin.POST("", h.CreateUser)
	admin.GET("/:id", h.GetUser)
}

type createUserRequest struct {
	Name            string  `json:"name" validate:"required,min=2,max=100"`
	Email           string  `json:"email" validate:"required,email"`
	Phone           string  `json:"phone" validate:"omitempty,max=20"`
	Role            string  `json:"role" validate:"required,oneof=patient doctor admin"`
	IsVerified      bool    `json:"isVerified"`
	Specialization  string  `json:"specialization" validate:"required_if=Role doctor"`
	ConsultationFee float64 `json:"consultationFee" validate:"gte=0"`
}

func (h *Handler) CreateUser(c echo.Context) error {
	var req createUserRequest
	if err := response.BindAndValidate(c, &req); err != nil {
		return err
	}
	u := &User{
		Name:            req.Name,
		Email:           req.Email,
		Phone:           req.Phone,
		Role:            req.Role,
		IsVerified:      req.IsVerified,
		IsActive:        true,
		Specialization:  req.Specialization,
		ConsultationFee: decimalFromFloat(req.ConsultationFee),
	}
	if err := h.svc.CreateUser(c.Request().Context(), u); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return response.Created(c, "User created", u)
}

func (h *Handler) GetUser(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	u, err := h.svc.GetUser(c.Request().Context(), id)
	if err != nil {
		return notFoundOr(err, "User not found")
	}
	return response.OK(c, "", u)
}

func (h *Handler) ListDoctors(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := DoctorFilter{Specialization: c.QueryParam("specialization")}
	items, total, err := h.svc.ListDoctors(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list doctors")
	}
	if items == nil {
		items = []*User{}
	}
	return response.OK(c, "", map[string]interface{}{
		"doctors":    items,
		"pagination": pagination.NewMeta(pg, total),
	})
}

func (h *Handler) GetDoctor(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	u, err := h.svc.GetDoctor(c.Request().Context(), id)
	if err != nil {
		return notFoundOr(err, "Doctor not found")
	}
	return response.OK(c, "", u)
}

func notFoundOr(err error, msg string) error {
	if errors.Is(err, ErrUserNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, msg)
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
