package notification

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/telecare/telecare/internal/platform/auth"
	"github.com/telecare/telecare/internal/platform/response"
)

// Handler exposes the delivery record to administrators.
type Handler struct {
	manager *Manager
}

func NewHandler(mgr *Manager) *Handler {
	return &Handler{manager: mgr}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/notifications", auth.RequireRole(auth.RoleAdmin))
	g.GET("/stats", h.Stats)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.POST("/:id/retry", h.Retry)
}

func (h *Handler) Stats(c echo.Context) error {
	return response.OK(c, "", h.manager.Stats(c.Request().Context()))
}

func (h *Handler) List(c echo.Context) error {
	recipient := c.QueryParam("recipient")
	if recipient == "" {
		return response.NewValidationError("recipient", "is required")
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	return response.OK(c, "", h.manager.ListByRecipient(c.Request().Context(), recipient, limit))
}

func (h *Handler) Get(c echo.Context) error {
	n, err := h.manager.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "Notification not found")
	}
	return response.OK(c, "", n)
}

func (h *Handler) Retry(c echo.Context) error {
	ctx := c.Request().Context()
	if err := h.manager.Retry(ctx, c.Param("id")); err != nil {
		n, getErr := h.manager.Get(ctx, c.Param("id"))
		if getErr != nil {
			return echo.NewHTTPError(http.StatusNotFound, "Notification not found")
		}
		if n.Status != StatusFailed {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadGateway, "Delivery failed again")
	}
	n, _ := h.manager.Get(ctx, c.Param("id"))
	return response.OK(c, "Notification sent", n)
}
