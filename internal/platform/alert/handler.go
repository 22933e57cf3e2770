package alert

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/weightcare/portal/internal/platform/auth"
	"github.com/weightcare/portal/pkg/pagination"
)

// Store is the read/resolve side of the alert table.
type Store interface {
	ListOpen(ctx context.Context, limit, offset int) ([]*Alert, int, error)
	Resolve(ctx context.Context, id uuid.UUID) (*Alert, error)
}

type Handler struct {
	store Store
}

func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/alerts", auth.RequireRole(auth.RoleAdmin))
	g.GET("", h.ListOpen)
	g.POST("/:id/resolve", h.Resolve)
}

func (h *Handler) ListOpen(c echo.Context) error {
	p := pagination.FromContext(c)
	alerts, total, err := h.store.ListOpen(c.Request().Context(), p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if alerts == nil {
		alerts = []*Alert{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(alerts, total, p.Limit, p.Offset).
		WithLinks(c.Request().URL.Path, nil))
}

func (h *Handler) Resolve(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	a, err := h.store.Resolve(c.Request().Context(), id)
	if errors.Is(err, ErrAlertNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "alert not found or already resolved")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, a)
}
