package identity

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/weightcare/portal/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/me", h.Me)
}

type meResponse struct {
	ID    string   `json:"id"`
	Email string   `json:"email"`
	Roles []string `json:"roles"`
}

// Me returns the caller's identity. The directory email wins over the token
// claim when both exist.
func (h *Handler) Me(c echo.Context) error {
	ctx := c.Request().Context()
	uid := auth.UserIDFromContext(ctx)
	resp := meResponse{ID: uid, Email: auth.EmailFromContext(ctx), Roles: auth.RolesFromContext(ctx)}

	id, err := uuid.Parse(uid)
	if err != nil {
		return c.JSON(http.StatusOK, resp)
	}
	p, err := h.svc.GetPatient(ctx, id)
	switch {
	case err == nil:
		if p.Email != "" {
			resp.Email = p.Email
		}
	case errors.Is(err, ErrPatientNotFound):
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, resp)
}
