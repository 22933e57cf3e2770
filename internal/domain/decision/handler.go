package decision

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

const (
	allowOrigin  = "*"
	allowHeaders = "authorization, x-client-info, apikey, content-type"
)

type Handler struct {
	reconciler *Reconciler
}

func NewHandler(r *Reconciler) *Handler {
	return &Handler{reconciler: r}
}

// RegisterRoutes mounts the clinical decision function. mw guards POST only so
// that CORS preflight stays anonymous.
func (h *Handler) RegisterRoutes(e *echo.Echo, mw ...echo.MiddlewareFunc) {
	g := e.Group("/functions/v1", corsHeaders)
	g.OPTIONS("/clinical-decision", h.Preflight)
	g.POST("/clinical-decision", h.Decide, mw...)
}

func corsHeaders(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		h := c.Response().Header()
		h.Set(echo.HeaderAccessControlAllowOrigin, allowOrigin)
		h.Set(echo.HeaderAccessControlAllowHeaders, allowHeaders)
		return next(c)
	}
}

func (h *Handler) Preflight(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

type errorResponse struct {
	Error string `json:"error"`
}

type successResponse struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
}

// Decide applies a pharmacist decision. Every failure is reported as 400 with
// an {error} body.
func (h *Handler) Decide(c echo.Context) error {
	var req Request
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "Invalid request body"})
	}

	res, err := h.reconciler.Reconcile(c.Request().Context(), req)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, successResponse{Success: true, Status: string(res.Status)})
}
