package consultation

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/weightcare/portal/internal/domain/triage"
	"github.com/weightcare/portal/internal/platform/auth"
	"github.com/weightcare/portal/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/consultations")
	g.POST("", h.Create)
	g.GET("/:id", h.Get)
	g.GET("", h.List, auth.RequireRole(auth.RolePharmacist))
}

type createRequest struct {
	// PatientID is honoured only for admins; patients always create for
	// themselves.
	PatientID         string                     `json:"patient_id"`
	Answers           map[string]json.RawMessage `json:"answers"`
	CheckoutSessionID string                     `json:"checkout_session_id"`
	PaymentIntentID   string                     `json:"payment_intent_id"`
}

func (h *Handler) Create(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	subject := auth.UserIDFromContext(ctx)
	if req.PatientID != "" && auth.HasRole(auth.RolesFromContext(ctx), auth.RoleAdmin) {
		subject = req.PatientID
	}
	patientID, err := uuid.Parse(subject)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}

	cons, err := h.svc.Intake(ctx, IntakeRequest{
		PatientID:         patientID,
		Answers:           req.Answers,
		CheckoutSessionID: req.CheckoutSessionID,
		PaymentIntentID:   req.PaymentIntentID,
	})
	if err != nil {
		var inelig *IneligibleError
		var verr *triage.ValidationError
		switch {
		case errors.As(err, &inelig):
			return echo.NewHTTPError(http.StatusUnprocessableEntity, map[string]string{"error": inelig.Message})
		case errors.As(err, &verr):
			return echo.NewHTTPError(http.StatusUnprocessableEntity, map[string]string{
				"error":       verr.Message,
				"question_id": verr.QuestionID,
			})
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, cons)
}

// Get returns a consultation to its patient or to clinical staff.
func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	cons, err := h.svc.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "consultation not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !auth.HasRole(auth.RolesFromContext(ctx), auth.RolePharmacist) &&
		cons.PatientID.String() != auth.UserIDFromContext(ctx) {
		return echo.NewHTTPError(http.StatusNotFound, "consultation not found")
	}
	return c.JSON(http.StatusOK, cons)
}

// List is the pharmacist review queue, oldest first.
func (h *Handler) List(c echo.Context) error {
	p := pagination.FromContext(c)
	f := Filter{Status: Status(c.QueryParam("status"))}
	if pid := c.QueryParam("patient_id"); pid != "" {
		id, err := uuid.Parse(pid)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		f.PatientID = &id
	}

	items, total, err := h.svc.List(c.Request().Context(), f, p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if items == nil {
		items = []*Consultation{}
	}
	filters := c.QueryParams()
	filters.Del("limit")
	filters.Del("offset")
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset).
		WithLinks(c.Request().URL.Path, filters))
}
