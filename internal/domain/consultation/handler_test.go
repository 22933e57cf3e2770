package consultation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/weightcare/portal/internal/platform/auth"
)

func newTestHandler() (*Handler, *mockRepo, *echo.Echo) {
	svc, repo := newTestService()
	return NewHandler(svc), repo, echo.New()
}

func withUser(req *http.Request, id string, roles ...string) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), id, "", roles))
}

func intakeBody(t *testing.T, answers map[string]json.RawMessage, extra map[string]string) string {
	t.Helper()
	body := map[string]interface{}{"answers": answers, "checkout_session_id": "cs_test_1"}
	for k, v := range extra {
		body[k] = v
	}
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(b)
}

func TestHandler_Create(t *testing.T) {
	h, repo, e := newTestHandler()
	pid := uuid.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/consultations", strings.NewReader(intakeBody(t, eligibleAnswersJSON(), nil)))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = withUser(req, pid.String(), auth.RolePatient)
	rec := httptest.NewRecorder()

	if err := h.Create(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var c Consultation
	json.Unmarshal(rec.Body.Bytes(), &c)
	if c.PatientID != pid || c.Status != StatusPendingReview {
		t.Errorf("unexpected consultation %+v", c)
	}
	if len(repo.items) != 1 {
		t.Errorf("expected one stored consultation, got %d", len(repo.items))
	}
}

func TestHandler_Create_PatientCannotActForOthers(t *testing.T) {
	h, _, e := newTestHandler()
	self := uuid.New()
	other := uuid.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/consultations",
		strings.NewReader(intakeBody(t, eligibleAnswersJSON(), map[string]string{"patient_id": other.String()})))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = withUser(req, self.String(), auth.RolePatient)
	rec := httptest.NewRecorder()

	if err := h.Create(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var c Consultation
	json.Unmarshal(rec.Body.Bytes(), &c)
	if c.PatientID != self {
		t.Errorf("expected consultation for caller, got %s", c.PatientID)
	}
}

func TestHandler_Create_Ineligible(t *testing.T) {
	h, _, e := newTestHandler()
	answers := eligibleAnswersJSON()
	answers["critical_conditions"] = json.RawMessage(`["Pancreatitis"]`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/consultations", strings.NewReader(intakeBody(t, answers, nil)))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = withUser(req, uuid.New().String(), auth.RolePatient)

	err := h.Create(e.NewContext(req, httptest.NewRecorder()))
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %v", err)
	}
}

func TestHandler_Get_OwnerOnly(t *testing.T) {
	h, repo, e := newTestHandler()
	owner := uuid.New()
	c := &Consultation{PatientID: owner, Status: StatusPendingReview}
	repo.Create(context.Background(), c)

	get := func(user string, roles ...string) (*httptest.ResponseRecorder, error) {
		req := withUser(httptest.NewRequest(http.MethodGet, "/", nil), user, roles...)
		rec := httptest.NewRecorder()
		ctx := e.NewContext(req, rec)
		ctx.SetParamNames("id")
		ctx.SetParamValues(c.ID.String())
		return rec, h.Get(ctx)
	}

	if rec, err := get(owner.String(), auth.RolePatient); err != nil || rec.Code != http.StatusOK {
		t.Fatalf("owner should see consultation, got %v", err)
	}
	if _, err := get(uuid.New().String(), auth.RolePharmacist); err != nil {
		t.Fatalf("pharmacist should see consultation, got %v", err)
	}
	_, err := get(uuid.New().String(), auth.RolePatient)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for another patient, got %v", err)
	}
}

func TestHandler_List_ByStatus(t *testing.T) {
	h, repo, e := newTestHandler()
	for i := 0; i < 3; i++ {
		repo.Create(context.Background(), &Consultation{PatientID: uuid.New(), Status: StatusPendingReview})
	}
	repo.Create(context.Background(), &Consultation{PatientID: uuid.New(), Status: StatusActive})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/consultations?status=pending_review&limit=2", nil)
	rec := httptest.NewRecorder()
	if err := h.List(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var body struct {
		Data  []Consultation `json:"data"`
		Total int            `json:"total"`
		Links struct {
			Next string `json:"next"`
		} `json:"links"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Total != 3 || len(body.Data) != 2 {
		t.Errorf("unexpected page total=%d len=%d", body.Total, len(body.Data))
	}
	if !strings.Contains(body.Links.Next, "status=pending_review") || !strings.Contains(body.Links.Next, "offset=2") {
		t.Errorf("unexpected next link %q", body.Links.Next)
	}
}
