package triage

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func newTestHandler() (*Handler, *echo.Echo) {
	e := echo.New()
	return NewHandler(newTestEngine()), e
}

func postJSON(e *echo.Echo, path, body string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestHandler_GetSchema(t *testing.T) {
	h, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/triage/schema", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.GetSchema(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Questions []Question `json:"questions"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if len(body.Questions) != 10 {
		t.Errorf("expected 10 questions, got %d", len(body.Questions))
	}
}

func TestHandler_AdvanceNext(t *testing.T) {
	h, e := newTestHandler()
	c, rec := postJSON(e, "/triage/advance", `{"session":{"step":0,"answers":{"motivation":["health"]}}}`)

	if err := h.Advance(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	var result struct {
		Next *struct {
			Step int `json:"step"`
		} `json:"next"`
	}
	json.Unmarshal(raw["result"], &result)
	if result.Next == nil || result.Next.Step != 1 {
		t.Errorf("expected next step 1, got %s", raw["result"])
	}
}

func TestHandler_AdvanceTerminate(t *testing.T) {
	h, e := newTestHandler()
	c, rec := postJSON(e, "/triage/advance",
		`{"session":{"step":2,"answers":{"motivation":["health"],"height_cm":175,"weight_kg":"70"}}}`)

	if err := h.Advance(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var raw map[string]json.RawMessage
	json.Unmarshal(rec.Body.Bytes(), &raw)
	var result struct {
		Terminate *struct {
			Message string `json:"message"`
		} `json:"terminate"`
	}
	json.Unmarshal(raw["result"], &result)
	if result.Terminate == nil || result.Terminate.Message != BMIIneligibleMessage {
		t.Errorf("expected BMI termination, got %s", raw["result"])
	}
}

func TestHandler_AdvanceValidationError(t *testing.T) {
	h, e := newTestHandler()
	c, _ := postJSON(e, "/triage/advance", `{"session":{"step":0,"answers":{"motivation":[]}}}`)

	err := h.Advance(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected HTTP error, got %v", err)
	}
	if he.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", he.Code)
	}
}

func TestHandler_AnswerUnknownQuestion(t *testing.T) {
	h, e := newTestHandler()
	c, _ := postJSON(e, "/triage/answer", `{"session":{"step":0,"answers":{}},"question_id":"nope","answer":"x"}`)

	err := h.Answer(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestHandler_Answer(t *testing.T) {
	h, e := newTestHandler()
	c, rec := postJSON(e, "/triage/answer", `{"session":{"step":0,"answers":{}},"question_id":"motivation","answer":["health","energy"]}`)

	if err := h.Answer(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Session struct {
			Answers map[string][]string `json:"answers"`
		} `json:"session"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Session.Answers["motivation"]) != 2 {
		t.Errorf("expected two motivations, got %v", body.Session.Answers)
	}
}

func TestHandler_EvaluateComplete(t *testing.T) {
	h, e := newTestHandler()
	c, rec := postJSON(e, "/triage/evaluate", `{"answers":{
		"motivation":["health"],
		"height_cm":175,
		"weight_kg":95,
		"biological_sex":"male",
		"critical_conditions":["none"],
		"comorbidities":[],
		"current_medications":{"value":"no"},
		"medication_preference":"mounjaro",
		"consent":{"accurate_information":true,"treatment_risks":true,"pharmacist_contact":true,"terms_privacy":true}
	}}`)

	if err := h.Evaluate(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var raw map[string]json.RawMessage
	json.Unmarshal(rec.Body.Bytes(), &raw)
	var result struct {
		Complete *struct {
			Payload PatientData `json:"payload"`
		} `json:"complete"`
	}
	json.Unmarshal(raw["result"], &result)
	if result.Complete == nil {
		t.Fatalf("expected completion, got %s", raw["result"])
	}
	if p := result.Complete.Payload.MedicationPreference; p == nil || *p != "mounjaro" {
		t.Errorf("unexpected medication preference %v", p)
	}
}

func TestHandler_BackOnTerminalSession(t *testing.T) {
	h, e := newTestHandler()
	c, _ := postJSON(e, "/triage/back", `{"session":{"step":3,"answers":{},"outcome":"rejected","message":"no"}}`)

	err := h.Back(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %v", err)
	}
}
