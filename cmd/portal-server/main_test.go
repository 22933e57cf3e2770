package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/weightcare/portal/internal/config"
	"github.com/weightcare/portal/internal/platform/notification"
)

const eligibleAnswers = `{
	"motivation":["health"],
	"height_cm":175,
	"weight_kg":95,
	"biological_sex":"male",
	"critical_conditions":["none"],
	"comorbidities":[],
	"current_medications":{"value":"no"},
	"medication_preference":"wegovy",
	"consent":{"accurate_information":true,"treatment_risks":true,"pharmacist_contact":true,"terms_privacy":true}
}`

func decodeEvaluation(t *testing.T, b []byte) map[string]json.RawMessage {
	t.Helper()
	var out map[string]json.RawMessage
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("decode output: %v\n%s", err, b)
	}
	return out
}

func TestEvaluateAnswers_Complete(t *testing.T) {
	var buf bytes.Buffer
	if err := evaluateAnswers(strings.NewReader(eligibleAnswers), &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := decodeEvaluation(t, buf.Bytes())
	if !strings.Contains(string(out["result"]), `"complete"`) {
		t.Errorf("expected complete result, got %s", out["result"])
	}
	if _, ok := out["error"]; ok {
		t.Errorf("unexpected error field: %s", out["error"])
	}
}

func TestEvaluateAnswers_BMITooLow(t *testing.T) {
	var buf bytes.Buffer
	in := `{"motivation":["health"],"height_cm":175,"weight_kg":70}`
	if err := evaluateAnswers(strings.NewReader(in), &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := decodeEvaluation(t, buf.Bytes())
	if !strings.Contains(string(out["result"]), `"terminate"`) {
		t.Errorf("expected terminate result, got %s", out["result"])
	}
}

func TestEvaluateAnswers_ValidationReported(t *testing.T) {
	var buf bytes.Buffer
	if err := evaluateAnswers(strings.NewReader(`{"motivation":[]}`), &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := decodeEvaluation(t, buf.Bytes())
	if string(out["question_id"]) != `"motivation"` {
		t.Errorf("expected motivation to be reported, got %s", out["question_id"])
	}
	if _, ok := out["result"]; ok {
		t.Error("result should be omitted on validation failure")
	}
}

func TestEvaluateAnswers_BadInput(t *testing.T) {
	var buf bytes.Buffer
	if err := evaluateAnswers(strings.NewReader(`not json`), &buf); err == nil {
		t.Error("expected decode error")
	}
	if err := evaluateAnswers(strings.NewReader(`{"shoe_size":42}`), &buf); err == nil {
		t.Error("expected unknown question error")
	}
}

func TestNewEmailSender(t *testing.T) {
	logger := zerolog.Nop()

	if _, ok := newEmailSender(&config.Config{}, logger).(notification.LogEmailSender); !ok {
		t.Error("expected log sender without an API key")
	}

	cfg := &config.Config{SendGridAPIKey: "SG.test", SendGridAPIHost: "http://localhost", EmailFrom: "a@b.c"}
	if _, ok := newEmailSender(cfg, logger).(*notification.SendGridSender); !ok {
		t.Error("expected SendGrid sender with an API key")
	}
}

func TestMigrationFS(t *testing.T) {
	if migrationFS("") == nil {
		t.Fatal("expected embedded migrations")
	}
	dir := t.TempDir()
	if migrationFS(dir) == nil {
		t.Fatal("expected directory filesystem")
	}
}
