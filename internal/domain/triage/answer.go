package triage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Answer is the value recorded for one question. The concrete type is fixed by
// the question type:
//
//	single_select, yes_no              -> ScalarAnswer
//	multi_select, exclusive_checkbox   -> ChoiceAnswer
//	numeric                            -> NumericAnswer
//	yes_no_detail                      -> DetailAnswer
//	consent_checklist                  -> ConsentAnswer
type Answer interface {
	isAnswer()
}

type ScalarAnswer string

type ChoiceAnswer []string

// NumericAnswer keeps the text the user entered; it is parsed on demand so an
// unparseable entry can still be stored and reported as invalid.
type NumericAnswer string

type DetailAnswer struct {
	Value  string `json:"value"`
	Detail string `json:"detail,omitempty"`
}

type ConsentAnswer map[string]bool

func (ScalarAnswer) isAnswer()  {}
func (ChoiceAnswer) isAnswer()  {}
func (NumericAnswer) isAnswer() {}
func (DetailAnswer) isAnswer()  {}
func (ConsentAnswer) isAnswer() {}

// Float parses the numeric answer. NaN and infinities do not parse.
func (n NumericAnswer) Float() (float64, bool) {
	s := strings.TrimSpace(string(n))
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// MarshalJSON emits parseable values as JSON numbers and everything else as a string.
func (n NumericAnswer) MarshalJSON() ([]byte, error) {
	if f, ok := n.Float(); ok {
		return json.Marshal(f)
	}
	return json.Marshal(string(n))
}

// AnswerSet maps question id to its answer.
type AnswerSet map[string]Answer

// Clone returns a shallow copy. Answers are replaced wholesale, never mutated,
// so sharing the values is safe.
func (a AnswerSet) Clone() AnswerSet {
	out := make(AnswerSet, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// DecodeAnswer decodes raw JSON into the Answer variant required by q.Type.
// JSON null decodes to a nil Answer.
func DecodeAnswer(q Question, raw json.RawMessage) (Answer, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	switch q.Type {
	case TypeSingleSelect:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("question %s: expected a string: %w", q.ID, err)
		}
		return ScalarAnswer(s), nil

	case TypeYesNo:
		var b bool
		if err := json.Unmarshal(raw, &b); err == nil {
			if b {
				return ScalarAnswer("yes"), nil
			}
			return ScalarAnswer("no"), nil
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("question %s: expected yes/no: %w", q.ID, err)
		}
		return ScalarAnswer(s), nil

	case TypeMultiSelect, TypeExclusiveCheckbox:
		var vals []string
		if err := json.Unmarshal(raw, &vals); err != nil {
			return nil, fmt.Errorf("question %s: expected a list of strings: %w", q.ID, err)
		}
		return ChoiceAnswer(vals), nil

	case TypeNumeric:
		if raw[0] == '"' {
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return nil, fmt.Errorf("question %s: %w", q.ID, err)
			}
			return NumericAnswer(s), nil
		}
		return NumericAnswer(string(raw)), nil

	case TypeYesNoDetail:
		var d DetailAnswer
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("question %s: expected {value, detail}: %w", q.ID, err)
		}
		return d, nil

	case TypeConsentChecklist:
		var m map[string]bool
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("question %s: expected a consent map: %w", q.ID, err)
		}
		if len(q.ConsentIDs) > 0 {
			for id := range m {
				if !contains(q.ConsentIDs, id) {
					return nil, fmt.Errorf("question %s: unknown consent %q", q.ID, id)
				}
			}
		}
		return ConsentAnswer(m), nil
	}
	return nil, fmt.Errorf("question %s: unknown type %q", q.ID, q.Type)
}

// DecodeAnswers decodes a raw answer bag keyed by question id. Ids that are not
// in the schema are rejected.
func DecodeAnswers(s *Schema, raw map[string]json.RawMessage) (AnswerSet, error) {
	out := make(AnswerSet, len(raw))
	for id, r := range raw {
		q, ok := s.Question(id)
		if !ok {
			return nil, fmt.Errorf("unknown question: %s", id)
		}
		a, err := DecodeAnswer(q, r)
		if err != nil {
			return nil, err
		}
		if a != nil {
			out[id] = a
		}
	}
	return out, nil
}

// scalarValue is the comparable value of an answer for visibility conditions and
// reject-on-value rules.
func scalarValue(a Answer) (string, bool) {
	switch v := a.(type) {
	case ScalarAnswer:
		return string(v), true
	case DetailAnswer:
		return v.Value, true
	case NumericAnswer:
		return strings.TrimSpace(string(v)), true
	}
	return "", false
}
