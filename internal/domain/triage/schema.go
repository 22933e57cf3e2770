package triage

import (
	"fmt"
	"sort"
)

// QuestionType is the closed set of answer shapes a question can take.
type QuestionType string

const (
	TypeSingleSelect      QuestionType = "single_select"
	TypeMultiSelect       QuestionType = "multi_select"
	TypeNumeric           QuestionType = "numeric"
	TypeYesNo             QuestionType = "yes_no"
	TypeYesNoDetail       QuestionType = "yes_no_detail"
	TypeExclusiveCheckbox QuestionType = "exclusive_checkbox"
	TypeConsentChecklist  QuestionType = "consent_checklist"
)

// NoneSentinel is the option value meaning "none of the above" on exclusive checkbox lists.
const NoneSentinel = "none"

// Operator of a visibility condition. Equals is the only operator the questionnaire needs.
type Operator string

const OpEquals Operator = "equals"

// Condition makes a question visible only when a prior answer matches a literal.
type Condition struct {
	QuestionID string   `json:"question_id"`
	Operator   Operator `json:"operator"`
	Literal    string   `json:"literal"`
}

// TerminationKind selects how a TerminationRule inspects an answer.
type TerminationKind string

const (
	// RejectOnValue terminates when the scalar answer equals Value.
	RejectOnValue TerminationKind = "reject_on_value"
	// RejectOutsideSet terminates when any selected value is not in Allowed.
	RejectOutsideSet TerminationKind = "reject_outside_set"
)

// TerminationRule ends the flow with Message when the answer trips it.
type TerminationRule struct {
	Kind    TerminationKind `json:"kind"`
	Value   string          `json:"value,omitempty"`
	Allowed []string        `json:"allowed,omitempty"`
	Message string          `json:"message"`
}

// Option is a selectable value shown for select and checkbox questions.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Question is one step of the questionnaire.
type Question struct {
	ID            string           `json:"id"`
	Order         int              `json:"order"`
	Type          QuestionType     `json:"type"`
	Title         string           `json:"title"`
	Subtitle      string           `json:"subtitle,omitempty"`
	Options       []Option         `json:"options,omitempty"`
	MinSelections int              `json:"min_selections,omitempty"`
	Min           *float64         `json:"min,omitempty"`
	Max           *float64         `json:"max,omitempty"`
	Unit          string           `json:"unit,omitempty"`
	ConsentIDs    []string         `json:"consent_ids,omitempty"`
	Required      bool             `json:"required"`
	Visibility    *Condition       `json:"visibility,omitempty"`
	Termination   *TerminationRule `json:"termination,omitempty"`
}

// Schema is the immutable, ordered questionnaire. HeightQuestionID and
// WeightQuestionID name the questions feeding the BMI gate.
type Schema struct {
	Questions        []Question `json:"questions"`
	HeightQuestionID string     `json:"height_question_id"`
	WeightQuestionID string     `json:"weight_question_id"`

	index map[string]int
}

// NewSchema sorts questions by Order and checks that ids are unique and that
// every visibility condition references an earlier question.
func NewSchema(questions []Question, heightID, weightID string) (*Schema, error) {
	qs := make([]Question, len(questions))
	copy(qs, questions)
	sort.SliceStable(qs, func(i, j int) bool { return qs[i].Order < qs[j].Order })

	s := &Schema{
		Questions:        qs,
		HeightQuestionID: heightID,
		WeightQuestionID: weightID,
		index:            make(map[string]int, len(qs)),
	}
	for i, q := range qs {
		if q.ID == "" {
			return nil, fmt.Errorf("question at position %d has no id", i)
		}
		if _, dup := s.index[q.ID]; dup {
			return nil, fmt.Errorf("duplicate question id: %s", q.ID)
		}
		if q.Visibility != nil {
			ref, ok := s.index[q.Visibility.QuestionID]
			if !ok || ref >= i {
				return nil, fmt.Errorf("question %s: visibility must reference an earlier question, got %q", q.ID, q.Visibility.QuestionID)
			}
			if q.Visibility.Operator != OpEquals {
				return nil, fmt.Errorf("question %s: unsupported operator %q", q.ID, q.Visibility.Operator)
			}
		}
		s.index[q.ID] = i
	}
	for _, id := range []string{heightID, weightID} {
		if id == "" {
			continue
		}
		if _, ok := s.index[id]; !ok {
			return nil, fmt.Errorf("bmi question %q not in schema", id)
		}
	}
	return s, nil
}

// Question returns the question with the given id.
func (s *Schema) Question(id string) (Question, bool) {
	i, ok := s.index[id]
	if !ok {
		return Question{}, false
	}
	return s.Questions[i], true
}

// Len returns the number of questions.
func (s *Schema) Len() int { return len(s.Questions) }
