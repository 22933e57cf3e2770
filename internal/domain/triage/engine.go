package triage

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var (
	ErrSessionTerminal = errors.New("triage session has already ended")
	ErrStepOutOfRange  = errors.New("triage step out of range")
	ErrUnknownQuestion = errors.New("unknown question")
)

// ValidationError reports that the answer on the current step cannot advance the
// flow. The session is left untouched and the user may correct the answer.
type ValidationError struct {
	QuestionID string
	Message    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.QuestionID, e.Message)
}

// Outcome is the terminal flag of a session.
type Outcome string

const (
	OutcomeNone      Outcome = ""
	OutcomeRejected  Outcome = "rejected"
	OutcomeCompleted Outcome = "completed"
)

// Session is the in-progress state of one run through the questionnaire. It is
// a plain value: every transition returns a new Session and leaves its input
// unchanged.
type Session struct {
	Step    int       `json:"step"`
	Answers AnswerSet `json:"answers"`
	Outcome Outcome   `json:"outcome,omitempty"`
	Message string    `json:"message,omitempty"`
}

// Terminal reports whether the session has been rejected or completed.
func (s Session) Terminal() bool { return s.Outcome != OutcomeNone }

type TransitionKind string

const (
	TransitionNext      TransitionKind = "next"
	TransitionTerminate TransitionKind = "terminate"
	TransitionComplete  TransitionKind = "complete"
)

// Transition is the result of a successful Advance.
type Transition struct {
	Kind    TransitionKind
	Step    int
	Message string
	Payload *PatientData
}

func (t Transition) MarshalJSON() ([]byte, error) {
	switch t.Kind {
	case TransitionNext:
		return json.Marshal(map[string]interface{}{"next": map[string]int{"step": t.Step}})
	case TransitionTerminate:
		return json.Marshal(map[string]interface{}{"terminate": map[string]string{"message": t.Message}})
	case TransitionComplete:
		return json.Marshal(map[string]interface{}{"complete": map[string]interface{}{"payload": t.Payload}})
	}
	return []byte("null"), nil
}

// Progress is the position of the current step among the visible questions.
type Progress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// Engine walks a Schema. It holds no per-session state.
type Engine struct {
	schema *Schema
	now    func() time.Time
}

func NewEngine(schema *Schema) *Engine {
	return &Engine{schema: schema, now: time.Now}
}

// SetClock overrides the clock used to stamp completed payloads.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

func (e *Engine) Schema() *Schema { return e.schema }

// IsVisible evaluates the question's visibility condition against prior
// answers. A missing referenced answer hides the question.
func IsVisible(q Question, answers AnswerSet) bool {
	c := q.Visibility
	if c == nil {
		return true
	}
	ref, ok := answers[c.QuestionID]
	if !ok || ref == nil {
		return false
	}
	val, ok := scalarValue(ref)
	if !ok {
		return false
	}
	switch c.Operator {
	case OpEquals:
		return val == c.Literal
	}
	return false
}

// IsAnswerValid checks an answer against its question's type. An empty answer is
// valid only for questions that are not required.
func IsAnswerValid(q Question, a Answer) bool {
	if isEmpty(a) {
		return !q.Required
	}

	switch q.Type {
	case TypeMultiSelect, TypeExclusiveCheckbox:
		c, ok := a.(ChoiceAnswer)
		min := q.MinSelections
		if min < 1 {
			min = 1
		}
		return ok && len(c) >= min

	case TypeSingleSelect, TypeYesNo:
		s, ok := a.(ScalarAnswer)
		return ok && strings.TrimSpace(string(s)) != ""

	case TypeNumeric:
		n, ok := a.(NumericAnswer)
		if !ok {
			return false
		}
		_, ok = n.Float()
		return ok

	case TypeYesNoDetail:
		d, ok := a.(DetailAnswer)
		if !ok || d.Value == "" {
			return false
		}
		return d.Value != "yes" || strings.TrimSpace(d.Detail) != ""

	case TypeConsentChecklist:
		c, ok := a.(ConsentAnswer)
		if !ok {
			return false
		}
		if len(q.ConsentIDs) == 0 {
			for _, agreed := range c {
				if !agreed {
					return false
				}
			}
			return true
		}
		for _, id := range q.ConsentIDs {
			if !c[id] {
				return false
			}
		}
		for id := range c {
			if !contains(q.ConsentIDs, id) {
				return false
			}
		}
		return true
	}
	return a != nil
}

func isEmpty(a Answer) bool {
	switch v := a.(type) {
	case nil:
		return true
	case ScalarAnswer:
		return v == ""
	case ChoiceAnswer:
		return len(v) == 0
	case NumericAnswer:
		return strings.TrimSpace(string(v)) == ""
	case DetailAnswer:
		return v.Value == "" && v.Detail == ""
	case ConsentAnswer:
		return len(v) == 0
	}
	return false
}

func validationMessage(q Question) string {
	switch q.Type {
	case TypeMultiSelect, TypeExclusiveCheckbox:
		if q.MinSelections > 1 {
			return fmt.Sprintf("Please select at least %d options", q.MinSelections)
		}
		return "Please select at least one option"
	case TypeNumeric:
		return "Please enter a valid number"
	case TypeYesNoDetail:
		return "Please answer and provide details"
	case TypeConsentChecklist:
		return "Please confirm every statement to continue"
	}
	return "Please answer this question"
}

// Start returns a fresh session positioned on the first visible question.
func (e *Engine) Start() Session {
	answers := AnswerSet{}
	return Session{Step: e.nextVisible(-1, answers), Answers: answers}
}

// SetAnswer replaces the whole answer for questionID.
func (e *Engine) SetAnswer(s Session, questionID string, a Answer) (Session, error) {
	if s.Terminal() {
		return s, ErrSessionTerminal
	}
	if _, ok := e.schema.Question(questionID); !ok {
		return s, fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID)
	}
	next := s
	next.Answers = s.Answers.Clone()
	if a == nil {
		delete(next.Answers, questionID)
	} else {
		next.Answers[questionID] = a
	}
	return next, nil
}

// Advance validates the current answer, applies termination rules in order
// (BMI gate, reject-on-value, reject-outside-set) and moves to the next visible
// question, or completes the flow when none remain.
func (e *Engine) Advance(s Session) (Session, Transition, error) {
	if s.Terminal() {
		return s, Transition{}, ErrSessionTerminal
	}
	if s.Step < 0 || s.Step >= e.schema.Len() {
		return s, Transition{}, fmt.Errorf("%w: %d", ErrStepOutOfRange, s.Step)
	}

	q := e.schema.Questions[s.Step]
	answer := s.Answers[q.ID]
	if !IsAnswerValid(q, answer) {
		return s, Transition{}, &ValidationError{QuestionID: q.ID, Message: validationMessage(q)}
	}

	next := s
	next.Answers = s.Answers.Clone()

	if msg, terminated := e.termination(q, answer, s.Answers); terminated {
		next.Outcome = OutcomeRejected
		next.Message = msg
		return next, Transition{Kind: TransitionTerminate, Message: msg}, nil
	}

	step := e.nextVisible(s.Step, s.Answers)
	if step < 0 {
		payload := BuildClinicalPayload(e.visibleAnswers(s.Answers), e.now())
		next.Outcome = OutcomeCompleted
		return next, Transition{Kind: TransitionComplete, Payload: &payload}, nil
	}
	next.Step = step
	return next, Transition{Kind: TransitionNext, Step: step}, nil
}

// GoBack moves to the previous visible question, keeping every answer. On the
// first visible question it returns the session unchanged.
func (e *Engine) GoBack(s Session) (Session, error) {
	if s.Terminal() {
		return s, ErrSessionTerminal
	}
	for i := s.Step - 1; i >= 0; i-- {
		if IsVisible(e.schema.Questions[i], s.Answers) {
			next := s
			next.Answers = s.Answers.Clone()
			next.Step = i
			return next, nil
		}
	}
	return s, nil
}

// Progress counts only questions visible under the current answers.
func (e *Engine) Progress(s Session) Progress {
	var p Progress
	for i, q := range e.schema.Questions {
		if !IsVisible(q, s.Answers) {
			continue
		}
		p.Total++
		if i <= s.Step {
			p.Current++
		}
	}
	return p
}

// Evaluate replays the whole flow over a complete answer set and returns the
// final session and transition, or the first validation error.
func (e *Engine) Evaluate(answers AnswerSet) (Session, Transition, error) {
	s := e.Start()
	s.Answers = answers.Clone()
	if s.Step < 0 {
		return s, Transition{}, fmt.Errorf("%w: no visible questions", ErrStepOutOfRange)
	}
	for i := 0; i <= e.schema.Len(); i++ {
		next, tr, err := e.Advance(s)
		if err != nil {
			return s, Transition{}, err
		}
		if tr.Kind != TransitionNext {
			return next, tr, nil
		}
		s = next
	}
	return s, Transition{}, fmt.Errorf("%w: flow did not terminate", ErrStepOutOfRange)
}

func (e *Engine) termination(q Question, answer Answer, answers AnswerSet) (string, bool) {
	if q.ID == e.schema.WeightQuestionID {
		// An incomputable BMI fails the gate.
		if bmi, ok := e.bmi(answers); !ok || bmi < BMIThreshold {
			return BMIIneligibleMessage, true
		}
	}

	rule := q.Termination
	if rule == nil {
		return "", false
	}
	switch rule.Kind {
	case RejectOnValue:
		if v, ok := scalarValue(answer); ok && v == rule.Value {
			return rule.Message, true
		}
	case RejectOutsideSet:
		choices, ok := answer.(ChoiceAnswer)
		if !ok {
			return "", false
		}
		for _, c := range choices {
			if !contains(rule.Allowed, c) {
				return rule.Message, true
			}
		}
	}
	return "", false
}

func (e *Engine) bmi(answers AnswerSet) (float64, bool) {
	h, ok := answers[e.schema.HeightQuestionID].(NumericAnswer)
	if !ok {
		return 0, false
	}
	w, ok := answers[e.schema.WeightQuestionID].(NumericAnswer)
	if !ok {
		return 0, false
	}
	heightCM, ok := h.Float()
	if !ok || heightCM <= 0 {
		return 0, false
	}
	weightKG, ok := w.Float()
	if !ok || weightKG <= 0 {
		return 0, false
	}
	bmi := CalculateBMI(heightCM, weightKG)
	if math.IsNaN(bmi) || math.IsInf(bmi, 0) {
		return 0, false
	}
	return bmi, true
}

// nextVisible returns the index of the first visible question after from, or -1.
func (e *Engine) nextVisible(from int, answers AnswerSet) int {
	for i := from + 1; i < e.schema.Len(); i++ {
		if IsVisible(e.schema.Questions[i], answers) {
			return i
		}
	}
	return -1
}

// visibleAnswers drops answers to questions hidden by a later change, e.g. a
// pregnancy answer left behind after switching biological sex.
func (e *Engine) visibleAnswers(answers AnswerSet) AnswerSet {
	out := make(AnswerSet, len(answers))
	for _, q := range e.schema.Questions {
		if a, ok := answers[q.ID]; ok && IsVisible(q, answers) {
			out[q.ID] = a
		}
	}
	return out
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
