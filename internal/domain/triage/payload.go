package triage

import (
	"math"
	"time"
)

// BMIThreshold is the minimum body-mass index eligible for treatment. The gate
// compares the unrounded value.
const BMIThreshold = 27.0

const BMIIneligibleMessage = "Based on the height and weight you entered, your BMI is below 27. " +
	"Our weight loss treatment is only suitable for people with a BMI of 27 or above, so we are unable to offer it to you."

// Question ids of the built-in weight-loss questionnaire. The payload builder maps
// these onto PatientData fields.
const (
	QuestionMotivation           = "motivation"
	QuestionHeight               = "height_cm"
	QuestionWeight               = "weight_kg"
	QuestionBiologicalSex        = "biological_sex"
	QuestionPregnancy            = "pregnancy_status"
	QuestionCriticalConditions   = "critical_conditions"
	QuestionComorbidities        = "comorbidities"
	QuestionCurrentMedications   = "current_medications"
	QuestionMedicationPreference = "medication_preference"
	QuestionConsent              = "consent"
)

// PatientData is the clinical payload stored on a consultation.
type PatientData struct {
	BMI                  *float64         `json:"bmi"`
	HeightCM             *float64         `json:"height_cm"`
	WeightKG             *float64         `json:"weight_kg"`
	BiologicalSex        *string          `json:"biological_sex"`
	Motivations          []string         `json:"motivations"`
	MedicationPreference *string          `json:"medication_preference"`
	MedicalScreeners     MedicalScreeners `json:"medical_screeners"`
	Consent              ConsentSummary   `json:"consent"`
	CompletionTime       time.Time        `json:"completion_time"`
}

type MedicalScreeners struct {
	PregnancyStatus    *string            `json:"pregnancy_status"`
	CriticalConditions []string           `json:"critical_conditions"`
	Comorbidities      []string           `json:"comorbidities"`
	CurrentMedications CurrentMedications `json:"current_medications"`
}

type CurrentMedications struct {
	Taking  *string `json:"taking"`
	Details *string `json:"details"`
}

type ConsentSummary struct {
	AllConsentsAgreed bool            `json:"all_consents_agreed"`
	Consents          map[string]bool `json:"consents"`
}

// CalculateBMI returns weight / (height in metres)^2, unrounded.
func CalculateBMI(heightCM, weightKG float64) float64 {
	m := heightCM / 100
	return weightKG / (m * m)
}

// RoundBMI rounds to one decimal place for display and storage.
func RoundBMI(bmi float64) float64 {
	return math.Round(bmi*10) / 10
}

// BuildClinicalPayload maps answers onto PatientData. It never fails: unanswered
// optional fields become null or empty arrays.
func BuildClinicalPayload(answers AnswerSet, now time.Time) PatientData {
	p := PatientData{
		Motivations: choices(answers[QuestionMotivation]),
		MedicalScreeners: MedicalScreeners{
			CriticalConditions: choices(answers[QuestionCriticalConditions]),
			Comorbidities:      choices(answers[QuestionComorbidities]),
		},
		Consent:        ConsentSummary{Consents: map[string]bool{}},
		CompletionTime: now.UTC(),
	}

	p.HeightCM = number(answers[QuestionHeight])
	p.WeightKG = number(answers[QuestionWeight])
	if p.HeightCM != nil && p.WeightKG != nil && *p.HeightCM > 0 {
		if bmi := CalculateBMI(*p.HeightCM, *p.WeightKG); !math.IsInf(bmi, 0) {
			bmi = RoundBMI(bmi)
			p.BMI = &bmi
		}
	}

	p.BiologicalSex = scalar(answers[QuestionBiologicalSex])
	p.MedicationPreference = scalar(answers[QuestionMedicationPreference])
	p.MedicalScreeners.PregnancyStatus = scalar(answers[QuestionPregnancy])

	if d, ok := answers[QuestionCurrentMedications].(DetailAnswer); ok {
		if d.Value != "" {
			v := d.Value
			p.MedicalScreeners.CurrentMedications.Taking = &v
		}
		if d.Value == "yes" && d.Detail != "" {
			v := d.Detail
			p.MedicalScreeners.CurrentMedications.Details = &v
		}
	}

	if c, ok := answers[QuestionConsent].(ConsentAnswer); ok && len(c) > 0 {
		all := true
		for id, agreed := range c {
			p.Consent.Consents[id] = agreed
			all = all && agreed
		}
		p.Consent.AllConsentsAgreed = all
	}
	return p
}

func choices(a Answer) []string {
	c, ok := a.(ChoiceAnswer)
	if !ok {
		return []string{}
	}
	out := make([]string, len(c))
	copy(out, c)
	return out
}

func number(a Answer) *float64 {
	n, ok := a.(NumericAnswer)
	if !ok {
		return nil
	}
	f, ok := n.Float()
	if !ok {
		return nil
	}
	return &f
}

func scalar(a Answer) *string {
	v, ok := scalarValue(a)
	if !ok || v == "" {
		return nil
	}
	return &v
}
