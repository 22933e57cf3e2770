package triage

// Consent ids on the weight-loss consent checklist.
const (
	ConsentAccurateInformation = "accurate_information"
	ConsentTreatmentRisks      = "treatment_risks"
	ConsentPharmacistContact   = "pharmacist_contact"
	ConsentTermsPrivacy        = "terms_privacy"
)

func floatPtr(f float64) *float64 { return &f }

// WeightLossSchema returns the built-in weight-loss eligibility questionnaire.
func WeightLossSchema() *Schema {
	questions := []Question{
		{
			ID:       QuestionMotivation,
			Order:    1,
			Type:     TypeMultiSelect,
			Title:    "What is motivating you to lose weight?",
			Subtitle: "Select all that apply",
			Options: []Option{
				{Value: "health", Label: "Improve my overall health"},
				{Value: "confidence", Label: "Feel more confident"},
				{Value: "energy", Label: "Have more energy"},
				{Value: "mobility", Label: "Move more comfortably"},
				{Value: "medical_advice", Label: "My doctor recommended it"},
			},
			MinSelections: 1,
			Required:      true,
		},
		{
			ID:       QuestionHeight,
			Order:    2,
			Type:     TypeNumeric,
			Title:    "What is your height?",
			Min:      floatPtr(120),
			Max:      floatPtr(250),
			Unit:     "cm",
			Required: true,
		},
		{
			ID:       QuestionWeight,
			Order:    3,
			Type:     TypeNumeric,
			Title:    "What is your current weight?",
			Min:      floatPtr(40),
			Max:      floatPtr(300),
			Unit:     "kg",
			Required: true,
		},
		{
			ID:    QuestionBiologicalSex,
			Order: 4,
			Type:  TypeSingleSelect,
			Title: "What was your sex at birth?",
			Options: []Option{
				{Value: "male", Label: "Male"},
				{Value: "female", Label: "Female"},
			},
			Required: true,
		},
		{
			ID:         QuestionPregnancy,
			Order:      5,
			Type:       TypeYesNo,
			Title:      "Are you pregnant, breastfeeding or planning to become pregnant?",
			Required:   true,
			Visibility: &Condition{QuestionID: QuestionBiologicalSex, Operator: OpEquals, Literal: "female"},
			Termination: &TerminationRule{
				Kind:    RejectOnValue,
				Value:   "yes",
				Message: "Weight loss injections are not safe during pregnancy or breastfeeding, or when trying to conceive. Please speak to your GP about other options.",
			},
		},
		{
			ID:       QuestionCriticalConditions,
			Order:    6,
			Type:     TypeExclusiveCheckbox,
			Title:    "Do any of the following apply to you?",
			Subtitle: "Select none if none apply",
			Options: []Option{
				{Value: "Type 1 diabetes", Label: "Type 1 diabetes"},
				{Value: "Pancreatitis", Label: "History of pancreatitis"},
				{Value: "Medullary thyroid cancer", Label: "Personal or family history of medullary thyroid cancer"},
				{Value: "MEN2", Label: "Multiple endocrine neoplasia type 2"},
				{Value: "Heart failure", Label: "Severe heart failure"},
				{Value: "Eating disorder", Label: "Current or past eating disorder"},
				{Value: NoneSentinel, Label: "None of the above"},
			},
			Required: true,
			Termination: &TerminationRule{
				Kind:    RejectOutsideSet,
				Allowed: []string{NoneSentinel},
				Message: "Based on your medical history, weight loss injections may not be safe for you. Please speak to your GP before starting any weight loss medication.",
			},
		},
		{
			ID:       QuestionComorbidities,
			Order:    7,
			Type:     TypeMultiSelect,
			Title:    "Do you have any of these weight-related conditions?",
			Subtitle: "Optional",
			Options: []Option{
				{Value: "type_2_diabetes", Label: "Type 2 diabetes"},
				{Value: "high_blood_pressure", Label: "High blood pressure"},
				{Value: "high_cholesterol", Label: "High cholesterol"},
				{Value: "sleep_apnoea", Label: "Sleep apnoea"},
				{Value: "osteoarthritis", Label: "Osteoarthritis"},
			},
		},
		{
			ID:       QuestionCurrentMedications,
			Order:    8,
			Type:     TypeYesNoDetail,
			Title:    "Are you currently taking any medication?",
			Subtitle: "If yes, please list them",
			Required: true,
		},
		{
			ID:    QuestionMedicationPreference,
			Order: 9,
			Type:  TypeSingleSelect,
			Title: "Which treatment would you prefer?",
			Options: []Option{
				{Value: "wegovy", Label: "Wegovy"},
				{Value: "mounjaro", Label: "Mounjaro"},
				{Value: "no_preference", Label: "Let the pharmacist decide"},
			},
			Required: true,
		},
		{
			ID:    QuestionConsent,
			Order: 10,
			Type:  TypeConsentChecklist,
			Title: "Please confirm the following",
			Options: []Option{
				{Value: ConsentAccurateInformation, Label: "The information I have provided is accurate and complete"},
				{Value: ConsentTreatmentRisks, Label: "I understand the risks and side effects of treatment"},
				{Value: ConsentPharmacistContact, Label: "I agree to be contacted by a pharmacist about my consultation"},
				{Value: ConsentTermsPrivacy, Label: "I accept the terms of service and privacy policy"},
			},
			ConsentIDs: []string{
				ConsentAccurateInformation,
				ConsentTreatmentRisks,
				ConsentPharmacistContact,
				ConsentTermsPrivacy,
			},
			Required: true,
		},
	}

	s, err := NewSchema(questions, QuestionHeight, QuestionWeight)
	if err != nil {
		panic("triage: invalid weight-loss schema: " + err.Error())
	}
	return s
}
