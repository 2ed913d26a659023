package models

// SafetyCategory classifies a message screened by the content gate.
type SafetyCategory string

const (
	SafetyNone          SafetyCategory = ""
	SafetyEmergency     SafetyCategory = "emergency"
	SafetySelfHarm      SafetyCategory = "self_harm"
	SafetyViolence      SafetyCategory = "violence"
	SafetySexualMinors  SafetyCategory = "sexual_minors"
	SafetyIllegal       SafetyCategory = "illegal"
	SafetyMedicalAdvice SafetyCategory = "medical_advice"
)

// SafetyVerdict is the result of screening one message.
// Allowed verdicts may still carry a category (advisory annotation).
type SafetyVerdict struct {
	Allowed  bool           `json:"allowed"`
	Category SafetyCategory `json:"category,omitempty"`
	Message  string         `json:"message,omitempty"`
}
