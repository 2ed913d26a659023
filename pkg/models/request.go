package models

// ChatRequest is the body of a streaming chat call.
type ChatRequest struct {
	Message            string         `json:"message" validate:"required,max=4000"`
	PriorResultContext string         `json:"priorResultContext,omitempty" validate:"max=8000"`
	UserProfile        map[string]any `json:"userProfile,omitempty"`
	Locale             string         `json:"locale" validate:"omitempty,bcp47_language_tag"`
	Model              string         `json:"model,omitempty" validate:"max=128"`
	Temperature        *float64       `json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	TopP               *float64       `json:"topP,omitempty" validate:"omitempty,gt=0,lte=1"`
	MaxTokens          int            `json:"maxTokens,omitempty" validate:"omitempty,gte=1,lte=8192"`
}

// InsightResponse wraps the JSON produced by a non-streaming endpoint.
type InsightResponse struct {
	FromCache bool `json:"fromCache"`
	Data      any  `json:"data"`
}
