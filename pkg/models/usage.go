package models

import "time"

// Usage represents token usage from an LLM response.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add returns the element-wise sum of two usages.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		TotalTokens:      u.TotalTokens + o.TotalTokens,
	}
}

// UsageRecord is one cost/telemetry event for an upstream call.
type UsageRecord struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	Service   string    `json:"service"`
	Endpoint  string    `json:"endpoint"`
	Model     string    `json:"model"`
	Provider  string    `json:"provider"`
	TokensIn  int       `json:"tokens_in"`
	TokensOut int       `json:"tokens_out"`
	CostUSD   float64   `json:"cost_usd"`
	LatencyMs int64     `json:"latency_ms"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// UsageSummary aggregates usage across records.
type UsageSummary struct {
	UserID       string  `json:"user_id"`
	Endpoint     string  `json:"endpoint"`
	Model        string  `json:"model"`
	RequestCount int     `json:"request_count"`
	TokensIn     int64   `json:"tokens_in"`
	TokensOut    int64   `json:"tokens_out"`
	CostUSD      float64 `json:"cost_usd"`
}
