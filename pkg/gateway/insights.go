package gateway

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/eyecheck/gateway/pkg/locale"
	"github.com/eyecheck/gateway/pkg/pipeline"
)

// insight describes one non-streaming JSON endpoint.
type insight struct {
	name string
	ttl  time.Duration
	// task is the model instruction; the request body is appended as JSON.
	task string
	// shape is the JSON value the task asks for. Output of another shape is
	// treated as unparseable.
	shape pipeline.Shape
	// fallback builds the response when the model output is not JSON. raw is
	// the model text with any JSON-looking noise left in.
	fallback func(in map[string]any, raw, loc string) any
}

const insightBase = "You write content for an eye-health screening app. " +
	"You never diagnose and never prescribe. " +
	"Reply with JSON only, no prose and no markdown fences."

var insights = []insight{
	{
		name:  "report",
		ttl:   24 * time.Hour,
		shape: pipeline.ObjectShape,
		task:  `Summarize the screening results below for the user. Output an object: ` +
			`{"summary": string, "findings": [{"test": string, "note": string}], "recommendations": [string]}.`,
		fallback: reportFallback,
	},
	{
		name:  "dashboard",
		ttl:   time.Hour,
		shape: pipeline.ObjectShape,
		task:  `Write a short dashboard overview of the user's recent screenings. Output an object: ` +
			`{"headline": string, "trend": "improving" | "stable" | "declining" | "unknown", "highlights": [string]}.`,
		fallback: dashboardFallback,
	},
	{
		name:  "routine",
		ttl:   12 * time.Hour,
		shape: pipeline.ArrayShape,
		task:  `Suggest a daily eye-care routine that fits the user's profile. Output an array of steps: ` +
			`[{"title": string, "minutes": number, "details": string}].`,
		fallback: routineFallback,
	},
	{
		name:  "proactive-tip",
		ttl:   6 * time.Hour,
		shape: pipeline.ObjectShape,
		task:  `Give one short, practical eye-care tip relevant to the user's context. Output an object: ` +
			`{"tip": string}.`,
		fallback: tipFallback,
	},
}

// system returns the system prompt for loc.
func (in insight) system(loc string) string {
	return insightBase + "\n" + in.task + "\n" + locale.T(loc, locale.AnswerIn)
}

// user renders the request body for the prompt. The locale field is
// stripped since the system prompt already carries it.
func (in insight) user(body map[string]any) string {
	trimmed := make(map[string]any, len(body))
	for k, v := range body {
		if k == "locale" {
			continue
		}
		trimmed[k] = v
	}
	data, err := json.MarshalIndent(trimmed, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// plainText reduces model output to a single paragraph usable as a text
// field, or "" when nothing readable remains.
func plainText(raw string, max int) string {
	s := strings.NewReplacer("```", " ", "{", " ", "}", " ", "[", " ", "]", " ", "\"", " ").Replace(raw)
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) > max {
		s = strings.TrimSpace(string(runes[:max])) + "…"
	}
	return s
}

func reportFallback(in map[string]any, raw, loc string) any {
	summary := plainText(raw, 600)
	if summary == "" {
		summary = locale.T(loc, locale.FallbackReport)
	}
	findings := []map[string]any{}
	if results, ok := in["results"].([]any); ok {
		for _, r := range results {
			m, ok := r.(map[string]any)
			if !ok {
				continue
			}
			test, _ := m["test"].(string)
			if test == "" {
				continue
			}
			note := ""
			if v, ok := m["score"]; ok {
				note = jsonText(v)
			}
			findings = append(findings, map[string]any{"test": test, "note": note})
		}
	}
	return map[string]any{
		"summary":         summary,
		"findings":        findings,
		"recommendations": []string{locale.T(loc, locale.FallbackAdvice)},
	}
}

func dashboardFallback(_ map[string]any, raw, loc string) any {
	headline := plainText(raw, 160)
	if headline == "" {
		headline = locale.T(loc, locale.FallbackAdvice)
	}
	return map[string]any{
		"headline":   headline,
		"trend":      "unknown",
		"highlights": []string{},
	}
}

func routineFallback(_ map[string]any, _ string, loc string) any {
	return []map[string]any{
		{"title": "20-20-20", "minutes": 1, "details": locale.T(loc, locale.FallbackTip)},
		{"title": "Blink", "minutes": 1, "details": locale.T(loc, locale.FallbackAdvice)},
	}
}

func tipFallback(_ map[string]any, raw, loc string) any {
	tip := plainText(raw, 280)
	if tip == "" {
		tip = locale.T(loc, locale.FallbackTip)
	}
	return map[string]any{"tip": tip}
}

func jsonText(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
