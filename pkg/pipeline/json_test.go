package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eyecheck/gateway/pkg/llm/llmtest"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		shape Shape
		want  any
	}{
		{"plain object", `{"score": 4}`, AnyShape, map[string]any{"score": 4.0}},
		{"fenced", "```json\n{\"a\": [1, 2]}\n```", ObjectShape, map[string]any{"a": []any{1.0, 2.0}}},
		{"think tags", "<think>{\"wrong\": true}</think>Here you go: {\"right\": true} thanks", ObjectShape, map[string]any{"right": true}},
		{"array", "Tips:\n[\"blink\", \"rest\"]\n", ArrayShape, []any{"blink", "rest"}},
		{"thinking tags", "<thinking>\nplan\n</thinking>\n{\"x\":1}", AnyShape, map[string]any{"x": 1.0}},
		{"brackets before object", `Step [1] done: {"tip":"blink"}`, ObjectShape, map[string]any{"tip": "blink"}},
		{"object wins without shape", `Step [1] done: {"tip":"blink"}`, AnyShape, map[string]any{"tip": "blink"}},
		{"array of objects", `[{"title":"Blink"},{"title":"Rest"}]`, ArrayShape, []any{map[string]any{"title": "Blink"}, map[string]any{"title": "Rest"}}},
		{"single object in array", `Here: [{"title":"Blink"}]`, ArrayShape, []any{map[string]any{"title": "Blink"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.raw, tt.shape)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractJSONFailures(t *testing.T) {
	for _, raw := range []string{"", "no json here", "{broken", `{"a": }`} {
		_, err := ExtractJSON(raw, AnyShape)
		assert.ErrorIs(t, err, ErrNoJSON, "input %q", raw)
	}

	_, err := ExtractJSON(`Step [1] done.`, ObjectShape)
	assert.ErrorIs(t, err, ErrNoJSON, "array where an object is expected")
	_, err = ExtractJSON(`{"tip":"blink"}`, ArrayShape)
	assert.ErrorIs(t, err, ErrNoJSON, "object where an array is expected")
}

func TestGenerateJSONWrongShape(t *testing.T) {
	fake := llmtest.New(llmtest.Reply{Text: `Step [1] done, no tip today.`})
	p, _ := newTestPipeline(t, fake, 1)

	res := p.GenerateJSON(context.Background(), Request{User: "tip"}, ObjectShape, func(raw string) any {
		return map[string]any{"tip": "fallback"}
	})
	require.True(t, res.OK())
	assert.True(t, res.Fallback)
	assert.Equal(t, map[string]any{"tip": "fallback"}, res.Data)
}

func TestGenerateJSONFallback(t *testing.T) {
	fake := llmtest.New(llmtest.Reply{Text: "Your eyes look fine."})
	p, _ := newTestPipeline(t, fake, 1)

	res := p.GenerateJSON(context.Background(), Request{User: "report"}, ObjectShape, func(raw string) any {
		return map[string]any{"summary": raw}
	})
	require.True(t, res.OK())
	assert.True(t, res.Fallback)
	assert.Equal(t, map[string]any{"summary": "Your eyes look fine."}, res.Data)
}

func TestGenerateJSONFailedCall(t *testing.T) {
	fake := llmtest.New()
	fake.Default = llmtest.Reply{Err: errUpstream}
	p, _ := newTestPipeline(t, fake, 1)

	res := p.GenerateJSON(context.Background(), Request{User: "report"}, ObjectShape, func(string) any { return "unused" })
	assert.False(t, res.OK())
	assert.Nil(t, res.Data)
	assert.False(t, res.Fallback)
}
