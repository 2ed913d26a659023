package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// ErrNoJSON is returned by ExtractJSON when the text holds no parseable JSON
// value of the expected shape.
var ErrNoJSON = errors.New("no JSON found in model output")

// Shape is the kind of JSON value a caller expects.
type Shape int

const (
	AnyShape Shape = iota
	ObjectShape
	ArrayShape
)

func (s Shape) matches(v any) bool {
	switch s {
	case ObjectShape:
		_, ok := v.(map[string]any)
		return ok
	case ArrayShape:
		_, ok := v.([]any)
		return ok
	default:
		return true
	}
}

var (
	thinkTags = regexp.MustCompile(`(?is)<(think|thinking)>.*?</(think|thinking)>`)
	fenceLine = regexp.MustCompile("(?m)^\\s*```[a-zA-Z]*\\s*$")
)

// ExtractJSON pulls the JSON payload out of model output. Reasoning tags and
// markdown fences are removed, then the span from the first '{' to the last
// '}' is tried, then the span from the first '[' to the last ']'. The first
// span that parses into a value of the given shape wins.
func ExtractJSON(raw string, shape Shape) (any, error) {
	s := thinkTags.ReplaceAllString(raw, "")
	s = fenceLine.ReplaceAllString(s, "")

	var errs []error
	for _, pair := range [...]string{"{}", "[]"} {
		start := strings.IndexByte(s, pair[0])
		end := strings.LastIndexByte(s, pair[1])
		if start < 0 || end < start {
			continue
		}
		var v any
		if err := json.Unmarshal([]byte(s[start:end+1]), &v); err != nil {
			errs = append(errs, err)
			continue
		}
		if shape.matches(v) {
			return v, nil
		}
	}
	return nil, errors.Join(append([]error{ErrNoJSON}, errs...)...)
}

// JSONResult is the outcome of GenerateJSON.
type JSONResult struct {
	Result
	// Data is the parsed model output, or the fallback object when parsing
	// failed. It is nil when the call itself failed.
	Data any
	// Fallback reports that Data was synthesized rather than parsed.
	Fallback bool
}

// GenerateJSON runs a single-pass request and parses its output as JSON of
// the given shape. When the output cannot be parsed, fallback builds the
// value from the raw text so the caller always gets usable data for a
// successful call.
func (p *Pipeline) GenerateJSON(ctx context.Context, req Request, shape Shape, fallback func(raw string) any) JSONResult {
	req.Mode = SinglePass
	res := p.Generate(ctx, req)
	if !res.OK() {
		return JSONResult{Result: res}
	}

	data, err := ExtractJSON(res.Text, shape)
	if err != nil {
		p.log.WithError(err).WithField("model", res.Model).Info("model output not JSON, using fallback")
		return JSONResult{Result: res, Data: fallback(res.Text), Fallback: true}
	}
	return JSONResult{Result: res, Data: data}
}
