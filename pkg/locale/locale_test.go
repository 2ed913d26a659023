package locale

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"":        "en",
		"en-US":   "en",
		"es":      "es",
		"es-MX":   "es",
		"es-419":  "es",
		"fr":      "en",
		"garbage": "en",
	}
	for in, want := range cases {
		assert.Equal(t, want, Normalize(in), "Normalize(%q)", in)
	}
}

func TestCatalogueComplete(t *testing.T) {
	for key := range catalogue["en"] {
		assert.NotEmpty(t, catalogue["es"][key], "missing es translation for %q", key)
	}
	assert.Equal(t, catalogue["es"][Busy], T("es-AR", Busy))
	assert.Equal(t, catalogue["en"][Busy], T("de", Busy))
}
