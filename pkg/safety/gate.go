// Package safety screens user text before it reaches the upstream model.
package safety

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/eyecheck/gateway/pkg/locale"
	"github.com/eyecheck/gateway/pkg/models"
)

type rule struct {
	category models.SafetyCategory
	allowed  bool
	message  string
	phrases  []string
}

// Checked in order; the first rule with a matching phrase wins.
var rules = []rule{
	{
		category: models.SafetyEmergency,
		message:  locale.Emergency,
		phrases: []string{
			// en
			"sudden vision loss", "suddenly lost my vision", "suddenly cant see", "suddenly can't see",
			"chemical in my eye", "chemical in my eyes", "bleach in my eye", "acid in my eye",
			"something stuck in my eye", "metal in my eye", "eye is bleeding", "bleeding from my eye",
			"curtain over my vision", "stroke", "heart attack", "cant breathe", "can't breathe",
			"unconscious", "overdose",
			// es
			"perdi la vision de repente", "perdida repentina de vision", "de repente no veo",
			"quimico en el ojo", "lejia en el ojo", "acido en el ojo", "ojo sangrando",
			"sangra mi ojo", "derrame cerebral", "infarto", "no puedo respirar", "sobredosis",
		},
	},
	{
		category: models.SafetySelfHarm,
		message:  locale.SelfHarm,
		phrases: []string{
			"suicide", "suicidal", "kill myself", "end my life", "want to die", "hurt myself",
			"self harm", "cut myself",
			"suicidio", "suicidarme", "matarme", "quitarme la vida", "quiero morir",
			"hacerme dano", "autolesion", "cortarme",
		},
	},
	{
		category: models.SafetyViolence,
		message:  locale.Violence,
		phrases: []string{
			"kill him", "kill her", "kill them", "hurt someone", "blind someone", "make someone blind",
			"build a bomb", "shoot someone", "stab someone", "poison someone",
			"matarlo", "matarla", "lastimar a alguien", "dejar ciego a alguien",
			"hacer una bomba", "disparar a alguien", "envenenar a alguien",
		},
	},
	{
		category: models.SafetySexualMinors,
		message:  locale.SexualMinors,
		phrases: []string{
			"child porn", "sexual minor", "sex with a minor", "sex with a child", "naked child",
			"pornografia infantil", "sexo con un menor", "sexo con menores", "nino desnudo",
		},
	},
	{
		category: models.SafetyIllegal,
		message:  locale.Illegal,
		phrases: []string{
			"fake prescription", "forge a prescription", "buy drugs without prescription",
			"buy prescription drugs without", "fake medical certificate", "cheat the vision test",
			"cheat my driving eye test",
			"receta falsa", "falsificar una receta", "comprar medicamentos sin receta",
			"certificado medico falso", "hacer trampa en el examen de la vista",
		},
	},
	{
		category: models.SafetyMedicalAdvice,
		allowed:  true,
		message:  locale.MedicalAdvice,
		phrases: []string{
			"diagnose", "diagnosis", "do i have", "prescribe", "prescription", "what medication",
			"which drops should i", "what dose", "dosage",
			"diagnostico", "diagnosticar", "tengo glaucoma", "tengo cataratas", "recetame",
			"que medicamento", "que gotas", "dosis",
		},
	},
}

// Gate classifies text against the phrase lists. It is stateless and safe
// for concurrent use.
type Gate struct {
	rules []rule
}

// New returns a Gate with the built-in phrase lists. Phrases are normalised
// once so matching only has to normalise the input.
func New() *Gate {
	g := &Gate{rules: make([]rule, len(rules))}
	for i, r := range rules {
		normalised := make([]string, len(r.phrases))
		for j, p := range r.phrases {
			normalised[j] = normalize(p)
		}
		r.phrases = normalised
		g.rules[i] = r
	}
	return g
}

// Evaluate returns the verdict for text. Only the first matching category is
// reported; medical advice requests are allowed but annotated.
func (g *Gate) Evaluate(text, loc string) models.SafetyVerdict {
	haystack := normalize(text)
	for _, r := range g.rules {
		for _, p := range r.phrases {
			if strings.Contains(haystack, p) {
				return models.SafetyVerdict{
					Allowed:  r.allowed,
					Category: r.category,
					Message:  locale.T(loc, r.message),
				}
			}
		}
	}
	return models.SafetyVerdict{Allowed: true}
}

// normalize strips accents, lower-cases, drops apostrophes, turns all other
// punctuation into spaces and pads the result so phrases only match on word
// boundaries.
func normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	b.Grow(len(folded) + 2)
	b.WriteByte(' ')
	space := true
	for _, r := range strings.ToLower(folded) {
		switch {
		case r == '\'' || r == '’':
			continue
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			space = false
		default:
			if !space {
				b.WriteByte(' ')
				space = true
			}
		}
	}
	if !space {
		b.WriteByte(' ')
	}
	return b.String()
}
