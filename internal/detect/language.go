package detect

import "strings"

// Supported reply languages.
const (
	LangSpanish    = "es"
	LangEnglish    = "en"
	LangPortuguese = "pt"
)

var languageMarkers = map[string][]string{
	LangEnglish:    {"hello", "hi", "the", "how", "what", "want", "book", "please", "thanks", "thank", "price", "buy", "is", "are", "you", "my"},
	LangPortuguese: {"olá", "ola", "obrigado", "obrigada", "você", "voce", "quero", "livro", "não", "nao", "como", "comprar", "tudo", "bem", "meu", "estou"},
	LangSpanish:    {"hola", "gracias", "quiero", "libro", "cómo", "como", "qué", "que", "usted", "tú", "estoy", "mi", "por", "favor", "soy", "el", "los", "precio"},
}

// Language guesses the reply language from stopword hits. Spanish wins ties and empty input.
func Language(text string) string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return r == ' ' || r == ',' || r == '.' || r == '!' || r == '?' || r == '¿' || r == '¡' || r == '\n' || r == '\t'
	})
	if len(words) == 0 {
		return LangSpanish
	}

	score := map[string]int{}
	for _, w := range words {
		for lang, markers := range languageMarkers {
			for _, m := range markers {
				if w == m {
					score[lang]++
				}
			}
		}
	}

	best := LangSpanish
	for _, lang := range []string{LangEnglish, LangPortuguese} {
		if score[lang] > score[best] {
			best = lang
		}
	}
	return best
}

// NormalizeLanguage maps free-form language tags to a supported code, defaulting to Spanish.
func NormalizeLanguage(lang string) string {
	switch strings.ToLower(strings.TrimSpace(lang)) {
	case "en", "en-us", "en-gb", "english", "ingles", "inglés":
		return LangEnglish
	case "pt", "pt-br", "pt-pt", "portuguese", "portugues", "portugués":
		return LangPortuguese
	default:
		return LangSpanish
	}
}
