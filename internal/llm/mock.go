package llm

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"math"
	"strings"
)

// Mock answers locally without a provider. It backs MOCK_MODE so the service can be
// exercised end to end without API keys.
type Mock struct {
	// Dimensions of the vectors returned by Embed. Defaults to 64.
	Dimensions int
}

// Complete returns a keyword-based classification for the "classify" operation and a
// short canned reply otherwise.
func (m Mock) Complete(_ context.Context, req Request) (string, error) {
	last := ""
	if n := len(req.Messages); n > 0 {
		last = req.Messages[n-1].Content
	}
	if req.Operation == "classify" {
		return mockClassification(last), nil
	}
	return "Gracias por tu mensaje. Un asesor de la academia te acompaña en tu camino como trader.", nil
}

// Embed hashes word tokens into a fixed-size unit vector so identical texts match.
func (m Mock) Embed(_ context.Context, text string) ([]float32, error) {
	dims := m.Dimensions
	if dims <= 0 {
		dims = 64
	}
	vec := make([]float32, dims)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		vec[h.Sum32()%uint32(dims)]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v * v)
	}
	if norm == 0 {
		return vec, nil
	}
	n := float32(math.Sqrt(norm))
	for i := range vec {
		vec[i] /= n
	}
	return vec, nil
}

var mockIntentKeywords = []struct {
	intent  string
	emotion string
	words   []string
}{
	{"ESCALAMIENTO", "ENOJADO", []string{"humano", "asesor", "persona real"}},
	{"QUEJA", "FRUSTRADO", []string{"estafa", "reembolso", "queja"}},
	{"APRENDER_CERO", "CURIOSO", []string{"desde cero", "empezar", "principiante"}},
	{"PREGUNTA_TECNICA", "CURIOSO", []string{"stop loss", "soporte", "resistencia", "indicador"}},
	{"PREGUNTA_PSICOLOGIA", "FRUSTRADO", []string{"miedo", "ansiedad", "disciplina"}},
	{"INFO_PRODUCTOS", "CURIOSO", []string{"precio", "curso", "mentoria"}},
}

func mockClassification(text string) string {
	lower := strings.ToLower(text)
	out := map[string]any{
		"intent":           "CONVERSACION_GENERAL",
		"emotion":          "NEUTRAL",
		"experience_level": nil,
		"urgency":          "baja",
	}
	for _, k := range mockIntentKeywords {
		for _, w := range k.words {
			if strings.Contains(lower, w) {
				out["intent"] = k.intent
				out["emotion"] = k.emotion
				data, _ := json.Marshal(out)
				return string(data)
			}
		}
	}
	data, _ := json.Marshal(out)
	return string(data)
}
