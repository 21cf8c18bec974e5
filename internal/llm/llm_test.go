package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"funnel-bot/internal/logging"
	"funnel-bot/internal/metrics"
)

func TestOpenAICompleteSendsSystemAndHistory(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"), r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"  hola trader  "}}],
"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`))
	}))
	defer srv.Close()

	m := metrics.Discard()
	client := NewOpenAI(OpenAIConfig{APIKey: "k", BaseURL: srv.URL + "/", Timeout: time.Second}, logging.Discard(), m)

	out, err := client.Complete(context.Background(), Request{
		Operation:   "generate",
		System:      "eres un mentor",
		Messages:    []Message{{Role: RoleUser, Content: "hola"}, {Role: RoleAssistant, Content: "bienvenido"}, {Role: RoleUser, Content: "ayuda"}},
		Temperature: 0.3,
		MaxTokens:   500,
	})
	require.NoError(t, err)
	assert.Equal(t, "hola trader", out)

	msgs, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 4)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "assistant", msgs[2].(map[string]any)["role"])
	assert.EqualValues(t, 500, body["max_completion_tokens"])
	assert.InDelta(t, 0.3, body["temperature"], 1e-9)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.LLMRequests.WithLabelValues("generate", "ok")))
}

func TestOpenAICompleteReportsProviderErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	}))
	defer srv.Close()

	m := metrics.Discard()
	client := NewOpenAI(OpenAIConfig{APIKey: "k", BaseURL: srv.URL + "/"}, logging.Discard(), m)
	_, err := client.Complete(context.Background(), Request{Operation: "classify", Messages: []Message{{Role: RoleUser, Content: "x"}}})
	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LLMRequests.WithLabelValues("classify", "error")))
}

func TestOpenAIEmbedConvertsToFloat32(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/embeddings"), r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","model":"text-embedding-3-small",
"data":[{"object":"embedding","index":0,"embedding":[0.5,-0.25,1]}],
"usage":{"prompt_tokens":1,"total_tokens":1}}`))
	}))
	defer srv.Close()

	client := NewOpenAI(OpenAIConfig{APIKey: "k", BaseURL: srv.URL + "/"}, logging.Discard(), metrics.Discard())
	vec, err := client.Embed(context.Background(), "riesgo")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, -0.25, 1}, vec)
}

func TestGeminiCompleteReturnsText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, ":generateContent")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"listo"}]},"finishReason":"STOP"}]}`))
	}))
	defer srv.Close()

	client, err := NewGemini(context.Background(), GeminiConfig{APIKey: "k", BaseURL: srv.URL}, logging.Discard(), metrics.Discard())
	require.NoError(t, err)
	out, err := client.Complete(context.Background(), Request{System: "s", Messages: []Message{{Role: RoleUser, Content: "hola"}}})
	require.NoError(t, err)
	assert.Equal(t, "listo", out)
}

func TestNewGeminiRequiresKey(t *testing.T) {
	_, err := NewGemini(context.Background(), GeminiConfig{}, logging.Discard(), metrics.Discard())
	require.Error(t, err)
}

func TestMockClassifiesByKeyword(t *testing.T) {
	out, err := Mock{}.Complete(context.Background(), Request{Operation: "classify", Messages: []Message{{Role: RoleUser, Content: "Quiero hablar con un humano"}}})
	require.NoError(t, err)
	assert.Contains(t, out, `"ESCALAMIENTO"`)

	out, err = Mock{}.Complete(context.Background(), Request{Operation: "classify", Messages: []Message{{Role: RoleUser, Content: "Hola"}}})
	require.NoError(t, err)
	assert.Contains(t, out, `"CONVERSACION_GENERAL"`)
}

func TestMockEmbedIsDeterministicUnitVector(t *testing.T) {
	a, err := Mock{Dimensions: 16}.Embed(context.Background(), "gestion de riesgo")
	require.NoError(t, err)
	b, err := Mock{Dimensions: 16}.Embed(context.Background(), "Gestion de riesgo")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	require.Len(t, a, 16)

	var norm float32
	for _, v := range a {
		norm += v * v
	}
	assert.InDelta(t, 1.0, norm, 1e-5)
}
