package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"funnel-bot/internal/domain"
	"funnel-bot/internal/knowledge"
	"funnel-bot/internal/llm"
	"funnel-bot/internal/logging"
	"funnel-bot/internal/memory"
	"funnel-bot/internal/repo"
)

type recordingCompleter struct {
	mu    sync.Mutex
	reply string
	err   error
	reqs  []llm.Request
}

func (c *recordingCompleter) Complete(_ context.Context, req llm.Request) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reqs = append(c.reqs, req)
	return c.reply, c.err
}

func (c *recordingCompleter) calls() []llm.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]llm.Request(nil), c.reqs...)
}

type fixture struct {
	router    *Router
	completer *recordingCompleter
	history   *memory.Store
}

func newFixture(t *testing.T, reply string, err error) *fixture {
	t.Helper()
	r := repo.NewMemory()
	emb := llm.Mock{}
	vec, embErr := emb.Embed(context.Background(), "que es el stop loss")
	require.NoError(t, embErr)
	r.SeedChunks(repo.KnowledgeChunk{ID: "k1", Content: "El stop loss limita la pérdida de una operación.", Source: "Manual", Category: "riesgo", Embedding: vec})

	cache := memory.NewLocalCache(time.Minute, time.Minute)
	t.Cleanup(cache.Close)
	history := memory.NewStore(r, cache, 10, logging.Discard())
	completer := &recordingCompleter{reply: reply, err: err}
	router := New(completer, knowledge.New(emb, r, logging.Discard()), history, Config{HumanContact: "soporte@academia.com"}, logging.Discard())
	return &fixture{router: router, completer: completer, history: history}
}

func TestEscalationNeverCallsModel(t *testing.T) {
	f := newFixture(t, "no debería usarse", nil)

	calm := f.router.Respond(context.Background(), Request{Intent: domain.IntentEscalation, Name: "Ana", Language: "es", Emotion: domain.EmotionNeutral})
	angry := f.router.Respond(context.Background(), Request{Intent: domain.IntentEscalation, Name: "Ana", Language: "es", Emotion: domain.EmotionAngry})
	english := f.router.Respond(context.Background(), Request{Intent: domain.IntentEscalation, Language: "en"})

	assert.Empty(t, f.completer.calls())
	assert.Contains(t, calm, "Ana")
	assert.Contains(t, calm, "soporte@academia.com")
	assert.NotEqual(t, calm, angry)
	assert.Contains(t, angry, "lamento")
	assert.Contains(t, english, "fellow trader")
}

func TestRespondBuildsPromptAndStoresTurns(t *testing.T) {
	f := newFixture(t, "  El stop loss es tu red de seguridad.  ", nil)
	ctx := context.Background()
	require.NoError(t, f.history.AddMessage(ctx, "sub-1", domain.RoleUser, "hola"))
	require.NoError(t, f.history.AddMessage(ctx, "sub-1", domain.RoleAssistant, "¡Hola! ¿En qué te ayudo?"))

	reply := f.router.Respond(ctx, Request{Intent: domain.IntentTechnical, SubscriberID: "sub-1", Name: "Ana", Message: "que es el stop loss", Language: "es"})
	assert.Equal(t, "El stop loss es tu red de seguridad.", reply)

	calls := f.completer.calls()
	require.Len(t, calls, 1)
	req := calls[0]
	assert.Equal(t, "generate", req.Operation)
	assert.InDelta(t, 0.3, req.Temperature, 1e-9)
	assert.Equal(t, 500, req.MaxTokens)
	assert.Contains(t, req.System, "analista técnico")
	assert.Contains(t, req.System, "No mezcles idiomas")
	assert.Contains(t, req.System, "El stop loss limita la pérdida")
	require.Len(t, req.Messages, 3)
	assert.Equal(t, llm.RoleAssistant, req.Messages[1].Role)
	assert.Equal(t, "que es el stop loss", req.Messages[2].Content)

	turns, err := f.history.GetHistory(ctx, "sub-1", 10)
	require.NoError(t, err)
	require.Len(t, turns, 4)
	assert.Equal(t, domain.RoleUser, turns[2].Role)
	assert.Equal(t, "que es el stop loss", turns[2].Content)
	assert.Equal(t, domain.RoleAssistant, turns[3].Role)
	assert.Equal(t, "El stop loss es tu red de seguridad.", turns[3].Content)
}

func TestExploratoryIntentsRunWarmer(t *testing.T) {
	assert.Greater(t, temperatureFor(domain.IntentGeneral), temperatureFor(domain.IntentTechnical))
	for _, intent := range domain.Intents {
		temp := temperatureFor(intent)
		assert.GreaterOrEqual(t, temp, 0.3, intent)
		assert.LessOrEqual(t, temp, 0.8, intent)
		assert.NotEmpty(t, personaFor(intent), intent)
	}
}

func TestGeneratorFailureReturnsFallback(t *testing.T) {
	f := newFixture(t, "", errors.New("model overloaded"))
	ctx := context.Background()

	reply := f.router.Respond(ctx, Request{Intent: domain.IntentGeneral, SubscriberID: "sub-1", Message: "hola", Language: "pt"})
	assert.Contains(t, reply, "Desculpe")
	assert.Contains(t, reply, "soporte@academia.com")

	turns, err := f.history.GetHistory(ctx, "sub-1", 10)
	require.NoError(t, err)
	assert.Empty(t, turns, "failed exchanges are not stored")
}
