package knowledge

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"funnel-bot/internal/llm"
	"funnel-bot/internal/logging"
	"funnel-bot/internal/repo"
)

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("quota exceeded")
}

func seeded(t *testing.T, emb llm.Embedder, texts ...string) *repo.MemoryRepository {
	t.Helper()
	r := repo.NewMemory()
	for _, text := range texts {
		vec, err := emb.Embed(context.Background(), text)
		require.NoError(t, err)
		_, err = r.InsertKnowledgeChunk(context.Background(), repo.KnowledgeChunk{Content: text, Source: "manual", Category: "riesgo", Embedding: vec})
		require.NoError(t, err)
	}
	return r
}

func TestSearchReturnsBestMatchFirst(t *testing.T) {
	emb := llm.Mock{Dimensions: 128}
	index := seeded(t, emb, "gestion de riesgo por operacion", "psicologia del trader", "gestion de riesgo")
	r := New(emb, index, logging.Discard())

	got := r.Search(context.Background(), "gestion de riesgo", DefaultThreshold, DefaultTopK)
	require.NotEmpty(t, got)
	assert.Equal(t, "gestion de riesgo", got[0].Content)
	assert.InDelta(t, 1.0, got[0].Similarity, 1e-5)
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].Similarity, got[i].Similarity)
		assert.GreaterOrEqual(t, got[i].Similarity, DefaultThreshold)
	}

	assert.Len(t, r.Search(context.Background(), "gestion de riesgo", 0, 1), 1)
}

func TestSearchDegradesToEmptyOnEmbeddingFailure(t *testing.T) {
	r := New(failingEmbedder{}, repo.NewMemory(), logging.Discard())
	assert.Empty(t, r.Search(context.Background(), "stop loss", DefaultThreshold, DefaultTopK))
}

func TestIngestStoresSearchableChunk(t *testing.T) {
	emb := llm.Mock{}
	r := New(emb, repo.NewMemory(), logging.Discard())

	chunk, err := r.Ingest(context.Background(), "  El libro incluye plantillas de diario  ", "libro", "producto")
	require.NoError(t, err)
	assert.Equal(t, "El libro incluye plantillas de diario", chunk.Content)

	got := r.Search(context.Background(), "el libro incluye plantillas de diario", DefaultThreshold, DefaultTopK)
	require.Len(t, got, 1)
	assert.Equal(t, chunk.ID, got[0].ID)

	_, err = r.Ingest(context.Background(), "   ", "libro", "producto")
	require.Error(t, err)
	_, err = New(failingEmbedder{}, repo.NewMemory(), logging.Discard()).Ingest(context.Background(), "x", "", "")
	require.Error(t, err)
}

func TestFormatContext(t *testing.T) {
	assert.Empty(t, FormatContext(nil))

	out := FormatContext([]repo.KnowledgeChunk{{Content: "Arriesga 1% por operación.", Source: "Curso Base", Category: "riesgo", Similarity: 0.873}})
	assert.Contains(t, out, "Fuente: Curso Base")
	assert.Contains(t, out, "Categoría: riesgo")
	assert.Contains(t, out, "87%")
	assert.Contains(t, out, "Nunca inventes")
	assert.Contains(t, out, "conocimiento general")
}
