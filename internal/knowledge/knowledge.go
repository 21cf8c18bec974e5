// Package knowledge retrieves academy knowledge snippets by embedding similarity and
// renders them as prompt context.
package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"funnel-bot/internal/llm"
	"funnel-bot/internal/repo"
)

const (
	DefaultThreshold = 0.7
	DefaultTopK      = 5
)

// Index stores chunks and answers nearest-neighbour queries over them.
type Index interface {
	InsertKnowledgeChunk(ctx context.Context, chunk repo.KnowledgeChunk) (*repo.KnowledgeChunk, error)
	SearchKnowledge(ctx context.Context, embedding []float32, threshold float64, limit int) ([]repo.KnowledgeChunk, error)
}

// Retriever embeds queries and looks them up in the index.
type Retriever struct {
	embedder llm.Embedder
	index    Index
	logger   *slog.Logger
}

// New returns a retriever.
func New(embedder llm.Embedder, index Index, logger *slog.Logger) *Retriever {
	return &Retriever{embedder: embedder, index: index, logger: logger.With("component", "knowledge")}
}

// Search returns at most topK chunks with similarity >= threshold, best first.
// Failures are logged and yield an empty result.
func (r *Retriever) Search(ctx context.Context, query string, threshold float64, topK int) []repo.KnowledgeChunk {
	if strings.TrimSpace(query) == "" {
		return nil
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		r.logger.Warn("query embedding failed, continuing without knowledge", "error", err)
		return nil
	}
	chunks, err := r.index.SearchKnowledge(ctx, vec, threshold, topK)
	if err != nil {
		r.logger.Warn("knowledge search failed", "error", err)
		return nil
	}
	if len(chunks) > topK {
		chunks = chunks[:topK]
	}
	return chunks
}

// Ingest embeds content and stores it as a new chunk.
func (r *Retriever) Ingest(ctx context.Context, content, source, category string) (*repo.KnowledgeChunk, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("knowledge content is empty")
	}
	vec, err := r.embedder.Embed(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("embed chunk: %w", err)
	}
	chunk, err := r.index.InsertKnowledgeChunk(ctx, repo.KnowledgeChunk{
		Content:   content,
		Source:    source,
		Category:  category,
		Embedding: vec,
	})
	if err != nil {
		return nil, err
	}
	r.logger.Info("knowledge chunk stored", "id", chunk.ID, "source", source, "dimensions", len(vec))
	return chunk, nil
}

// FormatContext renders chunks for the generator. It returns "" for no chunks.
func FormatContext(chunks []repo.KnowledgeChunk) string {
	if len(chunks) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("CONTEXTO DE LA BASE DE CONOCIMIENTO:\n")
	for i, c := range chunks {
		fmt.Fprintf(&b, "\n[%d] Fuente: %s | Categoría: %s | Relevancia: %.0f%%\n%s\n",
			i+1, orDash(c.Source), orDash(c.Category), c.Similarity*100, strings.TrimSpace(c.Content))
	}
	b.WriteString("\nINSTRUCCIONES DE USO DEL CONTEXTO:\n")
	b.WriteString("- Prioriza esta información cuando sea relevante para la pregunta.\n")
	b.WriteString("- Si el contexto no es relevante, responde con tu conocimiento general.\n")
	b.WriteString("- Nunca inventes datos, precios ni políticas que no aparezcan en el contexto.\n")
	return b.String()
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
