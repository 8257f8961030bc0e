package vector

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"google.golang.org/genai"
)

// GenkitGenerator adapts a Genkit ai.Embedder to the Generator interface.
//
// Note: downstream cosine similarity assumes comparable vector norms; the
// Gemini embedders return normalized vectors, so no manual normalization is
// applied here.
type GenkitGenerator struct {
	embedder ai.Embedder
	dim      int32
}

// NewGenkitGenerator wraps embedder as a Generator producing dim-sized
// vectors. Gemini embedders default to 3072 dimensions, so every request
// carries OutputDimensionality to match the pgvector schema.
func NewGenkitGenerator(embedder ai.Embedder, dim int) *GenkitGenerator {
	return &GenkitGenerator{embedder: embedder, dim: int32(dim)}
}

// Embed generates an embedding for text. Provider failures wrap ErrService
// so callers can degrade uniformly.
func (g *GenkitGenerator) Embed(ctx context.Context, text string) ([]float32, error) {
	dim := g.dim
	resp, err := g.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{
			ai.DocumentFromText(text, nil),
		},
		Options: &genai.EmbedContentConfig{OutputDimensionality: &dim},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: embed: %w", ErrService, err)
	}

	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, fmt.Errorf("%w: empty embedding returned", ErrService)
	}

	return resp.Embeddings[0].Embedding, nil
}
