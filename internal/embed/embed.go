// Package embed implements the Embedding Client (C3 in spec.md §4.3),
// grounded almost directly on the teacher's
// internal/plugin/embed/openai/openai.go: same raw net/http POST to an
// /embeddings endpoint. Extended with the typed
// error classification spec.md requires (AuthError/RateLimit/Transient/
// Permanent), which the teacher's version leaves as a bare error.
package embed

import (
	"context"
	"math"

	"github.com/quillmind/memoryd/internal/model"
)

// Embedder turns text into fixed-dimension vectors.
type Embedder interface {
	// EmbedTexts embeds a batch of texts in one round trip.
	EmbedTexts(ctx context.Context, texts []string) ([]model.Vector, error)
	// Embed is a convenience wrapper over EmbedTexts for a single text.
	Embed(ctx context.Context, text string) (model.Vector, error)
	// Dimension reports the fixed vector length this embedder produces.
	Dimension() int
	// ModelName identifies the provider model in use, for logging/metadata.
	ModelName() string
}

// CosineSimilarity computes cosine similarity between two vectors of equal
// length. Per spec.md §4.3, a zero-length vector returns 0 (never NaN);
// a dimension mismatch is the caller's responsibility to check first (the
// vector index returns a Validation error for it) — CosineSimilarity itself just returns 0 if lengths
// differ, since it has no way to signal a typed error from a float return.
func CosineSimilarity(a, b model.Vector) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
