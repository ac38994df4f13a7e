// Package similarity implements [oracle.SimilarityMatcher] two ways: dense
// embedding cosine similarity (the primary matcher) and a lexical
// Double Metaphone + Jaro-Winkler matcher that needs no model backend.
package similarity

import (
	"context"
	"fmt"
	"math"

	"github.com/vivavoce-ai/vivavoce/pkg/oracle"
	"github.com/vivavoce-ai/vivavoce/pkg/provider/embeddings"
)

// Ensure EmbeddingMatcher implements the oracle.SimilarityMatcher interface.
var _ oracle.SimilarityMatcher = (*EmbeddingMatcher)(nil)

// EmbeddingMatcher scores claims against bullets by cosine similarity of their
// embedding vectors. Claims and bullets are embedded in one batched provider
// call each.
//
// Cosine similarity lands in [-1, 1]; it is rescaled to [0, 1] so scores
// compose with the engine's thresholds. EmbeddingMatcher is safe for
// concurrent use.
type EmbeddingMatcher struct {
	provider embeddings.Provider
}

// NewEmbeddingMatcher creates an EmbeddingMatcher backed by provider.
func NewEmbeddingMatcher(provider embeddings.Provider) (*EmbeddingMatcher, error) {
	if provider == nil {
		return nil, fmt.Errorf("similarity: provider must not be nil")
	}
	return &EmbeddingMatcher{provider: provider}, nil
}

// BestMatch implements oracle.SimilarityMatcher.
func (m *EmbeddingMatcher) BestMatch(ctx context.Context, claimTexts, bulletTexts []string) ([]oracle.Match, error) {
	if len(claimTexts) == 0 || len(bulletTexts) == 0 {
		return nil, nil
	}

	claimVecs, err := m.provider.EmbedBatch(ctx, claimTexts)
	if err != nil {
		return nil, fmt.Errorf("similarity: embed claims: %w", err)
	}
	bulletVecs, err := m.provider.EmbedBatch(ctx, bulletTexts)
	if err != nil {
		return nil, fmt.Errorf("similarity: embed bullets: %w", err)
	}

	matches := make([]oracle.Match, len(claimTexts))
	for i, cv := range claimVecs {
		best := oracle.Match{BulletIndex: -1}
		for j, bv := range bulletVecs {
			score := rescale(cosine(cv, bv))
			if best.BulletIndex < 0 || score > best.Score {
				best = oracle.Match{BulletIndex: j, Score: score}
			}
		}
		matches[i] = best
	}
	return matches, nil
}

// cosine returns the cosine similarity of a and b, or 0 when either vector has
// zero magnitude or the lengths differ.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// rescale maps cosine similarity from [-1, 1] to [0, 1], clamping float noise.
func rescale(sim float64) float64 {
	s := (sim + 1) / 2
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
