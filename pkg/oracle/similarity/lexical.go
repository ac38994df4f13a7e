package similarity

import (
	"context"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/vivavoce-ai/vivavoce/pkg/oracle"
)

// Ensure LexicalMatcher implements the oracle.SimilarityMatcher interface.
var _ oracle.SimilarityMatcher = (*LexicalMatcher)(nil)

// LexicalMatcher scores claims against bullets without any model backend,
// combining per-word Double Metaphone overlap with Jaro-Winkler similarity on
// the raw strings. It is noticeably weaker than the embedding matcher on
// paraphrases but works offline, which makes it the degraded-mode matcher when
// no embeddings provider is configured or reachable.
//
// The score is phoneticWeight × (shared phonetic codes / claim codes) +
// (1 − phoneticWeight) × Jaro-Winkler, both in [0, 1].
//
// LexicalMatcher is read-only after construction and safe for concurrent use.
type LexicalMatcher struct {
	phoneticWeight float64
}

// Option is a functional option for LexicalMatcher.
type Option func(*LexicalMatcher)

// WithPhoneticWeight sets the weight of the phonetic-overlap component in
// [0, 1]. Default: 0.5.
func WithPhoneticWeight(w float64) Option {
	return func(m *LexicalMatcher) {
		m.phoneticWeight = w
	}
}

// NewLexicalMatcher creates a LexicalMatcher with the supplied options.
func NewLexicalMatcher(opts ...Option) *LexicalMatcher {
	m := &LexicalMatcher{phoneticWeight: 0.5}
	for _, o := range opts {
		o(m)
	}
	return m
}

// BestMatch implements oracle.SimilarityMatcher.
func (m *LexicalMatcher) BestMatch(_ context.Context, claimTexts, bulletTexts []string) ([]oracle.Match, error) {
	if len(claimTexts) == 0 || len(bulletTexts) == 0 {
		return nil, nil
	}

	bulletCodes := make([]map[string]bool, len(bulletTexts))
	for j, b := range bulletTexts {
		bulletCodes[j] = phoneticCodes(b)
	}

	matches := make([]oracle.Match, len(claimTexts))
	for i, claim := range claimTexts {
		codes := phoneticCodes(claim)
		best := oracle.Match{BulletIndex: -1}
		for j, bullet := range bulletTexts {
			score := m.score(claim, codes, bullet, bulletCodes[j])
			if best.BulletIndex < 0 || score > best.Score {
				best = oracle.Match{BulletIndex: j, Score: score}
			}
		}
		matches[i] = best
	}
	return matches, nil
}

// score combines phonetic-code overlap with Jaro-Winkler similarity.
func (m *LexicalMatcher) score(claim string, claimCodes map[string]bool, bullet string, bulletCodes map[string]bool) float64 {
	overlap := 0.0
	if len(claimCodes) > 0 {
		shared := 0
		for code := range claimCodes {
			if bulletCodes[code] {
				shared++
			}
		}
		overlap = float64(shared) / float64(len(claimCodes))
	}

	jw := matchr.JaroWinkler(strings.ToLower(claim), strings.ToLower(bullet), true)

	return m.phoneticWeight*overlap + (1-m.phoneticWeight)*jw
}

// phoneticCodes returns the set of Double Metaphone codes for every word in s.
func phoneticCodes(s string) map[string]bool {
	codes := make(map[string]bool)
	for _, word := range strings.Fields(strings.ToLower(s)) {
		word = strings.Trim(word, ".,;:!?()'\"")
		if word == "" {
			continue
		}
		primary, secondary := matchr.DoubleMetaphone(word)
		if primary != "" {
			codes[primary] = true
		}
		if secondary != "" {
			codes[secondary] = true
		}
	}
	return codes
}
