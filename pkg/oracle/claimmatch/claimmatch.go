// Package claimmatch implements the similarity-based evaluation strategy as an
// [oracle.CoverageOracle]: claims are extracted from the answer, matched
// against the bullet by a [oracle.SimilarityMatcher], and the best score is
// thresholded into a coverage verdict.
//
// Exposing the strategy behind the CoverageOracle shape keeps the state
// machine and the scheduler strategy-agnostic — they cannot tell whether a
// verdict came from an LLM classifier or from embedding similarity.
package claimmatch

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/vivavoce-ai/vivavoce/pkg/oracle"
)

const (
	// DefaultPresentThreshold is the similarity score at and above which a
	// bullet counts as covered.
	DefaultPresentThreshold = 0.75

	// DefaultPartialThreshold is the similarity score at and above which a
	// bullet counts as partially covered. Set to 0 for the binary variant
	// (covered/uncovered only).
	DefaultPartialThreshold = 0.50
)

// Ensure Oracle implements the oracle.CoverageOracle interface.
var _ oracle.CoverageOracle = (*Oracle)(nil)

// Oracle is the claim-matching [oracle.CoverageOracle].
//
// The engine calls Classify once per bullet per cycle with the same full
// answer, so the claim extraction for a given answer text is cached and reused
// across those per-bullet calls. Claims themselves stay ephemeral: a new
// answer text replaces the cache entirely.
//
// Oracle is safe for concurrent use.
type Oracle struct {
	claims    oracle.ClaimOracle
	matcher   oracle.SimilarityMatcher
	present   float64
	partial   float64

	mu         sync.Mutex
	lastAnswer string
	lastClaims []string
	bestScores map[string]float64 // bullet text → best similarity seen
}

// Config configures an [Oracle].
type Config struct {
	// Claims extracts discrete claims from the answer. Must not be nil.
	Claims oracle.ClaimOracle

	// Matcher scores claims against bullet texts. Must not be nil.
	Matcher oracle.SimilarityMatcher

	// PresentThreshold is the covered cut-off. Defaults to
	// DefaultPresentThreshold when zero. Must stay within (0, 1].
	PresentThreshold float64

	// PartialThreshold is the partial cut-off. Negative selects the binary
	// variant; zero defaults to DefaultPartialThreshold.
	PartialThreshold float64
}

// New creates a claim-matching coverage oracle.
func New(cfg Config) (*Oracle, error) {
	if cfg.Claims == nil {
		return nil, fmt.Errorf("claimmatch: Claims must not be nil")
	}
	if cfg.Matcher == nil {
		return nil, fmt.Errorf("claimmatch: Matcher must not be nil")
	}

	present := cfg.PresentThreshold
	if present == 0 {
		present = DefaultPresentThreshold
	}
	if present <= 0 || present > 1 {
		return nil, fmt.Errorf("claimmatch: present threshold %.2f out of (0, 1]", present)
	}

	partial := cfg.PartialThreshold
	if partial == 0 {
		partial = DefaultPartialThreshold
	}
	if partial >= present {
		return nil, fmt.Errorf("claimmatch: partial threshold %.2f must be below present threshold %.2f", partial, present)
	}

	return &Oracle{
		claims:     cfg.Claims,
		matcher:    cfg.Matcher,
		present:    present,
		partial:    partial,
		bestScores: make(map[string]float64),
	}, nil
}

// Classify implements oracle.CoverageOracle.
//
// A claim-extraction failure is not fatal: the answer is split into naive
// sentences instead, a lower-quality substitute claim list. A matcher failure
// is returned as an error so the engine can degrade conservatively.
func (o *Oracle) Classify(ctx context.Context, bulletText, fullAnswer string) (oracle.CoverageVerdict, error) {
	claimTexts, err := o.claimTexts(ctx, fullAnswer)
	if err != nil {
		return "", err
	}
	if len(claimTexts) == 0 {
		return o.below(), nil
	}

	matches, err := o.matcher.BestMatch(ctx, claimTexts, []string{bulletText})
	if err != nil {
		return "", fmt.Errorf("claimmatch: match claims: %w", err)
	}

	best := 0.0
	for _, m := range matches {
		if m.Score > best {
			best = m.Score
		}
	}

	o.mu.Lock()
	if best > o.bestScores[bulletText] {
		o.bestScores[bulletText] = best
	}
	o.mu.Unlock()

	switch {
	case best >= o.present:
		return oracle.CoverageCovered, nil
	case o.partial > 0 && best >= o.partial:
		return oracle.CoveragePartial, nil
	default:
		return o.below(), nil
	}
}

// BestScores returns a copy of the best similarity score seen per bullet text,
// for inclusion in the final session report.
func (o *Oracle) BestScores() map[string]float64 {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make(map[string]float64, len(o.bestScores))
	for k, v := range o.bestScores {
		out[k] = v
	}
	return out
}

// below returns the verdict for a score under every threshold: incomplete for
// the ternary variant, uncovered for the binary variant.
func (o *Oracle) below() oracle.CoverageVerdict {
	if o.partial > 0 {
		return oracle.CoverageIncomplete
	}
	return oracle.CoverageUncovered
}

// claimTexts returns the claim texts for fullAnswer, extracting once per
// distinct answer text and caching the result for the per-bullet calls of the
// same evaluation cycle.
func (o *Oracle) claimTexts(ctx context.Context, fullAnswer string) ([]string, error) {
	o.mu.Lock()
	if fullAnswer == o.lastAnswer && o.lastClaims != nil {
		cached := o.lastClaims
		o.mu.Unlock()
		return cached, nil
	}
	o.mu.Unlock()

	var texts []string
	claims, err := o.claims.Extract(ctx, fullAnswer)
	if err != nil {
		// Degraded substitute: naive sentence splitting.
		texts = splitSentences(fullAnswer)
	} else {
		texts = make([]string, 0, len(claims))
		for _, c := range claims {
			texts = append(texts, c.Text)
		}
	}

	o.mu.Lock()
	o.lastAnswer = fullAnswer
	o.lastClaims = texts
	o.mu.Unlock()
	return texts, nil
}

// splitSentences is the degraded claim list: the answer cut at sentence
// punctuation, blanks dropped.
func splitSentences(text string) []string {
	parts := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n'
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
