// Package oracle defines the external classification contracts consumed by the
// coverage engine: coverage classification, speaker-confidence detection, claim
// extraction, similarity matching, and follow-up phrasing.
//
// The engine never performs natural-language understanding itself. It calls
// these interfaces with bounded timeouts and degrades conservatively when a
// call fails (see the engine package for the degradation rules). Implementors
// must be safe for concurrent use and must respect context cancellation.
package oracle

import "context"

// CoverageVerdict classifies how completely a bullet point has been addressed
// by the answer so far.
type CoverageVerdict string

const (
	// CoverageCovered means the bullet is clearly or implicitly addressed,
	// even with different wording.
	CoverageCovered CoverageVerdict = "covered"

	// CoveragePartial means the bullet is touched upon but lacks clarity or
	// completeness.
	CoveragePartial CoverageVerdict = "partial"

	// CoverageIncomplete means the bullet is missing or wrong.
	CoverageIncomplete CoverageVerdict = "incomplete"

	// CoverageUncovered is the binary-strategy variant of "not covered".
	CoverageUncovered CoverageVerdict = "uncovered"
)

// IsValid reports whether v is a recognised coverage verdict.
func (v CoverageVerdict) IsValid() bool {
	switch v {
	case CoverageCovered, CoveragePartial, CoverageIncomplete, CoverageUncovered:
		return true
	}
	return false
}

// ConfidenceVerdict classifies the speaker's certainty in their most recent
// utterance.
type ConfidenceVerdict string

const (
	// ConfidenceKnows means the speaker sounds confident.
	ConfidenceKnows ConfidenceVerdict = "knows"

	// ConfidenceUncertain means the speaker sounds hesitant or unsure.
	ConfidenceUncertain ConfidenceVerdict = "uncertain"

	// ConfidenceDoesNotKnow means the speaker explicitly admits not knowing.
	ConfidenceDoesNotKnow ConfidenceVerdict = "does_not_know"
)

// IsValid reports whether v is a recognised confidence verdict.
func (v ConfidenceVerdict) IsValid() bool {
	switch v {
	case ConfidenceKnows, ConfidenceUncertain, ConfidenceDoesNotKnow:
		return true
	}
	return false
}

// Claim is a discrete assertion extracted from a transcript fragment. Claims
// are ephemeral: they are recomputed every evaluation cycle and never persisted
// beyond the cycle that produced them.
type Claim struct {
	// Text is the claim stated as a standalone sentence.
	Text string

	// Entities lists named entities mentioned in the claim. May be empty.
	Entities []string

	// Predicate is the claim's main verb or relation. May be empty.
	Predicate string
}

// Match pairs a claim with the bullet it best aligns to.
type Match struct {
	// BulletIndex is the index into the bulletTexts slice passed to
	// [SimilarityMatcher.BestMatch].
	BulletIndex int

	// Score is the similarity in [0, 1]; higher is more similar.
	Score float64
}

// CoverageOracle classifies how completely one bullet has been addressed given
// the full answer so far. This is the ground-truth coverage signal: only a
// CoverageOracle verdict can mark a bullet covered.
type CoverageOracle interface {
	// Classify returns a coverage verdict for bulletText against fullAnswer.
	// Implementations return an error on timeout, transport failure, or a
	// malformed backend response; the caller degrades per its own policy.
	Classify(ctx context.Context, bulletText, fullAnswer string) (CoverageVerdict, error)
}

// ConfidenceOracle classifies the speaker's certainty in the most recent
// transcript batch. Confidence is a secondary signal: it only matters in the
// window right after a follow-up was asked, and it can never mark a bullet
// covered on its own.
type ConfidenceOracle interface {
	Classify(ctx context.Context, latestText string) (ConfidenceVerdict, error)
}

// ClaimOracle extracts discrete claims from a transcript fragment. Used by the
// similarity-based evaluation strategy together with a [SimilarityMatcher].
type ClaimOracle interface {
	// Extract returns the claims asserted in fragmentText, in utterance order.
	Extract(ctx context.Context, fragmentText string) ([]Claim, error)
}

// SimilarityMatcher scores claims against bullet texts.
type SimilarityMatcher interface {
	// BestMatch returns, for each claim in claimTexts, the index of its
	// best-matching bullet in bulletTexts and a similarity score in [0, 1].
	// The returned slice has the same length and order as claimTexts.
	BestMatch(ctx context.Context, claimTexts, bulletTexts []string) ([]Match, error)
}

// PhrasingOracle turns a selected bullet into a natural follow-up question.
// The scheduler decides which bullet to target; the PhrasingOracle only decides
// how to ask about it.
type PhrasingOracle interface {
	// Compose returns follow-up question text for targetBulletText.
	// uncoveredBulletTexts provides the other still-open points as context so
	// the phrasing can avoid giving away adjacent answers.
	Compose(ctx context.Context, targetBulletText string, uncoveredBulletTexts []string) (string, error)
}
