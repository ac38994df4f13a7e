// Package mock provides hand-written mock implementations of the oracle
// interfaces for use in tests.
package mock

import (
	"context"
	"sync"

	"github.com/vivavoce-ai/vivavoce/pkg/oracle"
)

// Compile-time interface checks.
var (
	_ oracle.CoverageOracle    = (*CoverageOracle)(nil)
	_ oracle.ConfidenceOracle  = (*ConfidenceOracle)(nil)
	_ oracle.ClaimOracle       = (*ClaimOracle)(nil)
	_ oracle.SimilarityMatcher = (*SimilarityMatcher)(nil)
	_ oracle.PhrasingOracle    = (*PhrasingOracle)(nil)
)

// CoverageOracle is a configurable mock [oracle.CoverageOracle].
//
// Verdicts maps bullet text to the verdict to return. Bullets without an
// entry fall back to ClassifyFunc when set, then to Default.
type CoverageOracle struct {
	mu    sync.Mutex
	calls int

	// Verdicts maps bullet text to a fixed verdict.
	Verdicts map[string]oracle.CoverageVerdict

	// ClassifyFunc, when non-nil, handles bullets missing from Verdicts.
	ClassifyFunc func(ctx context.Context, bulletText, fullAnswer string) (oracle.CoverageVerdict, error)

	// Default is returned when neither Verdicts nor ClassifyFunc applies.
	// Empty defaults to incomplete.
	Default oracle.CoverageVerdict

	// Err, when non-nil, is returned by every call.
	Err error
}

// Classify implements oracle.CoverageOracle.
func (m *CoverageOracle) Classify(ctx context.Context, bulletText, fullAnswer string) (oracle.CoverageVerdict, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.Err != nil {
		return "", m.Err
	}
	if v, ok := m.Verdicts[bulletText]; ok {
		return v, nil
	}
	if m.ClassifyFunc != nil {
		return m.ClassifyFunc(ctx, bulletText, fullAnswer)
	}
	if m.Default != "" {
		return m.Default, nil
	}
	return oracle.CoverageIncomplete, nil
}

// CallCount returns the number of Classify calls received so far.
func (m *CoverageOracle) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// ConfidenceOracle is a configurable mock [oracle.ConfidenceOracle].
type ConfidenceOracle struct {
	mu    sync.Mutex
	calls int

	// Verdict is returned by every call. Empty defaults to knows.
	Verdict oracle.ConfidenceVerdict

	// ClassifyFunc, when non-nil, handles calls instead of Verdict.
	ClassifyFunc func(ctx context.Context, latestText string) (oracle.ConfidenceVerdict, error)

	// Err, when non-nil, is returned by every call.
	Err error
}

// Classify implements oracle.ConfidenceOracle.
func (m *ConfidenceOracle) Classify(ctx context.Context, latestText string) (oracle.ConfidenceVerdict, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.Err != nil {
		return "", m.Err
	}
	if m.ClassifyFunc != nil {
		return m.ClassifyFunc(ctx, latestText)
	}
	if m.Verdict != "" {
		return m.Verdict, nil
	}
	return oracle.ConfidenceKnows, nil
}

// CallCount returns the number of Classify calls received so far.
func (m *ConfidenceOracle) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// ClaimOracle is a configurable mock [oracle.ClaimOracle].
type ClaimOracle struct {
	mu    sync.Mutex
	calls int

	// Claims is returned by every Extract call.
	Claims []oracle.Claim

	// Err, when non-nil, is returned by every call.
	Err error
}

// Extract implements oracle.ClaimOracle.
func (m *ClaimOracle) Extract(_ context.Context, _ string) ([]oracle.Claim, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}
	return m.Claims, nil
}

// CallCount returns the number of Extract calls received so far.
func (m *ClaimOracle) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// SimilarityMatcher is a configurable mock [oracle.SimilarityMatcher].
type SimilarityMatcher struct {
	// Matches is returned by BestMatch when BestMatchFunc is nil. When its
	// length differs from the claim list, the first entry is repeated.
	Matches []oracle.Match

	// BestMatchFunc, when non-nil, handles BestMatch calls.
	BestMatchFunc func(ctx context.Context, claimTexts, bulletTexts []string) ([]oracle.Match, error)

	// Err, when non-nil, is returned by every call.
	Err error
}

// BestMatch implements oracle.SimilarityMatcher.
func (m *SimilarityMatcher) BestMatch(ctx context.Context, claimTexts, bulletTexts []string) ([]oracle.Match, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	if m.BestMatchFunc != nil {
		return m.BestMatchFunc(ctx, claimTexts, bulletTexts)
	}
	if len(m.Matches) == len(claimTexts) {
		return m.Matches, nil
	}
	out := make([]oracle.Match, len(claimTexts))
	for i := range out {
		if len(m.Matches) > 0 {
			out[i] = m.Matches[0]
		}
	}
	return out, nil
}

// PhrasingOracle is a configurable mock [oracle.PhrasingOracle].
type PhrasingOracle struct {
	// Question is returned by Compose. Empty defaults to a fixed question.
	Question string

	// Err, when non-nil, is returned by every call.
	Err error
}

// Compose implements oracle.PhrasingOracle.
func (m *PhrasingOracle) Compose(_ context.Context, targetBulletText string, _ []string) (string, error) {
	if m.Err != nil {
		return "", m.Err
	}
	if m.Question != "" {
		return m.Question, nil
	}
	return "Could you say more about: " + targetBulletText + "?", nil
}
