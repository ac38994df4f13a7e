package llmoracle

import (
	"context"
	"fmt"

	"github.com/vivavoce-ai/vivavoce/pkg/oracle"
	"github.com/vivavoce-ai/vivavoce/pkg/provider/llm"
)

// Ensure Coverage implements the oracle.CoverageOracle interface.
var _ oracle.CoverageOracle = (*Coverage)(nil)

// coveragePrompt asks for a ternary completeness classification of one bullet
// against the full answer so far. The examples and the tolerance instructions
// matter: spoken answers paraphrase heavily and the classifier must be
// forgiving of rephrasings ("O of n log n" vs "log-linear time").
const coveragePrompt = `You are judging whether one point of a model answer has been addressed
in a candidate's spoken answer during a technical interview.

Point to check:
"%s"

Candidate's full answer so far:
"""%s"""

Classify the point as exactly one of:
- "covered": the idea is clearly or implicitly addressed, even with different wording.
- "partial": the idea is touched upon but lacks clarity or completeness.
- "incomplete": the idea is missing or wrong.

Be forgiving of spoken variations and rephrasings, for example:
- "O of n square" for O(n^2)
- "split into halves" for "divide recursively"
- "log-linear time" for O(n log n)

Examples:
Point: "Quicksort average-case is O(n log n)"
Answer: "Quicksort takes roughly n log n time on average" -> covered
Point: "Quicksort worst-case is O(n^2)"
Answer: "It can degrade if the pivot is bad" -> partial

Return JSON only: {"status": "<covered|partial|incomplete>"}`

// Coverage is an LLM-backed ternary [oracle.CoverageOracle].
type Coverage struct {
	provider llm.Provider
}

// NewCoverage constructs a Coverage oracle backed by provider.
func NewCoverage(provider llm.Provider) *Coverage {
	return &Coverage{provider: provider}
}

// Classify implements oracle.CoverageOracle.
func (c *Coverage) Classify(ctx context.Context, bulletText, fullAnswer string) (oracle.CoverageVerdict, error) {
	resp, err := c.provider.Complete(ctx, llm.CompletionRequest{
		Prompt:    fmt.Sprintf(coveragePrompt, bulletText, fullAnswer),
		MaxTokens: completionMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("llmoracle: coverage: %w", err)
	}

	var out struct {
		Status string `json:"status"`
	}
	if err := decodeJSONReply(resp.Content, &out); err != nil {
		return "", fmt.Errorf("llmoracle: coverage: %w", err)
	}

	verdict := oracle.CoverageVerdict(out.Status)
	if !verdict.IsValid() {
		return "", fmt.Errorf("llmoracle: coverage: unknown status %q", out.Status)
	}
	return verdict, nil
}
