package llmoracle

import (
	"context"
	"fmt"

	"github.com/vivavoce-ai/vivavoce/pkg/oracle"
	"github.com/vivavoce-ai/vivavoce/pkg/provider/llm"
)

// Ensure Confidence implements the oracle.ConfidenceOracle interface.
var _ oracle.ConfidenceOracle = (*Confidence)(nil)

const confidencePrompt = `You are analyzing a transcript segment from a technical interview.
Determine whether the speaker sounds confident, sounds uncertain, or admits not knowing.

Transcript:
"""%s"""

Return JSON only, with a single key "state" whose value is one of:
["knows", "uncertain", "does_not_know"].`

// Confidence is an LLM-backed [oracle.ConfidenceOracle].
type Confidence struct {
	provider llm.Provider
}

// NewConfidence constructs a Confidence oracle backed by provider.
func NewConfidence(provider llm.Provider) *Confidence {
	return &Confidence{provider: provider}
}

// Classify implements oracle.ConfidenceOracle.
func (c *Confidence) Classify(ctx context.Context, latestText string) (oracle.ConfidenceVerdict, error) {
	resp, err := c.provider.Complete(ctx, llm.CompletionRequest{
		Prompt:    fmt.Sprintf(confidencePrompt, latestText),
		MaxTokens: completionMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("llmoracle: confidence: %w", err)
	}

	var out struct {
		State string `json:"state"`
	}
	if err := decodeJSONReply(resp.Content, &out); err != nil {
		return "", fmt.Errorf("llmoracle: confidence: %w", err)
	}

	verdict := oracle.ConfidenceVerdict(out.State)
	if !verdict.IsValid() {
		return "", fmt.Errorf("llmoracle: confidence: unknown state %q", out.State)
	}
	return verdict, nil
}
