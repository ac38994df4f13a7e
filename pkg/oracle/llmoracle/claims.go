package llmoracle

import (
	"context"
	"fmt"

	"github.com/vivavoce-ai/vivavoce/pkg/oracle"
	"github.com/vivavoce-ai/vivavoce/pkg/provider/llm"
)

// Ensure Claims implements the oracle.ClaimOracle interface.
var _ oracle.ClaimOracle = (*Claims)(nil)

const claimsPrompt = `Extract the discrete factual claims asserted in this spoken transcript
segment. Keep each claim as a short standalone sentence in the speaker's own
terms. Ignore filler, hedging, and meta-commentary ("let me think", "as I said").

Transcript:
"""%s"""

Return JSON only:
{"claims": [{"text": "...", "entities": ["..."], "predicate": "..."}]}

"entities" and "predicate" may be empty. Preserve utterance order. Return
{"claims": []} when the segment asserts nothing.`

// Claims is an LLM-backed [oracle.ClaimOracle].
type Claims struct {
	provider llm.Provider
}

// NewClaims constructs a Claims oracle backed by provider.
func NewClaims(provider llm.Provider) *Claims {
	return &Claims{provider: provider}
}

// Extract implements oracle.ClaimOracle.
func (c *Claims) Extract(ctx context.Context, fragmentText string) ([]oracle.Claim, error) {
	resp, err := c.provider.Complete(ctx, llm.CompletionRequest{
		Prompt:    fmt.Sprintf(claimsPrompt, fragmentText),
		MaxTokens: 1024,
	})
	if err != nil {
		return nil, fmt.Errorf("llmoracle: claims: %w", err)
	}

	var out struct {
		Claims []struct {
			Text      string   `json:"text"`
			Entities  []string `json:"entities"`
			Predicate string   `json:"predicate"`
		} `json:"claims"`
	}
	if err := decodeJSONReply(resp.Content, &out); err != nil {
		return nil, fmt.Errorf("llmoracle: claims: %w", err)
	}

	claims := make([]oracle.Claim, 0, len(out.Claims))
	for _, c := range out.Claims {
		if c.Text == "" {
			continue
		}
		claims = append(claims, oracle.Claim{
			Text:      c.Text,
			Entities:  c.Entities,
			Predicate: c.Predicate,
		})
	}
	return claims, nil
}
