package llmoracle

import (
	"context"
	"fmt"
	"strings"

	"github.com/vivavoce-ai/vivavoce/pkg/oracle"
	"github.com/vivavoce-ai/vivavoce/pkg/provider/llm"
)

// Ensure Phrasing implements the oracle.PhrasingOracle interface.
var _ oracle.PhrasingOracle = (*Phrasing)(nil)

const phrasingPrompt = `You are conducting a technical interview. The candidate has not yet fully
covered this point of the model answer:

"%s"

Other points still open (do not reveal or hint at their content):
%s

Write one short, natural follow-up question that nudges the candidate toward
the target point without giving the answer away.

Return JSON only: {"question": "..."}`

// Phrasing is an LLM-backed [oracle.PhrasingOracle].
type Phrasing struct {
	provider llm.Provider
}

// NewPhrasing constructs a Phrasing oracle backed by provider.
func NewPhrasing(provider llm.Provider) *Phrasing {
	return &Phrasing{provider: provider}
}

// Compose implements oracle.PhrasingOracle.
func (p *Phrasing) Compose(ctx context.Context, targetBulletText string, uncoveredBulletTexts []string) (string, error) {
	others := "- (none)"
	if len(uncoveredBulletTexts) > 0 {
		others = "- " + strings.Join(uncoveredBulletTexts, "\n- ")
	}

	resp, err := p.provider.Complete(ctx, llm.CompletionRequest{
		Prompt:      fmt.Sprintf(phrasingPrompt, targetBulletText, others),
		Temperature: 0.7,
		MaxTokens:   completionMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("llmoracle: phrasing: %w", err)
	}

	var out struct {
		Question string `json:"question"`
	}
	if err := decodeJSONReply(resp.Content, &out); err != nil {
		return "", fmt.Errorf("llmoracle: phrasing: %w", err)
	}
	if strings.TrimSpace(out.Question) == "" {
		return "", fmt.Errorf("llmoracle: phrasing: empty question in reply")
	}
	return strings.TrimSpace(out.Question), nil
}
