// Package llmoracle implements the oracle interfaces on top of an LLM
// provider using short JSON-constrained prompts.
//
// Every oracle sends a single completion request per call and expects a small
// JSON object back. A reply that is not valid JSON, or that carries a value
// outside the declared enum, is reported as an error — the engine applies its
// own conservative degradation, the oracle never guesses.
package llmoracle

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vivavoce-ai/vivavoce/pkg/provider/llm"
)

// completionMaxTokens caps every classification reply. The expected JSON
// objects are tiny; anything longer indicates the model went off script.
const completionMaxTokens = 256

// Oracles bundles all LLM-backed oracle implementations over one provider.
// The individual oracles can also be constructed separately when different
// providers (or models) should serve different classification tasks.
type Oracles struct {
	Coverage   *Coverage
	Confidence *Confidence
	Claims     *Claims
	Phrasing   *Phrasing
}

// New constructs the full oracle set backed by provider.
func New(provider llm.Provider) (*Oracles, error) {
	if provider == nil {
		return nil, fmt.Errorf("llmoracle: provider must not be nil")
	}
	return &Oracles{
		Coverage:   &Coverage{provider: provider},
		Confidence: &Confidence{provider: provider},
		Claims:     &Claims{provider: provider},
		Phrasing:   &Phrasing{provider: provider},
	}, nil
}

// decodeJSONReply unmarshals the model reply into v, tolerating markdown code
// fences around the JSON object. Chat models add fences even when told not to.
func decodeJSONReply(reply string, v any) error {
	s := strings.TrimSpace(reply)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	if err := json.Unmarshal([]byte(s), v); err != nil {
		return fmt.Errorf("malformed JSON reply: %w", err)
	}
	return nil
}
