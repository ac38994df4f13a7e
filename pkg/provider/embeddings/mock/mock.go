// Package mock provides a hand-written mock implementation of
// [embeddings.Provider] for use in tests.
package mock

import (
	"context"
	"fmt"

	"github.com/vivavoce-ai/vivavoce/pkg/provider/embeddings"
)

// Ensure Provider implements the embeddings.Provider interface.
var _ embeddings.Provider = (*Provider)(nil)

// Provider is a configurable mock [embeddings.Provider].
//
// Vectors maps input text to a fixed embedding. Texts without an entry fall
// back to EmbedFunc when set, otherwise an error is returned so tests fail
// loudly on unexpected inputs.
type Provider struct {
	// Vectors maps exact input text to the vector to return.
	Vectors map[string][]float32

	// EmbedFunc, when non-nil, handles texts missing from Vectors.
	EmbedFunc func(ctx context.Context, text string) ([]float32, error)

	// Err, when non-nil, is returned by every call.
	Err error

	// Dims is returned by Dimensions. Defaults to 3 when zero.
	Dims int
}

// Embed implements embeddings.Provider.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	if p.Err != nil {
		return nil, p.Err
	}
	if v, ok := p.Vectors[text]; ok {
		return v, nil
	}
	if p.EmbedFunc != nil {
		return p.EmbedFunc(ctx, text)
	}
	return nil, fmt.Errorf("mock embeddings: no vector configured for %q", text)
}

// EmbedBatch implements embeddings.Provider.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if p.Err != nil {
		return nil, p.Err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := p.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int {
	if p.Dims == 0 {
		return 3
	}
	return p.Dims
}

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string {
	return "mock-embeddings"
}
