// Package mock provides a hand-written mock implementation of [llm.Provider]
// for use in tests.
package mock

import (
	"context"
	"sync"

	"github.com/vivavoce-ai/vivavoce/pkg/provider/llm"
)

// Ensure Provider implements the llm.Provider interface.
var _ llm.Provider = (*Provider)(nil)

// Provider is a configurable mock [llm.Provider].
//
// Set CompleteFunc to control behaviour per call, or set Response/Err for a
// fixed reply. Calls records every request received, in order.
type Provider struct {
	mu    sync.Mutex
	Calls []llm.CompletionRequest

	// CompleteFunc, when non-nil, handles Complete calls.
	CompleteFunc func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)

	// Response is returned by Complete when CompleteFunc is nil.
	Response string

	// Err is returned by Complete when CompleteFunc is nil and Err is non-nil.
	Err error

	// Model is returned by ModelID. Defaults to "mock-model" when empty.
	Model string
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, req)
	p.mu.Unlock()

	if p.CompleteFunc != nil {
		return p.CompleteFunc(ctx, req)
	}
	if p.Err != nil {
		return nil, p.Err
	}
	return &llm.CompletionResponse{Content: p.Response}, nil
}

// ModelID implements llm.Provider.
func (p *Provider) ModelID() string {
	if p.Model == "" {
		return "mock-model"
	}
	return p.Model
}

// CallCount returns the number of Complete calls received so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
