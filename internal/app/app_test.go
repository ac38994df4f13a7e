package app_test

import (
	"context"
	"testing"

	"github.com/vivavoce-ai/vivavoce/internal/app"
	"github.com/vivavoce-ai/vivavoce/internal/config"
	"github.com/vivavoce-ai/vivavoce/internal/engine"
	oraclemock "github.com/vivavoce-ai/vivavoce/pkg/oracle/mock"
)

// discardSink accepts every report. Keeps New from building real sinks.
type discardSink struct{}

func (discardSink) Save(context.Context, *engine.Report) error { return nil }

func testBank() []config.Question {
	return []config.Question{
		{
			ID:      "q-lru",
			Text:    "Explain how an LRU cache works.",
			Tags:    []string{"caching"},
			Bullets: []string{"eviction policy", "O(1) lookups"},
		},
	}
}

// newTestApp builds an App with every oracle mocked out, so no provider
// construction happens.
func newTestApp(t *testing.T, cfg *config.Config, opts ...app.Option) *app.App {
	t.Helper()
	base := []app.Option{
		app.WithCoverageOracle(&oraclemock.CoverageOracle{}),
		app.WithConfidenceOracle(&oraclemock.ConfidenceOracle{}),
		app.WithPhrasingOracle(&oraclemock.PhrasingOracle{}),
		app.WithSink(discardSink{}),
	}
	a, err := app.New(context.Background(), cfg, nil, testBank(), append(base, opts...)...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestNew_DirectStrategyRequiresLLMProvider(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Engine: config.EngineConfig{Strategy: config.StrategyDirect}}
	_, err := app.New(context.Background(), cfg, nil, nil, app.WithSink(discardSink{}))
	if err == nil {
		t.Fatal("New() error = nil, want failure without an LLM provider")
	}
}

func TestNew_ClaimsEmbeddingRequiresEmbeddingsProvider(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Engine: config.EngineConfig{
		Strategy: config.StrategyClaims,
		Matcher:  config.MatcherEmbedding,
	}}
	// Confidence and phrasing are injected so only the coverage factory needs
	// building, which in turn needs the claims oracle and thus an LLM.
	_, err := app.New(context.Background(), cfg, nil, nil,
		app.WithConfidenceOracle(&oraclemock.ConfidenceOracle{}),
		app.WithPhrasingOracle(&oraclemock.PhrasingOracle{}),
		app.WithSink(discardSink{}),
	)
	if err == nil {
		t.Fatal("New() error = nil, want failure without providers")
	}
}

func TestNew_InjectedOraclesNeedNoProviders(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, &config.Config{})
	if a.Sessions() == nil {
		t.Error("Sessions() = nil, want a manager")
	}
}

func TestApp_QuestionLookup(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, &config.Config{})

	q, ok := a.Question("q-lru")
	if !ok {
		t.Fatal("Question(q-lru) not found")
	}
	if len(q.Bullets) != 2 {
		t.Errorf("bullets = %d, want 2", len(q.Bullets))
	}
	if _, ok := a.Question("nope"); ok {
		t.Error("Question(nope) found, want miss")
	}
}

func TestApp_CloseStopsSessions(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, &config.Config{})
	if _, err := a.Sessions().Start(testBank()[0]); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if a.Sessions().Len() != 1 {
		t.Fatalf("Len() = %d, want 1", a.Sessions().Len())
	}

	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if a.Sessions().Len() != 0 {
		t.Errorf("Len() after Close = %d, want 0", a.Sessions().Len())
	}
	// Close is idempotent.
	if err := a.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
