// Package app wires all vivavoce subsystems into a running application.
//
// New builds the oracle stack, report sinks and session manager from config;
// Close tears everything down in order. For testing, inject doubles via
// functional options (WithCoverageOracle, WithSink, etc.). When an option is
// not provided, New creates real implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vivavoce-ai/vivavoce/internal/config"
	"github.com/vivavoce-ai/vivavoce/internal/observe"
	"github.com/vivavoce-ai/vivavoce/internal/report"
	reportpg "github.com/vivavoce-ai/vivavoce/internal/report/postgres"
	"github.com/vivavoce-ai/vivavoce/pkg/oracle"
	"github.com/vivavoce-ai/vivavoce/pkg/oracle/claimmatch"
	"github.com/vivavoce-ai/vivavoce/pkg/oracle/llmoracle"
	"github.com/vivavoce-ai/vivavoce/pkg/oracle/similarity"
	"github.com/vivavoce-ai/vivavoce/pkg/provider/embeddings"
	"github.com/vivavoce-ai/vivavoce/pkg/provider/llm"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go from the config.
type Providers struct {
	LLM        llm.Provider
	Embeddings embeddings.Provider
}

// CoverageFactory builds one coverage oracle per session. The claims strategy
// keeps per-answer caches and per-bullet best scores inside the oracle, so
// sessions must not share one instance.
type CoverageFactory func() (oracle.CoverageOracle, error)

// App owns the oracle stack, report delivery and the session manager.
type App struct {
	cfg       *config.Config
	providers *Providers
	questions map[string]config.Question

	newCoverage CoverageFactory
	confidence  oracle.ConfidenceOracle
	phrasing    oracle.PhrasingOracle

	sink     report.Sink
	store    *reportpg.Store
	metrics  *observe.Metrics
	sessions *Manager
	log      *slog.Logger
	clock    func() time.Time

	// closers are called in order during Close.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithCoverageOracle shares one coverage oracle across all sessions instead
// of building one per session from config.
func WithCoverageOracle(o oracle.CoverageOracle) Option {
	return func(a *App) {
		a.newCoverage = func() (oracle.CoverageOracle, error) { return o, nil }
	}
}

// WithConfidenceOracle injects a confidence oracle.
func WithConfidenceOracle(o oracle.ConfidenceOracle) Option {
	return func(a *App) { a.confidence = o }
}

// WithPhrasingOracle injects a phrasing oracle.
func WithPhrasingOracle(o oracle.PhrasingOracle) Option {
	return func(a *App) { a.phrasing = o }
}

// WithSink injects a report sink instead of building sinks from config.
func WithSink(s report.Sink) Option {
	return func(a *App) { a.sink = s }
}

// WithMetrics injects a metrics set instead of using the global provider.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithClock overrides time.Now for tests.
func WithClock(clock func() time.Time) Option {
	return func(a *App) { a.clock = clock }
}

// New assembles the application from config, providers and the merged
// question bank.
func New(ctx context.Context, cfg *config.Config, providers *Providers, bank []config.Question, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
		questions: make(map[string]config.Question, len(bank)),
		log:       slog.Default(),
		clock:     time.Now,
	}
	for _, q := range bank {
		a.questions[q.ID] = q
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.metrics == nil {
		a.metrics = observe.Default()
	}
	if err := a.buildOracles(); err != nil {
		return nil, err
	}
	if err := a.buildSinks(ctx); err != nil {
		return nil, err
	}

	a.sessions = NewManager(ManagerConfig{
		Engine:      cfg.Engine,
		NewCoverage: a.newCoverage,
		Confidence:  a.confidence,
		Phrasing:    a.phrasing,
		Sink:        a.sink,
		Metrics:     a.metrics,
		Logger:      a.log,
		Clock:       a.clock,
	})
	return a, nil
}

// buildOracles constructs the oracle stack declared by engine.strategy,
// leaving any injected oracles in place.
func (a *App) buildOracles() error {
	needLLM := a.newCoverage == nil || a.confidence == nil || a.phrasing == nil
	var set *llmoracle.Oracles
	if needLLM {
		if a.providers.LLM == nil {
			return fmt.Errorf("app: engine strategy %q needs an LLM provider", a.strategy())
		}
		var err error
		set, err = llmoracle.New(a.providers.LLM)
		if err != nil {
			return fmt.Errorf("app: build llm oracles: %w", err)
		}
	}

	if a.confidence == nil {
		a.confidence = set.Confidence
	}
	if a.phrasing == nil {
		a.phrasing = set.Phrasing
	}
	if a.newCoverage != nil {
		return nil
	}

	switch a.strategy() {
	case config.StrategyDirect:
		a.newCoverage = func() (oracle.CoverageOracle, error) { return set.Coverage, nil }

	case config.StrategyClaims:
		matcher, err := a.buildMatcher()
		if err != nil {
			return err
		}
		eng := a.cfg.Engine
		a.newCoverage = func() (oracle.CoverageOracle, error) {
			return claimmatch.New(claimmatch.Config{
				Claims:           set.Claims,
				Matcher:          matcher,
				PresentThreshold: eng.PresentThreshold,
				PartialThreshold: eng.PartialThreshold,
			})
		}

	default:
		return fmt.Errorf("app: unknown engine strategy %q", a.strategy())
	}
	return nil
}

// buildMatcher constructs the similarity backend for the claims strategy.
func (a *App) buildMatcher() (oracle.SimilarityMatcher, error) {
	matcher := a.cfg.Engine.Matcher
	if matcher == "" {
		matcher = config.MatcherEmbedding
	}
	switch matcher {
	case config.MatcherEmbedding:
		if a.providers.Embeddings == nil {
			return nil, fmt.Errorf("app: matcher %q needs an embeddings provider", matcher)
		}
		return similarity.NewEmbeddingMatcher(a.providers.Embeddings)
	case config.MatcherLexical:
		return similarity.NewLexicalMatcher(), nil
	default:
		return nil, fmt.Errorf("app: unknown matcher %q", matcher)
	}
}

// buildSinks constructs report delivery from config, unless a sink was
// injected. Without any configured sink, reports are still returned over the
// API but not persisted.
func (a *App) buildSinks(ctx context.Context) error {
	if a.sink != nil {
		return nil
	}

	var sinks []report.Sink
	rep := a.cfg.Reports

	if rep.PostgresDSN != "" {
		dims := rep.EmbeddingDimensions
		if dims <= 0 {
			dims = 1536
		}
		var opts []reportpg.StoreOpt
		if a.providers.Embeddings != nil {
			opts = append(opts, reportpg.WithEmbedder(a.providers.Embeddings))
		}
		store, err := reportpg.NewStore(ctx, rep.PostgresDSN, dims, opts...)
		if err != nil {
			return fmt.Errorf("app: build postgres sink: %w", err)
		}
		a.store = store
		a.closers = append(a.closers, func() error { store.Close(); return nil })
		sinks = append(sinks, store)
	}

	if rep.JSONLPath != "" {
		jl, err := report.NewJSONLSink(rep.JSONLPath)
		if err != nil {
			return fmt.Errorf("app: build jsonl sink: %w", err)
		}
		a.closers = append(a.closers, jl.Close)
		sinks = append(sinks, jl)
	}

	a.sink = report.NewMultiSink(sinks...)
	return nil
}

// strategy returns the configured evaluation strategy, defaulted.
func (a *App) strategy() config.Strategy {
	if a.cfg.Engine.Strategy == "" {
		return config.StrategyDirect
	}
	return a.cfg.Engine.Strategy
}

// Sessions returns the session manager.
func (a *App) Sessions() *Manager { return a.sessions }

// Question looks up a question from the merged bank.
func (a *App) Question(id string) (config.Question, bool) {
	q, ok := a.questions[id]
	return q, ok
}

// Store returns the Postgres report store, or nil when not configured.
// Exposed for readiness checks and answer search.
func (a *App) Store() *reportpg.Store { return a.store }

// Embedder returns the configured embeddings provider, or nil. Exposed so the
// serving layer can embed search queries.
func (a *App) Embedder() embeddings.Provider { return a.providers.Embeddings }

// Close stops all session runners and tears down sinks in order. Safe to
// call more than once.
func (a *App) Close() error {
	var err error
	a.stopOnce.Do(func() {
		a.sessions.StopAll()
		for _, c := range a.closers {
			if e := c(); e != nil && err == nil {
				err = e
			}
		}
	})
	return err
}
