package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq"},
	"embeddings": {"openai", "ollama"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout must not be negative"))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	// Engine
	eng := cfg.Engine
	if eng.Strategy != "" && !eng.Strategy.IsValid() {
		errs = append(errs, fmt.Errorf("engine.strategy %q is invalid; valid values: direct, claims", eng.Strategy))
	}
	if eng.Matcher != "" && !eng.Matcher.IsValid() {
		errs = append(errs, fmt.Errorf("engine.matcher %q is invalid; valid values: embedding, lexical", eng.Matcher))
	}
	if eng.EvalInterval < 0 {
		errs = append(errs, fmt.Errorf("engine.eval_interval must not be negative"))
	}
	if eng.EvalFragmentCount < 0 {
		errs = append(errs, fmt.Errorf("engine.eval_fragment_count must not be negative"))
	}
	if eng.FollowupCooldown < 0 {
		errs = append(errs, fmt.Errorf("engine.followup_cooldown must not be negative"))
	}
	if eng.OracleTimeout < 0 {
		errs = append(errs, fmt.Errorf("engine.oracle_timeout must not be negative"))
	}
	if eng.PresentThreshold < 0 || eng.PresentThreshold > 1 {
		errs = append(errs, fmt.Errorf("engine.present_threshold %.2f is out of [0, 1]", eng.PresentThreshold))
	}
	if eng.PresentThreshold > 0 && eng.PartialThreshold >= eng.PresentThreshold {
		errs = append(errs, fmt.Errorf("engine.partial_threshold %.2f must be below present_threshold %.2f", eng.PartialThreshold, eng.PresentThreshold))
	}

	// Strategy ↔ provider cross-validation
	strategy := eng.Strategy
	if strategy == "" {
		strategy = StrategyDirect
	}
	matcher := eng.Matcher
	if matcher == "" {
		matcher = MatcherEmbedding
	}
	if strategy == StrategyDirect && cfg.Providers.LLM.Name == "" {
		errs = append(errs, fmt.Errorf("engine: strategy %q requires an LLM provider but providers.llm is not configured", strategy))
	}
	if strategy == StrategyClaims {
		if cfg.Providers.LLM.Name == "" {
			errs = append(errs, fmt.Errorf("engine: strategy %q requires an LLM provider for claim extraction but providers.llm is not configured", strategy))
		}
		if matcher == MatcherEmbedding && cfg.Providers.Embeddings.Name == "" {
			errs = append(errs, fmt.Errorf("engine: matcher %q requires an embeddings provider but providers.embeddings is not configured", matcher))
		}
	}

	// Embeddings ↔ report dimensions
	if cfg.Reports.PostgresDSN != "" && cfg.Providers.Embeddings.Name != "" && cfg.Reports.EmbeddingDimensions <= 0 {
		slog.Warn("reports.postgres_dsn is set but reports.embedding_dimensions is not; defaulting to 1536")
	}

	// Persistence availability
	if cfg.Reports.PostgresDSN == "" && cfg.Reports.JSONLPath == "" {
		slog.Warn("no report sink configured; finalized session reports will only be returned over the API")
	}

	// Questions
	idsSeen := make(map[string]int)
	for i, q := range cfg.Questions.Inline {
		prefix := fmt.Sprintf("questions.inline[%d]", i)
		errs = append(errs, validateQuestion(prefix, q, idsSeen)...)
	}

	return errors.Join(errs...)
}

// validateQuestion checks one question and records its ID in idsSeen for
// duplicate detection across the merged bank.
func validateQuestion(prefix string, q Question, idsSeen map[string]int) []error {
	var errs []error
	if q.ID == "" {
		errs = append(errs, fmt.Errorf("%s.id is required", prefix))
	} else {
		if _, ok := idsSeen[q.ID]; ok {
			errs = append(errs, fmt.Errorf("%s.id %q is a duplicate", prefix, q.ID))
		}
		idsSeen[q.ID] = len(idsSeen)
	}
	if strings.TrimSpace(q.Text) == "" {
		errs = append(errs, fmt.Errorf("%s.text is required", prefix))
	}
	for j, b := range q.Bullets {
		if strings.TrimSpace(b) == "" {
			errs = append(errs, fmt.Errorf("%s.bullets[%d] is blank", prefix, j))
		}
	}
	if len(q.Bullets) == 0 {
		slog.Warn("question has no bullets; sessions for it will track nothing",
			"question_id", q.ID,
		)
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
