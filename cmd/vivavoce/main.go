// vivavoce tracks bullet coverage of spoken answers in real time and schedules
// follow-up questions for the points still missing.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/vivavoce-ai/vivavoce/internal/app"
	"github.com/vivavoce-ai/vivavoce/internal/config"
	"github.com/vivavoce-ai/vivavoce/internal/observe"
	"github.com/vivavoce-ai/vivavoce/internal/server"
	"github.com/vivavoce-ai/vivavoce/pkg/provider/embeddings"
	embollama "github.com/vivavoce-ai/vivavoce/pkg/provider/embeddings/ollama"
	embopenai "github.com/vivavoce-ai/vivavoce/pkg/provider/embeddings/openai"
	"github.com/vivavoce-ai/vivavoce/pkg/provider/llm"
	"github.com/vivavoce-ai/vivavoce/pkg/provider/llm/anyllm"
	llmopenai "github.com/vivavoce-ai/vivavoce/pkg/provider/llm/openai"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	if err := run(*configPath); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "vivavoce: config file %q not found, copy configs/example.yaml to get started\n", configPath)
		}
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.Server.LogLevel),
	}))
	slog.SetDefault(logger)

	bank, err := config.LoadQuestions(cfg)
	if err != nil {
		return err
	}
	logger.Info("starting vivavoce", "version", version, "questions", len(bank), "strategy", cfg.Engine.Strategy)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "vivavoce",
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown failed", "error", err)
		}
	}()
	metrics := observe.Default()

	providers, err := buildProviders(cfg)
	if err != nil {
		return err
	}

	a, err := app.New(ctx, cfg, providers, bank, app.WithMetrics(metrics))
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("app shutdown failed", "error", err)
		}
	}()

	addr := cfg.Server.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:        addr,
		Handler:     server.New(a, metrics, logger).Router(),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	stop()
	logger.Info("shutting down")

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// buildProviders constructs the configured LLM and embeddings backends. Empty
// provider names leave the slot nil; app.New rejects combinations the engine
// strategy cannot run with.
func buildProviders(cfg *config.Config) (*app.Providers, error) {
	p := &app.Providers{}

	if entry := cfg.Providers.LLM; entry.Name != "" {
		backend, err := buildLLM(entry)
		if err != nil {
			return nil, fmt.Errorf("build llm provider: %w", err)
		}
		p.LLM = backend
	}
	if entry := cfg.Providers.Embeddings; entry.Name != "" {
		backend, err := buildEmbeddings(entry, cfg.Reports.EmbeddingDimensions)
		if err != nil {
			return nil, fmt.Errorf("build embeddings provider: %w", err)
		}
		p.Embeddings = backend
	}
	return p, nil
}

func buildLLM(entry config.ProviderEntry) (llm.Provider, error) {
	// The native OpenAI client supports base URL overrides for compatible
	// gateways; everything else goes through any-llm-go.
	if entry.Name == "openai" {
		var opts []llmopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, llmopenai.WithBaseURL(entry.BaseURL))
		}
		return llmopenai.New(entry.APIKey, entry.Model, opts...)
	}

	var opts []anyllmlib.Option
	if entry.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
	}
	if entry.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
	}
	return anyllm.New(entry.Name, entry.Model, opts...)
}

func buildEmbeddings(entry config.ProviderEntry, dims int) (embeddings.Provider, error) {
	switch entry.Name {
	case "openai":
		var opts []embopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, embopenai.WithBaseURL(entry.BaseURL))
		}
		return embopenai.New(entry.APIKey, entry.Model, opts...)
	case "ollama":
		var opts []embollama.Option
		if dims > 0 {
			opts = append(opts, embollama.WithDimensions(dims))
		}
		return embollama.New(entry.BaseURL, entry.Model, opts...)
	default:
		return nil, fmt.Errorf("unsupported embeddings provider %q", entry.Name)
	}
}

func logLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
