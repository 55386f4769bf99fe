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

	"tourrag/internal/api"
	"tourrag/pkg/agent"
	"tourrag/pkg/config"
	"tourrag/pkg/db"
	"tourrag/pkg/enrich"
	"tourrag/pkg/intent"
	"tourrag/pkg/llm"
	"tourrag/pkg/llm/gemini"
	"tourrag/pkg/llm/openai"
	"tourrag/pkg/logging"
	"tourrag/pkg/mediator"
	"tourrag/pkg/rank"
	"tourrag/pkg/request"
	"tourrag/pkg/retrieval"
	"tourrag/pkg/store"
	"tourrag/pkg/tagschema"
	"tourrag/pkg/tracker"
	"tourrag/pkg/version"
)

var (
	configPath = flag.String("config", "configs/tourrag.yaml", "Path to config file")
	initConfig = flag.Bool("init-config", false, "Generate default config file and exit")
)

func main() {
	flag.Parse()

	if *initConfig {
		if err := config.Save(*configPath, config.DefaultConfig()); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate config: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Config file generated:", *configPath)
		return
	}

	if err := run(context.Background(), *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL ERROR: Application failed: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Secrets may live in a local .env during development.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cleanupLogs, err := logging.Init(&cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer cleanupLogs()

	slog.Info("TourRAG started", "version", version.Version)

	database, err := db.Init(cfg.DB.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()
	st := store.NewSQLiteStore(database)

	registry, err := tagschema.Load(cfg.Tags.Dir, cfg.Tags.Version)
	if err != nil {
		return fmt.Errorf("failed to load tag schema: %w", err)
	}
	if err := st.RegisterTagSchema(ctx, registry.Version(), registry.Raw()); err != nil {
		return fmt.Errorf("failed to register tag schema: %w", err)
	}
	slog.Info("Tag schema active", "version", registry.Version(), "info", registry.Info())

	tr := tracker.New()
	provider, err := newProvider(cfg, tr)
	if err != nil {
		return err
	}

	extractor := intent.NewExtractor(provider, registry)
	searcher := retrieval.NewSearcher(st, registry, provider, cfg.Retrieval)
	enricher := enrich.New(st)
	ranker := rank.New(enricher, cfg.Rank)

	var agentLoop *agent.Agent
	if chatter, ok := provider.(llm.ToolChatter); ok {
		agentLoop = agent.New(chatter, &agent.Toolbox{
			Extractor: extractor,
			Searcher:  searcher,
			Enricher:  enricher,
			Ranker:    ranker,
		}, cfg.Agent)
		slog.Info("Agent loop enabled", "provider", cfg.LLM.Provider)
	} else {
		slog.Info("Provider has no tool calling, queries use the deterministic cascade",
			"provider", cfg.LLM.Provider)
	}

	med := mediator.New(extractor, searcher, ranker, agentLoop, registry, st)

	server := api.NewServer(cfg.Server.Address,
		api.NewQueryHandler(med),
		api.NewViewpointHandler(enricher),
		api.NewStatsHandler(tr, st, registry))

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "address", cfg.Server.Address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	slog.Info("Shutdown complete")
	return nil
}

// newProvider builds the configured model client. The OpenAI-compatible
// client routes through the shared request queue; Gemini uses its own SDK
// transport.
func newProvider(cfg *config.Config, tr *tracker.Tracker) (llm.Provider, error) {
	switch cfg.LLM.Provider {
	case "openai":
		rc := request.New(tr, request.ClientConfig{
			Retries:   cfg.Request.Retries,
			Timeout:   time.Duration(cfg.Request.Timeout),
			BaseDelay: time.Duration(cfg.Request.Backoff.BaseDelay),
			MaxDelay:  time.Duration(cfg.Request.Backoff.MaxDelay),
		})
		return openai.NewClient(cfg.LLM, rc)
	case "gemini":
		return gemini.NewClient(cfg.LLM, tr)
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.LLM.Provider)
	}
}
