// Trinity orchestrator server: drives AI workflow sessions over WebSocket,
// hosts the collaborative laboratory sync hub, and persists project state
// and run artifacts.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/theHdd4/trinity-orchestrator/pkg/api"
	"github.com/theHdd4/trinity-orchestrator/pkg/atom"
	"github.com/theHdd4/trinity-orchestrator/pkg/config"
	"github.com/theHdd4/trinity-orchestrator/pkg/engine"
	"github.com/theHdd4/trinity-orchestrator/pkg/insight"
	"github.com/theHdd4/trinity-orchestrator/pkg/llm"
	"github.com/theHdd4/trinity-orchestrator/pkg/metadata"
	"github.com/theHdd4/trinity-orchestrator/pkg/prompt"
	"github.com/theHdd4/trinity-orchestrator/pkg/session"
	"github.com/theHdd4/trinity-orchestrator/pkg/storage"
	"github.com/theHdd4/trinity-orchestrator/pkg/synchub"
	"github.com/theHdd4/trinity-orchestrator/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	}

	slog.Info("Starting orchestrator",
		"version", version.Full(),
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Document store (project state + run artifacts)
	docs, err := storage.NewMongoDocStore(ctx, storage.MongoOptions{
		URI:                cfg.Mongo.URI,
		Database:           cfg.Mongo.Database,
		StateCollection:    cfg.Mongo.StateColl,
		ArtifactCollection: cfg.Mongo.ResultColl,
	})
	if err != nil {
		slog.Error("Failed to connect to document store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := docs.Close(context.Background()); err != nil {
			slog.Error("Error closing document store", "error", err)
		}
	}()
	slog.Info("Connected to document store", "database", cfg.Mongo.Database)

	// 3. Blob store and metadata cache
	blob, err := storage.NewFSBlobStore(cfg.Blob.Root)
	if err != nil {
		slog.Error("Failed to open blob store", "root", cfg.Blob.Root, "error", err)
		os.Exit(1)
	}
	profiler := metadata.NewHTTPProfiler(cfg.Atoms.BaseURL, cfg.Atoms.RequestTimeout)
	metaCache := metadata.NewCache(blob, profiler, cfg.Limits.MetadataTTL)

	// 4. LLM client
	apiKey := os.Getenv(cfg.LLM.APIKeyEnv)
	if apiKey == "" {
		slog.Warn("LLM API key env var is empty", "env", cfg.LLM.APIKeyEnv)
	}
	llmClient := llm.NewOpenAIClient(cfg.LLM.BaseURL, apiKey, cfg.LLM.Model)

	// 5. Atom registry and invoker
	registry := atom.NewRegistry(cfg.Atoms.BaseURL)
	invoker := atom.NewInvoker(registry, cfg.Atoms.RequestTimeout,
		cfg.Limits.AtomRetries, cfg.Limits.AtomRetryDelay)

	// 6. Insight generator with Redis cache
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		// Insights degrade to cache misses; a dead Redis is not fatal.
		slog.Warn("Redis unreachable; insight caching degraded", "addr", cfg.Redis.Addr, "error", err)
	}
	defer redisClient.Close()

	prompts := prompt.NewBuilder(registry.Descriptions())
	insights := insight.NewGenerator(llmClient, prompts,
		insight.NewRedisCache(redisClient),
		cfg.Limits.InsightTTLGood, cfg.Limits.InsightTTLBad, cfg.Limits.InsightTimeout)

	// 7. Engine
	sessions := session.NewStore()
	guards := session.NewGuardRegistry()
	eng := engine.NewEngine(engine.Deps{
		Sessions: sessions,
		Guards:   guards,
		Registry: registry,
		Invoker:  invoker,
		LLM:      llmClient,
		Prompts:  prompts,
		Metadata: metaCache,
		Insights: insights,
		Docs:     docs,
		Limits:   cfg.Limits,
		Settings: engine.LLMSettings{
			PlanTemperature: cfg.LLM.PlanTemperature,
			EvalTemperature: cfg.LLM.EvalTemperature,
			MaxTokens:       cfg.LLM.MaxTokens,
		},
	})

	// 8. Sync hub and HTTP server
	hub := synchub.NewHub(docs, cfg.Limits.DebouncePersist)
	server := api.NewServer(cfg, eng, sessions, hub)

	httpServer := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: server.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// 9. Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("Received shutdown signal", "signal", sig)
	case err := <-errCh:
		slog.Error("HTTP server error", "error", err)
	}

	// 10. Graceful shutdown: stop accepting, flush pending sync state.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	hub.Shutdown()
	slog.Info("Shutdown complete")
}
