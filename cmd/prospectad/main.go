package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/prospecta-ai/prospecta/internal/config"
	"github.com/prospecta-ai/prospecta/internal/engine"
	"github.com/prospecta-ai/prospecta/internal/llm"
	"github.com/prospecta-ai/prospecta/internal/quota"
	"github.com/prospecta-ai/prospecta/internal/server"
	"github.com/prospecta-ai/prospecta/internal/storage"
	"github.com/prospecta-ai/prospecta/internal/supervisor"
	"github.com/prospecta-ai/prospecta/internal/telemetry"
	"github.com/prospecta-ai/prospecta/internal/tools"
	"github.com/prospecta-ai/prospecta/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

// systemPrompt frames the agent for the company-prospecting domain. Tool
// semantics live in the tool declarations, not here.
const systemPrompt = `You are a sales prospecting assistant with access to a company dataset.
Use the available tools to search companies, look up details, draft outreach emails, and export results.
Before multi-step work, publish a short plan with the update_plan function and keep it current.
Answer concisely and cite company identifiers when referencing dataset records.`

func main() {
	os.Exit(run0())
}

func run0() int {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 1
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	slog.Info("prospecta starting", "version", version, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	db, err := storage.New(ctx, cfg.DatabaseURL, cfg.NotifyURL, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close(ctx)

	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	// Redis tool-result cache (optional; empty REDIS_URL disables it).
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		defer func() { _ = redisClient.Close() }()
		logger.Info("redis: tool cache enabled")
	} else {
		logger.Info("redis: disabled (no REDIS_URL)")
	}

	provider, err := llm.NewGemini(ctx, cfg.GeminiAPIKey, logger)
	if err != nil {
		return fmt.Errorf("gemini: %w", err)
	}

	quotaSvc := quota.New(db, logger)

	cache := tools.NewCache(redisClient, cfg.ToolCacheTTL, logger)
	registry := tools.NewRegistry(logger,
		tools.NewSearchTool(db, quotaSvc, cache),
		tools.NewDetailsTool(db, cache, logger),
		tools.NewEmailTool(db),
		tools.NewExportTool(db, quotaSvc),
	)

	gate := engine.NewGate(db, cfg.ApprovalTTL)
	sink := engine.NewDBPublisher(db, logger)
	executor := engine.NewExecutor(provider, registry, gate, sink, systemPrompt, cfg.MaxIterations, logger)

	sup := supervisor.New(supervisor.Config{
		Workers:            cfg.Workers,
		WallClock:          cfg.WallClock,
		SweepInterval:      cfg.SweepInterval,
		DefaultModel:       cfg.DefaultModel,
		DefaultTemperature: float32(cfg.DefaultTemperature),
	}, db, executor, quotaSvc, logger)
	defer sup.Close()

	broker := server.NewBroker(db, cfg.EventBufferSize, logger)
	go broker.Start(ctx)

	srv := server.New(server.ServerConfig{
		DB:                  db,
		Supervisor:          sup,
		Quota:               quotaSvc,
		Broker:              broker,
		Signer:              server.NewApprovalSigner(cfg.JWTSecret, cfg.JWTExpiration),
		Logger:              logger,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
