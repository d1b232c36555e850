package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yungbote/kg-sidecar/internal/config"
	"github.com/yungbote/kg-sidecar/internal/data/turns"
	"github.com/yungbote/kg-sidecar/internal/graph"
	"github.com/yungbote/kg-sidecar/internal/handlers"
	"github.com/yungbote/kg-sidecar/internal/kg"
	"github.com/yungbote/kg-sidecar/internal/observability"
	"github.com/yungbote/kg-sidecar/internal/platform/envutil"
	"github.com/yungbote/kg-sidecar/internal/platform/logger"
	"github.com/yungbote/kg-sidecar/internal/platform/openrouter"
	"github.com/yungbote/kg-sidecar/internal/platform/redislock"
	"github.com/yungbote/kg-sidecar/internal/server"
	"github.com/yungbote/kg-sidecar/internal/slots"
)

func main() {
	// Logger
	log, err := logger.New(envutil.Str("LOG_MODE", "development"))
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Tracing
	ctx := context.Background()
	shutdownOTel := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: envutil.Str("OTEL_SERVICE_NAME", "kg-sidecar"),
		Environment: envutil.Str("APP_ENV", "development"),
		Version:     envutil.Str("APP_VERSION", "dev"),
	})
	if shutdownOTel != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownOTel(shutdownCtx); err != nil {
				log.Warn("otel shutdown failed", "error", err)
			}
		}()
	}

	// OpenRouter client (nil without an API key; strict slots will refuse)
	var llm openrouter.Client
	if client := openrouter.NewFromEnv(log); client != nil {
		llm = client
	}
	runtime := &slots.Runtime{Client: llm, Log: log}

	// Graph backends
	factory := graph.NewFactory(log)

	// Conversation lock: Redis lease when configured, else in-process
	var lock kg.ConversationLock = kg.NewMemoryLock()
	if addr := envutil.Str("KG_REDIS_ADDR", ""); addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: envutil.Str("KG_REDIS_PASSWORD", ""),
			DB:       envutil.Int("KG_REDIS_DB", 0),
		})
		ttl := time.Duration(envutil.Int("KG_LOCK_TTL_MS", 90000)) * time.Millisecond
		lock = redislock.New(redisClient, ttl, log)
		log.Info("Using Redis conversation lock", "addr", addr)
	}

	// Turn store: gorm-backed when a driver is configured, else memory
	var store turns.Store = turns.NewMemoryStore()
	if gormStore, err := turns.OpenFromEnv(log); err != nil {
		log.Warn("turn store init failed, using memory store", "error", err)
	} else if gormStore != nil {
		store = gormStore
		log.Info("Using durable turn store", "driver", envutil.Str("TURNS_DB_DRIVER", ""))
	}

	defaults := config.LoadFromEnv(log)
	orchestrator := kg.NewOrchestrator(log, runtime, factory, lock, store)

	router := server.NewRouter(server.RouterConfig{
		TurnHandler: handlers.NewTurnHandler(orchestrator, defaults),
	})

	port := envutil.Str("PORT", "7070")
	log.Info("Starting kg-sidecar", "port", port)
	if err := router.Run(":" + port); err != nil {
		log.Error("Server exited", "error", err)
		os.Exit(1)
	}
}
