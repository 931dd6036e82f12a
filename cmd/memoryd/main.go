package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"memoryservice/internal/agentic"
	"memoryservice/internal/api"
	"memoryservice/internal/boundary"
	"memoryservice/internal/bus"
	"memoryservice/internal/cache"
	"memoryservice/internal/config"
	"memoryservice/internal/dispatcher"
	"memoryservice/internal/embedclient"
	"memoryservice/internal/extract"
	"memoryservice/internal/llmclient"
	"memoryservice/internal/observability"
	"memoryservice/internal/persistence/databases"
	"memoryservice/internal/pipeline"
	"memoryservice/internal/retrieve"
	"memoryservice/internal/triplestore"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		_ = godotenv.Load("example.env")
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		log.Fatal().Err(err).Msg("failed to load config")
	}

	observability.InitLogger(cfg.Obs.LogPath, cfg.Obs.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := observability.InitOTel(ctx, cfg.Obs)
	if err != nil {
		log.Warn().Err(err).Msg("otel init failed, continuing without observability")
		shutdown = nil
	}
	if shutdown != nil {
		defer func() { _ = shutdown(context.Background()) }()
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Queue.RedisAddr,
		DB:       cfg.Queue.RedisDB,
		Password: cfg.Queue.RedisPassword,
	})
	buffer := cache.New(redisClient, cfg.Queue.MaxLength, cfg.Queue.ExpireMinutes, cfg.Queue.CleanupProbability)

	dbManager, err := databases.NewManager(ctx, cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init database backends")
	}

	provider := llmclient.New(cfg.LLM.APIKey, cfg.LLM.BaseURL)
	embedder := embedclient.New(cfg.Embedding.APIKey, cfg.Embedding.BaseURL, cfg.Embedding.Model, cfg.Embedding.Dimensions, 0)

	hardCutCount := cfg.Boundary.HardCutMessageCount
	if hardCutCount == 0 {
		hardCutCount = cfg.Queue.MaxLength
	}
	detector := boundary.New(provider, boundary.Options{
		HardCutMinutes: cfg.Boundary.SilenceTimeoutSeconds / 60,
		HardCutCount:   hardCutCount,
		MaxRetries:     cfg.Boundary.RetryAttempts,
		RetryBackoff:   time.Duration(cfg.Boundary.RetryBackoffMillis) * time.Millisecond,
		Model:          cfg.LLM.Model,
	})
	memCells := extract.NewMemCellExtractor(provider, cfg.LLM.Model)
	episodes := extract.NewEpisodeExtractor(provider, cfg.LLM.Model)
	writer := triplestore.New(dbManager.Docs, dbManager.Vector, dbManager.Search, embedder)

	memPipeline := pipeline.New(buffer, detector, memCells, episodes, writer, dbManager.Docs, pipeline.Options{
		EpisodeBatchSize: cfg.Episode.MaxMemCellsPerEpisode,
	})

	hybridRetriever := retrieve.New(dbManager.Search, dbManager.Vector, embedder)
	agenticRetriever := agentic.New(hybridRetriever, provider)

	memAPI := api.New(memPipeline, writer, dbManager.Docs, hybridRetriever, agenticRetriever, api.Options{
		MaxInFlight: cfg.Dispatcher.MaxInFlight,
	})

	var busConsumer *bus.Consumer
	if cfg.Bus.Enabled {
		d := dispatcher.New(ctx, dispatcher.Options{
			NumQueues:     cfg.Dispatcher.NumQueues,
			QueueCapacity: cfg.Dispatcher.QueueCapacity,
			MaxInFlight:   cfg.Dispatcher.MaxInFlight,
			RetryAttempts: cfg.Dispatcher.RetryAttempts,
			ShutdownMode:  dispatcher.ShutdownMode(cfg.Dispatcher.ShutdownMode),
		}, memPipeline)
		busConsumer = bus.New(cfg.Bus, d)
		go func() {
			if err := busConsumer.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("bus consumer stopped")
			}
		}()
		defer func() {
			d.Stop()
			_ = busConsumer.Close()
		}()
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: memAPI.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("http server shutdown error")
		}
	}()

	log.Info().Str("addr", srv.Addr).Msg("memoryd listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server failed")
	}
}
