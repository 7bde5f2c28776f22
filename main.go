package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/tripmind/tripmind/api"
	"github.com/tripmind/tripmind/auth"
	"github.com/tripmind/tripmind/chat"
	"github.com/tripmind/tripmind/config"
	"github.com/tripmind/tripmind/memory"
	"github.com/tripmind/tripmind/metrics"
	"github.com/tripmind/tripmind/model"
	"github.com/tripmind/tripmind/prompt"
	"github.com/tripmind/tripmind/ratelimit"
	"github.com/tripmind/tripmind/tool"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := run(*configPath, logger); err != nil {
		logger.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := memory.Open(ctx, cfg.DatabasePath, logger)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := memory.Migrate(ctx, db); err != nil {
		return err
	}

	client, err := model.NewClient(model.ClientOptions{
		BaseURL:     cfg.Upstream.BaseURL,
		APIKey:      cfg.Upstream.APIKey,
		Model:       cfg.Upstream.Model,
		Temperature: cfg.Upstream.Temperature,
		MaxTokens:   cfg.Upstream.MaxTokens,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	fs := afero.NewOsFs()

	prompts, err := prompt.NewProvider(fs, cfg.PromptDir, logger)
	if err != nil {
		return err
	}

	var transcript *chat.Transcript
	if cfg.TranscriptEnabled {
		transcript, err = chat.NewTranscript(fs, cfg.TranscriptDir, logger)
		if err != nil {
			return err
		}
	}

	conversations := memory.NewConversationStore(db, cfg.Upstream.Model, logger)
	trips := memory.NewTripStore(db)
	apiLogs := memory.NewAPILogStore(db)

	registry := prometheus.NewRegistry()
	provider := metrics.NewProvider(registry)

	tools := tool.NewRegistry(logger, tool.NewCreateTrip(trips))

	orchestrator, err := chat.NewOrchestrator(chat.OrchestratorOptions{
		Streamer:      chat.NewClientStreamer(client),
		Conversations: conversations,
		APILogs:       apiLogs,
		Tools:         tools,
		Prompts:       prompts,
		Transcript:    transcript,
		Metrics:       provider,
		ModelName:     cfg.Upstream.Model,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	authService, err := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry)
	if err != nil {
		return err
	}

	limiter, err := ratelimit.NewLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	if err != nil {
		return err
	}
	defer limiter.Close()

	server, err := api.NewServer(api.ServerOptions{
		Addr:          cfg.ListenAddr,
		Orchestrator:  orchestrator,
		Conversations: conversations,
		APILogs:       apiLogs,
		Auth:          authService,
		RateLimiter:   limiter,
		Registry:      registry,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return group.Wait()
}
