// Package main is the entry point for the API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/capitalize-ai/guarded-chat/internal/bootstrap"
	"github.com/capitalize-ai/guarded-chat/internal/config"
	"github.com/capitalize-ai/guarded-chat/internal/guardrail"
	"github.com/capitalize-ai/guarded-chat/internal/handler"
	"github.com/capitalize-ai/guarded-chat/internal/inference"
	"github.com/capitalize-ai/guarded-chat/internal/llm"
	"github.com/capitalize-ai/guarded-chat/internal/prompt"
	"github.com/capitalize-ai/guarded-chat/internal/quickreply"
	"github.com/capitalize-ai/guarded-chat/internal/rules"
	"github.com/capitalize-ai/guarded-chat/internal/service"
	"github.com/capitalize-ai/guarded-chat/pkg/logger"
	"github.com/capitalize-ai/guarded-chat/pkg/tracing"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited", zap.Error(err))
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	log.Info("starting API server",
		zap.String("backend", cfg.StoreBackend),
		zap.String("llm_provider", cfg.LLMProvider),
	)

	// Initialize tracing if enabled
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "guarded-chat", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(context.Background(), tp)
		}
	}

	backend, err := bootstrap.OpenBackend(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open %s backend: %w", cfg.StoreBackend, err)
	}
	defer backend.Close()

	cache, err := bootstrap.OpenSharedCache(ctx, cfg, log)
	if err != nil {
		return err
	}
	if cache != nil {
		defer cache.Close()
	}
	registry := bootstrap.NewRegistry(backend, cache, log)

	set, err := rules.Load(cfg.RulesFile)
	if err != nil {
		return err
	}
	guard, err := guardrail.New(set.Guardrail, registry, log)
	if err != nil {
		return err
	}
	infer, err := inference.New(set.Inference)
	if err != nil {
		return err
	}

	llmClient, err := llm.NewClient(ctx, llm.Config{
		Provider: llm.Provider(cfg.LLMProvider),
		APIKey:   cfg.LLMAPIKey(),
		BaseURL:  cfg.LLMBaseURL,
	})
	if err != nil {
		return fmt.Errorf("create %s client: %w", cfg.LLMProvider, err)
	}

	// Initialize services
	historySvc := service.NewHistoryService(backend.Turns, cfg.HistoryWindow, log)
	profileSvc := service.NewProfileService(backend.Profiles, log)
	domainSvc := service.NewDomainService(backend.Domains, registry, log)
	chatSvc := service.NewChatService(service.ChatDeps{
		History:    historySvc,
		Profiles:   profileSvc,
		Guardrail:  guard,
		Inference:  infer,
		Prompts:    prompt.NewAssembler(log),
		QuickReply: quickreply.New(set.QuickReplies),
		LLM:        llmClient,
		Events:     backend.Events,
		Config: service.ChatConfig{
			Model:       cfg.LLMModel,
			Temperature: cfg.Temperature(),
			MaxTokens:   cfg.LLMMaxTokens,
		},
		Logger: log,
	})

	router := handler.NewRouter(handler.RouterConfig{
		Chat:              handler.NewChatHandler(chatSvc, log),
		Conversations:     handler.NewConversationHandler(historySvc, log),
		Profiles:          handler.NewProfileHandler(profileSvc, log),
		Domains:           handler.NewDomainHandler(domainSvc, log),
		Health:            handler.NewHealthHandler(backend.Name, backend.Ping),
		JWTSecret:         cfg.JWTSecret,
		AllowedOrigins:    cfg.AllowedOrigins,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
		Logger:            log,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	// Other instances announce allowlist edits through Redis or the KV bucket.
	if cache != nil {
		g.Go(func() error {
			return cache.Listen(gctx, registry.InvalidateLocal)
		})
	}
	if backend.WatchDomains != nil {
		g.Go(func() error {
			return backend.WatchDomains(gctx, registry.InvalidateLocal)
		})
	}

	return g.Wait()
}
