package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/ent0n29/chatmemory/internal/chat"
	"github.com/ent0n29/chatmemory/internal/completion"
	"github.com/ent0n29/chatmemory/internal/config"
	"github.com/ent0n29/chatmemory/internal/httpapi"
	"github.com/ent0n29/chatmemory/internal/memory"
	"github.com/ent0n29/chatmemory/internal/observability"
	"github.com/ent0n29/chatmemory/internal/policy"
	"github.com/ent0n29/chatmemory/internal/retention"
	"github.com/ent0n29/chatmemory/internal/session"
	"github.com/ent0n29/chatmemory/internal/window"
)

const completionTimeout = 60 * time.Second

type BuildResult struct {
	Config     config.Config
	Logger     zerolog.Logger
	Store      memory.Store
	API        *httpapi.Server
	Sessions   *session.Service
	Chat       *chat.Handler
	Sweeper    *retention.Sweeper
	Metrics    *observability.Metrics
	Completion string

	// Cleanup should be called on shutdown to release the store.
	Cleanup func() error
}

// Options override collaborators, mostly for tests.
type Options struct {
	Registerer prometheus.Registerer
	Completer  completion.Completer
	Now        func() time.Time
}

func Build(ctx context.Context, cfg config.Config, logger zerolog.Logger, opts Options) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace, opts.Registerer)
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	store, err := memory.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("memory store init failed: %w", err)
	}
	logger.Info().Str("store", store.Mode()).Msg("memory store ready")

	completer := opts.Completer
	completionMode := "custom"
	if completer == nil {
		completer, err = completion.New(completion.Config{
			Mode:        cfg.CompletionMode,
			APIKey:      cfg.OpenAIAPIKey,
			BaseURL:     cfg.OpenAIAPIBase,
			Model:       cfg.OpenAIModel,
			Temperature: cfg.OpenAITemperature,
			ProxyURL:    cfg.ProxyURL,
			Timeout:     completionTimeout,
		})
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("completion init failed: %w", err)
		}
		completionMode = completerMode(completer)
	}
	logger.Info().Str("completion", completionMode).Msg("completion ready")

	assembler := window.NewAssembler(store, cfg.MaxContextMessages, logger)
	sessions := session.NewService(store, assembler, logger,
		session.WithClock(now),
		session.WithRecorder(metrics),
	)

	access := policy.NewAllowList(cfg.AllowedUsers)
	if access.Open() {
		logger.Warn().Msg("ALLOWED_USERS is empty; every user is permitted")
	}
	handler := chat.NewHandler(
		sessions,
		completion.Instrument(completer, metrics),
		access,
		chat.Config{SystemPrompt: cfg.SystemPrompt},
		logger,
		metrics,
	)

	sweeper := retention.New(store, retention.Config{
		TTL:      cfg.ContextTTL(),
		Interval: cfg.SweepInterval(),
		Now:      now,
	}, logger, metrics)

	return &BuildResult{
		Config:     cfg,
		Logger:     logger,
		Store:      store,
		API:        httpapi.New(cfg, sessions, handler, metrics, logger),
		Sessions:   sessions,
		Chat:       handler,
		Sweeper:    sweeper,
		Metrics:    metrics,
		Completion: completionMode,
		Cleanup:    store.Close,
	}, nil
}

func completerMode(c completion.Completer) string {
	switch c.(type) {
	case *completion.OpenAIClient:
		return "openai"
	case *completion.Mock:
		return "mock"
	default:
		return "custom"
	}
}
