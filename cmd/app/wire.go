package main

import (
	"context"
	"fmt"
	"log/slog"

	"funnel-bot/internal/cache"
	"funnel-bot/internal/config"
	"funnel-bot/internal/email"
	"funnel-bot/internal/llm"
	"funnel-bot/internal/memory"
	"funnel-bot/internal/metrics"
	"funnel-bot/internal/notify"
	"funnel-bot/internal/ratelimit"
	"funnel-bot/internal/repo"
	"funnel-bot/internal/retry"
	"funnel-bot/internal/wa"
)

func openRepository(ctx context.Context, cfg config.Config, logger *slog.Logger) (repo.Repository, error) {
	switch cfg.DatabaseDriver {
	case config.DriverPostgres:
		return repo.New(ctx, cfg.DatabaseURL, cfg.DatabaseSchema, logger)
	case config.DriverSQLite:
		return repo.NewSQLite(ctx, cfg.SQLitePath, logger)
	default:
		logger.Warn("using in-memory repository, data is lost on restart")
		return repo.NewMemory(), nil
	}
}

// openRedis returns nil when no address is configured.
func openRedis(ctx context.Context, cfg config.Config, logger *slog.Logger) *cache.Redis {
	if cfg.RedisAddr == "" {
		return nil
	}
	r := cache.New(cache.Config{
		Addr:      cfg.RedisAddr,
		Password:  cfg.RedisPassword,
		DB:        cfg.RedisDB,
		UseTLS:    cfg.RedisTLS,
		KeyPrefix: cfg.MetricsNamespace,
	}, logger)
	if err := r.Ping(ctx); err != nil {
		logger.Warn("redis ping failed", "error", err)
	}
	return r
}

func rateCounters(cfg config.Config, r *cache.Redis) (general, funnel ratelimit.Counter) {
	if cfg.RateLimitBackend == config.BackendRedis && r != nil {
		counter := ratelimit.NewRedisCounter(r)
		return counter, counter
	}
	return ratelimit.NewMemoryCounter(), ratelimit.NewMemoryCounter()
}

func openHistory(cfg config.Config, log memory.TurnLog, r *cache.Redis, logger *slog.Logger) (*memory.Store, func()) {
	if r != nil {
		return memory.NewStore(log, memory.NewRedisCache(r, cfg.MemoryCacheTTL), cfg.MemoryMaxTurns, logger), func() {}
	}
	local := memory.NewLocalCache(cfg.MemoryCacheTTL, cfg.MemoryCacheTTL/4)
	return memory.NewStore(log, local, cfg.MemoryMaxTurns, logger), local.Close
}

type models struct {
	classifier llm.Completer
	generator  llm.Completer
	embedder   llm.Embedder
}

func openModels(ctx context.Context, cfg config.Config, logger *slog.Logger, m *metrics.Metrics) (models, error) {
	switch cfg.LLMProvider {
	case config.ProviderOpenAI:
		base := llm.OpenAIConfig{APIKey: cfg.OpenAIAPIKey, BaseURL: cfg.OpenAIBaseURL, EmbeddingModel: cfg.EmbeddingModel, Timeout: cfg.LLMTimeout}
		classifierCfg, generatorCfg := base, base
		classifierCfg.ChatModel = cfg.ClassifierModel
		generatorCfg.ChatModel = cfg.GenerationModel
		generator := llm.NewOpenAI(generatorCfg, logger, m)
		return models{classifier: llm.NewOpenAI(classifierCfg, logger, m), generator: generator, embedder: generator}, nil
	case config.ProviderGemini:
		base := llm.GeminiConfig{APIKey: cfg.GeminiAPIKey, EmbeddingModel: cfg.EmbeddingModel, Timeout: cfg.LLMTimeout}
		classifierCfg, generatorCfg := base, base
		classifierCfg.ChatModel = cfg.ClassifierModel
		generatorCfg.ChatModel = cfg.GenerationModel
		classifier, err := llm.NewGemini(ctx, classifierCfg, logger, m)
		if err != nil {
			return models{}, fmt.Errorf("gemini classifier: %w", err)
		}
		generator, err := llm.NewGemini(ctx, generatorCfg, logger, m)
		if err != nil {
			return models{}, fmt.Errorf("gemini generator: %w", err)
		}
		return models{classifier: classifier, generator: generator, embedder: generator}, nil
	default:
		logger.Warn("using mock llm provider")
		mock := llm.Mock{}
		return models{classifier: mock, generator: mock, embedder: mock}, nil
	}
}

// openWhatsApp returns nil when WhatsApp is disabled.
func openWhatsApp(ctx context.Context, cfg config.Config, logger *slog.Logger, m *metrics.Metrics) (*wa.Client, error) {
	if !cfg.WhatsAppEnabled {
		return nil, nil
	}
	return wa.New(ctx, wa.Config{
		StorePath: cfg.WhatsAppStorePath,
		LogLevel:  cfg.WhatsAppLogLevel,
		Inbound:   true,
	}, logger, m)
}

func adminNotifier(cfg config.Config, transport *wa.Client, logger *slog.Logger) (notify.Notifier, error) {
	if cfg.MockMode || transport == nil || cfg.AdminWhatsAppJID == "" {
		logger.Info("admin notices go to the log")
		return notify.NewLogNotifier(logger), nil
	}
	admin, err := wa.NewAdminNotifier(transport, cfg.AdminWhatsAppJID)
	if err != nil {
		return nil, err
	}
	policy := retry.Policy{Attempts: cfg.NotifyRetryAttempts, Delay: cfg.NotifyRetryDelay}
	return notify.NewRetrying(admin, policy, cfg.NotifyTimeout, logger), nil
}

func emailSender(cfg config.Config, logger *slog.Logger) email.Sender {
	if cfg.MockMode || cfg.EmailAPIKey == "" {
		return email.NewLogSender(logger)
	}
	return email.NewHTTPSender(email.Config{
		BaseURL: cfg.EmailBaseURL,
		APIKey:  cfg.EmailAPIKey,
		From:    cfg.EmailFrom,
		Timeout: cfg.EmailTimeout,
	}, logger)
}
