package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"funnel-bot/internal/agent"
	"funnel-bot/internal/classify"
	"funnel-bot/internal/config"
	"funnel-bot/internal/convo"
	"funnel-bot/internal/detect"
	"funnel-bot/internal/email"
	"funnel-bot/internal/flow"
	"funnel-bot/internal/httpserver"
	"funnel-bot/internal/knowledge"
	"funnel-bot/internal/logging"
	"funnel-bot/internal/metrics"
	"funnel-bot/internal/ratelimit"
	"funnel-bot/internal/retry"
	"funnel-bot/migrations"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		if errors.Is(err, config.ErrMissingConfig) {
			logging.NewLogger("error", "text").Error("refusing to start", "error", err)
		}
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting funnel-bot", "env", cfg.AppEnv, "mock_mode", cfg.MockMode,
		"llm_provider", cfg.LLMProvider, "database_driver", cfg.DatabaseDriver, "rate_limit_backend", cfg.RateLimitBackend)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(cfg.MetricsNamespace, registry)

	repository, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init repository: %w", err)
	}
	defer repository.Close()

	if err := repository.RunMigrations(ctx, migrations.Files); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrated", "driver", cfg.DatabaseDriver)

	redisClient := openRedis(ctx, cfg, logger)
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("failed closing redis", "error", err)
			}
		}()
	}

	models, err := openModels(ctx, cfg, logger, m)
	if err != nil {
		return fmt.Errorf("init llm provider: %w", err)
	}

	generalCounter, funnelCounter := rateCounters(cfg, redisClient)
	generalGate := ratelimit.New(ratelimit.Config{Name: "general", Max: cfg.RateLimitMax, Window: cfg.RateLimitWindow}, generalCounter, logger, m)
	funnelGate := ratelimit.New(ratelimit.Config{Name: "funnel", Max: cfg.FunnelRateLimitMax, Window: cfg.FunnelRateLimitWindow}, funnelCounter, logger, m)

	history, closeHistory := openHistory(cfg, repository, redisClient, logger)
	defer closeHistory()

	transport, err := openWhatsApp(ctx, cfg, logger, m)
	if err != nil {
		return fmt.Errorf("init whatsapp client: %w", err)
	}
	notifier, err := adminNotifier(cfg, transport, logger)
	if err != nil {
		return fmt.Errorf("init admin notifier: %w", err)
	}

	prices := detect.PriceTable{PDF: int64(cfg.BookPDFPrice), Combo: int64(cfg.BookComboPrice)}
	funnel := flow.NewEngine(flow.Config{
		Catalog: flow.Catalog{
			Prices:       prices,
			PDFURL:       cfg.BookPDFURL,
			ComboURL:     cfg.BookComboURL,
			PayPalURL:    cfg.PayPalURL,
			CardURL:      cfg.CardPaymentURL,
			BankTransfer: cfg.BankTransferInfo,
			Remittance:   cfg.RemittanceInfo,
		},
		MockMode: cfg.MockMode,
	}, repository, notifier, m, logger)

	retriever := knowledge.New(models.embedder, repository, logger)
	router := agent.New(models.generator, retriever, history, agent.Config{
		HumanContact: cfg.HumanContact,
		Threshold:    cfg.KnowledgeThreshold,
		TopK:         cfg.KnowledgeTopK,
		HistoryTurns: cfg.HistoryContextTurns,
	}, logger)

	engine := convo.New(convo.Deps{
		Store:       repository,
		GeneralGate: generalGate,
		FunnelGate:  funnelGate,
		Funnel:      funnel,
		Classifier:  classify.New(models.classifier, logger),
		Agent:       router,
		History:     history,
		Notifier:    notifier,
		Metrics:     m,
	}, convo.Config{
		DiscountValidityDays: cfg.DiscountValidityDays,
		PaidSessionURL:       cfg.PaidSessionURL,
		HumanContact:         cfg.HumanContact,
		Prices:               prices,
	}, logger)

	delivery := email.NewDelivery(repository, emailSender(cfg, logger), email.Links{PDF: cfg.BookPDFURL, Combo: cfg.BookComboURL},
		retry.Policy{Attempts: cfg.EmailRetryAttempts, Delay: cfg.EmailRetryDelay}, m, logger)

	if transport != nil {
		defer transport.Close()
		engine.SetReplier(transport)
		transport.SetMessageProcessor(engine)
		go func() {
			if err := transport.Start(ctx); err != nil {
				logger.Error("whatsapp client stopped", "error", err)
				stop()
			}
		}()
	}

	httpSrv := httpserver.New(cfg.HTTPListenAddr, logger, m, httpserver.Dependencies{
		Conversation: engine,
		Fulfillment:  delivery,
		Knowledge:    retriever,
		Store:        repository,
		Gatherer:     registry,
		AdminToken:   cfg.AdminAPIToken,
	}, cfg.PublicBasePath)

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	return nil
}
