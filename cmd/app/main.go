// File: cmd/app/main.go
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"telegram-paywall-bot/internal/application"
	"telegram-paywall-bot/internal/config"
	"telegram-paywall-bot/internal/domain/ports/adapter"
	pg "telegram-paywall-bot/internal/infra/db/postgres"
	"telegram-paywall-bot/internal/infra/logging"
	"telegram-paywall-bot/internal/infra/metrics"
	pay "telegram-paywall-bot/internal/infra/payment"
	red "telegram-paywall-bot/internal/infra/redis"
	"telegram-paywall-bot/internal/infra/sched"
	tele "telegram-paywall-bot/internal/infra/telegram"
	"telegram-paywall-bot/internal/infra/web"
	"telegram-paywall-bot/internal/usecase"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, insecure cookies)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Info().Msg("dev mode enabled")
	}

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 10)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	rateLimiter := red.NewRateLimiter(redisClient)
	stateRepo := red.NewStateRepo(redisClient)

	// ---- Repositories ----
	paymentRepo := pg.NewPaymentRepo(pool)
	subRepo := pg.NewSubscriptionRepo(pool)
	txManager := pg.NewTxManager(pool)

	// ---- Telegram ----
	bot, err := tele.NewRealBotAdapter(&cfg.Bot, cfg.Community.ChatID, rateLimiter, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("telegram")
	}

	// ---- Providers ----
	signer := &pay.RobokassaSigner{
		Login:     cfg.Providers.Robokassa.Login,
		Password1: cfg.Providers.Robokassa.Password1,
		Password2: cfg.Providers.Robokassa.Password2,
		Scheme:    cfg.Providers.Robokassa.SignatureScheme,
	}
	verifier := &pay.CryptoCloudVerifier{Secret: cfg.Providers.CryptoCloud.WebhookSecret}

	gateways := []adapter.PaymentGateway{
		pay.NewRobokassaGateway(signer, cfg.Providers.Robokassa.TestMode),
		pay.NewRobokassaRecurringGateway(signer, cfg.Providers.Robokassa.SubscriptionID),
		pay.NewCryptoCloudGateway(cfg.Providers.CryptoCloud.APIKey, cfg.Providers.CryptoCloud.ShopID),
	}

	// ---- Use cases ----
	subUC := usecase.NewSubscriptionUseCase(subRepo, logger)
	accessUC := usecase.NewAccessUseCase(bot, logger)
	payUC := usecase.NewPaymentUseCase(
		paymentRepo, subRepo, txManager,
		subUC, accessUC,
		gateways, bot,
		cfg.Subscription.PriceMinor, cfg.Subscription.Currency,
		cfg.Community.SupportURL,
		logger,
	)

	// ---- Facade ----
	facade := application.NewBotFacade(payUC, subUC, stateRepo, paymentRepo, subRepo,
		cfg.Bot.AdminIDs, cfg.Community.SupportURL, logger)
	bot.SetFacade(facade)

	if strings.ToLower(cfg.Bot.Mode) != "" && strings.ToLower(cfg.Bot.Mode) != "polling" {
		logger.Warn().Str("mode", cfg.Bot.Mode).Msg("bot mode not implemented; falling back to polling")
	}
	go func() {
		if err := bot.StartPolling(ctx); err != nil {
			logger.Error().Err(err).Msg("telegram polling stopped")
		}
	}()

	// ---- HTTP server: webhooks, health, metrics, admin API ----
	srv := web.NewServer(cfg, payUC, paymentRepo, subRepo, signer, verifier, logger)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	// ---- Workers ----
	renewal := sched.NewRenewalWorker(cfg.Sweep.RenewalInterval, payUC, subRepo, logger)
	go func() { _ = renewal.Run(ctx) }()
	expiry := sched.NewInvoiceExpiryWorker(cfg.Sweep.ExpiryInterval, cfg.Providers.CryptoCloud.InvoiceTTL, payUC, logger)
	go func() { _ = expiry.Run(ctx) }()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")
	cancel()
	_ = srv.Shutdown(context.Background())
	bot.StopPolling()
}
