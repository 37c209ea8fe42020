package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/IdanMittelpunkt/UAPES/internal/console/handler"
	"github.com/IdanMittelpunkt/UAPES/internal/console/server"
	"github.com/IdanMittelpunkt/UAPES/internal/console/service"
	"github.com/IdanMittelpunkt/UAPES/internal/distribution"
	"github.com/IdanMittelpunkt/UAPES/internal/infra"
	"github.com/IdanMittelpunkt/UAPES/internal/infra/auth"
	"github.com/IdanMittelpunkt/UAPES/internal/repository/postgres"
)

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	// 2. Инфраструктура и ресурсы
	if cfg.Database.URL == "" {
		logger.Fatal("database.url is required (DATABASE_URL)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	store, err := postgres.NewStore(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		logger.Fatal("failed to init postgres pool", zap.Error(err))
	}
	if err := store.Ping(ctx); err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	cancel()
	defer store.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("failed to load auth public key", zap.Error(err))
	}
	validator := auth.NewBaseValidator(pubKey)

	// 3. Слои приложения (Dependency Injection)
	policyRepo := postgres.NewPolicyRepo(store)
	ruleRepo := postgres.NewRuleRepo(store)
	stateRepo := postgres.NewStateRepo(store)

	notifier := service.NewChangeNotifier(rdb, logger)
	policyService := service.NewPolicyService(policyRepo, notifier)
	ruleService := service.NewRuleService(ruleRepo, notifier)

	// 4. Дистрибуция: доставка через Redis, обернутая в retry и breaker
	registry := prometheus.NewRegistry()

	hostname, _ := os.Hostname()
	engine := distribution.NewEngine(distribution.Config{
		Rules:     ruleRepo,
		State:     stateRepo,
		Deliverer: distribution.NewReliableDeliverer(distribution.NewRedisDeliverer(rdb, logger)),
		Logger:    logger,
		Metrics:   distribution.NewMetrics(registry),
		Owner:     fmt.Sprintf("%s-%d", hostname, os.Getpid()),
		Lookback:  cfg.Distribution.Lookback,
		LeaseTTL:  cfg.Distribution.LeaseTTL,
	})

	// 5. HTTP Server
	srv := server.NewServer(
		cfg,
		logger,
		validator,
		registry,
		handler.NewPolicyHandler(policyService, logger),
		handler.NewRuleHandler(ruleService, logger),
		handler.NewDistributionHandler(engine, logger),
	)

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 6. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("policyhub started", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop
	logger.Info("policyhub stopping")

	// Даем 5 секунд на завершение запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server shutdown failed", zap.Error(err))
	}
	logger.Info("policyhub exited properly")
}
