package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"order-engine/internal/config"
	httpctrl "order-engine/internal/controllers/http"
	"order-engine/internal/events"
	"order-engine/internal/infra"
	"order-engine/internal/infra/cache"
	"order-engine/internal/infra/kafka"
	mmysql "order-engine/internal/infra/mysql"
	"order-engine/internal/infra/rabbitmq"
	"order-engine/internal/logging"
	"order-engine/internal/repository"
	"order-engine/internal/repository/memory"
	mysqlrepo "order-engine/internal/repository/mysql"
	"order-engine/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const (
	couponCacheTTL    = 30 * time.Second
	idempotencyKeyTTL = 24 * time.Hour
)

type storage struct {
	tx        repository.TxManager
	orders    repository.OrderRepository
	coupons   repository.CouponRepository
	resources repository.ResourceRepository
	customers repository.CustomerRepository
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.New("info")
		bootLogger.Fatal().Err(err).Msg("load config")
	}
	logger := logging.New(cfg.LogLevel)

	store, err := openStorage(cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.StorageDriver).Msg("storage: connect")
	}

	publisher, closePublisher, err := openPublisher(cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.EventsDriver).Msg("failed to init publisher")
	}
	defer closePublisher()
	dispatcher := events.NewDispatcher(publisher, cfg.ExternalTimeout, logger.With().Str("component", "events").Logger())

	var codegen infra.CodeGeneratorInterface
	if cfg.CodegenServiceURL != "" {
		codegen = infra.NewCodeGeneratorClient(cfg.CodegenServiceURL, cfg.ExternalTimeout)
	}

	orders := services.NewOrderService(store.orders, dispatcher, logger, cfg.OperationTimeout)
	coupons := services.NewCouponLedger(store.coupons, store.tx, dispatcher, logger, cfg.OperationTimeout)
	resources := services.NewResourceRegistry(store.resources, store.customers, store.tx, codegen, dispatcher, logger,
		services.ResourceRegistryConfig{
			FrontendURL:      cfg.FrontendURL,
			OperationTimeout: cfg.OperationTimeout,
			ExternalTimeout:  cfg.ExternalTimeout,
		})
	checkout := services.NewCheckoutService(orders, coupons, resources, store.customers, store.tx, dispatcher, logger,
		services.CheckoutConfig{
			GSTRate:              cfg.GSTRate,
			DefaultEstimatedTime: cfg.DefaultEstimatedTime,
			OperationTimeout:     cfg.OperationTimeout,
			ExternalTimeout:      cfg.ExternalTimeout,
			MaxAttempts:          cfg.RedeemMaxAttempts,
			ExhaustedPolicy:      cfg.CouponExhaustedPolicy,
		})
	if cfg.ProductServiceURL != "" {
		checkout.SetCatalog(infra.NewCatalogClient(cfg.ProductServiceURL, cfg.ExternalTimeout))
	}

	handler := httpctrl.NewHandler(checkout, orders, coupons, resources, logger)
	handler.SetCheckoutLimit(cfg.CheckoutRateLimit, cfg.CheckoutRateBurst)

	if cfg.RedisHost != "" {
		redisClient := cache.NewRedisClient(cfg.RedisHost)
		defer redisClient.Close()
		coupons.SetCache(cache.NewCouponCache(redisClient, couponCacheTTL))
		handler.SetIdempotencyStore(cache.NewIdempotencyStore(redisClient, idempotencyKeyTTL))
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), httpctrl.RequestLogger(logger))

	handler.RegisterRoutes(r)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.StaleOrderAfter > 0 {
		go sweepStaleOrders(ctx, orders, cfg, logger)
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Str("storage", cfg.StorageDriver).Str("events", cfg.EventsDriver).
			Msg("starting order service")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server run")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown")
	}
	logger.Info().Msg("server stopped")
}

func openStorage(cfg config.Config) (storage, error) {
	if cfg.StorageDriver == config.StorageMemory {
		s := memory.NewStore()
		return storage{tx: s.Tx, orders: s.Orders, coupons: s.Coupons, resources: s.Resources, customers: s.Customers}, nil
	}

	db, err := mmysql.NewMySQL(cfg.MySQL)
	if err != nil {
		return storage{}, err
	}
	return storage{
		tx:        mysqlrepo.NewTxManager(db),
		orders:    mysqlrepo.NewOrderRepository(db),
		coupons:   mysqlrepo.NewCouponRepository(db),
		resources: mysqlrepo.NewResourceRepository(db),
		customers: mysqlrepo.NewCustomerRepository(db),
	}, nil
}

func openPublisher(cfg config.Config) (events.Publisher, func(), error) {
	switch cfg.EventsDriver {
	case config.EventsKafka:
		p := kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		return p, func() { _ = p.Close() }, nil
	case config.EventsRabbitMQ:
		p, err := rabbitmq.NewPublisher(cfg.RabbitMQURL, cfg.RabbitMQExchange)
		if err != nil {
			return nil, nil, err
		}
		return p, p.Close, nil
	}
	return events.Nop{}, func() {}, nil
}

func sweepStaleOrders(ctx context.Context, orders *services.OrderService, cfg config.Config, logger zerolog.Logger) {
	ticker := time.NewTicker(cfg.StaleSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := orders.CancelStale(ctx, cfg.StaleOrderAfter); err != nil {
				logger.Error().Err(err).Msg("stale order sweep failed")
			}
		}
	}
}
