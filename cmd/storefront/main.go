package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fjod/storefront/internal/cache"
	"github.com/fjod/storefront/internal/cart"
	"github.com/fjod/storefront/internal/checkout"
	"github.com/fjod/storefront/internal/config"
	"github.com/fjod/storefront/internal/domain"
	h "github.com/fjod/storefront/internal/http"
	"github.com/fjod/storefront/internal/logger"
	"github.com/fjod/storefront/internal/metrics"
	"github.com/fjod/storefront/internal/payment"
	"github.com/fjod/storefront/internal/publisher"
	"github.com/fjod/storefront/internal/reconcile"
	"github.com/fjod/storefront/internal/repository"
	"github.com/fjod/storefront/internal/store"
	"github.com/midtrans/midtrans-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New("storefront", os.Stdout, logger.ParseLevel(cfg.LogLevel))
	slog.SetDefault(log)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	if err := run(cfg, log); err != nil {
		log.Error("storefront stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	cartCache, closeCache, err := openCache(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeCache()

	escalations, closeJournal, err := openJournal(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeJournal()

	gateway, closeGateway, err := openGateway(cfg, log)
	if err != nil {
		return err
	}
	defer closeGateway()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	carts := cart.NewCartService(st, st, cartCache, log)
	checkouts := checkout.NewCheckoutService(st, gateway, escalations, carts, m, log, checkout.Config{Currency: cfg.Currency})

	router := h.NewRouter(h.RouterConfig{
		JWTSecret:          []byte(cfg.JWTSecret),
		RequestTimeout:     cfg.RequestTimeout,
		MaxRequestBodySize: cfg.MaxRequestBodySize,
	}, h.Handlers{
		Cart:     h.NewCartHandler(carts, cfg.RequestTimeout, log),
		Checkout: h.NewCheckoutHandler(checkouts, cfg.RequestTimeout, log),
		Orders:   h.NewOrdersHandler(st, cfg.RequestTimeout, log),
		Products: h.NewProductHandler(st, cfg.RequestTimeout, log),
	}, m, log)

	// Background workers stop with workersCtx after the HTTP server drained.
	workersCtx, cancelWorkers := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWorkers()
	var workers []func(context.Context)
	if len(cfg.KafkaBrokers) > 0 {
		poller := publisher.NewOutboxPoller(st, publisher.NewKafkaWriter(cfg.KafkaBrokers...), log)
		consumer := reconcile.NewEscalationConsumer(escalations, reconcile.NewKafkaReader(publisher.Topic, cfg.KafkaBrokers...), log)
		workers = append(workers, poller.Run, consumer.Run)
		log.Info("outbox publisher started", "brokers", cfg.KafkaBrokers, "topic", publisher.Topic)
	} else {
		log.Warn("KAFKA_BROKERS not set, outbox events stay unpublished")
	}
	workers = append(workers, publisher.NewSweeper(checkouts, cfg.StuckCheckoutAfter, log).Run)

	done := make(chan struct{}, len(workers))
	for _, work := range workers {
		go func() {
			work(workersCtx)
			done <- struct{}{}
		}()
	}

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      otelhttp.NewHandler(router, "storefront"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("storefront starting", "port", cfg.HTTPPort, "store", cfg.StoreDriver, "payment_provider", gateway.Name())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	log.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	cancelWorkers()
	for range workers {
		select {
		case <-done:
		case <-shutdownCtx.Done():
			log.Warn("background workers did not stop in time")
			return nil
		}
	}

	log.Info("server exited")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (store.Store, error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		s := store.NewMemoryStore()
		seedDemoCatalog(s)
		log.Warn("using in-memory store, data is lost on restart")
		return s, nil
	}

	repo, err := repository.NewRepository(ctx, &repository.Credentials{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		DBName:   cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	})
	if err != nil {
		return nil, err
	}
	if err := repo.Migrate(cfg.MigrationsPath); err != nil {
		repo.Close()
		return nil, err
	}
	log.Info("connected to PostgreSQL", "host", cfg.DBHost, "db", cfg.DBName)
	return repo, nil
}

func openCache(ctx context.Context, cfg *config.Config, log *slog.Logger) (cache.CartCache, func(), error) {
	if cfg.RedisAddr == "" {
		log.Warn("REDIS_ADDR not set, cart cache disabled")
		return cache.Nop{}, func() {}, nil
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		redisClient.Close()
		return nil, nil, fmt.Errorf("redis connection failed: %w", err)
	}
	log.Info("redis ping succeeded", "addr", cfg.RedisAddr)
	return cache.NewRedisCache(redisClient, cfg.CartCacheTTL), func() { redisClient.Close() }, nil
}

// journal is what both the checkout service and the escalation consumer need.
type journal interface {
	reconcile.Journal
	reconcile.Backfiller
}

func openJournal(ctx context.Context, cfg *config.Config, log *slog.Logger) (journal, func(), error) {
	if cfg.MongoURI == "" {
		log.Warn("MONGO_URI not set, escalations are kept in memory and in the logs only")
		return reconcile.NewMemoryJournal(), func() {}, nil
	}

	db, err := reconcile.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName)
	if err != nil {
		return nil, nil, err
	}
	disconnect := func() {
		if err := reconcile.Disconnect(db, 5*time.Second); err != nil {
			log.Warn("failed to disconnect from MongoDB", "error", err)
		}
	}

	j := reconcile.NewMongoJournal(db)
	if err := j.CreateIndexes(ctx); err != nil {
		disconnect()
		return nil, nil, err
	}
	log.Info("connected to MongoDB", "db", cfg.MongoDBName)
	return j, disconnect, nil
}

func openGateway(cfg *config.Config, log *slog.Logger) (payment.Gateway, func(), error) {
	if cfg.PaymentProvider == config.PaymentProviderMidtrans {
		env := midtrans.Sandbox
		if cfg.MidtransProduction {
			env = midtrans.Production
		}
		return payment.NewMidtransGateway(cfg.MidtransServerKey, env), func() {}, nil
	}

	conn, err := payment.Dial(cfg.PaymentServiceAddr)
	if err != nil {
		return nil, nil, err
	}
	log.Info("payment client ready", "addr", cfg.PaymentServiceAddr)
	return payment.NewGRPCGateway(conn, cfg.PaymentTimeout, log), func() { conn.Close() }, nil
}

// seedDemoCatalog gives the in-memory store something to sell.
func seedDemoCatalog(s *store.MemoryStore) {
	price := decimal.RequireFromString
	s.PutProduct(&domain.Product{ID: 1, Name: "Smartphone X", Price: price("699.99"), Stock: 50, Featured: true})
	s.PutProduct(&domain.Product{ID: 2, Name: "Wireless Earbuds", Price: price("129.99"), Stock: 100})
	s.PutProduct(&domain.Product{ID: 3, Name: "Coffee Maker", Price: price("49.99"), Stock: 25})
	s.PutProduct(&domain.Product{ID: 4, Name: "Mystery Novel", Price: price("14.99"), Stock: 200})
	s.PutProduct(&domain.Product{
		ID:    5,
		Name:  "Classic Hoodie",
		Price: price("39.99"),
		Sizes: []domain.SizeVariant{
			{ID: 1, ProductID: 5, Label: "S", Stock: 10},
			{ID: 2, ProductID: 5, Label: "M", Stock: 15},
			{ID: 3, ProductID: 5, Label: "L", Stock: 15},
			{ID: 4, ProductID: 5, Label: "XL", PriceAdjustment: price("5.00"), Stock: 5},
		},
	})
}
