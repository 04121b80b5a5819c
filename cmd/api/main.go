package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/isw-interns2026/shardul-ecommerce/internal/checkout"
	"github.com/isw-interns2026/shardul-ecommerce/internal/config"
	"github.com/isw-interns2026/shardul-ecommerce/internal/httpx"
	kafkax "github.com/isw-interns2026/shardul-ecommerce/internal/kafka"
	"github.com/isw-interns2026/shardul-ecommerce/internal/logging"
	"github.com/isw-interns2026/shardul-ecommerce/internal/metrics"
	"github.com/isw-interns2026/shardul-ecommerce/internal/orders"
	"github.com/isw-interns2026/shardul-ecommerce/internal/payment"
	"github.com/isw-interns2026/shardul-ecommerce/internal/postgres"
	"github.com/isw-interns2026/shardul-ecommerce/internal/redisx"
	"github.com/isw-interns2026/shardul-ecommerce/internal/reservation"
	"github.com/isw-interns2026/shardul-ecommerce/internal/stripepay"
	"github.com/isw-interns2026/shardul-ecommerce/internal/sweeper"
	"github.com/isw-interns2026/shardul-ecommerce/internal/tracing"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("config")
	}
	if err := cfg.RequireStripe(); err != nil {
		zlog.Fatal().Err(err).Msg("config")
	}
	log := logging.New(cfg.ServiceName, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(cfg.ServiceName, cfg.JaegerURL)
	if err != nil {
		log.Fatal().Err(err).Msg("tracing")
	}

	// Store
	var store orders.Store
	switch cfg.StoreDriver {
	case config.DriverMemory:
		log.Warn().Msg("using the in-memory store; state is lost on exit")
		mem := orders.NewMemStore()
		if cfg.SeedFile != "" {
			seed, err := mem.SeedFile(cfg.SeedFile)
			if err != nil {
				log.Fatal().Err(err).Str("file", cfg.SeedFile).Msg("seed memory store")
			}
			log.Info().Str("file", cfg.SeedFile).Int("buyers", len(seed.Buyers)).
				Int("products", len(seed.Products)).Int("cart_rows", len(seed.Carts)).Msg("memory store seeded")
		} else {
			log.Warn().Msg("memory store is empty; set SEED_FILE to load buyers, products and carts")
		}
		store = mem
	default:
		db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresMax)
		if err != nil {
			log.Fatal().Err(err).Msg("db connect")
		}
		defer db.Close()
		if err := postgres.Migrate(ctx, db); err != nil {
			log.Fatal().Err(err).Msg("db migrate")
		}
		store = &orders.PgStore{DB: db}
	}

	// Redis (optional)
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redisx.New(cfg.RedisAddr)
		defer rdb.Close()
	}

	// Kafka producer (optional)
	var (
		events orders.EventPublisher = orders.NopPublisher{}
		prod   *kafkax.Producer
	)
	if len(cfg.KafkaBrokers) > 0 {
		prod = kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicTransactionEvents, 1024, logging.Component(log, "kafka"))
		prod.Start()
		events = &kafkax.Publisher{P: prod}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	saga := metrics.NewSaga(reg)

	engine := &reservation.Engine{
		Store:       store,
		Events:      events,
		Metrics:     saga,
		Log:         logging.Component(log, "reservation"),
		MaxAttempts: cfg.ReserveMaxAttempts,
		Producer:    cfg.ServiceName,
	}
	stripeClient := stripepay.New(stripepay.Config{
		SecretKey:     cfg.StripeSecretKey,
		WebhookSecret: cfg.StripeWebhookSecret,
		SuccessURL:    cfg.SuccessURL,
		CancelURL:     cfg.CancelURL,
		Currency:      cfg.Currency,
		BackendURL:    cfg.StripeBackendURL,
	})
	resolver := &payment.Resolver{
		Provider:     stripeClient,
		Store:        store,
		Reservations: engine,
		Metrics:      saga,
		Log:          logging.Component(log, "webhook"),
	}
	handler := &httpx.CheckoutHandler{
		Checkout: &checkout.Orchestrator{
			Store:          store,
			Engine:         engine,
			Payments:       stripeClient,
			Events:         events,
			Metrics:        saga,
			Log:            logging.Component(log, "checkout"),
			PaymentTimeout: cfg.PaymentTimeout,
			SessionTTL:     cfg.ReservationTimeout,
			Producer:       cfg.ServiceName,
		},
		Webhooks:    resolver,
		Fulfillment: &checkout.Fulfillment{Store: store, Log: logging.Component(log, "fulfillment")},
		Store:       store,
	}
	if rdb != nil {
		resolver.Dedup = &redisx.Dedup{R: rdb, Service: cfg.ServiceName}
		handler.Cache = &redisx.StatusCache{R: rdb}
	}

	router := httpx.NewRouter(log, metrics.NewServerMetrics(reg), reg)
	handler.Register(router)
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Str("store", cfg.StoreDriver).Msg("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if cfg.EmbeddedSweeper {
		sw := &sweeper.Sweeper{
			Store:    store,
			Releaser: engine,
			Timeout:  cfg.ReservationTimeout,
			Schedule: cfg.SweepSchedule,
			Metrics:  saga,
			Log:      logging.Component(log, "sweeper"),
		}
		if rdb != nil {
			sw.Lock = &redisx.Locker{R: rdb}
		}
		g.Go(func() error { return sw.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("exit")
	}
	// no publishes after the server and sweeper are down
	if prod != nil {
		prod.Close()
		prod.WaitClosed()
	}
	flush(log, shutdownTracing)
}

func flush(log zerolog.Logger, shutdown func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("tracing shutdown")
	}
}
