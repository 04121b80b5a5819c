package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/isw-interns2026/shardul-ecommerce/internal/config"
	"github.com/isw-interns2026/shardul-ecommerce/internal/httpx"
	kafkax "github.com/isw-interns2026/shardul-ecommerce/internal/kafka"
	"github.com/isw-interns2026/shardul-ecommerce/internal/logging"
	"github.com/isw-interns2026/shardul-ecommerce/internal/metrics"
	"github.com/isw-interns2026/shardul-ecommerce/internal/orders"
	"github.com/isw-interns2026/shardul-ecommerce/internal/postgres"
	"github.com/isw-interns2026/shardul-ecommerce/internal/redisx"
	"github.com/isw-interns2026/shardul-ecommerce/internal/reservation"
	"github.com/isw-interns2026/shardul-ecommerce/internal/sweeper"
	"github.com/isw-interns2026/shardul-ecommerce/internal/tracing"
)

// The sweeper runs next to any number of API replicas; the Redis lock
// keeps ticks from overlapping when several sweepers are deployed.
func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("config")
	}
	if cfg.StoreDriver != config.DriverPostgres {
		zlog.Fatal().Str("driver", cfg.StoreDriver).Msg("the standalone sweeper needs the postgres store")
	}
	log := logging.New(cfg.ServiceName+"-sweeper", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(cfg.ServiceName+"-sweeper", cfg.JaegerURL)
	if err != nil {
		log.Fatal().Err(err).Msg("tracing")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN, 4)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	defer db.Close()
	store := &orders.PgStore{DB: db}

	var events orders.EventPublisher = orders.NopPublisher{}
	var prod *kafkax.Producer
	if len(cfg.KafkaBrokers) > 0 {
		prod = kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicTransactionEvents, 256, logging.Component(log, "kafka"))
		prod.Start()
		events = &kafkax.Publisher{P: prod}
	}

	reg := prometheus.NewRegistry()
	saga := metrics.NewSaga(reg)
	sw := &sweeper.Sweeper{
		Store: store,
		Releaser: &reservation.Engine{
			Store:       store,
			Events:      events,
			Metrics:     saga,
			Log:         logging.Component(log, "reservation"),
			MaxAttempts: cfg.ReserveMaxAttempts,
			Producer:    cfg.ServiceName + "-sweeper",
		},
		Timeout:  cfg.ReservationTimeout,
		Schedule: cfg.SweepSchedule,
		Metrics:  saga,
		Log:      logging.Component(log, "sweeper"),
	}
	if cfg.RedisAddr != "" {
		rdb := redisx.New(cfg.RedisAddr)
		defer rdb.Close()
		sw.Lock = &redisx.Locker{R: rdb}
	}

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: httpx.NewRouter(log, nil, reg), ReadHeaderTimeout: 5 * time.Second}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sw.Run(gctx) })
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("exit")
	}
	if prod != nil {
		prod.Close()
		prod.WaitClosed()
	}
}
