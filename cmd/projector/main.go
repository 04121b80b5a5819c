package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"

	"github.com/isw-interns2026/shardul-ecommerce/internal/config"
	kafkax "github.com/isw-interns2026/shardul-ecommerce/internal/kafka"
	"github.com/isw-interns2026/shardul-ecommerce/internal/logging"
	"github.com/isw-interns2026/shardul-ecommerce/internal/orders"
	"github.com/isw-interns2026/shardul-ecommerce/internal/projection"
	"github.com/isw-interns2026/shardul-ecommerce/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("config")
	}
	if len(cfg.KafkaBrokers) == 0 || cfg.RedisAddr == "" {
		zlog.Fatal().Msg("the projector needs KAFKA_BROKERS and REDIS_ADDR")
	}
	log := logging.New(cfg.ServiceName+"-projector", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	p := &projection.Projector{Cache: &redisx.StatusCache{R: rdb}, Log: logging.Component(log, "projector")}
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ProjectorGroup, orders.TopicTransactionEvents, cfg.ProjectorWorkers, log)

	log.Info().Str("group", cfg.ProjectorGroup).Str("topic", orders.TopicTransactionEvents).
		Int("workers", cfg.ProjectorWorkers).Msg("projector started")
	if err := cons.Start(ctx, p.HandleMessage); err != nil {
		log.Error().Err(err).Msg("consumer exit")
	}
}
