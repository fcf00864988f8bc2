// Command worker drains a share of the primary log's consumer group,
// deduplicating, processing, and routing failures to retry or the
// dead-letter stream — wiring mirrors cmd/producer/main.go's explicit
// constructor assembly and shared shutdown-coordinator idiom.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/backoff"
	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/breaker"
	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/config"
	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/dlq"
	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/health"
	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/idempotency"
	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/metrics"
	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/orphan"
	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/processor"
	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/shutdown"
	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/store"
	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/worker"
)

const exitInitError = 1

func main() {
	app := &cli.App{
		Name:  "emailflow-worker",
		Usage: "dispatch one consumer's share of the primary log's consumer group",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "path to a flat KEY=VALUE config file"},
			&cli.StringFlag{Name: "stream", Usage: "overrides PRIMARY_STREAM"},
			&cli.StringFlag{Name: "group", Usage: "overrides CONSUMER_GROUP"},
			&cli.StringFlag{Name: "consumer", Usage: "consumer name; defaults to a random id"},
			&cli.IntFlag{Name: "batch-size", Value: 10},
			&cli.DurationFlag{Name: "block-timeout", Value: 5 * time.Second},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		if coded, ok := err.(cli.ExitCoder); ok {
			os.Exit(coded.ExitCode())
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitInitError)
	}
}

func run(c *cli.Context) error {
	log, err := zap.NewProduction()
	if err != nil {
		return cli.Exit(fmt.Sprintf("building logger: %v", err), exitInitError)
	}
	defer log.Sync()

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("loading config: %v", err), exitInitError)
	}

	streamName := cfg.PrimaryStream
	if v := c.String("stream"); v != "" {
		streamName = v
	}
	groupName := cfg.ConsumerGroup
	if v := c.String("group"); v != "" {
		groupName = v
	}
	consumerName := c.String("consumer")
	if consumerName == "" {
		consumerName = "worker-" + uuid.NewString()
	}

	ctx, cancelSignals := shutdown.ListenForSignals()
	defer cancelSignals()

	redisClient, err := store.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, log)
	if err != nil {
		return cli.Exit(fmt.Sprintf("connecting to redis: %v", err), exitInitError)
	}

	breakers := breaker.NewRegistry()
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	idem := idempotency.New(redisClient, cfg.IdempotencyTTL, collector)
	backoffCtl := backoff.New(backoff.Settings{})
	dlqRouter := dlq.New(redisClient, cfg.DLQStream, collector)
	proc := processor.New(processor.DefaultHandler)

	w, err := worker.New(
		worker.Settings{
			Stream:       streamName,
			Group:        groupName,
			Consumer:     consumerName,
			BatchSize:    int64(c.Int("batch-size")),
			BlockTimeout: c.Duration("block-timeout"),
		},
		redisClient, idem, backoffCtl, dlqRouter, proc, collector, log,
	)
	if err != nil {
		return cli.Exit(fmt.Sprintf("building worker: %v", err), exitInitError)
	}

	sweeper := orphan.New(redisClient, dlqRouter, orphan.Settings{
		Stream:      streamName,
		Group:       groupName,
		Consumer:    consumerName,
		MinIdle:     time.Minute,
		MaxClaim:    100,
		MaxDelivery: 5,
	}, collector)

	healthSrv := health.New(fmt.Sprintf(":%d", cfg.HealthPort), breakers, log)
	healthSrv.RegisterCheck(health.Check{Name: "redis", Func: func(ctx context.Context) error {
		_, err := redisClient.Len(streamName)
		return err
	}})
	healthSrv.Start()

	metricsSrv := metrics.NewServer(fmt.Sprintf(":%d", cfg.MetricsPort), reg, log)
	metricsSrv.Start()

	depthPoller := metrics.NewDepthPoller(collector, redisClient, streamName, cfg.DLQStream, breakers, 15*time.Second, log)
	collector.SetActiveWorkers(1)

	workerCtx, stopWorker := context.WithCancel(ctx)
	go w.Run(workerCtx)
	go w.RunGC(workerCtx, 5*time.Minute)
	go sweeper.Run(workerCtx, log)
	go depthPoller.Run(workerCtx)

	coordinator := shutdown.New(30*time.Second, log)
	coordinator.Register(shutdown.Callback{Name: "health_server", Priority: 10, Run: healthSrv.Shutdown})
	coordinator.Register(shutdown.Callback{Name: "metrics_server", Priority: 10, Run: metricsSrv.Shutdown})
	coordinator.Register(shutdown.Callback{Name: "dispatch_loop", Priority: 50, Run: func(context.Context) error { stopWorker(); return nil }})
	coordinator.Register(shutdown.Callback{Name: "redis_client", Priority: 90, Run: func(context.Context) error { return redisClient.Close() }})

	<-ctx.Done()
	coordinator.Initiate(context.Background())

	log.Info("worker shut down cleanly")
	return nil
}
