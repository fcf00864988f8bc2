// Command producer runs the incremental IMAP polling loop for one
// (account, mailbox) pair, appending normalized records to the primary
// log — wiring mirrors apps/cdc-worker/cmd/worker/main.go's explicit
// constructor assembly, generalized from logical replication to IMAP
// polling and from a single defer-chain teardown to the priority-ordered
// shutdown coordinator.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/auth"
	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/breaker"
	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/config"
	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/health"
	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/idempotency"
	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/imapclient"
	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/metrics"
	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/producer"
	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/shutdown"
	"github.com/Kepler9870u0987/TT-IngestionLayer/internal/store"
)

const (
	exitInitError       = 1
	exitAuthSetupNeeded = 2
)

func main() {
	app := &cli.App{
		Name:  "emailflow-producer",
		Usage: "poll an IMAP mailbox and append normalized records to the primary log",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "path to a flat KEY=VALUE config file"},
			&cli.StringFlag{Name: "username", Required: true, Usage: "mailbox account, e.g. alice@example.com"},
			&cli.StringFlag{Name: "mailbox", Value: "INBOX"},
			&cli.IntFlag{Name: "batch-size", Value: 50},
			&cli.DurationFlag{Name: "poll-interval", Value: 30 * time.Second},
			&cli.BoolFlag{Name: "dry-run", Usage: "poll and log without appending to the log; the cursor still advances"},
			&cli.BoolFlag{Name: "auth-setup", Usage: "run interactive OAuth2 setup and exit"},
			&cli.StringFlag{Name: "provider", Usage: "gmail or outlook; overrides AUTH_PROVIDER"},
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
	if v := c.String("provider"); v != "" {
		cfg.AuthProvider = v
	}

	authProvider, err := buildAuthProvider(cfg, log)
	if err != nil {
		return cli.Exit(fmt.Sprintf("building auth provider: %v", err), exitInitError)
	}

	ctx, cancelSignals := shutdown.ListenForSignals()
	defer cancelSignals()

	if c.Bool("auth-setup") {
		if err := authProvider.InteractiveSetup(ctx); err != nil {
			return cli.Exit(fmt.Sprintf("interactive auth setup failed: %v", err), exitInitError)
		}
		log.Info("auth setup complete")
		return nil
	}

	if _, err := authProvider.AccessToken(ctx); err != nil {
		return cli.Exit(fmt.Sprintf("no usable token, run --auth-setup first: %v", err), exitAuthSetupNeeded)
	}

	redisClient, err := store.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, log)
	if err != nil {
		return cli.Exit(fmt.Sprintf("connecting to redis: %v", err), exitInitError)
	}

	breakers := breaker.NewRegistry()
	idem := idempotency.New(redisClient, cfg.IdempotencyTTL, nil)

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	p := producer.New(
		producer.Settings{
			Account:          c.String("username"),
			Mailbox:          c.String("mailbox"),
			BatchSize:        c.Int("batch-size"),
			PollInterval:     c.Duration("poll-interval"),
			MaxStreamLen:     cfg.MaxStreamLen,
			DryRun:           c.Bool("dry-run"),
			PrimaryStream:    cfg.PrimaryStream,
			BodyPreviewBytes: uint32(cfg.BodyPreviewBytes),
		},
		func() (imapclient.ImapSession, error) { return imapclient.Dial(cfg.IMAPHost, cfg.IMAPPort, cfg.IMAPTLS, log) },
		authProvider,
		redisClient,
		redisClient,
		idem,
		breakers,
		collector,
		log,
	)

	healthSrv := health.New(fmt.Sprintf(":%d", cfg.HealthPort), breakers, log)
	healthSrv.RegisterCheck(health.Check{Name: "redis", Func: func(ctx context.Context) error {
		_, _, err := redisClient.Get("healthcheck:producer")
		return err
	}})
	healthSrv.Start()

	metricsSrv := metrics.NewServer(fmt.Sprintf(":%d", cfg.MetricsPort), reg, log)
	metricsSrv.Start()

	depthPoller := metrics.NewDepthPoller(collector, redisClient, cfg.PrimaryStream, cfg.DLQStream, breakers, 15*time.Second, log)

	coordinator := shutdown.New(30*time.Second, log)
	coordinator.Register(shutdown.Callback{Name: "health_server", Priority: 10, Run: healthSrv.Shutdown})
	coordinator.Register(shutdown.Callback{Name: "metrics_server", Priority: 10, Run: metricsSrv.Shutdown})
	coordinator.Register(shutdown.Callback{Name: "redis_client", Priority: 90, Run: func(context.Context) error { return redisClient.Close() }})

	stop := make(chan struct{})
	depthCtx, stopDepth := context.WithCancel(ctx)
	go p.Run(ctx, stop)
	go depthPoller.Run(depthCtx)

	<-ctx.Done()
	close(stop)
	stopDepth()
	coordinator.Initiate(context.Background())

	log.Info("producer shut down cleanly")
	return nil
}

func buildAuthProvider(cfg *config.Config, log *zap.Logger) (auth.Provider, error) {
	switch cfg.AuthProvider {
	case "gmail":
		return auth.NewGoogleProvider(cfg.OAuthClientID, cfg.OAuthSecret, cfg.TokenStorePath, log), nil
	case "outlook":
		return auth.NewOutlookProvider(cfg.OAuthClientID, cfg.OAuthTenant, cfg.TokenStorePath, log), nil
	default:
		return nil, fmt.Errorf("unknown auth provider %q", cfg.AuthProvider)
	}
}
