package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	applicationsHandler "govportal/internal/applications/handler"
	applicationsService "govportal/internal/applications/service"
	"govportal/internal/audit"
	"govportal/internal/backend"
	"govportal/internal/backend/memory"
	"govportal/internal/backend/pending"
	"govportal/internal/backend/postgres"
	"govportal/internal/backend/redisfeed"
	"govportal/internal/dashboard"
	dashboardHandler "govportal/internal/dashboard/handler"
	jwttoken "govportal/internal/jwt_token"
	"govportal/internal/platform/config"
	"govportal/internal/platform/httpserver"
	"govportal/internal/platform/logger"
	"govportal/internal/platform/metrics"
	"govportal/internal/platform/redis"
	"govportal/internal/seed"
	httptransport "govportal/internal/transport/http"
	"govportal/internal/workflow"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal packages.
func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(os.Stdout, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

// closers run in reverse registration order on shutdown.
type closers []func()

func (c *closers) add(fn func()) { *c = append(*c, fn) }

func (c closers) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	var cleanup closers
	defer cleanup.run()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	checks := map[string]httptransport.HealthCheck{}

	store, err := buildBackend(ctx, cfg, log, checks, &cleanup)
	if err != nil {
		return err
	}

	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		cleanup.add(func() { _ = redisClient.Close() })
		checks["redis"] = redisClient.Health
		store = redisfeed.New(store, redisClient.Client,
			redisfeed.WithPrefix(cfg.Redis.ChannelPrefix),
			redisfeed.WithLogger(log),
		)
		log.Info("sharing change feed over redis", "prefix", cfg.Redis.ChannelPrefix)
	}

	var pendingWrites *pending.Backend
	if cfg.Backend.PendingCapacity > 0 {
		pendingWrites = pending.Wrap(store, cfg.Backend.PendingCapacity, pending.WithLogger(log))
		store = pendingWrites
	}

	watchOpts := []backend.WatchOption{
		backend.WithBackoff(cfg.Sync.ReconnectInitial, cfg.Sync.ReconnectMax),
		backend.WithWatchLogger(log),
	}

	policy := workflow.AcceptOrphanedUpdate
	if cfg.Sync.CompensateOnAuditFailure {
		policy = workflow.CompensateUpdate
	}
	manager := dashboard.NewManager(store,
		dashboard.WithIdleTimeout(cfg.Sync.IdleTimeout),
		dashboard.WithSweepSchedule(cfg.Sync.SweepSchedule),
		dashboard.WithManagerLogger(log),
		dashboard.WithManagerMetrics(m),
		dashboard.WithDashboardOptions(
			dashboard.WithLogger(log),
			dashboard.WithMetrics(m),
			dashboard.WithAuditLimit(cfg.Sync.AuditLimit),
			dashboard.WithPolicy(policy),
			dashboard.WithSurfaceErrors(cfg.Sync.SurfaceErrors),
			dashboard.WithWatchOptions(watchOpts...),
		),
	)
	if err := manager.Start(); err != nil {
		return fmt.Errorf("start dashboard manager: %w", err)
	}
	cleanup.add(manager.Close)

	if len(cfg.Kafka.Brokers) > 0 {
		worker, err := startAuditMirror(ctx, cfg.Kafka, store, m, log, watchOpts, &cleanup)
		if err != nil {
			return err
		}
		cleanup.add(worker.Stop)
	}

	jwtService := jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.Issuer, cfg.Auth.Audience)
	jwtValidator := jwttoken.NewJWTServiceAdapter(jwtService)

	appService := applicationsService.New(store, applicationsService.WithLogger(log))

	handlers := []httptransport.Registrar{
		applicationsHandler.New(appService, log, m, jwtValidator),
		dashboardHandler.New(manager, log, m, jwtValidator),
	}
	if cfg.Server.AdminToken != "" {
		var pw httptransport.PendingWrites
		if pendingWrites != nil {
			pw = pendingWrites
		}
		var issuer httptransport.TokenIssuer
		if cfg.Backend.Kind == config.BackendMemory {
			issuer = jwtService
		}
		handlers = append(handlers, httptransport.NewAdminHandler(cfg.Server.AdminToken, pw, issuer, log))
	}

	router := httptransport.NewRouter(httptransport.Deps{
		Logger:      log,
		Gatherer:    reg,
		CORSOrigins: cfg.Server.CORSOrigins,
		Checks:      checks,
		Handlers:    handlers,
	})

	srv := httpserver.New(cfg.Server.Addr, router)
	// Shutdown waits for open streams; closing the dashboards ends them.
	srv.RegisterOnShutdown(manager.Close)
	log.Info("starting govportal",
		"addr", cfg.Server.Addr,
		"backend", cfg.Backend.Kind,
		"policy", policy.String(),
	)
	return httpserver.Run(ctx, srv, cfg.Server.ShutdownTimeout)
}

func buildBackend(ctx context.Context, cfg config.Config, log *slog.Logger, checks map[string]httptransport.HealthCheck, cleanup *closers) (backend.Backend, error) {
	switch cfg.Backend.Kind {
	case config.BackendPostgres:
		db, err := postgres.Open(ctx, cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		cleanup.add(func() { _ = db.Close() })
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
		checks["postgres"] = pingDB(db)

		if cfg.Database.Migrate {
			if err := postgres.Migrate(ctx, db, log); err != nil {
				return nil, err
			}
		}

		feed, err := postgres.NewFeed(cfg.Database.URL,
			postgres.WithFeedLogger(log),
			postgres.WithReconnectInterval(cfg.Sync.ReconnectInitial, cfg.Sync.ReconnectMax),
		)
		if err != nil {
			return nil, err
		}
		cleanup.add(func() { _ = feed.Close() })
		checks["change_feed"] = feed.Ping
		return postgres.New(db, postgres.WithFeed(feed)), nil

	default:
		store := memory.New()
		cleanup.add(func() { _ = store.Close() })
		if cfg.Backend.Seed {
			n, err := seed.Demo(ctx, store, time.Now().UTC())
			if err != nil {
				return nil, fmt.Errorf("seed demo data: %w", err)
			}
			log.Info("seeded demo applications", "count", n)
		}
		return store, nil
	}
}

func pingDB(db *sql.DB) httptransport.HealthCheck {
	return func(ctx context.Context) error {
		return db.PingContext(ctx)
	}
}

func startAuditMirror(
	ctx context.Context,
	cfg config.Kafka,
	src backend.Subscriber,
	m *metrics.Metrics,
	log *slog.Logger,
	watchOpts []backend.WatchOption,
	cleanup *closers,
) (*audit.Worker, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	cleanup.add(client.Close)

	setupCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := audit.EnsureTopic(setupCtx, kadm.NewClient(client), cfg.AuditTopic, cfg.Partitions, cfg.ReplicationFactor); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("kafka brokers %v unreachable: %w", cfg.Brokers, err)
		}
		return nil, err
	}

	publisher := audit.NewPublisher(client, cfg.AuditTopic,
		audit.WithLogger(log),
		audit.WithMetrics(m),
	)
	worker := audit.NewWorker(src, publisher,
		audit.WithWorkerLogger(log),
		audit.WithWatchOptions(watchOpts...),
	)
	worker.Start(ctx)
	log.Info("mirroring audit entries to kafka", "topic", cfg.AuditTopic, "brokers", cfg.Brokers)
	return worker, nil
}
