package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/socketgate/pkg/async"
	"github.com/platinummonkey/socketgate/pkg/audit"
	"github.com/platinummonkey/socketgate/pkg/auth"
	"github.com/platinummonkey/socketgate/pkg/config"
	"github.com/platinummonkey/socketgate/pkg/directory"
	"github.com/platinummonkey/socketgate/pkg/gateway"
	"github.com/platinummonkey/socketgate/pkg/httputil"
	"github.com/platinummonkey/socketgate/pkg/middleware"
	"github.com/platinummonkey/socketgate/pkg/observability"
	"github.com/platinummonkey/socketgate/pkg/rbac"
	"github.com/platinummonkey/socketgate/pkg/transport"
)

type flags struct {
	eventLimits     string
	seed            string
	janitorSchedule string
	purgeSchedule   string
}

func main() {
	var f flags
	fs := pflag.NewFlagSet("socketgate", pflag.ExitOnError)
	fs.StringVar(&f.eventLimits, "event-limits", "", "YAML file of per-event limits (overrides SOCKETGATE_EVENT_LIMITS_FILE)")
	fs.StringVar(&f.seed, "seed", "", "YAML file of users and resources for the memory directory")
	fs.StringVar(&f.janitorSchedule, "janitor-schedule", "", "Cron schedule for limiter sweeps (default: every SOCKETGATE_SWEEP_INTERVAL)")
	fs.StringVar(&f.purgeSchedule, "purge-schedule", "30 3 * * *", "Cron schedule for audit retention in the database")
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "socketgate: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", cfg.Observability.OTelServiceName)

	if err := run(cfg, f, logger); err != nil {
		logger.WithError(err).Error("Gateway exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, f flags, logger *observability.Logger) error {
	ctx, stop := observability.SignalContext(context.Background())
	defer stop()

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	tp, err := observability.InitTracing(ctx, cfg.OTel(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	shutdown.Register("tracing", func(ctx context.Context) error {
		return observability.ShutdownTracing(ctx, tp, logger)
	})

	// Directory
	var (
		db    *sql.DB
		store directory.Store
	)
	switch cfg.Storage.Mode {
	case config.StoragePostgres:
		db, err = directory.Open(cfg.Postgres())
		if err != nil {
			return err
		}
		shutdown.Register("postgres", func(context.Context) error { return db.Close() })

		pg, err := directory.NewPostgresDirectory(db)
		if err != nil {
			return err
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			return err
		}
		store = pg
		logger.Info("Using Postgres directory")
	default:
		mem := directory.NewMemoryDirectory()
		if f.seed != "" {
			users, resources, err := loadSeed(f.seed, mem)
			if err != nil {
				return err
			}
			logger.WithFields(map[string]interface{}{"users": users, "resources": resources}).Info("Seeded memory directory")
		}
		store = mem
		logger.Warn("Using in-memory directory")
	}
	store = directory.Instrument(store, metrics)

	var rdb *redis.Client
	if cfg.Storage.RedisURL != "" {
		rdb, err = directory.OpenRedis(ctx, cfg.Redis())
		if err != nil {
			return err
		}
		shutdown.Register("redis", func(context.Context) error { return rdb.Close() })
	}

	// Limiters
	var (
		connLimiter  middleware.Limiter
		redisLimiter *middleware.RedisSlidingWindowLimiter
		factory      gateway.LimiterFactory
	)
	if cfg.Limits.Distributed {
		redisLimiter, factory = redisLimiters(rdb, cfg.ConnectionLimit())
		connLimiter = redisLimiter
		logger.Info("Using Redis-backed limiters")
	} else {
		connLimiter = middleware.NewSlidingWindowLimiter(cfg.ConnectionLimit())
		factory = gateway.MemoryLimiters
	}

	// Audit
	sinks := []audit.Sink{audit.NewLogSink(logger.WithField("component", "audit"))}
	if cfg.Audit.FileDir != "" {
		fileSink, err := audit.NewFileSink(audit.FileSinkConfig{
			Dir:      cfg.Audit.FileDir,
			MaxSize:  cfg.Audit.FileMaxSize,
			MaxFiles: cfg.Audit.FileMaxFiles,
		})
		if err != nil {
			return err
		}
		sinks = append(sinks, fileSink)
	}
	var dbSink *audit.DBSink
	if cfg.Audit.Database {
		dbSink, err = audit.NewDBSink(db)
		if err != nil {
			return err
		}
		if err := dbSink.EnsureSchema(ctx); err != nil {
			return err
		}
		sinks = append(sinks, dbSink)
	}
	sink := audit.NewMultiSink(sinks...)

	hub := transport.NewHub(transport.DefaultHubConfig, logger.WithField("component", "hub"))
	trailCfg := audit.DefaultTrailConfig()
	trailCfg.Production = cfg.Audit.Production
	trailCfg.Workers = cfg.Audit.Workers
	trailCfg.QueueSize = cfg.Audit.QueueSize

	// With Redis every replica relays the shared channel to its own admins
	var relay *audit.RedisPublisher
	var publisher audit.Publisher = hub
	if rdb != nil {
		relay = audit.NewRedisPublisher(rdb, audit.MonitorChannel, logger.WithField("component", "audit_relay"), metrics)
		publisher = relay
	}
	trail := audit.NewTrail(context.WithoutCancel(ctx), sink, trailCfg, logger.WithField("component", "audit"), metrics, publisher)
	shutdown.Register("audit trail", trail.Close)
	metrics.RegisterDropCounter("audit_publish", trail.Dropped)
	metrics.RegisterDropCounter("admin_broadcast", hub.Dropped)

	// Event limits
	limitsPath := cfg.Limits.EventLimitsFile
	if f.eventLimits != "" {
		limitsPath = f.eventLimits
	}
	throttle := gateway.NewEventThrottle(nil, nil, factory, trail, metrics)
	if limitsPath != "" {
		limits, err := config.LoadEventLimits(limitsPath)
		if err != nil {
			return err
		}
		throttle.SetPolicies(limits.Policies())
		if err := config.WatchEventLimits(ctx, limitsPath, logger, func(l *config.EventLimits) {
			throttle.SetPolicies(l.Policies())
		}); err != nil {
			return err
		}
	}

	sensitive := make(map[string]bool, len(cfg.Session.SensitiveEvents))
	for _, ev := range cfg.Session.SensitiveEvents {
		sensitive[ev] = true
	}

	verifier, err := auth.NewTokenVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.Leeway)
	if err != nil {
		return err
	}

	policies := eventPolicies(trail, metrics, store)
	for event, chain := range policies {
		logger.WithFields(map[string]interface{}{"event": event, "policy": chain.Name(), "checks": chain.Len()}).Debug("Event policy configured")
	}

	gw, err := gateway.New(gateway.Options{
		Verifier:            verifier,
		Users:               store,
		Resources:           store,
		ConnectionLimiter:   connLimiter,
		PenalizeUnknownUser: cfg.Limits.PenalizeUnknownUser,
		Throttle:            throttle,
		ConnectChain:        connectChain(trail, metrics),
		Policies:            policies,
		SensitiveEvents:     sensitive,
		Trail:               trail,
		Metrics:             metrics,
		Logger:              logger.WithField("component", "gateway"),
	})
	if err != nil {
		return err
	}
	shutdown.Register("gateway", gw.Close)

	// Janitor
	scheduler := cron.New()
	janitor := f.janitorSchedule
	if janitor == "" {
		janitor = "@every " + cfg.Limits.SweepInterval.String()
	}
	if _, err := scheduler.AddFunc(janitor, func() {
		defer observability.RecoverPanic(logger, "janitor")
		gw.Sweep()
		if db != nil {
			metrics.RecordDBStats(db.Stats())
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule janitor: %w", err)
	}
	if dbSink != nil && cfg.Audit.Retention > 0 {
		if _, err := scheduler.AddFunc(f.purgeSchedule, func() {
			async.SafeGo(context.Background(), logger, time.Minute, "audit purge", func(ctx context.Context) error {
				n, err := dbSink.Purge(ctx, time.Now().Add(-cfg.Audit.Retention))
				if err != nil {
					return err
				}
				logger.WithField("removed", n).Info("Purged expired audit decisions")
				return nil
			})
		}); err != nil {
			return fmt.Errorf("failed to schedule audit purge: %w", err)
		}
	}
	scheduler.Start()
	shutdown.Register("scheduler", func(ctx context.Context) error {
		select {
		case <-scheduler.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	// Public server
	handlers := transport.NewRegistry()
	registerHandlers(handlers)
	// Connections outlive the signal so Shutdown can send close frames
	wsServer := transport.NewServer(context.WithoutCancel(ctx), gw, hub, handlers, transport.Config{
		TrustProxy:     cfg.Server.TrustProxy,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		PingInterval:   cfg.Server.PingInterval,
		GuardInterval:  cfg.Session.GuardInterval,
	}, logger.WithField("component", "transport"), metrics)
	shutdown.Register("websocket connections", wsServer.Shutdown)

	router := mux.NewRouter()
	router.Use(
		httputil.RecoveryMiddleware(logger),
		httputil.RequestIDMiddleware(logger),
		httputil.MaxBytesMiddleware(1<<20),
		observability.HTTPMetricsMiddleware(metrics),
	)
	router.Handle("/ws", wsServer).Methods(http.MethodGet)
	resolve := transport.Resolver(gw, cfg.Server.TrustProxy)
	if auditStore, ok := sink.Store(); ok {
		audit.NewHandlers(auditStore).RegisterRoutes(router, rbac.RequireChain(resolve, adminChain(trail, metrics, store)))
	}
	gateway.NewAdminHandlers(gw).RegisterRoutes(router, rbac.RequireChain(resolve, limitsChain(trail, metrics, store)))

	public := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      otelhttp.NewHandler(router, "socketgate"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		ErrorLog:     log.New(logger.Writer(observability.WarnLevel), "", 0),
	}
	shutdown.Register("public server", public.Shutdown)

	// Health and metrics server
	healthRouter := mux.NewRouter()
	health := observability.NewHealthChecker(db, rdb)
	if redisLimiter != nil {
		health.AddCheck("rate_limiter", false, redisLimiter.HealthCheck)
	}
	health.RegisterHealthRoutes(healthRouter)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthRouter, registry)
	}
	healthServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           healthRouter,
		ReadHeaderTimeout: 5 * time.Second,
	}
	shutdown.Register("health server", healthServer.Shutdown)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", public.Addr).Info("Gateway listening")
		return serve(public)
	})
	g.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("Health server listening")
		return serve(healthServer)
	})
	if relay != nil {
		g.Go(func() error { return relay.Relay(gctx, hub) })
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		return shutdown.Shutdown(context.Background())
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Gateway stopped")
	return nil
}

func serve(s *http.Server) error {
	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server %s: %w", s.Addr, err)
	}
	return nil
}
