// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health probes, and shutdown helpers for the gateway.
//
// # Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("conn_id", id).Info("connection admitted")
//
// Loggers travel in the context; FromContext adds conn_id, user_id and event
// when they are present.
//
// # Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.ObserveAuth("", time.Since(start))
//
// All recording helpers accept a nil *Metrics.
//
// # Health
//
//	checker := observability.NewHealthChecker(db, redisClient)
//	checker.RegisterHealthRoutes(router)
//
// # Tracing
//
//	tp, err := observability.InitTracing(ctx, cfg, logger)
//	defer observability.ShutdownTracing(ctx, tp, logger)
package observability
