// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings. Per-event throttle policies live in a
// separate YAML file that is reloaded when it changes.
//
// # Configuration Structure
//
// Server settings:
//
//	SOCKETGATE_HOST="0.0.0.0"
//	SOCKETGATE_PORT="8080"
//	SOCKETGATE_HEALTH_PORT="9090"
//	SOCKETGATE_TRUST_PROXY="false"
//	SOCKETGATE_ALLOWED_ORIGINS="https://app.example.org"
//	SOCKETGATE_PING_INTERVAL="30s"
//
// Token and limits:
//
//	SOCKETGATE_JWT_SECRET="..."           # required
//	SOCKETGATE_JWT_ISSUER="socketgate"
//	SOCKETGATE_CONNECT_MAX_ATTEMPTS="10"
//	SOCKETGATE_CONNECT_WINDOW="15m"
//	SOCKETGATE_PENALIZE_UNKNOWN_USER="true"
//	SOCKETGATE_DISTRIBUTED_LIMITS="false" # requires SOCKETGATE_REDIS_URL
//	SOCKETGATE_EVENT_LIMITS_FILE="/etc/socketgate/limits.yaml"
//	SOCKETGATE_SESSION_GUARD_INTERVAL="1m"
//	SOCKETGATE_SENSITIVE_EVENTS="case:assign,report:sign"
//
// Storage settings:
//
//	SOCKETGATE_STORAGE_MODE="postgres"  # memory, postgres
//	SOCKETGATE_POSTGRES_URL="postgres://localhost/socketgate"
//	SOCKETGATE_REDIS_URL="redis://localhost:6379"
//
// Audit settings:
//
//	SOCKETGATE_AUDIT_PRODUCTION="true"
//	SOCKETGATE_AUDIT_FILE_DIR="/var/log/socketgate"
//	SOCKETGATE_AUDIT_DATABASE="true"
//	SOCKETGATE_AUDIT_RETENTION="2160h"
//
// Observability settings:
//
//	SOCKETGATE_LOG_LEVEL="info"  # debug, info, warn, error
//	SOCKETGATE_METRICS_ENABLED="true"
//	SOCKETGATE_OTEL_ENABLED="true"
//	SOCKETGATE_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	limits, err := config.LoadEventLimits(cfg.Limits.EventLimitsFile)
//	def, events := limits.Policies()
//	throttle.SetPolicies(def, events)
//
//	config.WatchEventLimits(ctx, cfg.Limits.EventLimitsFile, logger, func(l *config.EventLimits) {
//		throttle.SetPolicies(l.Policies())
//	})
package config
